package vulkan

import (
	stdmath "math"
	"testing"

	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/meshbuf/engine/core"
	"github.com/spaghettifunk/meshbuf/engine/renderer/device"
	"github.com/spaghettifunk/meshbuf/engine/renderer/device/memdevice"
)

func newStagingBuffer(t *testing.T, ctx device.Context, data []byte) *VulkanBuffer {
	t.Helper()
	b, err := NewVulkanBuffer(ctx, uint64(len(data)), stagingUsage, hostVisible|hostCoherent)
	require.NoError(t, err)
	require.NoError(t, b.LoadData(ctx, 0, data))
	return b
}

func TestNewVulkanBuffer(t *testing.T) {
	ctx := memdevice.New()

	b, err := NewVulkanBuffer(ctx, 100, stagingUsage, hostVisible|hostCoherent)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), b.Size)
	assert.GreaterOrEqual(t, b.MemorySize, b.Size)
	assert.Equal(t, uint32(1), b.MemoryIndex)
	assert.Equal(t, stagingUsage, b.Usage)

	calls := ctx.Calls()
	require.Len(t, calls, 3)
	assert.Equal(t, memdevice.OpCreateBuffer, calls[0].Op)
	assert.Equal(t, memdevice.OpAllocateMemory, calls[1].Op)
	assert.Equal(t, uint32(1), calls[1].Target)
	assert.Equal(t, memdevice.Call{Op: memdevice.OpBindBufferMemory, Object: uint32(b.Handle), Target: uint32(b.Memory)}, calls[2])

	typeIndex, err := ctx.BufferMemoryType(b.Handle)
	require.NoError(t, err)
	assert.Equal(t, b.MemoryIndex, typeIndex)
}

func TestNewVulkanBufferRejectsInvalidArguments(t *testing.T) {
	ctx := memdevice.New()

	_, err := NewVulkanBuffer(ctx, 0, stagingUsage, hostVisible)
	assert.ErrorIs(t, err, core.ErrBufferCreation)

	_, err = NewVulkanBuffer(ctx, 16, vk.BufferUsageFlags(vk.BufferUsageStorageBufferBit), hostVisible)
	assert.ErrorIs(t, err, core.ErrBufferCreation)

	_, err = NewVulkanBuffer(ctx, 16, 0, hostVisible)
	assert.ErrorIs(t, err, core.ErrBufferCreation)

	_, err = NewVulkanBuffer(ctx, 16, stagingUsage, hostCached)
	assert.ErrorIs(t, err, core.ErrBufferCreation)

	assert.Empty(t, ctx.Calls())
}

func TestNewVulkanBufferFailuresLeaveNothingBehind(t *testing.T) {
	injected := errors.New("injected")

	t.Run("create", func(t *testing.T) {
		ctx := memdevice.New()
		ctx.FailNext(memdevice.OpCreateBuffer, injected)
		b, err := NewVulkanBuffer(ctx, 64, stagingUsage, hostVisible)
		assert.Nil(t, b)
		assert.ErrorIs(t, err, core.ErrBufferCreation)
		assert.Equal(t, 0, ctx.LiveBuffers())
		assert.Empty(t, ctx.CallsOf(memdevice.OpAllocateMemory))
	})

	t.Run("allocate", func(t *testing.T) {
		ctx := memdevice.New()
		ctx.FailNext(memdevice.OpAllocateMemory, injected)
		b, err := NewVulkanBuffer(ctx, 64, stagingUsage, hostVisible)
		assert.Nil(t, b)
		assert.ErrorIs(t, err, core.ErrMemoryAllocation)
		assert.Len(t, ctx.CallsOf(memdevice.OpDestroyBuffer), 1)
		assert.Equal(t, 0, ctx.LiveBuffers())
		assert.Equal(t, 0, ctx.LiveAllocations())
	})

	t.Run("out of device memory", func(t *testing.T) {
		ctx := memdevice.New(memdevice.WithMemoryBudget(32))
		_, err := NewVulkanBuffer(ctx, 64, stagingUsage, hostVisible)
		assert.ErrorIs(t, err, core.ErrMemoryAllocation)
		assert.Equal(t, 0, ctx.LiveBuffers())
	})

	t.Run("bind", func(t *testing.T) {
		ctx := memdevice.New()
		ctx.FailNext(memdevice.OpBindBufferMemory, injected)
		_, err := NewVulkanBuffer(ctx, 64, stagingUsage, hostVisible)
		assert.ErrorIs(t, err, core.ErrMemoryAllocation)
		assert.Equal(t, 0, ctx.LiveBuffers())
		assert.Equal(t, 0, ctx.LiveAllocations())
	})

	t.Run("no compatible memory type", func(t *testing.T) {
		ctx := memdevice.New(memdevice.WithMemoryTypes(
			memType(deviceLocal),
			memType(hostVisible|hostCoherent),
		))
		_, err := NewVulkanBuffer(ctx, 64, vertexUsage, deviceLocal|hostVisible)
		assert.ErrorIs(t, err, core.ErrNoCompatibleMemoryType)
		assert.Len(t, ctx.CallsOf(memdevice.OpDestroyBuffer), 1)
		assert.Empty(t, ctx.CallsOf(memdevice.OpAllocateMemory))
		assert.Equal(t, 0, ctx.LiveBuffers())
	})
}

func TestLoadAndReadData(t *testing.T) {
	ctx := memdevice.New()
	b, err := NewVulkanBuffer(ctx, 8, stagingUsage, hostVisible|hostCoherent)
	require.NoError(t, err)

	require.NoError(t, b.LoadData(ctx, 2, []byte{0xAA, 0xBB}))
	got, err := b.ReadData(ctx, 0, 8)
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 0, 0xAA, 0xBB, 0, 0, 0, 0}, got)

	assert.ErrorIs(t, b.LoadData(ctx, 7, []byte{1, 2}), core.ErrCopyRange)
	_, err = b.ReadData(ctx, 4, 8)
	assert.ErrorIs(t, err, core.ErrCopyRange)

	// offset+size wraps around uint64
	assert.ErrorIs(t, b.LoadData(ctx, stdmath.MaxUint64-1, []byte{1, 2, 3, 4}), core.ErrCopyRange)
	_, err = b.ReadData(ctx, stdmath.MaxUint64-1, 4)
	assert.ErrorIs(t, err, core.ErrCopyRange)

	local, err := NewVulkanBuffer(ctx, 8, vertexUsage, deviceLocal)
	require.NoError(t, err)
	assert.ErrorIs(t, local.LoadData(ctx, 0, []byte{1}), core.ErrHostAccess)
	_, err = local.ReadData(ctx, 0, 1)
	assert.ErrorIs(t, err, core.ErrHostAccess)
}

func TestCopyToTransfersEveryByte(t *testing.T) {
	ctx := memdevice.New()
	data := make([]byte, 300)
	for i := range data {
		data[i] = byte(i * 7)
	}
	src := newStagingBuffer(t, ctx, data)
	dst, err := NewVulkanBuffer(ctx, 300, vertexUsage, deviceLocal)
	require.NoError(t, err)

	ctx.ResetCalls()
	require.NoError(t, src.CopyTo(ctx, dst))

	got, err := ctx.BufferContents(dst.Handle)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	transfer := ctx.QueueFamily(device.QueueKindTransfer)
	var ops []memdevice.Op
	for _, c := range ctx.Calls() {
		ops = append(ops, c.Op)
	}
	assert.Equal(t, []memdevice.Op{
		memdevice.OpAllocateCommandBuffer,
		memdevice.OpBeginCommandBuffer,
		memdevice.OpCmdCopyBuffer,
		memdevice.OpEndCommandBuffer,
		memdevice.OpQueueSubmit,
		memdevice.OpQueueWaitIdle,
		memdevice.OpFreeCommandBuffer,
	}, ops)
	assert.Equal(t, uint32(transfer.CommandPool), ctx.CallsOf(memdevice.OpAllocateCommandBuffer)[0].Target)
	assert.Equal(t, uint32(transfer.Queue), ctx.CallsOf(memdevice.OpQueueSubmit)[0].Target)
	assert.Equal(t, uint32(transfer.Queue), ctx.CallsOf(memdevice.OpQueueWaitIdle)[0].Object)
	assert.Equal(t, 0, ctx.LiveCommandBuffers())
}

func TestCopyToLargerDestination(t *testing.T) {
	ctx := memdevice.New()
	src := newStagingBuffer(t, ctx, []byte{1, 2, 3, 4})
	dst, err := NewVulkanBuffer(ctx, 16, vertexUsage, deviceLocal)
	require.NoError(t, err)

	require.NoError(t, src.CopyTo(ctx, dst))
	got, err := ctx.BufferContents(dst.Handle)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0}, got)
}

func TestCopyToRejectsSmallerDestination(t *testing.T) {
	ctx := memdevice.New()
	src := newStagingBuffer(t, ctx, make([]byte, 32))
	dst, err := NewVulkanBuffer(ctx, 16, vertexUsage, deviceLocal)
	require.NoError(t, err)

	ctx.ResetCalls()
	assert.ErrorIs(t, src.CopyTo(ctx, dst), core.ErrCopyRange)
	assert.Empty(t, ctx.Calls())
}

func TestCopyBufferWithOffsets(t *testing.T) {
	ctx := memdevice.New()
	src := newStagingBuffer(t, ctx, []byte{1, 2, 3, 4, 5, 6, 7, 8})
	dst, err := NewVulkanBuffer(ctx, 8, vertexUsage, deviceLocal)
	require.NoError(t, err)

	require.NoError(t, CopyBuffer(ctx, src, 4, dst, 2, 3))
	got, err := ctx.BufferContents(dst.Handle)
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 0, 5, 6, 7, 0, 0, 0}, got)

	ctx.ResetCalls()
	assert.ErrorIs(t, CopyBuffer(ctx, src, stdmath.MaxUint64-1, dst, 0, 4), core.ErrCopyRange)
	assert.ErrorIs(t, CopyBuffer(ctx, src, 0, dst, stdmath.MaxUint64-1, 4), core.ErrCopyRange)
	assert.ErrorIs(t, CopyBuffer(ctx, src, 0, dst, 0, stdmath.MaxUint64), core.ErrCopyRange)
	assert.Empty(t, ctx.CallsOf(memdevice.OpAllocateCommandBuffer))
}

func TestCopyToRecordsMetrics(t *testing.T) {
	core.MetricsReset()
	defer core.MetricsReset()

	ctx := memdevice.New()
	src := newStagingBuffer(t, ctx, make([]byte, 64))
	dst, err := NewVulkanBuffer(ctx, 64, vertexUsage, deviceLocal)
	require.NoError(t, err)

	require.NoError(t, src.CopyTo(ctx, dst))
	count, bytes, _ := core.MetricsTransfers()
	assert.Equal(t, uint64(1), count)
	assert.Equal(t, uint64(64), bytes)
}

func TestCopyToSubmitFailureFreesCommandBuffer(t *testing.T) {
	ctx := memdevice.New()
	src := newStagingBuffer(t, ctx, make([]byte, 8))
	dst, err := NewVulkanBuffer(ctx, 8, vertexUsage, deviceLocal)
	require.NoError(t, err)

	ctx.FailNext(memdevice.OpQueueSubmit, errors.New("device lost"))
	assert.ErrorIs(t, src.CopyTo(ctx, dst), core.ErrQueueSubmit)
	assert.Equal(t, 0, ctx.LiveCommandBuffers())
	assert.Len(t, ctx.CallsOf(memdevice.OpFreeCommandBuffer), 1)
}

func TestDestroyReleasesBufferThenMemory(t *testing.T) {
	ctx := memdevice.New()
	b, err := NewVulkanBuffer(ctx, 8, stagingUsage, hostVisible)
	require.NoError(t, err)
	handle, memory := b.Handle, b.Memory

	ctx.ResetCalls()
	b.Destroy(ctx)
	assert.Equal(t, []memdevice.Call{
		{Op: memdevice.OpDestroyBuffer, Object: uint32(handle)},
		{Op: memdevice.OpFreeMemory, Object: uint32(memory)},
	}, ctx.Calls())
	assert.True(t, b.IsReleased())
	assert.Equal(t, device.NullBuffer, b.Handle)
	assert.Equal(t, device.NullMemory, b.Memory)
	assert.Equal(t, 0, ctx.LiveBuffers())
	assert.Equal(t, 0, ctx.LiveAllocations())

	b.Destroy(ctx)
	assert.Len(t, ctx.Calls(), 2)

	assert.ErrorIs(t, b.LoadData(ctx, 0, []byte{1}), core.ErrBufferReleased)
	other := newStagingBuffer(t, ctx, []byte{1})
	assert.ErrorIs(t, other.CopyTo(ctx, b), core.ErrBufferReleased)
	assert.ErrorIs(t, b.CopyTo(ctx, other), core.ErrBufferReleased)
}

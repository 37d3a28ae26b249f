package vulkan

import (
	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/meshbuf/engine/core"
	"github.com/spaghettifunk/meshbuf/engine/renderer/device"
)

const (
	supportedBufferUsage = vk.BufferUsageFlags(vk.BufferUsageVertexBufferBit |
		vk.BufferUsageIndexBufferBit |
		vk.BufferUsageUniformBufferBit |
		vk.BufferUsageTransferSrcBit |
		vk.BufferUsageTransferDstBit)

	supportedMemoryProperties = vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit |
		vk.MemoryPropertyHostVisibleBit |
		vk.MemoryPropertyHostCoherentBit)
)

/**
 * @brief A buffer object together with the device memory it is bound to.
 * A VulkanBuffer is the only owner of both handles.
 */
type VulkanBuffer struct {
	/** @brief The handle of the buffer object. */
	Handle device.BufferHandle
	/** @brief The memory bound to the buffer. */
	Memory device.MemoryHandle
	/** @brief The size the buffer was requested with, in bytes. */
	Size uint64
	/** @brief The size of the memory allocation. May be larger than Size. */
	MemorySize uint64
	/** @brief The usage flags the buffer was created with. */
	Usage vk.BufferUsageFlags
	/** @brief The memory property flags requested for the allocation. */
	MemoryPropertyFlags vk.MemoryPropertyFlags
	/** @brief The index of the memory type used by the allocation. */
	MemoryIndex uint32

	released bool
}

// NewVulkanBuffer creates a buffer of size bytes, allocates memory of a type
// carrying properties and binds it at offset 0. Nothing is left allocated
// on failure.
func NewVulkanBuffer(ctx device.Context, size uint64, usage vk.BufferUsageFlags, properties vk.MemoryPropertyFlags) (*VulkanBuffer, error) {
	if size == 0 {
		err := errors.Wrap(core.ErrBufferCreation, "buffer size must be greater than zero")
		core.LogError(err.Error())
		return nil, err
	}
	if usage == 0 || usage&^supportedBufferUsage != 0 {
		err := errors.Wrapf(core.ErrBufferCreation, "unsupported buffer usage %#x", uint32(usage))
		core.LogError(err.Error())
		return nil, err
	}
	if properties&^supportedMemoryProperties != 0 {
		err := errors.Wrapf(core.ErrBufferCreation, "unsupported memory properties %#x", uint32(properties))
		core.LogError(err.Error())
		return nil, err
	}

	handle, err := ctx.CreateBuffer(size, usage)
	if err != nil {
		err = errors.Wrapf(core.ErrBufferCreation, "size=%d usage=%#x: %v", size, uint32(usage), err)
		core.LogError(err.Error())
		return nil, err
	}

	// Gather memory requirements.
	requirements := ctx.BufferMemoryRequirements(handle)
	memoryIndex, err := FindMemoryIndex(ctx.MemoryTypes(), requirements.MemoryTypeBits, properties)
	if err != nil {
		ctx.DestroyBuffer(handle)
		return nil, err
	}

	var memory device.MemoryHandle
	err = lockPool.SafeCall(MemoryManagement, func() error {
		m, err := ctx.AllocateMemory(requirements.Size, memoryIndex)
		memory = m
		return err
	})
	if err != nil {
		ctx.DestroyBuffer(handle)
		err = errors.Wrapf(core.ErrMemoryAllocation, "size=%d type=%d: %v", requirements.Size, memoryIndex, err)
		core.LogError(err.Error())
		return nil, err
	}

	if err := ctx.BindBufferMemory(handle, memory, 0); err != nil {
		ctx.DestroyBuffer(handle)
		ctx.FreeMemory(memory)
		err = errors.Wrapf(core.ErrMemoryAllocation, "failed to bind buffer memory: %v", err)
		core.LogError(err.Error())
		return nil, err
	}

	return &VulkanBuffer{
		Handle:              handle,
		Memory:              memory,
		Size:                size,
		MemorySize:          requirements.Size,
		Usage:               usage,
		MemoryPropertyFlags: properties,
		MemoryIndex:         memoryIndex,
	}, nil
}

func (vb *VulkanBuffer) IsReleased() bool {
	return vb.released
}

func (vb *VulkanBuffer) checkLive() error {
	if vb.released {
		err := errors.Wrapf(core.ErrBufferReleased, "buffer %d", vb.Handle)
		core.LogError(err.Error())
		return err
	}
	return nil
}

// Destroy destroys the buffer object, then frees its memory. Calling it
// again does nothing.
func (vb *VulkanBuffer) Destroy(ctx device.Context) {
	if vb.released {
		return
	}
	ctx.DestroyBuffer(vb.Handle)
	_ = lockPool.SafeCall(MemoryManagement, func() error {
		ctx.FreeMemory(vb.Memory)
		return nil
	})
	vb.Handle = device.NullBuffer
	vb.Memory = device.NullMemory
	vb.Size = 0
	vb.MemorySize = 0
	vb.Usage = 0
	vb.MemoryPropertyFlags = 0
	vb.released = true
}

// CopyTo copies the whole buffer into dst starting at offset 0 on both sides.
func (vb *VulkanBuffer) CopyTo(ctx device.Context, dst *VulkanBuffer) error {
	return CopyBuffer(ctx, vb, 0, dst, 0, vb.Size)
}

// CopyBuffer records a single-region copy in a transfer command buffer,
// submits it and blocks until the transfer queue is idle.
func CopyBuffer(ctx device.Context, src *VulkanBuffer, srcOffset uint64, dst *VulkanBuffer, dstOffset uint64, size uint64) error {
	if err := src.checkLive(); err != nil {
		return err
	}
	if err := dst.checkLive(); err != nil {
		return err
	}
	if !inRange(srcOffset, size, src.Size) || !inRange(dstOffset, size, dst.Size) {
		err := errors.Wrapf(core.ErrCopyRange, "copy of %d bytes from [%d of %d] to [%d of %d]", size, srcOffset, src.Size, dstOffset, dst.Size)
		core.LogError(err.Error())
		return err
	}

	clock := core.NewClock()
	clock.Start()

	cb, err := AllocateAndBeginSingleUse(ctx, CommandOperationTransfer)
	if err != nil {
		return err
	}
	region := device.BufferCopy{
		SrcOffset: srcOffset,
		DstOffset: dstOffset,
		Size:      size,
	}
	if err := cb.CopyBuffer(ctx, src.Handle, dst.Handle, region); err != nil {
		cb.Free(ctx)
		return err
	}
	if err := cb.EndSingleUse(ctx); err != nil {
		return err
	}

	clock.Update()
	core.MetricsRecordTransfer(size, clock.Elapsed())
	return nil
}

// inRange reports whether [offset, offset+size) fits in limit without
// computing offset+size.
func inRange(offset, size, limit uint64) bool {
	return size <= limit && offset <= limit-size
}

func (vb *VulkanBuffer) checkHostWindow(offset, size uint64) error {
	if err := vb.checkLive(); err != nil {
		return err
	}
	if !hasProperty(vb.MemoryPropertyFlags, vk.MemoryPropertyHostVisibleBit) {
		err := errors.Wrapf(core.ErrHostAccess, "buffer %d", vb.Handle)
		core.LogError(err.Error())
		return err
	}
	if !inRange(offset, size, vb.Size) {
		err := errors.Wrapf(core.ErrCopyRange, "window of %d bytes at %d in a %d byte buffer", size, offset, vb.Size)
		core.LogError(err.Error())
		return err
	}
	return nil
}

// LoadData writes data into a host visible buffer at offset.
func (vb *VulkanBuffer) LoadData(ctx device.Context, offset uint64, data []byte) error {
	size := uint64(len(data))
	if err := vb.checkHostWindow(offset, size); err != nil {
		return err
	}
	if size == 0 {
		return nil
	}
	mapped, err := ctx.MapMemory(vb.Memory, offset, size)
	if err != nil {
		err = errors.Wrapf(core.ErrHostAccess, "failed to map buffer memory: %v", err)
		core.LogError(err.Error())
		return err
	}
	copy(mapped, data)
	ctx.UnmapMemory(vb.Memory)
	return nil
}

// ReadData returns a copy of size bytes of a host visible buffer at offset.
func (vb *VulkanBuffer) ReadData(ctx device.Context, offset, size uint64) ([]byte, error) {
	if err := vb.checkHostWindow(offset, size); err != nil {
		return nil, err
	}
	out := make([]byte, size)
	if size == 0 {
		return out, nil
	}
	mapped, err := ctx.MapMemory(vb.Memory, offset, size)
	if err != nil {
		err = errors.Wrapf(core.ErrHostAccess, "failed to map buffer memory: %v", err)
		core.LogError(err.Error())
		return nil, err
	}
	copy(out, mapped)
	ctx.UnmapMemory(vb.Memory)
	return out, nil
}

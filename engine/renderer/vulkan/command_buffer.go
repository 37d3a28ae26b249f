package vulkan

import (
	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/meshbuf/engine/core"
	"github.com/spaghettifunk/meshbuf/engine/renderer/device"
)

type VulkanCommandBufferState int

const (
	COMMAND_BUFFER_STATE_READY VulkanCommandBufferState = iota
	COMMAND_BUFFER_STATE_RECORDING
	COMMAND_BUFFER_STATE_RECORDING_ENDED
	COMMAND_BUFFER_STATE_SUBMITTED
	COMMAND_BUFFER_STATE_NOT_ALLOCATED
)

// CommandOperation selects the queue family a command buffer is recorded
// for. Transfer work goes to the transfer family, everything else to the
// graphics family.
type CommandOperation int

const (
	CommandOperationTransfer CommandOperation = iota
	CommandOperationGraphics
	// Compute work shares the graphics family.
	CommandOperationCompute
)

func (op CommandOperation) QueueKind() device.QueueKind {
	if op == CommandOperationTransfer {
		return device.QueueKindTransfer
	}
	return device.QueueKindGraphics
}

type VulkanCommandBuffer struct {
	Handle    device.CommandBufferHandle
	Operation CommandOperation
	// Queue family the buffer was allocated from and is submitted to.
	Family device.QueueFamily
	// Command buffer state.
	State VulkanCommandBufferState
}

// NewVulkanCommandBuffer allocates one primary command buffer from the pool
// of the family that serves op.
func NewVulkanCommandBuffer(ctx device.Context, op CommandOperation) (*VulkanCommandBuffer, error) {
	vCommandBuffer := &VulkanCommandBuffer{
		Operation: op,
		Family:    ctx.QueueFamily(op.QueueKind()),
		State:     COMMAND_BUFFER_STATE_NOT_ALLOCATED,
	}

	err := lockPool.SafeCall(CommandPoolManagement, func() error {
		handle, err := ctx.AllocateCommandBuffer(vCommandBuffer.Family.CommandPool)
		if err != nil {
			return err
		}
		vCommandBuffer.Handle = handle
		return nil
	})
	if err != nil {
		err = errors.Wrapf(core.ErrCommandBuffer, "failed to allocate %s command buffer: %v", op.QueueKind(), err)
		core.LogError(err.Error())
		return nil, err
	}
	vCommandBuffer.State = COMMAND_BUFFER_STATE_READY

	return vCommandBuffer, nil
}

// Free returns the command buffer to its pool. Safe to call more than once.
func (v *VulkanCommandBuffer) Free(ctx device.Context) {
	if v.State == COMMAND_BUFFER_STATE_NOT_ALLOCATED {
		return
	}
	_ = lockPool.SafeCall(CommandPoolManagement, func() error {
		ctx.FreeCommandBuffer(v.Family.CommandPool, v.Handle)
		return nil
	})
	v.Handle = device.NullCommandBuffer
	v.State = COMMAND_BUFFER_STATE_NOT_ALLOCATED
}

func (v *VulkanCommandBuffer) Begin(ctx device.Context, isSingleUse bool) error {
	if v.State != COMMAND_BUFFER_STATE_READY {
		err := errors.Wrapf(core.ErrCommandBuffer, "cannot begin command buffer in state %d", v.State)
		core.LogError(err.Error())
		return err
	}

	var flags vk.CommandBufferUsageFlags
	if isSingleUse {
		flags |= vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit)
	}

	if err := ctx.BeginCommandBuffer(v.Handle, flags); err != nil {
		err = errors.Wrapf(core.ErrCommandBuffer, "failed to begin command buffer: %v", err)
		core.LogError(err.Error())
		return err
	}
	v.State = COMMAND_BUFFER_STATE_RECORDING

	return nil
}

// CopyBuffer records a buffer to buffer copy.
func (v *VulkanCommandBuffer) CopyBuffer(ctx device.Context, src, dst device.BufferHandle, regions ...device.BufferCopy) error {
	if v.State != COMMAND_BUFFER_STATE_RECORDING {
		err := errors.Wrapf(core.ErrCommandBuffer, "cannot record a copy in state %d", v.State)
		core.LogError(err.Error())
		return err
	}
	ctx.CmdCopyBuffer(v.Handle, src, dst, regions)
	return nil
}

func (v *VulkanCommandBuffer) End(ctx device.Context) error {
	if err := ctx.EndCommandBuffer(v.Handle); err != nil {
		err = errors.Wrapf(core.ErrCommandBuffer, "failed to end command buffer: %v", err)
		core.LogError(err.Error())
		return err
	}
	v.State = COMMAND_BUFFER_STATE_RECORDING_ENDED
	return nil
}

func (v *VulkanCommandBuffer) UpdateSubmitted() {
	v.State = COMMAND_BUFFER_STATE_SUBMITTED
}

/**
 * Allocates a command buffer for op and begins recording it for a single submission.
 */
func AllocateAndBeginSingleUse(ctx device.Context, op CommandOperation) (*VulkanCommandBuffer, error) {
	cb, err := NewVulkanCommandBuffer(ctx, op)
	if err != nil {
		return nil, err
	}
	if err := cb.Begin(ctx, true); err != nil {
		cb.Free(ctx)
		return nil, err
	}
	return cb, nil
}

/**
 * Ends recording, submits to and waits for the queue of the command buffer's family,
 * then frees the command buffer. The buffer is freed on failure as well.
 */
func (v *VulkanCommandBuffer) EndSingleUse(ctx device.Context) error {
	defer v.Free(ctx)

	if err := v.End(ctx); err != nil {
		return err
	}

	return lockPool.SafeQueueCall(v.Family.Index, func() error {
		if err := ctx.QueueSubmit(v.Family.Queue, v.Handle); err != nil {
			err = errors.Wrapf(core.ErrQueueSubmit, "failed to submit to %s queue: %v", v.Operation.QueueKind(), err)
			core.LogError(err.Error())
			return err
		}
		v.UpdateSubmitted()

		// Wait for it to finish
		if err := ctx.QueueWaitIdle(v.Family.Queue); err != nil {
			err = errors.Wrapf(core.ErrQueueSubmit, "%s queue failed to wait in idle mode: %v", v.Operation.QueueKind(), err)
			core.LogError(err.Error())
			return err
		}
		return nil
	})
}

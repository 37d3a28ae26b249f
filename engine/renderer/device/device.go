// Package device describes the device context the buffer and command code
// runs against. It owns nothing: a context hands out opaque handles for
// buffers, memory and command buffers and exposes the queue families
// (queue + command pool) the transient command sequences submit to.
package device

import (
	vk "github.com/goki/vulkan"
)

type (
	BufferHandle        uint32
	MemoryHandle        uint32
	CommandBufferHandle uint32
	CommandPoolHandle   uint32
	QueueHandle         uint32
)

const (
	NullBuffer        BufferHandle        = 0
	NullMemory        MemoryHandle        = 0
	NullCommandBuffer CommandBufferHandle = 0
)

type QueueKind int

const (
	QueueKindTransfer QueueKind = iota
	QueueKindGraphics
)

func (k QueueKind) String() string {
	if k == QueueKindTransfer {
		return "transfer"
	}
	return "graphics"
}

// QueueFamily is the queue and command pool of one queue family.
type QueueFamily struct {
	Index       uint32
	Queue       QueueHandle
	CommandPool CommandPoolHandle
}

// MemoryType is one entry of the physical device memory type table.
type MemoryType struct {
	PropertyFlags vk.MemoryPropertyFlags
	HeapIndex     uint32
}

type MemoryRequirements struct {
	Size           uint64
	Alignment      uint64
	MemoryTypeBits uint32
}

type BufferCopy struct {
	SrcOffset uint64
	DstOffset uint64
	Size      uint64
}

// Context is the device collaborator. Implementations are not safe for
// concurrent submission on the same queue family.
type Context interface {
	// MemoryTypes returns the memory type table of the physical device.
	MemoryTypes() []MemoryType
	QueueFamily(kind QueueKind) QueueFamily

	CreateBuffer(size uint64, usage vk.BufferUsageFlags) (BufferHandle, error)
	BufferMemoryRequirements(buffer BufferHandle) MemoryRequirements
	AllocateMemory(size uint64, memoryTypeIndex uint32) (MemoryHandle, error)
	BindBufferMemory(buffer BufferHandle, memory MemoryHandle, offset uint64) error
	// MapMemory returns a view of size bytes starting at offset. The view is
	// only valid until UnmapMemory.
	MapMemory(memory MemoryHandle, offset, size uint64) ([]byte, error)
	UnmapMemory(memory MemoryHandle)
	DestroyBuffer(buffer BufferHandle)
	FreeMemory(memory MemoryHandle)

	AllocateCommandBuffer(pool CommandPoolHandle) (CommandBufferHandle, error)
	BeginCommandBuffer(cmd CommandBufferHandle, flags vk.CommandBufferUsageFlags) error
	CmdCopyBuffer(cmd CommandBufferHandle, src, dst BufferHandle, regions []BufferCopy)
	EndCommandBuffer(cmd CommandBufferHandle) error
	QueueSubmit(queue QueueHandle, cmd CommandBufferHandle) error
	QueueWaitIdle(queue QueueHandle) error
	FreeCommandBuffer(pool CommandPoolHandle, cmd CommandBufferHandle)
}

// AlignUp rounds operand up to the next multiple of granularity, which must
// be a power of two.
func AlignUp(operand, granularity uint64) uint64 {
	if granularity == 0 {
		return operand
	}
	return (operand + (granularity - 1)) &^ (granularity - 1)
}

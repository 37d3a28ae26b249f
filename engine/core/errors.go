package core

import (
	"github.com/cockroachdb/errors"
)

var (
	// ErrBufferCreation is returned when the device refuses to create a buffer object.
	ErrBufferCreation = errors.New("failed to create buffer")
	// ErrMemoryAllocation is returned when a device memory allocation or bind fails.
	ErrMemoryAllocation = errors.New("failed to allocate buffer memory")
	// ErrNoCompatibleMemoryType is returned when no memory type satisfies
	// both the type filter and the requested property flags.
	ErrNoCompatibleMemoryType = errors.New("failed to find suitable memory type")
	// ErrModelParse wraps every model description decoding failure.
	ErrModelParse = errors.New("failed to parse model")
	// ErrBufferReleased is returned by operations on a destroyed buffer.
	ErrBufferReleased = errors.New("buffer already released")
	ErrCommandBuffer  = errors.New("command buffer failure")
	ErrQueueSubmit    = errors.New("queue submission failure")
	ErrHostAccess     = errors.New("buffer memory is not host accessible")
	// ErrCopyRange is returned when a copy or host access window does not
	// fit inside the buffers involved.
	ErrCopyRange    = errors.New("copy range exceeds buffer")
	ErrInvalidFrame = errors.New("frame index out of range")
	ErrUnknown      = errors.New("unknown")
)

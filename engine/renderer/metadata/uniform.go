package metadata

import (
	"unsafe"

	"github.com/spaghettifunk/meshbuf/engine/math"
)

/**
 * @brief One snapshot of the transform state handed to shaders each frame.
 */
type UniformBufferObject struct {
	Model      math.Mat4
	View       math.Mat4
	Projection math.Mat4
}

/** @brief The size in bytes of a UniformBufferObject (3 * 64). */
const UniformBufferObjectSize = uint64(unsafe.Sizeof(UniformBufferObject{}))

func NewUniformBufferObject() UniformBufferObject {
	return UniformBufferObject{
		Model:      math.NewMat4Identity(),
		View:       math.NewMat4Identity(),
		Projection: math.NewMat4Identity(),
	}
}

// Bytes views the snapshot as raw bytes. The slice aliases u.
func (u *UniformBufferObject) Bytes() []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(u)), UniformBufferObjectSize)
}

package metadata

import (
	"encoding/binary"
	"hash/fnv"
	m "math"
	"unsafe"

	"github.com/spaghettifunk/meshbuf/engine/math"
)

/** @brief The size in bytes of one Vertex as laid out in a vertex buffer. */
const VertexSize = uint32(unsafe.Sizeof(Vertex{}))

/**
 * @brief Represents a single mesh vertex as consumed by the renderer.
 * Position and colour are 3 component, the texture coordinate 2 component.
 */
type Vertex struct {
	/** @brief The position of the vertex */
	Position math.Vec3
	/** @brief The texture coordinate of the vertex. */
	Texcoord math.Vec2
	/** @brief The colour of the vertex. */
	Color math.Vec3
}

func (v Vertex) components() [8]float32 {
	return [8]float32{
		v.Position.X, v.Position.Y, v.Position.Z,
		v.Texcoord.X, v.Texcoord.Y,
		v.Color.X, v.Color.Y, v.Color.Z,
	}
}

// Equal reports whether both vertices hold the same bit patterns in every
// component. No tolerance is applied, so 0.0 and -0.0 are different vertices.
func (v Vertex) Equal(other Vertex) bool {
	a, b := v.components(), other.components()
	for i := range a {
		if m.Float32bits(a[i]) != m.Float32bits(b[i]) {
			return false
		}
	}
	return true
}

// Hash is a FNV-1a digest over the exact bit patterns of all components.
// Equal vertices always share a hash.
func (v Vertex) Hash() uint64 {
	var buf [32]byte
	for i, c := range v.components() {
		binary.LittleEndian.PutUint32(buf[i*4:], m.Float32bits(c))
	}
	h := fnv.New64a()
	_, _ = h.Write(buf[:]) // fnv.Write never returns an error
	return h.Sum64()
}

// VerticesBytes views the vertex slice as raw bytes for upload.
func VerticesBytes(vertices []Vertex) []byte {
	if len(vertices) == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(&vertices[0])), len(vertices)*int(VertexSize))
}

// IndicesBytes views the index slice as raw bytes for upload.
func IndicesBytes(indices []uint32) []byte {
	if len(indices) == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(&indices[0])), len(indices)*4)
}

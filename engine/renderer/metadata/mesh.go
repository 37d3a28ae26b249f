package metadata

import (
	"github.com/spaghettifunk/meshbuf/engine/math"
)

/**
 * @brief The deduplicated geometry of a single mesh. Every index points
 * into Vertices and the index order is the draw order of the source.
 */
type MeshData struct {
	/** @brief The name of the mesh, usually the source file name. */
	Name string
	/** @brief Unique vertices. */
	Vertices []Vertex
	/** @brief Indices into Vertices, one per vertex reference of the source. */
	Indices []uint32
	/** @brief The center of the geometry in local coordinates. */
	Center math.Vec3
	/** @brief The extents of the geometry in local coordinates. */
	Extents math.Extents3D
}

func (md *MeshData) VertexCount() uint32 {
	return uint32(len(md.Vertices))
}

func (md *MeshData) IndexCount() uint32 {
	return uint32(len(md.Indices))
}

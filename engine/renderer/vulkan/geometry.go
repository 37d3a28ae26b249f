package vulkan

import (
	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/meshbuf/engine/core"
	"github.com/spaghettifunk/meshbuf/engine/renderer/device"
	"github.com/spaghettifunk/meshbuf/engine/renderer/metadata"
)

/**
 * @brief Device local vertex and index buffers of one mesh.
 */
type VulkanGeometry struct {
	/** @brief The vertex buffer. */
	Vertices *VulkanBuffer
	/** @brief The index buffer. Nil when the geometry is not indexed. */
	Indices *VulkanBuffer
	/** @brief The vertex count. */
	VertexCount uint32
	/** @brief The size of each vertex. */
	VertexElementSize uint32
	/** @brief The index count. */
	IndexCount uint32
	/** @brief The size of each index. */
	IndexElementSize uint32
}

// UploadGeometry copies the mesh into device local vertex and index buffers
// through host visible staging buffers.
func UploadGeometry(ctx device.Context, mesh *metadata.MeshData) (*VulkanGeometry, error) {
	if mesh == nil || len(mesh.Vertices) == 0 {
		err := errors.Wrap(core.ErrBufferCreation, "geometry has no vertices")
		core.LogError(err.Error())
		return nil, err
	}

	vertices, err := uploadDataRange(ctx, vk.BufferUsageVertexBufferBit, metadata.VerticesBytes(mesh.Vertices))
	if err != nil {
		return nil, err
	}

	geometry := &VulkanGeometry{
		Vertices:          vertices,
		VertexCount:       mesh.VertexCount(),
		VertexElementSize: metadata.VertexSize,
		IndexElementSize:  4,
	}

	if len(mesh.Indices) > 0 {
		indices, err := uploadDataRange(ctx, vk.BufferUsageIndexBufferBit, metadata.IndicesBytes(mesh.Indices))
		if err != nil {
			vertices.Destroy(ctx)
			return nil, err
		}
		geometry.Indices = indices
		geometry.IndexCount = mesh.IndexCount()
	}

	return geometry, nil
}

// uploadDataRange creates a device local buffer with the given usage plus
// transfer-dst and fills it from a temporary staging buffer.
func uploadDataRange(ctx device.Context, usage vk.BufferUsageFlagBits, data []byte) (*VulkanBuffer, error) {
	size := uint64(len(data))

	staging, err := NewVulkanBuffer(
		ctx,
		size,
		vk.BufferUsageFlags(vk.BufferUsageTransferSrcBit),
		vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit|vk.MemoryPropertyHostCoherentBit),
	)
	if err != nil {
		return nil, err
	}
	defer staging.Destroy(ctx)

	if err := staging.LoadData(ctx, 0, data); err != nil {
		return nil, err
	}

	target, err := NewVulkanBuffer(
		ctx,
		size,
		vk.BufferUsageFlags(usage|vk.BufferUsageTransferDstBit),
		vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit),
	)
	if err != nil {
		return nil, err
	}

	if err := staging.CopyTo(ctx, target); err != nil {
		target.Destroy(ctx)
		return nil, err
	}
	return target, nil
}

func (g *VulkanGeometry) Destroy(ctx device.Context) {
	if g.Vertices != nil {
		g.Vertices.Destroy(ctx)
		g.Vertices = nil
	}
	if g.Indices != nil {
		g.Indices.Destroy(ctx)
		g.Indices = nil
	}
	g.VertexCount = 0
	g.IndexCount = 0
}

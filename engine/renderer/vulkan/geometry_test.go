package vulkan

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/meshbuf/engine/core"
	"github.com/spaghettifunk/meshbuf/engine/math"
	"github.com/spaghettifunk/meshbuf/engine/renderer/device/memdevice"
	"github.com/spaghettifunk/meshbuf/engine/renderer/metadata"
)

func quadMesh() *metadata.MeshData {
	white := math.NewVec3One()
	return &metadata.MeshData{
		Name: "quad",
		Vertices: []metadata.Vertex{
			{Position: math.NewVec3(0, 0, 0), Texcoord: math.NewVec2(0, 1), Color: white},
			{Position: math.NewVec3(1, 0, 0), Texcoord: math.NewVec2(1, 1), Color: white},
			{Position: math.NewVec3(1, 1, 0), Texcoord: math.NewVec2(1, 0), Color: white},
			{Position: math.NewVec3(0, 1, 0), Texcoord: math.NewVec2(0, 0), Color: white},
		},
		Indices: []uint32{0, 1, 2, 0, 2, 3},
	}
}

func TestUploadGeometry(t *testing.T) {
	ctx := memdevice.New()
	mesh := quadMesh()

	g, err := UploadGeometry(ctx, mesh)
	require.NoError(t, err)
	assert.Equal(t, uint32(4), g.VertexCount)
	assert.Equal(t, uint32(6), g.IndexCount)
	assert.Equal(t, metadata.VertexSize, g.VertexElementSize)
	assert.Equal(t, deviceLocal, g.Vertices.MemoryPropertyFlags)
	assert.Equal(t, deviceLocal, g.Indices.MemoryPropertyFlags)

	vertices, err := ctx.BufferContents(g.Vertices.Handle)
	require.NoError(t, err)
	assert.Equal(t, metadata.VerticesBytes(mesh.Vertices), vertices)

	indices, err := ctx.BufferContents(g.Indices.Handle)
	require.NoError(t, err)
	assert.Equal(t, metadata.IndicesBytes(mesh.Indices), indices)

	// Staging buffers are gone once the copies are done.
	assert.Equal(t, 2, ctx.LiveBuffers())
	assert.Equal(t, 2, ctx.LiveAllocations())

	g.Destroy(ctx)
	assert.Equal(t, 0, ctx.LiveBuffers())
	assert.Equal(t, 0, ctx.LiveAllocations())
}

func TestUploadGeometryWithoutIndices(t *testing.T) {
	ctx := memdevice.New()
	mesh := quadMesh()
	mesh.Indices = nil

	g, err := UploadGeometry(ctx, mesh)
	require.NoError(t, err)
	assert.Nil(t, g.Indices)
	assert.Equal(t, uint32(0), g.IndexCount)
	assert.Equal(t, 1, ctx.LiveBuffers())
}

func TestUploadGeometryRejectsEmptyMesh(t *testing.T) {
	ctx := memdevice.New()
	_, err := UploadGeometry(ctx, &metadata.MeshData{})
	assert.ErrorIs(t, err, core.ErrBufferCreation)
	_, err = UploadGeometry(ctx, nil)
	assert.ErrorIs(t, err, core.ErrBufferCreation)
}

func TestUploadGeometryIndexFailureReleasesVertices(t *testing.T) {
	ctx := memdevice.New()
	// Vertex staging and target allocations succeed, the index staging
	// allocation fails.
	ctx.FailAfter(memdevice.OpAllocateMemory, 2, errors.New("out of memory"))

	_, err := UploadGeometry(ctx, quadMesh())
	assert.ErrorIs(t, err, core.ErrMemoryAllocation)
	assert.Equal(t, 0, ctx.LiveBuffers())
	assert.Equal(t, 0, ctx.LiveAllocations())
}

func TestUploadGeometryCopyFailureReleasesTarget(t *testing.T) {
	ctx := memdevice.New()
	ctx.FailNext(memdevice.OpQueueSubmit, errors.New("submit failed"))

	_, err := UploadGeometry(ctx, quadMesh())
	assert.ErrorIs(t, err, core.ErrQueueSubmit)
	assert.Equal(t, 0, ctx.LiveBuffers())
	assert.Equal(t, 0, ctx.LiveAllocations())
	assert.Equal(t, 0, ctx.LiveCommandBuffers())
}

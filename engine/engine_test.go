package engine

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/meshbuf/engine/renderer/device/memdevice"
	"github.com/spaghettifunk/meshbuf/engine/renderer/metadata"
)

const quadObj = `v 0 0 0
v 1 0 0
v 1 1 0
v 0 1 0
vt 0 0
vt 1 0
vt 1 1
vt 0 1
f 1/1 2/2 3/3 4/4
`

const triangleObj = `v 0 0 0
v 2 0 0
v 0 2 0
vt 0 0
f 1/1 2/1 3/1
`

func memoryConfig(t *testing.T, watch bool) (*Config, string) {
	t.Helper()
	dir := t.TempDir()
	model := filepath.Join(dir, "quad.obj")
	require.NoError(t, os.WriteFile(model, []byte(quadObj), 0o644))

	cfg := DefaultConfig()
	cfg.Renderer.Backend = BackendMemory
	cfg.Assets = AssetsConfig{Directory: dir, Watch: watch}
	cfg.Meshes = []MeshConfig{{Name: "quad", Model: model}}
	return cfg, model
}

func TestEngineLoadsConfiguredMeshes(t *testing.T) {
	cfg, _ := memoryConfig(t, false)
	e, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, e.Initialize())
	assert.Equal(t, EngineStageInitialized, e.Stage())

	mesh, ok := e.Mesh("quad")
	require.True(t, ok)
	assert.Equal(t, uint32(6), mesh.Geometry.IndexCount)

	ctx := e.Device().(*memdevice.Device)
	require.NoError(t, e.Tick(time.Second))
	require.NoError(t, e.Tick(2*time.Second))
	require.NoError(t, e.Tick(3*time.Second))
	// The third tick wrapped around to slot 0 again.
	contents, err := ctx.BufferContents(mesh.Uniforms.Buffers[0].Handle)
	require.NoError(t, err)
	assert.Len(t, contents, int(metadata.UniformBufferObjectSize))

	e.Close()
	assert.Equal(t, EngineStageStopped, e.Stage())
	assert.Equal(t, 0, ctx.LiveBuffers())
	assert.Equal(t, 0, ctx.LiveAllocations())
}

func TestEngineInitializeFailsOnBrokenModel(t *testing.T) {
	cfg, model := memoryConfig(t, false)
	require.NoError(t, os.WriteFile(model, []byte("v 0 0\n"), 0o644))

	e, err := New(cfg)
	require.NoError(t, err)
	assert.Error(t, e.Initialize())
	e.Close()
}

func TestEngineRejectsInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Renderer.Backend = "directx"
	_, err := New(cfg)
	assert.Error(t, err)
}

func TestEngineHotReload(t *testing.T) {
	cfg, model := memoryConfig(t, true)
	e, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, e.Initialize())
	defer e.Close()

	mesh, _ := e.Mesh("quad")
	require.NoError(t, os.WriteFile(model, []byte(triangleObj), 0o644))

	assert.Eventually(t, func() bool { return e.PendingReloads() > 0 }, 5*time.Second, 10*time.Millisecond)
	// Let the write settle so the reload reads the complete file.
	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, 1, e.ProcessReloads())
	assert.Equal(t, uint32(1), mesh.Generation)
	assert.Equal(t, uint32(3), mesh.Geometry.VertexCount)
}

func TestEngineRunStopsOnShutdown(t *testing.T) {
	cfg, _ := memoryConfig(t, false)
	e, err := New(cfg)
	require.NoError(t, err)
	assert.Error(t, e.Run())
	require.NoError(t, e.Initialize())

	done := make(chan error, 1)
	go func() { done <- e.Run() }()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, e.Shutdown())
	require.NoError(t, e.Shutdown())

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after Shutdown")
	}
	assert.Equal(t, EngineStageStopped, e.Stage())
}

package engine

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/meshbuf/engine/core"
)

func TestParseConfig(t *testing.T) {
	cfg, err := ParseConfig([]byte(`
[application]
name = "viewer"

[log]
level = "debug"

[renderer]
backend = "memory"
max_frames_in_flight = 3
validation = true

[assets]
directory = "data"
watch = true

[[meshes]]
name = "cube"
model = "data/cube.obj"
texture = "data/cube.png"

[[meshes]]
name = "plane"
model = "data/plane.obj"
`))
	require.NoError(t, err)
	assert.Equal(t, "viewer", cfg.Application.Name)
	assert.Equal(t, core.LogLevelDebug, cfg.LogLevel())
	assert.Equal(t, RendererConfig{Backend: BackendMemory, MaxFramesInFlight: 3, Validation: true}, cfg.Renderer)
	assert.Equal(t, AssetsConfig{Directory: "data", Watch: true}, cfg.Assets)
	assert.Equal(t, []MeshConfig{
		{Name: "cube", Model: "data/cube.obj", Texture: "data/cube.png"},
		{Name: "plane", Model: "data/plane.obj"},
	}, cfg.Meshes)
}

func TestParseConfigKeepsDefaults(t *testing.T) {
	cfg, err := ParseConfig([]byte("[log]\nlevel = \"warn\"\n"))
	require.NoError(t, err)
	defaults := DefaultConfig()
	assert.Equal(t, defaults.Renderer, cfg.Renderer)
	assert.Equal(t, defaults.Assets, cfg.Assets)
	assert.Equal(t, defaults.Application, cfg.Application)
	assert.Equal(t, core.LogLevelWarn, cfg.LogLevel())
}

func TestParseConfigClampsFramesInFlight(t *testing.T) {
	cfg, err := ParseConfig([]byte("[renderer]\nmax_frames_in_flight = 8\n"))
	require.NoError(t, err)
	assert.Equal(t, uint32(3), cfg.Renderer.MaxFramesInFlight)

	cfg, err = ParseConfig([]byte("[renderer]\nmax_frames_in_flight = 0\n"))
	require.NoError(t, err)
	assert.Equal(t, uint32(1), cfg.Renderer.MaxFramesInFlight)
}

func TestParseConfigErrors(t *testing.T) {
	tests := map[string]string{
		"unknown backend": "[renderer]\nbackend = \"metal\"\n",
		"unknown key":     "[renderer]\nframes = 2\n",
		"bad syntax":      "[renderer\n",
		"mesh no model":   "[[meshes]]\nname = \"a\"\n",
		"duplicate mesh":  "[[meshes]]\nname = \"a\"\nmodel = \"a.obj\"\n[[meshes]]\nname = \"a\"\nmodel = \"b.obj\"\n",
	}
	for name, src := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseConfig([]byte(src))
			assert.Error(t, err)
		})
	}
}

func TestLoadConfigFromEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meshbuf.toml")
	require.NoError(t, os.WriteFile(path, []byte("[renderer]\nbackend = \"memory\"\n"), 0o644))

	t.Setenv(ConfigEnv, path)
	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, BackendMemory, cfg.Renderer.Backend)

	t.Setenv(ConfigEnv, filepath.Join(t.TempDir(), "missing.toml"))
	cfg, err = LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

package engine

import (
	"bytes"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/pelletier/go-toml/v2"

	"github.com/spaghettifunk/meshbuf/engine/core"
	"github.com/spaghettifunk/meshbuf/engine/math"
	"github.com/spaghettifunk/meshbuf/engine/renderer/vulkan"
)

const (
	// ConfigEnv names the environment variable holding the configuration path.
	ConfigEnv         = "MESHBUF_CONFIG"
	DefaultConfigPath = "config.toml"

	BackendVulkan = "vulkan"
	BackendMemory = "memory"
)

type ApplicationConfig struct {
	// The application name reported to the Vulkan instance.
	Name string `toml:"name"`
}

type LogConfig struct {
	// One of debug, info, warn, error, fatal.
	Level string `toml:"level"`
}

type RendererConfig struct {
	// "vulkan" for a real device, "memory" for the host memory device.
	Backend           string `toml:"backend"`
	MaxFramesInFlight uint32 `toml:"max_frames_in_flight"`
	Validation        bool   `toml:"validation"`
}

type AssetsConfig struct {
	Directory string `toml:"directory"`
	// Reload meshes whenever their model file changes.
	Watch bool `toml:"watch"`
}

type MeshConfig struct {
	Name    string `toml:"name"`
	Model   string `toml:"model"`
	Texture string `toml:"texture"`
}

type Config struct {
	Application ApplicationConfig `toml:"application"`
	Log         LogConfig         `toml:"log"`
	Renderer    RendererConfig    `toml:"renderer"`
	Assets      AssetsConfig      `toml:"assets"`
	Meshes      []MeshConfig      `toml:"meshes"`
}

func DefaultConfig() *Config {
	return &Config{
		Application: ApplicationConfig{Name: "meshbuf"},
		Log:         LogConfig{Level: "info"},
		Renderer: RendererConfig{
			Backend:           BackendVulkan,
			MaxFramesInFlight: vulkan.MaxFramesInFlight,
		},
		Assets: AssetsConfig{Directory: "assets"},
	}
}

// LoadConfig reads the file named by MESHBUF_CONFIG, or config.toml. A
// missing file yields the defaults.
func LoadConfig() (*Config, error) {
	path := os.Getenv(ConfigEnv)
	if path == "" {
		path = DefaultConfigPath
	}
	return LoadConfigFile(path)
}

func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		core.LogInfo("no configuration at '%s', using defaults", path)
		cfg := DefaultConfig()
		return cfg, cfg.Validate()
	}
	if err != nil {
		core.LogError("failed to read configuration '%s': %s", path, err)
		return nil, errors.Wrapf(err, "config: read '%s'", path)
	}
	return ParseConfig(data)
}

// ParseConfig decodes TOML on top of the defaults and validates the result.
func ParseConfig(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		var details *toml.DecodeError
		if errors.As(err, &details) {
			core.LogError("configuration error:\n%s", details.String())
		}
		return nil, errors.Wrap(err, "config: decode")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate clamps frames in flight to [1, 3] and rejects unknown backends
// and incomplete mesh entries.
func (c *Config) Validate() error {
	switch c.Renderer.Backend {
	case BackendVulkan, BackendMemory:
	default:
		err := errors.Newf("config: unknown renderer backend %q", c.Renderer.Backend)
		core.LogError(err.Error())
		return err
	}

	frames := math.Clamp(c.Renderer.MaxFramesInFlight, 1, vulkan.MaxFramesInFlightLimit)
	if frames != c.Renderer.MaxFramesInFlight {
		core.LogWarn("max_frames_in_flight %d clamped to %d", c.Renderer.MaxFramesInFlight, frames)
		c.Renderer.MaxFramesInFlight = frames
	}

	seen := make(map[string]bool, len(c.Meshes))
	for i, m := range c.Meshes {
		if m.Name == "" || m.Model == "" {
			err := errors.Newf("config: mesh %d needs both a name and a model", i)
			core.LogError(err.Error())
			return err
		}
		if seen[m.Name] {
			err := errors.Newf("config: mesh name %q used twice", m.Name)
			core.LogError(err.Error())
			return err
		}
		seen[m.Name] = true
	}
	return nil
}

func (c *Config) LogLevel() core.LogLevel {
	return core.ParseLogLevel(c.Log.Level)
}

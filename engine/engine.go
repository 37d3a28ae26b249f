package engine

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/meshbuf/engine/assets"
	"github.com/spaghettifunk/meshbuf/engine/containers"
	"github.com/spaghettifunk/meshbuf/engine/core"
	"github.com/spaghettifunk/meshbuf/engine/math"
	"github.com/spaghettifunk/meshbuf/engine/renderer/device"
	"github.com/spaghettifunk/meshbuf/engine/renderer/device/memdevice"
	"github.com/spaghettifunk/meshbuf/engine/renderer/metadata"
	"github.com/spaghettifunk/meshbuf/engine/renderer/vulkan"
	"github.com/spaghettifunk/meshbuf/engine/systems"
)

type Stage uint8

const (
	// Engine is in an uninitialized state
	EngineStageUninitialized Stage = iota
	// Engine is currently initializing
	EngineStageInitializing
	// Engine initialization is complete
	EngineStageInitialized
	// Engine is currently running
	EngineStageRunning
	// Engine is in the process of shutting down
	EngineStageShuttingDown
	// Every resource has been released
	EngineStageStopped
)

const (
	maxMeshCount    uint32 = 1024
	reloadQueueSize        = 64
	targetFrameTime        = time.Second / 60
)

// Engine owns the device, the asset watcher and the mesh system. Every GPU
// call happens on the goroutine running Initialize and Run.
type Engine struct {
	currentStage Stage
	config       *Config

	device         device.Context
	shutdownDevice func()
	assetManager   *assets.AssetManager
	meshSystem     *systems.MeshSystem
	meshes         map[string]*systems.MeshObject
	clock          *core.Clock
	frame          uint32
	frameCount     uint64

	// Model paths changed on disk, filled by the watcher goroutine.
	reloadMutex  sync.Mutex
	reloads      *containers.RingQueue[string]
	reloadSignal chan struct{}

	quit     chan struct{}
	quitOnce sync.Once
}

func New(cfg *Config) (*Engine, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	core.SetLogLevel(cfg.LogLevel())

	am, err := assets.NewAssetManager()
	if err != nil {
		return nil, err
	}

	return &Engine{
		currentStage: EngineStageUninitialized,
		config:       cfg,
		assetManager: am,
		meshes:       make(map[string]*systems.MeshObject),
		clock:        core.NewClock(),
		reloads:      containers.NewRingQueue[string](reloadQueueSize),
		reloadSignal: make(chan struct{}, 1),
		quit:         make(chan struct{}),
	}, nil
}

func (e *Engine) Initialize() error {
	e.currentStage = EngineStageInitializing

	if err := e.createDevice(); err != nil {
		return err
	}

	ms, err := systems.NewMeshSystem(&systems.MeshSystemConfig{
		MaxMeshCount:   maxMeshCount,
		FramesInFlight: e.config.Renderer.MaxFramesInFlight,
	}, e.device, &systems.FileImageFactory{FlipY: true})
	if err != nil {
		return err
	}
	e.meshSystem = ms

	if e.config.Assets.Directory != "" {
		if err := e.assetManager.Initialize(e.config.Assets.Directory, e.config.Assets.Watch); err != nil {
			core.LogWarn("assets directory unavailable, hot reload disabled: %s", err)
		}
	}
	if e.config.Assets.Watch {
		e.assetManager.OnChange(e.onAssetChanged)
	}

	for _, m := range e.config.Meshes {
		mesh, err := e.meshSystem.LoadFromFile(m.Name, m.Model, m.Texture)
		if err != nil {
			return errors.Wrapf(err, "engine: load mesh '%s'", m.Name)
		}
		e.meshes[m.Name] = mesh
	}

	e.currentStage = EngineStageInitialized
	core.LogInfo("engine initialized with %d meshes on the %s backend", len(e.meshes), e.config.Renderer.Backend)
	return nil
}

func (e *Engine) createDevice() error {
	switch e.config.Renderer.Backend {
	case BackendMemory:
		e.device = memdevice.New()
		e.shutdownDevice = func() {}
	case BackendVulkan:
		vc := vulkan.NewVulkanContext(e.config.Application.Name, e.config.Renderer.Validation)
		if err := vc.Initialize(); err != nil {
			vc.Shutdown()
			return err
		}
		e.device = vc
		e.shutdownDevice = vc.Shutdown
	default:
		return errors.Newf("engine: unknown renderer backend %q", e.config.Renderer.Backend)
	}
	return nil
}

// Run ticks the per-frame uniform buffers and applies pending reloads until
// Shutdown is called. Resources are released before it returns.
func (e *Engine) Run() error {
	if e.currentStage != EngineStageInitialized {
		return errors.New("engine: Run called before Initialize")
	}
	e.currentStage = EngineStageRunning
	defer e.cleanup()

	e.clock.Start()
	ticker := time.NewTicker(targetFrameTime)
	defer ticker.Stop()

	for {
		select {
		case <-e.quit:
			return nil
		case <-e.reloadSignal:
			e.ProcessReloads()
		case <-ticker.C:
			e.clock.Update()
			if err := e.Tick(e.clock.Elapsed()); err != nil {
				core.LogError("frame %d failed, shutting down.", e.frameCount)
				return err
			}
		}
	}
}

// Shutdown asks Run to stop. It may be called from any goroutine.
func (e *Engine) Shutdown() error {
	e.quitOnce.Do(func() { close(e.quit) })
	return nil
}

// Tick writes the uniform snapshot of the current frame in flight for
// every mesh, then advances to the next frame.
func (e *Engine) Tick(elapsed time.Duration) error {
	angle := float32(0.5 * elapsed.Seconds())
	projection := math.NewMat4Perspective(math.DegToRad(45.0), 16.0/9.0, 0.1, 1000.0)

	for _, mesh := range e.meshes {
		ubo := metadata.UniformBufferObject{
			Model:      math.NewMat4EulerY(angle),
			View:       math.NewMat4LookAt(math.NewVec3(0, 0, 5), math.NewVec3Zero(), math.NewVec3Up()),
			Projection: projection,
		}
		if err := e.meshSystem.UpdateUniforms(mesh, e.frame, &ubo); err != nil {
			return err
		}
	}

	e.frameCount++
	e.frame = (e.frame + 1) % e.config.Renderer.MaxFramesInFlight
	return nil
}

// onAssetChanged runs on the watcher goroutine and only queues the work.
func (e *Engine) onAssetChanged(info assets.AssetInfo) {
	if info.Type != metadata.ResourceTypeModel {
		return
	}

	e.reloadMutex.Lock()
	queued := e.reloads.Contains(func(p string) bool { return p == info.Path })
	if !queued {
		if err := e.reloads.Enqueue(info.Path); err != nil {
			core.LogWarn("dropping reload of '%s': %s", info.Path, err)
		}
	}
	e.reloadMutex.Unlock()

	select {
	case e.reloadSignal <- struct{}{}:
	default:
	}
}

// PendingReloads returns the number of model paths waiting to be reloaded.
func (e *Engine) PendingReloads() int {
	e.reloadMutex.Lock()
	defer e.reloadMutex.Unlock()
	return e.reloads.Len()
}

// ProcessReloads reloads every mesh whose model changed and returns how
// many meshes were reloaded. A failed reload leaves the mesh untouched.
func (e *Engine) ProcessReloads() int {
	var paths []string
	e.reloadMutex.Lock()
	for !e.reloads.IsEmpty() {
		p, _ := e.reloads.Dequeue()
		paths = append(paths, p)
	}
	e.reloadMutex.Unlock()

	reloaded := 0
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			continue
		}
		for _, mesh := range e.meshSystem.FindByModel(abs) {
			if err := e.meshSystem.Reload(mesh); err != nil {
				core.LogError("hot reload of mesh '%s' failed: %s", mesh.Name, err)
				continue
			}
			reloaded++
		}
	}
	return reloaded
}

// Mesh returns a configured mesh by name.
func (e *Engine) Mesh(name string) (*systems.MeshObject, bool) {
	mesh, ok := e.meshes[name]
	return mesh, ok
}

func (e *Engine) Stage() Stage {
	return e.currentStage
}

// Device exposes the device context the meshes live on.
func (e *Engine) Device() device.Context {
	return e.device
}

// Close releases everything Initialize created without running the loop.
func (e *Engine) Close() {
	e.cleanup()
}

func (e *Engine) cleanup() {
	if e.currentStage == EngineStageStopped {
		return
	}
	e.currentStage = EngineStageShuttingDown

	if err := e.assetManager.Close(); err != nil {
		core.LogError("failed to close the asset manager: %s", err)
	}
	if e.meshSystem != nil {
		if err := e.meshSystem.Shutdown(); err != nil {
			core.LogError(err.Error())
		}
	}
	e.meshes = make(map[string]*systems.MeshObject)
	if e.shutdownDevice != nil {
		e.shutdownDevice()
	}

	transfers, bytes, avg := core.MetricsTransfers()
	core.LogInfo("%d frames, %d transfers, %d bytes copied, %.3f ms average copy time", e.frameCount, transfers, bytes, avg)
	e.currentStage = EngineStageStopped
}

package systems

import (
	"path/filepath"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/spaghettifunk/meshbuf/engine/assets/loaders"
	"github.com/spaghettifunk/meshbuf/engine/core"
	"github.com/spaghettifunk/meshbuf/engine/math"
	"github.com/spaghettifunk/meshbuf/engine/renderer/device"
	"github.com/spaghettifunk/meshbuf/engine/renderer/metadata"
	"github.com/spaghettifunk/meshbuf/engine/renderer/vulkan"
)

// InvalidGeneration marks a mesh whose GPU resources have been released.
const InvalidGeneration uint32 = 4294967295

var ErrMeshNotFound = errors.New("mesh not registered")

type MeshSystemConfig struct {
	/** @brief The maximum number of meshes that can be loaded at once. */
	MaxMeshCount uint32
	/** @brief The number of uniform buffers created per mesh. */
	FramesInFlight uint32
}

/**
 * @brief A mesh living on the GPU: device local geometry, one uniform
 * buffer per frame in flight and an optional staged texture.
 */
type MeshObject struct {
	ID   uuid.UUID
	Name string
	/** @brief Absolute path of the source model. Empty for meshes built from arrays. */
	ModelPath   string
	TexturePath string

	Geometry *vulkan.VulkanGeometry
	Texture  *vulkan.VulkanImage
	Uniforms vulkan.VulkanUniformBufferSet

	/** @brief Incremented on every successful reload. */
	Generation uint32
}

// ImageViewFactory turns a texture path into GPU side image data.
type ImageViewFactory interface {
	CreateImage(ctx device.Context, path string) (*vulkan.VulkanImage, error)
}

// FileImageFactory decodes image files and stages their RGBA pixels.
type FileImageFactory struct {
	FlipY bool

	loader loaders.TextureLoader
}

func (f *FileImageFactory) CreateImage(ctx device.Context, path string) (*vulkan.VulkanImage, error) {
	res, err := f.loader.Load(path, metadata.ResourceTypeImage, &metadata.ImageResourceParams{FlipY: f.FlipY})
	if err != nil {
		return nil, err
	}
	defer f.loader.Unload(res)

	data, ok := res.Data.(*metadata.ImageResourceData)
	if !ok {
		err := errors.Newf("texture '%s' did not decode to image data", path)
		core.LogError(err.Error())
		return nil, err
	}
	return vulkan.NewVulkanImage(ctx, res.Name, data)
}

type MeshSystem struct {
	Config *MeshSystemConfig

	ctx    device.Context
	images ImageViewFactory
	models loaders.ModelLoader

	meshes map[uuid.UUID]*MeshObject
	// Registration order, used for lookups and shutdown.
	order []uuid.UUID
}

func NewMeshSystem(config *MeshSystemConfig, ctx device.Context, images ImageViewFactory) (*MeshSystem, error) {
	if config.MaxMeshCount == 0 {
		err := errors.New("func NewMeshSystem - config.MaxMeshCount must be > 0")
		core.LogError(err.Error())
		return nil, err
	}
	if config.FramesInFlight == 0 || config.FramesInFlight > vulkan.MaxFramesInFlightLimit {
		err := errors.Newf("func NewMeshSystem - config.FramesInFlight must be in [1, %d]", vulkan.MaxFramesInFlightLimit)
		core.LogError(err.Error())
		return nil, err
	}
	if ctx == nil {
		err := errors.New("func NewMeshSystem - a device context is required")
		core.LogError(err.Error())
		return nil, err
	}
	if images == nil {
		images = &FileImageFactory{}
	}

	return &MeshSystem{
		Config: config,
		ctx:    ctx,
		images: images,
		meshes: make(map[uuid.UUID]*MeshObject),
	}, nil
}

// LoadFromFile ingests an OBJ model and uploads it. An empty texture path
// means the mesh has no texture.
func (ms *MeshSystem) LoadFromFile(name, modelPath, texturePath string) (*MeshObject, error) {
	if err := ms.checkCapacity(name); err != nil {
		return nil, err
	}

	absPath, err := filepath.Abs(modelPath)
	if err != nil {
		err = errors.Wrapf(core.ErrModelParse, "mesh '%s': %v", name, err)
		core.LogError(err.Error())
		return nil, err
	}

	data, err := ms.ingest(absPath)
	if err != nil {
		return nil, err
	}

	mesh := &MeshObject{
		ID:          uuid.New(),
		Name:        name,
		ModelPath:   absPath,
		TexturePath: texturePath,
	}
	if err := ms.upload(mesh, data); err != nil {
		core.LogError("failed to load mesh '%s' from '%s'", name, modelPath)
		return nil, err
	}
	ms.register(mesh)
	return mesh, nil
}

// LoadFromArrays uploads already deduplicated geometry.
func (ms *MeshSystem) LoadFromArrays(name string, vertices []metadata.Vertex, indices []uint32, texturePath string) (*MeshObject, error) {
	if err := ms.checkCapacity(name); err != nil {
		return nil, err
	}
	for i, idx := range indices {
		if int(idx) >= len(vertices) {
			err := errors.Wrapf(core.ErrBufferCreation, "mesh '%s': index %d at position %d is out of range (%d vertices)", name, idx, i, len(vertices))
			core.LogError(err.Error())
			return nil, err
		}
	}

	data := &metadata.MeshData{Name: name, Vertices: vertices, Indices: indices}
	positions := make([]math.Vec3, len(vertices))
	for i, v := range vertices {
		positions[i] = v.Position
	}
	data.Extents, data.Center = math.GeometryCalculateExtents(positions)

	mesh := &MeshObject{
		ID:          uuid.New(),
		Name:        name,
		TexturePath: texturePath,
	}
	if err := ms.upload(mesh, data); err != nil {
		core.LogError("failed to load mesh '%s' from arrays", name)
		return nil, err
	}
	ms.register(mesh)
	return mesh, nil
}

// Reload re-ingests the model and replaces every GPU resource of the mesh.
// On failure the mesh keeps its previous buffers.
func (ms *MeshSystem) Reload(mesh *MeshObject) error {
	if _, ok := ms.meshes[mesh.ID]; !ok {
		err := errors.Wrapf(ErrMeshNotFound, "mesh '%s'", mesh.Name)
		core.LogError(err.Error())
		return err
	}
	if mesh.ModelPath == "" {
		err := errors.Newf("mesh '%s' was not loaded from a file and cannot be reloaded", mesh.Name)
		core.LogError(err.Error())
		return err
	}

	data, err := ms.ingest(mesh.ModelPath)
	if err != nil {
		core.LogWarn("keeping previous buffers of mesh '%s'", mesh.Name)
		return err
	}

	fresh := &MeshObject{TexturePath: mesh.TexturePath}
	if err := ms.upload(fresh, data); err != nil {
		core.LogWarn("keeping previous buffers of mesh '%s'", mesh.Name)
		return err
	}

	ms.release(mesh)
	mesh.Geometry = fresh.Geometry
	mesh.Texture = fresh.Texture
	mesh.Uniforms = fresh.Uniforms
	mesh.Generation++

	core.LogInfo("reloaded mesh '%s' (generation %d)", mesh.Name, mesh.Generation)
	return nil
}

// Unload releases the GPU resources of the mesh and forgets it.
func (ms *MeshSystem) Unload(mesh *MeshObject) error {
	if _, ok := ms.meshes[mesh.ID]; !ok {
		err := errors.Wrapf(ErrMeshNotFound, "mesh '%s'", mesh.Name)
		core.LogError(err.Error())
		return err
	}
	ms.release(mesh)
	mesh.Generation = InvalidGeneration

	delete(ms.meshes, mesh.ID)
	for i, id := range ms.order {
		if id == mesh.ID {
			ms.order = append(ms.order[:i], ms.order[i+1:]...)
			break
		}
	}
	core.LogDebug("unloaded mesh '%s'", mesh.Name)
	return nil
}

// UpdateUniforms writes the per frame snapshot of a mesh.
func (ms *MeshSystem) UpdateUniforms(mesh *MeshObject, frame uint32, ubo *metadata.UniformBufferObject) error {
	return mesh.Uniforms.Update(ms.ctx, frame, ubo)
}

func (ms *MeshSystem) Get(id uuid.UUID) (*MeshObject, bool) {
	mesh, ok := ms.meshes[id]
	return mesh, ok
}

// FindByModel returns every mesh loaded from the given model file.
func (ms *MeshSystem) FindByModel(modelPath string) []*MeshObject {
	absPath, err := filepath.Abs(modelPath)
	if err != nil {
		return nil
	}
	var found []*MeshObject
	for _, id := range ms.order {
		if mesh := ms.meshes[id]; mesh.ModelPath == absPath {
			found = append(found, mesh)
		}
	}
	return found
}

func (ms *MeshSystem) Count() int {
	return len(ms.meshes)
}

func (ms *MeshSystem) Shutdown() error {
	// Unload in reverse registration order.
	for i := len(ms.order) - 1; i >= 0; i-- {
		mesh := ms.meshes[ms.order[i]]
		ms.release(mesh)
		mesh.Generation = InvalidGeneration
	}
	ms.meshes = make(map[uuid.UUID]*MeshObject)
	ms.order = nil
	return nil
}

func (ms *MeshSystem) checkCapacity(name string) error {
	if uint32(len(ms.meshes)) >= ms.Config.MaxMeshCount {
		err := errors.Newf("cannot load mesh '%s': the maximum of %d meshes is reached", name, ms.Config.MaxMeshCount)
		core.LogError(err.Error())
		return err
	}
	return nil
}

func (ms *MeshSystem) ingest(path string) (*metadata.MeshData, error) {
	res, err := ms.models.Load(path, metadata.ResourceTypeModel, nil)
	if err != nil {
		return nil, err
	}
	data, ok := res.Data.(*metadata.MeshData)
	if !ok {
		err := errors.Wrapf(core.ErrModelParse, "'%s' did not decode to mesh data", path)
		core.LogError(err.Error())
		return nil, err
	}
	return data, nil
}

// upload fills geometry, uniforms and texture of mesh. Nothing is left
// allocated when it fails.
func (ms *MeshSystem) upload(mesh *MeshObject, data *metadata.MeshData) error {
	geometry, err := vulkan.UploadGeometry(ms.ctx, data)
	if err != nil {
		return err
	}

	var uniforms vulkan.VulkanUniformBufferSet
	if err := uniforms.Rebuild(ms.ctx, ms.Config.FramesInFlight); err != nil {
		geometry.Destroy(ms.ctx)
		return err
	}

	var texture *vulkan.VulkanImage
	if mesh.TexturePath != "" {
		texture, err = ms.images.CreateImage(ms.ctx, mesh.TexturePath)
		if err != nil {
			uniforms.Destroy(ms.ctx)
			geometry.Destroy(ms.ctx)
			return err
		}
	}

	mesh.Geometry = geometry
	mesh.Uniforms = uniforms
	mesh.Texture = texture
	return nil
}

func (ms *MeshSystem) register(mesh *MeshObject) {
	ms.meshes[mesh.ID] = mesh
	ms.order = append(ms.order, mesh.ID)
	core.LogDebug("loaded mesh '%s' (%d vertices, %d indices)", mesh.Name, mesh.Geometry.VertexCount, mesh.Geometry.IndexCount)
}

func (ms *MeshSystem) release(mesh *MeshObject) {
	if mesh.Texture != nil {
		mesh.Texture.Destroy(ms.ctx)
		mesh.Texture = nil
	}
	mesh.Uniforms.Destroy(ms.ctx)
	if mesh.Geometry != nil {
		mesh.Geometry.Destroy(ms.ctx)
		mesh.Geometry = nil
	}
}

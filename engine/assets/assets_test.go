package assets

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/meshbuf/engine/renderer/metadata"
)

const triangleObj = `v 0 0 0
v 1 0 0
v 0 1 0
vt 0 0
f 1/1 2/1 3/1
`

type recordingLoader struct {
	loaded   []string
	unloaded int
}

func (rl *recordingLoader) Load(path string, assetType metadata.ResourceType, params interface{}) (*metadata.Resource, error) {
	rl.loaded = append(rl.loaded, path)
	return &metadata.Resource{Type: assetType, FullPath: path}, nil
}

func (rl *recordingLoader) Unload(*metadata.Resource) error {
	rl.unloaded++
	return nil
}

func newManager(t *testing.T) *AssetManager {
	t.Helper()
	am, err := NewAssetManager()
	require.NoError(t, err)
	t.Cleanup(func() { _ = am.Close() })
	return am
}

func writeFile(t *testing.T, path, contents string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
}

func TestDetermineAssetType(t *testing.T) {
	tests := map[string]metadata.ResourceType{
		"cube.obj":       metadata.ResourceTypeModel,
		"CUBE.OBJ":       metadata.ResourceTypeModel,
		"a/b/albedo.png": metadata.ResourceTypeImage,
		"photo.jpeg":     metadata.ResourceTypeImage,
		"photo.jpg":      metadata.ResourceTypeImage,
		"old.bmp":        metadata.ResourceTypeImage,
		"scan.tiff":      metadata.ResourceTypeImage,
		"web.webp":       metadata.ResourceTypeImage,
		"cube.mtl":       metadata.ResourceTypeNone,
		"README":         metadata.ResourceTypeNone,
	}
	for path, want := range tests {
		assert.Equal(t, want, determineAssetType(path), path)
	}
}

func TestInitializeIndexesRecursively(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "models", "tri.obj"), triangleObj)
	writeFile(t, filepath.Join(dir, "models", "tri.mtl"), "")
	writeFile(t, filepath.Join(dir, "textures", "deep", "albedo.png"), "")

	am := newManager(t)
	require.NoError(t, am.Initialize(dir, false))
	assert.Equal(t, 2, am.Count())

	info, ok := am.Lookup(filepath.Join(dir, "models", "tri.obj"))
	require.True(t, ok)
	assert.Equal(t, metadata.ResourceTypeModel, info.Type)
	assert.True(t, info.LastLoaded.IsZero())

	_, ok = am.Lookup(filepath.Join(dir, "models", "tri.mtl"))
	assert.False(t, ok)

	assert.Error(t, am.Initialize(filepath.Join(dir, "missing"), false))
}

func TestLoadAssetUsesRegisteredLoader(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tri.obj")
	writeFile(t, path, triangleObj)

	am := newManager(t)
	res, err := am.LoadAsset(path, nil)
	require.NoError(t, err)
	assert.Equal(t, "tri", res.Name)
	mesh := res.Data.(*metadata.MeshData)
	assert.Equal(t, uint32(3), mesh.IndexCount())

	info, ok := am.Lookup(path)
	require.True(t, ok)
	assert.False(t, info.LastLoaded.IsZero())

	require.NoError(t, am.UnloadAsset(res))
	assert.Nil(t, res.Data)

	recorder := &recordingLoader{}
	am.RegisterLoader(metadata.ResourceTypeModel, recorder)
	_, err = am.LoadAsset(path, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{path}, recorder.loaded)
}

func TestLoadAssetErrors(t *testing.T) {
	am := newManager(t)

	_, err := am.LoadAsset("notes.txt", nil)
	assert.Error(t, err)

	_, err = am.LoadAsset(filepath.Join(t.TempDir(), "missing.obj"), nil)
	assert.Error(t, err)

	assert.Error(t, am.UnloadAsset(nil))
	assert.Error(t, am.UnloadAsset(&metadata.Resource{Type: metadata.ResourceTypeNone}))
}

func TestWatchNotifiesOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tri.obj")
	writeFile(t, path, triangleObj)

	am := newManager(t)
	require.NoError(t, am.Initialize(dir, true))

	var (
		mu      sync.Mutex
		changed []AssetInfo
	)
	am.OnChange(func(info AssetInfo) {
		mu.Lock()
		defer mu.Unlock()
		changed = append(changed, info)
	})

	writeFile(t, filepath.Join(dir, "ignored.txt"), "x")
	writeFile(t, path, triangleObj+"\n")

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, info := range changed {
			if info.Path == path && info.Type == metadata.ResourceTypeModel {
				return true
			}
		}
		return false
	}, 5*time.Second, 10*time.Millisecond)

	mu.Lock()
	for _, info := range changed {
		assert.NotEqual(t, filepath.Join(dir, "ignored.txt"), info.Path)
	}
	mu.Unlock()
}

func TestWatchPicksUpNewDirectoriesAndRemovals(t *testing.T) {
	dir := t.TempDir()
	am := newManager(t)
	require.NoError(t, am.Initialize(dir, true))

	sub := filepath.Join(dir, "later")
	require.NoError(t, os.Mkdir(sub, 0o755))

	// The new directory is watched asynchronously; keep rewriting until the
	// file shows up in the index.
	path := filepath.Join(sub, "new.obj")
	assert.Eventually(t, func() bool {
		_ = os.WriteFile(path, []byte(triangleObj), 0o644)
		_, ok := am.Lookup(path)
		return ok
	}, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, os.Remove(path))
	assert.Eventually(t, func() bool {
		_, ok := am.Lookup(path)
		return !ok
	}, 5*time.Second, 10*time.Millisecond)
}

func TestCloseIsIdempotent(t *testing.T) {
	am, err := NewAssetManager()
	require.NoError(t, err)
	require.NoError(t, am.Close())
	require.NoError(t, am.Close())
	assert.ErrorIs(t, am.Initialize(t.TempDir(), false), ErrAssetManagerClosed)
}

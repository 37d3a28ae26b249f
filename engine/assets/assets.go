package assets

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/fsnotify/fsnotify"

	"github.com/spaghettifunk/meshbuf/engine/assets/loaders"
	"github.com/spaghettifunk/meshbuf/engine/core"
	"github.com/spaghettifunk/meshbuf/engine/renderer/metadata"
)

var ErrAssetManagerClosed = errors.New("asset manager already closed")

type AssetInfo struct {
	Path       string
	Type       metadata.ResourceType
	LastLoaded time.Time
}

// ChangeFunc is invoked from the watcher goroutine whenever a known asset is
// created or written.
type ChangeFunc func(info AssetInfo)

type AssetManager struct {
	assets    map[string]AssetInfo
	loaders   map[metadata.ResourceType]Loader
	callbacks []ChangeFunc

	mutex sync.RWMutex

	done     chan struct{}
	stopped  sync.WaitGroup
	fsnotify *fsnotify.Watcher
	isClosed bool
}

func NewAssetManager() (*AssetManager, error) {
	fsWatch, err := fsnotify.NewWatcher()
	if err != nil {
		core.LogError("failed to create the asset watcher: %s", err)
		return nil, errors.Wrap(err, "asset manager")
	}

	am := &AssetManager{
		assets:   make(map[string]AssetInfo),
		loaders:  make(map[metadata.ResourceType]Loader),
		fsnotify: fsWatch,
		done:     make(chan struct{}),
	}

	// Register loaders
	am.RegisterLoader(metadata.ResourceTypeModel, &loaders.ModelLoader{})
	am.RegisterLoader(metadata.ResourceTypeImage, &loaders.TextureLoader{})

	am.stopped.Add(1)
	go am.start()

	return am, nil
}

// Initialize indexes every asset below assetsDir. With watch set, the
// directory tree is also watched for changes.
func (am *AssetManager) Initialize(assetsDir string, watch bool) error {
	am.mutex.RLock()
	closed := am.isClosed
	am.mutex.RUnlock()
	if closed {
		return ErrAssetManagerClosed
	}
	if err := am.watchRecursive(filepath.Clean(assetsDir), watch); err != nil {
		core.LogError("failed to index assets in '%s': %s", assetsDir, err)
		return errors.Wrapf(err, "asset manager: index '%s'", assetsDir)
	}
	core.LogInfo("indexed %d assets in '%s'", am.Count(), assetsDir)
	return nil
}

// RegisterLoader sets the loader used for assetType, replacing any previous one.
func (am *AssetManager) RegisterLoader(assetType metadata.ResourceType, loader Loader) {
	am.mutex.Lock()
	defer am.mutex.Unlock()
	am.loaders[assetType] = loader
}

// OnChange registers fn to be called for every created or modified asset.
func (am *AssetManager) OnChange(fn ChangeFunc) {
	am.mutex.Lock()
	defer am.mutex.Unlock()
	am.callbacks = append(am.callbacks, fn)
}

// Lookup returns the index entry of an asset.
func (am *AssetManager) Lookup(path string) (AssetInfo, bool) {
	am.mutex.RLock()
	defer am.mutex.RUnlock()
	info, ok := am.assets[filepath.Clean(path)]
	return info, ok
}

func (am *AssetManager) Count() int {
	am.mutex.RLock()
	defer am.mutex.RUnlock()
	return len(am.assets)
}

// LoadAsset loads a file with the loader matching its extension. Files do
// not have to be indexed beforehand.
func (am *AssetManager) LoadAsset(path string, params interface{}) (*metadata.Resource, error) {
	path = filepath.Clean(path)
	assetType := determineAssetType(path)
	if assetType == metadata.ResourceTypeNone {
		err := errors.Newf("asset manager: unknown asset type for '%s'", path)
		core.LogError(err.Error())
		return nil, err
	}

	am.mutex.RLock()
	loader, loaderExists := am.loaders[assetType]
	am.mutex.RUnlock()
	if !loaderExists {
		err := errors.Newf("asset manager: no loader registered for asset type %s", assetType)
		core.LogError(err.Error())
		return nil, err
	}

	resource, err := loader.Load(path, assetType, params)
	if err != nil {
		return nil, err
	}

	// Load or reload updates the loaded time
	am.mutex.Lock()
	am.assets[path] = AssetInfo{Path: path, Type: assetType, LastLoaded: time.Now()}
	am.mutex.Unlock()

	return resource, nil
}

func (am *AssetManager) UnloadAsset(resource *metadata.Resource) error {
	if resource == nil {
		return errors.New("asset manager: cannot unload a nil resource")
	}
	am.mutex.RLock()
	loader, ok := am.loaders[resource.Type]
	am.mutex.RUnlock()
	if !ok {
		return errors.Newf("asset manager: no loader registered for asset type %s", resource.Type)
	}
	return loader.Unload(resource)
}

// Close stops the watcher. It is safe to call more than once.
func (am *AssetManager) Close() error {
	am.mutex.Lock()
	if am.isClosed {
		am.mutex.Unlock()
		return nil
	}
	am.isClosed = true
	am.mutex.Unlock()

	close(am.done)
	am.stopped.Wait()
	return am.fsnotify.Close()
}

func (am *AssetManager) start() {
	defer am.stopped.Done()
	for {
		select {
		case e, ok := <-am.fsnotify.Events:
			if !ok {
				return
			}
			am.handleWatchEvent(e)

		case err, ok := <-am.fsnotify.Errors:
			if !ok {
				return
			}
			core.LogError("asset watcher: %s", err)

		case <-am.done:
			return
		}
	}
}

func (am *AssetManager) handleWatchEvent(e fsnotify.Event) {
	path := filepath.Clean(e.Name)

	if e.Has(fsnotify.Create) {
		if s, err := os.Stat(path); err == nil && s.IsDir() {
			if err := am.watchRecursive(path, true); err != nil {
				core.LogWarn("asset watcher: cannot watch '%s': %s", path, err)
			}
			return
		}
	}

	// Handle create or modify events
	if e.Has(fsnotify.Create) || e.Has(fsnotify.Write) {
		if info, ok := am.indexFile(path); ok {
			am.notify(info)
		}
	}

	// A removed or renamed path is dropped from the index; fsnotify drops
	// removed directories from its watch list itself.
	if e.Has(fsnotify.Remove) || e.Has(fsnotify.Rename) {
		am.removeAsset(path)
	}
}

func (am *AssetManager) notify(info AssetInfo) {
	am.mutex.RLock()
	callbacks := make([]ChangeFunc, len(am.callbacks))
	copy(callbacks, am.callbacks)
	am.mutex.RUnlock()

	core.LogDebug("asset changed: %s (%s)", info.Path, info.Type)
	for _, fn := range callbacks {
		fn(info)
	}
}

// watchRecursive indexes all files under the given directory and, with
// watch set, adds every directory to the watch list.
func (am *AssetManager) watchRecursive(root string, watch bool) error {
	return filepath.WalkDir(root, func(walkPath string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if watch {
				return am.fsnotify.Add(walkPath)
			}
			return nil
		}
		am.indexFile(walkPath)
		return nil
	})
}

// indexFile records a file of a known type. It reports false for unknown types.
func (am *AssetManager) indexFile(path string) (AssetInfo, bool) {
	assetType := determineAssetType(path)
	if assetType == metadata.ResourceTypeNone {
		return AssetInfo{}, false
	}

	am.mutex.Lock()
	defer am.mutex.Unlock()
	info := am.assets[path]
	info.Path = path
	info.Type = assetType
	am.assets[path] = info
	return info, true
}

// Remove the asset from the index if it was deleted
func (am *AssetManager) removeAsset(path string) {
	am.mutex.Lock()
	defer am.mutex.Unlock()

	delete(am.assets, path)
}

func determineAssetType(path string) metadata.ResourceType {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png", ".jpg", ".jpeg", ".bmp", ".tif", ".tiff", ".webp":
		return metadata.ResourceTypeImage
	case ".obj":
		return metadata.ResourceTypeModel
	default:
		return metadata.ResourceTypeNone
	}
}

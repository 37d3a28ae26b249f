package assets

import "github.com/spaghettifunk/meshbuf/engine/renderer/metadata"

type Loader interface {
	// params allows loaders to accept type specific options, e.g. *metadata.ImageResourceParams.
	Load(path string, assetType metadata.ResourceType, params interface{}) (*metadata.Resource, error)
	Unload(*metadata.Resource) error
}

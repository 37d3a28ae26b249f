package loaders

import (
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
	"golang.org/x/image/draw"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/spaghettifunk/meshbuf/engine/core"
	"github.com/spaghettifunk/meshbuf/engine/renderer/metadata"
)

// TextureLoader decodes png, jpeg, bmp, tiff and webp files into tightly
// packed RGBA8 pixels.
type TextureLoader struct{}

func (tl *TextureLoader) Load(path string, assetType metadata.ResourceType, params interface{}) (*metadata.Resource, error) {
	flipY := false
	if p, ok := params.(*metadata.ImageResourceParams); ok && p != nil {
		flipY = p.FlipY
	}

	// Open and decode the texture image file
	file, err := os.Open(path)
	if err != nil {
		core.LogError("failed to open texture '%s': %s", path, err)
		return nil, errors.Wrapf(err, "texture loader: open '%s'", path)
	}
	defer file.Close()

	img, format, err := image.Decode(file)
	if err != nil {
		core.LogError("failed to decode texture '%s': %s", path, err)
		return nil, errors.Wrapf(err, "texture loader: decode '%s'", path)
	}
	core.LogDebug("decoded %s texture '%s'", format, path)

	data := ImageToRGBA(img, flipY)
	return &metadata.Resource{
		Type:     metadata.ResourceTypeImage,
		Name:     strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
		FullPath: path,
		DataSize: uint64(len(data.Pixels)),
		Data:     data,
	}, nil
}

func (tl *TextureLoader) Unload(resource *metadata.Resource) error {
	if resource == nil {
		return errors.New("texture loader: cannot unload a nil resource")
	}
	resource.Data = nil
	resource.DataSize = 0
	return nil
}

// ImageToRGBA converts any decoded image into RGBA8 rows, top row first
// unless flipY is set.
func ImageToRGBA(img image.Image, flipY bool) *metadata.ImageResourceData {
	bounds := img.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(rgba, rgba.Bounds(), img, bounds.Min, draw.Src)

	width, height := bounds.Dx(), bounds.Dy()
	rowSize := width * 4
	pixels := make([]uint8, rowSize*height)
	for y := 0; y < height; y++ {
		srcRow := y
		if flipY {
			srcRow = height - 1 - y
		}
		copy(pixels[y*rowSize:(y+1)*rowSize], rgba.Pix[srcRow*rgba.Stride:srcRow*rgba.Stride+rowSize])
	}

	return &metadata.ImageResourceData{
		ChannelCount: 4,
		Width:        uint32(width),
		Height:       uint32(height),
		Pixels:       pixels,
	}
}

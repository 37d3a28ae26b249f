package vulkan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/meshbuf/engine/core"
	"github.com/spaghettifunk/meshbuf/engine/renderer/device/memdevice"
	"github.com/spaghettifunk/meshbuf/engine/renderer/metadata"
)

func TestNewVulkanImageStagesPixels(t *testing.T) {
	ctx := memdevice.New()
	pixels := []uint8{
		255, 0, 0, 255, 0, 255, 0, 255,
		0, 0, 255, 255, 255, 255, 255, 255,
	}
	img, err := NewVulkanImage(ctx, "checker", &metadata.ImageResourceData{
		ChannelCount: 4,
		Width:        2,
		Height:       2,
		Pixels:       pixels,
	})
	require.NoError(t, err)
	assert.Equal(t, uint32(2), img.Width)
	assert.Equal(t, uint32(2), img.Height)

	got, err := img.Staging.ReadData(ctx, 0, uint64(len(pixels)))
	require.NoError(t, err)
	assert.Equal(t, pixels, got)

	img.Destroy(ctx)
	assert.Nil(t, img.Staging)
	assert.Equal(t, 0, ctx.LiveBuffers())
}

func TestNewVulkanImageRejectsMismatchedPixels(t *testing.T) {
	ctx := memdevice.New()
	_, err := NewVulkanImage(ctx, "broken", &metadata.ImageResourceData{
		ChannelCount: 4,
		Width:        2,
		Height:       2,
		Pixels:       make([]uint8, 15),
	})
	assert.ErrorIs(t, err, core.ErrBufferCreation)
	assert.Empty(t, ctx.Calls())
}

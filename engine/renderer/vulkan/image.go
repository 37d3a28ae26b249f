package vulkan

import (
	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/meshbuf/engine/core"
	"github.com/spaghettifunk/meshbuf/engine/renderer/device"
	"github.com/spaghettifunk/meshbuf/engine/renderer/metadata"
)

/**
 * @brief RGBA8 texture pixels staged in a host visible transfer source
 * buffer, ready to be copied into a device image by the renderer.
 */
type VulkanImage struct {
	Name    string
	Staging *VulkanBuffer
	Width   uint32
	Height  uint32
}

func NewVulkanImage(ctx device.Context, name string, data *metadata.ImageResourceData) (*VulkanImage, error) {
	expected := uint64(data.Width) * uint64(data.Height) * uint64(data.ChannelCount)
	if expected == 0 || expected != uint64(len(data.Pixels)) {
		err := errors.Wrapf(core.ErrBufferCreation, "image '%s' has %d bytes of pixels for %dx%dx%d", name, len(data.Pixels), data.Width, data.Height, data.ChannelCount)
		core.LogError(err.Error())
		return nil, err
	}

	staging, err := NewVulkanBuffer(
		ctx,
		expected,
		vk.BufferUsageFlags(vk.BufferUsageTransferSrcBit),
		vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit|vk.MemoryPropertyHostCoherentBit),
	)
	if err != nil {
		return nil, err
	}
	if err := staging.LoadData(ctx, 0, data.Pixels); err != nil {
		staging.Destroy(ctx)
		return nil, err
	}

	return &VulkanImage{
		Name:    name,
		Staging: staging,
		Width:   data.Width,
		Height:  data.Height,
	}, nil
}

func (vi *VulkanImage) Destroy(ctx device.Context) {
	if vi.Staging != nil {
		vi.Staging.Destroy(ctx)
		vi.Staging = nil
	}
	vi.Width = 0
	vi.Height = 0
}

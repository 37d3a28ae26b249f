package vulkan

import (
	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/meshbuf/engine/core"
	"github.com/spaghettifunk/meshbuf/engine/renderer/device"
	"github.com/spaghettifunk/meshbuf/engine/renderer/metadata"
)

/**
 * @brief One host visible uniform buffer per frame in flight. Slot i is
 * written while frame i is being recorded.
 */
type VulkanUniformBufferSet struct {
	Buffers []*VulkanBuffer
}

// Rebuild releases every buffer of the set and creates frameCount new
// uniform buffers. If a creation fails the set is left empty.
func (s *VulkanUniformBufferSet) Rebuild(ctx device.Context, frameCount uint32) error {
	s.Destroy(ctx)

	buffers := make([]*VulkanBuffer, 0, frameCount)
	for i := uint32(0); i < frameCount; i++ {
		b, err := NewVulkanBuffer(
			ctx,
			metadata.UniformBufferObjectSize,
			vk.BufferUsageFlags(vk.BufferUsageUniformBufferBit),
			vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit|vk.MemoryPropertyHostCoherentBit),
		)
		if err != nil {
			for _, created := range buffers {
				created.Destroy(ctx)
			}
			core.LogError("failed to create uniform buffer %d of %d", i, frameCount)
			return err
		}
		buffers = append(buffers, b)
	}
	s.Buffers = buffers
	return nil
}

func (s *VulkanUniformBufferSet) Len() uint32 {
	return uint32(len(s.Buffers))
}

// Update writes a snapshot into the buffer of the given frame.
func (s *VulkanUniformBufferSet) Update(ctx device.Context, frame uint32, ubo *metadata.UniformBufferObject) error {
	if frame >= s.Len() {
		err := errors.Wrapf(core.ErrInvalidFrame, "frame %d of %d", frame, s.Len())
		core.LogError(err.Error())
		return err
	}
	return s.Buffers[frame].LoadData(ctx, 0, ubo.Bytes())
}

func (s *VulkanUniformBufferSet) Destroy(ctx device.Context) {
	for _, b := range s.Buffers {
		b.Destroy(ctx)
	}
	s.Buffers = nil
}

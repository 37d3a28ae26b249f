package vulkan

import (
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/meshbuf/engine/renderer/device"
)

var (
	deviceLocal  = vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit)
	hostVisible  = vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit)
	hostCoherent = vk.MemoryPropertyFlags(vk.MemoryPropertyHostCoherentBit)
	hostCached   = vk.MemoryPropertyFlags(vk.MemoryPropertyHostCachedBit)

	stagingUsage = vk.BufferUsageFlags(vk.BufferUsageTransferSrcBit)
	vertexUsage  = vk.BufferUsageFlags(vk.BufferUsageVertexBufferBit | vk.BufferUsageTransferDstBit)
)

func memType(flags vk.MemoryPropertyFlags) device.MemoryType {
	return device.MemoryType{PropertyFlags: flags}
}

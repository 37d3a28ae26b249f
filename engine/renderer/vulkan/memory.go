package vulkan

import (
	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/meshbuf/engine/core"
	"github.com/spaghettifunk/meshbuf/engine/renderer/device"
)

// FindMemoryIndex returns the first memory type, in ascending index order,
// that is allowed by typeFilter and carries every flag in required.
func FindMemoryIndex(types []device.MemoryType, typeFilter uint32, required vk.MemoryPropertyFlags) (uint32, error) {
	for i := uint32(0); i < uint32(len(types)) && i < 32; i++ {
		// Check each memory type to see if its bit is set to 1.
		if typeFilter&(1<<i) != 0 && types[i].PropertyFlags&required == required {
			return i, nil
		}
	}
	err := errors.Wrapf(core.ErrNoCompatibleMemoryType, "filter=%#b properties=%#x", typeFilter, uint32(required))
	core.LogError("Unable to find suitable memory type: %s", err)
	return 0, err
}

func hasProperty(flags vk.MemoryPropertyFlags, bit vk.MemoryPropertyFlagBits) bool {
	return flags&vk.MemoryPropertyFlags(bit) != 0
}

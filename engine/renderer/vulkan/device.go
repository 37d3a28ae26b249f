package vulkan

import (
	"runtime"

	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/meshbuf/engine/core"
	"github.com/spaghettifunk/meshbuf/engine/renderer/device"
)

type VulkanDevice struct {
	PhysicalDevice     vk.PhysicalDevice
	LogicalDevice      vk.Device
	GraphicsQueueIndex int32
	TransferQueueIndex int32

	GraphicsQueue vk.Queue
	TransferQueue vk.Queue

	GraphicsCommandPool vk.CommandPool
	TransferCommandPool vk.CommandPool

	Properties vk.PhysicalDeviceProperties
	Features   vk.PhysicalDeviceFeatures
	Memory     vk.PhysicalDeviceMemoryProperties
}

type VulkanPhysicalDeviceRequirements struct {
	Graphics    bool
	Transfer    bool
	DiscreteGPU bool
}

type VulkanPhysicalDeviceQueueFamilyInfo struct {
	GraphicsFamilyIndex int32
	TransferFamilyIndex int32
}

// SelectQueueFamilies picks the first graphics capable family and the
// transfer capable family with the fewest other capabilities, which makes a
// dedicated transfer family win when the device has one. -1 means none.
func SelectQueueFamilies(families []vk.QueueFlags) VulkanPhysicalDeviceQueueFamilyInfo {
	info := VulkanPhysicalDeviceQueueFamilyInfo{
		GraphicsFamilyIndex: -1,
		TransferFamilyIndex: -1,
	}

	minTransferScore := 255
	for i, flags := range families {
		currentTransferScore := 0

		// Graphics queue?
		if flags&vk.QueueFlags(vk.QueueGraphicsBit) != 0 {
			if info.GraphicsFamilyIndex < 0 {
				info.GraphicsFamilyIndex = int32(i)
			}
			currentTransferScore++
		}

		// Compute queue?
		if flags&vk.QueueFlags(vk.QueueComputeBit) != 0 {
			currentTransferScore++
		}

		// Transfer queue?
		if flags&vk.QueueFlags(vk.QueueTransferBit) != 0 {
			// Take the index if it is the current lowest. This increases the
			// liklihood that it is a dedicated transfer queue.
			if currentTransferScore < minTransferScore {
				minTransferScore = currentTransferScore
				info.TransferFamilyIndex = int32(i)
			}
		}
	}

	// Graphics families accept transfer work even when they do not say so.
	if info.TransferFamilyIndex < 0 {
		info.TransferFamilyIndex = info.GraphicsFamilyIndex
	}
	return info
}

// MemoryTypesFromProperties converts the physical device memory table.
func MemoryTypesFromProperties(memory *vk.PhysicalDeviceMemoryProperties) []device.MemoryType {
	types := make([]device.MemoryType, 0, memory.MemoryTypeCount)
	for i := uint32(0); i < memory.MemoryTypeCount; i++ {
		memory.MemoryTypes[i].Deref()
		types = append(types, device.MemoryType{
			PropertyFlags: memory.MemoryTypes[i].PropertyFlags,
			HeapIndex:     memory.MemoryTypes[i].HeapIndex,
		})
	}
	return types
}

func PhysicalDeviceMeetsRequirements(
	physicalDevice vk.PhysicalDevice,
	properties *vk.PhysicalDeviceProperties,
	requirements *VulkanPhysicalDeviceRequirements,
	outQueueInfo *VulkanPhysicalDeviceQueueFamilyInfo) bool {
	// Discrete GPU?
	if requirements.DiscreteGPU && properties.DeviceType != vk.PhysicalDeviceTypeDiscreteGpu {
		core.LogInfo("Device is not a discrete GPU, and one is required. Skipping.")
		return false
	}

	var queueFamilyCount uint32
	vk.GetPhysicalDeviceQueueFamilyProperties(physicalDevice, &queueFamilyCount, nil)
	queueFamilies := make([]vk.QueueFamilyProperties, queueFamilyCount)
	vk.GetPhysicalDeviceQueueFamilyProperties(physicalDevice, &queueFamilyCount, queueFamilies)

	flags := make([]vk.QueueFlags, queueFamilyCount)
	for i := range queueFamilies {
		queueFamilies[i].Deref()
		flags[i] = queueFamilies[i].QueueFlags
	}
	*outQueueInfo = SelectQueueFamilies(flags)

	core.LogDebug("Graphics Family Index: %d", outQueueInfo.GraphicsFamilyIndex)
	core.LogDebug("Transfer Family Index: %d", outQueueInfo.TransferFamilyIndex)

	if requirements.Graphics && outQueueInfo.GraphicsFamilyIndex < 0 {
		return false
	}
	if requirements.Transfer && outQueueInfo.TransferFamilyIndex < 0 {
		return false
	}
	core.LogInfo("Device meets queue requirements.")
	return true
}

// SelectPhysicalDevice takes the first device meeting the requirements,
// trying discrete GPUs first.
func SelectPhysicalDevice(context *VulkanContext) error {
	var physicalDeviceCount uint32
	if res := vk.EnumeratePhysicalDevices(context.Instance, &physicalDeviceCount, nil); res != vk.Success {
		return vulkanError(res, "failed to enumerate physical devices")
	}
	if physicalDeviceCount == 0 {
		err := errors.New("no devices which support Vulkan were found")
		core.LogError(err.Error())
		return err
	}
	physicalDevices := make([]vk.PhysicalDevice, physicalDeviceCount)
	if res := vk.EnumeratePhysicalDevices(context.Instance, &physicalDeviceCount, physicalDevices); res != vk.Success {
		return vulkanError(res, "failed to enumerate physical devices")
	}

	passes := []bool{true, false}
	if runtime.GOOS == "darwin" {
		passes = []bool{false}
	}

	for _, discrete := range passes {
		for _, physicalDevice := range physicalDevices {
			properties := vk.PhysicalDeviceProperties{}
			vk.GetPhysicalDeviceProperties(physicalDevice, &properties)
			properties.Deref()

			requirements := VulkanPhysicalDeviceRequirements{
				Graphics:    true,
				Transfer:    true,
				DiscreteGPU: discrete,
			}
			queueInfo := VulkanPhysicalDeviceQueueFamilyInfo{}
			if !PhysicalDeviceMeetsRequirements(physicalDevice, &properties, &requirements, &queueInfo) {
				continue
			}

			features := vk.PhysicalDeviceFeatures{}
			vk.GetPhysicalDeviceFeatures(physicalDevice, &features)
			features.Deref()

			memory := vk.PhysicalDeviceMemoryProperties{}
			vk.GetPhysicalDeviceMemoryProperties(physicalDevice, &memory)
			memory.Deref()

			logDeviceInfo(&properties, &memory)

			context.Device.PhysicalDevice = physicalDevice
			context.Device.GraphicsQueueIndex = queueInfo.GraphicsFamilyIndex
			context.Device.TransferQueueIndex = queueInfo.TransferFamilyIndex
			// Keep a copy of properties, features and memory info for later use.
			context.Device.Properties = properties
			context.Device.Features = features
			context.Device.Memory = memory

			core.LogInfo("Physical device selected.")
			return nil
		}
	}

	err := errors.New("no physical devices were found which meet the requirements")
	core.LogError(err.Error())
	return err
}

func logDeviceInfo(properties *vk.PhysicalDeviceProperties, memory *vk.PhysicalDeviceMemoryProperties) {
	core.LogInfo("Selected device: '%s'.", vk.ToString(properties.DeviceName[:]))
	switch properties.DeviceType {
	case vk.PhysicalDeviceTypeIntegratedGpu:
		core.LogInfo("GPU type is Integrated.")
	case vk.PhysicalDeviceTypeDiscreteGpu:
		core.LogInfo("GPU type is Discrete.")
	case vk.PhysicalDeviceTypeVirtualGpu:
		core.LogInfo("GPU type is Virtual.")
	case vk.PhysicalDeviceTypeCpu:
		core.LogInfo("GPU type is CPU.")
	default:
		core.LogInfo("GPU type is Unknown.")
	}

	core.LogInfo(
		"GPU Driver version: %d.%d.%d",
		vk.Version(properties.DriverVersion).Major(),
		vk.Version(properties.DriverVersion).Minor(),
		vk.Version(properties.DriverVersion).Patch(),
	)
	core.LogInfo(
		"Vulkan API version: %d.%d.%d",
		vk.Version(properties.ApiVersion).Major(),
		vk.Version(properties.ApiVersion).Minor(),
		vk.Version(properties.ApiVersion).Patch(),
	)

	for j := uint32(0); j < memory.MemoryHeapCount; j++ {
		memory.MemoryHeaps[j].Deref()
		memorySizeGib := float64(memory.MemoryHeaps[j].Size) / 1024.0 / 1024.0 / 1024.0
		if memory.MemoryHeaps[j].Flags&vk.MemoryHeapFlags(vk.MemoryHeapDeviceLocalBit) != 0 {
			core.LogInfo("Local GPU memory: %.2f GiB", memorySizeGib)
		} else {
			core.LogInfo("Shared System memory: %.2f GiB", memorySizeGib)
		}
	}
}

// DeviceCreate selects a physical device, creates the logical device with
// one graphics and one transfer queue and a command pool per family.
func DeviceCreate(context *VulkanContext) error {
	if err := SelectPhysicalDevice(context); err != nil {
		return err
	}

	core.LogInfo("Creating logical device...")

	// NOTE: Do not create additional queues for shared indices.
	indices := []uint32{uint32(context.Device.GraphicsQueueIndex)}
	if context.Device.TransferQueueIndex != context.Device.GraphicsQueueIndex {
		indices = append(indices, uint32(context.Device.TransferQueueIndex))
	}

	queueCreateInfos := make([]vk.DeviceQueueCreateInfo, len(indices))
	for i, index := range indices {
		queueCreateInfos[i] = vk.DeviceQueueCreateInfo{
			SType:            vk.StructureTypeDeviceQueueCreateInfo,
			QueueFamilyIndex: index,
			QueueCount:       1,
			PQueuePriorities: []float32{1.0},
		}
	}

	extensionNames := []string{}
	if deviceHasExtension(context.Device.PhysicalDevice, "VK_KHR_portability_subset") {
		core.LogInfo("Adding required extension 'VK_KHR_portability_subset'.")
		extensionNames = append(extensionNames, "VK_KHR_portability_subset")
	}

	deviceCreateInfo := vk.DeviceCreateInfo{
		SType:                   vk.StructureTypeDeviceCreateInfo,
		QueueCreateInfoCount:    uint32(len(queueCreateInfos)),
		PQueueCreateInfos:       queueCreateInfos,
		EnabledExtensionCount:   uint32(len(extensionNames)),
		PpEnabledExtensionNames: VulkanSafeStrings(extensionNames),
	}

	var logicalDevice vk.Device
	if res := vk.CreateDevice(context.Device.PhysicalDevice, &deviceCreateInfo, context.Allocator, &logicalDevice); res != vk.Success {
		return vulkanError(res, "failed to create logical device")
	}
	context.Device.LogicalDevice = logicalDevice
	core.LogInfo("Logical device created.")

	// Get queues.
	var graphicsQueue, transferQueue vk.Queue
	vk.GetDeviceQueue(logicalDevice, uint32(context.Device.GraphicsQueueIndex), 0, &graphicsQueue)
	vk.GetDeviceQueue(logicalDevice, uint32(context.Device.TransferQueueIndex), 0, &transferQueue)
	context.Device.GraphicsQueue = graphicsQueue
	context.Device.TransferQueue = transferQueue
	core.LogInfo("Queues obtained.")

	graphicsPool, err := createCommandPool(context, uint32(context.Device.GraphicsQueueIndex))
	if err != nil {
		return err
	}
	context.Device.GraphicsCommandPool = graphicsPool

	transferPool, err := createCommandPool(context, uint32(context.Device.TransferQueueIndex))
	if err != nil {
		return err
	}
	context.Device.TransferCommandPool = transferPool
	core.LogInfo("Command pools created.")

	return nil
}

func createCommandPool(context *VulkanContext, familyIndex uint32) (vk.CommandPool, error) {
	poolCreateInfo := vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		QueueFamilyIndex: familyIndex,
		Flags:            vk.CommandPoolCreateFlags(vk.CommandPoolCreateResetCommandBufferBit | vk.CommandPoolCreateTransientBit),
	}
	var pool vk.CommandPool
	if res := vk.CreateCommandPool(context.Device.LogicalDevice, &poolCreateInfo, context.Allocator, &pool); res != vk.Success {
		return nil, vulkanError(res, "failed to create command pool")
	}
	return pool, nil
}

func deviceHasExtension(physicalDevice vk.PhysicalDevice, name string) bool {
	var count uint32
	if res := vk.EnumerateDeviceExtensionProperties(physicalDevice, "", &count, nil); res != vk.Success || count == 0 {
		return false
	}
	available := make([]vk.ExtensionProperties, count)
	if res := vk.EnumerateDeviceExtensionProperties(physicalDevice, "", &count, available); res != vk.Success {
		return false
	}
	for i := range available {
		available[i].Deref()
		if vk.ToString(available[i].ExtensionName[:]) == name {
			return true
		}
	}
	return false
}

func DeviceDestroy(context *VulkanContext) {
	if context.Device.LogicalDevice == nil {
		return
	}
	// Unset queues
	context.Device.GraphicsQueue = nil
	context.Device.TransferQueue = nil

	core.LogInfo("Destroying command pools...")
	vk.DestroyCommandPool(context.Device.LogicalDevice, context.Device.GraphicsCommandPool, context.Allocator)
	vk.DestroyCommandPool(context.Device.LogicalDevice, context.Device.TransferCommandPool, context.Allocator)
	context.Device.GraphicsCommandPool = nil
	context.Device.TransferCommandPool = nil

	core.LogInfo("Destroying logical device...")
	vk.DestroyDevice(context.Device.LogicalDevice, context.Allocator)
	context.Device.LogicalDevice = nil

	// Physical devices are not destroyed.
	context.Device.PhysicalDevice = nil
	context.Device.GraphicsQueueIndex = -1
	context.Device.TransferQueueIndex = -1
}

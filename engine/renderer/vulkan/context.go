package vulkan

import (
	"runtime"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/go-gl/glfw/v3.3/glfw"
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/meshbuf/engine/core"
	"github.com/spaghettifunk/meshbuf/engine/renderer/device"
)

const validationLayerName = "VK_LAYER_KHRONOS_validation"

var _ device.Context = (*VulkanContext)(nil)

// VulkanContext is a headless device.Context over goki/vulkan. Vulkan
// objects are kept in an identifier table and handed out as opaque handles.
type VulkanContext struct {
	Instance  vk.Instance
	Allocator *vk.AllocationCallbacks

	debugMessenger vk.DebugReportCallback

	Device *VulkanDevice

	appName     string
	validation  bool
	objects     *core.IdentifierPool
	memoryTypes []device.MemoryType
	families    map[device.QueueKind]device.QueueFamily
}

func NewVulkanContext(appName string, validation bool) *VulkanContext {
	return &VulkanContext{
		Allocator:  nil,
		Device:     &VulkanDevice{GraphicsQueueIndex: -1, TransferQueueIndex: -1},
		appName:    appName,
		validation: validation,
		objects:    core.NewIdentifierPool(256),
		families:   make(map[device.QueueKind]device.QueueFamily, 2),
	}
}

// Initialize loads Vulkan through glfw, creates the instance and the
// logical device. Must be called on the main thread.
func (vc *VulkanContext) Initialize() error {
	if err := glfw.Init(); err != nil {
		core.LogError("failed to initialize glfw: %s", err)
		return err
	}
	procAddr := glfw.GetVulkanGetInstanceProcAddress()
	if procAddr == nil {
		err := errors.New("GetInstanceProcAddress is nil")
		core.LogError(err.Error())
		return err
	}
	vk.SetGetInstanceProcAddr(procAddr)

	if err := vk.Init(); err != nil {
		core.LogError("failed to initialize vk: %s", err)
		return err
	}

	if err := vc.createInstance(); err != nil {
		return err
	}

	if vc.validation {
		if err := vc.createDebugger(); err != nil {
			return err
		}
	}

	if err := DeviceCreate(vc); err != nil {
		core.LogError("Failed to create device!")
		return err
	}

	vc.memoryTypes = MemoryTypesFromProperties(&vc.Device.Memory)
	vc.families[device.QueueKindGraphics] = device.QueueFamily{
		Index:       uint32(vc.Device.GraphicsQueueIndex),
		Queue:       device.QueueHandle(vc.objects.Acquire(vc.Device.GraphicsQueue)),
		CommandPool: device.CommandPoolHandle(vc.objects.Acquire(vc.Device.GraphicsCommandPool)),
	}
	vc.families[device.QueueKindTransfer] = device.QueueFamily{
		Index:       uint32(vc.Device.TransferQueueIndex),
		Queue:       device.QueueHandle(vc.objects.Acquire(vc.Device.TransferQueue)),
		CommandPool: device.CommandPoolHandle(vc.objects.Acquire(vc.Device.TransferCommandPool)),
	}

	core.LogInfo("Vulkan context initialized successfully.")
	return nil
}

func (vc *VulkanContext) createInstance() error {
	appInfo := &vk.ApplicationInfo{
		SType:              vk.StructureTypeApplicationInfo,
		ApiVersion:         uint32(vk.MakeVersion(1, 1, 0)),
		ApplicationVersion: uint32(vk.MakeVersion(1, 0, 0)),
		PApplicationName:   VulkanSafeString(vc.appName),
		PEngineName:        VulkanSafeString("meshbuf"),
	}

	createInfo := vk.InstanceCreateInfo{
		SType:            vk.StructureTypeInstanceCreateInfo,
		PApplicationInfo: appInfo,
	}

	// No surface is created, so no window system extensions are needed.
	requiredExtensions := []string{}
	if runtime.GOOS == "darwin" {
		requiredExtensions = append(requiredExtensions,
			"VK_KHR_portability_enumeration",
			"VK_KHR_get_physical_device_properties2",
		)
		createInfo.Flags |= 1
	}

	requiredLayers := []string{}
	if vc.validation {
		requiredExtensions = append(requiredExtensions, vk.ExtDebugReportExtensionName)
		if err := checkValidationLayer(); err != nil {
			return err
		}
		requiredLayers = append(requiredLayers, validationLayerName)
	}

	createInfo.EnabledExtensionCount = uint32(len(requiredExtensions))
	createInfo.PpEnabledExtensionNames = VulkanSafeStrings(requiredExtensions)
	createInfo.EnabledLayerCount = uint32(len(requiredLayers))
	createInfo.PpEnabledLayerNames = VulkanSafeStrings(requiredLayers)

	var instance vk.Instance
	if res := vk.CreateInstance(&createInfo, vc.Allocator, &instance); res != vk.Success {
		return vulkanError(res, "failed in creating the Vulkan Instance")
	}
	vc.Instance = instance
	if err := vk.InitInstance(vc.Instance); err != nil {
		core.LogError(err.Error())
		return err
	}

	core.LogInfo("Vulkan Instance created.")
	return nil
}

func checkValidationLayer() error {
	core.LogInfo("Validation layers enabled. Enumerating...")

	var count uint32
	if res := vk.EnumerateInstanceLayerProperties(&count, nil); res != vk.Success {
		return vulkanError(res, "failed to enumerate instance layers")
	}
	available := make([]vk.LayerProperties, count)
	if res := vk.EnumerateInstanceLayerProperties(&count, available); res != vk.Success {
		return vulkanError(res, "failed to enumerate instance layers")
	}
	for i := range available {
		available[i].Deref()
		if vk.ToString(available[i].LayerName[:]) == validationLayerName {
			core.LogInfo("All required validation layers are present.")
			return nil
		}
	}
	err := errors.Newf("required validation layer is missing: %s", validationLayerName)
	core.LogError(err.Error())
	return err
}

func (vc *VulkanContext) createDebugger() error {
	core.LogDebug("Creating Vulkan debugger...")
	debugCreateInfo := vk.DebugReportCallbackCreateInfo{
		SType:       vk.StructureTypeDebugReportCallbackCreateInfo,
		Flags:       vk.DebugReportFlags(vk.DebugReportErrorBit | vk.DebugReportWarningBit | vk.DebugReportPerformanceWarningBit),
		PfnCallback: dbgCallbackFunc,
	}
	var dbg vk.DebugReportCallback
	if err := vk.Error(vk.CreateDebugReportCallback(vc.Instance, &debugCreateInfo, nil, &dbg)); err != nil {
		core.LogError("vk.CreateDebugReportCallback failed with %s", err)
		return err
	}
	vc.debugMessenger = dbg
	core.LogDebug("Vulkan debugger created.")
	return nil
}

func dbgCallbackFunc(flags vk.DebugReportFlags, objectType vk.DebugReportObjectType, object uint64, location uint64, messageCode int32, pLayerPrefix string, pMessage string, pUserData unsafe.Pointer) vk.Bool32 {
	switch {
	case flags&vk.DebugReportFlags(vk.DebugReportErrorBit) != 0:
		core.LogError("ERROR: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	case flags&vk.DebugReportFlags(vk.DebugReportWarningBit) != 0:
		core.LogWarn("WARNING: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	case flags&vk.DebugReportFlags(vk.DebugReportPerformanceWarningBit) != 0:
		core.LogWarn("PERFORMANCE WARNING: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	default:
		core.LogInfo("INFORMATION: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	}
	return vk.Bool32(vk.False)
}

// Shutdown waits for the device, releases whatever buffers and allocations
// are still alive and tears the instance down.
func (vc *VulkanContext) Shutdown() {
	if vc.Device.LogicalDevice != nil {
		vk.DeviceWaitIdle(vc.Device.LogicalDevice)

		var ids []uint32
		vc.objects.Range(func(id uint32, owner interface{}) bool {
			switch o := owner.(type) {
			case vk.Buffer:
				core.LogWarn("Destroying leaked buffer %d.", id)
				vk.DestroyBuffer(vc.Device.LogicalDevice, o, vc.Allocator)
			case vk.DeviceMemory:
				core.LogWarn("Freeing leaked device memory %d.", id)
				vk.FreeMemory(vc.Device.LogicalDevice, o, vc.Allocator)
			}
			ids = append(ids, id)
			return true
		})
		for _, id := range ids {
			_ = vc.objects.Release(id)
		}
		DeviceDestroy(vc)
	}

	if vc.debugMessenger != nil {
		core.LogDebug("Destroying Vulkan debugger...")
		vk.DestroyDebugReportCallback(vc.Instance, vc.debugMessenger, vc.Allocator)
		vc.debugMessenger = nil
	}

	if vc.Instance != nil {
		core.LogDebug("Destroying Vulkan instance...")
		vk.DestroyInstance(vc.Instance, vc.Allocator)
		vc.Instance = nil
	}
	glfw.Terminate()
}

func (vc *VulkanContext) lookup(handle uint32) interface{} {
	o, _ := vc.objects.Owner(handle)
	return o
}

func (vc *VulkanContext) buffer(handle device.BufferHandle) vk.Buffer {
	b, _ := vc.lookup(uint32(handle)).(vk.Buffer)
	return b
}

func (vc *VulkanContext) memory(handle device.MemoryHandle) vk.DeviceMemory {
	m, _ := vc.lookup(uint32(handle)).(vk.DeviceMemory)
	return m
}

func (vc *VulkanContext) commandBuffer(handle device.CommandBufferHandle) vk.CommandBuffer {
	c, _ := vc.lookup(uint32(handle)).(vk.CommandBuffer)
	return c
}

func (vc *VulkanContext) MemoryTypes() []device.MemoryType {
	return vc.memoryTypes
}

func (vc *VulkanContext) QueueFamily(kind device.QueueKind) device.QueueFamily {
	return vc.families[kind]
}

func (vc *VulkanContext) CreateBuffer(size uint64, usage vk.BufferUsageFlags) (device.BufferHandle, error) {
	bufferInfo := vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:        vk.DeviceSize(size),
		Usage:       usage,
		SharingMode: vk.SharingModeExclusive, // NOTE: Only used in one queue.
	}
	var buffer vk.Buffer
	if res := vk.CreateBuffer(vc.Device.LogicalDevice, &bufferInfo, vc.Allocator, &buffer); res != vk.Success {
		return device.NullBuffer, vulkanError(res, "failed to create buffer")
	}
	return device.BufferHandle(vc.objects.Acquire(buffer)), nil
}

func (vc *VulkanContext) BufferMemoryRequirements(handle device.BufferHandle) device.MemoryRequirements {
	var requirements vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(vc.Device.LogicalDevice, vc.buffer(handle), &requirements)
	requirements.Deref()
	return device.MemoryRequirements{
		Size:           uint64(requirements.Size),
		Alignment:      uint64(requirements.Alignment),
		MemoryTypeBits: requirements.MemoryTypeBits,
	}
}

func (vc *VulkanContext) AllocateMemory(size uint64, memoryTypeIndex uint32) (device.MemoryHandle, error) {
	allocateInfo := vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  vk.DeviceSize(size),
		MemoryTypeIndex: memoryTypeIndex,
	}
	var memory vk.DeviceMemory
	if res := vk.AllocateMemory(vc.Device.LogicalDevice, &allocateInfo, vc.Allocator, &memory); res != vk.Success {
		return device.NullMemory, vulkanError(res, "failed to allocate memory")
	}
	return device.MemoryHandle(vc.objects.Acquire(memory)), nil
}

func (vc *VulkanContext) BindBufferMemory(buffer device.BufferHandle, memory device.MemoryHandle, offset uint64) error {
	if res := vk.BindBufferMemory(vc.Device.LogicalDevice, vc.buffer(buffer), vc.memory(memory), vk.DeviceSize(offset)); res != vk.Success {
		return vulkanError(res, "failed to bind buffer memory")
	}
	return nil
}

func (vc *VulkanContext) MapMemory(memory device.MemoryHandle, offset, size uint64) ([]byte, error) {
	var data unsafe.Pointer
	if res := vk.MapMemory(vc.Device.LogicalDevice, vc.memory(memory), vk.DeviceSize(offset), vk.DeviceSize(size), 0, &data); res != vk.Success {
		return nil, vulkanError(res, "failed to map memory")
	}
	return unsafe.Slice((*byte)(data), size), nil
}

func (vc *VulkanContext) UnmapMemory(memory device.MemoryHandle) {
	vk.UnmapMemory(vc.Device.LogicalDevice, vc.memory(memory))
}

func (vc *VulkanContext) DestroyBuffer(handle device.BufferHandle) {
	if b := vc.buffer(handle); b != nil {
		vk.DestroyBuffer(vc.Device.LogicalDevice, b, vc.Allocator)
		_ = vc.objects.Release(uint32(handle))
	}
}

func (vc *VulkanContext) FreeMemory(handle device.MemoryHandle) {
	if m := vc.memory(handle); m != nil {
		vk.FreeMemory(vc.Device.LogicalDevice, m, vc.Allocator)
		_ = vc.objects.Release(uint32(handle))
	}
}

func (vc *VulkanContext) AllocateCommandBuffer(pool device.CommandPoolHandle) (device.CommandBufferHandle, error) {
	commandPool, ok := vc.lookup(uint32(pool)).(vk.CommandPool)
	if !ok {
		err := errors.Newf("invalid command pool handle %d", pool)
		core.LogError(err.Error())
		return device.NullCommandBuffer, err
	}
	allocateInfo := vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        commandPool,
		Level:              vk.CommandBufferLevelPrimary,
		CommandBufferCount: 1,
	}
	commandBuffers := make([]vk.CommandBuffer, 1)
	if res := vk.AllocateCommandBuffers(vc.Device.LogicalDevice, &allocateInfo, commandBuffers); res != vk.Success {
		return device.NullCommandBuffer, vulkanError(res, "failed to allocate command buffer")
	}
	return device.CommandBufferHandle(vc.objects.Acquire(commandBuffers[0])), nil
}

func (vc *VulkanContext) BeginCommandBuffer(cmd device.CommandBufferHandle, flags vk.CommandBufferUsageFlags) error {
	beginInfo := vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
		Flags: flags,
	}
	if res := vk.BeginCommandBuffer(vc.commandBuffer(cmd), &beginInfo); res != vk.Success {
		return vulkanError(res, "failed to begin command buffer")
	}
	return nil
}

func (vc *VulkanContext) CmdCopyBuffer(cmd device.CommandBufferHandle, src, dst device.BufferHandle, regions []device.BufferCopy) {
	copies := make([]vk.BufferCopy, len(regions))
	for i, r := range regions {
		copies[i] = vk.BufferCopy{
			SrcOffset: vk.DeviceSize(r.SrcOffset),
			DstOffset: vk.DeviceSize(r.DstOffset),
			Size:      vk.DeviceSize(r.Size),
		}
	}
	vk.CmdCopyBuffer(vc.commandBuffer(cmd), vc.buffer(src), vc.buffer(dst), uint32(len(copies)), copies)
}

func (vc *VulkanContext) EndCommandBuffer(cmd device.CommandBufferHandle) error {
	if res := vk.EndCommandBuffer(vc.commandBuffer(cmd)); res != vk.Success {
		return vulkanError(res, "failed to end command buffer")
	}
	return nil
}

func (vc *VulkanContext) QueueSubmit(queue device.QueueHandle, cmd device.CommandBufferHandle) error {
	q, _ := vc.lookup(uint32(queue)).(vk.Queue)
	submitInfo := vk.SubmitInfo{
		SType:              vk.StructureTypeSubmitInfo,
		CommandBufferCount: 1,
		PCommandBuffers:    []vk.CommandBuffer{vc.commandBuffer(cmd)},
	}
	if res := vk.QueueSubmit(q, 1, []vk.SubmitInfo{submitInfo}, vk.NullFence); res != vk.Success {
		return vulkanError(res, "failed submit info to queue")
	}
	return nil
}

func (vc *VulkanContext) QueueWaitIdle(queue device.QueueHandle) error {
	q, _ := vc.lookup(uint32(queue)).(vk.Queue)
	if res := vk.QueueWaitIdle(q); res != vk.Success {
		return vulkanError(res, "queue failed to wait in idle mode")
	}
	return nil
}

func (vc *VulkanContext) FreeCommandBuffer(pool device.CommandPoolHandle, cmd device.CommandBufferHandle) {
	commandPool, ok := vc.lookup(uint32(pool)).(vk.CommandPool)
	commandBuffer := vc.commandBuffer(cmd)
	if !ok || commandBuffer == nil {
		return
	}
	vk.FreeCommandBuffers(vc.Device.LogicalDevice, commandPool, 1, []vk.CommandBuffer{commandBuffer})
	_ = vc.objects.Release(uint32(cmd))
}

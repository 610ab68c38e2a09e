package vulkan

import (
	"fmt"
	"runtime"
	"strings"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/spritelayers/engine/core"
)

/**
 * @brief The selected physical device, its logical device and the single queue every
 * command list is submitted to.
 */
type VulkanDevice struct {
	PhysicalDevice   vk.PhysicalDevice
	LogicalDevice    vk.Device
	SwapchainSupport VulkanSwapchainSupportInfo

	/** @brief Queue family supporting graphics, compute and present. */
	QueueIndex uint32
	Queue      vk.Queue

	CommandPool vk.CommandPool

	Properties vk.PhysicalDeviceProperties
	Features   vk.PhysicalDeviceFeatures
	Memory     vk.PhysicalDeviceMemoryProperties
}

type VulkanSwapchainSupportInfo struct {
	Capabilities     vk.SurfaceCapabilities
	FormatCount      uint32
	Formats          []vk.SurfaceFormat
	PresentModeCount uint32
	PresentModes     []vk.PresentMode
}

type VulkanPhysicalDeviceRequirements struct {
	DeviceExtensionNames []string
	DiscreteGPU          bool
}

func DeviceCreate(context *VulkanContext) error {
	device, err := SelectPhysicalDevice(context)
	if err != nil {
		return err
	}
	context.Device = device

	core.LogInfo("Creating logical device...")

	queueCreateInfos := []vk.DeviceQueueCreateInfo{{
		SType:            vk.StructureTypeDeviceQueueCreateInfo,
		QueueFamilyIndex: device.QueueIndex,
		QueueCount:       1,
		PQueuePriorities: []float32{1.0},
	}}

	// The shaders index descriptor arrays with push constant values.
	deviceFeatures := vk.PhysicalDeviceFeatures{
		ShaderSampledImageArrayDynamicIndexing:  device.Features.ShaderSampledImageArrayDynamicIndexing,
		ShaderStorageBufferArrayDynamicIndexing: device.Features.ShaderStorageBufferArrayDynamicIndexing,
		ShaderUniformBufferArrayDynamicIndexing: device.Features.ShaderUniformBufferArrayDynamicIndexing,
	}

	extensionNames := []string{vk.KhrSwapchainExtensionName}
	if hasDeviceExtension(device.PhysicalDevice, "VK_KHR_portability_subset") {
		core.LogInfo("Adding required extension 'VK_KHR_portability_subset'.")
		extensionNames = append(extensionNames, "VK_KHR_portability_subset")
	}

	deviceCreateInfo := vk.DeviceCreateInfo{
		SType:                   vk.StructureTypeDeviceCreateInfo,
		QueueCreateInfoCount:    uint32(len(queueCreateInfos)),
		PQueueCreateInfos:       queueCreateInfos,
		PEnabledFeatures:        []vk.PhysicalDeviceFeatures{deviceFeatures},
		EnabledExtensionCount:   uint32(len(extensionNames)),
		PpEnabledExtensionNames: VulkanSafeStrings(extensionNames),
	}

	if res := vk.CreateDevice(device.PhysicalDevice, &deviceCreateInfo, context.Allocator, &device.LogicalDevice); !VulkanResultIsSuccess(res) {
		err := resultError("vkCreateDevice", res)
		core.LogError(err.Error())
		return err
	}
	core.LogInfo("Logical device created.")

	var queue vk.Queue
	vk.GetDeviceQueue(device.LogicalDevice, device.QueueIndex, 0, &queue)
	device.Queue = queue
	core.LogInfo("Queue obtained.")

	// Command lists are reset individually every time they are recorded.
	poolCreateInfo := vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		QueueFamilyIndex: device.QueueIndex,
		Flags:            vk.CommandPoolCreateFlags(vk.CommandPoolCreateResetCommandBufferBit),
	}
	var pool vk.CommandPool
	if res := vk.CreateCommandPool(device.LogicalDevice, &poolCreateInfo, context.Allocator, &pool); !VulkanResultIsSuccess(res) {
		err := resultError("vkCreateCommandPool", res)
		core.LogError(err.Error())
		return err
	}
	device.CommandPool = pool
	core.LogInfo("Command pool created.")

	return nil
}

func DeviceDestroy(context *VulkanContext) {
	device := context.Device
	if device == nil {
		return
	}
	device.Queue = nil

	if device.CommandPool != nil {
		core.LogInfo("Destroying command pool...")
		vk.DestroyCommandPool(device.LogicalDevice, device.CommandPool, context.Allocator)
		device.CommandPool = nil
	}

	if device.LogicalDevice != nil {
		core.LogInfo("Destroying logical device...")
		vk.DestroyDevice(device.LogicalDevice, context.Allocator)
		device.LogicalDevice = nil
	}

	// Physical devices are not destroyed.
	device.PhysicalDevice = nil
	device.SwapchainSupport = VulkanSwapchainSupportInfo{}
	context.Device = nil
}

func DeviceQuerySwapchainSupport(physicalDevice vk.PhysicalDevice, surface vk.Surface, supportInfo *VulkanSwapchainSupportInfo) error {
	// Surface capabilities
	if res := vk.GetPhysicalDeviceSurfaceCapabilities(physicalDevice, surface, &supportInfo.Capabilities); !VulkanResultIsSuccess(res) {
		return resultError("vkGetPhysicalDeviceSurfaceCapabilities", res)
	}
	supportInfo.Capabilities.Deref()
	supportInfo.Capabilities.CurrentExtent.Deref()
	supportInfo.Capabilities.MinImageExtent.Deref()
	supportInfo.Capabilities.MaxImageExtent.Deref()

	// Surface formats
	if res := vk.GetPhysicalDeviceSurfaceFormats(physicalDevice, surface, &supportInfo.FormatCount, nil); !VulkanResultIsSuccess(res) {
		return resultError("vkGetPhysicalDeviceSurfaceFormats", res)
	}
	if supportInfo.FormatCount != 0 {
		supportInfo.Formats = make([]vk.SurfaceFormat, supportInfo.FormatCount)
		if res := vk.GetPhysicalDeviceSurfaceFormats(physicalDevice, surface, &supportInfo.FormatCount, supportInfo.Formats); !VulkanResultIsSuccess(res) {
			return resultError("vkGetPhysicalDeviceSurfaceFormats", res)
		}
		for i := range supportInfo.Formats {
			supportInfo.Formats[i].Deref()
		}
	}

	// Present modes
	if res := vk.GetPhysicalDeviceSurfacePresentModes(physicalDevice, surface, &supportInfo.PresentModeCount, nil); !VulkanResultIsSuccess(res) {
		return resultError("vkGetPhysicalDeviceSurfacePresentModes", res)
	}
	if supportInfo.PresentModeCount != 0 {
		supportInfo.PresentModes = make([]vk.PresentMode, supportInfo.PresentModeCount)
		if res := vk.GetPhysicalDeviceSurfacePresentModes(physicalDevice, surface, &supportInfo.PresentModeCount, supportInfo.PresentModes); !VulkanResultIsSuccess(res) {
			return resultError("vkGetPhysicalDeviceSurfacePresentModes", res)
		}
	}
	return nil
}

func SelectPhysicalDevice(context *VulkanContext) (*VulkanDevice, error) {
	var physicalDeviceCount uint32
	if res := vk.EnumeratePhysicalDevices(context.Instance, &physicalDeviceCount, nil); !VulkanResultIsSuccess(res) {
		return nil, resultError("vkEnumeratePhysicalDevices", res)
	}
	if physicalDeviceCount == 0 {
		return nil, fmt.Errorf("no devices which support Vulkan were found")
	}

	physicalDevices := make([]vk.PhysicalDevice, physicalDeviceCount)
	if res := vk.EnumeratePhysicalDevices(context.Instance, &physicalDeviceCount, physicalDevices); !VulkanResultIsSuccess(res) {
		return nil, resultError("vkEnumeratePhysicalDevices", res)
	}

	requirements := VulkanPhysicalDeviceRequirements{
		DeviceExtensionNames: []string{vk.KhrSwapchainExtensionName},
	}

	for _, physicalDevice := range physicalDevices {
		device := &VulkanDevice{PhysicalDevice: physicalDevice}

		vk.GetPhysicalDeviceProperties(physicalDevice, &device.Properties)
		device.Properties.Deref()
		vk.GetPhysicalDeviceFeatures(physicalDevice, &device.Features)
		device.Features.Deref()
		vk.GetPhysicalDeviceMemoryProperties(physicalDevice, &device.Memory)
		device.Memory.Deref()

		queueIndex, ok := PhysicalDeviceMeetsRequirements(physicalDevice, context.Surface, &device.Properties, &requirements, &device.SwapchainSupport)
		if !ok {
			continue
		}
		device.QueueIndex = queueIndex

		core.LogInfo("Selected device: '%s'.", cString(device.Properties.DeviceName[:]))
		switch device.Properties.DeviceType {
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
			"Vulkan API version: %d.%d.%d",
			vk.Version(device.Properties.ApiVersion).Major(),
			vk.Version(device.Properties.ApiVersion).Minor(),
			vk.Version(device.Properties.ApiVersion).Patch(),
		)
		for j := uint32(0); j < device.Memory.MemoryHeapCount; j++ {
			heap := device.Memory.MemoryHeaps[j]
			heap.Deref()
			memorySizeMib := uint64(heap.Size) / 1024 / 1024
			if heap.Flags&vk.MemoryHeapFlags(vk.MemoryHeapDeviceLocalBit) != 0 {
				core.LogInfo("Local GPU memory: %d MiB", memorySizeMib)
			} else {
				core.LogInfo("Shared System memory: %d MiB", memorySizeMib)
			}
		}

		core.LogInfo("Physical device selected.")
		return device, nil
	}

	return nil, fmt.Errorf("no physical devices were found which meet the requirements")
}

// PhysicalDeviceMeetsRequirements returns a queue family able to record graphics and compute
// work and to present to surface.
func PhysicalDeviceMeetsRequirements(device vk.PhysicalDevice, surface vk.Surface, properties *vk.PhysicalDeviceProperties, requirements *VulkanPhysicalDeviceRequirements, outSwapchainSupport *VulkanSwapchainSupportInfo) (uint32, bool) {
	name := cString(properties.DeviceName[:])

	if requirements.DiscreteGPU && runtime.GOOS != "darwin" && properties.DeviceType != vk.PhysicalDeviceTypeDiscreteGpu {
		core.LogInfo("Device %s is not a discrete GPU, and one is required. Skipping.", name)
		return 0, false
	}

	var queueFamilyCount uint32
	vk.GetPhysicalDeviceQueueFamilyProperties(device, &queueFamilyCount, nil)
	queueFamilies := make([]vk.QueueFamilyProperties, queueFamilyCount)
	vk.GetPhysicalDeviceQueueFamilyProperties(device, &queueFamilyCount, queueFamilies)

	wanted := vk.QueueFlags(vk.QueueGraphicsBit) | vk.QueueFlags(vk.QueueComputeBit)
	queueIndex := int64(-1)
	core.LogDebug("Family | Graphics | Compute | Present | Name")
	for i := range queueFamilies {
		queueFamilies[i].Deref()
		flags := queueFamilies[i].QueueFlags

		var supportsPresent vk.Bool32
		if res := vk.GetPhysicalDeviceSurfaceSupport(device, uint32(i), surface, &supportsPresent); !VulkanResultIsSuccess(res) {
			return 0, false
		}
		core.LogDebug("%6d | %8t | %7t | %7t | %s", i,
			flags&vk.QueueFlags(vk.QueueGraphicsBit) != 0,
			flags&vk.QueueFlags(vk.QueueComputeBit) != 0,
			supportsPresent == vk.True,
			name)

		if flags&wanted == wanted && supportsPresent == vk.True {
			queueIndex = int64(i)
			break
		}
	}
	if queueIndex < 0 {
		core.LogInfo("Device %s has no queue family with graphics, compute and present. Skipping.", name)
		return 0, false
	}

	if err := DeviceQuerySwapchainSupport(device, surface, outSwapchainSupport); err != nil {
		core.LogWarn("Querying swapchain support of %s: %s", name, err)
		return 0, false
	}
	if outSwapchainSupport.FormatCount < 1 || outSwapchainSupport.PresentModeCount < 1 {
		core.LogInfo("Required swapchain support not present, skipping device.")
		return 0, false
	}

	for _, ext := range requirements.DeviceExtensionNames {
		if !hasDeviceExtension(device, ext) {
			core.LogInfo("Required extension not found: '%s', skipping device.", ext)
			return 0, false
		}
	}

	core.LogInfo("Device %s meets queue requirements (family %d).", name, queueIndex)
	return uint32(queueIndex), true
}

func hasDeviceExtension(device vk.PhysicalDevice, name string) bool {
	name = strings.TrimRight(name, "\x00")
	var count uint32
	if res := vk.EnumerateDeviceExtensionProperties(device, "", &count, nil); !VulkanResultIsSuccess(res) || count == 0 {
		return false
	}
	available := make([]vk.ExtensionProperties, count)
	if res := vk.EnumerateDeviceExtensionProperties(device, "", &count, available); !VulkanResultIsSuccess(res) {
		return false
	}
	for i := range available {
		available[i].Deref()
		if cString(available[i].ExtensionName[:]) == name {
			return true
		}
	}
	return false
}

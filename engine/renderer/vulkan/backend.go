package vulkan

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"unsafe"

	"github.com/go-gl/glfw/v3.3/glfw"
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/spritelayers/engine/config"
	"github.com/spaghettifunk/spritelayers/engine/core"
	"github.com/spaghettifunk/spritelayers/engine/platform"
	"github.com/spaghettifunk/spritelayers/engine/renderer"
	"github.com/spaghettifunk/spritelayers/engine/renderer/metadata"
)

const validationLayerName = "VK_LAYER_KHRONOS_validation"

type VulkanBackend struct {
	platform *platform.Platform
	context  *VulkanContext

	swapchain *VulkanSwapchain
	queue     *VulkanQueue
	shaders   *ShaderModuleCache

	validation bool

	mutex        sync.Mutex
	renderpasses map[vk.Format]*VulkanRenderpass
	heaps        [metadata.HeapKindCount]*VulkanDescriptorHeap
	lost         error
}

func New(p *platform.Platform) *VulkanBackend {
	return &VulkanBackend{
		platform: p,
		context: &VulkanContext{
			Allocator: nil,
			locks:     NewVulkanLockPool(),
		},
		renderpasses: make(map[vk.Format]*VulkanRenderpass),
	}
}

var _ renderer.RendererBackend = (*VulkanBackend)(nil)

func (vr *VulkanBackend) Initialize(appName string, cfg *config.Config) error {
	procAddr := glfw.GetVulkanGetInstanceProcAddress()
	if procAddr == nil {
		return fmt.Errorf("%w: GetInstanceProcAddress is nil", core.ErrResourceCreation)
	}
	vk.SetGetInstanceProcAddr(procAddr)

	if err := vk.Init(); err != nil {
		core.LogError("failed to initialize vk: %s", err)
		return err
	}
	vr.validation = cfg.Renderer.Validation

	if err := vr.createInstance(appName); err != nil {
		return err
	}

	// Debugger
	if vr.validation {
		core.LogDebug("Creating Vulkan debugger...")
		debugCreateInfo := vk.DebugReportCallbackCreateInfo{
			SType:       vk.StructureTypeDebugReportCallbackCreateInfo,
			Flags:       vk.DebugReportFlags(vk.DebugReportErrorBit | vk.DebugReportWarningBit | vk.DebugReportPerformanceWarningBit),
			PfnCallback: dbgCallbackFunc,
		}

		var dbg vk.DebugReportCallback
		if err := vk.Error(vk.CreateDebugReportCallback(vr.context.Instance, &debugCreateInfo, nil, &dbg)); err != nil {
			core.LogError("vk.CreateDebugReportCallback failed with %s", err)
			return err
		}
		vr.context.debugMessenger = dbg
		core.LogDebug("Vulkan debugger created.")
	}

	// Surface
	core.LogDebug("Creating Vulkan surface...")
	surface, err := vr.platform.Window.CreateWindowSurface(vr.context.Instance, nil)
	if err != nil {
		core.LogError("Vulkan surface creation failed.")
		return fmt.Errorf("%w: window surface: %v", core.ErrResourceCreation, err)
	}
	vr.context.Surface = vk.SurfaceFromPointer(surface)
	core.LogDebug("Vulkan surface created.")

	// Device creation
	if err := DeviceCreate(vr.context); err != nil {
		core.LogError("Failed to create device!")
		return err
	}

	// Swapchain
	sc, err := SwapchainCreate(vr.context, cfg.Window.Width, cfg.Window.Height, cfg.Window.VSync, cfg.Renderer.FrameCount)
	if err != nil {
		return err
	}
	vr.swapchain = sc

	shaders, err := NewShaderModuleCache(vr.context)
	if err != nil {
		return err
	}
	vr.shaders = shaders
	vr.queue = &VulkanQueue{backend: vr}

	core.LogInfo("Vulkan renderer initialized successfully.")
	return nil
}

func (vr *VulkanBackend) createInstance(appName string) error {
	appInfo := &vk.ApplicationInfo{
		SType:              vk.StructureTypeApplicationInfo,
		ApiVersion:         uint32(vk.MakeVersion(1, 1, 0)),
		ApplicationVersion: uint32(vk.MakeVersion(1, 0, 0)),
		PApplicationName:   VulkanSafeString(appName),
		PEngineName:        VulkanSafeString("Sprite Layers"),
	}

	createInfo := vk.InstanceCreateInfo{
		SType:            vk.StructureTypeInstanceCreateInfo,
		PApplicationInfo: appInfo,
	}

	// Obtain a list of required extensions
	requiredExtensions := vr.platform.GetRequiredExtensionNames()
	if runtime.GOOS == "darwin" {
		requiredExtensions = append(requiredExtensions,
			"VK_KHR_portability_enumeration",
			"VK_KHR_get_physical_device_properties2",
		)
		// VK_INSTANCE_CREATE_ENUMERATE_PORTABILITY_BIT_KHR
		createInfo.Flags |= 1
	}

	// Validation layers.
	requiredLayers := []string{}
	if vr.validation {
		if vr.hasInstanceLayer(validationLayerName) {
			requiredLayers = append(requiredLayers, validationLayerName)
			requiredExtensions = append(requiredExtensions, vk.ExtDebugReportExtensionName)
			core.LogInfo("Validation layers enabled.")
		} else {
			core.LogWarn("Validation requested but %s is not installed, continuing without it", validationLayerName)
			vr.validation = false
		}
	}

	core.LogDebug("Required extensions:")
	for _, name := range requiredExtensions {
		core.LogDebug(name)
	}

	createInfo.EnabledExtensionCount = uint32(len(requiredExtensions))
	createInfo.PpEnabledExtensionNames = VulkanSafeStrings(requiredExtensions)
	createInfo.EnabledLayerCount = uint32(len(requiredLayers))
	createInfo.PpEnabledLayerNames = VulkanSafeStrings(requiredLayers)

	var instance vk.Instance
	if res := vk.CreateInstance(&createInfo, vr.context.Allocator, &instance); !VulkanResultIsSuccess(res) {
		err := fmt.Errorf("failed in creating the Vulkan Instance with error `%s`", VulkanResultString(res, true))
		core.LogError(err.Error())
		return err
	}
	vr.context.Instance = instance
	if err := vk.InitInstance(instance); err != nil {
		core.LogError(err.Error())
		return err
	}

	core.LogInfo("Vulkan Instance created.")
	return nil
}

func (vr *VulkanBackend) hasInstanceLayer(name string) bool {
	var count uint32
	if res := vk.EnumerateInstanceLayerProperties(&count, nil); !VulkanResultIsSuccess(res) {
		return false
	}
	layers := make([]vk.LayerProperties, count)
	if res := vk.EnumerateInstanceLayerProperties(&count, layers); !VulkanResultIsSuccess(res) {
		return false
	}
	for i := range layers {
		layers[i].Deref()
		if cString(layers[i].LayerName[:]) == name {
			return true
		}
	}
	return false
}

func (vr *VulkanBackend) Shutdown() error {
	context := vr.context
	if context.Device != nil && context.Device.LogicalDevice != nil {
		vk.DeviceWaitIdle(context.Device.LogicalDevice)

		// Destroy in the opposite order of creation.
		if vr.shaders != nil {
			vr.shaders.Purge()
		}
		vr.mutex.Lock()
		for i, heap := range vr.heaps {
			if heap != nil {
				heap.Release()
				vr.heaps[i] = nil
			}
		}
		for format, rp := range vr.renderpasses {
			rp.RenderpassDestroy(context)
			delete(vr.renderpasses, format)
		}
		vr.mutex.Unlock()

		if vr.swapchain != nil {
			vr.swapchain.SwapchainDestroy()
			vr.swapchain = nil
		}

		core.LogDebug("Destroying Vulkan device...")
		DeviceDestroy(context)
	}

	if context.Instance == nil {
		return nil
	}

	core.LogDebug("Destroying Vulkan surface...")
	if context.Surface != vk.NullSurface {
		vk.DestroySurface(context.Instance, context.Surface, context.Allocator)
		context.Surface = vk.NullSurface
	}

	if context.debugMessenger != vk.NullDebugReportCallback {
		core.LogDebug("Destroying Vulkan debugger...")
		vk.DestroyDebugReportCallback(context.Instance, context.debugMessenger, context.Allocator)
		context.debugMessenger = vk.NullDebugReportCallback
	}

	core.LogDebug("Destroying Vulkan instance...")
	vk.DestroyInstance(context.Instance, context.Allocator)
	context.Instance = nil
	return nil
}

func (vr *VulkanBackend) Queue() renderer.CommandQueue {
	if vr.queue == nil {
		return nil
	}
	return vr.queue
}

func (vr *VulkanBackend) Swapchain() renderer.Swapchain {
	if vr.swapchain == nil {
		return nil
	}
	return vr.swapchain
}

func (vr *VulkanBackend) CreateDescriptorHeap(kind metadata.HeapKind, capacity uint32) (renderer.DescriptorHeap, error) {
	if kind >= metadata.HeapKindCount || capacity == 0 {
		return nil, fmt.Errorf("invalid descriptor heap %s with capacity %d", kind, capacity)
	}
	heap, err := DescriptorHeapCreate(vr.context, kind, capacity)
	if err != nil {
		return nil, fmt.Errorf("%w: %s heap: %v", core.ErrResourceCreation, kind, err)
	}
	vr.mutex.Lock()
	if old := vr.heaps[kind]; old != nil {
		core.LogWarn("replacing the %s descriptor heap", kind)
	}
	vr.heaps[kind] = heap
	vr.mutex.Unlock()
	return heap, nil
}

func (vr *VulkanBackend) heap(kind metadata.HeapKind) (*VulkanDescriptorHeap, error) {
	vr.mutex.Lock()
	defer vr.mutex.Unlock()
	if h := vr.heaps[kind]; h != nil {
		return h, nil
	}
	return nil, fmt.Errorf("no %s descriptor heap was created", kind)
}

func (vr *VulkanBackend) targetView(handle metadata.DescriptorHandle) (renderTargetView, error) {
	heap, err := vr.heap(metadata.HeapKindRTV)
	if err != nil {
		return renderTargetView{}, err
	}
	return heap.target(handle)
}

func (vr *VulkanBackend) CreateResource(desc *metadata.ResourceDesc) (renderer.Resource, error) {
	if desc.Dimension == metadata.DimensionTexture2D {
		image, err := ImageCreate(vr.context, desc)
		if err != nil {
			return nil, err
		}
		return image, nil
	}
	buffer, err := BufferCreate(vr.context, desc)
	if err != nil {
		return nil, err
	}
	return buffer, nil
}

// renderpass returns the render pass for format, creating it on first use.
func (vr *VulkanBackend) renderpass(format vk.Format) (*VulkanRenderpass, error) {
	vr.mutex.Lock()
	defer vr.mutex.Unlock()
	if rp, ok := vr.renderpasses[format]; ok {
		return rp, nil
	}
	rp, err := RenderpassCreate(vr.context, format)
	if err != nil {
		return nil, err
	}
	vr.renderpasses[format] = rp
	return rp, nil
}

// CreateRenderTargetView builds a framebuffer over the image. Layer images are cleared to
// transparent so the first frame samples defined contents.
func (vr *VulkanBackend) CreateRenderTargetView(res renderer.Resource, dst metadata.DescriptorHandle) error {
	image, ok := res.(*VulkanImage)
	if !ok || !image.desc.Usage.Has(metadata.UsageRenderTarget) {
		return fmt.Errorf("render target view needs a render target resource")
	}
	heap, err := vr.heap(metadata.HeapKindRTV)
	if err != nil {
		return err
	}
	rp, err := vr.renderpass(image.Format)
	if err != nil {
		return err
	}
	fb, err := FramebufferCreate(vr.context, rp, image.Width, image.Height, image.View)
	if err != nil {
		return err
	}
	if err := heap.setTarget(dst, image, fb); err != nil {
		fb.Destroy(vr.context)
		return err
	}
	if image.swapchainOwned {
		return nil
	}

	return vr.context.SingleUse(func(cmd vk.CommandBuffer) {
		transitionImage(cmd, image.Handle, vk.ImageLayoutShaderReadOnlyOptimal, vk.ImageLayoutColorAttachmentOptimal,
			vk.AccessFlags(vk.AccessShaderReadBit), vk.AccessFlags(vk.AccessColorAttachmentWriteBit),
			vk.PipelineStageFlags(vk.PipelineStageFragmentShaderBit), vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit))
		cb := &VulkanCommandBuffer{Handle: cmd, State: COMMAND_BUFFER_STATE_RECORDING}
		rp.RenderpassBegin(cb, fb)
		clearAttachments(cmd, fb, [4]float32{0, 0, 0, 0})
		rp.RenderpassEnd(cb)
		transitionImage(cmd, image.Handle, vk.ImageLayoutColorAttachmentOptimal, vk.ImageLayoutShaderReadOnlyOptimal,
			vk.AccessFlags(vk.AccessColorAttachmentWriteBit), vk.AccessFlags(vk.AccessShaderReadBit),
			vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit), vk.PipelineStageFlags(vk.PipelineStageFragmentShaderBit))
	})
}

func (vr *VulkanBackend) CreateShaderResourceView(res renderer.Resource, dst metadata.DescriptorHandle) error {
	image, ok := res.(*VulkanImage)
	if !ok || !image.desc.Usage.Has(metadata.UsageShaderResource) {
		return fmt.Errorf("shader resource view needs a shader resource texture")
	}
	heap, err := vr.heap(metadata.HeapKindCBVSRVUAV)
	if err != nil {
		return err
	}
	return heap.writeImage(dst, image.View)
}

func (vr *VulkanBackend) CreateUnorderedAccessView(res renderer.Resource, elements, stride uint32, dst metadata.DescriptorHandle) error {
	buffer, ok := res.(*VulkanBuffer)
	if !ok || !buffer.desc.Usage.Has(metadata.UsageUnorderedAccess) {
		return fmt.Errorf("unordered access view needs an unordered access buffer")
	}
	size := uint64(elements) * uint64(stride)
	if size > buffer.Size {
		return fmt.Errorf("uav of %d x %d bytes exceeds %s", elements, stride, &buffer.desc)
	}
	heap, err := vr.heap(metadata.HeapKindCBVSRVUAV)
	if err != nil {
		return err
	}
	return heap.writeBuffer(dst, bindingStorage, vk.DescriptorTypeStorageBuffer, buffer.Handle, size)
}

func (vr *VulkanBackend) CreateConstantBufferView(res renderer.Resource, dst metadata.DescriptorHandle) error {
	buffer, ok := res.(*VulkanBuffer)
	if !ok || !buffer.desc.Usage.Has(metadata.UsageConstantBuffer) {
		return fmt.Errorf("constant buffer view needs a constant buffer")
	}
	heap, err := vr.heap(metadata.HeapKindCBVSRVUAV)
	if err != nil {
		return err
	}
	return heap.writeBuffer(dst, bindingUniform, vk.DescriptorTypeUniformBuffer, buffer.Handle, buffer.Size)
}

func (vr *VulkanBackend) CreateSampler(filter metadata.Filter, dst metadata.DescriptorHandle) error {
	heap, err := vr.heap(metadata.HeapKindSampler)
	if err != nil {
		return err
	}
	return heap.writeSampler(dst, filter)
}

func (vr *VulkanBackend) CreateRootSignature(desc *metadata.RootSignatureDesc) (renderer.RootSignature, error) {
	if len(desc.Parameters) == 0 {
		return nil, fmt.Errorf("root signature without parameters")
	}
	resources, err := vr.heap(metadata.HeapKindCBVSRVUAV)
	if err != nil {
		return nil, err
	}
	samplers, err := vr.heap(metadata.HeapKindSampler)
	if err != nil {
		return nil, err
	}
	rs, err := RootSignatureCreate(vr.context, desc, resources, samplers)
	if err != nil {
		return nil, err
	}
	return rs, nil
}

// CreateGraphicsPipeline ignores depthFormat: no pass uses a depth attachment.
func (vr *VulkanBackend) CreateGraphicsPipeline(rs renderer.RootSignature, colorFormat, depthFormat metadata.Format, program *metadata.ShaderProgram) (renderer.PipelineState, error) {
	root, ok := rs.(*VulkanRootSignature)
	if !ok || root.desc.Kind != metadata.RootSignatureGraphics {
		return nil, fmt.Errorf("graphics pipeline %s needs a graphics root signature", program.Name)
	}
	if !program.HasStage(metadata.ShaderStageVertex) || !program.HasStage(metadata.ShaderStageFragment) {
		return nil, &metadata.ShaderError{Program: program.Name, Diagnostic: "missing VSMain or PSMain"}
	}
	format := vulkanFormat(colorFormat)
	if format == vk.FormatUndefined {
		return nil, fmt.Errorf("graphics pipeline %s: unknown color format", program.Name)
	}

	module, err := vr.shaders.Module(program)
	if err != nil {
		return nil, err
	}
	rp, err := vr.renderpass(format)
	if err != nil {
		return nil, err
	}
	stages := []vk.PipelineShaderStageCreateInfo{
		shaderStageInfo(module, metadata.ShaderStageVertex),
		shaderStageInfo(module, metadata.ShaderStageFragment),
	}
	// The clear pass writes the faded previous contents, so it replaces rather than blends.
	blend := program.Name != metadata.ShaderClear
	pipeline, err := NewGraphicsPipeline(vr.context, program.Name, root, rp, stages, blend)
	if err != nil {
		return nil, err
	}
	return pipeline, nil
}

func (vr *VulkanBackend) CreateComputePipeline(rs renderer.RootSignature, program *metadata.ShaderProgram) (renderer.PipelineState, error) {
	root, ok := rs.(*VulkanRootSignature)
	if !ok || root.desc.Kind != metadata.RootSignatureCompute {
		return nil, fmt.Errorf("compute pipeline %s needs a compute root signature", program.Name)
	}
	if !program.HasStage(metadata.ShaderStageCompute) {
		return nil, &metadata.ShaderError{Program: program.Name, Diagnostic: "missing CSMain"}
	}
	module, err := vr.shaders.Module(program)
	if err != nil {
		return nil, err
	}
	pipeline, err := NewComputePipeline(vr.context, program.Name, root, shaderStageInfo(module, metadata.ShaderStageCompute))
	if err != nil {
		return nil, err
	}
	return pipeline, nil
}

func (vr *VulkanBackend) CreateCommandList() (renderer.CommandList, error) {
	cb, err := NewVulkanCommandBuffer(vr, vr.context.Device.CommandPool, true)
	if err != nil {
		return nil, err
	}
	return cb, nil
}

func (vr *VulkanBackend) CreateFence(initial uint64) (renderer.Fence, error) {
	fence, err := NewFence(vr.context, initial)
	if err != nil {
		return nil, err
	}
	return fence, nil
}

func (vr *VulkanBackend) DeviceRemovedReason() error {
	vr.mutex.Lock()
	defer vr.mutex.Unlock()
	return vr.lost
}

func (vr *VulkanBackend) lose(err error) {
	vr.mutex.Lock()
	defer vr.mutex.Unlock()
	if vr.lost == nil {
		vr.lost = fmt.Errorf("%w: %v", core.ErrDeviceLost, err)
		core.LogError("vulkan device lost: %s", err)
	}
}

/**
 * @brief The single graphics, compute and present queue.
 */
type VulkanQueue struct {
	backend *VulkanBackend
}

// Submit waits on the swapchain's pending acquire, if any, so the recorded back buffer
// writes start only once the presentation engine released the image.
func (q *VulkanQueue) Submit(list renderer.CommandList, fence renderer.Fence, value uint64) error {
	if err := q.backend.DeviceRemovedReason(); err != nil {
		return err
	}
	cb, ok := list.(*VulkanCommandBuffer)
	if !ok {
		return fmt.Errorf("command list %T does not belong to this device", list)
	}
	if cb.State != COMMAND_BUFFER_STATE_RECORDING_ENDED && cb.State != COMMAND_BUFFER_STATE_SUBMITTED {
		return fmt.Errorf("command list is %s, not closed", cb.State)
	}
	f, ok := fence.(*VulkanFence)
	if !ok {
		return fmt.Errorf("fence %T does not belong to this device", fence)
	}
	if err := f.arm(value); err != nil {
		return err
	}

	submitInfo := vk.SubmitInfo{
		SType:              vk.StructureTypeSubmitInfo,
		CommandBufferCount: 1,
		PCommandBuffers:    []vk.CommandBuffer{cb.Handle},
	}
	if q.backend.swapchain != nil {
		if wait, signal := q.backend.swapchain.takeAcquire(); wait != nil {
			submitInfo.WaitSemaphoreCount = 1
			submitInfo.PWaitSemaphores = []vk.Semaphore{wait}
			submitInfo.PWaitDstStageMask = []vk.PipelineStageFlags{vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit)}
			submitInfo.SignalSemaphoreCount = 1
			submitInfo.PSignalSemaphores = []vk.Semaphore{signal}
		}
	}

	context := q.backend.context
	err := context.locks.SafeCall(QueueManagement, func() error {
		if res := vk.QueueSubmit(context.Device.Queue, 1, []vk.SubmitInfo{submitInfo}, f.Handle); !VulkanResultIsSuccess(res) {
			return resultError("vkQueueSubmit", res)
		}
		return nil
	})
	if err != nil {
		f.disarm()
		q.backend.lose(err)
		return q.backend.DeviceRemovedReason()
	}
	cb.UpdateSubmitted()
	return nil
}

func (q *VulkanQueue) Flush() error {
	context := q.backend.context
	return context.locks.SafeCall(QueueManagement, func() error {
		if res := vk.QueueWaitIdle(context.Device.Queue); !VulkanResultIsSuccess(res) {
			err := resultError("vkQueueWaitIdle", res)
			if res == vk.ErrorDeviceLost {
				q.backend.lose(err)
				return errors.Join(core.ErrDeviceLost, err)
			}
			return err
		}
		return nil
	})
}

func dbgCallbackFunc(flags vk.DebugReportFlags, objectType vk.DebugReportObjectType, object uint64, location uint64, messageCode int32, pLayerPrefix string, pMessage string, pUserData unsafe.Pointer) vk.Bool32 {
	switch {
	case flags&vk.DebugReportFlags(vk.DebugReportErrorBit) != 0:
		core.LogError("ERROR: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	case flags&vk.DebugReportFlags(vk.DebugReportWarningBit) != 0:
		core.LogWarn("WARNING: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	case flags&vk.DebugReportFlags(vk.DebugReportPerformanceWarningBit) != 0:
		core.LogWarn("PERFORMANCE WARNING: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	case flags&vk.DebugReportFlags(vk.DebugReportDebugBit) != 0:
		core.LogDebug("DEBUG: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	default:
		core.LogInfo("INFORMATION: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	}
	return vk.Bool32(vk.False)
}

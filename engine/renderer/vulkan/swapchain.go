package vulkan

import (
	"fmt"
	stdmath "math"
	"sync"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/spritelayers/engine/core"
	"github.com/spaghettifunk/spritelayers/engine/math"
	"github.com/spaghettifunk/spritelayers/engine/renderer"
	"github.com/spaghettifunk/spritelayers/engine/renderer/metadata"
)

/**
 * @brief The presentation engine's back buffers. Each acquire takes the next semaphore of a
 * ring; the queue waits on it in the following submission and signals the render finished
 * semaphore of the acquired image, which present then waits on.
 */
type VulkanSwapchain struct {
	context *VulkanContext

	ImageFormat vk.SurfaceFormat
	PresentMode vk.PresentMode
	ImageExtent vk.Extent2D
	Handle      vk.Swapchain
	ImageCount  uint32
	Images      []*VulkanImage

	mutex          sync.Mutex
	acquire        []vk.Semaphore
	renderFinished []vk.Semaphore
	nextAcquire    int
	pending        vk.Semaphore
	current        uint32
}

func chooseSurfaceFormat(support *VulkanSwapchainSupportInfo) vk.SurfaceFormat {
	// Preferred formats, in order
	for _, wanted := range []vk.Format{vk.FormatR8g8b8a8Unorm, vk.FormatB8g8r8a8Unorm} {
		for _, format := range support.Formats {
			if format.Format == wanted && format.ColorSpace == vk.ColorSpaceSrgbNonlinear {
				return format
			}
		}
	}
	return support.Formats[0]
}

func choosePresentMode(support *VulkanSwapchainSupportInfo, vsync uint32) vk.PresentMode {
	if vsync >= 1 {
		return vk.PresentModeFifo
	}
	presentMode := vk.PresentModeFifo
	for _, mode := range support.PresentModes {
		if mode == vk.PresentModeMailbox {
			return mode
		}
		if mode == vk.PresentModeImmediate {
			presentMode = mode
		}
	}
	return presentMode
}

func SwapchainCreate(context *VulkanContext, width, height, vsync, frames uint32) (*VulkanSwapchain, error) {
	support := &context.Device.SwapchainSupport
	if len(support.Formats) == 0 {
		return nil, fmt.Errorf("surface reports no formats")
	}

	swapchain := &VulkanSwapchain{
		context:     context,
		ImageFormat: chooseSurfaceFormat(support),
		PresentMode: choosePresentMode(support, vsync),
		ImageExtent: vk.Extent2D{Width: width, Height: height},
	}
	if metadataFormat(swapchain.ImageFormat.Format) == metadata.FormatUnknown {
		return nil, fmt.Errorf("surface format %d is not supported", swapchain.ImageFormat.Format)
	}

	capabilities := support.Capabilities
	// Swapchain extent
	if capabilities.CurrentExtent.Width != stdmath.MaxUint32 {
		swapchain.ImageExtent = capabilities.CurrentExtent
	}

	// Clamp to the value allowed by the GPU.
	min := capabilities.MinImageExtent
	max := capabilities.MaxImageExtent
	swapchain.ImageExtent.Width = math.Clamp(swapchain.ImageExtent.Width, min.Width, max.Width)
	swapchain.ImageExtent.Height = math.Clamp(swapchain.ImageExtent.Height, min.Height, max.Height)

	// One back buffer per frame slot, within what the surface allows.
	imageCount := frames
	if imageCount < capabilities.MinImageCount {
		imageCount = capabilities.MinImageCount
	}
	if capabilities.MaxImageCount > 0 && imageCount > capabilities.MaxImageCount {
		imageCount = capabilities.MaxImageCount
	}

	swapchainCreateInfo := vk.SwapchainCreateInfo{
		SType:            vk.StructureTypeSwapchainCreateInfo,
		Surface:          context.Surface,
		MinImageCount:    imageCount,
		ImageFormat:      swapchain.ImageFormat.Format,
		ImageColorSpace:  swapchain.ImageFormat.ColorSpace,
		ImageExtent:      swapchain.ImageExtent,
		ImageArrayLayers: 1,
		ImageUsage:       vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit),
		// A single queue family graphics, computes and presents.
		ImageSharingMode: vk.SharingModeExclusive,
		PreTransform:     capabilities.CurrentTransform,
		CompositeAlpha:   vk.CompositeAlphaOpaqueBit,
		PresentMode:      swapchain.PresentMode,
		Clipped:          vk.True,
	}

	device := context.Device.LogicalDevice
	err := context.locks.SafeCall(SwapchainManagement, func() error {
		var handle vk.Swapchain
		if res := vk.CreateSwapchain(device, &swapchainCreateInfo, context.Allocator, &handle); !VulkanResultIsSuccess(res) {
			return resultError("vkCreateSwapchainKHR", res)
		}
		swapchain.Handle = handle

		// Images
		var count uint32
		if res := vk.GetSwapchainImages(device, handle, &count, nil); !VulkanResultIsSuccess(res) {
			return resultError("vkGetSwapchainImagesKHR", res)
		}
		images := make([]vk.Image, count)
		if res := vk.GetSwapchainImages(device, handle, &count, images); !VulkanResultIsSuccess(res) {
			return resultError("vkGetSwapchainImagesKHR", res)
		}
		swapchain.ImageCount = count

		// Views
		for _, image := range images {
			view, err := createImageView(context, image, swapchain.ImageFormat.Format)
			if err != nil {
				return err
			}
			swapchain.Images = append(swapchain.Images, wrapSwapchainImage(context, image, view,
				swapchain.ImageFormat.Format, swapchain.ImageExtent.Width, swapchain.ImageExtent.Height))
		}

		semaphoreCreateInfo := vk.SemaphoreCreateInfo{SType: vk.StructureTypeSemaphoreCreateInfo}
		for i := uint32(0); i < count; i++ {
			var acquire, finished vk.Semaphore
			if res := vk.CreateSemaphore(device, &semaphoreCreateInfo, context.Allocator, &acquire); !VulkanResultIsSuccess(res) {
				return resultError("vkCreateSemaphore", res)
			}
			swapchain.acquire = append(swapchain.acquire, acquire)
			if res := vk.CreateSemaphore(device, &semaphoreCreateInfo, context.Allocator, &finished); !VulkanResultIsSuccess(res) {
				return resultError("vkCreateSemaphore", res)
			}
			swapchain.renderFinished = append(swapchain.renderFinished, finished)
		}
		return nil
	})
	if err != nil {
		core.LogError(err.Error())
		swapchain.SwapchainDestroy()
		return nil, err
	}

	core.LogInfo("Swapchain created successfully: %d images %dx%d.", swapchain.ImageCount, swapchain.ImageExtent.Width, swapchain.ImageExtent.Height)
	return swapchain, nil
}

func (vs *VulkanSwapchain) SwapchainDestroy() {
	device := vs.context.Device.LogicalDevice
	// Only destroy the views, not the images, since those are owned by the swapchain and are thus
	// destroyed when it is.
	for _, image := range vs.Images {
		if image.View != nil {
			vk.DestroyImageView(device, image.View, vs.context.Allocator)
			image.View = nil
		}
	}
	vs.Images = nil
	for _, s := range vs.acquire {
		vk.DestroySemaphore(device, s, vs.context.Allocator)
	}
	for _, s := range vs.renderFinished {
		vk.DestroySemaphore(device, s, vs.context.Allocator)
	}
	vs.acquire, vs.renderFinished = nil, nil
	if vs.Handle != nil {
		vk.DestroySwapchain(device, vs.Handle, vs.context.Allocator)
		vs.Handle = nil
	}
}

func (vs *VulkanSwapchain) BufferCount() uint32 {
	return vs.ImageCount
}

func (vs *VulkanSwapchain) Buffer(index uint32) renderer.Resource {
	if index >= uint32(len(vs.Images)) {
		return nil
	}
	return vs.Images[index]
}

func (vs *VulkanSwapchain) Format() metadata.Format {
	return metadataFormat(vs.ImageFormat.Format)
}

func (vs *VulkanSwapchain) Extent() (uint32, uint32) {
	return vs.ImageExtent.Width, vs.ImageExtent.Height
}

// Acquire blocks until the presentation engine hands back an image.
func (vs *VulkanSwapchain) Acquire() (uint32, error) {
	vs.mutex.Lock()
	defer vs.mutex.Unlock()
	if vs.pending != nil {
		return 0, fmt.Errorf("back buffer %d was acquired but never submitted", vs.current)
	}

	semaphore := vs.acquire[vs.nextAcquire]
	var index uint32
	result := vk.AcquireNextImage(vs.context.Device.LogicalDevice, vs.Handle, stdmath.MaxUint64, semaphore, vk.NullFence, &index)
	switch {
	case result == vk.ErrorOutOfDate:
		return 0, fmt.Errorf("%w: swapchain out of date", core.ErrSwapchainBooting)
	case result == vk.ErrorDeviceLost:
		return 0, fmt.Errorf("%w: %s", core.ErrDeviceLost, VulkanResultString(result, true))
	case result != vk.Success && result != vk.Suboptimal:
		return 0, resultError("vkAcquireNextImageKHR", result)
	}

	vs.nextAcquire = (vs.nextAcquire + 1) % len(vs.acquire)
	vs.pending = semaphore
	vs.current = index
	return index, nil
}

// takeAcquire hands the pending acquire semaphore and the render finished semaphore of the
// acquired image to the next submission. Both are nil when nothing was acquired.
func (vs *VulkanSwapchain) takeAcquire() (wait vk.Semaphore, signal vk.Semaphore) {
	vs.mutex.Lock()
	defer vs.mutex.Unlock()
	if vs.pending == nil {
		return nil, nil
	}
	wait, signal = vs.pending, vs.renderFinished[vs.current]
	vs.pending = nil
	return wait, signal
}

// Present queues the last acquired image. The present mode was fixed at creation from the
// configured vsync interval; syncInterval is only checked against it.
func (vs *VulkanSwapchain) Present(syncInterval uint32) error {
	if (syncInterval == 0) != (vs.PresentMode != vk.PresentModeFifo) {
		core.LogDebug("present interval %d differs from swapchain present mode %d", syncInterval, vs.PresentMode)
	}

	vs.mutex.Lock()
	index := vs.current
	vs.mutex.Unlock()

	presentInfo := vk.PresentInfo{
		SType:              vk.StructureTypePresentInfo,
		WaitSemaphoreCount: 1,
		PWaitSemaphores:    []vk.Semaphore{vs.renderFinished[index]},
		SwapchainCount:     1,
		PSwapchains:        []vk.Swapchain{vs.Handle},
		PImageIndices:      []uint32{index},
	}

	var result vk.Result
	_ = vs.context.locks.SafeCall(QueueManagement, func() error {
		result = vk.QueuePresent(vs.context.Device.Queue, &presentInfo)
		return nil
	})
	switch result {
	case vk.Success:
		return nil
	case vk.ErrorOutOfDate, vk.Suboptimal:
		// The window cannot be resized, so the surface changed under us.
		return fmt.Errorf("%w: present returned %s", core.ErrSwapchainBooting, VulkanResultString(result, false))
	case vk.ErrorDeviceLost:
		return fmt.Errorf("%w: %s", core.ErrDeviceLost, VulkanResultString(result, true))
	}
	return resultError("vkQueuePresentKHR", result)
}

package vulkan

import (
	"fmt"
	"sync"

	vk "github.com/goki/vulkan"
	"github.com/google/uuid"

	"github.com/spaghettifunk/spritelayers/engine/core"
	"github.com/spaghettifunk/spritelayers/engine/renderer/metadata"
)

/**
 * @brief A 2D color image: either a layer render target owning its memory, or a swapchain
 * back buffer owned by the swapchain.
 */
type VulkanImage struct {
	id      uuid.UUID
	desc    metadata.ResourceDesc
	context *VulkanContext

	Handle vk.Image
	Memory vk.DeviceMemory
	/** @brief Color view used for sampling and as attachment. */
	View   vk.ImageView
	Format vk.Format
	Width  uint32
	Height uint32

	// Swapchain images are never destroyed here, and their common layout is present.
	swapchainOwned bool

	mutex    sync.Mutex
	released bool
}

func vulkanFormat(f metadata.Format) vk.Format {
	switch f {
	case metadata.FormatRGBA8Unorm:
		return vk.FormatR8g8b8a8Unorm
	case metadata.FormatBGRA8Unorm:
		return vk.FormatB8g8r8a8Unorm
	case metadata.FormatR32Float:
		return vk.FormatR32Sfloat
	}
	return vk.FormatUndefined
}

func metadataFormat(f vk.Format) metadata.Format {
	switch f {
	case vk.FormatR8g8b8a8Unorm:
		return metadata.FormatRGBA8Unorm
	case vk.FormatB8g8r8a8Unorm:
		return metadata.FormatBGRA8Unorm
	case vk.FormatR32Sfloat:
		return metadata.FormatR32Float
	}
	return metadata.FormatUnknown
}

func colorSubresourceRange() vk.ImageSubresourceRange {
	return vk.ImageSubresourceRange{
		AspectMask:     vk.ImageAspectFlags(vk.ImageAspectColorBit),
		BaseMipLevel:   0,
		LevelCount:     1,
		BaseArrayLayer: 0,
		LayerCount:     1,
	}
}

// ImageCreate creates a device local image with a color view and moves it to the shader read layout.
func ImageCreate(context *VulkanContext, desc *metadata.ResourceDesc) (*VulkanImage, error) {
	format := vulkanFormat(desc.Format)
	if format == vk.FormatUndefined {
		return nil, fmt.Errorf("unsupported image format %s", desc.Format)
	}

	usage := vk.ImageUsageFlags(vk.ImageUsageTransferDstBit)
	if desc.Usage.Has(metadata.UsageRenderTarget) {
		usage |= vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit)
	}
	if desc.Usage.Has(metadata.UsageShaderResource) {
		usage |= vk.ImageUsageFlags(vk.ImageUsageSampledBit)
	}

	image := &VulkanImage{
		id:      uuid.New(),
		desc:    *desc,
		context: context,
		Format:  format,
		Width:   uint32(desc.Width),
		Height:  desc.Height,
	}

	imageCreateInfo := vk.ImageCreateInfo{
		SType:     vk.StructureTypeImageCreateInfo,
		ImageType: vk.ImageType2d,
		Format:    format,
		Extent: vk.Extent3D{
			Width:  image.Width,
			Height: image.Height,
			Depth:  1,
		},
		MipLevels:     1,
		ArrayLayers:   1,
		Samples:       vk.SampleCount1Bit,
		Tiling:        vk.ImageTilingOptimal,
		Usage:         usage,
		SharingMode:   vk.SharingModeExclusive,
		InitialLayout: vk.ImageLayoutUndefined,
	}

	device := context.Device.LogicalDevice
	if err := context.locks.SafeCall(ResourceManagement, func() error {
		var handle vk.Image
		if res := vk.CreateImage(device, &imageCreateInfo, context.Allocator, &handle); !VulkanResultIsSuccess(res) {
			return resultError("vkCreateImage", res)
		}
		image.Handle = handle

		var requirements vk.MemoryRequirements
		vk.GetImageMemoryRequirements(device, handle, &requirements)
		requirements.Deref()

		memory, err := context.allocateMemory(requirements, vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit))
		if err != nil {
			return err
		}
		image.Memory = memory

		if res := vk.BindImageMemory(device, handle, memory, 0); !VulkanResultIsSuccess(res) {
			return resultError("vkBindImageMemory", res)
		}
		return nil
	}); err != nil {
		image.destroy()
		return nil, err
	}

	view, err := createImageView(context, image.Handle, format)
	if err != nil {
		image.destroy()
		return nil, err
	}
	image.View = view

	// The common state of a layer is the shader read layout.
	if err := context.SingleUse(func(cmd vk.CommandBuffer) {
		transitionImage(cmd, image.Handle, vk.ImageLayoutUndefined, vk.ImageLayoutShaderReadOnlyOptimal,
			0, vk.AccessFlags(vk.AccessShaderReadBit),
			vk.PipelineStageFlags(vk.PipelineStageTopOfPipeBit), vk.PipelineStageFlags(vk.PipelineStageFragmentShaderBit))
	}); err != nil {
		image.destroy()
		return nil, err
	}

	return image, nil
}

func wrapSwapchainImage(context *VulkanContext, handle vk.Image, view vk.ImageView, format vk.Format, width, height uint32) *VulkanImage {
	return &VulkanImage{
		id:      uuid.New(),
		context: context,
		desc: metadata.ResourceDesc{
			Name:      "backbuffer",
			Width:     uint64(width),
			Height:    height,
			Format:    metadataFormat(format),
			Usage:     metadata.UsageRenderTarget,
			Heap:      metadata.HeapTypeDefault,
			Dimension: metadata.DimensionTexture2D,
		},
		Handle:         handle,
		View:           view,
		Format:         format,
		Width:          width,
		Height:         height,
		swapchainOwned: true,
	}
}

func createImageView(context *VulkanContext, image vk.Image, format vk.Format) (vk.ImageView, error) {
	viewInfo := vk.ImageViewCreateInfo{
		SType:            vk.StructureTypeImageViewCreateInfo,
		Image:            image,
		ViewType:         vk.ImageViewType2d,
		Format:           format,
		SubresourceRange: colorSubresourceRange(),
	}

	var view vk.ImageView
	if res := vk.CreateImageView(context.Device.LogicalDevice, &viewInfo, context.Allocator, &view); !VulkanResultIsSuccess(res) {
		err := resultError("vkCreateImageView", res)
		core.LogError(err.Error())
		return nil, err
	}
	return view, nil
}

func transitionImage(cmd vk.CommandBuffer, image vk.Image, oldLayout, newLayout vk.ImageLayout, srcAccess, dstAccess vk.AccessFlags, srcStage, dstStage vk.PipelineStageFlags) {
	barrier := vk.ImageMemoryBarrier{
		SType:               vk.StructureTypeImageMemoryBarrier,
		SrcAccessMask:       srcAccess,
		DstAccessMask:       dstAccess,
		OldLayout:           oldLayout,
		NewLayout:           newLayout,
		SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
		DstQueueFamilyIndex: vk.QueueFamilyIgnored,
		Image:               image,
		SubresourceRange:    colorSubresourceRange(),
	}
	vk.CmdPipelineBarrier(cmd, srcStage, dstStage, 0, 0, nil, 0, nil, 1, []vk.ImageMemoryBarrier{barrier})
}

func (vi *VulkanImage) ID() uuid.UUID {
	return vi.id
}

func (vi *VulkanImage) Desc() *metadata.ResourceDesc {
	return &vi.desc
}

func (vi *VulkanImage) Map() ([]byte, error) {
	return nil, fmt.Errorf("image %q lives in device local memory", vi.desc.Name)
}

func (vi *VulkanImage) Unmap() {}

func (vi *VulkanImage) Release() {
	vi.mutex.Lock()
	defer vi.mutex.Unlock()
	if vi.released || vi.swapchainOwned {
		return
	}
	vi.released = true
	vi.destroy()
}

func (vi *VulkanImage) destroy() {
	device := vi.context.Device.LogicalDevice
	if vi.View != nil {
		vk.DestroyImageView(device, vi.View, vi.context.Allocator)
		vi.View = nil
	}
	if vi.Handle != nil {
		vk.DestroyImage(device, vi.Handle, vi.context.Allocator)
		vi.Handle = nil
	}
	if vi.Memory != nil {
		vk.FreeMemory(device, vi.Memory, vi.context.Allocator)
		vi.Memory = nil
	}
}

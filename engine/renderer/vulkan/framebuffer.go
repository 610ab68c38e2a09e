package vulkan

import (
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/spritelayers/engine/core"
)

// VulkanFramebuffer binds one image view to a render pass. One exists per render target view.
type VulkanFramebuffer struct {
	Handle     vk.Framebuffer
	Attachment vk.ImageView
	Renderpass *VulkanRenderpass
	Width      uint32
	Height     uint32
}

func FramebufferCreate(context *VulkanContext, renderpass *VulkanRenderpass, width uint32, height uint32, attachment vk.ImageView) (*VulkanFramebuffer, error) {
	framebufferCreateInfo := vk.FramebufferCreateInfo{
		SType:           vk.StructureTypeFramebufferCreateInfo,
		RenderPass:      renderpass.Handle,
		AttachmentCount: 1,
		PAttachments:    []vk.ImageView{attachment},
		Width:           width,
		Height:          height,
		Layers:          1,
	}

	var handle vk.Framebuffer
	if res := vk.CreateFramebuffer(context.Device.LogicalDevice, &framebufferCreateInfo, context.Allocator, &handle); !VulkanResultIsSuccess(res) {
		err := resultError("vkCreateFramebuffer", res)
		core.LogError(err.Error())
		return nil, err
	}
	return &VulkanFramebuffer{
		Handle:     handle,
		Attachment: attachment,
		Renderpass: renderpass,
		Width:      width,
		Height:     height,
	}, nil
}

func (vfb *VulkanFramebuffer) Destroy(context *VulkanContext) {
	if vfb.Handle != nil {
		vk.DestroyFramebuffer(context.Device.LogicalDevice, vfb.Handle, context.Allocator)
		vfb.Handle = nil
	}
	vfb.Attachment = nil
	vfb.Renderpass = nil
}

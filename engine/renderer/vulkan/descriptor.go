package vulkan

import (
	"fmt"
	"sync"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/spritelayers/engine/renderer/metadata"
)

// Bindings of the resource heap set. A descriptor index is the array element inside the binding.
const (
	bindingTextures uint32 = 0
	bindingStorage  uint32 = 1
	bindingUniform  uint32 = 2

	bindingSamplers uint32 = 0
)

// Descriptor sets in every pipeline layout.
const (
	setResources uint32 = 0
	setSamplers  uint32 = 1
)

type renderTargetView struct {
	image       *VulkanImage
	framebuffer *VulkanFramebuffer
}

/**
 * @brief A descriptor heap. Shader visible kinds are one descriptor set with an array per
 * binding; render target views live on the host as framebuffers.
 */
type VulkanDescriptorHeap struct {
	context  *VulkanContext
	kind     metadata.HeapKind
	capacity uint32

	Layout vk.DescriptorSetLayout
	Pool   vk.DescriptorPool
	Set    vk.DescriptorSet

	mutex    sync.Mutex
	samplers []vk.Sampler
	targets  []renderTargetView
}

func allStages() vk.ShaderStageFlags {
	return vk.ShaderStageFlags(vk.ShaderStageVertexBit) |
		vk.ShaderStageFlags(vk.ShaderStageFragmentBit) |
		vk.ShaderStageFlags(vk.ShaderStageComputeBit)
}

func DescriptorHeapCreate(context *VulkanContext, kind metadata.HeapKind, capacity uint32) (*VulkanDescriptorHeap, error) {
	heap := &VulkanDescriptorHeap{
		context:  context,
		kind:     kind,
		capacity: capacity,
	}

	var bindings []vk.DescriptorSetLayoutBinding
	var poolSizes []vk.DescriptorPoolSize
	switch kind {
	case metadata.HeapKindCBVSRVUAV:
		types := []struct {
			binding uint32
			kind    vk.DescriptorType
		}{
			{bindingTextures, vk.DescriptorTypeSampledImage},
			{bindingStorage, vk.DescriptorTypeStorageBuffer},
			{bindingUniform, vk.DescriptorTypeUniformBuffer},
		}
		for _, t := range types {
			bindings = append(bindings, vk.DescriptorSetLayoutBinding{
				Binding:         t.binding,
				DescriptorType:  t.kind,
				DescriptorCount: capacity,
				StageFlags:      allStages(),
			})
			poolSizes = append(poolSizes, vk.DescriptorPoolSize{Type: t.kind, DescriptorCount: capacity})
		}
	case metadata.HeapKindSampler:
		bindings = append(bindings, vk.DescriptorSetLayoutBinding{
			Binding:         bindingSamplers,
			DescriptorType:  vk.DescriptorTypeSampler,
			DescriptorCount: capacity,
			StageFlags:      allStages(),
		})
		poolSizes = append(poolSizes, vk.DescriptorPoolSize{Type: vk.DescriptorTypeSampler, DescriptorCount: capacity})
		heap.samplers = make([]vk.Sampler, capacity)
	default:
		heap.targets = make([]renderTargetView, capacity)
		return heap, nil
	}

	device := context.Device.LogicalDevice
	err := context.locks.SafeCall(DescriptorManagement, func() error {
		layoutCreateInfo := vk.DescriptorSetLayoutCreateInfo{
			SType:        vk.StructureTypeDescriptorSetLayoutCreateInfo,
			BindingCount: uint32(len(bindings)),
			PBindings:    bindings,
		}
		var layout vk.DescriptorSetLayout
		if res := vk.CreateDescriptorSetLayout(device, &layoutCreateInfo, context.Allocator, &layout); !VulkanResultIsSuccess(res) {
			return resultError("vkCreateDescriptorSetLayout", res)
		}
		heap.Layout = layout

		poolCreateInfo := vk.DescriptorPoolCreateInfo{
			SType:         vk.StructureTypeDescriptorPoolCreateInfo,
			MaxSets:       1,
			PoolSizeCount: uint32(len(poolSizes)),
			PPoolSizes:    poolSizes,
		}
		var pool vk.DescriptorPool
		if res := vk.CreateDescriptorPool(device, &poolCreateInfo, context.Allocator, &pool); !VulkanResultIsSuccess(res) {
			return resultError("vkCreateDescriptorPool", res)
		}
		heap.Pool = pool

		allocateInfo := vk.DescriptorSetAllocateInfo{
			SType:              vk.StructureTypeDescriptorSetAllocateInfo,
			DescriptorPool:     pool,
			DescriptorSetCount: 1,
			PSetLayouts:        []vk.DescriptorSetLayout{layout},
		}
		var set vk.DescriptorSet
		if res := vk.AllocateDescriptorSets(device, &allocateInfo, &set); !VulkanResultIsSuccess(res) {
			return resultError("vkAllocateDescriptorSets", res)
		}
		heap.Set = set
		return nil
	})
	if err != nil {
		heap.Release()
		return nil, err
	}
	return heap, nil
}

// Info reports index-addressed handles: a handle value is the array element it names.
func (h *VulkanDescriptorHeap) Info() metadata.HeapInfo {
	return metadata.HeapInfo{
		Kind:     h.kind,
		Capacity: h.capacity,
		Stride:   1,
	}
}

func (h *VulkanDescriptorHeap) check(dst metadata.DescriptorHandle) error {
	if dst.Kind != h.kind {
		return fmt.Errorf("handle %s does not belong to the %s heap", dst, h.kind)
	}
	if dst.Index >= h.capacity {
		return fmt.Errorf("handle %s is outside the %s heap (capacity %d)", dst, h.kind, h.capacity)
	}
	return nil
}

func (h *VulkanDescriptorHeap) writeImage(dst metadata.DescriptorHandle, view vk.ImageView) error {
	if err := h.check(dst); err != nil {
		return err
	}
	info := []vk.DescriptorImageInfo{{
		ImageView:   view,
		ImageLayout: vk.ImageLayoutShaderReadOnlyOptimal,
	}}
	h.write(vk.WriteDescriptorSet{
		SType:           vk.StructureTypeWriteDescriptorSet,
		DstSet:          h.Set,
		DstBinding:      bindingTextures,
		DstArrayElement: dst.Index,
		DescriptorCount: 1,
		DescriptorType:  vk.DescriptorTypeSampledImage,
		PImageInfo:      info,
	})
	return nil
}

func (h *VulkanDescriptorHeap) writeBuffer(dst metadata.DescriptorHandle, binding uint32, kind vk.DescriptorType, buffer vk.Buffer, size uint64) error {
	if err := h.check(dst); err != nil {
		return err
	}
	info := []vk.DescriptorBufferInfo{{
		Buffer: buffer,
		Offset: 0,
		Range:  vk.DeviceSize(size),
	}}
	h.write(vk.WriteDescriptorSet{
		SType:           vk.StructureTypeWriteDescriptorSet,
		DstSet:          h.Set,
		DstBinding:      binding,
		DstArrayElement: dst.Index,
		DescriptorCount: 1,
		DescriptorType:  kind,
		PBufferInfo:     info,
	})
	return nil
}

func (h *VulkanDescriptorHeap) writeSampler(dst metadata.DescriptorHandle, filter metadata.Filter) error {
	if err := h.check(dst); err != nil {
		return err
	}
	mode := vk.FilterNearest
	mipmap := vk.SamplerMipmapModeNearest
	if filter == metadata.FilterLinear {
		mode = vk.FilterLinear
		mipmap = vk.SamplerMipmapModeLinear
	}
	samplerCreateInfo := vk.SamplerCreateInfo{
		SType:        vk.StructureTypeSamplerCreateInfo,
		MagFilter:    mode,
		MinFilter:    mode,
		MipmapMode:   mipmap,
		AddressModeU: vk.SamplerAddressModeClampToEdge,
		AddressModeV: vk.SamplerAddressModeClampToEdge,
		AddressModeW: vk.SamplerAddressModeClampToEdge,
		MaxLod:       1,
		BorderColor:  vk.BorderColorFloatTransparentBlack,
	}

	var sampler vk.Sampler
	if res := vk.CreateSampler(h.context.Device.LogicalDevice, &samplerCreateInfo, h.context.Allocator, &sampler); !VulkanResultIsSuccess(res) {
		return resultError("vkCreateSampler", res)
	}

	h.mutex.Lock()
	if old := h.samplers[dst.Index]; old != nil {
		vk.DestroySampler(h.context.Device.LogicalDevice, old, h.context.Allocator)
	}
	h.samplers[dst.Index] = sampler
	h.mutex.Unlock()

	h.write(vk.WriteDescriptorSet{
		SType:           vk.StructureTypeWriteDescriptorSet,
		DstSet:          h.Set,
		DstBinding:      bindingSamplers,
		DstArrayElement: dst.Index,
		DescriptorCount: 1,
		DescriptorType:  vk.DescriptorTypeSampler,
		PImageInfo:      []vk.DescriptorImageInfo{{Sampler: sampler}},
	})
	return nil
}

func (h *VulkanDescriptorHeap) write(w vk.WriteDescriptorSet) {
	_ = h.context.locks.SafeCall(DescriptorManagement, func() error {
		vk.UpdateDescriptorSets(h.context.Device.LogicalDevice, 1, []vk.WriteDescriptorSet{w}, 0, nil)
		return nil
	})
}

func (h *VulkanDescriptorHeap) setTarget(dst metadata.DescriptorHandle, image *VulkanImage, framebuffer *VulkanFramebuffer) error {
	if err := h.check(dst); err != nil {
		return err
	}
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if old := h.targets[dst.Index].framebuffer; old != nil {
		old.Destroy(h.context)
	}
	h.targets[dst.Index] = renderTargetView{image: image, framebuffer: framebuffer}
	return nil
}

func (h *VulkanDescriptorHeap) target(handle metadata.DescriptorHandle) (renderTargetView, error) {
	if err := h.check(handle); err != nil {
		return renderTargetView{}, err
	}
	h.mutex.Lock()
	defer h.mutex.Unlock()
	t := h.targets[handle.Index]
	if t.framebuffer == nil {
		return renderTargetView{}, fmt.Errorf("no render target view at %s", handle)
	}
	return t, nil
}

func (h *VulkanDescriptorHeap) Release() {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	device := h.context.Device.LogicalDevice
	for i, t := range h.targets {
		if t.framebuffer != nil {
			t.framebuffer.Destroy(h.context)
		}
		h.targets[i] = renderTargetView{}
	}
	for i, s := range h.samplers {
		if s != nil {
			vk.DestroySampler(device, s, h.context.Allocator)
			h.samplers[i] = nil
		}
	}
	if h.Pool != nil {
		vk.DestroyDescriptorPool(device, h.Pool, h.context.Allocator)
		h.Pool = nil
		h.Set = nil
	}
	if h.Layout != nil {
		vk.DestroyDescriptorSetLayout(device, h.Layout, h.context.Allocator)
		h.Layout = nil
	}
}

package vulkan

import (
	"fmt"
	"sync"
	"unsafe"

	vk "github.com/goki/vulkan"
	"github.com/google/uuid"

	"github.com/spaghettifunk/spritelayers/engine/renderer/metadata"
)

/**
 * @brief A linear buffer. Upload heap buffers are host coherent and stay mapped for
 * their whole life.
 */
type VulkanBuffer struct {
	id      uuid.UUID
	desc    metadata.ResourceDesc
	context *VulkanContext

	Handle vk.Buffer
	Memory vk.DeviceMemory
	Size   uint64

	mutex    sync.Mutex
	mapped   []byte
	released bool
}

func bufferUsage(usage metadata.UsageFlags) vk.BufferUsageFlags {
	var flags vk.BufferUsageFlags
	if usage.Has(metadata.UsageCopySource) {
		flags |= vk.BufferUsageFlags(vk.BufferUsageTransferSrcBit)
	}
	if usage.Has(metadata.UsageCopyDest) {
		flags |= vk.BufferUsageFlags(vk.BufferUsageTransferDstBit)
	}
	if usage.Has(metadata.UsageVertexBuffer) {
		flags |= vk.BufferUsageFlags(vk.BufferUsageVertexBufferBit)
	}
	if usage.Has(metadata.UsageConstantBuffer) {
		flags |= vk.BufferUsageFlags(vk.BufferUsageUniformBufferBit)
	}
	if usage.Has(metadata.UsageUnorderedAccess) {
		flags |= vk.BufferUsageFlags(vk.BufferUsageStorageBufferBit)
	}
	return flags
}

func BufferCreate(context *VulkanContext, desc *metadata.ResourceDesc) (*VulkanBuffer, error) {
	buffer := &VulkanBuffer{
		id:      uuid.New(),
		desc:    *desc,
		context: context,
		Size:    desc.Size(),
	}

	properties := vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit)
	if desc.Heap == metadata.HeapTypeUpload {
		properties = vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit) | vk.MemoryPropertyFlags(vk.MemoryPropertyHostCoherentBit)
	}

	bufferCreateInfo := vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:        vk.DeviceSize(buffer.Size),
		Usage:       bufferUsage(desc.Usage),
		SharingMode: vk.SharingModeExclusive,
	}

	device := context.Device.LogicalDevice
	if err := context.locks.SafeCall(ResourceManagement, func() error {
		var handle vk.Buffer
		if res := vk.CreateBuffer(device, &bufferCreateInfo, context.Allocator, &handle); !VulkanResultIsSuccess(res) {
			return resultError("vkCreateBuffer", res)
		}
		buffer.Handle = handle

		var requirements vk.MemoryRequirements
		vk.GetBufferMemoryRequirements(device, handle, &requirements)
		requirements.Deref()

		memory, err := context.allocateMemory(requirements, properties)
		if err != nil {
			return err
		}
		buffer.Memory = memory

		if res := vk.BindBufferMemory(device, handle, memory, 0); !VulkanResultIsSuccess(res) {
			return resultError("vkBindBufferMemory", res)
		}

		if desc.Heap == metadata.HeapTypeUpload {
			var data unsafe.Pointer
			if res := vk.MapMemory(device, memory, 0, vk.DeviceSize(buffer.Size), 0, &data); !VulkanResultIsSuccess(res) {
				return resultError("vkMapMemory", res)
			}
			buffer.mapped = unsafe.Slice((*byte)(data), buffer.Size)
		}
		return nil
	}); err != nil {
		buffer.destroy()
		return nil, err
	}

	return buffer, nil
}

func (vb *VulkanBuffer) ID() uuid.UUID {
	return vb.id
}

func (vb *VulkanBuffer) Desc() *metadata.ResourceDesc {
	return &vb.desc
}

// Map returns the persistent mapping of an upload buffer.
func (vb *VulkanBuffer) Map() ([]byte, error) {
	vb.mutex.Lock()
	defer vb.mutex.Unlock()
	if vb.released {
		return nil, fmt.Errorf("buffer %q was released", vb.desc.Name)
	}
	if vb.mapped == nil {
		return nil, fmt.Errorf("buffer %q is not host visible", vb.desc.Name)
	}
	return vb.mapped, nil
}

// Unmap is a no-op: host coherent memory needs no flush.
func (vb *VulkanBuffer) Unmap() {}

func (vb *VulkanBuffer) Release() {
	vb.mutex.Lock()
	defer vb.mutex.Unlock()
	if vb.released {
		return
	}
	vb.released = true
	vb.destroy()
}

func (vb *VulkanBuffer) destroy() {
	device := vb.context.Device.LogicalDevice
	if vb.mapped != nil {
		vk.UnmapMemory(device, vb.Memory)
		vb.mapped = nil
	}
	if vb.Handle != nil {
		vk.DestroyBuffer(device, vb.Handle, vb.context.Allocator)
		vb.Handle = nil
	}
	if vb.Memory != nil {
		vk.FreeMemory(device, vb.Memory, vb.context.Allocator)
		vb.Memory = nil
	}
}

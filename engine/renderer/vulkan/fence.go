package vulkan

import (
	"fmt"
	"math"
	"sync"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/spritelayers/engine/core"
)

/**
 * @brief A counting fence built on one binary VkFence. At most one submission is pending at
 * a time; when it retires the completed value jumps to the value it was submitted with.
 */
type VulkanFence struct {
	context *VulkanContext
	Handle  vk.Fence

	mutex     sync.Mutex
	pending   uint64
	completed uint64
	inFlight  bool
}

func NewFence(context *VulkanContext, initial uint64) (*VulkanFence, error) {
	fenceCreateInfo := vk.FenceCreateInfo{
		SType: vk.StructureTypeFenceCreateInfo,
	}

	var handle vk.Fence
	if res := vk.CreateFence(context.Device.LogicalDevice, &fenceCreateInfo, context.Allocator, &handle); !VulkanResultIsSuccess(res) {
		err := resultError("vkCreateFence", res)
		core.LogError(err.Error())
		return nil, err
	}
	return &VulkanFence{
		context:   context,
		Handle:    handle,
		pending:   initial,
		completed: initial,
	}, nil
}

// arm prepares the fence for a submission that signals value.
func (vf *VulkanFence) arm(value uint64) error {
	vf.mutex.Lock()
	defer vf.mutex.Unlock()
	if vf.inFlight {
		return fmt.Errorf("fence already has a pending signal of %d", vf.pending)
	}
	if res := vk.ResetFences(vf.context.Device.LogicalDevice, 1, []vk.Fence{vf.Handle}); !VulkanResultIsSuccess(res) {
		return resultError("vkResetFences", res)
	}
	vf.pending = value
	vf.inFlight = true
	return nil
}

// disarm rolls back arm when the submission itself failed.
func (vf *VulkanFence) disarm() {
	vf.mutex.Lock()
	vf.pending = vf.completed
	vf.inFlight = false
	vf.mutex.Unlock()
}

func (vf *VulkanFence) CompletedValue() uint64 {
	vf.mutex.Lock()
	defer vf.mutex.Unlock()
	if vf.inFlight && vk.GetFenceStatus(vf.context.Device.LogicalDevice, vf.Handle) == vk.Success {
		vf.completed = vf.pending
		vf.inFlight = false
	}
	return vf.completed
}

func (vf *VulkanFence) Wait(value uint64) error {
	vf.mutex.Lock()
	defer vf.mutex.Unlock()
	if vf.completed >= value {
		return nil
	}
	if !vf.inFlight || vf.pending < value {
		return fmt.Errorf("fence value %d was never signalled (completed %d)", value, vf.completed)
	}

	result := vk.WaitForFences(vf.context.Device.LogicalDevice, 1, []vk.Fence{vf.Handle}, vk.True, math.MaxUint64)
	switch result {
	case vk.Success:
		vf.completed = vf.pending
		vf.inFlight = false
		return nil
	case vk.Timeout:
		core.LogWarn("vk_fence_wait - Timed out")
	case vk.ErrorDeviceLost:
		core.LogError("vk_fence_wait - VK_ERROR_DEVICE_LOST.")
	default:
		core.LogError("vk_fence_wait - %s", VulkanResultString(result, false))
	}
	return resultError("vkWaitForFences", result)
}

func (vf *VulkanFence) Release() {
	vf.mutex.Lock()
	defer vf.mutex.Unlock()
	if vf.Handle != nil {
		vk.DestroyFence(vf.context.Device.LogicalDevice, vf.Handle, vf.context.Allocator)
		vf.Handle = nil
	}
}

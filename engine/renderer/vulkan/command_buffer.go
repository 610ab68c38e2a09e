package vulkan

import (
	"errors"
	"fmt"
	"unsafe"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/spritelayers/engine/core"
	"github.com/spaghettifunk/spritelayers/engine/renderer"
	"github.com/spaghettifunk/spritelayers/engine/renderer/metadata"
)

type VulkanCommandBufferState int

const (
	COMMAND_BUFFER_STATE_READY VulkanCommandBufferState = iota
	COMMAND_BUFFER_STATE_RECORDING
	COMMAND_BUFFER_STATE_IN_RENDER_PASS
	COMMAND_BUFFER_STATE_RECORDING_ENDED
	COMMAND_BUFFER_STATE_SUBMITTED
	COMMAND_BUFFER_STATE_NOT_ALLOCATED
)

func (s VulkanCommandBufferState) String() string {
	switch s {
	case COMMAND_BUFFER_STATE_READY:
		return "ready"
	case COMMAND_BUFFER_STATE_RECORDING:
		return "recording"
	case COMMAND_BUFFER_STATE_IN_RENDER_PASS:
		return "in_render_pass"
	case COMMAND_BUFFER_STATE_RECORDING_ENDED:
		return "recording_ended"
	case COMMAND_BUFFER_STATE_SUBMITTED:
		return "submitted"
	}
	return "not_allocated"
}

/**
 * @brief A primary command buffer recorded through the CommandList interface.
 *
 * Render passes are opened lazily by the first clear or draw after SetRenderTargets and
 * closed before anything that cannot run inside one. Recording errors are sticky and
 * reported by Close.
 */
type VulkanCommandBuffer struct {
	backend *VulkanBackend

	Handle vk.CommandBuffer
	// Command buffer state.
	State VulkanCommandBufferState

	resources *VulkanDescriptorHeap
	samplers  *VulkanDescriptorHeap

	graphics *VulkanRootSignature
	compute  *VulkanRootSignature

	target *VulkanFramebuffer

	err error
}

func NewVulkanCommandBuffer(backend *VulkanBackend, pool vk.CommandPool, isPrimary bool) (*VulkanCommandBuffer, error) {
	context := backend.context
	vCommandBuffer := &VulkanCommandBuffer{
		backend: backend,
		State:   COMMAND_BUFFER_STATE_NOT_ALLOCATED,
	}

	level := vk.CommandBufferLevelPrimary
	if !isPrimary {
		level = vk.CommandBufferLevelSecondary
	}

	allocateInfo := vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        pool,
		CommandBufferCount: 1,
		Level:              level,
	}

	handles := make([]vk.CommandBuffer, 1)
	if err := context.locks.SafeCall(CommandBufferManagement, func() error {
		if res := vk.AllocateCommandBuffers(context.Device.LogicalDevice, &allocateInfo, handles); !VulkanResultIsSuccess(res) {
			return resultError("vkAllocateCommandBuffers", res)
		}
		return nil
	}); err != nil {
		core.LogError(err.Error())
		return nil, err
	}
	vCommandBuffer.Handle = handles[0]
	vCommandBuffer.State = COMMAND_BUFFER_STATE_READY

	return vCommandBuffer, nil
}

func (v *VulkanCommandBuffer) Free(context *VulkanContext, pool vk.CommandPool) {
	if v.Handle == nil {
		return
	}
	_ = context.locks.SafeCall(CommandBufferManagement, func() error {
		vk.FreeCommandBuffers(context.Device.LogicalDevice, pool, 1, []vk.CommandBuffer{v.Handle})
		return nil
	})
	v.Handle = nil
	v.State = COMMAND_BUFFER_STATE_NOT_ALLOCATED
}

func (v *VulkanCommandBuffer) Begin(isSingleUse, isRenderpassContinue, isSimultaneousUse bool) error {
	vBeginInfo := &vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
		Flags: 0,
	}

	if isSingleUse {
		vBeginInfo.Flags |= vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit)
	}
	if isRenderpassContinue {
		vBeginInfo.Flags |= vk.CommandBufferUsageFlags(vk.CommandBufferUsageRenderPassContinueBit)
	}
	if isSimultaneousUse {
		vBeginInfo.Flags |= vk.CommandBufferUsageFlags(vk.CommandBufferUsageSimultaneousUseBit)
	}

	if res := vk.BeginCommandBuffer(v.Handle, vBeginInfo); !VulkanResultIsSuccess(res) {
		return resultError("vkBeginCommandBuffer", res)
	}
	v.State = COMMAND_BUFFER_STATE_RECORDING
	return nil
}

func (v *VulkanCommandBuffer) End() error {
	if res := vk.EndCommandBuffer(v.Handle); !VulkanResultIsSuccess(res) {
		return resultError("vkEndCommandBuffer", res)
	}
	v.State = COMMAND_BUFFER_STATE_RECORDING_ENDED
	return nil
}

func (v *VulkanCommandBuffer) UpdateSubmitted() {
	v.State = COMMAND_BUFFER_STATE_SUBMITTED
}

// Reset discards previous contents and starts recording.
func (v *VulkanCommandBuffer) Reset() error {
	if v.Handle == nil {
		return errors.New("command list was released")
	}
	if res := vk.ResetCommandBuffer(v.Handle, 0); !VulkanResultIsSuccess(res) {
		return resultError("vkResetCommandBuffer", res)
	}
	v.State = COMMAND_BUFFER_STATE_READY
	v.resources, v.samplers = nil, nil
	v.graphics, v.compute = nil, nil
	v.target = nil
	v.err = nil
	return v.Begin(false, false, false)
}

func (v *VulkanCommandBuffer) Close() error {
	v.endPass()
	if v.err != nil {
		return v.err
	}
	return v.End()
}

func (v *VulkanCommandBuffer) Release() {
	v.Free(v.backend.context, v.backend.context.Device.CommandPool)
}

func (v *VulkanCommandBuffer) fail(err error) {
	if v.err == nil {
		v.err = err
		core.LogError("command list: %s", err)
	}
}

func (v *VulkanCommandBuffer) beginPass() bool {
	if v.State == COMMAND_BUFFER_STATE_IN_RENDER_PASS {
		return true
	}
	if v.target == nil {
		v.fail(errors.New("draw recorded without a render target"))
		return false
	}
	v.target.Renderpass.RenderpassBegin(v, v.target)
	return true
}

func (v *VulkanCommandBuffer) endPass() {
	if v.State == COMMAND_BUFFER_STATE_IN_RENDER_PASS {
		v.target.Renderpass.RenderpassEnd(v)
	}
}

func (v *VulkanCommandBuffer) SetDescriptorHeaps(heaps ...renderer.DescriptorHeap) {
	for _, h := range heaps {
		heap, ok := h.(*VulkanDescriptorHeap)
		if !ok {
			v.fail(fmt.Errorf("descriptor heap %T does not belong to this device", h))
			return
		}
		switch heap.kind {
		case metadata.HeapKindCBVSRVUAV:
			v.resources = heap
		case metadata.HeapKindSampler:
			v.samplers = heap
		default:
			v.fail(fmt.Errorf("%s heap is not shader visible", heap.kind))
		}
	}
}

func (v *VulkanCommandBuffer) bindRootSignature(rs renderer.RootSignature) *VulkanRootSignature {
	root, ok := rs.(*VulkanRootSignature)
	if !ok {
		v.fail(fmt.Errorf("root signature %T does not belong to this device", rs))
		return nil
	}
	if v.resources == nil || v.samplers == nil {
		v.fail(errors.New("root signature bound before descriptor heaps"))
		return nil
	}
	vk.CmdBindDescriptorSets(v.Handle, root.BindPoint, root.Layout, setResources, 2,
		[]vk.DescriptorSet{v.resources.Set, v.samplers.Set}, 0, nil)
	return root
}

func (v *VulkanCommandBuffer) SetComputeRootSignature(rs renderer.RootSignature) {
	v.endPass()
	v.compute = v.bindRootSignature(rs)
}

func (v *VulkanCommandBuffer) SetGraphicsRootSignature(rs renderer.RootSignature) {
	v.graphics = v.bindRootSignature(rs)
}

func (v *VulkanCommandBuffer) pushTable(root *VulkanRootSignature, param uint32, base metadata.DescriptorHandle) {
	if root == nil {
		v.fail(fmt.Errorf("descriptor table %d set without a root signature", param))
		return
	}
	if int(param) >= len(root.desc.Parameters) {
		v.fail(fmt.Errorf("root signature has no parameter %d", param))
		return
	}
	index := base.Index
	vk.CmdPushConstants(v.Handle, root.Layout, root.Stages, param*pushConstantStride, pushConstantStride, unsafe.Pointer(&index))
}

func (v *VulkanCommandBuffer) SetComputeRootDescriptorTable(param uint32, base metadata.DescriptorHandle) {
	v.pushTable(v.compute, param, base)
}

func (v *VulkanCommandBuffer) SetGraphicsRootDescriptorTable(param uint32, base metadata.DescriptorHandle) {
	v.pushTable(v.graphics, param, base)
}

func (v *VulkanCommandBuffer) SetPipelineState(ps renderer.PipelineState) {
	pipeline, ok := ps.(*VulkanPipeline)
	if !ok {
		v.fail(fmt.Errorf("pipeline %T does not belong to this device", ps))
		return
	}
	if pipeline.RootSignature.BindPoint == vk.PipelineBindPointCompute {
		v.endPass()
	}
	pipeline.Bind(v)
}

func (v *VulkanCommandBuffer) CopyBufferRegion(dst renderer.Resource, dstOffset uint64, src renderer.Resource, srcOffset uint64, size uint64) {
	v.endPass()
	d, okd := dst.(*VulkanBuffer)
	s, oks := src.(*VulkanBuffer)
	if !okd || !oks {
		v.fail(fmt.Errorf("copy between %T and %T: both must be buffers", src, dst))
		return
	}
	if srcOffset+size > s.Size || dstOffset+size > d.Size {
		v.fail(fmt.Errorf("copy of %d bytes overruns %q or %q", size, s.desc.Name, d.desc.Name))
		return
	}
	vk.CmdCopyBuffer(v.Handle, s.Handle, d.Handle, 1, []vk.BufferCopy{{
		SrcOffset: vk.DeviceSize(srcOffset),
		DstOffset: vk.DeviceSize(dstOffset),
		Size:      vk.DeviceSize(size),
	}})
}

func (v *VulkanCommandBuffer) Dispatch(x, y, z uint32) {
	v.endPass()
	vk.CmdDispatch(v.Handle, x, y, z)
}

type stateAccess struct {
	stage  vk.PipelineStageFlags
	access vk.AccessFlags
}

func accessOf(state metadata.ResourceState) stateAccess {
	switch state {
	case metadata.ResourceStateRenderTarget:
		return stateAccess{
			vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit),
			vk.AccessFlags(vk.AccessColorAttachmentReadBit) | vk.AccessFlags(vk.AccessColorAttachmentWriteBit),
		}
	case metadata.ResourceStateGenericRead:
		return stateAccess{
			vk.PipelineStageFlags(vk.PipelineStageAllCommandsBit),
			vk.AccessFlags(vk.AccessShaderReadBit) | vk.AccessFlags(vk.AccessTransferReadBit) |
				vk.AccessFlags(vk.AccessUniformReadBit) | vk.AccessFlags(vk.AccessVertexAttributeReadBit),
		}
	case metadata.ResourceStateCopySource:
		return stateAccess{vk.PipelineStageFlags(vk.PipelineStageTransferBit), vk.AccessFlags(vk.AccessTransferReadBit)}
	case metadata.ResourceStateCopyDest:
		return stateAccess{vk.PipelineStageFlags(vk.PipelineStageTransferBit), vk.AccessFlags(vk.AccessTransferWriteBit)}
	case metadata.ResourceStateUnorderedAccess:
		return stateAccess{
			vk.PipelineStageFlags(vk.PipelineStageComputeShaderBit),
			vk.AccessFlags(vk.AccessShaderReadBit) | vk.AccessFlags(vk.AccessShaderWriteBit),
		}
	case metadata.ResourceStateVertexAndConstantBuffer:
		return stateAccess{
			vk.PipelineStageFlags(vk.PipelineStageVertexInputBit) | vk.PipelineStageFlags(vk.PipelineStageVertexShaderBit) |
				vk.PipelineStageFlags(vk.PipelineStageFragmentShaderBit),
			vk.AccessFlags(vk.AccessVertexAttributeReadBit) | vk.AccessFlags(vk.AccessUniformReadBit),
		}
	}
	return stateAccess{
		vk.PipelineStageFlags(vk.PipelineStageAllCommandsBit),
		vk.AccessFlags(vk.AccessMemoryReadBit) | vk.AccessFlags(vk.AccessMemoryWriteBit),
	}
}

// imageLayout maps a state onto the layout of image. The common state of a back buffer is
// the present layout, and its contents are discarded when it leaves it.
func imageLayout(image *VulkanImage, state metadata.ResourceState, before bool) vk.ImageLayout {
	switch state {
	case metadata.ResourceStateCommon:
		if image.swapchainOwned {
			if before {
				return vk.ImageLayoutUndefined
			}
			return vk.ImageLayoutPresentSrc
		}
		return vk.ImageLayoutShaderReadOnlyOptimal
	case metadata.ResourceStateRenderTarget:
		return vk.ImageLayoutColorAttachmentOptimal
	case metadata.ResourceStateCopySource:
		return vk.ImageLayoutTransferSrcOptimal
	case metadata.ResourceStateCopyDest:
		return vk.ImageLayoutTransferDstOptimal
	case metadata.ResourceStateUnorderedAccess:
		return vk.ImageLayoutGeneral
	}
	return vk.ImageLayoutShaderReadOnlyOptimal
}

func (v *VulkanCommandBuffer) ResourceBarrier(barriers ...metadata.Barrier) {
	v.endPass()
	var srcStage, dstStage vk.PipelineStageFlags
	var bufferBarriers []vk.BufferMemoryBarrier
	var imageBarriers []vk.ImageMemoryBarrier

	for _, b := range barriers {
		before, after := accessOf(b.Before), accessOf(b.After)
		srcStage |= before.stage
		dstStage |= after.stage

		switch res := b.Resource.(type) {
		case *VulkanBuffer:
			bufferBarriers = append(bufferBarriers, vk.BufferMemoryBarrier{
				SType:               vk.StructureTypeBufferMemoryBarrier,
				SrcAccessMask:       before.access,
				DstAccessMask:       after.access,
				SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
				DstQueueFamilyIndex: vk.QueueFamilyIgnored,
				Buffer:              res.Handle,
				Offset:              0,
				Size:                vk.DeviceSize(res.Size),
			})
		case *VulkanImage:
			imageBarriers = append(imageBarriers, vk.ImageMemoryBarrier{
				SType:               vk.StructureTypeImageMemoryBarrier,
				SrcAccessMask:       before.access,
				DstAccessMask:       after.access,
				OldLayout:           imageLayout(res, b.Before, true),
				NewLayout:           imageLayout(res, b.After, false),
				SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
				DstQueueFamilyIndex: vk.QueueFamilyIgnored,
				Image:               res.Handle,
				SubresourceRange:    colorSubresourceRange(),
			})
		default:
			v.fail(fmt.Errorf("barrier on foreign resource %T", b.Resource))
			return
		}
	}
	if len(bufferBarriers) == 0 && len(imageBarriers) == 0 {
		return
	}

	vk.CmdPipelineBarrier(v.Handle, srcStage, dstStage, 0,
		0, nil,
		uint32(len(bufferBarriers)), bufferBarriers,
		uint32(len(imageBarriers)), imageBarriers)
}

// SetRenderTargets binds the framebuffer of the first view; one color attachment is supported.
func (v *VulkanCommandBuffer) SetRenderTargets(rtvs ...metadata.DescriptorHandle) {
	v.endPass()
	if len(rtvs) != 1 {
		v.fail(fmt.Errorf("expected one render target, got %d", len(rtvs)))
		return
	}
	view, err := v.backend.targetView(rtvs[0])
	if err != nil {
		v.fail(err)
		return
	}
	v.target = view.framebuffer
}

func (v *VulkanCommandBuffer) ClearRenderTargetView(rtv metadata.DescriptorHandle, color [4]float32) {
	view, err := v.backend.targetView(rtv)
	if err != nil {
		v.fail(err)
		return
	}
	if v.target != view.framebuffer {
		v.endPass()
		v.target = view.framebuffer
	}
	if !v.beginPass() {
		return
	}
	clearAttachments(v.Handle, view.framebuffer, color)
}

func clearAttachments(cmd vk.CommandBuffer, framebuffer *VulkanFramebuffer, color [4]float32) {
	var value vk.ClearValue
	value.SetColor(color[:])
	vk.CmdClearAttachments(cmd, 1, []vk.ClearAttachment{{
		AspectMask:      vk.ImageAspectFlags(vk.ImageAspectColorBit),
		ColorAttachment: 0,
		ClearValue:      value,
	}}, 1, []vk.ClearRect{{
		Rect: vk.Rect2D{
			Offset: vk.Offset2D{X: 0, Y: 0},
			Extent: vk.Extent2D{Width: framebuffer.Width, Height: framebuffer.Height},
		},
		BaseArrayLayer: 0,
		LayerCount:     1,
	}})
}

func (v *VulkanCommandBuffer) SetViewport(viewport metadata.Viewport) {
	vk.CmdSetViewport(v.Handle, 0, 1, []vk.Viewport{{
		X:        viewport.X,
		Y:        viewport.Y,
		Width:    viewport.Width,
		Height:   viewport.Height,
		MinDepth: viewport.MinDepth,
		MaxDepth: viewport.MaxDepth,
	}})
}

func (v *VulkanCommandBuffer) SetScissorRect(rect metadata.Rect) {
	vk.CmdSetScissor(v.Handle, 0, 1, []vk.Rect2D{{
		Offset: vk.Offset2D{X: rect.Left, Y: rect.Top},
		Extent: vk.Extent2D{Width: uint32(rect.Right - rect.Left), Height: uint32(rect.Bottom - rect.Top)},
	}})
}

func (v *VulkanCommandBuffer) SetVertexBuffer(view metadata.VertexBufferView) {
	buffer, ok := view.Resource.(*VulkanBuffer)
	if !ok {
		v.fail(fmt.Errorf("vertex buffer %T is not a buffer", view.Resource))
		return
	}
	if view.Size > buffer.Size {
		v.fail(fmt.Errorf("vertex view of %d bytes overruns %q", view.Size, buffer.desc.Name))
		return
	}
	vk.CmdBindVertexBuffers(v.Handle, 0, 1, []vk.Buffer{buffer.Handle}, []vk.DeviceSize{0})
}

func (v *VulkanCommandBuffer) Draw(vertexCount, instanceCount, firstVertex, firstInstance uint32) {
	if !v.beginPass() {
		return
	}
	vk.CmdDraw(v.Handle, vertexCount, instanceCount, firstVertex, firstInstance)
}

// SingleUse records fn into a transient command buffer, submits it and waits for the queue to drain.
func (vc *VulkanContext) SingleUse(fn func(cmd vk.CommandBuffer)) error {
	device := vc.Device
	allocateInfo := vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        device.CommandPool,
		CommandBufferCount: 1,
		Level:              vk.CommandBufferLevelPrimary,
	}

	handles := make([]vk.CommandBuffer, 1)
	if err := vc.locks.SafeCall(CommandBufferManagement, func() error {
		if res := vk.AllocateCommandBuffers(device.LogicalDevice, &allocateInfo, handles); !VulkanResultIsSuccess(res) {
			return resultError("vkAllocateCommandBuffers", res)
		}
		return nil
	}); err != nil {
		return err
	}
	cb := &VulkanCommandBuffer{Handle: handles[0], State: COMMAND_BUFFER_STATE_READY}
	defer func() {
		_ = vc.locks.SafeCall(CommandBufferManagement, func() error {
			vk.FreeCommandBuffers(device.LogicalDevice, device.CommandPool, 1, handles)
			return nil
		})
	}()

	if err := cb.Begin(true, false, false); err != nil {
		return err
	}
	fn(cb.Handle)
	if err := cb.End(); err != nil {
		return err
	}

	submitInfo := vk.SubmitInfo{
		SType:              vk.StructureTypeSubmitInfo,
		CommandBufferCount: 1,
		PCommandBuffers:    handles,
	}
	return vc.locks.SafeCall(QueueManagement, func() error {
		if res := vk.QueueSubmit(device.Queue, 1, []vk.SubmitInfo{submitInfo}, vk.NullFence); !VulkanResultIsSuccess(res) {
			return resultError("vkQueueSubmit", res)
		}
		// Wait for it to finish
		if res := vk.QueueWaitIdle(device.Queue); !VulkanResultIsSuccess(res) {
			return resultError("vkQueueWaitIdle", res)
		}
		return nil
	})
}

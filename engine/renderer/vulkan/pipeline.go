package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/spritelayers/engine/core"
	"github.com/spaghettifunk/spritelayers/engine/renderer/metadata"
)

// pushConstantStride is the size of one descriptor table parameter: the base array element.
const pushConstantStride = 4

/**
 * @brief A root signature expressed as a pipeline layout: the resource and sampler sets,
 * plus one push constant word per descriptor table holding the table's base element.
 */
type VulkanRootSignature struct {
	context *VulkanContext
	desc    metadata.RootSignatureDesc

	Layout    vk.PipelineLayout
	Stages    vk.ShaderStageFlags
	BindPoint vk.PipelineBindPoint
}

func RootSignatureCreate(context *VulkanContext, desc *metadata.RootSignatureDesc, resources, samplers *VulkanDescriptorHeap) (*VulkanRootSignature, error) {
	rs := &VulkanRootSignature{
		context:   context,
		desc:      *desc,
		Stages:    vk.ShaderStageFlags(vk.ShaderStageVertexBit) | vk.ShaderStageFlags(vk.ShaderStageFragmentBit),
		BindPoint: vk.PipelineBindPointGraphics,
	}
	if desc.Kind == metadata.RootSignatureCompute {
		rs.Stages = vk.ShaderStageFlags(vk.ShaderStageComputeBit)
		rs.BindPoint = vk.PipelineBindPointCompute
	}

	// NOTE: 32 is the max number of ranges we can ever have, since Vulkan only guarantees 128 bytes with 4-byte alignment.
	if len(desc.Parameters) > 32 {
		return nil, fmt.Errorf("cannot have more than 32 descriptor tables, got %d", len(desc.Parameters))
	}

	pushConstantRange := vk.PushConstantRange{
		StageFlags: rs.Stages,
		Offset:     0,
		Size:       uint32(len(desc.Parameters) * pushConstantStride),
	}

	pipelineLayoutCreateInfo := vk.PipelineLayoutCreateInfo{
		SType:                  vk.StructureTypePipelineLayoutCreateInfo,
		SetLayoutCount:         2,
		PSetLayouts:            []vk.DescriptorSetLayout{resources.Layout, samplers.Layout},
		PushConstantRangeCount: 1,
		PPushConstantRanges:    []vk.PushConstantRange{pushConstantRange},
	}

	if err := context.locks.SafeCall(PipelineManagement, func() error {
		var layout vk.PipelineLayout
		result := vk.CreatePipelineLayout(context.Device.LogicalDevice, &pipelineLayoutCreateInfo, context.Allocator, &layout)
		if !VulkanResultIsSuccess(result) {
			return resultError("vkCreatePipelineLayout", result)
		}
		rs.Layout = layout
		return nil
	}); err != nil {
		return nil, err
	}
	return rs, nil
}

func (rs *VulkanRootSignature) Desc() *metadata.RootSignatureDesc {
	return &rs.desc
}

func (rs *VulkanRootSignature) Release() {
	if rs.Layout == nil {
		return
	}
	_ = rs.context.locks.SafeCall(PipelineManagement, func() error {
		vk.DestroyPipelineLayout(rs.context.Device.LogicalDevice, rs.Layout, rs.context.Allocator)
		rs.Layout = nil
		return nil
	})
}

/**
 * @brief Holds a Vulkan pipeline and the root signature it was built against.
 */
type VulkanPipeline struct {
	context *VulkanContext
	name    string

	/** @brief The internal pipeline handle. */
	Handle vk.Pipeline
	/** @brief The root signature providing the pipeline layout. */
	RootSignature *VulkanRootSignature
}

// vertexAttributes mirrors metadata.Vertex: position, uv, color, then the u32 tag.
func vertexAttributes() []vk.VertexInputAttributeDescription {
	return []vk.VertexInputAttributeDescription{
		{Location: 0, Binding: 0, Format: vk.FormatR32g32b32a32Sfloat, Offset: 0},
		{Location: 1, Binding: 0, Format: vk.FormatR32g32b32a32Sfloat, Offset: 16},
		{Location: 2, Binding: 0, Format: vk.FormatR32g32b32a32Sfloat, Offset: 32},
		{Location: 3, Binding: 0, Format: vk.FormatR32g32b32a32Uint, Offset: 48},
	}
}

func NewGraphicsPipeline(context *VulkanContext, name string, rs *VulkanRootSignature, renderpass *VulkanRenderpass, stages []vk.PipelineShaderStageCreateInfo, blend bool) (*VulkanPipeline, error) {
	// Viewport and scissor are dynamic; only the counts matter here.
	viewportState := vk.PipelineViewportStateCreateInfo{
		SType:         vk.StructureTypePipelineViewportStateCreateInfo,
		ViewportCount: 1,
		ScissorCount:  1,
	}

	rasterizerCreateInfo := vk.PipelineRasterizationStateCreateInfo{
		SType:                   vk.StructureTypePipelineRasterizationStateCreateInfo,
		DepthClampEnable:        vk.False,
		RasterizerDiscardEnable: vk.False,
		PolygonMode:             vk.PolygonModeFill,
		LineWidth:               1.0,
		CullMode:                vk.CullModeFlags(vk.CullModeNone),
		FrontFace:               vk.FrontFaceCounterClockwise,
		DepthBiasEnable:         vk.False,
	}

	multisamplingCreateInfo := vk.PipelineMultisampleStateCreateInfo{
		SType:                vk.StructureTypePipelineMultisampleStateCreateInfo,
		SampleShadingEnable:  vk.False,
		RasterizationSamples: vk.SampleCount1Bit,
		MinSampleShading:     1.0,
	}

	colorBlendAttachmentState := vk.PipelineColorBlendAttachmentState{
		BlendEnable:         vk.False,
		SrcColorBlendFactor: vk.BlendFactorSrcAlpha,
		DstColorBlendFactor: vk.BlendFactorOneMinusSrcAlpha,
		ColorBlendOp:        vk.BlendOpAdd,
		SrcAlphaBlendFactor: vk.BlendFactorOne,
		DstAlphaBlendFactor: vk.BlendFactorOneMinusSrcAlpha,
		AlphaBlendOp:        vk.BlendOpAdd,
		ColorWriteMask: vk.ColorComponentFlags(vk.ColorComponentRBit) | vk.ColorComponentFlags(vk.ColorComponentGBit) |
			vk.ColorComponentFlags(vk.ColorComponentBBit) | vk.ColorComponentFlags(vk.ColorComponentABit),
	}
	if blend {
		colorBlendAttachmentState.BlendEnable = vk.True
	}

	colorBlendStateCreateInfo := vk.PipelineColorBlendStateCreateInfo{
		SType:           vk.StructureTypePipelineColorBlendStateCreateInfo,
		LogicOpEnable:   vk.False,
		LogicOp:         vk.LogicOpCopy,
		AttachmentCount: 1,
		PAttachments:    []vk.PipelineColorBlendAttachmentState{colorBlendAttachmentState},
	}

	dynamicStates := []vk.DynamicState{
		vk.DynamicStateViewport,
		vk.DynamicStateScissor,
	}
	dynamicStateCreateInfo := vk.PipelineDynamicStateCreateInfo{
		SType:             vk.StructureTypePipelineDynamicStateCreateInfo,
		DynamicStateCount: uint32(len(dynamicStates)),
		PDynamicStates:    dynamicStates,
	}

	bindingDescription := vk.VertexInputBindingDescription{
		Binding:   0,
		Stride:    metadata.VertexSize,
		InputRate: vk.VertexInputRateVertex,
	}
	attributes := vertexAttributes()
	vertexInputInfo := vk.PipelineVertexInputStateCreateInfo{
		SType:                           vk.StructureTypePipelineVertexInputStateCreateInfo,
		VertexBindingDescriptionCount:   1,
		PVertexBindingDescriptions:      []vk.VertexInputBindingDescription{bindingDescription},
		VertexAttributeDescriptionCount: uint32(len(attributes)),
		PVertexAttributeDescriptions:    attributes,
	}

	inputAssembly := vk.PipelineInputAssemblyStateCreateInfo{
		SType:                  vk.StructureTypePipelineInputAssemblyStateCreateInfo,
		Topology:               vk.PrimitiveTopologyTriangleList,
		PrimitiveRestartEnable: vk.False,
	}

	pipelineCreateInfo := vk.GraphicsPipelineCreateInfo{
		SType:               vk.StructureTypeGraphicsPipelineCreateInfo,
		StageCount:          uint32(len(stages)),
		PStages:             stages,
		PVertexInputState:   &vertexInputInfo,
		PInputAssemblyState: &inputAssembly,
		PViewportState:      &viewportState,
		PRasterizationState: &rasterizerCreateInfo,
		PMultisampleState:   &multisamplingCreateInfo,
		PColorBlendState:    &colorBlendStateCreateInfo,
		PDynamicState:       &dynamicStateCreateInfo,
		Layout:              rs.Layout,
		RenderPass:          renderpass.Handle,
		Subpass:             0,
		BasePipelineHandle:  vk.NullPipeline,
		BasePipelineIndex:   -1,
	}

	pipelines := make([]vk.Pipeline, 1)
	if err := context.locks.SafeCall(PipelineManagement, func() error {
		result := vk.CreateGraphicsPipelines(context.Device.LogicalDevice, vk.NullPipelineCache, 1,
			[]vk.GraphicsPipelineCreateInfo{pipelineCreateInfo}, context.Allocator, pipelines)
		if !VulkanResultIsSuccess(result) {
			return resultError("vkCreateGraphicsPipelines", result)
		}
		return nil
	}); err != nil {
		return nil, err
	}

	core.LogDebug("Graphics pipeline %s created!", name)
	return &VulkanPipeline{context: context, name: name, Handle: pipelines[0], RootSignature: rs}, nil
}

func NewComputePipeline(context *VulkanContext, name string, rs *VulkanRootSignature, stage vk.PipelineShaderStageCreateInfo) (*VulkanPipeline, error) {
	pipelineCreateInfo := vk.ComputePipelineCreateInfo{
		SType:              vk.StructureTypeComputePipelineCreateInfo,
		Stage:              stage,
		Layout:             rs.Layout,
		BasePipelineHandle: vk.NullPipeline,
		BasePipelineIndex:  -1,
	}

	pipelines := make([]vk.Pipeline, 1)
	if err := context.locks.SafeCall(PipelineManagement, func() error {
		result := vk.CreateComputePipelines(context.Device.LogicalDevice, vk.NullPipelineCache, 1,
			[]vk.ComputePipelineCreateInfo{pipelineCreateInfo}, context.Allocator, pipelines)
		if !VulkanResultIsSuccess(result) {
			return resultError("vkCreateComputePipelines", result)
		}
		return nil
	}); err != nil {
		return nil, err
	}

	core.LogDebug("Compute pipeline %s created!", name)
	return &VulkanPipeline{context: context, name: name, Handle: pipelines[0], RootSignature: rs}, nil
}

func (pipeline *VulkanPipeline) Name() string {
	return pipeline.name
}

func (pipeline *VulkanPipeline) Release() {
	if pipeline.Handle == nil {
		return
	}
	_ = pipeline.context.locks.SafeCall(PipelineManagement, func() error {
		vk.DestroyPipeline(pipeline.context.Device.LogicalDevice, pipeline.Handle, pipeline.context.Allocator)
		pipeline.Handle = nil
		return nil
	})
}

func (pipeline *VulkanPipeline) Bind(commandBuffer *VulkanCommandBuffer) {
	vk.CmdBindPipeline(commandBuffer.Handle, pipeline.RootSignature.BindPoint, pipeline.Handle)
}

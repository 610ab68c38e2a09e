package vulkan

import (
	"encoding/binary"
	"fmt"

	"github.com/gogpu/naga"
	vk "github.com/goki/vulkan"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/spaghettifunk/spritelayers/engine/core"
	"github.com/spaghettifunk/spritelayers/engine/renderer/metadata"
)

const shaderCacheSize = 16

// CompileShaderToSPIRV compiles WGSL source into SPIR-V words.
func CompileShaderToSPIRV(wgslSource string) ([]uint32, error) {
	spirvBytes, err := naga.Compile(wgslSource)
	if err != nil {
		return nil, err
	}
	if len(spirvBytes)%4 != 0 {
		return nil, fmt.Errorf("SPIR-V output of %d bytes is not word aligned", len(spirvBytes))
	}

	// SPIR-V is little-endian 32-bit words
	spirvCode := make([]uint32, len(spirvBytes)/4)
	for i := range spirvCode {
		spirvCode[i] = binary.LittleEndian.Uint32(spirvBytes[i*4:])
	}
	return spirvCode, nil
}

/**
 * @brief Compiled shader modules keyed by logical program name. Evicted modules are destroyed;
 * pipelines already built from them stay valid.
 */
type ShaderModuleCache struct {
	context *VulkanContext
	cache   *lru.Cache[string, vk.ShaderModule]
}

func NewShaderModuleCache(context *VulkanContext) (*ShaderModuleCache, error) {
	onEvict := func(name string, module vk.ShaderModule) {
		core.LogDebug("destroying shader module %s", name)
		vk.DestroyShaderModule(context.Device.LogicalDevice, module, context.Allocator)
	}
	cache, err := lru.NewWithEvict[string, vk.ShaderModule](shaderCacheSize, onEvict)
	if err != nil {
		return nil, err
	}
	return &ShaderModuleCache{context: context, cache: cache}, nil
}

// Module returns the shader module of program, compiling it on first use.
func (c *ShaderModuleCache) Module(program *metadata.ShaderProgram) (vk.ShaderModule, error) {
	if module, ok := c.cache.Get(program.Name); ok {
		return module, nil
	}

	var module vk.ShaderModule
	err := c.context.locks.SafeCall(ShaderManagement, func() error {
		code, err := CompileShaderToSPIRV(program.Source)
		if err != nil {
			return &metadata.ShaderError{Program: program.Name, Diagnostic: err.Error()}
		}

		createInfo := vk.ShaderModuleCreateInfo{
			SType:    vk.StructureTypeShaderModuleCreateInfo,
			CodeSize: uint64(len(code) * 4),
			PCode:    code,
		}
		if res := vk.CreateShaderModule(c.context.Device.LogicalDevice, &createInfo, c.context.Allocator, &module); !VulkanResultIsSuccess(res) {
			return &metadata.ShaderError{Program: program.Name, Diagnostic: VulkanResultString(res, true)}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.cache.Add(program.Name, module)
	core.LogDebug("shader module %s compiled", program.Name)
	return module, nil
}

// Purge destroys every cached module.
func (c *ShaderModuleCache) Purge() {
	c.cache.Purge()
}

func shaderStageInfo(module vk.ShaderModule, stage metadata.ShaderStage) vk.PipelineShaderStageCreateInfo {
	var flag vk.ShaderStageFlagBits
	switch stage {
	case metadata.ShaderStageVertex:
		flag = vk.ShaderStageVertexBit
	case metadata.ShaderStageFragment:
		flag = vk.ShaderStageFragmentBit
	default:
		flag = vk.ShaderStageComputeBit
	}
	return vk.PipelineShaderStageCreateInfo{
		SType:  vk.StructureTypePipelineShaderStageCreateInfo,
		Stage:  flag,
		Module: module,
		PName:  VulkanSafeString(stage.EntryPoint()),
	}
}

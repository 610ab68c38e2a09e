package renderer

import (
	"github.com/spaghettifunk/spritelayers/engine/assets"
	"github.com/spaghettifunk/spritelayers/engine/assets/loaders"
	"github.com/spaghettifunk/spritelayers/engine/core"
	"github.com/spaghettifunk/spritelayers/engine/renderer/metadata"
)

// PipelineBuilder turns logical shader names into pipeline states.
type PipelineBuilder struct {
	backend RendererBackend
	assets  *assets.AssetManager
	params  loaders.ShaderParams
}

func NewPipelineBuilder(backend RendererBackend, am *assets.AssetManager, params loaders.ShaderParams) *PipelineBuilder {
	return &PipelineBuilder{
		backend: backend,
		assets:  am,
		params:  params,
	}
}

func (pb *PipelineBuilder) load(name string, stages metadata.ShaderStage) *metadata.ShaderProgram {
	program, err := pb.assets.LoadShader(name, pb.params)
	if err != nil {
		core.LogError("shader %s: %s", name, err)
		return nil
	}
	if program.Stages&stages != stages {
		core.LogError("shader %s: provides %d, needs %d", name, program.Stages, stages)
		return nil
	}
	return program
}

// BuildGraphics returns nil when the program cannot be loaded or compiled. The failure
// is logged with the program name and compiler output.
func (pb *PipelineBuilder) BuildGraphics(rs RootSignature, colorFormat, depthFormat metadata.Format, name string) PipelineState {
	program := pb.load(name, metadata.ShaderStageVertex|metadata.ShaderStageFragment)
	if program == nil {
		return nil
	}
	ps, err := pb.backend.CreateGraphicsPipeline(rs, colorFormat, depthFormat, program)
	if err != nil {
		core.LogError("graphics pipeline %s: %s", name, err)
		return nil
	}
	core.LogDebug("graphics pipeline %s created (color=%s depth=%s)", name, colorFormat, depthFormat)
	return ps
}

// BuildCompute returns nil on failure, like BuildGraphics.
func (pb *PipelineBuilder) BuildCompute(rs RootSignature, name string) PipelineState {
	program := pb.load(name, metadata.ShaderStageCompute)
	if program == nil {
		return nil
	}
	ps, err := pb.backend.CreateComputePipeline(rs, program)
	if err != nil {
		core.LogError("compute pipeline %s: %s", name, err)
		return nil
	}
	core.LogDebug("compute pipeline %s created", name)
	return ps
}

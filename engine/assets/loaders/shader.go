package loaders

import (
	"bytes"
	"fmt"
	"regexp"
	"text/template"

	"github.com/spaghettifunk/spritelayers/engine/renderer/metadata"
)

// ShaderParams are the constants baked into the WGSL text before compilation.
type ShaderParams struct {
	Capacity  uint32
	GroupSize uint32
	LayerMax  uint32
}

var entryPointRE = regexp.MustCompile(`@(vertex|fragment|compute)(?:\s+@workgroup_size\([^)]*\))?\s+fn\s+(\w+)`)

type ShaderLoader struct{}

func (sl *ShaderLoader) Load(name string, data []byte, params interface{}) (*metadata.ShaderProgram, error) {
	p, ok := params.(ShaderParams)
	if !ok {
		return nil, fmt.Errorf("shader %s: expected ShaderParams, got %T", name, params)
	}

	tmpl, err := template.New(name).Option("missingkey=error").Parse(string(data))
	if err != nil {
		return nil, &metadata.ShaderError{Program: name, Diagnostic: err.Error()}
	}
	var src bytes.Buffer
	if err := tmpl.Execute(&src, p); err != nil {
		return nil, &metadata.ShaderError{Program: name, Diagnostic: err.Error()}
	}

	stages, err := detectStages(name, src.Bytes())
	if err != nil {
		return nil, err
	}
	return &metadata.ShaderProgram{
		Name:   name,
		Source: src.String(),
		Stages: stages,
	}, nil
}

func detectStages(name string, src []byte) (metadata.ShaderStage, error) {
	var stages metadata.ShaderStage
	for _, m := range entryPointRE.FindAllSubmatch(src, -1) {
		var stage metadata.ShaderStage
		switch string(m[1]) {
		case "vertex":
			stage = metadata.ShaderStageVertex
		case "fragment":
			stage = metadata.ShaderStageFragment
		case "compute":
			stage = metadata.ShaderStageCompute
		}
		if string(m[2]) != stage.EntryPoint() {
			return 0, &metadata.ShaderError{
				Program:    name,
				Diagnostic: fmt.Sprintf("%s entry point must be named %s, found %s", stage, stage.EntryPoint(), m[2]),
			}
		}
		stages |= stage
	}
	if stages == 0 {
		return 0, &metadata.ShaderError{Program: name, Diagnostic: "no entry points"}
	}
	return stages, nil
}

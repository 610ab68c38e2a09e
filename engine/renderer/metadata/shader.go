package metadata

import "fmt"

type ShaderStage uint8

const (
	ShaderStageVertex ShaderStage = 1 << iota
	ShaderStageFragment
	ShaderStageCompute
)

// Well-known entry points every program exposes for its stages.
const (
	EntryPointVertex   = "VSMain"
	EntryPointFragment = "PSMain"
	EntryPointCompute  = "CSMain"
)

// Logical program names.
const (
	ShaderUpdate    = "update"
	ShaderClear     = "clear"
	ShaderDrawRects = "draw_rects"
	ShaderPresent   = "present"
)

func (s ShaderStage) EntryPoint() string {
	switch s {
	case ShaderStageVertex:
		return EntryPointVertex
	case ShaderStageFragment:
		return EntryPointFragment
	case ShaderStageCompute:
		return EntryPointCompute
	}
	return ""
}

func (s ShaderStage) String() string {
	switch s {
	case ShaderStageVertex:
		return "vertex"
	case ShaderStageFragment:
		return "fragment"
	case ShaderStageCompute:
		return "compute"
	}
	return fmt.Sprintf("stage(%d)", uint8(s))
}

/**
 * @brief A named shader program as handed to the pipeline builder.
 */
type ShaderProgram struct {
	/** @brief Logical name, used in diagnostics. */
	Name string
	/** @brief WGSL source text. */
	Source string
	/** @brief Bitmask of the stages the program provides. */
	Stages ShaderStage
}

func (p *ShaderProgram) HasStage(s ShaderStage) bool {
	return p.Stages&s != 0
}

// ShaderError carries the logical program name and the compiler diagnostic.
type ShaderError struct {
	Program    string
	Diagnostic string
}

func (e *ShaderError) Error() string {
	return fmt.Sprintf("shader %q: %s", e.Program, e.Diagnostic)
}

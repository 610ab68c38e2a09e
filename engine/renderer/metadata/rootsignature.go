package metadata

type ParameterKind uint8

const (
	ParameterSRVTable ParameterKind = iota
	ParameterUAVTable
	ParameterCBVTable
	ParameterSamplerTable
)

func (p ParameterKind) HeapKind() HeapKind {
	if p == ParameterSamplerTable {
		return HeapKindSampler
	}
	return HeapKindCBVSRVUAV
}

// RootParameter is one descriptor table of a root signature.
type RootParameter struct {
	Kind ParameterKind
	// First shader register of the range.
	BaseRegister uint32
	// Number of descriptors the range covers.
	Count uint32
}

type RootSignatureKind uint8

const (
	RootSignatureGraphics RootSignatureKind = iota
	RootSignatureCompute
)

type RootSignatureDesc struct {
	Kind       RootSignatureKind
	Parameters []RootParameter
}

const (
	GraphicsParamLayerSource uint32 = iota
	GraphicsParamLayerSet
	GraphicsParamConstants
	GraphicsParamSamplers
)

const (
	ComputeParamSource uint32 = iota
	ComputeParamDestination
)

// GraphicsRootSignature declares two SRV tables, the second based at capacity so both
// can reference any slot, then a CBV table and a sampler table.
func GraphicsRootSignature(capacity uint32) RootSignatureDesc {
	return RootSignatureDesc{
		Kind: RootSignatureGraphics,
		Parameters: []RootParameter{
			{Kind: ParameterSRVTable, BaseRegister: 0, Count: capacity},
			{Kind: ParameterSRVTable, BaseRegister: capacity, Count: capacity},
			{Kind: ParameterCBVTable, BaseRegister: 0, Count: capacity},
			{Kind: ParameterSamplerTable, BaseRegister: 0, Count: capacity},
		},
	}
}

// ComputeRootSignature declares the source and destination UAV tables of the update pass.
func ComputeRootSignature(capacity uint32) RootSignatureDesc {
	return RootSignatureDesc{
		Kind: RootSignatureCompute,
		Parameters: []RootParameter{
			{Kind: ParameterUAVTable, BaseRegister: 0, Count: capacity},
			{Kind: ParameterUAVTable, BaseRegister: capacity, Count: capacity},
		},
	}
}

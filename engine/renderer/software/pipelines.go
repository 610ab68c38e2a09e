package software

import (
	"github.com/spaghettifunk/spritelayers/engine/renderer/metadata"
	"github.com/spaghettifunk/spritelayers/engine/sprites"
)

// UAV is one unordered-access view resolved for a kernel.
type UAV struct {
	Data     []byte
	Elements uint32
	Stride   uint32
}

// Kernel runs a compute program over the UAVs bound to the compute root tables, in
// root parameter order.
type Kernel func(groups [3]uint32, groupSize uint32, uavs []UAV) error

func updateKernel(groups [3]uint32, groupSize uint32, uavs []UAV) error {
	src, dst := uavs[metadata.ComputeParamSource], uavs[metadata.ComputeParamDestination]
	count := groups[0] * groups[1] * groups[2] * groupSize
	if count > src.Elements {
		count = src.Elements
	}
	return sprites.ExpandBuffer(src.Data, dst.Data, count)
}

// Programs the backend can run. Graphics programs are accepted but not rasterized.
var (
	defaultKernels = map[string]Kernel{
		metadata.ShaderUpdate: updateKernel,
	}
	defaultGraphics = map[string]bool{
		metadata.ShaderClear:     true,
		metadata.ShaderDrawRects: true,
		metadata.ShaderPresent:   true,
	}
)

type RootSignature struct {
	desc metadata.RootSignatureDesc
}

func (rs *RootSignature) Desc() *metadata.RootSignatureDesc {
	return &rs.desc
}

func (rs *RootSignature) Release() {}

type Pipeline struct {
	name    string
	rs      *RootSignature
	compute bool
	kernel  Kernel
}

func (p *Pipeline) Name() string {
	return p.name
}

func (p *Pipeline) Release() {}

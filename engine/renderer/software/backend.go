// Package software is a headless backend that executes recorded command lists on the
// CPU. Compute programs run as Go kernels; draws are validated and counted.
package software

import (
	"fmt"
	"sync"

	"github.com/spaghettifunk/spritelayers/engine/config"
	"github.com/spaghettifunk/spritelayers/engine/core"
	"github.com/spaghettifunk/spritelayers/engine/renderer"
	"github.com/spaghettifunk/spritelayers/engine/renderer/metadata"
)

// DefaultMaxResourceSize bounds a single allocation, standing in for device memory limits.
const DefaultMaxResourceSize uint64 = 1 << 30

// Stats counts the work the queue has executed.
type Stats struct {
	Submissions uint64
	Copies      uint64
	CopiedBytes uint64
	Dispatches  uint64
	Groups      uint64
	Barriers    uint64
	Clears      uint64
	Draws       uint64
	Vertices    uint64
}

type statsBox struct {
	mutex sync.Mutex
	s     Stats
}

func (b *statsBox) add(fn func(*Stats)) {
	b.mutex.Lock()
	fn(&b.s)
	b.mutex.Unlock()
}

type Backend struct {
	MaxResourceSize uint64

	groupSize uint32
	queue     *Queue
	swapchain *Swapchain
	stats     statsBox

	kernels  map[string]Kernel
	graphics map[string]bool

	mutex      sync.Mutex
	heaps      map[metadata.HeapKind]*DescriptorHeap
	lost       error
	validation []string
}

func New() *Backend {
	b := &Backend{
		MaxResourceSize: DefaultMaxResourceSize,
		kernels:         make(map[string]Kernel),
		graphics:        make(map[string]bool),
		heaps:           make(map[metadata.HeapKind]*DescriptorHeap),
	}
	for name, k := range defaultKernels {
		b.kernels[name] = k
	}
	for name := range defaultGraphics {
		b.graphics[name] = true
	}
	return b
}

var _ renderer.RendererBackend = (*Backend)(nil)

func (b *Backend) Initialize(appName string, cfg *config.Config) error {
	b.groupSize = cfg.Renderer.ComputeGroupSize
	b.queue = newQueue(b)
	b.swapchain = newSwapchain(cfg.Renderer.FrameCount, cfg.Window.Width, cfg.Window.Height)
	core.LogInfo("%s: software backend ready (%d back buffers, %dx%d)", appName, cfg.Renderer.FrameCount, cfg.Window.Width, cfg.Window.Height)
	return nil
}

func (b *Backend) Shutdown() error {
	if b.queue != nil {
		b.queue.close()
	}
	for _, msg := range b.ValidationErrors() {
		core.LogWarn("validation: %s", msg)
	}
	core.LogInfo("software backend shut down")
	return nil
}

func (b *Backend) Queue() renderer.CommandQueue {
	if b.queue == nil {
		return nil
	}
	return b.queue
}

// SoftwareQueue exposes the queue's pause controls.
func (b *Backend) SoftwareQueue() *Queue {
	return b.queue
}

func (b *Backend) Swapchain() renderer.Swapchain {
	if b.swapchain == nil {
		return nil
	}
	return b.swapchain
}

func (b *Backend) SoftwareSwapchain() *Swapchain {
	return b.swapchain
}

// RegisterKernel makes a compute program available under name.
func (b *Backend) RegisterKernel(name string, k Kernel) {
	b.kernels[name] = k
}

func (b *Backend) CreateDescriptorHeap(kind metadata.HeapKind, capacity uint32) (renderer.DescriptorHeap, error) {
	if kind >= metadata.HeapKindCount || capacity == 0 {
		return nil, fmt.Errorf("invalid descriptor heap %s with capacity %d", kind, capacity)
	}
	h := newDescriptorHeap(kind, capacity)
	b.mutex.Lock()
	b.heaps[kind] = h
	b.mutex.Unlock()
	return h, nil
}

func (b *Backend) CreateResource(desc *metadata.ResourceDesc) (renderer.Resource, error) {
	if desc.Size() > b.MaxResourceSize {
		return nil, fmt.Errorf("out of memory: %d bytes requested, limit %d", desc.Size(), b.MaxResourceSize)
	}
	return newResource(desc), nil
}

func (b *Backend) heap(kind metadata.HeapKind) (*DescriptorHeap, error) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	h, ok := b.heaps[kind]
	if !ok {
		return nil, fmt.Errorf("no %s heap", kind)
	}
	return h, nil
}

func (b *Backend) writeView(dst metadata.DescriptorHandle, want metadata.HeapKind, v view) error {
	if dst.Kind != want {
		return fmt.Errorf("%s view written to a %s handle", v.kind, dst.Kind)
	}
	h, err := b.heap(dst.Kind)
	if err != nil {
		return err
	}
	return h.write(dst, v)
}

func (b *Backend) viewAt(handle metadata.DescriptorHandle) (view, error) {
	h, err := b.heap(handle.Kind)
	if err != nil {
		return view{}, err
	}
	index, err := h.cpuIndex(handle)
	if err != nil {
		return view{}, err
	}
	return h.at(index), nil
}

func (b *Backend) CreateRenderTargetView(res renderer.Resource, dst metadata.DescriptorHandle) error {
	r := asResource(res)
	if r == nil || !r.desc.Usage.Has(metadata.UsageRenderTarget) {
		return fmt.Errorf("render target view needs a render target resource")
	}
	return b.writeView(dst, metadata.HeapKindRTV, view{kind: viewRTV, res: r})
}

func (b *Backend) CreateShaderResourceView(res renderer.Resource, dst metadata.DescriptorHandle) error {
	r := asResource(res)
	if r == nil || !r.desc.Usage.Has(metadata.UsageShaderResource) {
		return fmt.Errorf("shader resource view needs a shader resource")
	}
	return b.writeView(dst, metadata.HeapKindCBVSRVUAV, view{kind: viewSRV, res: r})
}

func (b *Backend) CreateUnorderedAccessView(res renderer.Resource, elements, stride uint32, dst metadata.DescriptorHandle) error {
	r := asResource(res)
	if r == nil || !r.desc.Usage.Has(metadata.UsageUnorderedAccess) {
		return fmt.Errorf("unordered access view needs an unordered access resource")
	}
	if uint64(elements)*uint64(stride) > r.desc.Size() {
		return fmt.Errorf("uav of %d x %d bytes exceeds %s", elements, stride, &r.desc)
	}
	return b.writeView(dst, metadata.HeapKindCBVSRVUAV, view{kind: viewUAV, res: r, elements: elements, stride: stride})
}

func (b *Backend) CreateConstantBufferView(res renderer.Resource, dst metadata.DescriptorHandle) error {
	r := asResource(res)
	if r == nil || !r.desc.Usage.Has(metadata.UsageConstantBuffer) {
		return fmt.Errorf("constant buffer view needs a constant buffer")
	}
	return b.writeView(dst, metadata.HeapKindCBVSRVUAV, view{kind: viewCBV, res: r})
}

func (b *Backend) CreateSampler(filter metadata.Filter, dst metadata.DescriptorHandle) error {
	return b.writeView(dst, metadata.HeapKindSampler, view{kind: viewSampler, filter: filter})
}

func (b *Backend) CreateRootSignature(desc *metadata.RootSignatureDesc) (renderer.RootSignature, error) {
	if len(desc.Parameters) == 0 {
		return nil, fmt.Errorf("root signature without parameters")
	}
	rs := &RootSignature{desc: *desc}
	rs.desc.Parameters = append([]metadata.RootParameter(nil), desc.Parameters...)
	return rs, nil
}

func (b *Backend) CreateGraphicsPipeline(rs renderer.RootSignature, colorFormat, depthFormat metadata.Format, program *metadata.ShaderProgram) (renderer.PipelineState, error) {
	r, ok := rs.(*RootSignature)
	if !ok || r.desc.Kind != metadata.RootSignatureGraphics {
		return nil, fmt.Errorf("graphics pipeline %s needs a graphics root signature", program.Name)
	}
	if !program.HasStage(metadata.ShaderStageVertex) || !program.HasStage(metadata.ShaderStageFragment) {
		return nil, &metadata.ShaderError{Program: program.Name, Diagnostic: "missing VSMain or PSMain"}
	}
	if !b.graphics[program.Name] {
		return nil, &metadata.ShaderError{Program: program.Name, Diagnostic: "unknown graphics program"}
	}
	if colorFormat == metadata.FormatUnknown {
		return nil, fmt.Errorf("graphics pipeline %s: unknown color format", program.Name)
	}
	return &Pipeline{name: program.Name, rs: r}, nil
}

func (b *Backend) CreateComputePipeline(rs renderer.RootSignature, program *metadata.ShaderProgram) (renderer.PipelineState, error) {
	r, ok := rs.(*RootSignature)
	if !ok || r.desc.Kind != metadata.RootSignatureCompute {
		return nil, fmt.Errorf("compute pipeline %s needs a compute root signature", program.Name)
	}
	if !program.HasStage(metadata.ShaderStageCompute) {
		return nil, &metadata.ShaderError{Program: program.Name, Diagnostic: "missing CSMain"}
	}
	kernel, ok := b.kernels[program.Name]
	if !ok {
		return nil, &metadata.ShaderError{Program: program.Name, Diagnostic: "no kernel registered"}
	}
	return &Pipeline{name: program.Name, rs: r, compute: true, kernel: kernel}, nil
}

func (b *Backend) CreateCommandList() (renderer.CommandList, error) {
	return &CommandList{backend: b}, nil
}

func (b *Backend) CreateFence(initial uint64) (renderer.Fence, error) {
	return newFence(b, initial), nil
}

func (b *Backend) DeviceRemovedReason() error {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return b.lost
}

func (b *Backend) lose(err error) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	if b.lost == nil {
		b.lost = fmt.Errorf("%w: %v", core.ErrDeviceLost, err)
		core.LogError("software device lost: %s", err)
	}
}

func (b *Backend) report(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	b.mutex.Lock()
	b.validation = append(b.validation, msg)
	b.mutex.Unlock()
}

// ValidationErrors returns every state mismatch seen while executing lists.
func (b *Backend) ValidationErrors() []string {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return append([]string(nil), b.validation...)
}

func (b *Backend) Stats() Stats {
	b.stats.mutex.Lock()
	defer b.stats.mutex.Unlock()
	return b.stats.s
}

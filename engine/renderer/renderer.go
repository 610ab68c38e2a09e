package renderer

import (
	"fmt"
	"runtime"

	"github.com/spaghettifunk/spritelayers/engine/assets"
	"github.com/spaghettifunk/spritelayers/engine/assets/loaders"
	"github.com/spaghettifunk/spritelayers/engine/config"
	"github.com/spaghettifunk/spritelayers/engine/core"
	"github.com/spaghettifunk/spritelayers/engine/renderer/metadata"
	"github.com/spaghettifunk/spritelayers/engine/sprites"
	"github.com/spaghettifunk/spritelayers/engine/systems"
)

const (
	depthFormat = metadata.FormatR32Float
	// trailFade scales the previous frame's layer before new sprites are drawn over it.
	trailFade float32 = 0.9
)

type Renderer struct {
	cfg     *config.Config
	backend RendererBackend
	assets  *assets.AssetManager

	heaps     *DescriptorHeaps
	factory   *ResourceFactory
	builder   *PipelineBuilder
	// One generator per layer, filled concurrently on the job system.
	generators []*sprites.Generator
	jobs       *systems.JobSystem

	graphicsRS RootSignature
	computeRS  RootSignature
	passes     PassSet
	samplers   []metadata.DescriptorHandle

	frames []*FrameContext
	// Frames presented so far.
	frameNumber uint64
}

func New(backend RendererBackend, am *assets.AssetManager, cfg *config.Config) *Renderer {
	generators := make([]*sprites.Generator, cfg.Renderer.LayerMax)
	for i := range generators {
		generators[i] = sprites.NewGenerator(cfg.Animation.Seed)
	}
	return &Renderer{
		cfg:        cfg,
		backend:    backend,
		assets:     am,
		generators: generators,
	}
}

func (r *Renderer) Initialize(appName string) error {
	rc := &r.cfg.Renderer
	if err := r.backend.Initialize(appName, r.cfg); err != nil {
		core.LogError("failed to initialize renderer backend: %s", err)
		return err
	}

	swapchain := r.backend.Swapchain()
	slots := swapchain.BufferCount()
	if slots < 2 {
		return fmt.Errorf("%w: swapchain has %d buffers, at least 2 are needed", core.ErrInvalidConfig, slots)
	}
	if slots != rc.FrameCount {
		core.LogWarn("swapchain created %d buffers, %d requested", slots, rc.FrameCount)
	}
	if err := r.cfg.ValidateBudget(slots); err != nil {
		return err
	}

	heaps, err := NewDescriptorHeaps(r.backend, rc.DescriptorCapacity)
	if err != nil {
		return err
	}
	r.heaps = heaps
	r.factory = NewResourceFactory(r.backend)
	r.builder = NewPipelineBuilder(r.backend, r.assets, loaders.ShaderParams{
		Capacity:  rc.DescriptorCapacity,
		GroupSize: rc.ComputeGroupSize,
		LayerMax:  rc.LayerMax,
	})

	if err := r.createPipelines(swapchain.Format()); err != nil {
		return err
	}
	if err := r.createSamplers(); err != nil {
		return err
	}

	r.frames = make([]*FrameContext, slots)
	for i := uint32(0); i < slots; i++ {
		fc, err := r.createFrame(i)
		if err != nil {
			return err
		}
		r.frames[i] = fc
	}
	for i, fc := range r.frames {
		params := r.recordParams(r.frames[(i+len(r.frames)-1)%len(r.frames)])
		if err := fc.Record(params); err != nil {
			return err
		}
	}

	workers := runtime.NumCPU()
	if workers > int(rc.LayerMax) {
		workers = int(rc.LayerMax)
	}
	jobs, err := systems.NewJobSystem(workers, int(rc.LayerMax))
	if err != nil {
		return err
	}
	r.jobs = jobs

	r.dump()
	return nil
}

func (r *Renderer) createPipelines(colorFormat metadata.Format) error {
	capacity := r.cfg.Renderer.DescriptorCapacity

	gdesc := metadata.GraphicsRootSignature(capacity)
	graphicsRS, err := r.backend.CreateRootSignature(&gdesc)
	if err != nil {
		return fmt.Errorf("graphics root signature: %w", err)
	}
	r.graphicsRS = graphicsRS

	cdesc := metadata.ComputeRootSignature(capacity)
	computeRS, err := r.backend.CreateRootSignature(&cdesc)
	if err != nil {
		return fmt.Errorf("compute root signature: %w", err)
	}
	r.computeRS = computeRS

	r.passes.Update = r.builder.BuildCompute(r.computeRS, metadata.ShaderUpdate)
	r.passes.Clear = r.builder.BuildGraphics(r.graphicsRS, colorFormat, depthFormat, metadata.ShaderClear)
	r.passes.DrawRects = r.builder.BuildGraphics(r.graphicsRS, colorFormat, depthFormat, metadata.ShaderDrawRects)
	r.passes.Present = r.builder.BuildGraphics(r.graphicsRS, colorFormat, depthFormat, metadata.ShaderPresent)

	for name, ps := range map[string]PipelineState{
		metadata.ShaderUpdate:    r.passes.Update,
		metadata.ShaderClear:     r.passes.Clear,
		metadata.ShaderDrawRects: r.passes.DrawRects,
		metadata.ShaderPresent:   r.passes.Present,
	} {
		if ps == nil {
			return fmt.Errorf("%w: %s", core.ErrPipelineUnavailable, name)
		}
	}
	return nil
}

func (r *Renderer) createSamplers() error {
	handles, err := r.heaps.AllocateRange(metadata.HeapKindSampler, config.SamplerCount)
	if err != nil {
		return err
	}
	for i, filter := range []metadata.Filter{metadata.FilterPoint, metadata.FilterLinear} {
		if err := r.backend.CreateSampler(filter, handles[i]); err != nil {
			return fmt.Errorf("sampler %s: %w", filter, err)
		}
	}
	r.samplers = handles
	return nil
}

func (r *Renderer) objectBufferSize() uint64 {
	return uint64(r.cfg.Renderer.ObjectMax) * metadata.ObjectRecordSize
}

// vertexBufferSize holds the six expanded vertices of every object of a layer.
func (r *Renderer) vertexBufferSize() uint64 {
	return uint64(r.cfg.Renderer.ObjectMax) * metadata.VertexSize * metadata.VerticesPerObject
}

func (r *Renderer) createFrame(index uint32) (*FrameContext, error) {
	rc := &r.cfg.Renderer

	list, err := r.backend.CreateCommandList()
	if err != nil {
		return nil, fmt.Errorf("frame %d command list: %w", index, err)
	}
	fence, err := r.backend.CreateFence(0)
	if err != nil {
		return nil, fmt.Errorf("frame %d fence: %w", index, err)
	}
	fc := NewFrameContext(index, list, fence)
	fc.Backbuffer = r.backend.Swapchain().Buffer(index)
	format := r.backend.Swapchain().Format()

	quad, err := r.factory.CreateUploadBuffer(fmt.Sprintf("frame%d.quad", index), metadata.VerticesPerObject*metadata.VertexSize)
	if err != nil {
		return nil, err
	}
	fc.Quad = quad
	if err := UploadData(quad, metadata.EncodeVertices(metadata.ScreenQuad())); err != nil {
		return nil, err
	}

	fc.Layers = make([]*Layer, rc.LayerMax)
	for i := range fc.Layers {
		layer := &Layer{}
		if layer.RTV, err = r.heaps.Allocate(metadata.HeapKindRTV); err != nil {
			return nil, err
		}
		if layer.SRV, err = r.heaps.Allocate(metadata.HeapKindCBVSRVUAV); err != nil {
			return nil, err
		}
		layer.Image, err = r.factory.CreateRenderTarget(fmt.Sprintf("frame%d.layer%d", index, i), rc.LayerWidth, rc.LayerHeight, format)
		if err != nil {
			return nil, err
		}
		if err := r.backend.CreateRenderTargetView(layer.Image, layer.RTV); err != nil {
			return nil, err
		}
		if err := r.backend.CreateShaderResourceView(layer.Image, layer.SRV); err != nil {
			return nil, err
		}
		fc.Layers[i] = layer
	}

	objectSize := r.objectBufferSize()
	for i, layer := range fc.Layers {
		uavs, err := r.heaps.AllocateRange(metadata.HeapKindCBVSRVUAV, 2)
		if err != nil {
			return nil, err
		}
		layer.UAVSource, layer.UAVDestination = uavs[0], uavs[1]

		if layer.UpdateBuffer, err = r.factory.CreateUAVBuffer(fmt.Sprintf("frame%d.layer%d.update", index, i), objectSize); err != nil {
			return nil, err
		}
		if layer.ObjectBuffer, err = r.factory.CreateUploadBuffer(fmt.Sprintf("frame%d.layer%d.objects", index, i), objectSize); err != nil {
			return nil, err
		}
		if layer.VertexBuffer, err = r.factory.CreateUAVBuffer(fmt.Sprintf("frame%d.layer%d.vertices", index, i), r.vertexBufferSize()); err != nil {
			return nil, err
		}
		if layer.Objects, err = layer.ObjectBuffer.Map(); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", core.ErrMapFailed, layer.ObjectBuffer.Desc(), err)
		}

		if err := r.backend.CreateUnorderedAccessView(layer.UpdateBuffer, rc.ObjectMax, metadata.ObjectRecordSize, layer.UAVSource); err != nil {
			return nil, err
		}
		if err := r.backend.CreateUnorderedAccessView(layer.VertexBuffer, rc.ObjectMax, metadata.VertexSize*metadata.VerticesPerObject, layer.UAVDestination); err != nil {
			return nil, err
		}
		core.LogDebug("frame %d layer %d: objects=%s update=%s vertices=%s", index, i, layer.ObjectBuffer.ID(), layer.UpdateBuffer.ID(), layer.VertexBuffer.ID())
	}

	if fc.BackbufferRTV, err = r.heaps.Allocate(metadata.HeapKindRTV); err != nil {
		return nil, err
	}
	if err := r.backend.CreateRenderTargetView(fc.Backbuffer, fc.BackbufferRTV); err != nil {
		return nil, err
	}

	if fc.ConstantsCBV, err = r.heaps.Allocate(metadata.HeapKindCBVSRVUAV); err != nil {
		return nil, err
	}
	if fc.Constants, err = r.factory.CreateUploadBuffer(fmt.Sprintf("frame%d.constants", index), metadata.FrameConstantsSize); err != nil {
		return nil, err
	}
	if err := r.backend.CreateConstantBufferView(fc.Constants, fc.ConstantsCBV); err != nil {
		return nil, err
	}
	if err := r.writeConstants(fc, 0); err != nil {
		return nil, err
	}
	return fc, nil
}

func (r *Renderer) recordParams(previous *FrameContext) *RecordParams {
	rc := &r.cfg.Renderer
	width, height := r.backend.Swapchain().Extent()
	return &RecordParams{
		Heaps:            r.heaps,
		GraphicsRS:       r.graphicsRS,
		ComputeRS:        r.computeRS,
		Passes:           r.passes,
		Samplers:         r.samplers[0],
		Previous:         previous,
		ObjectMax:        rc.ObjectMax,
		DispatchCount:    r.cfg.DispatchCount(),
		LayerWidth:       rc.LayerWidth,
		LayerHeight:      rc.LayerHeight,
		ScreenWidth:      width,
		ScreenHeight:     height,
		ClearColor:       rc.ClearColor,
		ObjectBufferSize: r.objectBufferSize(),
	}
}

func (r *Renderer) writeConstants(fc *FrameContext, elapsed float64) error {
	rc := &r.cfg.Renderer
	width, height := r.backend.Swapchain().Extent()
	constants := metadata.FrameConstants{
		Screen:     [4]float32{float32(width), float32(height), float32(rc.LayerWidth), float32(rc.LayerHeight)},
		ClearColor: rc.ClearColor,
		Params:     [4]float32{float32(elapsed), trailFade, float32(rc.LayerMax), 0},
	}
	buf := make([]byte, metadata.FrameConstantsSize)
	constants.Encode(buf)
	return UploadData(fc.Constants, buf)
}

// DrawFrame renders one frame at animation time elapsed and presents it.
func (r *Renderer) DrawFrame(elapsed float64) error {
	swapchain := r.backend.Swapchain()
	index, err := swapchain.Acquire()
	if err != nil {
		return err
	}
	if int(index) >= len(r.frames) {
		return fmt.Errorf("swapchain returned buffer %d of %d", index, len(r.frames))
	}
	fc := r.frames[index]

	if err := fc.Wait(); err != nil {
		return r.deviceError(err)
	}

	if err := r.generateObjects(fc, elapsed); err != nil {
		return err
	}
	if err := r.writeConstants(fc, elapsed); err != nil {
		return err
	}

	if err := fc.Submit(r.backend.Queue()); err != nil {
		return r.deviceError(err)
	}
	if err := swapchain.Present(r.cfg.Window.VSync); err != nil {
		return r.deviceError(err)
	}
	r.frameNumber++
	return nil
}

// generateObjects writes every layer's object records for time elapsed into the slot's
// mapped buffers.
func (r *Renderer) generateObjects(fc *FrameContext, elapsed float64) error {
	tasks := make([]func() error, len(fc.Layers))
	for i, layer := range fc.Layers {
		gen, objects, index := r.generators[i], layer.Objects, uint32(i)
		tasks[i] = func() error {
			return gen.Write(index, elapsed, r.cfg.Renderer.ObjectMax, objects)
		}
	}
	return r.jobs.RunAll("generate", tasks)
}

func (r *Renderer) deviceError(err error) error {
	if reason := r.backend.DeviceRemovedReason(); reason != nil {
		return fmt.Errorf("%w: %v: %v", core.ErrDeviceLost, reason, err)
	}
	return err
}

// Frames exposes the frame slots in swap-chain order.
func (r *Renderer) Frames() []*FrameContext {
	return r.frames
}

func (r *Renderer) FrameNumber() uint64 {
	return r.frameNumber
}

func (r *Renderer) Heaps() *DescriptorHeaps {
	return r.heaps
}

func (r *Renderer) Factory() *ResourceFactory {
	return r.factory
}

func (r *Renderer) Shutdown() error {
	if queue := r.backend.Queue(); queue != nil {
		if err := queue.Flush(); err != nil {
			core.LogError("failed to flush queue: %s", err)
		}
	}
	for _, fc := range r.frames {
		if fc != nil {
			fc.Release(r.factory)
		}
	}
	r.frames = nil
	if r.jobs != nil {
		_ = r.jobs.Shutdown()
		r.jobs = nil
	}
	if r.factory != nil {
		r.factory.Shutdown()
	}

	for _, ps := range []PipelineState{r.passes.Update, r.passes.Clear, r.passes.DrawRects, r.passes.Present} {
		if ps != nil {
			ps.Release()
		}
	}
	r.passes = PassSet{}
	if r.graphicsRS != nil {
		r.graphicsRS.Release()
		r.graphicsRS = nil
	}
	if r.computeRS != nil {
		r.computeRS.Release()
		r.computeRS = nil
	}
	if r.heaps != nil {
		r.heaps.Release()
	}
	return r.backend.Shutdown()
}

func (r *Renderer) dump() {
	for kind := metadata.HeapKind(0); kind < metadata.HeapKindCount; kind++ {
		core.LogDebug("heap %s: %d/%d descriptors", kind, r.heaps.Allocator(kind).Allocated(), r.heaps.Allocator(kind).Info().Capacity)
	}
	core.LogDebug("frames=%d layers=%d objects=%d dispatch=%d live resources=%d",
		len(r.frames), r.cfg.Renderer.LayerMax, r.cfg.Renderer.ObjectMax, r.cfg.DispatchCount(), r.factory.Live())
}

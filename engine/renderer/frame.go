package renderer

import (
	"fmt"

	"github.com/spaghettifunk/spritelayers/engine/core"
	"github.com/spaghettifunk/spritelayers/engine/renderer/metadata"
)

type FrameState uint8

const (
	FrameStateUninitialized FrameState = iota
	FrameStateRecording
	FrameStateSubmitted
	FrameStateSignalled
)

func (s FrameState) String() string {
	switch s {
	case FrameStateUninitialized:
		return "uninitialized"
	case FrameStateRecording:
		return "recording"
	case FrameStateSubmitted:
		return "submitted"
	case FrameStateSignalled:
		return "signalled"
	}
	return fmt.Sprintf("frame_state(%d)", uint8(s))
}

/**
 * @brief One offscreen sprite layer of a frame slot.
 */
type Layer struct {
	Image Resource
	RTV   metadata.DescriptorHandle
	SRV   metadata.DescriptorHandle

	/** @brief CPU-written object records, persistently mapped. */
	ObjectBuffer Resource
	Objects      []byte
	/** @brief GPU copy of the records read by the update pass. */
	UpdateBuffer Resource
	/** @brief Sprite vertices written by the update pass. */
	VertexBuffer Resource

	UAVSource      metadata.DescriptorHandle
	UAVDestination metadata.DescriptorHandle
}

// PassSet holds the four pipeline states a frame list records against.
type PassSet struct {
	Update    PipelineState
	Clear     PipelineState
	DrawRects PipelineState
	Present   PipelineState
}

// RecordParams is everything shared between slots that a frame list refers to.
type RecordParams struct {
	Heaps      *DescriptorHeaps
	GraphicsRS RootSignature
	ComputeRS  RootSignature
	Passes     PassSet
	// Samplers is the first of the consecutive sampler descriptors.
	Samplers metadata.DescriptorHandle
	// Previous is the slot whose layers seed this slot's clear pass.
	Previous *FrameContext

	ObjectMax        uint32
	DispatchCount    uint32
	LayerWidth       uint32
	LayerHeight      uint32
	ScreenWidth      uint32
	ScreenHeight     uint32
	ClearColor       [4]float32
	ObjectBufferSize uint64
}

/**
 * @brief Everything one swap-chain slot owns: a pre-recorded list, its fence and layers.
 */
type FrameContext struct {
	Index uint32
	state FrameState

	list  CommandList
	fence Fence
	// lastSignalled is the value the most recent submission signals on retirement.
	lastSignalled uint64
	// observed is the completed fence value seen right before the most recent submission.
	observed uint64

	Layers []*Layer

	Backbuffer    Resource
	BackbufferRTV metadata.DescriptorHandle
	Constants     Resource
	ConstantsCBV  metadata.DescriptorHandle
	Quad          Resource
}

func NewFrameContext(index uint32, list CommandList, fence Fence) *FrameContext {
	return &FrameContext{
		Index: index,
		list:  list,
		fence: fence,
	}
}

func (fc *FrameContext) State() FrameState {
	return fc.state
}

func (fc *FrameContext) List() CommandList {
	return fc.list
}

func (fc *FrameContext) Fence() Fence {
	return fc.fence
}

// LastSignalled is the fence value of the most recent submission.
func (fc *FrameContext) LastSignalled() uint64 {
	return fc.lastSignalled
}

// LastObserved is the completed fence value read just before the most recent submission.
func (fc *FrameContext) LastObserved() uint64 {
	return fc.observed
}

// FirstSRV is the first of the slot's consecutive layer SRVs.
func (fc *FrameContext) FirstSRV() metadata.DescriptorHandle {
	return fc.Layers[0].SRV
}

// Record authors the slot's command list. It runs once; the list is replayed every frame.
func (fc *FrameContext) Record(p *RecordParams) error {
	if fc.state != FrameStateUninitialized {
		return fmt.Errorf("frame %d: already recorded (%s)", fc.Index, fc.state)
	}
	if p.Previous == nil || len(p.Previous.Layers) != len(fc.Layers) {
		return fmt.Errorf("frame %d: previous slot must have %d layers", fc.Index, len(fc.Layers))
	}
	fc.state = FrameStateRecording

	cl := fc.list
	if err := cl.Reset(); err != nil {
		return err
	}
	cl.SetDescriptorHeaps(p.Heaps.ShaderVisible()...)

	quad := metadata.VertexBufferView{
		Resource: fc.Quad,
		Size:     metadata.VerticesPerObject * metadata.VertexSize,
		Stride:   metadata.VertexSize,
	}
	vertexBytes := uint64(p.ObjectMax) * metadata.VerticesPerObject * metadata.VertexSize

	for i, layer := range fc.Layers {
		cl.SetComputeRootSignature(p.ComputeRS)
		cl.SetComputeRootDescriptorTable(metadata.ComputeParamSource, layer.UAVSource)
		cl.SetComputeRootDescriptorTable(metadata.ComputeParamDestination, layer.UAVDestination)

		cl.ResourceBarrier(metadata.Barrier{Resource: layer.UpdateBuffer, Before: metadata.ResourceStateCommon, After: metadata.ResourceStateCopyDest})
		cl.CopyBufferRegion(layer.UpdateBuffer, 0, layer.ObjectBuffer, 0, p.ObjectBufferSize)
		cl.ResourceBarrier(
			metadata.Barrier{Resource: layer.UpdateBuffer, Before: metadata.ResourceStateCopyDest, After: metadata.ResourceStateUnorderedAccess},
			metadata.Barrier{Resource: layer.VertexBuffer, Before: metadata.ResourceStateCommon, After: metadata.ResourceStateUnorderedAccess},
		)
		cl.SetPipelineState(p.Passes.Update)
		cl.Dispatch(p.DispatchCount, 1, 1)

		cl.ResourceBarrier(
			metadata.Barrier{Resource: layer.VertexBuffer, Before: metadata.ResourceStateUnorderedAccess, After: metadata.ResourceStateVertexAndConstantBuffer},
			metadata.Barrier{Resource: layer.Image, Before: metadata.ResourceStateCommon, After: metadata.ResourceStateRenderTarget},
		)
		cl.SetRenderTargets(layer.RTV)
		cl.SetViewport(metadata.FullViewport(p.LayerWidth, p.LayerHeight))
		cl.SetScissorRect(metadata.FullRect(p.LayerWidth, p.LayerHeight))
		cl.SetGraphicsRootSignature(p.GraphicsRS)
		cl.SetGraphicsRootDescriptorTable(metadata.GraphicsParamLayerSource, p.Previous.Layers[i].SRV)
		cl.SetGraphicsRootDescriptorTable(metadata.GraphicsParamLayerSet, fc.FirstSRV())
		cl.SetGraphicsRootDescriptorTable(metadata.GraphicsParamConstants, fc.ConstantsCBV)
		cl.SetGraphicsRootDescriptorTable(metadata.GraphicsParamSamplers, p.Samplers)

		cl.SetPipelineState(p.Passes.Clear)
		cl.SetVertexBuffer(quad)
		cl.Draw(metadata.VerticesPerObject, 1, 0, 0)

		cl.SetPipelineState(p.Passes.DrawRects)
		cl.SetVertexBuffer(metadata.VertexBufferView{
			Resource: layer.VertexBuffer,
			Size:     vertexBytes,
			Stride:   metadata.VertexSize,
		})
		cl.Draw(p.ObjectMax*metadata.VerticesPerObject, 1, 0, 0)
	}

	for _, layer := range fc.Layers {
		cl.ResourceBarrier(
			metadata.Barrier{Resource: layer.Image, Before: metadata.ResourceStateRenderTarget, After: metadata.ResourceStateCommon},
			metadata.Barrier{Resource: layer.UpdateBuffer, Before: metadata.ResourceStateUnorderedAccess, After: metadata.ResourceStateCommon},
			metadata.Barrier{Resource: layer.VertexBuffer, Before: metadata.ResourceStateVertexAndConstantBuffer, After: metadata.ResourceStateCommon},
		)
	}

	cl.ResourceBarrier(metadata.Barrier{Resource: fc.Backbuffer, Before: metadata.ResourceStateCommon, After: metadata.ResourceStateRenderTarget})
	cl.SetRenderTargets(fc.BackbufferRTV)
	cl.ClearRenderTargetView(fc.BackbufferRTV, p.ClearColor)
	cl.SetViewport(metadata.FullViewport(p.ScreenWidth, p.ScreenHeight))
	cl.SetScissorRect(metadata.FullRect(p.ScreenWidth, p.ScreenHeight))
	cl.SetPipelineState(p.Passes.Present)
	cl.SetVertexBuffer(quad)
	cl.Draw(metadata.VerticesPerObject, 1, 0, 0)
	cl.ResourceBarrier(metadata.Barrier{Resource: fc.Backbuffer, Before: metadata.ResourceStateRenderTarget, After: metadata.ResourceStateCommon})

	if err := cl.Close(); err != nil {
		return err
	}
	fc.state = FrameStateSignalled
	return nil
}

// Submit replays the recorded list and signals the slot fence to the next value. The
// slot must have retired its previous submission.
func (fc *FrameContext) Submit(queue CommandQueue) error {
	if fc.state == FrameStateUninitialized || fc.state == FrameStateRecording {
		return fmt.Errorf("frame %d: cannot submit while %s", fc.Index, fc.state)
	}
	completed := fc.fence.CompletedValue()
	if completed < fc.lastSignalled {
		return fmt.Errorf("%w: frame %d completed %d, waiting for %d", core.ErrFrameInFlight, fc.Index, completed, fc.lastSignalled)
	}
	fc.observed = completed

	value := fc.lastSignalled + 1
	if err := queue.Submit(fc.list, fc.fence, value); err != nil {
		return err
	}
	fc.lastSignalled = value
	fc.state = FrameStateSubmitted
	return nil
}

// Wait blocks until the slot's last submission has retired.
func (fc *FrameContext) Wait() error {
	if fc.state != FrameStateSubmitted {
		return nil
	}
	if err := fc.fence.Wait(fc.lastSignalled); err != nil {
		return err
	}
	fc.state = FrameStateSignalled
	return nil
}

// Retired reports whether the GPU finished the last submission without blocking.
func (fc *FrameContext) Retired() bool {
	return fc.fence.CompletedValue() >= fc.lastSignalled
}

// Release frees the slot's list and fence. Resources are released through the factory.
func (fc *FrameContext) Release(factory *ResourceFactory) {
	for _, layer := range fc.Layers {
		if layer.Objects != nil {
			layer.ObjectBuffer.Unmap()
			layer.Objects = nil
		}
		factory.Release(layer.Image)
		factory.Release(layer.ObjectBuffer)
		factory.Release(layer.UpdateBuffer)
		factory.Release(layer.VertexBuffer)
	}
	factory.Release(fc.Constants)
	factory.Release(fc.Quad)
	if fc.list != nil {
		fc.list.Release()
		fc.list = nil
	}
	if fc.fence != nil {
		fc.fence.Release()
		fc.fence = nil
	}
	fc.state = FrameStateUninitialized
}

package software

import (
	"fmt"

	"github.com/spaghettifunk/spritelayers/engine/renderer"
	"github.com/spaghettifunk/spritelayers/engine/renderer/metadata"
)

type OpKind uint8

const (
	OpSetDescriptorHeaps OpKind = iota
	OpSetComputeRootSignature
	OpSetGraphicsRootSignature
	OpSetComputeRootTable
	OpSetGraphicsRootTable
	OpSetPipelineState
	OpCopyBufferRegion
	OpDispatch
	OpResourceBarrier
	OpSetRenderTargets
	OpClearRenderTarget
	OpSetViewport
	OpSetScissorRect
	OpSetVertexBuffer
	OpDraw
)

func (k OpKind) String() string {
	switch k {
	case OpSetDescriptorHeaps:
		return "set_descriptor_heaps"
	case OpSetComputeRootSignature:
		return "set_compute_root_signature"
	case OpSetGraphicsRootSignature:
		return "set_graphics_root_signature"
	case OpSetComputeRootTable:
		return "set_compute_root_table"
	case OpSetGraphicsRootTable:
		return "set_graphics_root_table"
	case OpSetPipelineState:
		return "set_pipeline_state"
	case OpCopyBufferRegion:
		return "copy_buffer_region"
	case OpDispatch:
		return "dispatch"
	case OpResourceBarrier:
		return "resource_barrier"
	case OpSetRenderTargets:
		return "set_render_targets"
	case OpClearRenderTarget:
		return "clear_render_target"
	case OpSetViewport:
		return "set_viewport"
	case OpSetScissorRect:
		return "set_scissor_rect"
	case OpSetVertexBuffer:
		return "set_vertex_buffer"
	case OpDraw:
		return "draw"
	}
	return fmt.Sprintf("op(%d)", uint8(k))
}

// Op is one recorded command. Only the fields relevant to Kind are set.
type Op struct {
	Kind OpKind

	Heaps         []*DescriptorHeap
	RootSignature *RootSignature
	Pipeline      *Pipeline
	Param         uint32
	Handle        metadata.DescriptorHandle
	Handles       []metadata.DescriptorHandle

	Dst, Src             *Resource
	DstOffset, SrcOffset uint64
	Size                 uint64

	Groups   [3]uint32
	Barriers []metadata.Barrier
	Color    [4]float32
	Viewport metadata.Viewport
	Rect     metadata.Rect
	View     metadata.VertexBufferView

	VertexCount   uint32
	InstanceCount uint32
	FirstVertex   uint32
	FirstInstance uint32
}

// CommandList records ops for later execution by the queue worker.
type CommandList struct {
	backend *Backend
	ops     []Op
	closed  bool
	err     error
}

func (cl *CommandList) record(op Op) {
	if cl.closed {
		cl.fail(fmt.Errorf("%s recorded into a closed list", op.Kind))
		return
	}
	cl.ops = append(cl.ops, op)
}

func (cl *CommandList) fail(err error) {
	if cl.err == nil {
		cl.err = err
	}
}

// Ops returns the recorded commands in order.
func (cl *CommandList) Ops() []Op {
	return cl.ops
}

func (cl *CommandList) Reset() error {
	cl.ops = cl.ops[:0]
	cl.closed = false
	cl.err = nil
	return nil
}

func (cl *CommandList) Close() error {
	cl.closed = true
	return cl.err
}

func (cl *CommandList) Release() {
	cl.ops = nil
}

func (cl *CommandList) SetDescriptorHeaps(heaps ...renderer.DescriptorHeap) {
	op := Op{Kind: OpSetDescriptorHeaps}
	for _, h := range heaps {
		dh, ok := h.(*DescriptorHeap)
		if !ok {
			cl.fail(fmt.Errorf("descriptor heap %T does not belong to the software backend", h))
			return
		}
		op.Heaps = append(op.Heaps, dh)
	}
	cl.record(op)
}

func (cl *CommandList) SetComputeRootSignature(rs renderer.RootSignature) {
	r, _ := rs.(*RootSignature)
	cl.record(Op{Kind: OpSetComputeRootSignature, RootSignature: r})
}

func (cl *CommandList) SetGraphicsRootSignature(rs renderer.RootSignature) {
	r, _ := rs.(*RootSignature)
	cl.record(Op{Kind: OpSetGraphicsRootSignature, RootSignature: r})
}

func (cl *CommandList) SetComputeRootDescriptorTable(param uint32, base metadata.DescriptorHandle) {
	cl.record(Op{Kind: OpSetComputeRootTable, Param: param, Handle: base})
}

func (cl *CommandList) SetGraphicsRootDescriptorTable(param uint32, base metadata.DescriptorHandle) {
	cl.record(Op{Kind: OpSetGraphicsRootTable, Param: param, Handle: base})
}

func (cl *CommandList) SetPipelineState(ps renderer.PipelineState) {
	p, _ := ps.(*Pipeline)
	cl.record(Op{Kind: OpSetPipelineState, Pipeline: p})
}

func (cl *CommandList) CopyBufferRegion(dst renderer.Resource, dstOffset uint64, src renderer.Resource, srcOffset uint64, size uint64) {
	cl.record(Op{
		Kind:      OpCopyBufferRegion,
		Dst:       asResource(dst),
		DstOffset: dstOffset,
		Src:       asResource(src),
		SrcOffset: srcOffset,
		Size:      size,
	})
}

func (cl *CommandList) Dispatch(x, y, z uint32) {
	cl.record(Op{Kind: OpDispatch, Groups: [3]uint32{x, y, z}})
}

func (cl *CommandList) ResourceBarrier(barriers ...metadata.Barrier) {
	cl.record(Op{Kind: OpResourceBarrier, Barriers: append([]metadata.Barrier(nil), barriers...)})
}

func (cl *CommandList) SetRenderTargets(rtvs ...metadata.DescriptorHandle) {
	cl.record(Op{Kind: OpSetRenderTargets, Handles: append([]metadata.DescriptorHandle(nil), rtvs...)})
}

func (cl *CommandList) ClearRenderTargetView(rtv metadata.DescriptorHandle, color [4]float32) {
	cl.record(Op{Kind: OpClearRenderTarget, Handle: rtv, Color: color})
}

func (cl *CommandList) SetViewport(viewport metadata.Viewport) {
	cl.record(Op{Kind: OpSetViewport, Viewport: viewport})
}

func (cl *CommandList) SetScissorRect(rect metadata.Rect) {
	cl.record(Op{Kind: OpSetScissorRect, Rect: rect})
}

func (cl *CommandList) SetVertexBuffer(view metadata.VertexBufferView) {
	cl.record(Op{Kind: OpSetVertexBuffer, View: view})
}

func (cl *CommandList) Draw(vertexCount, instanceCount, firstVertex, firstInstance uint32) {
	cl.record(Op{
		Kind:          OpDraw,
		VertexCount:   vertexCount,
		InstanceCount: instanceCount,
		FirstVertex:   firstVertex,
		FirstInstance: firstInstance,
	})
}

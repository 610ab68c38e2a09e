package software

import (
	"fmt"

	"github.com/spaghettifunk/spritelayers/engine/renderer/metadata"
)

type executor struct {
	backend *Backend

	heaps          map[metadata.HeapKind]*DescriptorHeap
	computeRS      *RootSignature
	graphicsRS     *RootSignature
	computeTables  map[uint32]metadata.DescriptorHandle
	graphicsTables map[uint32]metadata.DescriptorHandle
	pipeline       *Pipeline
	renderTargets  []*Resource
	vertexBuffer   metadata.VertexBufferView
}

// execute replays the list. Returned errors are fatal to the device; state mismatches
// are reported as validation messages and execution continues.
func (cl *CommandList) execute(b *Backend) error {
	ex := &executor{
		backend:        b,
		heaps:          make(map[metadata.HeapKind]*DescriptorHeap),
		computeTables:  make(map[uint32]metadata.DescriptorHandle),
		graphicsTables: make(map[uint32]metadata.DescriptorHandle),
	}
	for i := range cl.ops {
		if err := ex.run(&cl.ops[i]); err != nil {
			return fmt.Errorf("op %d (%s): %w", i, cl.ops[i].Kind, err)
		}
	}
	return nil
}

func (ex *executor) run(op *Op) error {
	switch op.Kind {
	case OpSetDescriptorHeaps:
		for _, h := range op.Heaps {
			ex.heaps[h.info.Kind] = h
		}
	case OpSetComputeRootSignature:
		ex.computeRS = op.RootSignature
	case OpSetGraphicsRootSignature:
		ex.graphicsRS = op.RootSignature
	case OpSetComputeRootTable:
		return ex.bindTable(ex.computeRS, ex.computeTables, op)
	case OpSetGraphicsRootTable:
		return ex.bindTable(ex.graphicsRS, ex.graphicsTables, op)
	case OpSetPipelineState:
		if op.Pipeline == nil {
			return fmt.Errorf("nil pipeline state")
		}
		ex.pipeline = op.Pipeline
	case OpCopyBufferRegion:
		return ex.copy(op)
	case OpDispatch:
		return ex.dispatch(op)
	case OpResourceBarrier:
		ex.barrier(op.Barriers)
	case OpSetRenderTargets:
		ex.renderTargets = ex.renderTargets[:0]
		for _, h := range op.Handles {
			v, err := ex.backend.viewAt(h)
			if err != nil {
				return err
			}
			if v.kind != viewRTV {
				return fmt.Errorf("%s is a %s, not a render target view", h, v.kind)
			}
			ex.renderTargets = append(ex.renderTargets, v.res)
		}
	case OpClearRenderTarget:
		return ex.clear(op)
	case OpSetViewport, OpSetScissorRect:
	case OpSetVertexBuffer:
		if asResource(op.View.Resource) == nil {
			return fmt.Errorf("vertex buffer %T does not belong to the software backend", op.View.Resource)
		}
		ex.vertexBuffer = op.View
	case OpDraw:
		return ex.draw(op)
	default:
		return fmt.Errorf("unknown op %s", op.Kind)
	}
	return nil
}

func (ex *executor) bindTable(rs *RootSignature, tables map[uint32]metadata.DescriptorHandle, op *Op) error {
	if rs == nil {
		return fmt.Errorf("root table %d bound without a root signature", op.Param)
	}
	if int(op.Param) >= len(rs.desc.Parameters) {
		return fmt.Errorf("root parameter %d out of range (%d parameters)", op.Param, len(rs.desc.Parameters))
	}
	want := rs.desc.Parameters[op.Param].Kind.HeapKind()
	if op.Handle.Kind != want {
		return fmt.Errorf("root parameter %d expects a %s handle, got %s", op.Param, want, op.Handle)
	}
	if _, ok := ex.heaps[want]; !ok {
		return fmt.Errorf("root parameter %d bound before the %s heap was set", op.Param, want)
	}
	tables[op.Param] = op.Handle
	return nil
}

func (ex *executor) tableView(tables map[uint32]metadata.DescriptorHandle, param uint32) (view, error) {
	h, ok := tables[param]
	if !ok {
		return view{}, fmt.Errorf("root parameter %d not bound", param)
	}
	heap := ex.heaps[h.Kind]
	index, err := heap.gpuIndex(h.GPU)
	if err != nil {
		return view{}, err
	}
	return heap.at(index), nil
}

func (ex *executor) expectState(res *Resource, states ...metadata.ResourceState) {
	current := res.State()
	for _, s := range states {
		if current == s {
			return
		}
	}
	ex.backend.report("%s used in state %s, expected %v", &res.desc, current, states)
}

func (ex *executor) barrier(barriers []metadata.Barrier) {
	for _, br := range barriers {
		res := asResource(br.Resource)
		if res == nil {
			ex.backend.report("barrier on foreign resource %T", br.Resource)
			continue
		}
		res.mutex.Lock()
		if res.state != br.Before {
			ex.backend.report("barrier on %s: resource is %s, barrier expects %s", &res.desc, res.state, br.Before)
		}
		res.state = br.After
		res.mutex.Unlock()
	}
	ex.backend.stats.add(func(s *Stats) { s.Barriers += uint64(len(barriers)) })
}

func (ex *executor) copy(op *Op) error {
	if op.Dst == nil || op.Src == nil {
		return fmt.Errorf("copy between foreign resources")
	}
	ex.expectState(op.Dst, metadata.ResourceStateCopyDest)
	ex.expectState(op.Src, metadata.ResourceStateGenericRead, metadata.ResourceStateCopySource)

	op.Src.mutex.Lock()
	if op.SrcOffset+op.Size > uint64(len(op.Src.data)) {
		op.Src.mutex.Unlock()
		return fmt.Errorf("copy reads past the end of %s", &op.Src.desc)
	}
	chunk := make([]byte, op.Size)
	copy(chunk, op.Src.data[op.SrcOffset:op.SrcOffset+op.Size])
	op.Src.mutex.Unlock()

	op.Dst.mutex.Lock()
	defer op.Dst.mutex.Unlock()
	if op.DstOffset+op.Size > uint64(len(op.Dst.data)) {
		return fmt.Errorf("copy writes past the end of %s", &op.Dst.desc)
	}
	copy(op.Dst.data[op.DstOffset:], chunk)
	ex.backend.stats.add(func(s *Stats) {
		s.Copies++
		s.CopiedBytes += op.Size
	})
	return nil
}

func (ex *executor) dispatch(op *Op) error {
	if ex.pipeline == nil || !ex.pipeline.compute {
		return fmt.Errorf("dispatch without a compute pipeline")
	}
	if ex.computeRS == nil || ex.pipeline.rs != ex.computeRS {
		return fmt.Errorf("pipeline %s dispatched with a mismatched root signature", ex.pipeline.name)
	}

	uavs := make([]UAV, len(ex.computeRS.desc.Parameters))
	for param := range uavs {
		v, err := ex.tableView(ex.computeTables, uint32(param))
		if err != nil {
			return err
		}
		if v.kind != viewUAV {
			return fmt.Errorf("root parameter %d resolves to a %s, not a uav", param, v.kind)
		}
		ex.expectState(v.res, metadata.ResourceStateUnorderedAccess)
		v.res.mutex.Lock()
		uavs[param] = UAV{Data: v.res.data, Elements: v.elements, Stride: v.stride}
		v.res.mutex.Unlock()
	}

	if err := ex.pipeline.kernel(op.Groups, ex.backend.groupSize, uavs); err != nil {
		return fmt.Errorf("kernel %s: %w", ex.pipeline.name, err)
	}
	ex.backend.stats.add(func(s *Stats) {
		s.Dispatches++
		s.Groups += uint64(op.Groups[0]) * uint64(op.Groups[1]) * uint64(op.Groups[2])
	})
	return nil
}

func (ex *executor) clear(op *Op) error {
	v, err := ex.backend.viewAt(op.Handle)
	if err != nil {
		return err
	}
	if v.kind != viewRTV {
		return fmt.Errorf("%s is a %s, not a render target view", op.Handle, v.kind)
	}
	ex.expectState(v.res, metadata.ResourceStateRenderTarget)

	var px [4]byte
	for i, c := range op.Color {
		if c < 0 {
			c = 0
		} else if c > 1 {
			c = 1
		}
		px[i] = byte(c*255 + 0.5)
	}
	v.res.mutex.Lock()
	for i := 0; i+4 <= len(v.res.data); i += 4 {
		copy(v.res.data[i:i+4], px[:])
	}
	v.res.mutex.Unlock()
	ex.backend.stats.add(func(s *Stats) { s.Clears++ })
	return nil
}

func (ex *executor) draw(op *Op) error {
	if ex.pipeline == nil || ex.pipeline.compute {
		return fmt.Errorf("draw without a graphics pipeline")
	}
	if ex.graphicsRS == nil || ex.pipeline.rs != ex.graphicsRS {
		return fmt.Errorf("pipeline %s drawn with a mismatched root signature", ex.pipeline.name)
	}
	if len(ex.renderTargets) == 0 {
		return fmt.Errorf("draw without render targets")
	}
	for _, rt := range ex.renderTargets {
		ex.expectState(rt, metadata.ResourceStateRenderTarget)
	}
	vb := asResource(ex.vertexBuffer.Resource)
	if vb == nil {
		return fmt.Errorf("draw without a vertex buffer")
	}
	ex.expectState(vb, metadata.ResourceStateVertexAndConstantBuffer, metadata.ResourceStateGenericRead)
	if op.FirstVertex+op.VertexCount > ex.vertexBuffer.VertexCount() {
		return fmt.Errorf("draw of %d vertices overruns a %d vertex buffer", op.VertexCount, ex.vertexBuffer.VertexCount())
	}
	ex.backend.stats.add(func(s *Stats) {
		s.Draws++
		s.Vertices += uint64(op.VertexCount) * uint64(op.InstanceCount)
	})
	return nil
}

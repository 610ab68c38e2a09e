package renderer

import (
	"fmt"

	"github.com/spaghettifunk/spritelayers/engine/core"
	"github.com/spaghettifunk/spritelayers/engine/renderer/metadata"
)

// DescriptorHeaps owns one backend heap per kind together with its bump allocator.
type DescriptorHeaps struct {
	heaps      [metadata.HeapKindCount]DescriptorHeap
	allocators [metadata.HeapKindCount]*metadata.DescriptorAllocator
}

func NewDescriptorHeaps(backend RendererBackend, capacity uint32) (*DescriptorHeaps, error) {
	dh := &DescriptorHeaps{}
	for kind := metadata.HeapKind(0); kind < metadata.HeapKindCount; kind++ {
		heap, err := backend.CreateDescriptorHeap(kind, capacity)
		if err != nil {
			dh.Release()
			return nil, fmt.Errorf("failed to create %s descriptor heap: %w", kind, err)
		}
		dh.heaps[kind] = heap
		dh.allocators[kind] = metadata.NewDescriptorAllocator(heap.Info())
		core.LogDebug("descriptor heap %s: capacity=%d stride=%d", kind, heap.Info().Capacity, heap.Info().Stride)
	}
	return dh, nil
}

func (dh *DescriptorHeaps) Heap(kind metadata.HeapKind) DescriptorHeap {
	return dh.heaps[kind]
}

func (dh *DescriptorHeaps) Allocator(kind metadata.HeapKind) *metadata.DescriptorAllocator {
	return dh.allocators[kind]
}

func (dh *DescriptorHeaps) Allocate(kind metadata.HeapKind) (metadata.DescriptorHandle, error) {
	return dh.allocators[kind].Allocate()
}

func (dh *DescriptorHeaps) AllocateRange(kind metadata.HeapKind, n uint32) ([]metadata.DescriptorHandle, error) {
	return dh.allocators[kind].AllocateRange(n)
}

// ShaderVisible returns the heaps a command list binds before using root tables.
func (dh *DescriptorHeaps) ShaderVisible() []DescriptorHeap {
	return []DescriptorHeap{dh.heaps[metadata.HeapKindCBVSRVUAV], dh.heaps[metadata.HeapKindSampler]}
}

func (dh *DescriptorHeaps) Release() {
	for i, heap := range dh.heaps {
		if heap != nil {
			heap.Release()
			dh.heaps[i] = nil
		}
	}
}

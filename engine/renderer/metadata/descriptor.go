package metadata

import (
	"errors"
	"fmt"
	"sync"
)

var ErrDescriptorHeapExhausted = errors.New("descriptor heap exhausted")

type HeapKind uint8

const (
	HeapKindRTV HeapKind = iota
	HeapKindDSV
	HeapKindCBVSRVUAV
	HeapKindSampler
	HeapKindCount
)

func (k HeapKind) String() string {
	switch k {
	case HeapKindRTV:
		return "rtv"
	case HeapKindDSV:
		return "dsv"
	case HeapKindCBVSRVUAV:
		return "cbv_srv_uav"
	case HeapKindSampler:
		return "sampler"
	}
	return fmt.Sprintf("heap_kind(%d)", uint8(k))
}

// ShaderVisible reports whether descriptors of this kind can be bound to root tables.
func (k HeapKind) ShaderVisible() bool {
	return k == HeapKindCBVSRVUAV || k == HeapKindSampler
}

/**
 * @brief Layout of a backend descriptor heap as reported by the device.
 */
type HeapInfo struct {
	Kind     HeapKind
	Capacity uint32
	/** @brief Value of the first CPU handle. */
	CPUStart uint64
	/** @brief Value of the first GPU handle, zero for heaps that are not shader visible. */
	GPUStart uint64
	/** @brief Device-reported increment between two consecutive handles. */
	Stride uint64
}

// DescriptorHandle is a paired CPU/GPU handle to one slot of a heap.
type DescriptorHandle struct {
	Kind  HeapKind
	Index uint32
	CPU   uint64
	GPU   uint64
}

func (h DescriptorHandle) String() string {
	return fmt.Sprintf("%s[%d]", h.Kind, h.Index)
}

// DescriptorAllocator hands out slots of one heap in increasing order. Slots are never freed.
type DescriptorAllocator struct {
	mu   sync.Mutex
	info HeapInfo
	next uint32
}

func NewDescriptorAllocator(info HeapInfo) *DescriptorAllocator {
	return &DescriptorAllocator{info: info}
}

func (a *DescriptorAllocator) Info() HeapInfo {
	return a.info
}

// Allocated returns how many slots have been issued.
func (a *DescriptorAllocator) Allocated() uint32 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.next
}

// Remaining returns how many slots can still be issued.
func (a *DescriptorAllocator) Remaining() uint32 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.info.Capacity - a.next
}

// Handle computes the handle of an arbitrary slot without allocating it.
func (a *DescriptorAllocator) Handle(index uint32) DescriptorHandle {
	h := DescriptorHandle{
		Kind:  a.info.Kind,
		Index: index,
		CPU:   a.info.CPUStart + uint64(index)*a.info.Stride,
	}
	if a.info.Kind.ShaderVisible() {
		h.GPU = a.info.GPUStart + uint64(index)*a.info.Stride
	}
	return h
}

// Allocate issues the next slot, or ErrDescriptorHeapExhausted once capacity is reached.
func (a *DescriptorAllocator) Allocate() (DescriptorHandle, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.next >= a.info.Capacity {
		return DescriptorHandle{}, fmt.Errorf("%w: %s heap capacity %d", ErrDescriptorHeapExhausted, a.info.Kind, a.info.Capacity)
	}
	h := a.Handle(a.next)
	a.next++
	return h, nil
}

// AllocateRange issues n consecutive slots. Either all are issued or none.
func (a *DescriptorAllocator) AllocateRange(n uint32) ([]DescriptorHandle, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if n > a.info.Capacity-a.next {
		return nil, fmt.Errorf("%w: %s heap capacity %d, %d in use, %d requested", ErrDescriptorHeapExhausted, a.info.Kind, a.info.Capacity, a.next, n)
	}
	out := make([]DescriptorHandle, n)
	for i := range out {
		out[i] = a.Handle(a.next)
		a.next++
	}
	return out, nil
}

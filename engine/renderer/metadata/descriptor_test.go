package metadata

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDescriptorAllocatorHandles(t *testing.T) {
	a := NewDescriptorAllocator(HeapInfo{
		Kind:     HeapKindCBVSRVUAV,
		Capacity: 4,
		CPUStart: 1000,
		GPUStart: 5000,
		Stride:   32,
	})

	h0, err := a.Allocate()
	require.NoError(t, err)
	h1, err := a.Allocate()
	require.NoError(t, err)

	assert.Equal(t, uint32(0), h0.Index)
	assert.Equal(t, uint64(1000), h0.CPU)
	assert.Equal(t, uint64(5000), h0.GPU)
	assert.Equal(t, uint32(1), h1.Index)
	assert.Equal(t, uint64(1032), h1.CPU)
	assert.Equal(t, uint64(5032), h1.GPU)
	assert.Equal(t, uint32(2), a.Remaining())
}

func TestDescriptorAllocatorNonShaderVisibleHasNoGPUHandle(t *testing.T) {
	a := NewDescriptorAllocator(HeapInfo{Kind: HeapKindRTV, Capacity: 2, CPUStart: 64, GPUStart: 99, Stride: 8})
	h, err := a.Allocate()
	require.NoError(t, err)
	assert.Zero(t, h.GPU)
	assert.Equal(t, uint64(64), h.CPU)
}

func TestDescriptorAllocatorExhaustion(t *testing.T) {
	a := NewDescriptorAllocator(HeapInfo{Kind: HeapKindSampler, Capacity: 256, Stride: 1})
	seen := make(map[uint32]bool)
	for i := 0; i < 256; i++ {
		h, err := a.Allocate()
		require.NoError(t, err)
		require.False(t, seen[h.Index], "index %d issued twice", h.Index)
		seen[h.Index] = true
	}

	_, err := a.Allocate()
	require.ErrorIs(t, err, ErrDescriptorHeapExhausted)
	// the counter does not wrap back to slot 0
	_, err = a.Allocate()
	assert.ErrorIs(t, err, ErrDescriptorHeapExhausted)
	assert.Equal(t, uint32(256), a.Allocated())
}

func TestDescriptorAllocatorRange(t *testing.T) {
	a := NewDescriptorAllocator(HeapInfo{Kind: HeapKindCBVSRVUAV, Capacity: 10, Stride: 1})
	_, err := a.Allocate()
	require.NoError(t, err)

	r, err := a.AllocateRange(8)
	require.NoError(t, err)
	require.Len(t, r, 8)
	for i, h := range r {
		assert.Equal(t, uint32(i+1), h.Index)
	}

	_, err = a.AllocateRange(2)
	assert.ErrorIs(t, err, ErrDescriptorHeapExhausted)
	assert.Equal(t, uint32(1), a.Remaining(), "failed range must not consume slots")
}

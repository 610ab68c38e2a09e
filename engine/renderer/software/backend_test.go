package software

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/spritelayers/engine/config"
	"github.com/spaghettifunk/spritelayers/engine/core"
	"github.com/spaghettifunk/spritelayers/engine/math"
	"github.com/spaghettifunk/spritelayers/engine/renderer/metadata"
	"github.com/spaghettifunk/spritelayers/engine/sprites"
)

func newBackend(t *testing.T) *Backend {
	t.Helper()
	cfg := config.Default()
	cfg.Renderer.Backend = config.BackendSoftware
	cfg.Window.Width, cfg.Window.Height = 64, 64

	b := New()
	require.NoError(t, b.Initialize("test", cfg))
	t.Cleanup(func() { _ = b.Shutdown() })
	return b
}

func TestHeapHandles(t *testing.T) {
	b := newBackend(t)

	h, err := b.CreateDescriptorHeap(metadata.HeapKindCBVSRVUAV, 16)
	require.NoError(t, err)
	info := h.Info()
	assert.Equal(t, uint32(16), info.Capacity)
	assert.Equal(t, descriptorStride, info.Stride)
	assert.NotZero(t, info.GPUStart)

	rtv, err := b.CreateDescriptorHeap(metadata.HeapKindRTV, 16)
	require.NoError(t, err)
	assert.Zero(t, rtv.Info().GPUStart)

	alloc := metadata.NewDescriptorAllocator(info)
	_, _ = alloc.Allocate()
	second, err := alloc.Allocate()
	require.NoError(t, err)

	dh := h.(*DescriptorHeap)
	index, err := dh.cpuIndex(second)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), index)
	index, err = dh.gpuIndex(second.GPU)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), index)

	_, err = dh.cpuIndex(metadata.NewDescriptorAllocator(rtv.Info()).Handle(0))
	assert.Error(t, err)

	_, err = b.CreateDescriptorHeap(metadata.HeapKindSampler, 0)
	assert.Error(t, err)
}

func TestViewsCheckUsage(t *testing.T) {
	b := newBackend(t)
	heap, err := b.CreateDescriptorHeap(metadata.HeapKindCBVSRVUAV, 4)
	require.NoError(t, err)
	alloc := metadata.NewDescriptorAllocator(heap.Info())
	h, _ := alloc.Allocate()

	upload, err := b.CreateResource(&metadata.ResourceDesc{Name: "u", Width: 256, Usage: metadata.UsageCopySource, Heap: metadata.HeapTypeUpload})
	require.NoError(t, err)
	assert.Error(t, b.CreateUnorderedAccessView(upload, 1, 256, h))
	assert.Error(t, b.CreateShaderResourceView(upload, h))

	uav, err := b.CreateResource(&metadata.ResourceDesc{Name: "v", Width: 256, Usage: metadata.UsageUnorderedAccess})
	require.NoError(t, err)
	assert.Error(t, b.CreateUnorderedAccessView(uav, 2, 256, h))
	assert.NoError(t, b.CreateUnorderedAccessView(uav, 1, 256, h))

	rtvHandle := metadata.DescriptorHandle{Kind: metadata.HeapKindRTV}
	assert.Error(t, b.CreateUnorderedAccessView(uav, 1, 256, rtvHandle))
}

type dispatchFixture struct {
	b          *Backend
	heap       *DescriptorHeap
	src, dst   metadata.DescriptorHandle
	srcBuf     *Resource
	dstBuf     *Resource
	upload     *Resource
	rs         *RootSignature
	pipeline   *Pipeline
	objectSize uint64
	vertexSize uint64
}

func newDispatchFixture(t *testing.T, count uint32) *dispatchFixture {
	b := newBackend(t)
	f := &dispatchFixture{
		b:          b,
		objectSize: uint64(count) * metadata.ObjectRecordSize,
		vertexSize: uint64(count) * metadata.VertexSize * metadata.VerticesPerObject,
	}

	heap, err := b.CreateDescriptorHeap(metadata.HeapKindCBVSRVUAV, 8)
	require.NoError(t, err)
	f.heap = heap.(*DescriptorHeap)
	alloc := metadata.NewDescriptorAllocator(heap.Info())
	pair, err := alloc.AllocateRange(2)
	require.NoError(t, err)
	f.src, f.dst = pair[0], pair[1]

	res, err := b.CreateResource(&metadata.ResourceDesc{Name: "upload", Width: f.objectSize, Usage: metadata.UsageCopySource, Heap: metadata.HeapTypeUpload})
	require.NoError(t, err)
	f.upload = res.(*Resource)
	res, err = b.CreateResource(&metadata.ResourceDesc{Name: "src", Width: f.objectSize, Usage: metadata.UsageUnorderedAccess | metadata.UsageCopyDest})
	require.NoError(t, err)
	f.srcBuf = res.(*Resource)
	res, err = b.CreateResource(&metadata.ResourceDesc{Name: "dst", Width: f.vertexSize, Usage: metadata.UsageUnorderedAccess | metadata.UsageVertexBuffer})
	require.NoError(t, err)
	f.dstBuf = res.(*Resource)

	require.NoError(t, b.CreateUnorderedAccessView(f.srcBuf, count, metadata.ObjectRecordSize, f.src))
	require.NoError(t, b.CreateUnorderedAccessView(f.dstBuf, count, metadata.VertexSize*metadata.VerticesPerObject, f.dst))

	desc := metadata.ComputeRootSignature(8)
	rs, err := b.CreateRootSignature(&desc)
	require.NoError(t, err)
	f.rs = rs.(*RootSignature)
	ps, err := b.CreateComputePipeline(rs, &metadata.ShaderProgram{Name: metadata.ShaderUpdate, Stages: metadata.ShaderStageCompute})
	require.NoError(t, err)
	f.pipeline = ps.(*Pipeline)
	return f
}

func (f *dispatchFixture) record(t *testing.T, groups uint32) *CommandList {
	list, err := f.b.CreateCommandList()
	require.NoError(t, err)
	cl := list.(*CommandList)
	cl.SetDescriptorHeaps(f.heap)
	cl.SetComputeRootSignature(f.rs)
	cl.SetComputeRootDescriptorTable(metadata.ComputeParamSource, f.src)
	cl.SetComputeRootDescriptorTable(metadata.ComputeParamDestination, f.dst)
	cl.ResourceBarrier(metadata.Barrier{Resource: f.srcBuf, Before: metadata.ResourceStateCommon, After: metadata.ResourceStateCopyDest})
	cl.CopyBufferRegion(f.srcBuf, 0, f.upload, 0, f.objectSize)
	cl.ResourceBarrier(
		metadata.Barrier{Resource: f.srcBuf, Before: metadata.ResourceStateCopyDest, After: metadata.ResourceStateUnorderedAccess},
		metadata.Barrier{Resource: f.dstBuf, Before: metadata.ResourceStateCommon, After: metadata.ResourceStateUnorderedAccess},
	)
	cl.SetPipelineState(f.pipeline)
	cl.Dispatch(groups, 1, 1)
	cl.ResourceBarrier(
		metadata.Barrier{Resource: f.srcBuf, Before: metadata.ResourceStateUnorderedAccess, After: metadata.ResourceStateCommon},
		metadata.Barrier{Resource: f.dstBuf, Before: metadata.ResourceStateUnorderedAccess, After: metadata.ResourceStateCommon},
	)
	require.NoError(t, cl.Close())
	return cl
}

func TestDispatchRunsUpdateKernel(t *testing.T) {
	const count = 512
	f := newDispatchFixture(t, count)

	g := sprites.NewGenerator(7)
	data, err := f.upload.Map()
	require.NoError(t, err)
	require.NoError(t, g.Write(1, 2.0, count, data))
	f.upload.Unmap()

	cl := f.record(t, count/256)
	fence, err := f.b.CreateFence(0)
	require.NoError(t, err)
	require.NoError(t, f.b.Queue().Submit(cl, fence, 1))
	require.NoError(t, fence.Wait(1))
	assert.Equal(t, uint64(1), fence.CompletedValue())

	records := make([]metadata.ObjectRecord, count)
	g.Fill(1, 2.0, records)
	want := make([]metadata.Vertex, count*metadata.VerticesPerObject)
	require.NoError(t, sprites.Expand(records, want))

	require.Len(t, Contents(f.dstBuf), len(want)*metadata.VertexSize)
	got, err := metadata.DecodeVertices(Contents(f.dstBuf))
	require.NoError(t, err)
	require.Len(t, got, len(want))
	assert.Equal(t, want, got)
	assert.Equal(t, math.UVec4{1, count - 1, 0, 0}, got[len(got)-1].Meta)

	stats := f.b.Stats()
	assert.Equal(t, uint64(1), stats.Dispatches)
	assert.Equal(t, uint64(count*metadata.ObjectRecordSize), stats.CopiedBytes)
	assert.Empty(t, f.b.ValidationErrors())

	// replaying the same list leaves every resource where it started
	require.NoError(t, f.b.Queue().Submit(cl, fence, 2))
	require.NoError(t, f.b.Queue().Flush())
	assert.Empty(t, f.b.ValidationErrors())
	assert.Equal(t, metadata.ResourceStateCommon, f.srcBuf.State())
}

func TestBarrierMismatchIsReported(t *testing.T) {
	f := newDispatchFixture(t, 256)

	list, _ := f.b.CreateCommandList()
	cl := list.(*CommandList)
	cl.ResourceBarrier(metadata.Barrier{Resource: f.srcBuf, Before: metadata.ResourceStateRenderTarget, After: metadata.ResourceStateCommon})
	require.NoError(t, cl.Close())

	fence, _ := f.b.CreateFence(0)
	require.NoError(t, f.b.Queue().Submit(cl, fence, 1))
	require.NoError(t, f.b.Queue().Flush())
	require.Len(t, f.b.ValidationErrors(), 1)
	assert.Contains(t, f.b.ValidationErrors()[0], "resource is common")
}

func TestInvalidCommandLosesDevice(t *testing.T) {
	b := newBackend(t)

	list, _ := b.CreateCommandList()
	list.Dispatch(1, 1, 1)
	require.NoError(t, list.Close())

	fence, _ := b.CreateFence(0)
	require.NoError(t, b.Queue().Submit(list, fence, 1))
	err := fence.Wait(1)
	require.ErrorIs(t, err, core.ErrDeviceLost)
	assert.ErrorContains(t, b.DeviceRemovedReason(), "dispatch without a compute pipeline")

	assert.ErrorIs(t, b.Queue().Submit(list, fence, 2), core.ErrDeviceLost)
}

func TestSubmitRequiresClosedList(t *testing.T) {
	b := newBackend(t)
	list, _ := b.CreateCommandList()
	fence, _ := b.CreateFence(0)
	assert.Error(t, b.Queue().Submit(list, fence, 1))
}

func TestUnknownPrograms(t *testing.T) {
	b := newBackend(t)

	cdesc := metadata.ComputeRootSignature(8)
	crs, err := b.CreateRootSignature(&cdesc)
	require.NoError(t, err)
	gdesc := metadata.GraphicsRootSignature(8)
	grs, err := b.CreateRootSignature(&gdesc)
	require.NoError(t, err)

	_, err = b.CreateComputePipeline(crs, &metadata.ShaderProgram{Name: "blur", Stages: metadata.ShaderStageCompute})
	var shaderErr *metadata.ShaderError
	require.ErrorAs(t, err, &shaderErr)
	assert.Equal(t, "blur", shaderErr.Program)

	_, err = b.CreateGraphicsPipeline(grs, metadata.FormatRGBA8Unorm, metadata.FormatR32Float,
		&metadata.ShaderProgram{Name: "bloom", Stages: metadata.ShaderStageVertex | metadata.ShaderStageFragment})
	require.ErrorAs(t, err, &shaderErr)

	_, err = b.CreateComputePipeline(grs, &metadata.ShaderProgram{Name: metadata.ShaderUpdate, Stages: metadata.ShaderStageCompute})
	assert.Error(t, err)

	b.RegisterKernel("blur", func([3]uint32, uint32, []UAV) error { return nil })
	_, err = b.CreateComputePipeline(crs, &metadata.ShaderProgram{Name: "blur", Stages: metadata.ShaderStageCompute})
	assert.NoError(t, err)
}

func TestSwapchainRotates(t *testing.T) {
	b := newBackend(t)
	sc := b.Swapchain()
	require.Equal(t, uint32(2), sc.BufferCount())
	w, h := sc.Extent()
	assert.Equal(t, uint32(64), w)
	assert.Equal(t, uint32(64), h)

	for i := 0; i < 5; i++ {
		index, err := sc.Acquire()
		require.NoError(t, err)
		assert.Equal(t, uint32(i%2), index)
		require.NoError(t, sc.Present(1))
	}
	assert.Equal(t, uint64(5), b.SoftwareSwapchain().Presents())
	assert.Equal(t, metadata.ResourceStateCommon, sc.Buffer(0).(*Resource).State())
}

func TestPausedQueueHoldsFence(t *testing.T) {
	f := newDispatchFixture(t, 256)
	cl := f.record(t, 1)
	fence, _ := f.b.CreateFence(0)

	f.b.SoftwareQueue().Pause()
	require.NoError(t, f.b.Queue().Submit(cl, fence, 1))
	assert.Equal(t, uint64(0), fence.CompletedValue())
	f.b.SoftwareQueue().Resume()
	require.NoError(t, fence.Wait(1))
	assert.Equal(t, uint64(1), fence.CompletedValue())
}

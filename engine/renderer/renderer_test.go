package renderer_test

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/spritelayers/engine/assets"
	"github.com/spaghettifunk/spritelayers/engine/config"
	"github.com/spaghettifunk/spritelayers/engine/core"
	"github.com/spaghettifunk/spritelayers/engine/math"
	"github.com/spaghettifunk/spritelayers/engine/renderer"
	"github.com/spaghettifunk/spritelayers/engine/renderer/metadata"
	"github.com/spaghettifunk/spritelayers/engine/renderer/software"
	"github.com/spaghettifunk/spritelayers/engine/sprites"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Renderer.Backend = config.BackendSoftware
	return cfg
}

func newTestRenderer(t *testing.T, cfg *config.Config) (*renderer.Renderer, *software.Backend) {
	t.Helper()
	am := assets.NewAssetManager(nil)
	require.NoError(t, am.Initialize())

	b := software.New()
	r := renderer.New(b, am, cfg)
	require.NoError(t, r.Initialize("test"))
	t.Cleanup(func() { _ = r.Shutdown() })
	return r, b
}

func newInitializedBackend(t *testing.T) *software.Backend {
	t.Helper()
	b := software.New()
	require.NoError(t, b.Initialize("test", testConfig()))
	t.Cleanup(func() { _ = b.Shutdown() })
	return b
}

func TestDescriptorsAreDisjoint(t *testing.T) {
	r, _ := newTestRenderer(t, testConfig())

	rtvs := map[uint32]bool{}
	resources := map[uint32]bool{}
	claim := func(set map[uint32]bool, h metadata.DescriptorHandle) {
		require.False(t, set[h.Index], "descriptor %s issued twice", h)
		set[h.Index] = true
	}

	frames := r.Frames()
	require.Len(t, frames, 2)
	for _, fc := range frames {
		require.Len(t, fc.Layers, 8)
		for i, layer := range fc.Layers {
			claim(rtvs, layer.RTV)
			claim(resources, layer.SRV)
			claim(resources, layer.UAVSource)
			claim(resources, layer.UAVDestination)
			// the present pass indexes layer SRVs from the first one
			assert.Equal(t, fc.FirstSRV().Index+uint32(i), layer.SRV.Index)
			assert.Equal(t, layer.UAVSource.Index+1, layer.UAVDestination.Index)
		}
		claim(rtvs, fc.BackbufferRTV)
		claim(resources, fc.ConstantsCBV)
	}

	for _, fc := range frames {
		for _, layer := range fc.Layers {
			assert.Equal(t, uint64(4096*metadata.VertexSize*metadata.VerticesPerObject), layer.VertexBuffer.Desc().Width)
			assert.Equal(t, uint64(4096*metadata.ObjectRecordSize), layer.ObjectBuffer.Desc().Width)
		}
	}

	assert.Len(t, rtvs, 18)
	assert.Len(t, resources, 50)
	assert.Equal(t, uint32(18), r.Heaps().Allocator(metadata.HeapKindRTV).Allocated())
	assert.Equal(t, uint32(50), r.Heaps().Allocator(metadata.HeapKindCBVSRVUAV).Allocated())
	assert.Equal(t, uint32(2), r.Heaps().Allocator(metadata.HeapKindSampler).Allocated())
	assert.Equal(t, uint32(0), r.Heaps().Allocator(metadata.HeapKindDSV).Allocated())
}

func TestEndToEndExpansion(t *testing.T) {
	cfg := testConfig()
	r, b := newTestRenderer(t, cfg)

	const elapsed = 1.0 / 16.0
	require.NoError(t, r.DrawFrame(elapsed))
	require.NoError(t, b.Queue().Flush())

	fc := r.Frames()[0]
	require.Equal(t, uint64(1), fc.LastSignalled())

	g := sprites.NewGenerator(cfg.Animation.Seed)
	records := make([]metadata.ObjectRecord, cfg.Renderer.ObjectMax)
	want := make([]metadata.Vertex, len(records)*metadata.VerticesPerObject)
	vertexBytes := len(want) * metadata.VertexSize

	for l, layer := range fc.Layers {
		g.Fill(uint32(l), elapsed, records)
		require.NoError(t, sprites.Expand(records, want))

		got, err := metadata.DecodeVertices(software.Contents(layer.VertexBuffer)[:vertexBytes])
		require.NoError(t, err)
		require.Len(t, got, 4096*6)
		for j := 0; j < 4096; j++ {
			for c := 0; c < metadata.VerticesPerObject; c++ {
				require.Equal(t, math.UVec4{1, uint32(j), 0, 0}, got[j*metadata.VerticesPerObject+c].Meta)
			}
		}
		assert.Equal(t, want, got, "layer %d", l)
	}

	stats := b.Stats()
	assert.Equal(t, uint64(1), stats.Submissions)
	assert.Equal(t, uint64(8), stats.Dispatches)
	assert.Equal(t, uint64(8*16), stats.Groups)
	assert.Equal(t, uint64(8), stats.Copies)
	assert.Equal(t, uint64(8*2+1), stats.Draws)
	assert.Equal(t, uint64(8*(6+4096*6)+6), stats.Vertices)
	assert.Equal(t, uint64(1), stats.Clears)
	assert.Equal(t, uint64(1), b.SoftwareSwapchain().Presents())
}

func TestBackbufferClearColor(t *testing.T) {
	cfg := testConfig()
	cfg.Renderer.ClearColor = [4]float32{1, 0, 0.5, 1}
	r, b := newTestRenderer(t, cfg)

	require.NoError(t, r.DrawFrame(0))
	require.NoError(t, b.Queue().Flush())

	pixels := software.Contents(r.Frames()[0].Backbuffer)
	require.Len(t, pixels, 1024*1024*4)
	assert.Equal(t, []byte{255, 0, 128, 255}, pixels[:4])
	assert.Equal(t, []byte{255, 0, 128, 255}, pixels[len(pixels)-4:])
}

func TestFenceReachedBeforeResubmit(t *testing.T) {
	r, b := newTestRenderer(t, testConfig())
	frames := r.Frames()

	elapsed := 0.0
	for i := 0; i < 9; i++ {
		slot := frames[i%len(frames)]
		previous := slot.LastSignalled()

		elapsed += 1.0 / 16.0
		require.NoError(t, r.DrawFrame(elapsed))

		assert.GreaterOrEqual(t, slot.LastObserved(), previous, "frame %d", i)
		assert.Equal(t, previous+1, slot.LastSignalled())
	}
	require.NoError(t, b.Queue().Flush())
	assert.Equal(t, uint64(9), r.FrameNumber())
	assert.Equal(t, uint64(5), frames[0].LastSignalled())
	assert.Equal(t, uint64(4), frames[1].LastSignalled())
	assert.Empty(t, b.ValidationErrors())
}

func TestSubmitWhileInFlight(t *testing.T) {
	r, b := newTestRenderer(t, testConfig())
	fc := r.Frames()[0]

	b.SoftwareQueue().Pause()
	require.NoError(t, r.DrawFrame(0))
	assert.Equal(t, renderer.FrameStateSubmitted, fc.State())
	assert.False(t, fc.Retired())

	err := fc.Submit(b.Queue())
	assert.ErrorIs(t, err, core.ErrFrameInFlight)
	assert.Equal(t, uint64(1), fc.LastSignalled())

	b.SoftwareQueue().Resume()
	require.NoError(t, fc.Wait())
	assert.Equal(t, renderer.FrameStateSignalled, fc.State())
	assert.True(t, fc.Retired())
	assert.Equal(t, uint64(1), fc.Fence().CompletedValue())
}

func TestRecordedCommandOrder(t *testing.T) {
	r, _ := newTestRenderer(t, testConfig())
	frames := r.Frames()

	cl, ok := frames[0].List().(*software.CommandList)
	require.True(t, ok)
	ops := cl.Ops()
	require.Len(t, ops, 1+8*23+8+9)
	assert.Equal(t, software.OpSetDescriptorHeaps, ops[0].Kind)

	layerOps := []software.OpKind{
		software.OpSetComputeRootSignature,
		software.OpSetComputeRootTable,
		software.OpSetComputeRootTable,
		software.OpResourceBarrier,
		software.OpCopyBufferRegion,
		software.OpResourceBarrier,
		software.OpSetPipelineState,
		software.OpDispatch,
		software.OpResourceBarrier,
		software.OpSetRenderTargets,
		software.OpSetViewport,
		software.OpSetScissorRect,
		software.OpSetGraphicsRootSignature,
		software.OpSetGraphicsRootTable,
		software.OpSetGraphicsRootTable,
		software.OpSetGraphicsRootTable,
		software.OpSetGraphicsRootTable,
		software.OpSetPipelineState,
		software.OpSetVertexBuffer,
		software.OpDraw,
		software.OpSetPipelineState,
		software.OpSetVertexBuffer,
		software.OpDraw,
	}
	for l := 0; l < 8; l++ {
		base := 1 + l*len(layerOps)
		for i, kind := range layerOps {
			require.Equal(t, kind, ops[base+i].Kind, "layer %d op %d", l, i)
		}
		assert.Equal(t, [3]uint32{16, 1, 1}, ops[base+7].Groups)
		assert.Equal(t, metadata.ShaderUpdate, ops[base+6].Pipeline.Name())
		assert.Equal(t, metadata.ShaderClear, ops[base+17].Pipeline.Name())
		assert.Equal(t, metadata.ShaderDrawRects, ops[base+20].Pipeline.Name())
		// the clear pass samples the same layer of the previous slot
		assert.Equal(t, frames[1].Layers[l].SRV, ops[base+13].Handle)
		assert.Equal(t, frames[0].FirstSRV(), ops[base+14].Handle)
		assert.Equal(t, uint32(4096*6), ops[base+22].VertexCount)
	}

	tail := ops[1+8*23:]
	for i := 0; i < 8; i++ {
		require.Equal(t, software.OpResourceBarrier, tail[i].Kind)
		assert.Equal(t, metadata.ResourceStateRenderTarget, tail[i].Barriers[0].Before)
		assert.Equal(t, metadata.ResourceStateCommon, tail[i].Barriers[0].After)
	}
	present := tail[8:]
	assert.Equal(t, software.OpClearRenderTarget, present[2].Kind)
	assert.Equal(t, frames[0].BackbufferRTV, present[2].Handle)
	assert.Equal(t, metadata.ShaderPresent, present[5].Pipeline.Name())
	last := present[len(present)-1]
	require.Equal(t, software.OpResourceBarrier, last.Kind)
	assert.Equal(t, metadata.ResourceStateCommon, last.Barriers[0].After)
}

func TestInitializeRejectsDescriptorBudget(t *testing.T) {
	cfg := testConfig()
	cfg.Renderer.DescriptorCapacity = 40

	am := assets.NewAssetManager(nil)
	require.NoError(t, am.Initialize())
	r := renderer.New(software.New(), am, cfg)
	err := r.Initialize("test")
	assert.ErrorIs(t, err, core.ErrInvalidConfig)
	assert.NoError(t, r.Shutdown())
}

func TestMissingProgramIsFatal(t *testing.T) {
	graphics := []byte("@vertex\nfn VSMain() {}\n@fragment\nfn PSMain() {}\n")
	am := assets.NewAssetManager(fstest.MapFS{
		"update.wgsl":     {Data: []byte("@compute @workgroup_size(1)\nfn CSMain() {}\n")},
		"clear.wgsl":      {Data: graphics},
		"draw_rects.wgsl": {Data: graphics},
	})
	require.NoError(t, am.Initialize())

	r := renderer.New(software.New(), am, testConfig())
	err := r.Initialize("test")
	assert.ErrorIs(t, err, core.ErrPipelineUnavailable)
	assert.ErrorContains(t, err, metadata.ShaderPresent)
	assert.NoError(t, r.Shutdown())
}

func TestShutdownReleasesResources(t *testing.T) {
	am := assets.NewAssetManager(nil)
	require.NoError(t, am.Initialize())
	r := renderer.New(software.New(), am, testConfig())
	require.NoError(t, r.Initialize("test"))

	// 8 layers x 4 resources + constants + quad, per slot
	assert.Equal(t, 2*(8*4+2), r.Factory().Live())
	image := r.Frames()[0].Layers[0].Image.(*software.Resource)
	objects := r.Frames()[0].Layers[0].ObjectBuffer.(*software.Resource)
	assert.Equal(t, 1, objects.Mapped())

	require.NoError(t, r.DrawFrame(0))
	require.NoError(t, r.Shutdown())
	assert.Equal(t, 0, r.Factory().Live())
	assert.True(t, image.Released())
	assert.Equal(t, 0, objects.Mapped())
}

package renderer_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/spritelayers/engine/core"
	"github.com/spaghettifunk/spritelayers/engine/renderer"
	"github.com/spaghettifunk/spritelayers/engine/renderer/metadata"
	"github.com/spaghettifunk/spritelayers/engine/renderer/software"
)

func TestUploadRoundTrip(t *testing.T) {
	f := renderer.NewResourceFactory(software.New())

	buf, err := f.CreateUploadBuffer("objects", 4096*metadata.ObjectRecordSize)
	require.NoError(t, err)
	assert.Equal(t, metadata.ResourceStateGenericRead, buf.Desc().InitialState())

	data := make([]byte, 1000)
	for i := range data {
		data[i] = byte(i * 7)
	}
	require.NoError(t, renderer.UploadData(buf, data))
	assert.Equal(t, data, software.Contents(buf)[:len(data)])
	assert.Equal(t, 0, buf.(*software.Resource).Mapped())

	err = renderer.UploadData(buf, make([]byte, 4096*metadata.ObjectRecordSize+1))
	assert.ErrorIs(t, err, core.ErrUploadTooLarge)
	assert.NotErrorIs(t, err, core.ErrMapFailed)
	assert.Equal(t, 0, buf.(*software.Resource).Mapped())
}

func TestBufferSizesAreAligned(t *testing.T) {
	f := renderer.NewResourceFactory(software.New())

	uav, err := f.CreateUAVBuffer("vertices", 1000)
	require.NoError(t, err)
	assert.Equal(t, uint64(1024), uav.Desc().Width)
	assert.Equal(t, metadata.ResourceStateCommon, uav.Desc().InitialState())

	upload, err := f.CreateUploadBuffer("quad", 6*metadata.VertexSize)
	require.NoError(t, err)
	assert.Equal(t, uint64(512), upload.Desc().Width)
}

func TestMapOfDefaultHeapFails(t *testing.T) {
	f := renderer.NewResourceFactory(software.New())
	rt, err := f.CreateRenderTarget("layer", 64, 64, metadata.FormatRGBA8Unorm)
	require.NoError(t, err)

	err = renderer.UploadData(rt, []byte{1, 2, 3})
	assert.ErrorIs(t, err, core.ErrMapFailed)
}

func TestCreationFailureIsDescribed(t *testing.T) {
	b := software.New()
	b.MaxResourceSize = 1 << 20
	f := renderer.NewResourceFactory(b)

	_, err := f.CreateRenderTarget("huge", 4096, 4096, metadata.FormatRGBA8Unorm)
	require.ErrorIs(t, err, core.ErrResourceCreation)
	assert.ErrorContains(t, err, "w=4096")
	assert.ErrorContains(t, err, "h=4096")
	assert.ErrorContains(t, err, "flags=render_target|shader_resource")
	assert.Equal(t, 0, f.Live())

	_, err = f.Create(&metadata.ResourceDesc{Name: "empty", Dimension: metadata.DimensionBuffer})
	assert.ErrorIs(t, err, core.ErrResourceCreation)
}

func TestReleaseIsIdempotent(t *testing.T) {
	f := renderer.NewResourceFactory(software.New())

	a, err := f.CreateUploadBuffer("a", 256)
	require.NoError(t, err)
	b, err := f.CreateUploadBuffer("b", 256)
	require.NoError(t, err)
	assert.NotEqual(t, a.ID(), b.ID())
	assert.Equal(t, 2, f.Live())

	f.Release(a)
	f.Release(a)
	f.Release(nil)
	assert.Equal(t, 1, f.Live())
	assert.True(t, a.(*software.Resource).Released())

	assert.Equal(t, []string{"b"}, f.Shutdown())
	assert.Equal(t, 0, f.Live())
	assert.True(t, b.(*software.Resource).Released())
}

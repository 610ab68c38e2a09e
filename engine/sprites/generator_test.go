package sprites

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/spritelayers/engine/math"
	"github.com/spaghettifunk/spritelayers/engine/renderer/metadata"
)

func TestGeneratorIsDeterministic(t *testing.T) {
	a := make([]metadata.ObjectRecord, 512)
	b := make([]metadata.ObjectRecord, 512)

	g := NewGenerator(0)
	g.Fill(3, 1.25, a)
	// unrelated work in between must not leak into the next layer
	g.Fill(5, 9.0, b)
	g.Fill(3, 1.25, b)
	assert.Equal(t, a, b)

	other := NewGenerator(0)
	c := make([]metadata.ObjectRecord, 512)
	other.Fill(3, 1.25, c)
	assert.Equal(t, a, c)
}

func TestGeneratorDependsOnLayerAndTime(t *testing.T) {
	g := NewGenerator(0)
	a := make([]metadata.ObjectRecord, 16)
	b := make([]metadata.ObjectRecord, 16)
	g.Fill(0, 0, a)
	g.Fill(1, 0, b)
	assert.NotEqual(t, a[0].Position, b[0].Position)

	g.Fill(0, 100, b)
	assert.NotEqual(t, a[0].Position, b[0].Position)
	// only position depends on time
	assert.Equal(t, a[0].Color, b[0].Color)
}

func TestGeneratorRanges(t *testing.T) {
	g := NewGenerator(42)
	records := make([]metadata.ObjectRecord, 4096)
	g.Fill(7, 3.5, records)
	for i, r := range records {
		require.Equal(t, math.UVec4{1, uint32(i), 0, 0}, r.Metadata)
		assert.InDelta(t, 0, r.Position.X, 1.0)
		assert.InDelta(t, 0, r.Position.Y, 1.0)
		assert.InDelta(t, 0.01, r.Scale.X, 0.01)
		assert.InDelta(t, 0.01, r.Scale.Y, 0.01)
		assert.InDelta(t, 0, r.Rotate.X, 1.0)
		for _, c := range r.Color.Elements() {
			assert.InDelta(t, 0.5, c, 0.5)
		}
	}
}

func TestWriteChecksCapacity(t *testing.T) {
	g := NewGenerator(0)
	assert.Error(t, g.Write(0, 0, 4, make([]byte, 3*metadata.ObjectRecordSize)))
	assert.NoError(t, g.Write(0, 0, 4, make([]byte, 4*metadata.ObjectRecordSize)))
}

func TestExpandRecordQuad(t *testing.T) {
	r := metadata.ObjectRecord{
		Position: math.NewVec4(0.5, 0.25, 0, 0),
		Scale:    math.NewVec4(0.1, 0.2, 0, 0),
		Color:    math.NewVec4(1, 0, 0, 1),
		UVInfo:   math.NewVec4(0, 0, 1, 1),
		Metadata: math.UVec4{1, 9, 0, 0},
	}
	out := make([]metadata.Vertex, metadata.VerticesPerObject)
	ExpandRecord(&r, out)

	assert.InDelta(t, 0.4, out[0].Position.X, 1e-6)
	assert.InDelta(t, 0.05, out[0].Position.Y, 1e-6)
	assert.InDelta(t, 0.6, out[3].Position.X, 1e-6)
	assert.InDelta(t, 0.45, out[3].Position.Y, 1e-6)
	assert.Equal(t, float32(1), out[3].UV.X)
	assert.Equal(t, float32(1), out[3].UV.Y)
	for _, v := range out {
		assert.Equal(t, r.Color, v.Color)
		assert.Equal(t, r.Metadata, v.Meta)
		assert.Equal(t, float32(1), v.Position.W)
	}
}

func TestExpandRecordInactiveIsDegenerate(t *testing.T) {
	r := metadata.ObjectRecord{
		Position: math.NewVec4(0.3, 0.3, 0, 0),
		Scale:    math.NewVec4(0.5, 0.5, 0, 0),
	}
	out := make([]metadata.Vertex, metadata.VerticesPerObject)
	ExpandRecord(&r, out)
	for _, v := range out {
		assert.Equal(t, out[0].Position, v.Position)
	}
}

func TestExpandBufferMatchesExpand(t *testing.T) {
	const count = 64
	g := NewGenerator(0)
	records := make([]metadata.ObjectRecord, count)
	g.Fill(2, 0.5, records)

	want := make([]metadata.Vertex, count*metadata.VerticesPerObject)
	require.NoError(t, Expand(records, want))

	src := make([]byte, count*metadata.ObjectRecordSize)
	require.NoError(t, g.Write(2, 0.5, count, src))
	dst := make([]byte, count*metadata.VerticesPerObject*metadata.VertexSize)
	require.NoError(t, ExpandBuffer(src, dst, count))

	got, err := metadata.DecodeVertices(dst)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	assert.Error(t, ExpandBuffer(src[:10], dst, count))
	assert.Error(t, ExpandBuffer(src, dst[:10], count))
}

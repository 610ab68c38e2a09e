package metadata

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/spritelayers/engine/math"
)

func TestVertexEncodeDecode(t *testing.T) {
	in := Vertex{
		Position: math.NewVec4(0.25, -0.5, 0, 1),
		UV:       math.NewVec4(1, 0, 0, 0),
		Color:    math.NewVec4(0.1, 0.2, 0.3, 0.4),
		Meta:     math.UVec4{1, 4095, 0, 0},
	}
	buf := EncodeVertices([]Vertex{in, in})
	require.Len(t, buf, 2*VertexSize)

	out, err := DecodeVertices(buf)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, in, out[1])

	_, err = DecodeVertices(buf[:VertexSize+3])
	assert.Error(t, err)
}

func TestObjectRecordLayout(t *testing.T) {
	r := ObjectRecord{Metadata: math.UVec4{1, 7, 0, 0}}
	buf := make([]byte, ObjectRecordSize)
	r.Encode(buf)
	// metadata sits after five float4 fields
	assert.Equal(t, byte(1), buf[80])
	assert.Equal(t, byte(7), buf[84])
}

func TestScreenQuadCoversClipSpace(t *testing.T) {
	quad := ScreenQuad()
	require.Len(t, quad, VerticesPerObject)
	for _, v := range quad {
		assert.Equal(t, float32(1), v.Position.W)
		assert.Equal(t, (v.Position.X+1)/2, v.UV.X)
		assert.Equal(t, (v.Position.Y+1)/2, v.UV.Y)
	}
}

func TestResourceDescInitialState(t *testing.T) {
	up := &ResourceDesc{Width: 256, Heap: HeapTypeUpload}
	def := &ResourceDesc{Width: 256, Heap: HeapTypeDefault}
	assert.Equal(t, ResourceStateGenericRead, up.InitialState())
	assert.Equal(t, ResourceStateCommon, def.InitialState())
}

func TestResourceDescValidate(t *testing.T) {
	tex := &ResourceDesc{Width: 512, Height: 512, Format: FormatRGBA8Unorm, Dimension: DimensionTexture2D, Usage: UsageRenderTarget}
	require.NoError(t, tex.Validate())
	assert.Equal(t, uint64(512*512*4), tex.Size())

	assert.Error(t, (&ResourceDesc{}).Validate())
	assert.Error(t, (&ResourceDesc{Width: 4, Heap: HeapTypeUpload, Usage: UsageUnorderedAccess}).Validate())
	assert.Error(t, (&ResourceDesc{Width: 4, Height: 4, Dimension: DimensionTexture2D}).Validate())
	assert.Contains(t, tex.String(), "flags=render_target")
}

func TestRootSignatureLayouts(t *testing.T) {
	g := GraphicsRootSignature(256)
	require.Len(t, g.Parameters, 4)
	assert.Equal(t, ParameterSRVTable, g.Parameters[GraphicsParamLayerSource].Kind)
	assert.Equal(t, uint32(256), g.Parameters[GraphicsParamLayerSet].BaseRegister)
	assert.Equal(t, ParameterCBVTable, g.Parameters[GraphicsParamConstants].Kind)
	assert.Equal(t, HeapKindSampler, g.Parameters[GraphicsParamSamplers].Kind.HeapKind())

	c := ComputeRootSignature(256)
	require.Len(t, c.Parameters, 2)
	assert.Equal(t, ParameterUAVTable, c.Parameters[ComputeParamSource].Kind)
	assert.Equal(t, ParameterUAVTable, c.Parameters[ComputeParamDestination].Kind)
}

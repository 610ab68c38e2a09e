package metadata

import (
	"encoding/binary"
	"fmt"
	stdmath "math"

	"github.com/spaghettifunk/spritelayers/engine/math"
)

const (
	// VertexSize is the stride of one Vertex in a GPU buffer.
	VertexSize = 64
	// ObjectRecordSize is the stride of one ObjectRecord in a GPU buffer.
	ObjectRecordSize = 96
	// VerticesPerObject is the number of vertices one record expands into (two triangles).
	VerticesPerObject = 6
)

/**
 * @brief A single vertex as consumed by the draw and composite pipelines.
 */
type Vertex struct {
	/** @brief Clip-space position. */
	Position math.Vec4
	/** @brief Texture coordinate in xy. */
	UV math.Vec4
	/** @brief Vertex color. */
	Color math.Vec4
	/** @brief Material data. Meta[0] is the active flag, Meta[1] the owning object index. */
	Meta math.UVec4
}

/**
 * @brief Per-object animation state, expanded by the update pass into a sprite quad.
 */
type ObjectRecord struct {
	Position math.Vec4
	Scale    math.Vec4
	// Rotate.X is the rotation in half turns.
	Rotate   math.Vec4
	Color    math.Vec4
	UVInfo   math.Vec4
	Metadata math.UVec4
}

func putVec4(dst []byte, v math.Vec4) {
	binary.LittleEndian.PutUint32(dst[0:], stdmath.Float32bits(v.X))
	binary.LittleEndian.PutUint32(dst[4:], stdmath.Float32bits(v.Y))
	binary.LittleEndian.PutUint32(dst[8:], stdmath.Float32bits(v.Z))
	binary.LittleEndian.PutUint32(dst[12:], stdmath.Float32bits(v.W))
}

func getVec4(src []byte) math.Vec4 {
	return math.Vec4{
		X: stdmath.Float32frombits(binary.LittleEndian.Uint32(src[0:])),
		Y: stdmath.Float32frombits(binary.LittleEndian.Uint32(src[4:])),
		Z: stdmath.Float32frombits(binary.LittleEndian.Uint32(src[8:])),
		W: stdmath.Float32frombits(binary.LittleEndian.Uint32(src[12:])),
	}
}

func putUVec4(dst []byte, v math.UVec4) {
	for i := 0; i < 4; i++ {
		binary.LittleEndian.PutUint32(dst[i*4:], v[i])
	}
}

func getUVec4(src []byte) math.UVec4 {
	var v math.UVec4
	for i := 0; i < 4; i++ {
		v[i] = binary.LittleEndian.Uint32(src[i*4:])
	}
	return v
}

// Encode writes v into dst, which must hold at least VertexSize bytes.
func (v *Vertex) Encode(dst []byte) {
	putVec4(dst[0:], v.Position)
	putVec4(dst[16:], v.UV)
	putVec4(dst[32:], v.Color)
	putUVec4(dst[48:], v.Meta)
}

func (v *Vertex) Decode(src []byte) {
	v.Position = getVec4(src[0:])
	v.UV = getVec4(src[16:])
	v.Color = getVec4(src[32:])
	v.Meta = getUVec4(src[48:])
}

// Encode writes r into dst, which must hold at least ObjectRecordSize bytes.
func (r *ObjectRecord) Encode(dst []byte) {
	putVec4(dst[0:], r.Position)
	putVec4(dst[16:], r.Scale)
	putVec4(dst[32:], r.Rotate)
	putVec4(dst[48:], r.Color)
	putVec4(dst[64:], r.UVInfo)
	putUVec4(dst[80:], r.Metadata)
}

func (r *ObjectRecord) Decode(src []byte) {
	r.Position = getVec4(src[0:])
	r.Scale = getVec4(src[16:])
	r.Rotate = getVec4(src[32:])
	r.Color = getVec4(src[48:])
	r.UVInfo = getVec4(src[64:])
	r.Metadata = getUVec4(src[80:])
}

// EncodeVertices packs vertices into a new byte slice.
func EncodeVertices(vertices []Vertex) []byte {
	out := make([]byte, len(vertices)*VertexSize)
	for i := range vertices {
		vertices[i].Encode(out[i*VertexSize:])
	}
	return out
}

// DecodeVertices unpacks a buffer produced by the update pass.
func DecodeVertices(src []byte) ([]Vertex, error) {
	if len(src)%VertexSize != 0 {
		return nil, fmt.Errorf("vertex buffer size %d is not a multiple of %d", len(src), VertexSize)
	}
	out := make([]Vertex, len(src)/VertexSize)
	for i := range out {
		out[i].Decode(src[i*VertexSize:])
	}
	return out, nil
}

// ScreenQuad returns the two triangles covering clip space with uv following xy.
func ScreenQuad() []Vertex {
	white := math.NewVec4(1, 1, 1, 1)
	corner := func(x, y, u, v float32) Vertex {
		return Vertex{
			Position: math.NewVec4(x, y, 0, 1),
			UV:       math.NewVec4(u, v, 0, 0),
			Color:    white,
		}
	}
	return []Vertex{
		corner(-1, -1, 0, 0),
		corner(-1, 1, 0, 1),
		corner(1, -1, 1, 0),

		corner(1, 1, 1, 1),
		corner(-1, 1, 0, 1),
		corner(1, -1, 1, 0),
	}
}

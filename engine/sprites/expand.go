package sprites

import (
	"fmt"

	"github.com/spaghettifunk/spritelayers/engine/math"
	"github.com/spaghettifunk/spritelayers/engine/renderer/metadata"
)

// Corner order of the two triangles of a sprite quad.
var quadCorners = [metadata.VerticesPerObject]math.Vec2{
	{X: -1, Y: -1},
	{X: -1, Y: 1},
	{X: 1, Y: -1},
	{X: 1, Y: 1},
	{X: -1, Y: 1},
	{X: 1, Y: -1},
}

// ExpandRecord writes the six vertices of one object into out.
// Records whose active flag (Metadata[0]) is clear collapse to a degenerate quad.
func ExpandRecord(r *metadata.ObjectRecord, out []metadata.Vertex) {
	active := r.Metadata[0] != 0
	angle := r.Rotate.X * math.PI
	for c, corner := range quadCorners {
		v := &out[c]
		pos := corner.Mul(r.Scale.XY()).Rotate(angle).Add(r.Position.XY())
		if !active {
			pos = r.Position.XY()
		}
		v.Position = math.NewVec4(pos.X, pos.Y, 0, 1)
		v.UV = math.NewVec4(
			r.UVInfo.X+(corner.X*0.5+0.5)*r.UVInfo.Z,
			r.UVInfo.Y+(corner.Y*0.5+0.5)*r.UVInfo.W,
			0, 0)
		v.Color = r.Color
		v.Meta = r.Metadata
	}
}

// Expand expands every record into out, which must hold VerticesPerObject vertices per record.
func Expand(records []metadata.ObjectRecord, out []metadata.Vertex) error {
	if len(out) < len(records)*metadata.VerticesPerObject {
		return fmt.Errorf("vertex output holds %d vertices, %d records need %d", len(out), len(records), len(records)*metadata.VerticesPerObject)
	}
	for i := range records {
		ExpandRecord(&records[i], out[i*metadata.VerticesPerObject:])
	}
	return nil
}

// ExpandBuffer runs the update kernel over raw GPU buffer contents: count records are read
// from src and their vertices written to dst.
func ExpandBuffer(src, dst []byte, count uint32) error {
	if uint64(len(src)) < uint64(count)*metadata.ObjectRecordSize {
		return fmt.Errorf("source buffer holds %d bytes, %d records need %d", len(src), count, uint64(count)*metadata.ObjectRecordSize)
	}
	stride := metadata.VertexSize * metadata.VerticesPerObject
	if uint64(len(dst)) < uint64(count)*uint64(stride) {
		return fmt.Errorf("destination buffer holds %d bytes, %d records need %d", len(dst), count, uint64(count)*uint64(stride))
	}

	var (
		r     metadata.ObjectRecord
		verts [metadata.VerticesPerObject]metadata.Vertex
	)
	for i := 0; i < int(count); i++ {
		r.Decode(src[i*metadata.ObjectRecordSize:])
		ExpandRecord(&r, verts[:])
		base := i * stride
		for c := range verts {
			verts[c].Encode(dst[base+c*metadata.VertexSize:])
		}
	}
	return nil
}

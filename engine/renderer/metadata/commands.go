package metadata

import "github.com/spaghettifunk/spritelayers/engine/math"

type Filter uint8

const (
	FilterPoint Filter = iota
	FilterLinear
)

func (f Filter) String() string {
	if f == FilterLinear {
		return "linear"
	}
	return "point"
}

type Viewport struct {
	X, Y          float32
	Width, Height float32
	MinDepth      float32
	MaxDepth      float32
}

// FullViewport covers a width x height target with the [0, 1] depth range.
func FullViewport(width, height uint32) Viewport {
	return Viewport{Width: float32(width), Height: float32(height), MaxDepth: 1}
}

type Rect struct {
	Left, Top, Right, Bottom int32
}

func FullRect(width, height uint32) Rect {
	return Rect{Right: int32(width), Bottom: int32(height)}
}

// VertexBufferView describes a bound vertex stream.
type VertexBufferView struct {
	Resource interface{}
	Size     uint64
	Stride   uint32
}

// VertexCount is the number of whole vertices the view covers.
func (v VertexBufferView) VertexCount() uint32 {
	if v.Stride == 0 {
		return 0
	}
	return uint32(v.Size / uint64(v.Stride))
}

// FrameConstants is the per-slot constant buffer read by the clear and present passes.
type FrameConstants struct {
	// Screen holds back buffer width/height then layer width/height.
	Screen [4]float32
	// ClearColor is the back buffer clear color.
	ClearColor [4]float32
	// Params holds animation time, trail fade and layer count.
	Params [4]float32
}

const FrameConstantsSize = 256

func (c *FrameConstants) Encode(dst []byte) {
	putVec4(dst[0:], vec4Of(c.Screen))
	putVec4(dst[16:], vec4Of(c.ClearColor))
	putVec4(dst[32:], vec4Of(c.Params))
}

func (c *FrameConstants) Decode(src []byte) {
	c.Screen = getVec4(src[0:]).Elements()
	c.ClearColor = getVec4(src[16:]).Elements()
	c.Params = getVec4(src[32:]).Elements()
}

func vec4Of(v [4]float32) math.Vec4 {
	return math.NewVec4(v[0], v[1], v[2], v[3])
}

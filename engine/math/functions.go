package math

import stdmath "math"

const (
	PI     float32 = 3.14159265358979323846
	TWO_PI float32 = 2.0 * PI
)

func Sin(x float32) float32 {
	return float32(stdmath.Sin(float64(x)))
}

func Cos(x float32) float32 {
	return float32(stdmath.Cos(float64(x)))
}

func NewVec2(x, y float32) Vec2 {
	return Vec2{X: x, Y: y}
}

func (v Vec2) Add(other Vec2) Vec2 {
	return Vec2{X: v.X + other.X, Y: v.Y + other.Y}
}

func (v Vec2) Mul(other Vec2) Vec2 {
	return Vec2{X: v.X * other.X, Y: v.Y * other.Y}
}

// Rotate rotates v counter-clockwise by angle radians around the origin.
func (v Vec2) Rotate(angle float32) Vec2 {
	s, c := Sin(angle), Cos(angle)
	return Vec2{
		X: v.X*c - v.Y*s,
		Y: v.X*s + v.Y*c,
	}
}

func NewVec4(x, y, z, w float32) Vec4 {
	return Vec4{X: x, Y: y, Z: z, W: w}
}

func (v Vec4) XY() Vec2 {
	return Vec2{X: v.X, Y: v.Y}
}

// Elements returns the vector as a shader-ordered array.
func (v Vec4) Elements() [4]float32 {
	return [4]float32{v.X, v.Y, v.Z, v.W}
}

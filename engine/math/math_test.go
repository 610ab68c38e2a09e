package math

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClamp(t *testing.T) {
	assert.Equal(t, 3, Clamp(5, 0, 3))
	assert.Equal(t, float32(0), Clamp(float32(-1), 0, 1))
	assert.Equal(t, uint32(7), Clamp(uint32(7), 1, 9))
}

func TestAlignUp(t *testing.T) {
	assert.Equal(t, uint64(256), AlignUp(uint64(1), 256))
	assert.Equal(t, uint64(256), AlignUp(uint64(256), 256))
	assert.Equal(t, uint64(512), AlignUp(uint64(257), 256))
	assert.Equal(t, uint32(0), AlignUp(uint32(0), 16))
}

func TestDivCeil(t *testing.T) {
	assert.Equal(t, uint32(16), DivCeil(uint32(4096), 256))
	assert.Equal(t, 17, DivCeil(4097, 256))
}

func TestVec2Rotate(t *testing.T) {
	r := NewVec2(1, 0).Rotate(PI / 2)
	assert.InDelta(t, 0, r.X, 1e-6)
	assert.InDelta(t, 1, r.Y, 1e-6)
}

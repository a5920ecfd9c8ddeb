package floatutils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClip(t *testing.T) {
	assert.Equal(t, 1.0, Clip(3.2, -1.0, 1.0))
	assert.Equal(t, -1.0, Clip(-7.0, -1.0, 1.0))
	assert.Equal(t, 0.5, Clip(0.5, -1.0, 1.0))
}

func TestMinElem(t *testing.T) {
	a := []float64{1, -2, 3, 0}
	b := []float64{0, -1, 4, 0}
	dst := make([]float64, 4)

	MinElem(dst, a, b)
	assert.Equal(t, []float64{0, -2, 3, 0}, dst)

	assert.Panics(t, func() { MinElem(dst, a, b[:2]) })
}

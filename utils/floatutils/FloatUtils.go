// Package floatutils provides utilities for working with floats
package floatutils

import "math"

// Clip clips a floating point to within a minimum and maximum value.
// If the floating point exceeds max, then the function returns the max
// If min exceeds the floating point, then the function returns the min
func Clip(value, min, max float64) float64 {
	clipped := math.Min(value, max)
	return math.Max(clipped, min)
}

// MinElem computes the elementwise minimum of a and b, storing the
// result in dst. All three slices must have equal length.
func MinElem(dst, a, b []float64) {
	if len(a) != len(b) || len(dst) != len(a) {
		panic("minelem: slice length mismatch")
	}
	for i := range a {
		dst[i] = math.Min(a[i], b[i])
	}
}

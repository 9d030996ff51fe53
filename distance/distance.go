// Package distance provides the numeric kernels used by the index: cosine
// distance, dot product and L2 norm over float32 vectors.
//
// Accumulation happens in float64 so that cosine similarity of a vector with
// itself collapses to exactly 1 and the returned distance to exactly 0.
package distance

import (
	"fmt"
	"math"
)

// ErrLengthMismatch indicates two vectors of different dimensionality were
// passed to a checked kernel.
type ErrLengthMismatch struct {
	A int
	B int
}

func (e *ErrLengthMismatch) Error() string {
	return fmt.Sprintf("vector length mismatch: %d vs %d", e.A, e.B)
}

// Dot calculates the dot product of two vectors.
// Assumes vectors are the same length (caller's responsibility).
func Dot(a, b []float32) float32 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return float32(sum)
}

// Norm calculates the L2 norm of a vector.
func Norm(a []float32) float32 {
	var sum float64
	for _, v := range a {
		sum += float64(v) * float64(v)
	}
	return float32(math.Sqrt(sum))
}

// Cosine calculates the cosine distance 1 - (a·b)/(‖a‖·‖b‖) between two
// vectors. Assumes vectors are the same length (caller's responsibility).
//
// When either vector has zero magnitude the similarity is undefined; pure
// division would yield NaN. We define the distance as 1 (maximal for
// non-negative similarity) in that case so searches stay total.
//
// The result is clamped to [0, 2], the valid cosine distance range.
func Cosine(a, b []float32) float32 {
	var dot, na, nb float64
	for i := range a {
		av, bv := float64(a[i]), float64(b[i])
		dot += av * bv
		na += av * av
		nb += bv * bv
	}

	if na == 0 || nb == 0 {
		return 1
	}

	d := 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
	if d < 0 {
		return 0
	}
	if d > 2 {
		return 2
	}
	return float32(d)
}

// CosineChecked is Cosine with an explicit dimensionality check.
func CosineChecked(a, b []float32) (float32, error) {
	if len(a) != len(b) {
		return 0, &ErrLengthMismatch{A: len(a), B: len(b)}
	}
	return Cosine(a, b), nil
}

// SquaredL2 calculates the squared L2 (Euclidean) distance between two
// vectors. Assumes vectors are the same length (caller's responsibility).
func SquaredL2(a, b []float32) float32 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return float32(sum)
}

// IsFinite reports whether every component of v is a finite number.
func IsFinite(v []float32) bool {
	for _, x := range v {
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return true
}

// Metric represents the distance metric used for vector comparison.
type Metric int

const (
	MetricCosine Metric = iota
	MetricSquaredL2
)

func (m Metric) String() string {
	switch m {
	case MetricCosine:
		return "Cosine"
	case MetricSquaredL2:
		return "SquaredL2"
	default:
		return fmt.Sprintf("Unknown(%d)", m)
	}
}

// Func is a function type for distance calculation.
type Func func(a, b []float32) float32

// Provider returns the distance function for the given metric.
func Provider(m Metric) (Func, error) {
	switch m {
	case MetricCosine:
		return Cosine, nil
	case MetricSquaredL2:
		return SquaredL2, nil
	default:
		return nil, fmt.Errorf("unsupported metric: %v", m)
	}
}

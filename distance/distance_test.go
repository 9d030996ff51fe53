package distance

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCosine(t *testing.T) {
	tests := []struct {
		name     string
		a, b     []float32
		expected float32
	}{
		{
			name:     "identical",
			a:        []float32{1, 2, 3},
			b:        []float32{1, 2, 3},
			expected: 0,
		},
		{
			name:     "orthogonal",
			a:        []float32{1, 0},
			b:        []float32{0, 1},
			expected: 1,
		},
		{
			name:     "opposite",
			a:        []float32{1, 0},
			b:        []float32{-1, 0},
			expected: 2,
		},
		{
			name:     "scaled parallel",
			a:        []float32{1, 2, 3},
			b:        []float32{2, 4, 6},
			expected: 0,
		},
		{
			name:     "zero magnitude a",
			a:        []float32{0, 0, 0},
			b:        []float32{1, 2, 3},
			expected: 1,
		},
		{
			name:     "zero magnitude both",
			a:        []float32{0, 0},
			b:        []float32{0, 0},
			expected: 1,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.InDelta(t, tc.expected, Cosine(tc.a, tc.b), 1e-6)
		})
	}
}

func TestCosineSymmetry(t *testing.T) {
	a := []float32{0.3, -1.2, 4.5, 0.01}
	b := []float32{2.2, 0.4, -0.9, 1.5}

	assert.Equal(t, Cosine(a, b), Cosine(b, a))
}

func TestCosineRange(t *testing.T) {
	vecs := [][]float32{
		{1, 1, 1},
		{-1, -1, -1},
		{0.0001, 0, 0},
		{1e10, -1e10, 1e10},
	}

	for _, a := range vecs {
		for _, b := range vecs {
			d := Cosine(a, b)
			assert.GreaterOrEqual(t, d, float32(0))
			assert.LessOrEqual(t, d, float32(2))
		}
	}
}

func TestCosineChecked(t *testing.T) {
	_, err := CosineChecked([]float32{1, 2}, []float32{1, 2, 3})

	var lm *ErrLengthMismatch
	assert.ErrorAs(t, err, &lm)
	assert.Equal(t, 2, lm.A)
	assert.Equal(t, 3, lm.B)

	d, err := CosineChecked([]float32{1, 0}, []float32{0, 1})
	assert.NoError(t, err)
	assert.InDelta(t, 1.0, d, 1e-6)
}

func TestSquaredL2(t *testing.T) {
	assert.Equal(t, float32(0), SquaredL2([]float32{1, 2}, []float32{1, 2}))
	assert.Equal(t, float32(25), SquaredL2([]float32{0, 0}, []float32{3, 4}))
}

func TestIsFinite(t *testing.T) {
	assert.True(t, IsFinite([]float32{1, -2, 0}))
	assert.False(t, IsFinite([]float32{1, float32(math.NaN())}))
	assert.False(t, IsFinite([]float32{float32(math.Inf(1))}))
	assert.False(t, IsFinite([]float32{float32(math.Inf(-1)), 0}))
}

func TestProvider(t *testing.T) {
	f, err := Provider(MetricCosine)
	assert.NoError(t, err)
	assert.InDelta(t, 1.0, f([]float32{1, 0}, []float32{0, 1}), 1e-6)

	f, err = Provider(MetricSquaredL2)
	assert.NoError(t, err)
	assert.Equal(t, float32(25), f([]float32{0, 0}, []float32{3, 4}))

	_, err = Provider(Metric(99))
	assert.Error(t, err)
}

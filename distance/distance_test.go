package distance

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/vecshard/model"
)

func TestDot(t *testing.T) {
	tests := []struct {
		name     string
		a, b     []float32
		expected float32
	}{
		{"Simple", []float32{1, 2, 3}, []float32{4, 5, 6}, 32},
		{"Zero", []float32{0, 0, 0}, []float32{0, 0, 0}, 0},
		{"Mixed", []float32{1, -1, 2}, []float32{1, 1, -2}, -4},
		{"Empty", []float32{}, []float32{}, 0},
		{"Unrolled", []float32{1, 1, 1, 1, 1, 1, 1}, []float32{2, 2, 2, 2, 2, 2, 2}, 14},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, Dot(tt.a, tt.b), 1e-5)
		})
	}
}

func TestSquaredL2(t *testing.T) {
	tests := []struct {
		name     string
		a, b     []float32
		expected float32
	}{
		{"Simple", []float32{1, 2, 3}, []float32{4, 5, 6}, 27},
		{"Same", []float32{1, 2, 3, 4, 5}, []float32{1, 2, 3, 4, 5}, 0},
		{"Empty", []float32{}, []float32{}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, SquaredL2(tt.a, tt.b), 1e-5)
		})
	}
}

func TestNormalizeL2(t *testing.T) {
	v := []float32{3, 4}
	require.True(t, NormalizeL2InPlace(v))
	assert.InDelta(t, 0.6, v[0], 1e-6)
	assert.InDelta(t, 0.8, v[1], 1e-6)

	zero := []float32{0, 0, 0}
	assert.False(t, NormalizeL2InPlace(zero))
	assert.Equal(t, []float32{0, 0, 0}, zero)
}

func TestNormalizeRows(t *testing.T) {
	const dim = 64
	rng := rand.New(rand.NewSource(7))
	data := make([]float32, dim*10)
	for i := range data {
		data[i] = rng.Float32()*20 - 10
	}
	// Row 4 is all zeros.
	for i := 4 * dim; i < 5*dim; i++ {
		data[i] = 0
	}

	zero := NormalizeRows(data, dim)
	assert.Equal(t, 1, zero)

	for r := 0; r < 10; r++ {
		row := data[r*dim : (r+1)*dim]
		if r == 4 {
			assert.Equal(t, 0.0, Norm(row))
			continue
		}
		assert.InDelta(t, 1.0, Norm(row), 1e-6, "row %d", r)
	}
}

func TestProvider(t *testing.T) {
	l2, err := Provider(model.MetricL2)
	require.NoError(t, err)
	assert.InDelta(t, 2, l2([]float32{1, 0}, []float32{0, 1}), 1e-6)

	ip, err := Provider(model.MetricInnerProduct)
	require.NoError(t, err)
	assert.Less(t, ip([]float32{1, 0}, []float32{1, 0}), ip([]float32{1, 0}, []float32{0, 1}))

	_, err = Provider(model.Metric(42))
	assert.Error(t, err)
	assert.False(t, math.IsNaN(float64(Dot(nil, nil))))
}

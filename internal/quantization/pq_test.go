package quantization

import (
	"context"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/vecshard/distance"
	"github.com/hupe1980/vecshard/model"
)

func randomVectors(n, dim int, seed int64) []float32 {
	rng := rand.New(rand.NewSource(seed))
	out := make([]float32, n*dim)
	for i := range out {
		out[i] = rng.Float32()*2 - 1
	}
	return out
}

func TestNewProductQuantizer(t *testing.T) {
	_, err := NewProductQuantizer(10, 3, 8)
	assert.Error(t, err)
	_, err = NewProductQuantizer(16, 4, 9)
	assert.Error(t, err)

	pq, err := NewProductQuantizer(16, 4, 4)
	require.NoError(t, err)
	assert.Equal(t, 16, pq.NumCentroids())
	assert.False(t, pq.IsTrained())

	_, err = pq.Encode(make([]float32, 16), nil)
	assert.ErrorIs(t, err, ErrNotTrained)
}

func TestProductQuantizer_EncodeDecode(t *testing.T) {
	const dim, n = 16, 500
	data := randomVectors(n, dim, 1)

	pq, err := NewProductQuantizer(dim, 4, 6)
	require.NoError(t, err)
	k, err := pq.Train(context.Background(), data, 7)
	require.NoError(t, err)
	assert.Equal(t, 64, k)

	var errSum, baseSum float64
	for i := 0; i < n; i++ {
		vec := data[i*dim : (i+1)*dim]
		codes, err := pq.Encode(vec, nil)
		require.NoError(t, err)
		require.Len(t, codes, 4)
		errSum += float64(distance.SquaredL2(vec, pq.Decode(codes)))
		baseSum += float64(distance.Dot(vec, vec))
	}
	assert.Less(t, errSum, baseSum*0.5, "reconstruction must beat the zero vector by a wide margin")
}

func TestProductQuantizer_SmallTrainingSet(t *testing.T) {
	const dim = 8
	data := randomVectors(5, dim, 2)

	pq, err := NewProductQuantizer(dim, 2, 8)
	require.NoError(t, err)
	k, err := pq.Train(context.Background(), data, 1)
	require.NoError(t, err)
	assert.Equal(t, 5, k)

	for i := 0; i < 5; i++ {
		vec := data[i*dim : (i+1)*dim]
		codes, err := pq.Encode(vec, nil)
		require.NoError(t, err)
		assert.InDelta(t, 0, distance.SquaredL2(vec, pq.Decode(codes)), 1e-6, "training rows are exact centroids")
	}
}

func TestProductQuantizer_ADC(t *testing.T) {
	const dim, n = 8, 300
	data := randomVectors(n, dim, 3)

	pq, err := NewProductQuantizer(dim, 2, 8)
	require.NoError(t, err)
	_, err = pq.Train(context.Background(), data, 1)
	require.NoError(t, err)

	query := data[:dim]
	codes, err := pq.Encode(data[dim:2*dim], nil)
	require.NoError(t, err)
	decoded := pq.Decode(codes)

	l2 := pq.BuildTable(query, model.MetricL2)
	assert.InDelta(t, distance.SquaredL2(query, decoded), pq.Lookup(l2, codes), 1e-4)

	ip := pq.BuildTable(query, model.MetricInnerProduct)
	assert.InDelta(t, distance.Dot(query, decoded), pq.Lookup(ip, codes), 1e-4)

	clone, err := NewProductQuantizer(dim, 2, 8)
	require.NoError(t, err)
	require.NoError(t, clone.SetCodebooks(pq.Codebooks()))
	again, err := clone.Encode(data[dim:2*dim], nil)
	require.NoError(t, err)
	assert.Equal(t, codes, again)
	assert.Error(t, clone.SetCodebooks(make([]float32, 3)))
}

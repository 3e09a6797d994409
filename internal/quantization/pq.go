package quantization

import (
	"context"
	"errors"
	"fmt"

	"github.com/hupe1980/vecshard/distance"
	"github.com/hupe1980/vecshard/internal/kmeans"
	"github.com/hupe1980/vecshard/model"
)

// ErrNotTrained is returned when encoding with an untrained quantizer.
var ErrNotTrained = errors.New("quantization: product quantizer not trained")

// ProductQuantizer encodes vectors into M one-byte codes.
type ProductQuantizer struct {
	numSubvectors int // M
	numCentroids  int // K, at most 256
	dimension     int
	subvectorDim  int
	// codebooks is laid out [M][K][subvectorDim].
	codebooks []float32
	trained   bool
}

// NewProductQuantizer creates a quantizer with M subvectors and 2^bits
// centroids per subspace.
func NewProductQuantizer(dimension, numSubvectors, bits int) (*ProductQuantizer, error) {
	if numSubvectors <= 0 || dimension%numSubvectors != 0 {
		return nil, fmt.Errorf("quantization: dimension %d must be divisible by M=%d", dimension, numSubvectors)
	}
	if bits < 1 || bits > 8 {
		return nil, fmt.Errorf("quantization: bits must be in [1, 8], got %d", bits)
	}
	return &ProductQuantizer{
		numSubvectors: numSubvectors,
		numCentroids:  1 << bits,
		dimension:     dimension,
		subvectorDim:  dimension / numSubvectors,
	}, nil
}

// Train learns one codebook per subspace from n row-major vectors. When
// fewer than K vectors are available the codebooks shrink to n entries;
// codes then simply never use the upper values. It returns the number of
// centroids actually trained per subspace.
func (pq *ProductQuantizer) Train(ctx context.Context, vectors []float32, seed int64) (int, error) {
	n := len(vectors) / pq.dimension
	if n == 0 {
		return 0, errors.New("quantization: no vectors provided for training")
	}
	k := min(pq.numCentroids, n)

	sub := make([]float32, n*pq.subvectorDim)
	codebooks := make([]float32, pq.numSubvectors*pq.numCentroids*pq.subvectorDim)
	for m := 0; m < pq.numSubvectors; m++ {
		for i := 0; i < n; i++ {
			src := vectors[i*pq.dimension+m*pq.subvectorDim : i*pq.dimension+(m+1)*pq.subvectorDim]
			copy(sub[i*pq.subvectorDim:], src)
		}
		centroids, err := kmeans.Train(ctx, sub, pq.subvectorDim, k, kmeans.Config{MaxIter: 20, Seed: seed + int64(m)})
		if err != nil {
			return 0, fmt.Errorf("train subspace %d: %w", m, err)
		}
		book := codebooks[m*pq.numCentroids*pq.subvectorDim:]
		copy(book, centroids)
		// Unused slots repeat the last centroid so every code decodes.
		last := centroids[(k-1)*pq.subvectorDim:]
		for c := k; c < pq.numCentroids; c++ {
			copy(book[c*pq.subvectorDim:], last)
		}
	}

	pq.codebooks = codebooks
	pq.trained = true
	return k, nil
}

// Encode writes the M codes of vec into dst and returns it.
func (pq *ProductQuantizer) Encode(vec []float32, dst []byte) ([]byte, error) {
	if !pq.trained {
		return nil, ErrNotTrained
	}
	if len(vec) != pq.dimension {
		return nil, fmt.Errorf("quantization: vector dimension %d != %d", len(vec), pq.dimension)
	}
	if cap(dst) < pq.numSubvectors {
		dst = make([]byte, pq.numSubvectors)
	}
	dst = dst[:pq.numSubvectors]

	for m := 0; m < pq.numSubvectors; m++ {
		subvec := vec[m*pq.subvectorDim : (m+1)*pq.subvectorDim]
		dst[m] = byte(pq.nearest(m, subvec))
	}
	return dst, nil
}

// Decode reconstructs an approximate vector from PQ codes.
func (pq *ProductQuantizer) Decode(codes []byte) []float32 {
	out := make([]float32, pq.dimension)
	for m := 0; m < pq.numSubvectors; m++ {
		copy(out[m*pq.subvectorDim:(m+1)*pq.subvectorDim], pq.centroid(m, int(codes[m])))
	}
	return out
}

// BuildTable precomputes, for each subspace m and centroid k, the partial
// score between the query subvector and the centroid: squared L2 for
// MetricL2, dot product for MetricInnerProduct. table[m*K+k].
func (pq *ProductQuantizer) BuildTable(query []float32, metric model.Metric) []float32 {
	table := make([]float32, pq.numSubvectors*pq.numCentroids)
	for m := 0; m < pq.numSubvectors; m++ {
		q := query[m*pq.subvectorDim : (m+1)*pq.subvectorDim]
		for k := 0; k < pq.numCentroids; k++ {
			c := pq.centroid(m, k)
			if metric == model.MetricL2 {
				table[m*pq.numCentroids+k] = distance.SquaredL2(q, c)
			} else {
				table[m*pq.numCentroids+k] = distance.Dot(q, c)
			}
		}
	}
	return table
}

// Lookup sums the table entries selected by codes.
func (pq *ProductQuantizer) Lookup(table []float32, codes []byte) float32 {
	var sum float32
	for m, c := range codes {
		sum += table[m*pq.numCentroids+int(c)]
	}
	return sum
}

func (pq *ProductQuantizer) centroid(m, k int) []float32 {
	off := (m*pq.numCentroids + k) * pq.subvectorDim
	return pq.codebooks[off : off+pq.subvectorDim]
}

func (pq *ProductQuantizer) nearest(m int, subvec []float32) int {
	best := 0
	bestDist := distance.SquaredL2(subvec, pq.centroid(m, 0))
	for k := 1; k < pq.numCentroids; k++ {
		if d := distance.SquaredL2(subvec, pq.centroid(m, k)); d < bestDist {
			bestDist = d
			best = k
		}
	}
	return best
}

// NumSubvectors returns M.
func (pq *ProductQuantizer) NumSubvectors() int { return pq.numSubvectors }

// NumCentroids returns K.
func (pq *ProductQuantizer) NumCentroids() int { return pq.numCentroids }

// Dimension returns the full vector dimension.
func (pq *ProductQuantizer) Dimension() int { return pq.dimension }

// IsTrained returns whether the quantizer has been trained.
func (pq *ProductQuantizer) IsTrained() bool { return pq.trained }

// Codebooks returns the flat [M][K][subvectorDim] codebooks.
func (pq *ProductQuantizer) Codebooks() []float32 { return pq.codebooks }

// SetCodebooks installs codebooks loaded from disk.
func (pq *ProductQuantizer) SetCodebooks(codebooks []float32) error {
	if len(codebooks) != pq.numSubvectors*pq.numCentroids*pq.subvectorDim {
		return fmt.Errorf("quantization: codebook length %d does not match M=%d K=%d", len(codebooks), pq.numSubvectors, pq.numCentroids)
	}
	pq.codebooks = codebooks
	pq.trained = true
	return nil
}

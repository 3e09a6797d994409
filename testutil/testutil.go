package testutil

import (
	"encoding/binary"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hupe1980/vecshard/distance"
	"github.com/hupe1980/vecshard/model"
)

// RNG wraps a seeded random source. It is safe for concurrent use.
type RNG struct {
	mu   sync.Mutex
	rand *rand.Rand
	seed int64
}

// NewRNG creates a new RNG instance with the specified seed.
func NewRNG(seed int64) *RNG {
	return &RNG{rand: rand.New(rand.NewSource(seed)), seed: seed}
}

// Seed returns the initial seed.
func (r *RNG) Seed() int64 { return r.seed }

// Intn returns a non-negative pseudo-random number in [0,n).
func (r *RNG) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Intn(n)
}

// UniformRows returns n*dim values in [-1, 1).
func (r *RNG) UniformRows(n, dim int) []float32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	data := make([]float32, n*dim)
	for i := range data {
		data[i] = r.rand.Float32()*2 - 1
	}
	return data
}

// UnitRows returns n L2-normalized Gaussian rows of length dim.
func (r *RNG) UnitRows(n, dim int) []float32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	data := make([]float32, n*dim)
	for i := range n {
		r.unitLocked(data[i*dim : (i+1)*dim])
	}
	return data
}

// UnitVector returns a single L2-normalized vector.
func (r *RNG) UnitVector(dim int) []float32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	vec := make([]float32, dim)
	r.unitLocked(vec)
	return vec
}

func (r *RNG) unitLocked(vec []float32) {
	var norm float64
	for j := range vec {
		v := r.rand.NormFloat64()
		vec[j] = float32(v)
		norm += v * v
	}
	if norm == 0 {
		norm = 1
	}
	inv := float32(1 / math.Sqrt(norm))
	for j := range vec {
		vec[j] *= inv
	}
}

// ClusteredRows returns n rows grouped around `clusters` unit centroids
// with Gaussian noise of the given spread.
func (r *RNG) ClusteredRows(n, dim, clusters int, spread float32) []float32 {
	centroids := r.UnitRows(clusters, dim)

	r.mu.Lock()
	defer r.mu.Unlock()
	data := make([]float32, n*dim)
	for i := range n {
		c := centroids[(i%clusters)*dim : (i%clusters+1)*dim]
		for j := range dim {
			data[i*dim+j] = c[j] + float32(r.rand.NormFloat64())*spread
		}
	}
	return data
}

// Row returns row i of a row-major buffer.
func Row(data []float32, dim, i int) []float32 {
	return data[i*dim : (i+1)*dim]
}

// EncodeRows renders rows in the little-endian float32 buffer layout.
func EncodeRows(data []float32) []byte {
	buf := make([]byte, 4*len(data))
	for i, v := range data {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(v))
	}
	return buf
}

// WriteBuffer writes rows as an embedding buffer file under dir and
// returns its path.
func WriteBuffer(tb testing.TB, dir, name string, data []float32) string {
	tb.Helper()
	path := filepath.Join(dir, name)
	require.NoError(tb, os.WriteFile(path, EncodeRows(data), 0o644))
	return path
}

// ExactTopK scans rows exhaustively and returns the k best results by
// inner product. ids maps row numbers to vector IDs.
func ExactTopK(data []float32, dim int, query []float32, k int, ids []model.VectorID) []model.Result {
	n := len(data) / dim
	all := make([]model.Result, n)
	for i := range n {
		all[i] = model.Result{ID: ids[i], Score: distance.Dot(query, Row(data, dim, i))}
	}
	sort.Slice(all, func(a, b int) bool {
		if all[a].Score != all[b].Score {
			return all[a].Score > all[b].Score
		}
		return all[a].ID < all[b].ID
	})
	return all[:min(k, n)]
}

// Recall returns the fraction of truth IDs present in got.
func Recall(truth, got []model.Result) float64 {
	if len(truth) == 0 {
		return 1
	}
	seen := make(map[model.VectorID]struct{}, len(got))
	for _, r := range got {
		seen[r.ID] = struct{}{}
	}
	hits := 0
	for _, r := range truth {
		if _, ok := seen[r.ID]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(truth))
}

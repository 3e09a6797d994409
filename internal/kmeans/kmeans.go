package kmeans

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"sort"

	"github.com/hupe1980/vecshard/distance"
)

// ErrTooFewVectors is returned when fewer vectors than clusters are given.
var ErrTooFewVectors = errors.New("kmeans: fewer training vectors than clusters")

// Config controls training.
type Config struct {
	MaxIter int
	Seed    int64
}

// DefaultConfig returns 25 Lloyd iterations with a fixed seed.
func DefaultConfig() Config {
	return Config{MaxIter: 25, Seed: 1}
}

// Train clusters the row-major vectors into k centroids with Lloyd's
// algorithm under squared L2, seeded with k-means++. It returns the
// flattened centroids (k * dim). Training is deterministic for a seed.
func Train(ctx context.Context, vectors []float32, dim, k int, cfg Config) ([]float32, error) {
	if dim <= 0 || k <= 0 {
		return nil, errors.New("kmeans: dim and k must be positive")
	}
	n := len(vectors) / dim
	if n < k {
		return nil, ErrTooFewVectors
	}
	if cfg.MaxIter <= 0 {
		cfg.MaxIter = DefaultConfig().MaxIter
	}
	rng := rand.New(rand.NewSource(cfg.Seed)) // nolint gosec

	row := func(i int) []float32 { return vectors[i*dim : (i+1)*dim] }
	centroids := initPlusPlus(vectors, n, dim, k, rng)

	assignments := make([]int, n)
	for i := range assignments {
		assignments[i] = -1
	}
	counts := make([]int, k)
	sums := make([]float64, k*dim)

	for iter := 0; iter < cfg.MaxIter; iter++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		changed := false
		for i := 0; i < n; i++ {
			best := Assign(row(i), centroids, dim, distance.SquaredL2)
			if assignments[i] != best {
				assignments[i] = best
				changed = true
			}
		}
		if !changed {
			break
		}

		clear(sums)
		clear(counts)
		for i := 0; i < n; i++ {
			c := assignments[i]
			vec := row(i)
			for d := 0; d < dim; d++ {
				sums[c*dim+d] += float64(vec[d])
			}
			counts[c]++
		}

		for j := 0; j < k; j++ {
			if counts[j] > 0 {
				inv := 1 / float64(counts[j])
				for d := 0; d < dim; d++ {
					centroids[j*dim+d] = float32(sums[j*dim+d] * inv)
				}
				continue
			}
			// Re-seed an empty cluster with a random point.
			idx := rng.Intn(n)
			copy(centroids[j*dim:(j+1)*dim], row(idx))
		}
	}

	return centroids, nil
}

func initPlusPlus(vectors []float32, n, dim, k int, rng *rand.Rand) []float32 {
	centroids := make([]float32, k*dim)
	row := func(i int) []float32 { return vectors[i*dim : (i+1)*dim] }

	copy(centroids[:dim], row(rng.Intn(n)))

	// minDist tracks each vector's squared distance to its nearest chosen centroid.
	minDist := make([]float64, n)
	var sum float64
	for i := 0; i < n; i++ {
		minDist[i] = float64(distance.SquaredL2(row(i), centroids[:dim]))
		sum += minDist[i]
	}

	for c := 1; c < k; c++ {
		chosen := rng.Intn(n)
		if sum > 0 {
			target := rng.Float64() * sum
			var cum float64
			for i, d := range minDist {
				cum += d
				if cum >= target {
					chosen = i
					break
				}
			}
		}
		center := centroids[c*dim : (c+1)*dim]
		copy(center, row(chosen))

		sum = 0
		for i := 0; i < n; i++ {
			if d := float64(distance.SquaredL2(row(i), center)); d < minDist[i] {
				minDist[i] = d
			}
			sum += minDist[i]
		}
	}
	return centroids
}

// Assign returns the index of the centroid closest to vec under dist.
func Assign(vec, centroids []float32, dim int, dist distance.Func) int {
	k := len(centroids) / dim
	best := 0
	bestDist := float32(math.MaxFloat32)
	for j := 0; j < k; j++ {
		if d := dist(vec, centroids[j*dim:(j+1)*dim]); d < bestDist {
			bestDist = d
			best = j
		}
	}
	return best
}

type centroidDist struct {
	id   int
	dist float32
}

// Nearest returns the indices of the n centroids closest to query under dist,
// closest first.
func Nearest(query, centroids []float32, dim, n int, dist distance.Func) []int {
	k := len(centroids) / dim
	n = min(n, k)

	dists := make([]centroidDist, k)
	for i := 0; i < k; i++ {
		dists[i] = centroidDist{id: i, dist: dist(query, centroids[i*dim:(i+1)*dim])}
	}
	sort.SliceStable(dists, func(i, j int) bool { return dists[i].dist < dists[j].dist })

	out := make([]int, n)
	for i := 0; i < n; i++ {
		out[i] = dists[i].id
	}
	return out
}

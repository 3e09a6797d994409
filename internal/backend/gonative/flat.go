package gonative

import (
	"fmt"
	"io"
	"slices"
	"sync"

	"github.com/hupe1980/vecshard/distance"
	"github.com/hupe1980/vecshard/internal/backend"
	"github.com/hupe1980/vecshard/internal/searcher"
	"github.com/hupe1980/vecshard/model"
)

type flatIndex struct {
	mu      sync.RWMutex
	dim     int
	metric  model.Metric
	dist    distance.Func
	vectors []float32
	ids     []int64
}

func newFlat(dim int, metric model.Metric, dist distance.Func) *flatIndex {
	return &flatIndex{dim: dim, metric: metric, dist: dist}
}

func flatFromState(b *body, dist distance.Func) (*flatIndex, error) {
	if len(b.Flat.Vectors) != len(b.IDs)*b.Dim {
		return nil, fmt.Errorf("flat: %d floats for %d ids", len(b.Flat.Vectors), len(b.IDs))
	}
	return &flatIndex{dim: b.Dim, metric: b.Metric, dist: dist, vectors: b.Flat.Vectors, ids: b.IDs}, nil
}

func (f *flatIndex) Dim() int { return f.dim }

func (f *flatIndex) Count() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.ids)
}

func (f *flatIndex) IsTrained() bool                            { return true }
func (f *flatIndex) SetSearchParams(backend.SearchParams) error { return nil }
func (f *flatIndex) Train([]float32) error                      { return nil }
func (f *flatIndex) Release() error                             { return nil }

func (f *flatIndex) AddWithIDs(vectors []float32, ids []int64) error {
	if err := backend.CheckAdd(f.dim, vectors, ids); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.vectors = append(f.vectors, vectors...)
	f.ids = append(f.ids, ids...)
	return nil
}

func (f *flatIndex) WriteFile(path string) error { return writeFile(path, f.Encode) }

func (f *flatIndex) Encode(w io.Writer) error {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return encodeBody(w, &body{
		Dim:    f.dim,
		Metric: f.metric,
		IDs:    f.ids,
		Flat:   &flatState{Vectors: f.vectors},
	})
}

func (f *flatIndex) Search(queries []float32, k int) ([]float32, []int64, error) {
	nq, err := checkQueries(f.dim, queries, k)
	if err != nil {
		return nil, nil, err
	}
	f.mu.RLock()
	defer f.mu.RUnlock()

	distances, labels := emptyResults(nq, k)
	pq := searcher.NewMaxHeap()
	for qi := 0; qi < nq; qi++ {
		q := queries[qi*f.dim : (qi+1)*f.dim]
		pq.Reset()
		for row := range f.ids {
			d := f.dist(q, f.vectors[row*f.dim:(row+1)*f.dim])
			pq.PushBounded(searcher.Candidate{Row: uint32(row), Dist: d}, k)
		}
		for i, item := range pq.Drain() {
			distances[qi*k+i] = rawDistance(f.metric, item.Dist)
			labels[qi*k+i] = f.ids[item.Row]
		}
	}
	return distances, labels, nil
}

// Vectors returns a copy of the stored rows and their IDs.
func (f *flatIndex) Vectors() ([]float32, []int64) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return slices.Clone(f.vectors), slices.Clone(f.ids)
}

package gonative

import (
	"fmt"
	"io"
	"sync"

	"github.com/hupe1980/vecshard/distance"
	"github.com/hupe1980/vecshard/internal/backend"
	"github.com/hupe1980/vecshard/internal/hnsw"
	"github.com/hupe1980/vecshard/model"
)

type hnswIndex struct {
	mu       sync.RWMutex
	metric   model.Metric
	spec     model.HNSW
	efSearch int
	graph    *hnsw.Graph
	ids      []int64
}

func newHNSW(dim int, metric model.Metric, dist distance.Func, spec model.HNSW, seed int64) *hnswIndex {
	return &hnswIndex{
		metric:   metric,
		spec:     spec,
		efSearch: spec.EfSearch,
		graph:    hnsw.New(dim, dist, hnsw.Config{M: spec.M, EfConstruction: spec.EfConstruction, Seed: seed}),
	}
}

func hnswFromState(b *body, dist distance.Func) (*hnswIndex, error) {
	g, err := hnsw.Import(b.HNSW.Graph, dist)
	if err != nil {
		return nil, err
	}
	if g.Len() != len(b.IDs) || g.Dim() != b.Dim {
		return nil, fmt.Errorf("hnsw: graph holds %d nodes of dim %d, want %d of dim %d", g.Len(), g.Dim(), len(b.IDs), b.Dim)
	}
	return &hnswIndex{
		metric:   b.Metric,
		spec:     b.HNSW.Spec,
		efSearch: b.HNSW.Spec.EfSearch,
		graph:    g,
		ids:      b.IDs,
	}, nil
}

func (h *hnswIndex) Dim() int { return h.graph.Dim() }

func (h *hnswIndex) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.ids)
}

func (h *hnswIndex) IsTrained() bool       { return true }
func (h *hnswIndex) Train([]float32) error { return nil }
func (h *hnswIndex) Release() error        { return nil }

func (h *hnswIndex) SetSearchParams(p backend.SearchParams) error {
	if p.EfSearch < 0 {
		return fmt.Errorf("hnsw: efSearch must not be negative, got %d", p.EfSearch)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if p.EfSearch > 0 {
		h.efSearch = p.EfSearch
	}
	return nil
}

func (h *hnswIndex) AddWithIDs(vectors []float32, ids []int64) error {
	dim := h.graph.Dim()
	if err := backend.CheckAdd(dim, vectors, ids); err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, id := range ids {
		if _, err := h.graph.Insert(vectors[i*dim : (i+1)*dim]); err != nil {
			return err
		}
		h.ids = append(h.ids, id)
	}
	return nil
}

func (h *hnswIndex) WriteFile(path string) error { return writeFile(path, h.Encode) }

func (h *hnswIndex) Encode(w io.Writer) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return encodeBody(w, &body{
		Dim:    h.graph.Dim(),
		Metric: h.metric,
		IDs:    h.ids,
		HNSW:   &hnswState{Spec: h.spec, Graph: h.graph.Export()},
	})
}

func (h *hnswIndex) Search(queries []float32, k int) ([]float32, []int64, error) {
	dim := h.graph.Dim()
	nq, err := checkQueries(dim, queries, k)
	if err != nil {
		return nil, nil, err
	}
	h.mu.RLock()
	defer h.mu.RUnlock()

	distances, labels := emptyResults(nq, k)
	for qi := 0; qi < nq; qi++ {
		found, err := h.graph.Search(queries[qi*dim:(qi+1)*dim], k, h.efSearch)
		if err != nil {
			return nil, nil, err
		}
		for i, item := range found {
			distances[qi*k+i] = rawDistance(h.metric, item.Dist)
			labels[qi*k+i] = h.ids[item.Row]
		}
	}
	return distances, labels, nil
}

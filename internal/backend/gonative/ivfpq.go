package gonative

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/hupe1980/vecshard/distance"
	"github.com/hupe1980/vecshard/internal/backend"
	"github.com/hupe1980/vecshard/internal/kmeans"
	"github.com/hupe1980/vecshard/internal/quantization"
	"github.com/hupe1980/vecshard/internal/searcher"
	"github.com/hupe1980/vecshard/model"
)

// ivfIndex partitions vectors into nlist inverted lists and stores each
// row as PQ codes. Rows are numbered in insertion order; list entries
// refer to those row numbers.
type ivfIndex struct {
	mu        sync.RWMutex
	dim       int
	metric    model.Metric
	dist      distance.Func
	spec      model.IVFPQ
	seed      int64
	nlist     int
	nprobe    int
	trained   bool
	trainInfo string
	centroids []float32
	pq        *quantization.ProductQuantizer
	lists     [][]uint32
	codes     []byte // row-major, PQSubvectors bytes per row
	ids       []int64
}

func newIVFPQ(dim int, metric model.Metric, dist distance.Func, spec model.IVFPQ, seed int64) (*ivfIndex, error) {
	pq, err := quantization.NewProductQuantizer(dim, spec.PQSubvectors, spec.PQBits)
	if err != nil {
		return nil, err
	}
	return &ivfIndex{
		dim:    dim,
		metric: metric,
		dist:   dist,
		spec:   spec,
		seed:   seed,
		nlist:  spec.NList,
		nprobe: spec.NProbe,
		pq:     pq,
	}, nil
}

func ivfFromState(b *body, dist distance.Func) (*ivfIndex, error) {
	s := b.IVF
	idx, err := newIVFPQ(b.Dim, b.Metric, dist, s.Spec, 0)
	if err != nil {
		return nil, err
	}
	m := s.Spec.PQSubvectors
	if len(s.Codes) != len(b.IDs)*m {
		return nil, fmt.Errorf("ivf: %d code bytes for %d ids", len(s.Codes), len(b.IDs))
	}
	if s.Trained {
		if len(s.Centroids) != s.NList*b.Dim || len(s.ListRows) != s.NList {
			return nil, fmt.Errorf("ivf: %d centroids / %d lists for nlist %d", len(s.Centroids)/b.Dim, len(s.ListRows), s.NList)
		}
		if err := idx.pq.SetCodebooks(s.Codebooks); err != nil {
			return nil, err
		}
	}
	rows := 0
	for _, l := range s.ListRows {
		for _, r := range l {
			if int(r) >= len(b.IDs) {
				return nil, fmt.Errorf("ivf: list entry %d out of range", r)
			}
		}
		rows += len(l)
	}
	if rows != len(b.IDs) {
		return nil, fmt.Errorf("ivf: lists hold %d rows, want %d", rows, len(b.IDs))
	}

	idx.nlist = s.NList
	idx.trained = s.Trained
	idx.trainInfo = s.TrainInfo
	idx.centroids = s.Centroids
	idx.lists = s.ListRows
	idx.codes = s.Codes
	idx.ids = b.IDs
	return idx, nil
}

func (x *ivfIndex) Dim() int { return x.dim }

func (x *ivfIndex) Count() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.ids)
}

func (x *ivfIndex) IsTrained() bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.trained
}

// TrainInfo describes the training run.
func (x *ivfIndex) TrainInfo() string {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.trainInfo
}

func (x *ivfIndex) SetSearchParams(p backend.SearchParams) error {
	if p.NProbe < 0 {
		return fmt.Errorf("ivf: nprobe must not be negative, got %d", p.NProbe)
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	if p.NProbe > 0 {
		x.nprobe = p.NProbe
	}
	return nil
}

// Train learns the coarse centroids and PQ codebooks. nlist is clamped to
// the number of training vectors.
func (x *ivfIndex) Train(vectors []float32) error {
	n := len(vectors) / x.dim
	if n == 0 || len(vectors)%x.dim != 0 {
		return fmt.Errorf("ivf: training buffer of %d floats is not a positive multiple of dim %d", len(vectors), x.dim)
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	if len(x.ids) > 0 {
		return fmt.Errorf("ivf: cannot train a non-empty index")
	}

	nlist := min(x.spec.NList, n)
	ctx := context.Background()
	centroids, err := kmeans.Train(ctx, vectors, x.dim, nlist, kmeans.Config{MaxIter: 20, Seed: x.seed})
	if err != nil {
		return fmt.Errorf("ivf: coarse quantizer: %w", err)
	}
	k, err := x.pq.Train(ctx, vectors, x.seed)
	if err != nil {
		return fmt.Errorf("ivf: product quantizer: %w", err)
	}

	x.nlist = nlist
	x.centroids = centroids
	x.lists = make([][]uint32, nlist)
	x.trained = true
	x.trainInfo = fmt.Sprintf("ivf-pq trained on %d vectors: nlist=%d (configured %d), pqM=%d, pq centroids=%d of %d",
		n, nlist, x.spec.NList, x.spec.PQSubvectors, k, x.pq.NumCentroids())
	return nil
}

func (x *ivfIndex) AddWithIDs(vectors []float32, ids []int64) error {
	if err := backend.CheckAdd(x.dim, vectors, ids); err != nil {
		return err
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	if !x.trained {
		return backend.ErrNotTrained
	}

	m := x.pq.NumSubvectors()
	for i, id := range ids {
		vec := vectors[i*x.dim : (i+1)*x.dim]
		row := uint32(len(x.ids))
		list := kmeans.Assign(vec, x.centroids, x.dim, x.dist)

		start := len(x.codes)
		x.codes = append(x.codes, make([]byte, m)...)
		if _, err := x.pq.Encode(vec, x.codes[start:start+m]); err != nil {
			x.codes = x.codes[:start]
			return err
		}
		x.lists[list] = append(x.lists[list], row)
		x.ids = append(x.ids, id)
	}
	return nil
}

func (x *ivfIndex) WriteFile(path string) error { return writeFile(path, x.Encode) }

func (x *ivfIndex) Encode(w io.Writer) error {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return encodeBody(w, &body{
		Dim:    x.dim,
		Metric: x.metric,
		IDs:    x.ids,
		IVF: &ivfState{
			Spec:      x.spec,
			NList:     x.nlist,
			Trained:   x.trained,
			TrainInfo: x.trainInfo,
			Centroids: x.centroids,
			Codebooks: x.pq.Codebooks(),
			ListRows:  x.lists,
			Codes:     x.codes,
		},
	})
}

func (x *ivfIndex) Search(queries []float32, k int) ([]float32, []int64, error) {
	nq, err := checkQueries(x.dim, queries, k)
	if err != nil {
		return nil, nil, err
	}
	x.mu.RLock()
	defer x.mu.RUnlock()

	distances, labels := emptyResults(nq, k)
	if !x.trained || len(x.ids) == 0 {
		return distances, labels, nil
	}

	m := x.pq.NumSubvectors()
	heap := searcher.NewMaxHeap()
	for qi := 0; qi < nq; qi++ {
		q := queries[qi*x.dim : (qi+1)*x.dim]
		table := x.pq.BuildTable(q, x.metric)
		heap.Reset()

		for _, list := range kmeans.Nearest(q, x.centroids, x.dim, x.nprobe, x.dist) {
			for _, row := range x.lists[list] {
				score := x.pq.Lookup(table, x.codes[int(row)*m:int(row+1)*m])
				// The table yields dot products for inner product; flip them
				// so that smaller is closer in the heap.
				d := score
				if x.metric == model.MetricInnerProduct {
					d = -score
				}
				heap.PushBounded(searcher.Candidate{Row: row, Dist: d}, k)
			}
		}
		for i, item := range heap.Drain() {
			distances[qi*k+i] = rawDistance(x.metric, item.Dist)
			labels[qi*k+i] = x.ids[item.Row]
		}
	}
	return distances, labels, nil
}

func (x *ivfIndex) Release() error { return nil }

package gonative

import (
	"fmt"

	"github.com/hupe1980/vecshard/distance"
	"github.com/hupe1980/vecshard/internal/backend"
	"github.com/hupe1980/vecshard/model"
)

const (
	// Name is the registered backend name.
	Name = "go"
	// Ext is the index file extension.
	Ext = "vsx"
)

func init() {
	backend.Register(Name, Ext, func() (backend.Backend, error) { return New(), nil })
}

// Backend creates pure-Go indexes.
type Backend struct {
	seed int64
}

// Option configures the backend.
type Option func(*Backend)

// WithSeed sets the seed used for training and graph level generation.
func WithSeed(seed int64) Option {
	return func(b *Backend) { b.seed = seed }
}

// New creates the backend.
func New(optFns ...Option) *Backend {
	b := &Backend{seed: 1}
	for _, fn := range optFns {
		fn(b)
	}
	return b
}

func (b *Backend) Name() string    { return Name }
func (b *Backend) Ext() string     { return Ext }
func (b *Backend) Available() bool { return true }

// Create returns an empty index for spec.
func (b *Backend) Create(spec model.IndexSpec, metric model.Metric, dim int) (backend.Index, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("gonative: dim must be positive, got %d", dim)
	}
	dist, err := distance.Provider(metric)
	if err != nil {
		return nil, err
	}

	switch s := spec.(type) {
	case model.FlatIP:
		return newFlat(dim, metric, dist), nil
	case model.IVFPQ:
		idx, err := newIVFPQ(dim, metric, dist, s, b.seed)
		if err != nil {
			return nil, err
		}
		return idx, nil
	case model.HNSW:
		return newHNSW(dim, metric, dist, s, b.seed), nil
	default:
		return nil, fmt.Errorf("gonative: unsupported index spec %T", spec)
	}
}

// ReadFile loads an index written by WriteFile.
func (b *Backend) ReadFile(path string) (backend.Index, error) {
	body, err := readBody(path)
	if err != nil {
		return nil, err
	}
	dist, err := distance.Provider(body.Metric)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", backend.ErrInvalidFile, path, err)
	}

	var idx backend.Index
	switch {
	case body.Flat != nil:
		idx, err = flatFromState(body, dist)
	case body.IVF != nil:
		idx, err = ivfFromState(body, dist)
	case body.HNSW != nil:
		idx, err = hnswFromState(body, dist)
	default:
		err = fmt.Errorf("no index section")
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", backend.ErrInvalidFile, path, err)
	}
	return idx, nil
}

// rawDistance converts a "smaller is closer" distance back into the
// backend contract: inner product or squared L2.
func rawDistance(metric model.Metric, d float32) float32 {
	if metric == model.MetricInnerProduct {
		return -d
	}
	return d
}

func emptyResults(nq, k int) ([]float32, []int64) {
	distances := make([]float32, nq*k)
	labels := make([]int64, nq*k)
	for i := range labels {
		labels[i] = backend.NoLabel
	}
	return distances, labels
}

func checkQueries(dim int, queries []float32, k int) (int, error) {
	if k <= 0 {
		return 0, fmt.Errorf("gonative: k must be positive, got %d", k)
	}
	if len(queries) == 0 || len(queries)%dim != 0 {
		return 0, fmt.Errorf("gonative: query buffer of %d floats is not a multiple of dim %d", len(queries), dim)
	}
	return len(queries) / dim, nil
}

package backend

import (
	"fmt"
	"io"

	"github.com/hupe1980/vecshard/model"
)

// NoLabel marks an empty result slot in Search output.
const NoLabel int64 = -1

// SearchParams are runtime search knobs. Zero values keep the current setting.
type SearchParams struct {
	NProbe   int // IVF lists scanned per query
	EfSearch int // HNSW queue size
}

// ParamsFor derives the runtime search parameters of spec.
func ParamsFor(spec model.IndexSpec) SearchParams {
	switch s := spec.(type) {
	case model.FlatIP:
		return SearchParams{}
	case model.IVFPQ:
		return SearchParams{NProbe: s.NProbe}
	case model.HNSW:
		return SearchParams{EfSearch: s.EfSearch}
	default:
		panic(fmt.Sprintf("backend: unhandled index spec %T", spec))
	}
}

// Index is a handle to one index instance.
type Index interface {
	// Dim returns the vector dimension.
	Dim() int
	// Count returns the number of indexed vectors.
	Count() int
	// IsTrained reports whether the index accepts insertions.
	IsTrained() bool
	// SetSearchParams changes search behavior without rebuilding.
	SetSearchParams(p SearchParams) error
	// Train learns quantizer parameters from row-major vectors. It is a no-op
	// for index types that need no training.
	Train(vectors []float32) error
	// AddWithIDs appends rows. len(vectors) must equal len(ids) * Dim().
	AddWithIDs(vectors []float32, ids []int64) error
	// WriteFile serializes the index to path.
	WriteFile(path string) error
	// Search returns k (distance, label) pairs per query, row-major. Missing
	// slots carry NoLabel. Distances are inner products (higher is better)
	// or squared L2 distances (lower is better) depending on the metric.
	Search(queries []float32, k int) (distances []float32, labels []int64, err error)
	// Release frees the handle's resources.
	Release() error
}

// Encoder is implemented by indexes that can serialize to a stream. The
// bytes are those WriteFile would write.
type Encoder interface {
	Encode(w io.Writer) error
}

// AsEncoder returns idx as an Encoder, looking through a Guard.
func AsEncoder(idx Index) (Encoder, bool) {
	if g, ok := idx.(*Guard); ok {
		if g.Released() {
			return nil, false
		}
		idx = g.Unwrap()
	}
	enc, ok := idx.(Encoder)
	return enc, ok
}

// Backend creates and loads index handles.
type Backend interface {
	// Name returns the registered backend name.
	Name() string
	// Ext returns the index file extension without the dot.
	Ext() string
	// Available reports whether the real library is loaded.
	Available() bool
	// Create returns an empty index for spec.
	Create(spec model.IndexSpec, metric model.Metric, dim int) (Index, error)
	// ReadFile loads an index written by WriteFile.
	ReadFile(path string) (Index, error)
}

// Score converts a backend distance into a similarity where higher is better.
func Score(metric model.Metric, d float32) float32 {
	if metric == model.MetricL2 {
		return -d
	}
	return d
}

// CheckAdd validates the AddWithIDs size contract.
func CheckAdd(dim int, vectors []float32, ids []int64) error {
	if len(vectors) != len(ids)*dim {
		return fmt.Errorf("%w: %d floats for %d ids of dim %d", ErrSizeMismatch, len(vectors), len(ids), dim)
	}
	return nil
}

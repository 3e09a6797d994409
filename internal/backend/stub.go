package backend

import (
	"fmt"

	"github.com/hupe1980/vecshard/model"
)

// Stub stands in for a backend whose library could not be loaded.
type Stub struct {
	name   string
	ext    string
	reason error
}

// NewStub creates a stub for the named backend. reason explains why the
// real library is unavailable.
func NewStub(name, ext string, reason error) *Stub {
	return &Stub{name: name, ext: ext, reason: reason}
}

func (s *Stub) Name() string    { return s.name }
func (s *Stub) Ext() string     { return s.ext }
func (s *Stub) Available() bool { return false }

// Reason returns why the backend is unavailable.
func (s *Stub) Reason() error { return s.reason }

func (s *Stub) Create(spec model.IndexSpec, _ model.Metric, dim int) (Index, error) {
	if spec == nil || dim <= 0 {
		return nil, fmt.Errorf("backend %s: invalid index spec or dim %d", s.name, dim)
	}
	return &stubIndex{dim: dim, unavailable: s.unavailable()}, nil
}

func (s *Stub) ReadFile(path string) (Index, error) {
	return nil, fmt.Errorf("read %s: %w", path, s.unavailable())
}

func (s *Stub) unavailable() error {
	if s.reason == nil {
		return fmt.Errorf("%w: %s", ErrUnavailable, s.name)
	}
	return fmt.Errorf("%w: %s: %w", ErrUnavailable, s.name, s.reason)
}

// stubIndex accepts building calls and returns empty results.
type stubIndex struct {
	dim         int
	unavailable error
}

func (i *stubIndex) Dim() int                           { return i.dim }
func (i *stubIndex) Count() int                         { return 0 }
func (i *stubIndex) IsTrained() bool                    { return true }
func (i *stubIndex) SetSearchParams(SearchParams) error { return nil }
func (i *stubIndex) Train([]float32) error              { return nil }
func (i *stubIndex) Release() error                     { return nil }

func (i *stubIndex) AddWithIDs(vectors []float32, ids []int64) error {
	return CheckAdd(i.dim, vectors, ids)
}

func (i *stubIndex) WriteFile(path string) error {
	return fmt.Errorf("write %s: %w", path, i.unavailable)
}

func (i *stubIndex) Search(queries []float32, k int) ([]float32, []int64, error) {
	nq := len(queries) / i.dim
	distances := make([]float32, nq*k)
	labels := make([]int64, nq*k)
	for j := range labels {
		labels[j] = NoLabel
	}
	return distances, labels, nil
}

package backend

import (
	"sync"
	"sync/atomic"
)

// Guard wraps an Index so that Release runs exactly once. After release
// every method fails with ErrReleased.
type Guard struct {
	idx      Index
	once     sync.Once
	released atomic.Bool
	err      error
}

// NewGuard guards idx.
func NewGuard(idx Index) *Guard {
	return &Guard{idx: idx}
}

// Unwrap returns the guarded handle.
func (g *Guard) Unwrap() Index { return g.idx }

// Released reports whether Release has run.
func (g *Guard) Released() bool { return g.released.Load() }

func (g *Guard) Dim() int {
	if g.released.Load() {
		return 0
	}
	return g.idx.Dim()
}

func (g *Guard) Count() int {
	if g.released.Load() {
		return 0
	}
	return g.idx.Count()
}

func (g *Guard) IsTrained() bool {
	if g.released.Load() {
		return false
	}
	return g.idx.IsTrained()
}

func (g *Guard) SetSearchParams(p SearchParams) error {
	if g.released.Load() {
		return ErrReleased
	}
	return g.idx.SetSearchParams(p)
}

func (g *Guard) Train(vectors []float32) error {
	if g.released.Load() {
		return ErrReleased
	}
	return g.idx.Train(vectors)
}

func (g *Guard) AddWithIDs(vectors []float32, ids []int64) error {
	if g.released.Load() {
		return ErrReleased
	}
	return g.idx.AddWithIDs(vectors, ids)
}

func (g *Guard) WriteFile(path string) error {
	if g.released.Load() {
		return ErrReleased
	}
	return g.idx.WriteFile(path)
}

func (g *Guard) Search(queries []float32, k int) ([]float32, []int64, error) {
	if g.released.Load() {
		return nil, nil, ErrReleased
	}
	return g.idx.Search(queries, k)
}

// Release frees the handle once. Later calls return the first result.
func (g *Guard) Release() error {
	g.once.Do(func() {
		g.released.Store(true)
		g.err = g.idx.Release()
	})
	return g.err
}

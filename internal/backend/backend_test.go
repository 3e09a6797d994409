package backend

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/vecshard/model"
)

type countingIndex struct {
	stubIndex
	releases int
}

func (c *countingIndex) Release() error {
	c.releases++
	return nil
}

func TestGuard_ReleaseOnce(t *testing.T) {
	inner := &countingIndex{stubIndex: stubIndex{dim: 4}}
	g := NewGuard(inner)

	assert.Equal(t, 4, g.Dim())
	require.NoError(t, g.Release())
	require.NoError(t, g.Release())
	assert.Equal(t, 1, inner.releases)
	assert.True(t, g.Released())

	assert.ErrorIs(t, g.Train(nil), ErrReleased)
	assert.ErrorIs(t, g.AddWithIDs(nil, nil), ErrReleased)
	assert.ErrorIs(t, g.WriteFile("x"), ErrReleased)
	assert.ErrorIs(t, g.SetSearchParams(SearchParams{}), ErrReleased)
	_, _, err := g.Search([]float32{1, 2, 3, 4}, 1)
	assert.ErrorIs(t, err, ErrReleased)
	assert.Equal(t, 0, g.Count())
}

func TestStub(t *testing.T) {
	cause := errors.New("libfaiss_c.so: cannot open shared object file")
	s := NewStub("faiss", "faiss", cause)
	assert.False(t, s.Available())
	assert.Equal(t, "faiss", s.Ext())
	assert.Equal(t, cause, s.Reason())

	idx, err := s.Create(model.FlatIP{}, model.MetricInnerProduct, 2)
	require.NoError(t, err)
	require.NoError(t, idx.Train([]float32{1, 2}))
	require.NoError(t, idx.AddWithIDs([]float32{1, 2, 3, 4}, []int64{1, 2}))
	assert.ErrorIs(t, idx.AddWithIDs([]float32{1, 2, 3}, []int64{1, 2}), ErrSizeMismatch)

	d, l, err := idx.Search([]float32{1, 0, 0, 1}, 3)
	require.NoError(t, err)
	assert.Len(t, d, 6)
	for _, label := range l {
		assert.Equal(t, NoLabel, label)
	}

	err = idx.WriteFile("/tmp/x")
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.ErrorIs(t, err, cause)

	_, err = s.ReadFile("/tmp/x")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestRegistry(t *testing.T) {
	Register("test-ok", "ok", func() (Backend, error) {
		return NewStub("test-ok", "ok", nil), nil
	})
	Register("test-broken", "brk", func() (Backend, error) {
		return nil, errors.New("missing library")
	})

	assert.Contains(t, Names(), "test-ok")
	assert.Panics(t, func() { Register("test-ok", "ok", nil) })

	b, err := Open("test-broken")
	require.NoError(t, err)
	assert.False(t, b.Available())
	assert.Equal(t, "brk", b.Ext())

	_, err = Open("nope")
	assert.ErrorIs(t, err, ErrUnknownBackend)
}

func TestParamsFor(t *testing.T) {
	assert.Equal(t, SearchParams{}, ParamsFor(model.FlatIP{}))
	assert.Equal(t, SearchParams{NProbe: 16}, ParamsFor(model.DefaultIVFPQ()))
	assert.Equal(t, SearchParams{EfSearch: 64}, ParamsFor(model.DefaultHNSW()))
}

func TestScore(t *testing.T) {
	assert.Equal(t, float32(0.5), Score(model.MetricInnerProduct, 0.5))
	assert.Equal(t, float32(-2), Score(model.MetricL2, 2))
	assert.ErrorIs(t, CheckAdd(3, make([]float32, 5), []int64{1, 2}), ErrSizeMismatch)
	assert.NoError(t, CheckAdd(3, make([]float32, 6), []int64{1, 2}))
}

package faiss

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/vecshard/internal/backend"
	"github.com/hupe1980/vecshard/model"
)

func TestFactory(t *testing.T) {
	tests := []struct {
		spec model.IndexSpec
		want string
	}{
		{model.FlatIP{}, "IDMap,Flat"},
		{model.DefaultIVFPQ(), "IVF4096,PQ64x8"},
		{model.HNSW{M: 32, EfConstruction: 200, EfSearch: 64}, "IDMap,HNSW32"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			got, err := factory(tt.spec)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestClampIVFPQ(t *testing.T) {
	s := model.DefaultIVFPQ()

	assert.Equal(t, s, clampIVFPQ(s, 100000))

	small := clampIVFPQ(s, 100)
	assert.Equal(t, 100, small.NList)
	assert.Equal(t, 6, small.PQBits)
	assert.Equal(t, s.NProbe, small.NProbe)

	tiny := clampIVFPQ(s, 1)
	assert.Equal(t, 1, tiny.NList)
	assert.Equal(t, 1, tiny.PQBits)
}

func TestRegistered(t *testing.T) {
	b, err := backend.Open(Name)
	require.NoError(t, err)
	assert.Equal(t, Ext, b.Ext())
	assert.Equal(t, Name, b.Name())
}

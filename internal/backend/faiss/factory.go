package faiss

import (
	"fmt"
	"math/bits"

	"github.com/hupe1980/vecshard/model"
)

const (
	// Name is the registered backend name.
	Name = "faiss"
	// Ext is the index file extension.
	Ext = "faiss"
)

// factory renders the index factory description for spec.
func factory(spec model.IndexSpec) (string, error) {
	switch s := spec.(type) {
	case model.FlatIP:
		return "IDMap,Flat", nil
	case model.IVFPQ:
		return fmt.Sprintf("IVF%d,PQ%dx%d", s.NList, s.PQSubvectors, s.PQBits), nil
	case model.HNSW:
		return fmt.Sprintf("IDMap,HNSW%d", s.M), nil
	default:
		return "", fmt.Errorf("faiss: unsupported index spec %T", spec)
	}
}

// clampIVFPQ shrinks nlist and the PQ code width so that n training
// vectors suffice: FAISS refuses to train with fewer points than clusters.
func clampIVFPQ(s model.IVFPQ, n int) model.IVFPQ {
	if n <= 0 {
		return s
	}
	s.NList = min(s.NList, n)
	if maxBits := bits.Len(uint(n)) - 1; maxBits < s.PQBits {
		s.PQBits = max(maxBits, 1)
	}
	return s
}

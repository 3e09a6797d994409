package model

import (
	"errors"
	"fmt"
	"strings"
)

// IndexType is the manifest tag of an index family.
type IndexType string

const (
	IndexFlatIP IndexType = "flat-ip"
	IndexIVFPQ  IndexType = "ivf-pq"
	IndexHNSW   IndexType = "hnsw-ip"
)

// ParseIndexType parses an index type tag. Underscore spellings such as
// "IVF_PQ" are accepted.
func ParseIndexType(s string) (IndexType, error) {
	norm := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "_", "-")
	switch norm {
	case "flat-ip", "flat", "flatip":
		return IndexFlatIP, nil
	case "ivf-pq", "ivfpq":
		return IndexIVFPQ, nil
	case "hnsw-ip", "hnsw":
		return IndexHNSW, nil
	default:
		return "", fmt.Errorf("unknown index type %q", s)
	}
}

// IndexSpec is a closed union of index families with their build parameters.
// The concrete types are FlatIP, IVFPQ and HNSW; code that dispatches on an
// IndexSpec uses an exhaustive type switch over them.
type IndexSpec interface {
	// Type returns the manifest tag.
	Type() IndexType
	// RequiresTraining reports whether the index must be trained before insertion.
	RequiresTraining() bool
	// Params renders the tuning parameters using the manifest keys.
	Params() map[string]int

	validate(dim int) error
}

// FlatIP is an exhaustive index without parameters.
type FlatIP struct{}

func (FlatIP) Type() IndexType        { return IndexFlatIP }
func (FlatIP) RequiresTraining() bool { return false }
func (FlatIP) Params() map[string]int { return map[string]int{} }
func (FlatIP) validate(int) error     { return nil }

// IVFPQ is an inverted-file index over product-quantized codes.
type IVFPQ struct {
	NList        int // number of coarse clusters
	NProbe       int // clusters scanned per query
	PQSubvectors int // PQ subspaces (pqM)
	PQBits       int // bits per PQ code
}

func (IVFPQ) Type() IndexType        { return IndexIVFPQ }
func (IVFPQ) RequiresTraining() bool { return true }

func (s IVFPQ) Params() map[string]int {
	return map[string]int{
		"nlist":  s.NList,
		"nprobe": s.NProbe,
		"pqM":    s.PQSubvectors,
		"pqBits": s.PQBits,
	}
}

func (s IVFPQ) validate(dim int) error {
	var errs []error
	if s.NList <= 0 {
		errs = append(errs, fmt.Errorf("nlist must be positive, got %d", s.NList))
	}
	if s.NProbe <= 0 {
		errs = append(errs, fmt.Errorf("nprobe must be positive, got %d", s.NProbe))
	}
	if s.PQSubvectors <= 0 || (dim > 0 && dim%s.PQSubvectors != 0) {
		errs = append(errs, fmt.Errorf("pqM %d must be positive and divide dim %d", s.PQSubvectors, dim))
	}
	if s.PQBits < 1 || s.PQBits > 8 {
		errs = append(errs, fmt.Errorf("pqBits must be in [1, 8], got %d", s.PQBits))
	}
	return errors.Join(errs...)
}

// HNSW is a hierarchical navigable small world graph index.
type HNSW struct {
	M              int // graph degree
	EfConstruction int
	EfSearch       int
}

func (HNSW) Type() IndexType        { return IndexHNSW }
func (HNSW) RequiresTraining() bool { return false }

func (s HNSW) Params() map[string]int {
	return map[string]int{
		"hnswM": s.M,
		"efC":   s.EfConstruction,
		"efS":   s.EfSearch,
	}
}

func (s HNSW) validate(int) error {
	var errs []error
	if s.M < 2 {
		errs = append(errs, fmt.Errorf("hnswM must be at least 2, got %d", s.M))
	}
	if s.EfConstruction <= 0 {
		errs = append(errs, fmt.Errorf("efC must be positive, got %d", s.EfConstruction))
	}
	if s.EfSearch <= 0 {
		errs = append(errs, fmt.Errorf("efS must be positive, got %d", s.EfSearch))
	}
	return errors.Join(errs...)
}

// SpecFromParams rebuilds an IndexSpec from a manifest tag and parameter map.
// Missing parameters fall back to the defaults of DefaultConfig.
func SpecFromParams(t IndexType, params map[string]int) (IndexSpec, error) {
	get := func(key string, def int) int {
		if v, ok := params[key]; ok {
			return v
		}
		return def
	}

	switch t {
	case IndexFlatIP:
		return FlatIP{}, nil
	case IndexIVFPQ:
		d := DefaultIVFPQ()
		return IVFPQ{
			NList:        get("nlist", d.NList),
			NProbe:       get("nprobe", d.NProbe),
			PQSubvectors: get("pqM", d.PQSubvectors),
			PQBits:       get("pqBits", d.PQBits),
		}, nil
	case IndexHNSW:
		d := DefaultHNSW()
		return HNSW{
			M:              get("hnswM", d.M),
			EfConstruction: get("efC", d.EfConstruction),
			EfSearch:       get("efS", d.EfSearch),
		}, nil
	default:
		return nil, fmt.Errorf("unknown index type %q", t)
	}
}

// DefaultIVFPQ returns the default IVF+PQ parameters.
func DefaultIVFPQ() IVFPQ {
	return IVFPQ{NList: 4096, NProbe: 16, PQSubvectors: 64, PQBits: 8}
}

// DefaultHNSW returns the default HNSW parameters.
func DefaultHNSW() HNSW {
	return HNSW{M: 32, EfConstruction: 200, EfSearch: 64}
}

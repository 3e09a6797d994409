//go:build faiss && cgo

package faiss

/*
#cgo LDFLAGS: -lfaiss_c
#include <stdlib.h>
#include <faiss/c_api/AutoTune_c.h>
#include <faiss/c_api/Index_c.h>
#include <faiss/c_api/error_c.h>
#include <faiss/c_api/index_factory_c.h>
#include <faiss/c_api/index_io_c.h>
*/
import "C"

import (
	"errors"
	"fmt"
	"sync"
	"unsafe"

	"github.com/hupe1980/vecshard/internal/backend"
	"github.com/hupe1980/vecshard/model"
)

func init() {
	backend.Register(Name, Ext, func() (backend.Backend, error) { return &Backend{}, nil })
}

// Backend creates FAISS indexes.
type Backend struct{}

func (b *Backend) Name() string    { return Name }
func (b *Backend) Ext() string     { return Ext }
func (b *Backend) Available() bool { return true }

func lastError(op string, code C.int) error {
	msg := C.GoString(C.faiss_get_last_error())
	if msg == "" {
		msg = fmt.Sprintf("code %d", int(code))
	}
	return fmt.Errorf("faiss: %s: %s", op, msg)
}

func metricType(m model.Metric) C.FaissMetricType {
	if m == model.MetricL2 {
		return C.METRIC_L2
	}
	return C.METRIC_INNER_PRODUCT
}

func newIndex(description string, dim int, metric model.Metric) (*C.FaissIndex, error) {
	desc := C.CString(description)
	defer C.free(unsafe.Pointer(desc))

	var idx *C.FaissIndex
	if rc := C.faiss_index_factory(&idx, C.int(dim), desc, metricType(metric)); rc != 0 {
		return nil, lastError("index_factory "+description, rc)
	}
	return idx, nil
}

// Create returns an empty index. IVF+PQ handles are created lazily at
// training time so that nlist can be clamped to the sample size.
func (b *Backend) Create(spec model.IndexSpec, metric model.Metric, dim int) (backend.Index, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("faiss: dim must be positive, got %d", dim)
	}
	h := &handle{dim: dim, metric: metric, spec: spec}
	if _, ok := spec.(model.IVFPQ); ok {
		return h, nil
	}
	desc, err := factory(spec)
	if err != nil {
		return nil, err
	}
	if h.ptr, err = newIndex(desc, dim, metric); err != nil {
		return nil, err
	}
	return h, nil
}

// ReadFile loads an index written by WriteFile.
func (b *Backend) ReadFile(path string) (backend.Index, error) {
	cpath := C.CString(path)
	defer C.free(unsafe.Pointer(cpath))

	var idx *C.FaissIndex
	if rc := C.faiss_read_index_fname(cpath, 0, &idx); rc != 0 {
		return nil, fmt.Errorf("%w: %w", backend.ErrInvalidFile, lastError("read_index "+path, rc))
	}
	return &handle{ptr: idx, dim: int(C.faiss_Index_d(idx))}, nil
}

type handle struct {
	mu     sync.RWMutex
	ptr    *C.FaissIndex
	dim    int
	metric model.Metric
	spec   model.IndexSpec
	params backend.SearchParams
	info   string
}

func (h *handle) Dim() int { return h.dim }

func (h *handle) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.ptr == nil {
		return 0
	}
	return int(C.faiss_Index_ntotal(h.ptr))
}

func (h *handle) IsTrained() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.ptr != nil && C.faiss_Index_is_trained(h.ptr) != 0
}

// TrainInfo describes the training run.
func (h *handle) TrainInfo() string { return h.info }

func (h *handle) SetSearchParams(p backend.SearchParams) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if p.NProbe > 0 {
		h.params.NProbe = p.NProbe
	}
	if p.EfSearch > 0 {
		h.params.EfSearch = p.EfSearch
	}
	return h.applyParams()
}

func (h *handle) applyParams() error {
	if h.ptr == nil {
		return nil
	}
	var ps *C.FaissParameterSpace
	if rc := C.faiss_ParameterSpace_new(&ps); rc != 0 {
		return lastError("ParameterSpace_new", rc)
	}
	defer C.faiss_ParameterSpace_free(ps)

	set := func(name string, v int) error {
		cname := C.CString(name)
		defer C.free(unsafe.Pointer(cname))
		if rc := C.faiss_ParameterSpace_set_index_parameter(ps, h.ptr, cname, C.double(v)); rc != 0 {
			return lastError("set "+name, rc)
		}
		return nil
	}
	if h.params.NProbe > 0 {
		if err := set("nprobe", h.params.NProbe); err != nil {
			return err
		}
	}
	if h.params.EfSearch > 0 {
		if err := set("efSearch", h.params.EfSearch); err != nil {
			return err
		}
	}
	return nil
}

func (h *handle) Train(vectors []float32) error {
	spec, ok := h.spec.(model.IVFPQ)
	if !ok {
		return nil
	}
	n := len(vectors) / h.dim
	if n == 0 {
		return errors.New("faiss: empty training set")
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.ptr != nil {
		return errors.New("faiss: index already trained")
	}
	clamped := clampIVFPQ(spec, n)
	desc, _ := factory(clamped)
	ptr, err := newIndex(desc, h.dim, h.metric)
	if err != nil {
		return err
	}
	if rc := C.faiss_Index_train(ptr, C.idx_t(n), (*C.float)(unsafe.Pointer(&vectors[0]))); rc != 0 {
		C.faiss_Index_free(ptr)
		return lastError("train", rc)
	}
	h.ptr = ptr
	h.info = fmt.Sprintf("faiss %s trained on %d vectors (configured nlist=%d)", desc, n, spec.NList)
	return h.applyParams()
}

func (h *handle) AddWithIDs(vectors []float32, ids []int64) error {
	if err := backend.CheckAdd(h.dim, vectors, ids); err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.ptr == nil || C.faiss_Index_is_trained(h.ptr) == 0 {
		return backend.ErrNotTrained
	}
	rc := C.faiss_Index_add_with_ids(h.ptr, C.idx_t(len(ids)),
		(*C.float)(unsafe.Pointer(&vectors[0])), (*C.idx_t)(unsafe.Pointer(&ids[0])))
	if rc != 0 {
		return lastError("add_with_ids", rc)
	}
	return nil
}

func (h *handle) WriteFile(path string) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.ptr == nil {
		return backend.ErrNotTrained
	}
	cpath := C.CString(path)
	defer C.free(unsafe.Pointer(cpath))
	if rc := C.faiss_write_index_fname(h.ptr, cpath); rc != 0 {
		return lastError("write_index "+path, rc)
	}
	return nil
}

func (h *handle) Search(queries []float32, k int) ([]float32, []int64, error) {
	if k <= 0 || len(queries) == 0 || len(queries)%h.dim != 0 {
		return nil, nil, fmt.Errorf("faiss: invalid search of %d floats with k=%d", len(queries), k)
	}
	nq := len(queries) / h.dim
	distances := make([]float32, nq*k)
	labels := make([]int64, nq*k)

	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.ptr == nil {
		for i := range labels {
			labels[i] = backend.NoLabel
		}
		return distances, labels, nil
	}
	rc := C.faiss_Index_search(h.ptr, C.idx_t(nq), (*C.float)(unsafe.Pointer(&queries[0])), C.idx_t(k),
		(*C.float)(unsafe.Pointer(&distances[0])), (*C.idx_t)(unsafe.Pointer(&labels[0])))
	if rc != 0 {
		return nil, nil, lastError("search", rc)
	}
	return distances, labels, nil
}

func (h *handle) Release() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.ptr != nil {
		C.faiss_Index_free(h.ptr)
		h.ptr = nil
	}
	return nil
}

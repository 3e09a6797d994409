package mmap

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"sync"
	"unsafe"
)

// Mode selects how a file is mapped.
type Mode int

const (
	// ModeReadOnly maps the file shared and read-only.
	ModeReadOnly Mode = iota
	// ModeCopyOnWrite maps the file privately; writes never reach the file.
	ModeCopyOnWrite
)

// ErrClosed is returned by Advise after Close.
var ErrClosed = errors.New("mmap: mapping is closed")

// Mapping is a mapped file. The slices it hands out are valid until Close.
type Mapping struct {
	mu      sync.RWMutex
	data    []byte
	release func([]byte) error
	closed  bool
}

// Open maps the file at path. Empty files yield an empty mapping.
func Open(path string, mode Mode) (*Mapping, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size := fi.Size()
	switch {
	case size == 0:
		return &Mapping{}, nil
	case size > math.MaxInt:
		return nil, fmt.Errorf("mmap: %s is too large to map (%d bytes)", path, size)
	}

	data, release, err := osMap(f, int(size), mode)
	if err != nil {
		return nil, fmt.Errorf("mmap: %s: %w", path, err)
	}
	return &Mapping{data: data, release: release}, nil
}

// Len returns the mapped size in bytes.
func (m *Mapping) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}

// Bytes returns the mapped bytes, or nil after Close.
func (m *Mapping) Bytes() []byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil
	}
	return m.data
}

// Float32s views the mapping as little-endian float32 values without
// copying. ok is false when the host byte order or the alignment rules the
// view out; callers then decode Bytes instead.
func (m *Mapping) Float32s() (v []float32, ok bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, false
	}
	return Float32View(m.data)
}

// AdviseSequential hints that the mapping will be read front to back.
func (m *Mapping) AdviseSequential() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}
	if len(m.data) == 0 {
		return nil
	}
	return osAdviseSequential(m.data)
}

// Close unmaps the file. Calls after the first return nil.
func (m *Mapping) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	data := m.data
	m.data = nil
	if m.release == nil || data == nil {
		return nil
	}
	return m.release(data)
}

// Float32View reinterprets data as little-endian float32 values without copying.
func Float32View(data []byte) ([]float32, bool) {
	if len(data) == 0 {
		return nil, true
	}
	if len(data)%4 != 0 || !littleEndianHost || uintptr(unsafe.Pointer(unsafe.SliceData(data)))%4 != 0 {
		return nil, false
	}
	return unsafe.Slice((*float32)(unsafe.Pointer(unsafe.SliceData(data))), len(data)/4), true
}

var littleEndianHost = func() bool {
	var probe [2]byte
	binary.NativeEndian.PutUint16(probe[:], 1)
	return probe[0] == 1
}()

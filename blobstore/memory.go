package blobstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
	"sync"
)

// MemoryStore keeps blobs in memory. It records the order of successful
// puts and can be told to refuse uploads, which makes it the store of
// choice for mirror tests.
type MemoryStore struct {
	mu       sync.RWMutex
	blobs    map[string][]byte
	puts     []string
	failures map[string]error
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		blobs:    map[string][]byte{},
		failures: map[string]error{},
	}
}

// FailPuts makes every Put of a name containing pattern return err.
func (m *MemoryStore) FailPuts(pattern string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[pattern] = err
}

// Put stores the bytes of r. A known size must match the body.
func (m *MemoryStore) Put(ctx context.Context, name string, r io.Reader, size int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := m.refused(name); err != nil {
		return err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	if size >= 0 && int64(len(data)) != size {
		return fmt.Errorf("put %s: body holds %d bytes, announced %d", name, len(data), size)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[name] = data
	m.puts = append(m.puts, name)
	return nil
}

func (m *MemoryStore) refused(name string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for pattern, err := range m.failures {
		if strings.Contains(name, pattern) {
			return err
		}
	}
	return nil
}

// Open returns a reader over a blob.
func (m *MemoryStore) Open(_ context.Context, name string) (io.ReadCloser, error) {
	data, ok := m.Get(name)
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, ErrNotFound)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// Get returns a copy of a blob.
func (m *MemoryStore) Get(name string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.blobs[name]
	return bytes.Clone(data), ok
}

func (m *MemoryStore) Delete(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.blobs, name)
	return nil
}

func (m *MemoryStore) List(_ context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := slices.DeleteFunc(slices.Sorted(maps.Keys(m.blobs)), func(name string) bool {
		return !strings.HasPrefix(name, prefix)
	})
	return names, nil
}

// Puts returns the names of successful puts in call order.
func (m *MemoryStore) Puts() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.puts)
}

package backend

import (
	"fmt"
	"slices"
	"sync"
)

// Loader opens a backend. A non-nil error means the library is unavailable.
type Loader func() (Backend, error)

type registration struct {
	ext  string
	load Loader
}

var (
	registryMu sync.RWMutex
	registry   = map[string]registration{}
)

// Register makes a backend available under name. It panics on duplicates.
func Register(name, ext string, load Loader) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, dup := registry[name]; dup {
		panic("backend: Register called twice for " + name)
	}
	registry[name] = registration{ext: ext, load: load}
}

// Names returns the registered backend names, sorted.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// Open loads the named backend. If its library cannot be loaded the result
// is a Stub with Available() == false and a nil error.
func Open(name string) (Backend, error) {
	registryMu.RLock()
	reg, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q (registered: %v)", ErrUnknownBackend, name, Names())
	}

	b, err := reg.load()
	if err != nil {
		return NewStub(name, reg.ext, err), nil
	}
	return b, nil
}

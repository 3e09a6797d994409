//go:build !faiss || !cgo

package faiss

import (
	"errors"

	"github.com/hupe1980/vecshard/internal/backend"
)

// ErrNotCompiled is the load error when the binding is not built in.
var ErrNotCompiled = errors.New("faiss: binary built without cgo and the faiss build tag")

func init() {
	backend.Register(Name, Ext, func() (backend.Backend, error) { return nil, ErrNotCompiled })
}

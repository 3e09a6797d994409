package manifest

import (
	"context"
	"errors"
	"fmt"

	"github.com/hupe1980/vecshard/internal/fs"
)

// Store serializes manifest updates of one variant.
type Store struct {
	fsys     fs.FileSystem
	path     string
	lockPath string
}

// NewStore creates a store for the manifest at path, locking lockPath
// around updates.
func NewStore(fsys fs.FileSystem, path, lockPath string) *Store {
	if fsys == nil {
		fsys = fs.Default
	}
	return &Store{fsys: fsys, path: path, lockPath: lockPath}
}

// Path returns the manifest path.
func (s *Store) Path() string { return s.path }

// Load returns the current manifest snapshot without locking.
func (s *Store) Load() (*Manifest, error) {
	return Load(s.fsys, s.path)
}

// UpdateFunc receives the current manifest, or nil if none exists yet, and
// returns the manifest to save. Returning nil and no error leaves the
// manifest unchanged.
type UpdateFunc func(cur *Manifest) (*Manifest, error)

// Update runs a read-modify-write cycle under the variant lock. It returns
// the saved manifest, or the current one when fn made no change.
func (s *Store) Update(ctx context.Context, fn UpdateFunc) (*Manifest, error) {
	lock, err := fs.Lock(ctx, s.lockPath)
	if err != nil {
		return nil, fmt.Errorf("lock manifest: %w", err)
	}
	defer func() { _ = lock.Unlock() }()

	cur, err := Load(s.fsys, s.path)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	var in *Manifest
	if cur != nil {
		in = cur.Clone()
	}
	next, err := fn(in)
	if err != nil {
		return nil, err
	}
	if next == nil {
		if cur == nil {
			return nil, ErrNotFound
		}
		return cur, nil
	}

	if cur != nil {
		next.Generation = cur.Generation + 1
	} else {
		next.Generation = 1
	}
	if err := Save(s.fsys, s.path, next); err != nil {
		return nil, err
	}
	return next, nil
}

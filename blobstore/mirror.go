package blobstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"
)

// MirrorOptions configures a Mirror.
type MirrorOptions struct {
	// Prefix is prepended to every blob name.
	Prefix string
	// Concurrency bounds parallel uploads of segment files (default 4).
	Concurrency int
	Logger      *slog.Logger
}

// Mirror uploads the files of committed manifest changes to a BlobStore.
// Blob names are the file paths relative to the index root, so a variant
// directory maps to a key prefix.
type Mirror struct {
	store  BlobStore
	root   string
	opts   MirrorOptions
	logger *slog.Logger
}

// NewMirror creates a mirror of the index directory root.
func NewMirror(store BlobStore, root string, opts MirrorOptions) *Mirror {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	return &Mirror{
		store:  store,
		root:   root,
		opts:   opts,
		logger: opts.Logger.With("component", "mirror"),
	}
}

// Name returns the blob name of a file below the mirrored root.
func (m *Mirror) Name(file string) (string, error) {
	rel, err := filepath.Rel(m.root, file)
	if err != nil {
		return "", err
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("blobstore: %s is outside %s", file, m.root)
	}
	return path.Join(m.opts.Prefix, filepath.ToSlash(rel)), nil
}

// Publish uploads files. The last file is the manifest and is uploaded
// only after every other file succeeded.
func (m *Mirror) Publish(ctx context.Context, variant string, files []string) error {
	if len(files) == 0 {
		return nil
	}
	segments, manifest := files[:len(files)-1], files[len(files)-1]

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.opts.Concurrency)
	for _, f := range segments {
		g.Go(func() error { return m.upload(gctx, f) })
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("mirror %s: %w", variant, err)
	}
	if err := m.upload(ctx, manifest); err != nil {
		return fmt.Errorf("mirror %s manifest: %w", variant, err)
	}
	m.logger.DebugContext(ctx, "mirrored", "variant", variant, "files", len(files))
	return nil
}

// Retire deletes the blobs of files that left the manifest.
func (m *Mirror) Retire(ctx context.Context, variant string, files []string) error {
	var errs []error
	for _, f := range files {
		name, err := m.Name(f)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := m.store.Delete(ctx, name); err != nil {
			errs = append(errs, fmt.Errorf("delete %s: %w", name, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("retire %s: %w", variant, err)
	}
	return nil
}

func (m *Mirror) upload(ctx context.Context, file string) error {
	name, err := m.Name(file)
	if err != nil {
		return err
	}
	f, err := os.Open(file)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	size := int64(-1)
	if fi, err := f.Stat(); err == nil {
		size = fi.Size()
	}
	if err := m.store.Put(ctx, name, f, size); err != nil {
		return fmt.Errorf("put %s: %w", name, err)
	}
	return nil
}

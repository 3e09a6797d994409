package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hupe1980/vecshard/internal/backend"
	"github.com/hupe1980/vecshard/internal/fs"
	"github.com/hupe1980/vecshard/internal/layout"
	"github.com/hupe1980/vecshard/internal/manifest"
	"github.com/hupe1980/vecshard/internal/resource"
	"github.com/hupe1980/vecshard/model"
)

// Publisher receives the files of every committed manifest change, for
// example to mirror them to object storage. Failures are logged and never
// undo the local commit.
type Publisher interface {
	// Publish is called with the new files, manifest last.
	Publish(ctx context.Context, variant string, files []string) error
	// Retire is called with files that left the manifest.
	Retire(ctx context.Context, variant string, files []string) error
}

// Options configures a Variant. Zero values select defaults.
type Options struct {
	FS        fs.FileSystem
	Logger    *slog.Logger
	Resources *resource.Controller
	// RetainVectors keeps raw-vector retention files even when compaction
	// is disabled, so it can be enabled later.
	RetainVectors bool
	Now           func() time.Time
	Publisher     Publisher
}

// Variant binds one index configuration to its files and backend.
type Variant struct {
	cfg     model.IndexConfig
	layout  layout.PathLayout
	store   *manifest.Store
	backend backend.Backend

	fsys   fs.FileSystem
	logger *slog.Logger
	res    *resource.Controller
	retain bool
	now    func() time.Time
	pub    Publisher
}

// NewVariant validates cfg and prepares the variant below root.
func NewVariant(root string, cfg model.IndexConfig, b backend.Backend, opts Options) (*Variant, error) {
	if err := cfg.Validate(); err != nil {
		return nil, invalid("config", "%v", err)
	}
	if b == nil {
		return nil, errors.New("engine: nil backend")
	}
	if opts.FS == nil {
		opts.FS = fs.Default
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	l := layout.New(root, cfg.Variant, b.Ext())
	return &Variant{
		cfg:     cfg,
		layout:  l,
		store:   manifest.NewStore(opts.FS, l.ManifestPath(), l.LockPath()),
		backend: b,
		fsys:    opts.FS,
		logger:  opts.Logger.With("variant", cfg.Variant, "backend", b.Name()),
		res:     opts.Resources,
		retain:  opts.RetainVectors,
		now:     opts.Now,
		pub:     opts.Publisher,
	}, nil
}

// Config returns the variant configuration.
func (v *Variant) Config() model.IndexConfig { return v.cfg }

// Layout returns the on-disk layout.
func (v *Variant) Layout() layout.PathLayout { return v.layout }

// Backend returns the index backend.
func (v *Variant) Backend() backend.Backend { return v.backend }

// Manifest loads the current manifest. A variant without segments yields
// manifest.ErrNotFound.
func (v *Variant) Manifest() (*manifest.Manifest, error) {
	return v.store.Load()
}

func (v *Variant) retains() bool {
	return v.retain || v.cfg.Compaction.Enabled
}

func (v *Variant) ensureDirs() error {
	for _, dir := range v.layout.Dirs() {
		if err := v.fsys.MkdirAll(dir, 0o755); err != nil {
			return ioErr("mkdir", dir, err)
		}
	}
	return nil
}

// checkManifest maps a header mismatch to ErrConfigMismatch.
func (v *Variant) checkManifest(m *manifest.Manifest) error {
	if err := m.CheckCompatible(v.cfg); err != nil {
		return fmt.Errorf("%w: %w", ErrConfigMismatch, err)
	}
	return nil
}

func (v *Variant) requireBackend() error {
	if v.backend.Available() {
		return nil
	}
	if s, ok := v.backend.(*backend.Stub); ok && s.Reason() != nil {
		return fmt.Errorf("%w: %s: %w", ErrBackendUnavailable, v.backend.Name(), s.Reason())
	}
	return fmt.Errorf("%w: %s", ErrBackendUnavailable, v.backend.Name())
}

// unitKind returns the layout kind a manifest segment lives under.
func unitKind(s manifest.Segment) layout.Kind {
	if s.IsShard() {
		return layout.KindShard
	}
	return layout.KindSegment
}

func (v *Variant) publishFiles(ctx context.Context, files []string) {
	if v.pub == nil {
		return
	}
	files = append(files, v.layout.ManifestPath())
	if err := v.pub.Publish(ctx, v.cfg.Variant, files); err != nil {
		v.logger.WarnContext(ctx, "mirror publish failed", "files", len(files), "error", err)
	}
}

func (v *Variant) retireFiles(ctx context.Context, files []string) {
	if v.pub == nil || len(files) == 0 {
		return
	}
	if err := v.pub.Retire(ctx, v.cfg.Variant, files); err != nil {
		v.logger.WarnContext(ctx, "mirror retire failed", "files", len(files), "error", err)
	}
}

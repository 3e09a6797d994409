package vecshard

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/vecshard/blobstore"
	"github.com/hupe1980/vecshard/internal/backend"
	"github.com/hupe1980/vecshard/internal/engine"
	"github.com/hupe1980/vecshard/internal/manifest"
	"github.com/hupe1980/vecshard/internal/resource"
	"github.com/hupe1980/vecshard/jobs"
	"github.com/hupe1980/vecshard/model"

	// Registered backends.
	_ "github.com/hupe1980/vecshard/internal/backend/faiss"
	_ "github.com/hupe1980/vecshard/internal/backend/gonative"
)

type (
	// IndexConfig is the immutable configuration of one variant.
	IndexConfig = model.IndexConfig
	// Result is one search hit.
	Result = model.Result
	// VectorID identifies a vector across segments.
	VectorID = model.VectorID

	BuildRequest     = engine.BuildRequest
	BuildResult      = engine.BuildResult
	CompactionResult = engine.CompactionResult
	CompactionStatus = engine.CompactionStatus
	ReconcileOptions = engine.ReconcileOptions
	ReconcileReport  = engine.ReconcileReport
	InspectReport    = engine.InspectReport
	Manifest         = manifest.Manifest
	Segment          = manifest.Segment
)

const (
	CompactionSkipped   = engine.CompactionSkipped
	CompactionIdle      = engine.CompactionIdle
	CompactionCompacted = engine.CompactionCompacted
)

// DefaultConfig returns the default variant configuration.
func DefaultConfig() IndexConfig { return model.DefaultConfig() }

// ComputeID returns the ID a build assigns to row of owner under salt.
func ComputeID(owner string, row int, salt uint64) VectorID {
	return engine.VectorID(owner, row, salt)
}

// Resources is a set of limits shared by every Index opened with it.
type Resources struct {
	c *resource.Controller
}

// NewResources creates shared limits.
func NewResources(limits ResourceLimits) *Resources {
	return &Resources{c: resource.NewController(resource.Config{
		MemoryLimitBytes:    limits.MemoryLimitBytes,
		MaxConcurrentBuilds: limits.MaxConcurrentBuilds,
		IOLimitBytesPerSec:  limits.IOLimitBytesPerSec,
	})}
}

// ActiveBuilds returns the number of builds holding a slot.
func (r *Resources) ActiveBuilds() int64 { return r.c.ActiveBuilds() }

// MemoryUsage returns the accounted row buffer bytes.
func (r *Resources) MemoryUsage() int64 { return r.c.MemoryUsage() }

// WithResources shares limits between indexes, for example all variants
// served by one worker.
func WithResources(r *Resources) Option {
	return func(o *options) {
		o.resources = r
	}
}

var _ jobs.Executor = (*Index)(nil)

// Index is one variant of a sharded vector index below a root directory.
// It is safe for concurrent use; builds and compactions of a variant are
// serialized through the manifest lock.
type Index struct {
	cfg       model.IndexConfig
	variant   *engine.Variant
	builder   *engine.Builder
	compactor *engine.Compactor
	logger    *Logger
	metrics   MetricsCollector

	mu        sync.Mutex
	searchers map[*Searcher]struct{}
	closed    bool
}

// Open prepares the variant cfg.Variant below root. Nothing is written
// until the first build. An unavailable backend is not an error: the index
// serves nothing and refuses builds with ErrBackendUnavailable.
func Open(root string, cfg IndexConfig, optFns ...Option) (*Index, error) {
	o := defaultOptions()
	for _, fn := range optFns {
		fn(&o)
	}

	b, err := backend.Open(o.backendName)
	if err != nil {
		return nil, translateError(err)
	}

	pub := o.publisher
	if o.mirror != nil {
		mo := blobstore.MirrorOptions{Logger: o.logger.Logger}
		for _, fn := range o.mirrorOptions {
			fn(&mo)
		}
		pub = blobstore.NewMirror(o.mirror, root, mo)
	}

	res := o.resources
	if res == nil && o.limits != nil {
		res = NewResources(*o.limits)
	}
	var ctrl *resource.Controller
	if res != nil {
		ctrl = res.c
	}

	v, err := engine.NewVariant(root, cfg, b, engine.Options{
		FS:            o.fs,
		Logger:        o.logger.Logger,
		Resources:     ctrl,
		RetainVectors: o.retainVectors,
		Now:           o.now,
		Publisher:     pub,
	})
	if err != nil {
		return nil, translateError(err)
	}

	logger := o.logger.WithVariant(cfg.Variant)
	if !b.Available() {
		logger.Warn("index backend unavailable, builds are refused",
			"backend", b.Name(),
			"authoritative", false,
		)
	}

	return &Index{
		cfg:       cfg,
		variant:   v,
		builder:   engine.NewBuilder(v),
		compactor: engine.NewCompactor(v, o.policy),
		logger:    logger,
		metrics:   o.metricsCollector,
		searchers: make(map[*Searcher]struct{}),
	}, nil
}

// Config returns the variant configuration.
func (ix *Index) Config() IndexConfig { return ix.cfg }

// Backend returns the backend name.
func (ix *Index) Backend() string { return ix.variant.Backend().Name() }

// Available reports whether the backend can build and search.
func (ix *Index) Available() bool { return ix.variant.Backend().Available() }

func (ix *Index) checkOpen() error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if ix.closed {
		return ErrClosed
	}
	return nil
}

// Build turns one batch of embeddings into a published segment. Building
// the same (timestamp, count) pair twice returns the published segment
// with Existing set.
func (ix *Index) Build(ctx context.Context, req BuildRequest) (BuildResult, error) {
	if err := ix.checkOpen(); err != nil {
		return BuildResult{}, err
	}
	start := time.Now()
	res, err := ix.builder.Build(ctx, req)
	err = translateError(err)
	ix.metrics.RecordBuild(req.Count, time.Since(start), err)
	ix.logger.WithOwner(req.OwnerID).LogBuild(ctx, res, err)
	return res, err
}

// Searcher opens a searcher over the current manifest. Segments published
// later are not visible to it. Close it when done; Index.Close closes any
// searchers still open.
func (ix *Index) Searcher(ctx context.Context) (*Searcher, error) {
	if err := ix.checkOpen(); err != nil {
		return nil, err
	}
	es, err := engine.OpenSearcher(ctx, ix.variant)
	if err != nil {
		return nil, translateError(err)
	}
	s := &Searcher{s: es, ix: ix}

	ix.mu.Lock()
	defer ix.mu.Unlock()
	if ix.closed {
		_ = es.Close()
		return nil, ErrClosed
	}
	ix.searchers[s] = struct{}{}
	return s, nil
}

// Search opens a searcher, queries it once and closes it.
func (ix *Index) Search(ctx context.Context, query []float32, k int) ([]Result, error) {
	s, err := ix.Searcher(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = s.Close() }()
	return s.SearchTopK(ctx, query, k)
}

// Compact runs one compaction cycle.
func (ix *Index) Compact(ctx context.Context) (CompactionResult, error) {
	if err := ix.checkOpen(); err != nil {
		return CompactionResult{}, err
	}
	start := time.Now()
	res, err := ix.compactor.Run(ctx)
	err = translateError(err)
	ix.metrics.RecordCompaction(len(res.Merged), time.Since(start), err)
	ix.logger.LogCompaction(ctx, res, err)
	return res, err
}

// Reconcile repairs the variant after interrupted builds.
func (ix *Index) Reconcile(ctx context.Context, opts ReconcileOptions) (ReconcileReport, error) {
	if err := ix.checkOpen(); err != nil {
		return ReconcileReport{}, err
	}
	report, err := engine.Reconcile(ctx, ix.variant, opts)
	err = translateError(err)
	ix.logger.LogReconcile(ctx, report, err)
	return report, err
}

// Inspect checks the files behind the manifest without changing anything.
func (ix *Index) Inspect(ctx context.Context) (InspectReport, error) {
	if err := ix.checkOpen(); err != nil {
		return InspectReport{}, err
	}
	report, err := engine.Inspect(ctx, ix.variant)
	return report, translateError(err)
}

// Manifest returns the current manifest, or ErrMissingManifest if nothing
// was published yet.
func (ix *Index) Manifest() (*Manifest, error) {
	m, err := ix.variant.Manifest()
	if err != nil {
		return nil, translateError(err)
	}
	return m, nil
}

// ExecuteBuild implements jobs.Executor.
func (ix *Index) ExecuteBuild(ctx context.Context, job jobs.BuildSegmentJob) error {
	_, err := ix.Build(ctx, BuildRequest{
		Variant:       job.Variant,
		EmbeddingPath: job.BufferPath,
		Dim:           job.Dim,
		Count:         job.Count,
		Timestamp:     job.Timestamp,
		OwnerID:       job.OwnerID,
	})
	return err
}

// ExecuteCompact implements jobs.Executor.
func (ix *Index) ExecuteCompact(ctx context.Context, job jobs.CompactJob) error {
	if job.Variant != ix.cfg.Variant {
		return &ValidationError{
			Field:  "variant",
			Reason: fmt.Sprintf("job for %q sent to variant %q", job.Variant, ix.cfg.Variant),
		}
	}
	_, err := ix.Compact(ctx)
	return err
}

// Close closes all open searchers. Further calls fail with ErrClosed.
func (ix *Index) Close() error {
	ix.mu.Lock()
	if ix.closed {
		ix.mu.Unlock()
		return nil
	}
	ix.closed = true
	open := make([]*Searcher, 0, len(ix.searchers))
	for s := range ix.searchers {
		open = append(open, s)
	}
	clear(ix.searchers)
	ix.mu.Unlock()

	var errs []error
	for _, s := range open {
		errs = append(errs, s.s.Close())
	}
	return errors.Join(errs...)
}

func (ix *Index) forget(s *Searcher) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	delete(ix.searchers, s)
}

// Searcher queries one manifest snapshot.
type Searcher struct {
	s  *engine.Searcher
	ix *Index
}

// SearchTopK returns up to k results by descending score, ties broken by
// ascending ID.
func (s *Searcher) SearchTopK(ctx context.Context, query []float32, k int) ([]Result, error) {
	start := time.Now()
	results, err := s.s.SearchTopK(ctx, query, k)
	err = translateError(err)
	s.ix.metrics.RecordSearch(k, s.s.Segments(), time.Since(start), err)
	s.ix.logger.LogSearch(ctx, k, len(results), err)
	return results, err
}

// Manifest returns the snapshot the searcher serves.
func (s *Searcher) Manifest() *Manifest { return s.s.Manifest() }

// Segments returns the number of segments queried.
func (s *Searcher) Segments() int { return s.s.Segments() }

// Close releases the segment handles. It is idempotent.
func (s *Searcher) Close() error {
	s.ix.forget(s)
	return s.s.Close()
}

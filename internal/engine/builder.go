package engine

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/hupe1980/vecshard/distance"
	"github.com/hupe1980/vecshard/internal/backend"
	"github.com/hupe1980/vecshard/internal/layout"
	"github.com/hupe1980/vecshard/internal/manifest"
	"github.com/hupe1980/vecshard/internal/resource"
)

// BuildRequest describes one batch to ingest. Exactly one of EmbeddingPath
// and Buffer is set; either holds Count row-major little-endian float32
// vectors of length Dim.
type BuildRequest struct {
	Variant       string
	EmbeddingPath string
	Buffer        []byte
	Dim           int
	Count         int
	// Timestamp names the segment. Zero means now, in milliseconds.
	Timestamp int64
	OwnerID   string
}

// BuildResult describes a published segment.
type BuildResult struct {
	Segment manifest.Segment
	// Trained is set when this build trained the quantizer.
	Trained bool
	// Existing is set when the segment was already in the manifest and the
	// build was skipped.
	Existing bool
	// ZeroRows counts all-zero rows that were left unnormalized.
	ZeroRows   int
	Generation uint64
	Duration   time.Duration
}

// Builder turns batches into published segments.
type Builder struct {
	v *Variant
}

// NewBuilder creates a builder for v.
func NewBuilder(v *Variant) *Builder {
	return &Builder{v: v}
}

func (b *Builder) validate(req *BuildRequest) error {
	cfg := b.v.cfg
	if req.Variant != "" && req.Variant != cfg.Variant {
		return invalid("variant", "request for %q sent to variant %q", req.Variant, cfg.Variant)
	}
	if req.Dim != cfg.Dim {
		return invalid("dim", "request dim %d, variant dim %d", req.Dim, cfg.Dim)
	}
	if req.Count <= 0 {
		return invalid("count", "must be positive, got %d", req.Count)
	}
	if (req.EmbeddingPath == "") == (req.Buffer == nil) {
		return invalid("buffer", "exactly one of embedding path and buffer must be set")
	}
	if req.Timestamp < 0 {
		return invalid("timestamp", "must not be negative, got %d", req.Timestamp)
	}
	return nil
}

// Build ingests one batch. It is idempotent: a batch whose segment name is
// already listed in the manifest is not built again. Failures before
// publication leave only staging files; a failure between publication and
// the manifest update leaves an orphan that Reconcile can register.
func (b *Builder) Build(ctx context.Context, req BuildRequest) (res BuildResult, err error) {
	start := time.Now()
	v := b.v
	logger := v.logger.With("owner", req.OwnerID, "count", req.Count)

	if err := b.validate(&req); err != nil {
		return res, err
	}
	if err := v.requireBackend(); err != nil {
		logger.WarnContext(ctx, "build skipped: backend unavailable", "authoritative", false, "error", err)
		return res, err
	}
	if req.Timestamp == 0 {
		req.Timestamp = v.now().UnixMilli()
	}
	names := v.layout.Names(layout.Unit{Kind: layout.KindSegment, TS: req.Timestamp, Count: req.Count})

	if m, err := v.store.Load(); err == nil {
		if err := v.checkManifest(m); err != nil {
			return res, err
		}
		if i, ok := m.Find(names.Index); ok {
			seg := m.Segments[i]
			if err := v.checkOwner(seg, req.OwnerID); err != nil {
				return res, err
			}
			logger.InfoContext(ctx, "segment already published", "file", names.Index)
			return BuildResult{Segment: seg, Existing: true, Generation: m.Generation}, nil
		}
	} else if !errors.Is(err, manifest.ErrNotFound) {
		return res, ioErr("load manifest", v.store.Path(), err)
	}

	if err := v.res.AcquireBuild(ctx); err != nil {
		return res, err
	}
	defer v.res.ReleaseBuild()

	bytes := int64(req.Count) * int64(req.Dim) * 4
	if err := v.res.AcquireMemory(bytes); err != nil {
		return res, fmt.Errorf("reserve %d bytes: %w", bytes, err)
	}
	defer v.res.ReleaseMemory(bytes)

	if err := v.ensureDirs(); err != nil {
		return res, err
	}

	var buf *rowBuffer
	if req.EmbeddingPath != "" {
		buf, err = openRows(req.EmbeddingPath, req.Dim, req.Count)
	} else {
		buf, err = rowsFromBytes(req.Buffer, req.Dim, req.Count)
	}
	if err != nil {
		return res, err
	}
	defer func() { _ = buf.Close() }()
	rows := buf.rows

	if v.cfg.Metric.Normalizes() {
		res.ZeroRows = distance.NormalizeRows(rows, req.Dim)
	}
	if err := ctx.Err(); err != nil {
		return res, err
	}

	prepared, err := v.prepareIndex(ctx, rows)
	if err != nil {
		return res, err
	}
	idx := backend.NewGuard(prepared.idx)
	defer func() { _ = idx.Release() }()

	ids := GenerateIDs(req.OwnerID, req.Count, v.cfg.IDHashSalt)
	if err := idx.AddWithIDs(rows, ids); err != nil {
		if errors.Is(err, backend.ErrNotTrained) {
			return res, fmt.Errorf("%w: %w", ErrTrainingRequired, err)
		}
		return res, fmt.Errorf("add vectors: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return res, err
	}

	u := unit{kind: layout.KindSegment, names: names, ids: ids, rows: rows}
	st, err := v.stage(ctx, idx, u)
	if err != nil {
		return res, err
	}
	if err := v.publish(st, layout.KindSegment); err != nil {
		return res, err
	}

	seg := v.segmentFor(u, req.Timestamp, 0, req.OwnerID)
	requiresTraining := v.cfg.Index.RequiresTraining()
	m, err := v.store.Update(ctx, func(cur *manifest.Manifest) (*manifest.Manifest, error) {
		if cur == nil {
			cur = manifest.New(v.cfg, v.backend.Name())
		} else if err := v.checkManifest(cur); err != nil {
			return nil, err
		}
		if i, ok := cur.Find(seg.File); ok {
			return nil, v.checkOwner(cur.Segments[i], req.OwnerID)
		}
		cur.Append(seg)
		if requiresTraining {
			cur.MarkTrained(prepared.info)
		}
		return cur, nil
	})
	if err != nil {
		logger.ErrorContext(ctx, "manifest update failed, segment left for reconcile", "file", seg.File, "error", err)
		if errors.Is(err, ErrConfigMismatch) || errors.Is(err, ErrSegmentConflict) {
			return res, err
		}
		return res, ioErr("update manifest", v.store.Path(), err)
	}

	v.publishFiles(ctx, v.segmentFiles(seg))

	res.Segment = seg
	res.Trained = prepared.trained
	res.Generation = m.Generation
	res.Duration = time.Since(start)
	logger.InfoContext(ctx, "segment published",
		"file", seg.File,
		"trained", res.Trained,
		"zero_rows", res.ZeroRows,
		"generation", m.Generation,
		"duration", res.Duration,
	)
	return res, nil
}

// checkOwner reports whether seg holds the batch of owner. Segments
// registered by Reconcile carry no owner, so their IDs sidecar decides.
func (v *Variant) checkOwner(seg manifest.Segment, owner string) error {
	if seg.Owner == owner {
		return nil
	}
	if seg.Owner == "" {
		path := v.layout.Published(unitKind(seg), seg.IDs)
		ids, err := ReadIDsFile(v.fsys, path)
		if err != nil {
			return ioErr("read ids", path, err)
		}
		if slices.Equal(ids, GenerateIDs(owner, seg.Count, v.cfg.IDHashSalt)) {
			return nil
		}
	}
	return fmt.Errorf("%w: %s holds another batch than owner %q", ErrSegmentConflict, seg.File, owner)
}

// IsRetryable reports whether a build or compaction failure may succeed
// when repeated: IO failures, an unavailable backend and exhausted
// resources are transient, while invalid requests and config conflicts
// are not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var ve *ValidationError
	switch {
	case errors.As(err, &ve),
		errors.Is(err, ErrConfigMismatch),
		errors.Is(err, ErrMissingManifest),
		errors.Is(err, ErrTrainingRequired),
		errors.Is(err, ErrCompactionUnsupported),
		errors.Is(err, ErrSegmentConflict),
		errors.Is(err, context.Canceled):
		return false
	}
	var ioe *IOError
	return errors.As(err, &ioe) ||
		errors.Is(err, ErrBackendUnavailable) ||
		errors.Is(err, ErrCompactionRunning) ||
		errors.Is(err, resource.ErrMemoryLimitExceeded) ||
		errors.Is(err, context.DeadlineExceeded)
}

package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"slices"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/vecshard/distance"
	"github.com/hupe1980/vecshard/internal/backend"
	"github.com/hupe1980/vecshard/internal/manifest"
	"github.com/hupe1980/vecshard/internal/searcher"
	"github.com/hupe1980/vecshard/model"
)

type shard struct {
	seg manifest.Segment
	idx *backend.Guard
}

// Searcher queries every segment of one manifest snapshot. It never sees
// segments published after it was opened; reopen it to pick them up.
type Searcher struct {
	v        *Variant
	manifest *manifest.Manifest
	shards   []shard

	mu     sync.RWMutex
	closed bool
}

// OpenSearcher loads the manifest of v and opens all of its segments. It
// fails with ErrMissingManifest when the variant has no manifest. If any
// segment fails to open, the ones already opened are released.
func OpenSearcher(ctx context.Context, v *Variant) (_ *Searcher, err error) {
	if err := v.requireBackend(); err != nil {
		return nil, err
	}
	m, err := v.store.Load()
	if errors.Is(err, manifest.ErrNotFound) {
		return nil, fmt.Errorf("%w %q", ErrMissingManifest, v.cfg.Variant)
	}
	if err != nil {
		return nil, ioErr("load manifest", v.store.Path(), err)
	}
	if err := v.checkManifest(m); err != nil {
		return nil, err
	}

	s := &Searcher{v: v, manifest: m, shards: make([]shard, 0, len(m.Segments))}
	defer func() {
		if err != nil {
			_ = s.release()
		}
	}()

	params := backend.ParamsFor(v.cfg.Index)
	for _, seg := range m.Segments {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		sh, err := v.openShard(seg, params)
		if err != nil {
			return nil, err
		}
		s.shards = append(s.shards, sh)
	}

	v.logger.DebugContext(ctx, "searcher opened", "segments", len(s.shards), "generation", m.Generation)
	return s, nil
}

func (v *Variant) openShard(seg manifest.Segment, params backend.SearchParams) (shard, error) {
	kind := unitKind(seg)
	idsPath := v.layout.Published(kind, seg.IDs)
	ids, err := ReadIDsFile(v.fsys, idsPath)
	if err != nil {
		return shard{}, ioErr("read ids", idsPath, err)
	}
	if len(ids) != seg.Count {
		return shard{}, ioErr("read ids", idsPath, fmt.Errorf("%w: %d ids, manifest lists %d", manifest.ErrCorrupt, len(ids), seg.Count))
	}

	path := v.layout.Published(kind, seg.File)
	raw, err := v.backend.ReadFile(path)
	if err != nil {
		return shard{}, ioErr("open segment", path, err)
	}
	idx := backend.NewGuard(raw)
	if idx.Count() != seg.Count {
		_ = idx.Release()
		return shard{}, ioErr("open segment", path, fmt.Errorf("%w: index holds %d vectors, manifest lists %d", manifest.ErrCorrupt, idx.Count(), seg.Count))
	}
	if err := idx.SetSearchParams(params); err != nil {
		_ = idx.Release()
		return shard{}, fmt.Errorf("search params %s: %w", path, err)
	}
	return shard{seg: seg, idx: idx}, nil
}

// Manifest returns the snapshot the searcher serves.
func (s *Searcher) Manifest() *manifest.Manifest { return s.manifest.Clone() }

// Segments returns the number of open segments.
func (s *Searcher) Segments() int { return len(s.shards) }

// SearchTopK returns up to k results over all segments, by descending
// score with ties broken by ascending ID. The query is not modified.
func (s *Searcher) SearchTopK(ctx context.Context, query []float32, k int) ([]model.Result, error) {
	cfg := s.v.cfg
	if k <= 0 {
		return nil, invalid("k", "must be positive, got %d", k)
	}
	if len(query) != cfg.Dim {
		return nil, invalid("query", "dimension %d, want %d", len(query), cfg.Dim)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	q := slices.Clone(query)
	if cfg.Metric.Normalizes() {
		distance.NormalizeL2InPlace(q)
	}

	type hits struct {
		distances []float32
		labels    []int64
	}
	perShard := make([]hits, len(s.shards))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, sh := range s.shards {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			d, l, err := sh.idx.Search(q, k)
			if err != nil {
				return fmt.Errorf("search %s: %w", sh.seg.File, err)
			}
			perShard[i] = hits{distances: d, labels: l}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Merge in manifest order so the result is deterministic per snapshot.
	top := searcher.NewTopK(k)
	for _, h := range perShard {
		for j, label := range h.labels {
			if label < 0 {
				continue
			}
			top.Offer(model.Result{ID: model.VectorID(label), Score: backend.Score(cfg.Metric, h.distances[j])})
		}
	}
	return top.Results(), nil
}

// Close releases every segment handle. It is idempotent.
func (s *Searcher) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.release()
}

func (s *Searcher) release() error {
	var errs []error
	for _, sh := range s.shards {
		errs = append(errs, sh.idx.Release())
	}
	s.shards = nil
	return errors.Join(errs...)
}

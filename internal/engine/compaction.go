package engine

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/RoaringBitmap/roaring/v2/roaring64"

	"github.com/hupe1980/vecshard/internal/backend"
	"github.com/hupe1980/vecshard/internal/fs"
	"github.com/hupe1980/vecshard/internal/layout"
	"github.com/hupe1980/vecshard/internal/manifest"
	"github.com/hupe1980/vecshard/internal/retention"
)

// CompactionState is the planner state.
type CompactionState int32

const (
	CompactionStateIdle CompactionState = iota
	CompactionStateTriggered
	CompactionStateRebuilding
)

func (s CompactionState) String() string {
	switch s {
	case CompactionStateIdle:
		return "idle"
	case CompactionStateTriggered:
		return "triggered"
	case CompactionStateRebuilding:
		return "rebuilding"
	default:
		return fmt.Sprintf("CompactionState(%d)", int32(s))
	}
}

// CompactionStatus is the outcome of a run.
type CompactionStatus int

const (
	// CompactionSkipped means compaction is disabled for the variant.
	CompactionSkipped CompactionStatus = iota
	// CompactionIdle means the policy found nothing to merge.
	CompactionIdle
	// CompactionCompacted means segments were merged into a shard.
	CompactionCompacted
)

func (s CompactionStatus) String() string {
	switch s {
	case CompactionSkipped:
		return "skipped"
	case CompactionIdle:
		return "idle"
	case CompactionCompacted:
		return "compacted"
	default:
		return fmt.Sprintf("CompactionStatus(%d)", int(s))
	}
}

// CompactionResult describes a run.
type CompactionResult struct {
	Status CompactionStatus
	// Merged lists the replaced segments, in manifest order.
	Merged []manifest.Segment
	Shard  manifest.Segment
	// Duplicates counts merged rows whose ID another merged row also has.
	Duplicates int
	Generation uint64
	Duration   time.Duration
}

// Compactor merges segments of a variant into shards. Merging needs the
// raw rows, which only retention files keep; an index cannot hand its
// vectors back.
type Compactor struct {
	v       *Variant
	policy  CompactionPolicy
	state   atomic.Int32
	running atomic.Bool
}

// NewCompactor creates a compactor. A nil policy selects a
// BoundedSizeTieredPolicy from the variant config.
func NewCompactor(v *Variant, policy CompactionPolicy) *Compactor {
	if policy == nil {
		policy = &BoundedSizeTieredPolicy{
			Threshold:  v.cfg.Compaction.MinSegments,
			TargetSize: v.cfg.SegmentTargetSize,
		}
	}
	return &Compactor{v: v, policy: policy}
}

// State returns the current planner state.
func (c *Compactor) State() CompactionState {
	return CompactionState(c.state.Load())
}

func (c *Compactor) setState(s CompactionState) { c.state.Store(int32(s)) }

// Run performs one planning and merge cycle.
func (c *Compactor) Run(ctx context.Context) (res CompactionResult, err error) {
	start := time.Now()
	v := c.v
	if !v.cfg.Compaction.Enabled {
		return CompactionResult{Status: CompactionSkipped}, nil
	}
	if !c.running.CompareAndSwap(false, true) {
		return res, ErrCompactionRunning
	}
	defer c.running.Store(false)
	defer c.setState(CompactionStateIdle)

	m, err := v.store.Load()
	if errors.Is(err, manifest.ErrNotFound) {
		return CompactionResult{Status: CompactionIdle}, nil
	}
	if err != nil {
		return res, ioErr("load manifest", v.store.Path(), err)
	}
	if err := v.checkManifest(m); err != nil {
		return res, err
	}

	stats := make([]SegmentStats, len(m.Segments))
	for i, s := range m.Segments {
		stats[i] = SegmentStats{File: s.File, Count: s.Count, Level: s.Level, TS: s.TS}
	}
	task := c.policy.Pick(stats)
	if task == nil || len(task.Files) < 2 {
		return CompactionResult{Status: CompactionIdle, Generation: m.Generation}, nil
	}
	c.setState(CompactionStateTriggered)

	picked := make([]manifest.Segment, 0, len(task.Files))
	for _, f := range task.Files {
		i, ok := m.Find(f)
		if !ok {
			return res, fmt.Errorf("compaction picked unknown segment %s", f)
		}
		seg := m.Segments[i]
		if seg.Vectors == "" {
			return res, fmt.Errorf("%w: %s", ErrCompactionUnsupported, seg.File)
		}
		picked = append(picked, seg)
	}
	if err := v.requireBackend(); err != nil {
		return res, err
	}

	c.setState(CompactionStateRebuilding)
	if err := v.res.AcquireBuild(ctx); err != nil {
		return res, err
	}
	defer v.res.ReleaseBuild()

	ids, rows, dups, err := c.collect(ctx, picked)
	if err != nil {
		return res, err
	}
	if len(ids) == 0 {
		return res, fmt.Errorf("compaction of %d segments produced no rows", len(picked))
	}

	bytes := int64(len(rows)) * 4
	if err := v.res.AcquireMemory(bytes); err != nil {
		return res, fmt.Errorf("reserve %d bytes: %w", bytes, err)
	}
	defer v.res.ReleaseMemory(bytes)

	if err := v.ensureDirs(); err != nil {
		return res, err
	}
	prepared, err := v.prepareIndex(ctx, rows)
	if err != nil {
		return res, err
	}
	idx := backend.NewGuard(prepared.idx)
	defer func() { _ = idx.Release() }()

	if err := idx.AddWithIDs(rows, ids); err != nil {
		if errors.Is(err, backend.ErrNotTrained) {
			return res, fmt.Errorf("%w: %w", ErrTrainingRequired, err)
		}
		return res, fmt.Errorf("add vectors: %w", err)
	}

	ts := v.now().UnixMilli()
	names := v.layout.Names(layout.Unit{Kind: layout.KindShard, Level: task.TargetLevel, TS: ts, Count: len(ids)})
	u := unit{kind: layout.KindShard, names: names, ids: ids, rows: rows}
	st, err := v.stage(ctx, idx, u)
	if err != nil {
		return res, err
	}
	if err := v.publish(st, layout.KindShard); err != nil {
		return res, err
	}

	shardSeg := v.segmentFor(u, ts, task.TargetLevel, "")
	files := make([]string, len(picked))
	for i, s := range picked {
		files[i] = s.File
	}

	var removed []manifest.Segment
	m, err = v.store.Update(ctx, func(cur *manifest.Manifest) (*manifest.Manifest, error) {
		if cur == nil {
			return nil, fmt.Errorf("manifest vanished during compaction")
		}
		for _, f := range files {
			if _, ok := cur.Find(f); !ok {
				return nil, fmt.Errorf("segment %s left the manifest during compaction", f)
			}
		}
		removed = cur.Replace(files, shardSeg)
		if v.cfg.Index.RequiresTraining() {
			cur.MarkTrained(prepared.info)
		}
		return cur, nil
	})
	if err != nil {
		v.logger.ErrorContext(ctx, "compaction commit failed, shard left for reconcile", "file", shardSeg.File, "error", err)
		return res, ioErr("update manifest", v.store.Path(), err)
	}

	var retired []string
	for _, seg := range removed {
		for _, path := range v.segmentFiles(seg) {
			if err := fs.RemoveIfExists(v.fsys, path); err != nil {
				v.logger.WarnContext(ctx, "remove compacted file", "path", path, "error", err)
			}
			retired = append(retired, path)
		}
	}
	v.publishFiles(ctx, v.segmentFiles(shardSeg))
	v.retireFiles(ctx, retired)

	res = CompactionResult{
		Status:     CompactionCompacted,
		Merged:     removed,
		Shard:      shardSeg,
		Duplicates: dups,
		Generation: m.Generation,
		Duration:   time.Since(start),
	}
	v.logger.InfoContext(ctx, "segments compacted",
		"merged", len(removed),
		"shard", shardSeg.File,
		"vectors", shardSeg.Count,
		"duplicates", dups,
		"duration", res.Duration,
	)
	return res, nil
}

// collect reads the retained rows of segs in order. Every row is kept, as
// batches of one owner share IDs; rows whose ID was already collected are
// only counted.
func (c *Compactor) collect(ctx context.Context, segs []manifest.Segment) ([]int64, []float32, int, error) {
	v := c.v
	seen := roaring64.New()
	var (
		ids  []int64
		rows []float32
		dups int
	)
	for _, seg := range segs {
		if err := ctx.Err(); err != nil {
			return nil, nil, 0, err
		}
		path := v.layout.Published(unitKind(seg), seg.Vectors)
		set, err := retention.ReadFile(v.fsys, path)
		if err != nil {
			return nil, nil, 0, ioErr("read retention", path, err)
		}
		if set.Dim != v.cfg.Dim || set.Count() != seg.Count {
			return nil, nil, 0, ioErr("read retention", path,
				fmt.Errorf("%w: %d rows of dim %d, manifest lists %d of dim %d", manifest.ErrCorrupt, set.Count(), set.Dim, seg.Count, v.cfg.Dim))
		}
		for i, id := range set.IDs {
			if !seen.CheckedAdd(uint64(id)) {
				dups++
			}
			ids = append(ids, id)
			rows = append(rows, set.Row(i)...)
		}
	}
	return ids, rows, dups, nil
}

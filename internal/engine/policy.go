package engine

import (
	"slices"
)

// SegmentStats holds metadata about a segment needed for compaction decisions.
type SegmentStats struct {
	File  string
	Count int
	Level int
	TS    int64
}

// CompactionTask describes a compaction unit of work.
type CompactionTask struct {
	Files       []string
	TargetLevel int
}

// CompactionPolicy determines which segments should be compacted.
type CompactionPolicy interface {
	// Pick selects segments to compact.
	// Returns a task or nil if no compaction is needed.
	Pick(segments []SegmentStats) *CompactionTask
}

// TieredCompactionPolicy merges every segment once there are at least
// Threshold of them.
type TieredCompactionPolicy struct {
	Threshold int
}

func (p *TieredCompactionPolicy) Pick(segments []SegmentStats) *CompactionTask {
	if len(segments) < max(p.Threshold, 2) {
		return nil
	}
	files := make([]string, len(segments))
	level := 0
	for i, s := range segments {
		files[i] = s.File
		level = max(level, s.Level)
	}
	return &CompactionTask{Files: files, TargetLevel: level + 1}
}

// BoundedSizeTieredPolicy implements a size-tiered compaction strategy with explicit bounds.
//   - Segments are bucketed by vector count relative to TargetSize:
//     [0, 4x), [4x, 16x), [16x, 64x), [64x, ...)
//   - Compaction starts once the variant holds Threshold segments
//   - Only segments of one bucket are merged, oldest first
//   - A task never exceeds MaxVectors (0 means unbounded)
type BoundedSizeTieredPolicy struct {
	Threshold  int
	TargetSize int
	MaxVectors int
}

func (p *BoundedSizeTieredPolicy) Pick(segments []SegmentStats) *CompactionTask {
	if len(segments) < max(p.Threshold, 2) {
		return nil
	}

	buckets := make(map[int][]SegmentStats)
	for _, s := range segments {
		b := p.bucket(s.Count)
		buckets[b] = append(buckets[b], s)
	}

	for b := 0; b < 4; b++ {
		segs := buckets[b]
		if len(segs) < 2 {
			continue
		}
		slices.SortStableFunc(segs, func(a, b SegmentStats) int {
			switch {
			case a.TS < b.TS:
				return -1
			case a.TS > b.TS:
				return 1
			}
			return 0
		})

		var (
			files []string
			total int
			level int
		)
		for _, s := range segs {
			if p.MaxVectors > 0 && total+s.Count > p.MaxVectors {
				break
			}
			files = append(files, s.File)
			total += s.Count
			level = max(level, s.Level)
		}
		if len(files) >= 2 {
			return &CompactionTask{Files: files, TargetLevel: level + 1}
		}
	}
	return nil
}

func (p *BoundedSizeTieredPolicy) bucket(count int) int {
	target := max(p.TargetSize, 1)
	switch {
	case count < 4*target:
		return 0
	case count < 16*target:
		return 1
	case count < 64*target:
		return 2
	}
	return 3
}

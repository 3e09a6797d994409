package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/RoaringBitmap/roaring/v2/roaring64"

	"github.com/hupe1980/vecshard/internal/fs"
	"github.com/hupe1980/vecshard/internal/manifest"
)

// SegmentReport is the health of one manifest entry.
type SegmentReport struct {
	Segment manifest.Segment
	// Missing lists referenced files that do not exist.
	Missing []string
	// IDs is the number of IDs in the sidecar, -1 if it could not be read.
	IDs int
}

// Healthy reports whether all files exist and the sidecar matches Count.
func (r SegmentReport) Healthy() bool {
	return len(r.Missing) == 0 && r.IDs == r.Segment.Count
}

// InspectReport summarizes a variant.
type InspectReport struct {
	Manifest *manifest.Manifest
	Segments []SegmentReport
	// Vectors sums the segment counts.
	Vectors int
	// UniqueIDs counts distinct IDs across readable sidecars.
	UniqueIDs uint64
	// Duplicates counts IDs served by more than one segment row.
	Duplicates int
}

// Healthy reports whether every segment is healthy.
func (r InspectReport) Healthy() bool {
	for _, s := range r.Segments {
		if !s.Healthy() {
			return false
		}
	}
	return true
}

func (r InspectReport) String() string {
	bad := 0
	for _, s := range r.Segments {
		if !s.Healthy() {
			bad++
		}
	}
	return fmt.Sprintf("generation %d, segments: %d (unhealthy %d), vectors: %d, unique ids: %d, duplicates: %d",
		r.Manifest.Generation, len(r.Segments), bad, r.Vectors, r.UniqueIDs, r.Duplicates)
}

// Inspect checks the files behind every manifest entry. It never modifies
// the variant.
func Inspect(ctx context.Context, v *Variant) (InspectReport, error) {
	var report InspectReport
	m, err := v.store.Load()
	if errors.Is(err, manifest.ErrNotFound) {
		return report, fmt.Errorf("%w: %q", ErrMissingManifest, v.cfg.Variant)
	}
	if err != nil {
		return report, ioErr("load manifest", v.store.Path(), err)
	}
	report.Manifest = m

	seen := roaring64.New()
	for _, seg := range m.Segments {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		kind := unitKind(seg)
		sr := SegmentReport{Segment: seg, IDs: -1}
		for _, name := range []string{seg.File, seg.IDs, seg.Vectors} {
			if name == "" {
				continue
			}
			path := v.layout.Published(kind, name)
			if ok, _ := fs.Exists(v.fsys, path); !ok {
				sr.Missing = append(sr.Missing, path)
			}
		}
		if ids, err := ReadIDsFile(v.fsys, v.layout.Published(kind, seg.IDs)); err == nil {
			sr.IDs = len(ids)
			for _, id := range ids {
				if !seen.CheckedAdd(uint64(id)) {
					report.Duplicates++
				}
			}
		}
		report.Vectors += seg.Count
		report.Segments = append(report.Segments, sr)
	}
	report.UniqueIDs = seen.GetCardinality()
	return report, nil
}

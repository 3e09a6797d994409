package engine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/RoaringBitmap/roaring/v2/roaring64"

	"github.com/hupe1980/vecshard/internal/fs"
	"github.com/hupe1980/vecshard/internal/layout"
	"github.com/hupe1980/vecshard/internal/manifest"
)

// ReconcileOptions controls a reconciliation pass.
type ReconcileOptions struct {
	// RemoveOrphans deletes published files that cannot be registered.
	RemoveOrphans bool
	// StagingMaxAge keeps staging files younger than this, so a pass does
	// not race builds that are still staging. Zero clears everything.
	StagingMaxAge time.Duration
	// DryRun reports without changing anything.
	DryRun bool
}

// ReconcileReport lists what a pass found and did.
type ReconcileReport struct {
	StagingCleared []string
	Registered     []manifest.Segment
	Removed        []string
	Generation     uint64
}

type orphan struct {
	layout.Unit
	name string
}

// Reconcile repairs the variant after interrupted builds: it clears the
// staging directory and looks for published index files the manifest does
// not list. An orphan whose IDs sidecar is intact and whose IDs are not
// already served by the manifest is appended to it, oldest first; the rest
// are removed when opts.RemoveOrphans is set.
func Reconcile(ctx context.Context, v *Variant, opts ReconcileOptions) (ReconcileReport, error) {
	var report ReconcileReport
	if err := v.ensureDirs(); err != nil {
		return report, err
	}

	cleared, err := v.clearStaging(opts)
	if err != nil {
		return report, err
	}
	report.StagingCleared = cleared

	m, err := v.store.Load()
	switch {
	case errors.Is(err, manifest.ErrNotFound):
		m = nil
	case err != nil:
		return report, ioErr("load manifest", v.store.Path(), err)
	default:
		if err := v.checkManifest(m); err != nil {
			return report, err
		}
		report.Generation = m.Generation
	}

	listed := map[string]struct{}{}
	served := roaring64.New()
	if m != nil {
		for _, seg := range m.Segments {
			for _, name := range []string{seg.File, seg.IDs, seg.Vectors} {
				if name != "" {
					listed[name] = struct{}{}
				}
			}
			ids, err := ReadIDsFile(v.fsys, v.layout.Published(unitKind(seg), seg.IDs))
			if err != nil {
				return report, ioErr("read ids", seg.IDs, err)
			}
			for _, id := range ids {
				served.Add(uint64(id))
			}
		}
	}

	orphans, strays, err := v.scanPublished(listed)
	if err != nil {
		return report, err
	}

	var register []manifest.Segment
	var remove []string
	for _, o := range orphans {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		seg, ok := v.inspectOrphan(o, served)
		if ok {
			register = append(register, seg)
			continue
		}
		remove = append(remove, v.layout.Published(o.Kind, o.name))
		names := v.layout.Names(o.Unit)
		for _, side := range []string{names.IDs, names.Vectors} {
			if exists, _ := fs.Exists(v.fsys, v.layout.Published(o.Kind, side)); exists {
				remove = append(remove, v.layout.Published(o.Kind, side))
			}
		}
	}
	remove = append(remove, strays...)

	if len(register) > 0 && !opts.DryRun {
		next, err := v.store.Update(ctx, func(cur *manifest.Manifest) (*manifest.Manifest, error) {
			if cur == nil {
				cur = manifest.New(v.cfg, v.backend.Name())
			}
			for _, seg := range register {
				if _, ok := cur.Find(seg.File); !ok {
					cur.Append(seg)
				}
			}
			return cur, nil
		})
		if err != nil {
			return report, ioErr("update manifest", v.store.Path(), err)
		}
		report.Generation = next.Generation
		var files []string
		for _, seg := range register {
			files = append(files, v.segmentFiles(seg)...)
		}
		v.publishFiles(ctx, files)
	}
	report.Registered = register

	if opts.RemoveOrphans {
		for _, path := range remove {
			if !opts.DryRun {
				if err := fs.RemoveIfExists(v.fsys, path); err != nil {
					return report, ioErr("remove", path, err)
				}
			}
			report.Removed = append(report.Removed, path)
		}
	}

	v.logger.InfoContext(ctx, "reconcile finished",
		"staging_cleared", len(report.StagingCleared),
		"registered", len(report.Registered),
		"removed", len(report.Removed),
		"dry_run", opts.DryRun,
	)
	return report, nil
}

func (v *Variant) clearStaging(opts ReconcileOptions) ([]string, error) {
	dir := v.layout.StagingDir()
	entries, err := v.fsys.ReadDir(dir)
	if err != nil {
		return nil, ioErr("list", dir, err)
	}
	var cleared []string
	cutoff := v.now().Add(-opts.StagingMaxAge)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if opts.StagingMaxAge > 0 {
			info, err := e.Info()
			if err != nil || info.ModTime().After(cutoff) {
				continue
			}
		}
		path := filepath.Join(dir, e.Name())
		if !opts.DryRun {
			if err := fs.RemoveIfExists(v.fsys, path); err != nil {
				return cleared, ioErr("remove", path, err)
			}
		}
		cleared = append(cleared, path)
	}
	return cleared, nil
}

// scanPublished returns unlisted index files, oldest first, and unlisted
// sidecars whose index file does not exist.
func (v *Variant) scanPublished(listed map[string]struct{}) ([]orphan, []string, error) {
	var orphans []orphan
	var strays []string
	for _, kind := range []layout.Kind{layout.KindSegment, layout.KindShard} {
		dir := v.layout.Published(kind, "")
		entries, err := v.fsys.ReadDir(dir)
		if err != nil {
			return nil, nil, ioErr("list", dir, err)
		}
		present := make(map[string]struct{}, len(entries))
		for _, e := range entries {
			present[e.Name()] = struct{}{}
		}
		for _, e := range entries {
			name := e.Name()
			if _, ok := listed[name]; ok || e.IsDir() {
				continue
			}
			if u, ok := v.layout.ParseName(name); ok && u.Kind == kind {
				orphans = append(orphans, orphan{Unit: u, name: name})
				continue
			}
			stem, isSide := strings.CutSuffix(name, layout.IDsSuffix)
			if !isSide {
				stem, isSide = strings.CutSuffix(name, layout.VectorsSuffix)
			}
			if !isSide {
				continue
			}
			if _, ok := present[stem+"."+v.layout.Ext()]; !ok {
				strays = append(strays, filepath.Join(dir, name))
			}
		}
	}
	slices.SortStableFunc(orphans, func(a, b orphan) int {
		switch {
		case a.TS < b.TS:
			return -1
		case a.TS > b.TS:
			return 1
		}
		return strings.Compare(a.name, b.name)
	})
	return orphans, strays, nil
}

// inspectOrphan decides whether o can be registered.
func (v *Variant) inspectOrphan(o orphan, served *roaring64.Bitmap) (manifest.Segment, bool) {
	names := v.layout.Names(o.Unit)
	ids, err := ReadIDsFile(v.fsys, v.layout.Published(o.Kind, names.IDs))
	if err != nil || len(ids) != o.Count {
		return manifest.Segment{}, false
	}

	// Leftovers of a committed compaction hold IDs the manifest already serves.
	fresh := roaring64.New()
	for _, id := range ids {
		fresh.Add(uint64(id))
	}
	if fresh.AndCardinality(served) == fresh.GetCardinality() {
		return manifest.Segment{}, false
	}

	if v.backend.Available() {
		idx, err := v.backend.ReadFile(v.layout.Published(o.Kind, o.name))
		if err != nil {
			return manifest.Segment{}, false
		}
		n := idx.Count()
		_ = idx.Release()
		if n != o.Count {
			return manifest.Segment{}, false
		}
	}

	seg := manifest.Segment{File: o.name, IDs: names.IDs, Count: o.Count, TS: o.TS, Level: o.Level}
	if ok, _ := fs.Exists(v.fsys, v.layout.Published(o.Kind, names.Vectors)); ok {
		seg.Vectors = names.Vectors
	}
	for _, id := range ids {
		served.Add(uint64(id))
	}
	return seg, true
}

func (r ReconcileReport) String() string {
	return fmt.Sprintf("staging cleared: %d, registered: %d, removed: %d", len(r.StagingCleared), len(r.Registered), len(r.Removed))
}

package engine

import (
	"context"
	"io"

	"github.com/hupe1980/vecshard/internal/backend"
	"github.com/hupe1980/vecshard/internal/fs"
	"github.com/hupe1980/vecshard/internal/layout"
	"github.com/hupe1980/vecshard/internal/manifest"
	"github.com/hupe1980/vecshard/internal/retention"
)

// unit is one segment or shard on its way to publication.
type unit struct {
	kind  layout.Kind
	names layout.Names
	ids   []int64
	rows  []float32 // normalized rows, kept when retention is on
}

type stagedFile struct {
	tmp   string
	final string
}

// staging tracks staged files and removes whatever was not published.
type staging struct {
	fsys  fs.FileSystem
	files []stagedFile
	done  int
}

func (s *staging) add(tmp, final string) {
	s.files = append(s.files, stagedFile{tmp: tmp, final: final})
}

func (s *staging) cleanup() {
	for _, f := range s.files[s.done:] {
		_ = s.fsys.Remove(f.tmp)
	}
}

// stage writes the retention file, the IDs sidecar and the index into the
// staging directory, each fsynced. The returned staging lists them in
// publication order: index file last.
func (v *Variant) stage(ctx context.Context, idx backend.Index, u unit) (*staging, error) {
	st := &staging{fsys: v.fsys}
	dst := func(name string) string { return v.layout.Published(u.kind, name) }

	if v.retains() {
		tmp := v.layout.Staged(u.names.Vectors)
		st.add(tmp, dst(u.names.Vectors))
		err := fs.WriteSynced(v.fsys, tmp, func(w io.Writer) error {
			return retention.Write(v.res.Writer(ctx, w), v.cfg.Dim, u.ids, u.rows)
		})
		if err != nil {
			st.cleanup()
			return nil, ioErr("write retention", tmp, err)
		}
	}

	tmp := v.layout.Staged(u.names.IDs)
	st.add(tmp, dst(u.names.IDs))
	if err := fs.WriteSynced(v.fsys, tmp, func(w io.Writer) error {
		return writeIDs(v.res.Writer(ctx, w), u.ids)
	}); err != nil {
		st.cleanup()
		return nil, ioErr("write ids", tmp, err)
	}

	tmp = v.layout.Staged(u.names.Index)
	st.add(tmp, dst(u.names.Index))
	if err := v.writeIndexSynced(ctx, idx, tmp); err != nil {
		st.cleanup()
		return nil, err
	}
	return st, nil
}

// publish renames the staged files into place in order and fsyncs the
// target directory. Readers only follow the manifest, and the index file
// is renamed after its sidecars, so a listed index never lacks its IDs.
func (v *Variant) publish(st *staging, kind layout.Kind) error {
	for i, f := range st.files {
		if err := v.fsys.Rename(f.tmp, f.final); err != nil {
			st.done = i
			st.cleanup()
			return ioErr("publish", f.final, err)
		}
	}
	st.done = len(st.files)
	dir := v.layout.Published(kind, "")
	if err := fs.SyncDir(v.fsys, dir); err != nil {
		return ioErr("sync", dir, err)
	}
	return nil
}

// segmentFor returns the manifest entry of a staged unit.
func (v *Variant) segmentFor(u unit, ts int64, level int, owner string) manifest.Segment {
	seg := manifest.Segment{
		File:  u.names.Index,
		IDs:   u.names.IDs,
		Count: len(u.ids),
		TS:    ts,
		Level: level,
		Owner: owner,
	}
	if v.retains() {
		seg.Vectors = u.names.Vectors
	}
	return seg
}

// segmentFiles returns the published paths of seg.
func (v *Variant) segmentFiles(seg manifest.Segment) []string {
	kind := unitKind(seg)
	files := []string{}
	if seg.Vectors != "" {
		files = append(files, v.layout.Published(kind, seg.Vectors))
	}
	return append(files, v.layout.Published(kind, seg.IDs), v.layout.Published(kind, seg.File))
}

// Package layout resolves the on-disk structure of a variant.
//
//	<root>/<variant>/
//	  MANIFEST.json
//	  .lock
//	  TRAINED.<ext>
//	  .staging/
//	  segments/seg-<ts>-<count>.<ext>|.ids.json|.vecs.zst
//	  shards/shard-L<level>-<ts>-<count>.<ext>|.ids.json|.vecs.zst
//
// Every name is a pure function of the unit's kind, level, timestamp and
// count, so a retried build resolves to the same files.
package layout

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
)

const (
	ManifestName = "MANIFEST.json"
	LockName     = ".lock"
	StagingDir   = ".staging"
	SegmentsDir  = "segments"
	ShardsDir    = "shards"

	// IDsSuffix is appended to a segment stem for its IDs sidecar.
	IDsSuffix = ".ids.json"
	// VectorsSuffix is appended to a segment stem for its retention file.
	VectorsSuffix = ".vecs.zst"
	// TempSuffix marks staging files that have not been published.
	TempSuffix = ".tmp"

	segmentPrefix = "seg"
	shardPrefix   = "shard"
	trainedStem   = "TRAINED"
)

// Kind distinguishes built segments from compacted shards.
type Kind int

const (
	KindSegment Kind = iota
	KindShard
)

// Dir returns the directory name for the kind.
func (k Kind) Dir() string {
	if k == KindShard {
		return ShardsDir
	}
	return SegmentsDir
}

func (k Kind) prefix() string {
	if k == KindShard {
		return shardPrefix
	}
	return segmentPrefix
}

// PathLayout resolves paths for one variant below a root directory.
type PathLayout struct {
	root    string
	variant string
	ext     string
}

// New returns the layout of variant below root. ext is the index file
// extension of the backend, without the leading dot.
func New(root, variant, ext string) PathLayout {
	return PathLayout{root: root, variant: variant, ext: strings.TrimPrefix(ext, ".")}
}

// Variant returns the variant name.
func (l PathLayout) Variant() string { return l.variant }

// Ext returns the index file extension.
func (l PathLayout) Ext() string { return l.ext }

// VariantDir returns <root>/<variant>.
func (l PathLayout) VariantDir() string { return filepath.Join(l.root, l.variant) }

// ManifestPath returns the manifest file path.
func (l PathLayout) ManifestPath() string { return filepath.Join(l.VariantDir(), ManifestName) }

// LockPath returns the advisory lock file path.
func (l PathLayout) LockPath() string { return filepath.Join(l.VariantDir(), LockName) }

// StagingDir returns the staging directory.
func (l PathLayout) StagingDir() string { return filepath.Join(l.VariantDir(), StagingDir) }

// SegmentsDir returns the directory of built segments.
func (l PathLayout) SegmentsDir() string { return filepath.Join(l.VariantDir(), SegmentsDir) }

// ShardsDir returns the directory of compacted shards.
func (l PathLayout) ShardsDir() string { return filepath.Join(l.VariantDir(), ShardsDir) }

// Dirs returns every directory the variant needs.
func (l PathLayout) Dirs() []string {
	return []string{l.VariantDir(), l.StagingDir(), l.SegmentsDir(), l.ShardsDir()}
}

// TrainedPath returns the trained-but-empty template index path.
func (l PathLayout) TrainedPath() string {
	return filepath.Join(l.VariantDir(), trainedStem+"."+l.ext)
}

// Unit identifies a published segment or shard by its name fields.
type Unit struct {
	Kind Kind
	// Level is 0 for segments and 1 or more for shards.
	Level int
	TS    int64
	Count int
}

// Names are the file names of one published unit.
type Names struct {
	Kind    Kind
	Stem    string
	Index   string
	IDs     string
	Vectors string
}

// Names returns the file names of u. Shards below level 1 are named as
// level 1.
func (l PathLayout) Names(u Unit) Names {
	stem := fmt.Sprintf("%s-%d-%d", segmentPrefix, u.TS, u.Count)
	if u.Kind == KindShard {
		stem = fmt.Sprintf("%s-L%d-%d-%d", shardPrefix, max(u.Level, 1), u.TS, u.Count)
	}
	return Names{
		Kind:    u.Kind,
		Stem:    stem,
		Index:   stem + "." + l.ext,
		IDs:     stem + IDsSuffix,
		Vectors: stem + VectorsSuffix,
	}
}

// Published returns the published path of a file name of kind.
func (l PathLayout) Published(kind Kind, name string) string {
	return filepath.Join(l.VariantDir(), kind.Dir(), name)
}

// Staged returns the staging path of a file name.
func (l PathLayout) Staged(name string) string {
	return filepath.Join(l.StagingDir(), name+TempSuffix)
}

// ParseName parses an index file name produced by Names.
func (l PathLayout) ParseName(name string) (Unit, bool) {
	stem, found := strings.CutSuffix(name, "."+l.ext)
	if !found {
		return Unit{}, false
	}
	parts := strings.Split(stem, "-")
	var u Unit
	switch {
	case parts[0] == segmentPrefix && len(parts) == 3:
		u.Kind = KindSegment
		parts = parts[1:]
	case parts[0] == shardPrefix && len(parts) == 4:
		digits, ok := strings.CutPrefix(parts[1], "L")
		if !ok {
			return Unit{}, false
		}
		level, err := strconv.Atoi(digits)
		if err != nil || level < 1 {
			return Unit{}, false
		}
		u.Kind, u.Level = KindShard, level
		parts = parts[2:]
	default:
		return Unit{}, false
	}
	ts, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return Unit{}, false
	}
	count, err := strconv.Atoi(parts[1])
	if err != nil || count < 0 {
		return Unit{}, false
	}
	u.TS, u.Count = ts, count
	return u, true
}

// StemOf strips the index extension from an index file name.
func (l PathLayout) StemOf(name string) string {
	return strings.TrimSuffix(name, "."+l.ext)
}

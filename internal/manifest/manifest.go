package manifest

import (
	"errors"
	"fmt"
	"maps"
	"os"
	"slices"

	json "github.com/goccy/go-json"

	"github.com/hupe1980/vecshard/internal/fs"
	"github.com/hupe1980/vecshard/model"
)

// Manifest describes all published segments of one variant.
type Manifest struct {
	SchemaVersion int             `json:"schemaVersion"`
	Dim           int             `json:"dim"`
	Metric        model.Metric    `json:"metric"`
	IndexType     model.IndexType `json:"indexType"`
	Variant       string          `json:"variant"`
	Params        map[string]int  `json:"params"`
	Segments      []Segment       `json:"segments"`
	Trained       bool            `json:"trained"`
	TrainInfo     string          `json:"trainInfo"`

	// Generation is incremented by every save.
	Generation uint64 `json:"generation,omitempty"`
	// Backend names the index backend that wrote the segment files.
	Backend string `json:"backend,omitempty"`
}

// Segment is one published, immutable index unit.
type Segment struct {
	File  string `json:"file"`
	IDs   string `json:"ids"`
	Count int    `json:"count"`
	TS    int64  `json:"ts"`

	// Vectors names the raw-vector retention file, empty if none was kept.
	Vectors string `json:"vectors,omitempty"`
	// Level is 0 for built segments and 1 or more for compacted shards.
	Level int    `json:"level,omitempty"`
	Owner string `json:"owner,omitempty"`
}

// IsShard reports whether the segment was produced by compaction.
func (s Segment) IsShard() bool { return s.Level > 0 }

// New creates an empty manifest for cfg.
func New(cfg model.IndexConfig, backend string) *Manifest {
	return &Manifest{
		SchemaVersion: cfg.SchemaVersion,
		Dim:           cfg.Dim,
		Metric:        cfg.Metric,
		IndexType:     cfg.IndexType(),
		Variant:       cfg.Variant,
		Params:        cfg.Params(),
		Segments:      []Segment{},
		Backend:       backend,
	}
}

// Clone returns a deep copy.
func (m *Manifest) Clone() *Manifest {
	c := *m
	c.Params = maps.Clone(m.Params)
	c.Segments = slices.Clone(m.Segments)
	return &c
}

// Find returns the index of the segment whose index file is file.
func (m *Manifest) Find(file string) (int, bool) {
	for i, s := range m.Segments {
		if s.File == file {
			return i, true
		}
	}
	return -1, false
}

// Append adds a segment at the end of the list.
func (m *Manifest) Append(s Segment) {
	m.Segments = append(m.Segments, s)
}

// MarkTrained records training. The flag never goes back to false and the
// first training info is kept.
func (m *Manifest) MarkTrained(info string) {
	if m.Trained {
		return
	}
	m.Trained = true
	m.TrainInfo = info
}

// Replace removes the segments named in files and inserts s where the first
// of them was. It returns the removed entries in manifest order.
func (m *Manifest) Replace(files []string, s Segment) []Segment {
	drop := make(map[string]struct{}, len(files))
	for _, f := range files {
		drop[f] = struct{}{}
	}

	var removed []Segment
	out := make([]Segment, 0, len(m.Segments)-len(files)+1)
	inserted := false
	for _, seg := range m.Segments {
		if _, ok := drop[seg.File]; ok {
			removed = append(removed, seg)
			if !inserted {
				out = append(out, s)
				inserted = true
			}
			continue
		}
		out = append(out, seg)
	}
	if !inserted {
		out = append(out, s)
	}
	m.Segments = out
	return removed
}

// TotalVectors returns the number of vectors over all segments.
func (m *Manifest) TotalVectors() int {
	total := 0
	for _, s := range m.Segments {
		total += s.Count
	}
	return total
}

// CheckCompatible verifies that cfg may write to or read from this manifest.
// Dim, metric and index type are fixed once a segment exists.
func (m *Manifest) CheckCompatible(cfg model.IndexConfig) error {
	var errs []error
	if m.Dim != cfg.Dim {
		errs = append(errs, fmt.Errorf("dim %d != %d", cfg.Dim, m.Dim))
	}
	if m.Metric != cfg.Metric {
		errs = append(errs, fmt.Errorf("metric %s != %s", cfg.Metric, m.Metric))
	}
	if m.IndexType != cfg.IndexType() {
		errs = append(errs, fmt.Errorf("index type %s != %s", cfg.IndexType(), m.IndexType))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: variant %q: %w", ErrMismatch, m.Variant, err)
	}
	return nil
}

func (m *Manifest) validate() error {
	if m.SchemaVersion > model.SchemaVersion || m.SchemaVersion <= 0 {
		return fmt.Errorf("%w: schema version %d (supported %d)", ErrIncompatibleVersion, m.SchemaVersion, model.SchemaVersion)
	}
	if m.Dim <= 0 {
		return fmt.Errorf("%w: dim %d", ErrCorrupt, m.Dim)
	}
	seen := make(map[string]struct{}, len(m.Segments))
	for i, s := range m.Segments {
		if s.File == "" || s.IDs == "" || s.Count < 0 {
			return fmt.Errorf("%w: segment %d is incomplete", ErrCorrupt, i)
		}
		if _, dup := seen[s.File]; dup {
			return fmt.Errorf("%w: segment %s listed twice", ErrCorrupt, s.File)
		}
		seen[s.File] = struct{}{}
	}
	return nil
}

// Encode serializes the manifest.
func Encode(m *Manifest) ([]byte, error) {
	return json.MarshalIndent(m, "", "  ")
}

// Decode parses and validates a manifest document.
func Decode(data []byte) (*Manifest, error) {
	m := &Manifest{}
	if err := json.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	if m.Segments == nil {
		m.Segments = []Segment{}
	}
	if m.Params == nil {
		m.Params = map[string]int{}
	}
	if err := m.validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// Load reads the manifest at path. A missing file yields ErrNotFound, which
// is the "no segments yet" state rather than a failure.
func Load(fsys fs.FileSystem, path string) (*Manifest, error) {
	data, err := fs.ReadFile(fsys, path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	return Decode(data)
}

// Save atomically replaces the manifest at path with m.
func Save(fsys fs.FileSystem, path string, m *Manifest) error {
	if err := m.validate(); err != nil {
		return err
	}
	data, err := Encode(m)
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	return fs.WriteFileAtomic(fsys, path, data)
}

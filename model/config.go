package model

import (
	"errors"
	"fmt"
	"maps"
	"strings"
)

const (
	// DefaultVariant is the variant name used when none is configured.
	DefaultVariant = "base"
	// DefaultIDHashSalt seeds vector ID generation.
	DefaultIDHashSalt uint64 = 0x7F4A7C15
	// SchemaVersion is the manifest schema this module writes.
	SchemaVersion = 1
)

// CompactionConfig controls when segments are merged into shards.
type CompactionConfig struct {
	Enabled     bool
	MinSegments int
}

// IndexConfig is an immutable configuration snapshot for one variant.
//
// Once a segment has been published for a variant, Dim, Metric and the
// index type must not change.
type IndexConfig struct {
	Variant           string
	Metric            Metric
	Index             IndexSpec
	Dim               int
	SegmentTargetSize int
	Compaction        CompactionConfig
	IDHashSalt        uint64
	SchemaVersion     int

	// Revision orders configuration snapshots of the same variant.
	Revision uint64
}

// DefaultConfig returns the default configuration: cosine similarity over
// 512-dimensional vectors indexed with IVF+PQ.
func DefaultConfig() IndexConfig {
	return IndexConfig{
		Variant:           DefaultVariant,
		Metric:            MetricInnerProduct,
		Index:             DefaultIVFPQ(),
		Dim:               512,
		SegmentTargetSize: 512,
		Compaction: CompactionConfig{
			Enabled:     false,
			MinSegments: 16,
		},
		IDHashSalt:    DefaultIDHashSalt,
		SchemaVersion: SchemaVersion,
	}
}

// Validate checks the configuration for internal consistency.
func (c IndexConfig) Validate() error {
	var errs []error
	if c.Variant == "" {
		errs = append(errs, errors.New("variant must not be empty"))
	} else if strings.ContainsAny(c.Variant, `/\`) || c.Variant == "." || c.Variant == ".." {
		errs = append(errs, fmt.Errorf("variant %q must be a plain directory name", c.Variant))
	}
	if c.Dim <= 0 {
		errs = append(errs, fmt.Errorf("dim must be positive, got %d", c.Dim))
	}
	switch c.Metric {
	case MetricInnerProduct, MetricL2:
	default:
		errs = append(errs, fmt.Errorf("unknown metric %d", int(c.Metric)))
	}
	if c.Index == nil {
		errs = append(errs, errors.New("index spec must be set"))
	} else if err := c.Index.validate(c.Dim); err != nil {
		errs = append(errs, fmt.Errorf("%s: %w", c.Index.Type(), err))
	}
	if c.SegmentTargetSize <= 0 {
		errs = append(errs, fmt.Errorf("segment target size must be positive, got %d", c.SegmentTargetSize))
	}
	if c.Compaction.Enabled && c.Compaction.MinSegments < 2 {
		errs = append(errs, fmt.Errorf("compaction min segments must be at least 2, got %d", c.Compaction.MinSegments))
	}
	if c.SchemaVersion <= 0 {
		errs = append(errs, fmt.Errorf("schema version must be positive, got %d", c.SchemaVersion))
	}
	return errors.Join(errs...)
}

// IndexType returns the tag of the configured index spec.
func (c IndexConfig) IndexType() IndexType {
	if c.Index == nil {
		return ""
	}
	return c.Index.Type()
}

// Params returns a copy of the tuning parameters recorded in the manifest.
func (c IndexConfig) Params() map[string]int {
	if c.Index == nil {
		return map[string]int{}
	}
	return maps.Clone(c.Index.Params())
}

// WithIndex returns a new snapshot using spec, with the revision advanced.
func (c IndexConfig) WithIndex(spec IndexSpec) IndexConfig {
	c.Index = spec
	c.Revision++
	return c
}

// WithVariant returns a new snapshot for another variant, with the revision advanced.
func (c IndexConfig) WithVariant(variant string) IndexConfig {
	c.Variant = variant
	c.Revision++
	return c
}

package jobs

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"
)

// Kind identifies the type of a job.
type Kind string

const (
	KindBuild   Kind = "build"
	KindCompact Kind = "compact"
)

// BuildSegmentJob asks for one batch of embeddings to be built into a
// segment. BufferPath holds Count little-endian float32 rows of length Dim.
type BuildSegmentJob struct {
	Variant    string `json:"variant" msgpack:"variant"`
	BufferPath string `json:"bufferPath" msgpack:"bufferPath"`
	Dim        int    `json:"dim" msgpack:"dim"`
	Count      int    `json:"count" msgpack:"count"`
	Timestamp  int64  `json:"timestamp" msgpack:"timestamp"`
	OwnerID    string `json:"ownerId" msgpack:"ownerId"`
}

// Key names the segment the job produces, so a resubmitted batch maps to
// the same ledger record.
func (j BuildSegmentJob) Key() string {
	return fmt.Sprintf("build/%s/%d-%d/%s", j.Variant, j.Timestamp, j.Count, j.OwnerID)
}

// CompactJob asks for one compaction pass over a variant. Requests with
// the same Seq are deduplicated.
type CompactJob struct {
	Variant string `json:"variant" msgpack:"variant"`
	Seq     int64  `json:"seq" msgpack:"seq"`
}

// Key identifies the compaction request.
func (j CompactJob) Key() string {
	return "compact/" + j.Variant + "/" + strconv.FormatInt(j.Seq, 10)
}

// Job is the envelope the dispatcher, the ledger and the spool share.
// Exactly one of Build and Compact is set.
type Job struct {
	Kind    Kind             `json:"kind" msgpack:"kind"`
	Build   *BuildSegmentJob `json:"build,omitempty" msgpack:"build,omitempty"`
	Compact *CompactJob      `json:"compact,omitempty" msgpack:"compact,omitempty"`
}

// NewBuildJob wraps j.
func NewBuildJob(j BuildSegmentJob) Job { return Job{Kind: KindBuild, Build: &j} }

// NewCompactJob wraps j.
func NewCompactJob(j CompactJob) Job { return Job{Kind: KindCompact, Compact: &j} }

// Key returns the deterministic key of the wrapped job.
func (j Job) Key() string {
	switch j.Kind {
	case KindBuild:
		return j.Build.Key()
	case KindCompact:
		return j.Compact.Key()
	default:
		return ""
	}
}

// Variant returns the variant the job targets.
func (j Job) Variant() string {
	switch j.Kind {
	case KindBuild:
		return j.Build.Variant
	case KindCompact:
		return j.Compact.Variant
	default:
		return ""
	}
}

// Validate checks the envelope.
func (j Job) Validate() error {
	var errs []error
	switch j.Kind {
	case KindBuild:
		if j.Build == nil || j.Compact != nil {
			return errors.New("build job must carry only a build payload")
		}
		if j.Build.BufferPath == "" {
			errs = append(errs, errors.New("buffer path must be set"))
		}
		if j.Build.Dim <= 0 || j.Build.Count <= 0 {
			errs = append(errs, fmt.Errorf("dim and count must be positive, got %d and %d", j.Build.Dim, j.Build.Count))
		}
	case KindCompact:
		if j.Compact == nil || j.Build != nil {
			return errors.New("compact job must carry only a compact payload")
		}
	default:
		return fmt.Errorf("unknown job kind %q", j.Kind)
	}
	if v := j.Variant(); v == "" || strings.ContainsAny(v, "/\\") {
		errs = append(errs, fmt.Errorf("invalid variant %q", v))
	}
	return errors.Join(errs...)
}

// DecodeJob parses a spooled job file.
func DecodeJob(data []byte) (Job, error) {
	var j Job
	if err := json.Unmarshal(data, &j); err != nil {
		return Job{}, fmt.Errorf("decode job: %w", err)
	}
	if err := j.Validate(); err != nil {
		return Job{}, err
	}
	return j, nil
}

// EncodeJob renders j in the spool file format.
func EncodeJob(j Job) ([]byte, error) {
	return json.MarshalIndent(j, "", "  ")
}

// Executor runs jobs for a variant.
type Executor interface {
	ExecuteBuild(ctx context.Context, job BuildSegmentJob) error
	ExecuteCompact(ctx context.Context, job CompactJob) error
}

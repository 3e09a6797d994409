package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed is returned when an operation is attempted on a closed searcher.
	ErrClosed = errors.New("searcher closed")

	// ErrMissingManifest is returned when a variant has no manifest to search.
	ErrMissingManifest = errors.New("no manifest for variant")

	// ErrBackendUnavailable is returned when the index backend runs in stub
	// mode. Builds in this mode are not published.
	ErrBackendUnavailable = errors.New("index backend unavailable")

	// ErrTrainingRequired is returned when rows reach an untrained IVF+PQ index.
	ErrTrainingRequired = errors.New("index requires training before insertion")

	// ErrConfigMismatch is returned when the config disagrees with the manifest.
	ErrConfigMismatch = errors.New("config does not match manifest")

	// ErrCompactionUnsupported is returned when a picked segment has no
	// retained raw vectors to rebuild from.
	ErrCompactionUnsupported = errors.New("compaction not supported: segment has no retained vectors")

	// ErrSegmentConflict is returned when a build maps to the file name of a
	// segment that holds another owner's batch.
	ErrSegmentConflict = errors.New("segment name taken by another batch")

	// ErrCompactionRunning is returned when a compaction is already in progress.
	ErrCompactionRunning = errors.New("compaction already running")
)

// ValidationError reports an invalid request. It is never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// IOError wraps a failed file operation.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

func ioErr(op, path string, err error) error {
	if err == nil {
		return nil
	}
	return &IOError{Op: op, Path: path, Err: err}
}

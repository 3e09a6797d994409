package vecshard

import (
	"errors"
	"fmt"
	iofs "io/fs"

	"github.com/hupe1980/vecshard/internal/backend"
	"github.com/hupe1980/vecshard/internal/engine"
	"github.com/hupe1980/vecshard/internal/manifest"
)

var (
	// ErrClosed is returned when a closed Index or Searcher is used.
	ErrClosed = engine.ErrClosed

	// ErrMissingManifest is returned when a variant has no published segments.
	ErrMissingManifest = engine.ErrMissingManifest

	// ErrBackendUnavailable is returned when the index backend runs in stub
	// mode. Builds are refused rather than published.
	ErrBackendUnavailable = engine.ErrBackendUnavailable

	// ErrTrainingRequired is returned when rows reach an untrained index.
	ErrTrainingRequired = engine.ErrTrainingRequired

	// ErrConfigMismatch is returned when the config disagrees with the
	// published manifest.
	ErrConfigMismatch = engine.ErrConfigMismatch

	// ErrCompactionUnsupported is returned when segments picked for merging
	// have no retained vectors.
	ErrCompactionUnsupported = engine.ErrCompactionUnsupported

	// ErrSegmentConflict is returned when two owners publish a batch with
	// the same timestamp and row count.
	ErrSegmentConflict = engine.ErrSegmentConflict

	// ErrCompactionRunning is returned when a compaction is already in progress.
	ErrCompactionRunning = engine.ErrCompactionRunning

	// ErrIncompatibleVersion is returned when a manifest was written with an
	// unsupported schema version.
	ErrIncompatibleVersion = manifest.ErrIncompatibleVersion

	// ErrUnknownBackend is returned by Open for an unregistered backend name.
	ErrUnknownBackend = backend.ErrUnknownBackend
)

// ValidationError reports an invalid request. It is never retried.
type ValidationError = engine.ValidationError

// IOError wraps a failed file operation with its op and path.
type IOError = engine.IOError

// IsRetryable reports whether an operation that failed with err may succeed
// when repeated.
func IsRetryable(err error) bool {
	return engine.IsRetryable(err)
}

func translateError(err error) error {
	if err == nil {
		return nil
	}

	// Backend failures surface as the engine taxonomy.
	if errors.Is(err, backend.ErrNotTrained) && !errors.Is(err, ErrTrainingRequired) {
		return fmt.Errorf("%w: %w", ErrTrainingRequired, err)
	}
	if errors.Is(err, backend.ErrUnavailable) && !errors.Is(err, ErrBackendUnavailable) {
		return fmt.Errorf("%w: %w", ErrBackendUnavailable, err)
	}

	// Manifest level.
	if errors.Is(err, manifest.ErrMismatch) && !errors.Is(err, ErrConfigMismatch) {
		return fmt.Errorf("%w: %w", ErrConfigMismatch, err)
	}
	if errors.Is(err, manifest.ErrNotFound) && !errors.Is(err, ErrMissingManifest) {
		return fmt.Errorf("%w: %w", ErrMissingManifest, err)
	}

	// Bare path errors become IOErrors so callers see a single type.
	var ioe *IOError
	var pe *iofs.PathError
	if !errors.As(err, &ioe) && errors.As(err, &pe) {
		return &IOError{Op: pe.Op, Path: pe.Path, Err: err}
	}

	return err
}

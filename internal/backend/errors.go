package backend

import "errors"

var (
	// ErrUnavailable is returned by stub backends for operations that need the real library.
	ErrUnavailable = errors.New("backend unavailable")

	// ErrReleased is returned when a released handle is used.
	ErrReleased = errors.New("index handle released")

	// ErrSizeMismatch is returned when a vector buffer does not match ids * dim.
	ErrSizeMismatch = errors.New("vector buffer size does not match ids * dim")

	// ErrNotTrained is returned when inserting into an index that requires training.
	ErrNotTrained = errors.New("index requires training before insertion")

	// ErrUnknownBackend is returned by Open for unregistered names.
	ErrUnknownBackend = errors.New("unknown backend")

	// ErrInvalidFile is returned when an index file cannot be decoded.
	ErrInvalidFile = errors.New("invalid index file")
)

package manifest

import "errors"

var (
	// ErrNotFound means the variant has no MANIFEST.json yet.
	ErrNotFound = errors.New("manifest not found")
	// ErrIncompatibleVersion means the manifest was written by a newer schema.
	ErrIncompatibleVersion = errors.New("incompatible manifest version")
	// ErrCorrupt means MANIFEST.json could not be decoded or lists
	// inconsistent entries.
	ErrCorrupt = errors.New("manifest corrupt")
	// ErrMismatch means the configured dim, metric or index type differs
	// from the published one.
	ErrMismatch = errors.New("configuration does not match manifest")
)

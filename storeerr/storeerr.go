// Package storeerr defines the blob store's error taxonomy. Store
// operations surface failures as one of these four sentinels, wrapped with
// fmt.Errorf("%w", ...) for context; there is no automatic retry. Errors
// from Load's setup steps (creating directories, opening the index,
// creating the cache), from the index writes inside SyncMetaFromFiles, and
// from reading an already opened Resource are returned without a sentinel,
// except that an unsupported schema version carries ErrInvalidInput.
package storeerr

import "errors"

var (
	// ErrInvalidInput covers a non-absolute path, wrong source type, a
	// size mismatch on union, or an unsupported schema version. A failure
	// to create an export target's parent directory is reported as
	// ErrIoFailure, and malformed on-disk filenames are skipped by the
	// directory scan rather than reported.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotFound covers a hash missing from every table, or an external
	// path referenced by an entry that no longer exists on disk.
	ErrNotFound = errors.New("not found")

	// ErrIoFailure covers an underlying filesystem or index error.
	ErrIoFailure = errors.New("io failure")

	// ErrUnsupported covers an attempted write through a read-only
	// in-memory blob.
	ErrUnsupported = errors.New("unsupported")
)

package store

import "path/filepath"

// ImportMode selects how import_file/export materialize bytes: by
// copying, or by taking the caller's path/producing a path as an
// external reference.
type ImportMode int

const (
	// ModeCopy always produces an owned copy.
	ModeCopy ImportMode = iota
	// ModeTryReference uses the source/target path directly when size
	// and mode allow it, transferring ownership instead of copying.
	ModeTryReference
)

// Options configures path layout and the inlining/move thresholds: a
// plain struct of tunables and one constructor with sane defaults, no
// env/flag binding inside the library package.
type Options struct {
	// Root is the store's root directory; Complete/Partial/Meta paths
	// are derived from it.
	Root string

	// MoveThreshold is the minimum blob size, in bytes, for an
	// export-by-reference to use a rename instead of a copy.
	MoveThreshold uint64

	// OutboardInlineThreshold is the maximum outboard size, in bytes,
	// kept inline in the index rather than written to its own file.
	OutboardInlineThreshold uint64
}

// DefaultOptions returns Options for root with spec.md §6's defaults:
// a 128 KiB move threshold and a 4104-byte (4 KiB + 8 B) outboard inline
// threshold.
func DefaultOptions(root string) Options {
	return Options{
		Root:                    root,
		MoveThreshold:           131072,
		OutboardInlineThreshold: 4104,
	}
}

// CompletePath is R/complete.
func (o Options) CompletePath() string { return filepath.Join(o.Root, "complete") }

// PartialPath is R/partial.
func (o Options) PartialPath() string { return filepath.Join(o.Root, "partial") }

// MetaDir is R/meta.
func (o Options) MetaDir() string { return filepath.Join(o.Root, "meta") }

// MetaPath is R/meta/db.v1, the index file.
func (o Options) MetaPath() string { return filepath.Join(o.MetaDir(), "db.v1") }

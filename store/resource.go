package store

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"flatstore/storeerr"
)

// Resource is the polymorphic "memory or path" handle described in
// spec.md §9: a tagged variant of inline bytes or a filesystem path.
// Entries hold only this (paths + sizes, or small inline byte slices),
// never open file descriptors, so readers must open lazily — exactly the
// "ownership of files on disk" design note.
type Resource struct {
	inline []byte
	path   string
}

// InlineResource wraps bytes already held in memory (typically read out
// of the metadata index).
func InlineResource(data []byte) Resource {
	return Resource{inline: data}
}

// PathResource wraps a filesystem path, opened lazily on read.
func PathResource(path string) Resource {
	return Resource{path: path}
}

// IsInline reports whether the resource is backed by in-memory bytes.
func (r Resource) IsInline() bool { return r.path == "" }

// Size returns the resource's length without opening a file resource
// (an inline resource's length is known; a path resource is stat'd).
func (r Resource) Size() (int64, error) {
	if r.IsInline() {
		return int64(len(r.inline)), nil
	}
	info, err := os.Stat(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, fmt.Errorf("%w: %s", storeerr.ErrNotFound, r.path)
		}
		return 0, fmt.Errorf("%w: stat %s: %v", storeerr.ErrIoFailure, r.path, err)
	}
	return info.Size(), nil
}

// Reader opens a lazy reader over the resource's bytes. Opening a path
// resource after its file has been deleted surfaces ErrNotFound.
func (r Resource) Reader() (io.ReadCloser, error) {
	if r.IsInline() {
		return io.NopCloser(bytes.NewReader(r.inline)), nil
	}
	f, err := os.Open(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", storeerr.ErrNotFound, r.path)
		}
		return nil, fmt.Errorf("%w: open %s: %v", storeerr.ErrIoFailure, r.path, err)
	}
	return f, nil
}

// ReadAll materializes the resource fully into memory.
func (r Resource) ReadAll() ([]byte, error) {
	if r.IsInline() {
		return r.inline, nil
	}
	rc, err := r.Reader()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// Path returns the backing path and whether the resource is path-backed.
func (r Resource) Path() (string, bool) {
	return r.path, !r.IsInline()
}

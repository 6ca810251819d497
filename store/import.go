package store

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"flatstore/blobhash"
	"flatstore/filename"
	"flatstore/meta"
	"flatstore/outboard"
	"flatstore/state"
	"flatstore/storeerr"

	"github.com/dgraph-io/badger/v4"
)

// TempTag is a process-local handle keeping a hash alive from the moment
// its import/download is first identified until the holder releases it
// (spec.md §4.9, §9 "liveness without cycles").
type TempTag struct {
	store *Store
	key   state.TempTagKey
}

// Hash is the protected hash.
func (t TempTag) Hash() blobhash.Hash { return t.key.Hash }

// Format is the protected hash's format tag.
func (t TempTag) Format() blobhash.BlobFormat { return t.key.Format }

// Release decrements the reference count, permitting eventual deletion
// once no other temp tag and no live-set entry protects the hash.
func (t TempTag) Release() {
	if t.store != nil {
		t.store.state.DecTempTag(t.key)
	}
}

// NewTempTag creates a process-local handle for (h, format), independent
// of any import (spec.md §6's temp_tag operation).
func (s *Store) NewTempTag(h blobhash.Hash, format blobhash.BlobFormat) TempTag {
	return TempTag{store: s, key: s.state.IncTempTag(h, format)}
}

// ImportFile runs the import pipeline (spec.md §4.6) over a local file,
// either copying it into the store's own partial area or using it in
// place as an external reference.
func (s *Store) ImportFile(path string, mode ImportMode, format blobhash.BlobFormat) (TempTag, uint64, error) {
	if !filepath.IsAbs(path) {
		return TempTag{}, 0, fmt.Errorf("%w: import path must be absolute: %s", storeerr.ErrInvalidInput, path)
	}
	info, err := os.Lstat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return TempTag{}, 0, fmt.Errorf("%w: %s", storeerr.ErrNotFound, path)
		}
		return TempTag{}, 0, fmt.Errorf("%w: stat %s: %v", storeerr.ErrIoFailure, path, err)
	}
	if info.Mode()&os.ModeSymlink == 0 && info.IsDir() {
		return TempTag{}, 0, fmt.Errorf("%w: %s is a directory", storeerr.ErrInvalidInput, path)
	}
	size := uint64(info.Size())

	var stagedPath string
	if mode == ModeTryReference {
		stagedPath = path
	} else {
		tmp := filepath.Join(s.opts.PartialPath(), filename.Format(filename.Temporary()))
		if err := copyFile(path, tmp); err != nil {
			return TempTag{}, 0, err
		}
		stagedPath = tmp
	}

	h, ob, err := s.computeOutboard(stagedPath, int64(size))
	if err != nil {
		if mode != ModeTryReference {
			_ = os.Remove(stagedPath)
		}
		return TempTag{}, 0, err
	}

	tag := s.NewTempTag(h, format)

	var sourceForExternal string
	if mode == ModeTryReference {
		sourceForExternal = path
	}
	if err := s.commitImport(h, size, mode, sourceForExternal, stagedPath, ob); err != nil {
		tag.Release()
		return TempTag{}, 0, err
	}
	return tag, size, nil
}

// ImportBytes imports data held entirely in memory.
func (s *Store) ImportBytes(data []byte, format blobhash.BlobFormat) (TempTag, uint64, error) {
	return s.importStream(bytes.NewReader(data), int64(len(data)), format)
}

// ImportStream imports a stream of known total length.
func (s *Store) ImportStream(r io.Reader, size int64, format blobhash.BlobFormat) (TempTag, uint64, error) {
	return s.importStream(r, size, format)
}

func (s *Store) importStream(r io.Reader, size int64, format blobhash.BlobFormat) (TempTag, uint64, error) {
	tmp := filepath.Join(s.opts.PartialPath(), filename.Format(filename.Temporary()))
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return TempTag{}, 0, fmt.Errorf("%w: create %s: %v", storeerr.ErrIoFailure, tmp, err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		_ = os.Remove(tmp)
		return TempTag{}, 0, fmt.Errorf("%w: stage: %v", storeerr.ErrIoFailure, err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return TempTag{}, 0, fmt.Errorf("%w: close staged file: %v", storeerr.ErrIoFailure, err)
	}

	h, ob, err := s.computeOutboard(tmp, size)
	if err != nil {
		_ = os.Remove(tmp)
		return TempTag{}, 0, err
	}

	tag := s.NewTempTag(h, format)
	if err := s.commitImport(h, uint64(size), ModeCopy, "", tmp, ob); err != nil {
		tag.Release()
		return TempTag{}, 0, err
	}
	return tag, uint64(size), nil
}

func (s *Store) computeOutboard(path string, size int64) (blobhash.Hash, []byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return blobhash.Hash{}, nil, fmt.Errorf("%w: open %s: %v", storeerr.ErrIoFailure, path, err)
	}
	defer f.Close()
	h, ob, err := outboard.Compute(f, size, nil)
	if err != nil {
		return blobhash.Hash{}, nil, fmt.Errorf("%w: %v", storeerr.ErrIoFailure, err)
	}
	return h, ob, nil
}

// commitImport performs step 5 (placement) and step 6 (serialized
// commit) of the import pipeline. Filesystem renames happen before the
// authoritative table row is written, per spec.md §9's atomicity
// strategy: "every commit does filesystem renames before writing the
// authoritative table row when creating".
func (s *Store) commitImport(h blobhash.Hash, size uint64, mode ImportMode, externalSource, stagedDataPath string, ob []byte) error {
	s.completeIOMutex.Lock()
	defer s.completeIOMutex.Unlock()

	needsOutboard := size > outboard.LeafSize

	var inlineData []byte
	if !needsOutboard {
		b, err := os.ReadFile(stagedDataPath)
		if err != nil {
			return fmt.Errorf("%w: read staged data: %v", storeerr.ErrIoFailure, err)
		}
		inlineData = b
	}

	var inlineOutboard []byte
	var obTempPath string
	if needsOutboard && len(ob) > 0 {
		if uint64(len(ob)) <= s.opts.OutboardInlineThreshold {
			inlineOutboard = ob
		} else {
			obTempPath = filepath.Join(s.opts.PartialPath(), filename.Format(filename.Temporary()))
			if err := os.WriteFile(obTempPath, ob, 0o644); err != nil {
				return fmt.Errorf("%w: stage outboard: %v", storeerr.ErrIoFailure, err)
			}
		}
	}

	owned := mode == ModeCopy
	var external []string
	if mode == ModeTryReference {
		external = []string{externalSource}
	}

	if mode == ModeCopy {
		if err := os.Rename(stagedDataPath, s.completeDataPath(h)); err != nil {
			return fmt.Errorf("%w: rename %s: %v", storeerr.ErrIoFailure, stagedDataPath, err)
		}
	}

	if obTempPath != "" {
		if err := os.Rename(obTempPath, s.completeOutboardPath(h)); err != nil {
			return fmt.Errorf("%w: rename %s: %v", storeerr.ErrIoFailure, obTempPath, err)
		}
	}

	err := s.meta.DB().Update(func(txn *badger.Txn) error {
		existing, ok, err := meta.GetComplete(txn, h)
		if err != nil {
			return err
		}
		merged := meta.CompleteEntry{Size: size, OwnedData: owned, External: external}
		if ok {
			merged, err = existing.Union(merged)
			if err != nil {
				return fmt.Errorf("%w: %v", storeerr.ErrInvalidInput, err)
			}
		}
		if err := meta.PutComplete(txn, h, merged); err != nil {
			return err
		}
		s.invalidateCache(h)
		if inlineData != nil {
			if err := meta.PutBlob(txn, h, inlineData); err != nil {
				return err
			}
		}
		if inlineOutboard != nil {
			if err := meta.PutOutboard(txn, h, inlineOutboard); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, storeerr.ErrInvalidInput) {
			return err
		}
		return fmt.Errorf("%w: %v", storeerr.ErrIoFailure, err)
	}
	return nil
}

// copyFile performs a plain byte copy from src to dst.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("%w: open %s: %v", storeerr.ErrIoFailure, src, err)
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("%w: create %s: %v", storeerr.ErrIoFailure, dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("%w: copy %s -> %s: %v", storeerr.ErrIoFailure, src, dst, err)
	}
	return out.Close()
}

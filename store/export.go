package store

import (
	"fmt"
	"os"
	"path/filepath"

	"flatstore/blobhash"
	"flatstore/meta"
	"flatstore/storeerr"

	"github.com/dgraph-io/badger/v4"
)

// Export materializes the complete blob h at target (spec.md §4.8).
// target must be absolute; its parent directory is created if missing.
// progress, if non-nil, is called with 0 and then the final size.
func (s *Store) Export(h blobhash.Hash, target string, mode ImportMode, progress func(uint64)) error {
	if !filepath.IsAbs(target) {
		return fmt.Errorf("%w: export target must be absolute: %s", storeerr.ErrInvalidInput, target)
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("%w: create parent of %s: %v", storeerr.ErrIoFailure, target, err)
	}

	var ce meta.CompleteEntry
	var found bool
	err := s.meta.DB().View(func(txn *badger.Txn) error {
		e, ok, err := meta.GetComplete(txn, h)
		ce, found = e, ok
		return err
	})
	if err != nil {
		return fmt.Errorf("%w: %v", storeerr.ErrIoFailure, err)
	}
	if !found {
		return fmt.Errorf("%w: %s", storeerr.ErrNotFound, h)
	}

	if inline, ok, err := s.inlineBlob(h); err != nil {
		return err
	} else if ok {
		if progress != nil {
			progress(0)
		}
		if err := os.WriteFile(target, inline, 0o644); err != nil {
			return fmt.Errorf("%w: write %s: %v", storeerr.ErrIoFailure, target, err)
		}
		if progress != nil {
			progress(uint64(len(inline)))
		}
		return nil
	}

	var source string
	if ce.OwnedData {
		source = s.completeDataPath(h)
	} else if len(ce.External) > 0 {
		source = ce.External[0]
	} else {
		return fmt.Errorf("%w: complete entry %s has no data source", storeerr.ErrInvalidInput, h)
	}

	if mode == ModeTryReference && ce.OwnedData && ce.Size >= s.opts.MoveThreshold {
		s.completeIOMutex.Lock()
		err := os.Rename(source, target)
		s.completeIOMutex.Unlock()
		if err != nil {
			return fmt.Errorf("%w: rename %s -> %s: %v", storeerr.ErrIoFailure, source, target, err)
		}
		if progress != nil {
			progress(0)
			progress(ce.Size)
		}
		return s.recordExternal(h, target, false)
	}

	if progress != nil {
		progress(0)
	}
	if err := copyFile(source, target); err != nil {
		return err
	}
	if progress != nil {
		progress(ce.Size)
	}
	if mode == ModeTryReference {
		return s.recordExternal(h, target, ce.OwnedData)
	}
	return nil
}

// recordExternal adds target to the complete entry's external set. When
// ownership moved (move-by-rename), ownedData is false going forward.
func (s *Store) recordExternal(h blobhash.Hash, target string, ownedData bool) error {
	err := s.meta.DB().Update(func(txn *badger.Txn) error {
		ce, ok, err := meta.GetComplete(txn, h)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: %s", storeerr.ErrNotFound, h)
		}
		ce.OwnedData = ownedData
		ce.External = append(ce.External, target)
		return meta.PutComplete(txn, h, ce)
	})
	if err != nil {
		return fmt.Errorf("%w: %v", storeerr.ErrIoFailure, err)
	}
	s.invalidateCache(h)
	return nil
}

func (s *Store) inlineBlob(h blobhash.Hash) ([]byte, bool, error) {
	var data []byte
	var ok bool
	err := s.meta.DB().View(func(txn *badger.Txn) error {
		b, found, err := meta.GetBlob(txn, h)
		data, ok = b, found
		return err
	})
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", storeerr.ErrIoFailure, err)
	}
	return data, ok, nil
}

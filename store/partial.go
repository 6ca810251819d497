package store

import (
	"errors"
	"fmt"
	"os"

	"flatstore/blobhash"
	"flatstore/filename"
	"flatstore/meta"
	"flatstore/outboard"
	"flatstore/storeerr"

	"github.com/dgraph-io/badger/v4"
)

// PartialEntry is an in-progress download: the (hash, uuid)-keyed on-disk
// pair, or a transient in-memory buffer for blobs at or below one
// outboard leaf (spec.md §3 TransientPartial, §4.7).
type PartialEntry struct {
	store     *Store
	Hash      blobhash.Hash
	Size      uint64
	Uuid      [16]byte
	transient bool
}

// GetOrCreatePartial allocates (or returns the existing) partial entry for
// h with the given target size, first adding h to the live set so a
// concurrent GC mark running between this call and data arriving cannot
// collect it (spec.md §4.7).
func (s *Store) GetOrCreatePartial(h blobhash.Hash, size uint64) (PartialEntry, error) {
	s.state.AddLive(h)

	if size <= outboard.LeafSize {
		s.state.GetOrCreateTransient(h)
		return PartialEntry{store: s, Hash: h, Size: size, transient: true}, nil
	}

	var data meta.PartialEntryData
	err := s.meta.DB().Update(func(txn *badger.Txn) error {
		existing, ok, err := meta.GetPartial(txn, h)
		if err != nil {
			return err
		}
		if ok {
			data = existing
			return nil
		}
		data = meta.PartialEntryData{Size: size, Uuid: filename.NewUuid()}
		return meta.PutPartial(txn, h, data)
	})
	if err != nil {
		return PartialEntry{}, fmt.Errorf("%w: %v", storeerr.ErrIoFailure, err)
	}

	if err := s.ensurePartialFiles(h, data.Uuid, data.Size); err != nil {
		return PartialEntry{}, err
	}

	return PartialEntry{store: s, Hash: h, Size: data.Size, Uuid: data.Uuid}, nil
}

// ensurePartialFiles creates the two backing files if they do not exist
// yet, writing the 8-byte little-endian size header at the start of the
// outboard file (the "first 8 bytes ... are authoritative size metadata"
// rule from spec.md §4.7).
func (s *Store) ensurePartialFiles(h blobhash.Hash, u [16]byte, size uint64) error {
	dataPath := s.partialDataPath(h, u)
	obPath := s.partialOutboardPath(h, u)

	if _, err := os.Stat(dataPath); os.IsNotExist(err) {
		f, err := os.OpenFile(dataPath, os.O_CREATE|os.O_RDWR, 0o644)
		if err != nil {
			return fmt.Errorf("%w: create %s: %v", storeerr.ErrIoFailure, dataPath, err)
		}
		_ = f.Close()
	}
	if _, err := os.Stat(obPath); os.IsNotExist(err) {
		f, err := os.OpenFile(obPath, os.O_CREATE|os.O_RDWR, 0o644)
		if err != nil {
			return fmt.Errorf("%w: create %s: %v", storeerr.ErrIoFailure, obPath, err)
		}
		defer f.Close()
		var hdr [8]byte
		putUint64LE(hdr[:], size)
		if _, err := f.WriteAt(hdr[:], 0); err != nil {
			return fmt.Errorf("%w: write %s: %v", storeerr.ErrIoFailure, obPath, err)
		}
	}
	return nil
}

func (s *Store) partialEntryFor(h blobhash.Hash) (PartialEntry, error) {
	if _, ok := s.state.GetTransient(h); ok {
		return PartialEntry{store: s, Hash: h, transient: true}, nil
	}
	var data meta.PartialEntryData
	var found bool
	err := s.meta.DB().View(func(txn *badger.Txn) error {
		d, ok, err := meta.GetPartial(txn, h)
		if err != nil {
			return err
		}
		data, found = d, ok
		return nil
	})
	if err != nil {
		return PartialEntry{}, fmt.Errorf("%w: %v", storeerr.ErrIoFailure, err)
	}
	if !found {
		return PartialEntry{}, fmt.Errorf("%w: %s", storeerr.ErrNotFound, h)
	}
	return PartialEntry{store: s, Hash: h, Size: data.Size, Uuid: data.Uuid}, nil
}

// WriteDataAt writes p at offset off into the partial entry's data
// buffer or file.
func (pe PartialEntry) WriteDataAt(p []byte, off int64) error {
	if pe.transient {
		tr := pe.store.state.GetOrCreateTransient(pe.Hash)
		need := int(off) + len(p)
		if len(tr.Data) < need {
			grown := make([]byte, need)
			copy(grown, tr.Data)
			tr.Data = grown
		}
		copy(tr.Data[off:], p)
		return nil
	}
	path := pe.store.partialDataPath(pe.Hash, pe.Uuid)
	f, err := os.OpenFile(path, os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("%w: open %s: %v", storeerr.ErrIoFailure, path, err)
	}
	defer f.Close()
	if _, err := f.WriteAt(p, off); err != nil {
		return fmt.Errorf("%w: write %s: %v", storeerr.ErrIoFailure, path, err)
	}
	return nil
}

// WriteOutboardHeader writes the 8-byte little-endian size prefix at
// offset 0 of the partial outboard file. It is a no-op for the transient
// (no-outboard) variant.
func (pe PartialEntry) WriteOutboardHeader() error {
	if pe.transient {
		return nil
	}
	path := pe.store.partialOutboardPath(pe.Hash, pe.Uuid)
	f, err := os.OpenFile(path, os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("%w: open %s: %v", storeerr.ErrIoFailure, path, err)
	}
	defer f.Close()
	var hdr [8]byte
	putUint64LE(hdr[:], pe.Size)
	if _, err := f.WriteAt(hdr[:], 0); err != nil {
		return fmt.Errorf("%w: write %s: %v", storeerr.ErrIoFailure, path, err)
	}
	return nil
}

// WriteOutboardAt writes p at offset off into the partial outboard file.
func (pe PartialEntry) WriteOutboardAt(p []byte, off int64) error {
	if pe.transient {
		return nil
	}
	path := pe.store.partialOutboardPath(pe.Hash, pe.Uuid)
	f, err := os.OpenFile(path, os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("%w: open %s: %v", storeerr.ErrIoFailure, path, err)
	}
	defer f.Close()
	if _, err := f.WriteAt(p, off); err != nil {
		return fmt.Errorf("%w: write %s: %v", storeerr.ErrIoFailure, path, err)
	}
	return nil
}

// InsertComplete promotes pe to a complete entry.
func (s *Store) InsertComplete(pe PartialEntry) error {
	if pe.transient {
		tr, ok := s.state.GetTransient(pe.Hash)
		if !ok {
			return fmt.Errorf("%w: no transient buffer for %s", storeerr.ErrNotFound, pe.Hash)
		}
		data := tr.Data
		s.state.RemoveTransient(pe.Hash)

		err := s.meta.DB().Update(func(txn *badger.Txn) error {
			existing, ok, err := meta.GetComplete(txn, pe.Hash)
			merged := meta.CompleteEntry{Size: uint64(len(data)), OwnedData: true}
			if err != nil {
				return err
			}
			if ok {
				merged, err = existing.Union(merged)
				if err != nil {
					return fmt.Errorf("%w: %v", storeerr.ErrInvalidInput, err)
				}
			}
			if err := meta.PutComplete(txn, pe.Hash, merged); err != nil {
				return err
			}
			s.invalidateCache(pe.Hash)
			return meta.PutBlob(txn, pe.Hash, data)
		})
		if err != nil {
			if errors.Is(err, storeerr.ErrInvalidInput) {
				return err
			}
			return fmt.Errorf("%w: %v", storeerr.ErrIoFailure, err)
		}
		return nil
	}

	s.completeIOMutex.Lock()
	defer s.completeIOMutex.Unlock()

	dataPath := s.partialDataPath(pe.Hash, pe.Uuid)
	obPath := s.partialOutboardPath(pe.Hash, pe.Uuid)
	finalData := s.completeDataPath(pe.Hash)

	if err := s.meta.DB().Update(func(txn *badger.Txn) error {
		return meta.DeletePartial(txn, pe.Hash)
	}); err != nil {
		return fmt.Errorf("%w: %v", storeerr.ErrIoFailure, err)
	}

	if err := os.Rename(dataPath, finalData); err != nil {
		return fmt.Errorf("%w: rename %s: %v", storeerr.ErrIoFailure, dataPath, err)
	}

	var inlineOutboard []byte
	finalOutboard := s.completeOutboardPath(pe.Hash)
	if info, err := os.Stat(obPath); err == nil {
		if uint64(info.Size()) <= s.opts.OutboardInlineThreshold {
			b, err := os.ReadFile(obPath)
			if err != nil {
				return fmt.Errorf("%w: read %s: %v", storeerr.ErrIoFailure, obPath, err)
			}
			inlineOutboard = b
			_ = os.Remove(obPath)
		} else if err := os.Rename(obPath, finalOutboard); err != nil {
			return fmt.Errorf("%w: rename %s: %v", storeerr.ErrIoFailure, obPath, err)
		}
	}

	err := s.meta.DB().Update(func(txn *badger.Txn) error {
		existing, ok, err := meta.GetComplete(txn, pe.Hash)
		merged := meta.CompleteEntry{Size: pe.Size, OwnedData: true}
		if err != nil {
			return err
		}
		if ok {
			merged, err = existing.Union(merged)
			if err != nil {
				return fmt.Errorf("%w: %v", storeerr.ErrInvalidInput, err)
			}
		}
		if err := meta.PutComplete(txn, pe.Hash, merged); err != nil {
			return err
		}
		s.invalidateCache(pe.Hash)
		if inlineOutboard != nil {
			return meta.PutOutboard(txn, pe.Hash, inlineOutboard)
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

func putUint64LE(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * uint(i)))
	}
}

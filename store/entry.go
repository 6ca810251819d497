package store

import (
	"fmt"

	"flatstore/blobhash"
	"flatstore/filename"
	"flatstore/meta"
	"flatstore/outboard"
	"flatstore/storeerr"

	"github.com/dgraph-io/badger/v4"
)

// EntryStatus is the coarse classification returned by EntryStatus.
type EntryStatus int

const (
	// StatusNotFound means h is absent from memory and both tables.
	StatusNotFound EntryStatus = iota
	// StatusPartial means h has an in-progress download.
	StatusPartial
	// StatusComplete means h is a finished blob.
	StatusComplete
)

// Entry is the polymorphic representation of a complete blob: its data
// and (if the blob needs one) its outboard, each a memory-or-path handle
// (spec.md §4.5, §9).
type Entry struct {
	Hash     blobhash.Hash
	Size     uint64
	Data     Resource
	Outboard *Resource // nil if size <= outboard.LeafSize
}

// EntryStatus checks, in order, the in-memory transient partial set, the
// complete table, then the partial table — complete wins if both somehow
// appear, which startup reconciliation prevents from persisting.
func (s *Store) EntryStatus(h blobhash.Hash) (EntryStatus, error) {
	if _, ok := s.state.GetTransient(h); ok {
		return StatusPartial, nil
	}
	var status EntryStatus
	err := s.meta.DB().View(func(txn *badger.Txn) error {
		if _, ok, err := s.getCompleteCached(txn, h); err != nil {
			return err
		} else if ok {
			status = StatusComplete
			return nil
		}
		if _, ok, err := meta.GetPartial(txn, h); err != nil {
			return err
		} else if ok {
			status = StatusPartial
			return nil
		}
		status = StatusNotFound
		return nil
	})
	if err != nil {
		return StatusNotFound, fmt.Errorf("%w: %v", storeerr.ErrIoFailure, err)
	}
	return status, nil
}

// Get returns the complete Entry for h, or ErrNotFound.
func (s *Store) Get(h blobhash.Hash) (Entry, error) {
	var entry Entry
	var found bool
	err := s.meta.DB().View(func(txn *badger.Txn) error {
		ce, ok, err := s.getCompleteCached(txn, h)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		found = true
		entry, err = s.buildEntry(txn, h, ce)
		return err
	})
	if err != nil {
		return Entry{}, fmt.Errorf("%w: %v", storeerr.ErrIoFailure, err)
	}
	if !found {
		return Entry{}, fmt.Errorf("%w: %s", storeerr.ErrNotFound, h)
	}
	return entry, nil
}

// getCompleteCached consults the LRU cache before falling back to the
// index, populating the cache on miss.
func (s *Store) getCompleteCached(txn *badger.Txn, h blobhash.Hash) (meta.CompleteEntry, bool, error) {
	if ce, ok := s.cache.Get(h.Hex()); ok {
		return ce, true, nil
	}
	ce, ok, err := meta.GetComplete(txn, h)
	if err != nil || !ok {
		return meta.CompleteEntry{}, ok, err
	}
	s.cache.Add(h.Hex(), ce)
	return ce, true, nil
}

// invalidateCache drops h's cached complete-entry metadata; called
// whenever the complete table row for h is written or removed.
func (s *Store) invalidateCache(h blobhash.Hash) {
	s.cache.Remove(h.Hex())
}

func (s *Store) buildEntry(txn *badger.Txn, h blobhash.Hash, ce meta.CompleteEntry) (Entry, error) {
	entry := Entry{Hash: h, Size: ce.Size}

	if inline, ok, err := meta.GetBlob(txn, h); err != nil {
		return Entry{}, err
	} else if ok {
		entry.Data = InlineResource(inline)
	} else if ce.OwnedData {
		entry.Data = PathResource(s.completeDataPath(h))
	} else if len(ce.External) > 0 {
		entry.Data = PathResource(ce.External[0])
	} else {
		return Entry{}, fmt.Errorf("%w: complete entry %s has no data source", storeerr.ErrInvalidInput, h)
	}

	if ce.Size > outboard.LeafSize {
		if inlineOb, ok, err := meta.GetOutboard(txn, h); err != nil {
			return Entry{}, err
		} else if ok {
			r := InlineResource(inlineOb)
			entry.Outboard = &r
		} else {
			r := PathResource(s.completeOutboardPath(h))
			entry.Outboard = &r
		}
	}

	return entry, nil
}

// GetPossiblyPartial returns status along with whatever handle applies:
// a complete Entry, a PartialEntry, or neither.
func (s *Store) GetPossiblyPartial(h blobhash.Hash) (EntryStatus, Entry, PartialEntry, error) {
	status, err := s.EntryStatus(h)
	if err != nil {
		return status, Entry{}, PartialEntry{}, err
	}
	switch status {
	case StatusComplete:
		entry, err := s.Get(h)
		return status, entry, PartialEntry{}, err
	case StatusPartial:
		pe, err := s.partialEntryFor(h)
		return status, Entry{}, pe, err
	default:
		return status, Entry{}, PartialEntry{}, nil
	}
}

// Blobs returns the hashes of every complete blob.
func (s *Store) Blobs() ([]blobhash.Hash, error) {
	var out []blobhash.Hash
	err := s.meta.DB().View(func(txn *badger.Txn) error {
		return meta.ForEachComplete(txn, func(h blobhash.Hash, _ meta.CompleteEntry) error {
			out = append(out, h)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", storeerr.ErrIoFailure, err)
	}
	return out, nil
}

// PartialBlobs returns the hashes of every in-progress download, both
// transient (in-memory) and file-backed.
func (s *Store) PartialBlobs() ([]blobhash.Hash, error) {
	out := s.state.TransientHashes()
	seen := make(map[blobhash.Hash]bool, len(out))
	for _, h := range out {
		seen[h] = true
	}
	err := s.meta.DB().View(func(txn *badger.Txn) error {
		return meta.ForEachPartial(txn, func(h blobhash.Hash, _ meta.PartialEntryData) error {
			if !seen[h] {
				seen[h] = true
				out = append(out, h)
			}
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", storeerr.ErrIoFailure, err)
	}
	return out, nil
}

func (s *Store) completeDataPath(h blobhash.Hash) string {
	return s.opts.CompletePath() + "/" + filename.Format(filename.FileName{Kind: filename.CompleteData, Hash: h})
}

func (s *Store) completeOutboardPath(h blobhash.Hash) string {
	return s.opts.CompletePath() + "/" + filename.Format(filename.FileName{Kind: filename.CompleteOutboard, Hash: h})
}

func (s *Store) partialDataPath(h blobhash.Hash, u [16]byte) string {
	return s.opts.PartialPath() + "/" + filename.Format(filename.FileName{Kind: filename.PartialData, Hash: h, Uuid: u})
}

func (s *Store) partialOutboardPath(h blobhash.Hash, u [16]byte) string {
	return s.opts.PartialPath() + "/" + filename.Format(filename.FileName{Kind: filename.PartialOutboard, Hash: h, Uuid: u})
}

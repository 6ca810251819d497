package store

import (
	"encoding/hex"
	"fmt"
	"time"

	"flatstore/blobhash"
	"flatstore/meta"
	"flatstore/storeerr"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

// SetTag sets name to (h, format), or removes the tag when remove is true,
// under one write transaction (spec.md §4.9).
func (s *Store) SetTag(name string, h blobhash.Hash, format blobhash.BlobFormat, remove bool) error {
	err := s.meta.DB().Update(func(txn *badger.Txn) error {
		if remove {
			return meta.SetTag(txn, name, nil)
		}
		return meta.SetTag(txn, name, &meta.TagValue{Hash: h, Format: format})
	})
	if err != nil {
		return fmt.Errorf("%w: %v", storeerr.ErrIoFailure, err)
	}
	return nil
}

// CreateTag assigns a name derived from the current time (disambiguated
// against collisions with a short random suffix) and inserts it, returning
// the assigned name.
func (s *Store) CreateTag(h blobhash.Hash, format blobhash.BlobFormat) (string, error) {
	var name string
	err := s.meta.DB().Update(func(txn *badger.Txn) error {
		for attempt := 0; attempt < 8; attempt++ {
			candidate := fmt.Sprintf("%d-%s", time.Now().UnixNano(), hex.EncodeToString(uuid.New().NodeID()))
			if _, ok, err := meta.GetTag(txn, candidate); err != nil {
				return err
			} else if ok {
				continue
			}
			name = candidate
			return meta.SetTag(txn, name, &meta.TagValue{Hash: h, Format: format})
		}
		return fmt.Errorf("could not find a unique tag name")
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", storeerr.ErrIoFailure, err)
	}
	return name, nil
}

// GetTag reads a named tag.
func (s *Store) GetTag(name string) (meta.TagValue, bool, error) {
	var tv meta.TagValue
	var ok bool
	err := s.meta.DB().View(func(txn *badger.Txn) error {
		v, found, err := meta.GetTag(txn, name)
		tv, ok = v, found
		return err
	})
	if err != nil {
		return meta.TagValue{}, false, fmt.Errorf("%w: %v", storeerr.ErrIoFailure, err)
	}
	return tv, ok, nil
}

// Tags returns every tag, keyed by name. The result is a map, so it
// carries no order.
func (s *Store) Tags() (map[string]meta.TagValue, error) {
	out := make(map[string]meta.TagValue)
	err := s.meta.DB().View(func(txn *badger.Txn) error {
		return meta.ForEachTag(txn, func(name string, value meta.TagValue) error {
			out[name] = value
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", storeerr.ErrIoFailure, err)
	}
	return out, nil
}

// AddLive marks hashes reachable for the current GC mark cycle.
func (s *Store) AddLive(hashes ...blobhash.Hash) { s.state.AddLive(hashes...) }

// ClearLive empties the live set; called at the start of each GC mark
// cycle. Temp-tag protection is unaffected.
func (s *Store) ClearLive() { s.state.ClearLive() }

// IsLive reports whether h is protected from deletion.
func (s *Store) IsLive(h blobhash.Hash) bool { return s.state.IsLive(h) }

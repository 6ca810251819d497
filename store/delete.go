package store

import (
	"log"
	"os"

	"flatstore/blobhash"
	"flatstore/meta"
	"flatstore/storeerr"

	"fmt"

	"github.com/dgraph-io/badger/v4"
)

// Delete removes the complete and partial rows (and their backing files)
// for each hash. Delete does not consult liveness itself; the caller (the
// GC) is responsible for filtering hashes by IsLive first (spec.md
// §4.11).
func (s *Store) Delete(hashes []blobhash.Hash) error {
	s.completeIOMutex.Lock()
	defer s.completeIOMutex.Unlock()

	var toUnlink []string

	err := s.meta.DB().Update(func(txn *badger.Txn) error {
		for _, h := range hashes {
			if ce, ok, err := meta.GetComplete(txn, h); err != nil {
				return err
			} else if ok {
				if ce.OwnedData {
					toUnlink = append(toUnlink, s.completeDataPath(h))
				}
				if ce.Size > 0 {
					toUnlink = append(toUnlink, s.completeOutboardPath(h))
				}
				if err := meta.DeleteComplete(txn, h); err != nil {
					return err
				}
				if err := meta.DeleteBlob(txn, h); err != nil {
					return err
				}
				if err := meta.DeleteOutboard(txn, h); err != nil {
					return err
				}
				s.invalidateCache(h)
			}

			if pd, ok, err := meta.GetPartial(txn, h); err != nil {
				return err
			} else if ok {
				toUnlink = append(toUnlink, s.partialDataPath(h, pd.Uuid), s.partialOutboardPath(h, pd.Uuid))
				if err := meta.DeletePartial(txn, h); err != nil {
					return err
				}
			}
			s.state.RemoveTransient(h)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", storeerr.ErrIoFailure, err)
	}

	for _, path := range toUnlink {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			log.Printf("flatstore: failed to unlink %s: %v", path, err)
		}
	}
	return nil
}

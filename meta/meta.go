// Package meta is the embedded transactional metadata index backing the
// blob store: five named tables (complete entries, partial entries,
// inlined blobs, inlined outboards, tags) plus a meta/version table, all
// stored in one badger.DB and mutated through single atomic write
// transactions.
package meta

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"flatstore/blobhash"
	"flatstore/storeerr"

	"github.com/dgraph-io/badger/v4"
)

// SchemaVersion is the only schema version this package opens.
const SchemaVersion = 2

// key prefixes for the five tables plus meta.
const (
	prefixComplete = "c/"
	prefixPartial  = "p/"
	prefixBlob     = "b/"
	prefixOutboard = "o/"
	prefixTag      = "t/"
	prefixMeta     = "m/"
	metaVersionKey = prefixMeta + "version"
)

// CompleteEntry is the value stored under a complete blob's hash.
type CompleteEntry struct {
	Size      uint64   `json:"size"`
	OwnedData bool     `json:"owned_data"`
	External  []string `json:"external,omitempty"`
}

// Union merges two CompleteEntry observations of the same hash: sizes
// must agree, OwnedData is OR-merged, and External is unioned. This is
// the read-modify-write step two concurrent imports of the same hash
// converge through (spec.md §5 "Ordering guarantees").
func (e CompleteEntry) Union(other CompleteEntry) (CompleteEntry, error) {
	if e.Size != other.Size {
		return CompleteEntry{}, fmt.Errorf("meta: complete entry size mismatch: %d vs %d", e.Size, other.Size)
	}
	out := CompleteEntry{
		Size:      e.Size,
		OwnedData: e.OwnedData || other.OwnedData,
	}
	seen := make(map[string]bool, len(e.External)+len(other.External))
	for _, p := range e.External {
		if !seen[p] {
			seen[p] = true
			out.External = append(out.External, p)
		}
	}
	for _, p := range other.External {
		if !seen[p] {
			seen[p] = true
			out.External = append(out.External, p)
		}
	}
	return out, nil
}

// PartialEntryData is the value stored under a partial blob's hash.
type PartialEntryData struct {
	Size uint64   `json:"size"`
	Uuid [16]byte `json:"uuid"`
}

// TagValue is what a tag name resolves to.
type TagValue struct {
	Hash   blobhash.Hash       `json:"hash"`
	Format blobhash.BlobFormat `json:"format"`
}

// Index wraps a badger.DB as the store's metadata index.
type Index struct {
	db *badger.DB
}

// Open opens (creating if necessary) the badger database at path and
// verifies/initializes the schema version. A fresh database has no
// version key; it is initialized to SchemaVersion. An existing database
// whose version is not SchemaVersion fails to open (spec.md §4.3, §9
// "beyond version 2 the store refuses to open").
func Open(path string) (*Index, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("meta: open: %w", err)
	}
	idx := &Index{db: db}
	if err := idx.ensureSchemaVersion(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return idx, nil
}

func (idx *Index) ensureSchemaVersion() error {
	return idx.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(metaVersionKey))
		if err == badger.ErrKeyNotFound {
			buf := make([]byte, 8)
			binary.BigEndian.PutUint64(buf, SchemaVersion)
			return txn.Set([]byte(metaVersionKey), buf)
		}
		if err != nil {
			return fmt.Errorf("meta: read schema version: %w", err)
		}
		var version uint64
		if err := item.Value(func(val []byte) error {
			if len(val) != 8 {
				return fmt.Errorf("meta: malformed schema version value")
			}
			version = binary.BigEndian.Uint64(val)
			return nil
		}); err != nil {
			return err
		}
		if version != SchemaVersion {
			return fmt.Errorf("%w: meta: unsupported schema version %d, want %d", storeerr.ErrInvalidInput, version, SchemaVersion)
		}
		return nil
	})
}

// DB exposes the underlying badger database so the store package can
// compose multi-table transactions (e.g. the import commit step, which
// must read-modify-write the complete table and write inline blob/
// outboard rows under one atomic transaction).
func (idx *Index) DB() *badger.DB { return idx.db }

// Close closes the underlying database.
func (idx *Index) Close() error { return idx.db.Close() }

func completeKey(h blobhash.Hash) []byte { return append([]byte(prefixComplete), h[:]...) }
func partialKey(h blobhash.Hash) []byte  { return append([]byte(prefixPartial), h[:]...) }
func blobKey(h blobhash.Hash) []byte     { return append([]byte(prefixBlob), h[:]...) }
func outboardKey(h blobhash.Hash) []byte { return append([]byte(prefixOutboard), h[:]...) }
func tagKey(name string) []byte          { return append([]byte(prefixTag), name...) }

// GetComplete reads the complete-table row for h, if any.
func GetComplete(txn *badger.Txn, h blobhash.Hash) (CompleteEntry, bool, error) {
	var entry CompleteEntry
	item, err := txn.Get(completeKey(h))
	if err == badger.ErrKeyNotFound {
		return entry, false, nil
	}
	if err != nil {
		return entry, false, fmt.Errorf("meta: get complete: %w", err)
	}
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &entry)
	}); err != nil {
		return entry, false, fmt.Errorf("meta: decode complete: %w", err)
	}
	return entry, true, nil
}

// PutComplete writes (overwriting) the complete-table row for h.
func PutComplete(txn *badger.Txn, h blobhash.Hash, entry CompleteEntry) error {
	buf, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("meta: encode complete: %w", err)
	}
	return txn.Set(completeKey(h), buf)
}

// DeleteComplete removes the complete-table row for h.
func DeleteComplete(txn *badger.Txn, h blobhash.Hash) error {
	err := txn.Delete(completeKey(h))
	if err != nil && err != badger.ErrKeyNotFound {
		return fmt.Errorf("meta: delete complete: %w", err)
	}
	return nil
}

// GetPartial reads the partial-table row for h, if any.
func GetPartial(txn *badger.Txn, h blobhash.Hash) (PartialEntryData, bool, error) {
	var data PartialEntryData
	item, err := txn.Get(partialKey(h))
	if err == badger.ErrKeyNotFound {
		return data, false, nil
	}
	if err != nil {
		return data, false, fmt.Errorf("meta: get partial: %w", err)
	}
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &data)
	}); err != nil {
		return data, false, fmt.Errorf("meta: decode partial: %w", err)
	}
	return data, true, nil
}

// PutPartial writes (overwriting) the partial-table row for h.
func PutPartial(txn *badger.Txn, h blobhash.Hash, data PartialEntryData) error {
	buf, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("meta: encode partial: %w", err)
	}
	return txn.Set(partialKey(h), buf)
}

// DeletePartial removes the partial-table row for h.
func DeletePartial(txn *badger.Txn, h blobhash.Hash) error {
	err := txn.Delete(partialKey(h))
	if err != nil && err != badger.ErrKeyNotFound {
		return fmt.Errorf("meta: delete partial: %w", err)
	}
	return nil
}

// GetBlob reads inlined blob bytes for h, if any.
func GetBlob(txn *badger.Txn, h blobhash.Hash) ([]byte, bool, error) {
	item, err := txn.Get(blobKey(h))
	if err == badger.ErrKeyNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("meta: get blob: %w", err)
	}
	val, err := item.ValueCopy(nil)
	if err != nil {
		return nil, false, fmt.Errorf("meta: read blob: %w", err)
	}
	return val, true, nil
}

// PutBlob writes inlined blob bytes for h.
func PutBlob(txn *badger.Txn, h blobhash.Hash, data []byte) error {
	return txn.Set(blobKey(h), data)
}

// DeleteBlob removes inlined blob bytes for h.
func DeleteBlob(txn *badger.Txn, h blobhash.Hash) error {
	err := txn.Delete(blobKey(h))
	if err != nil && err != badger.ErrKeyNotFound {
		return fmt.Errorf("meta: delete blob: %w", err)
	}
	return nil
}

// GetOutboard reads inlined outboard bytes for h, if any.
func GetOutboard(txn *badger.Txn, h blobhash.Hash) ([]byte, bool, error) {
	item, err := txn.Get(outboardKey(h))
	if err == badger.ErrKeyNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("meta: get outboard: %w", err)
	}
	val, err := item.ValueCopy(nil)
	if err != nil {
		return nil, false, fmt.Errorf("meta: read outboard: %w", err)
	}
	return val, true, nil
}

// PutOutboard writes inlined outboard bytes for h.
func PutOutboard(txn *badger.Txn, h blobhash.Hash, data []byte) error {
	return txn.Set(outboardKey(h), data)
}

// DeleteOutboard removes inlined outboard bytes for h.
func DeleteOutboard(txn *badger.Txn, h blobhash.Hash) error {
	err := txn.Delete(outboardKey(h))
	if err != nil && err != badger.ErrKeyNotFound {
		return fmt.Errorf("meta: delete outboard: %w", err)
	}
	return nil
}

// GetTag reads a named tag.
func GetTag(txn *badger.Txn, name string) (TagValue, bool, error) {
	var tv TagValue
	item, err := txn.Get(tagKey(name))
	if err == badger.ErrKeyNotFound {
		return tv, false, nil
	}
	if err != nil {
		return tv, false, fmt.Errorf("meta: get tag: %w", err)
	}
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &tv)
	}); err != nil {
		return tv, false, fmt.Errorf("meta: decode tag: %w", err)
	}
	return tv, true, nil
}

// SetTag writes (or, if value is nil, removes) a named tag, under one
// write transaction.
func SetTag(txn *badger.Txn, name string, value *TagValue) error {
	if value == nil {
		err := txn.Delete(tagKey(name))
		if err != nil && err != badger.ErrKeyNotFound {
			return fmt.Errorf("meta: delete tag: %w", err)
		}
		return nil
	}
	buf, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("meta: encode tag: %w", err)
	}
	return txn.Set(tagKey(name), buf)
}

// ForEachComplete iterates every complete-table row.
func ForEachComplete(txn *badger.Txn, fn func(h blobhash.Hash, entry CompleteEntry) error) error {
	opts := badger.DefaultIteratorOptions
	prefix := []byte(prefixComplete)
	it := txn.NewIterator(opts)
	defer it.Close()
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		item := it.Item()
		h, err := blobhash.FromBytes(item.Key()[len(prefix):])
		if err != nil {
			return fmt.Errorf("meta: malformed complete key: %w", err)
		}
		var entry CompleteEntry
		if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &entry) }); err != nil {
			return fmt.Errorf("meta: decode complete: %w", err)
		}
		if err := fn(h, entry); err != nil {
			return err
		}
	}
	return nil
}

// ForEachPartial iterates every partial-table row.
func ForEachPartial(txn *badger.Txn, fn func(h blobhash.Hash, data PartialEntryData) error) error {
	opts := badger.DefaultIteratorOptions
	prefix := []byte(prefixPartial)
	it := txn.NewIterator(opts)
	defer it.Close()
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		item := it.Item()
		h, err := blobhash.FromBytes(item.Key()[len(prefix):])
		if err != nil {
			return fmt.Errorf("meta: malformed partial key: %w", err)
		}
		var data PartialEntryData
		if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &data) }); err != nil {
			return fmt.Errorf("meta: decode partial: %w", err)
		}
		if err := fn(h, data); err != nil {
			return err
		}
	}
	return nil
}

// ForEachTag iterates every tag, in key order.
func ForEachTag(txn *badger.Txn, fn func(name string, value TagValue) error) error {
	opts := badger.DefaultIteratorOptions
	prefix := []byte(prefixTag)
	it := txn.NewIterator(opts)
	defer it.Close()
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		item := it.Item()
		name := string(item.Key()[len(prefix):])
		var tv TagValue
		if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &tv) }); err != nil {
			return fmt.Errorf("meta: decode tag: %w", err)
		}
		if err := fn(name, tv); err != nil {
			return err
		}
	}
	return nil
}

// ClearComplete deletes every row in the complete table.
func ClearComplete(txn *badger.Txn) error {
	return clearPrefix(txn, prefixComplete)
}

// ClearPartial deletes every row in the partial table.
func ClearPartial(txn *badger.Txn) error {
	return clearPrefix(txn, prefixPartial)
}

func clearPrefix(txn *badger.Txn, prefix string) error {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	it := txn.NewIterator(opts)
	var keys [][]byte
	p := []byte(prefix)
	for it.Seek(p); it.ValidForPrefix(p); it.Next() {
		k := it.Item().KeyCopy(nil)
		keys = append(keys, k)
	}
	it.Close()
	for _, k := range keys {
		if err := txn.Delete(k); err != nil {
			return fmt.Errorf("meta: clear %s: %w", prefix, err)
		}
	}
	return nil
}

package meta

import (
	"path/filepath"
	"testing"

	"flatstore/blobhash"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestIndex(t *testing.T) *Index {
	t.Helper()
	idx, err := Open(filepath.Join(t.TempDir(), "meta"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func sampleHash(b byte) blobhash.Hash {
	var raw [blobhash.Size]byte
	for i := range raw {
		raw[i] = b
	}
	h, _ := blobhash.FromBytes(raw[:])
	return h
}

func TestCompleteRoundTrip(t *testing.T) {
	idx := openTestIndex(t)
	h := sampleHash(1)

	err := idx.DB().Update(func(txn *badger.Txn) error {
		return PutComplete(txn, h, CompleteEntry{Size: 42, OwnedData: true})
	})
	require.NoError(t, err)

	err = idx.DB().View(func(txn *badger.Txn) error {
		entry, ok, err := GetComplete(txn, h)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, uint64(42), entry.Size)
		assert.True(t, entry.OwnedData)
		return nil
	})
	require.NoError(t, err)
}

func TestUnionCommutative(t *testing.T) {
	a := CompleteEntry{Size: 10, OwnedData: true, External: []string{"/a"}}
	b := CompleteEntry{Size: 10, OwnedData: false, External: []string{"/b"}}

	ab, err := a.Union(b)
	require.NoError(t, err)
	ba, err := b.Union(a)
	require.NoError(t, err)

	assert.Equal(t, ab.Size, ba.Size)
	assert.Equal(t, ab.OwnedData, ba.OwnedData)
	assert.ElementsMatch(t, ab.External, ba.External)
}

func TestUnionSizeMismatchFails(t *testing.T) {
	a := CompleteEntry{Size: 10}
	b := CompleteEntry{Size: 11}
	_, err := a.Union(b)
	assert.Error(t, err)
}

func TestSchemaVersionRejectsUnsupported(t *testing.T) {
	dir := t.TempDir()
	idx, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, idx.Close())

	// Corrupt the version to simulate an unsupported schema.
	idx2, err := badger.Open(badger.DefaultOptions(dir).WithLogger(nil))
	require.NoError(t, err)
	require.NoError(t, idx2.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(metaVersionKey), []byte{0, 0, 0, 0, 0, 0, 0, 99})
	}))
	require.NoError(t, idx2.Close())

	_, err = Open(dir)
	assert.Error(t, err)
}

func TestForEachCompleteIteratesAll(t *testing.T) {
	idx := openTestIndex(t)
	h1, h2 := sampleHash(1), sampleHash(2)

	err := idx.DB().Update(func(txn *badger.Txn) error {
		if err := PutComplete(txn, h1, CompleteEntry{Size: 1, OwnedData: true}); err != nil {
			return err
		}
		return PutComplete(txn, h2, CompleteEntry{Size: 2, OwnedData: true})
	})
	require.NoError(t, err)

	count := 0
	err = idx.DB().View(func(txn *badger.Txn) error {
		return ForEachComplete(txn, func(h blobhash.Hash, entry CompleteEntry) error {
			count++
			return nil
		})
	})
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestTagSetAndClear(t *testing.T) {
	idx := openTestIndex(t)
	h := sampleHash(3)

	err := idx.DB().Update(func(txn *badger.Txn) error {
		return SetTag(txn, "mytag", &TagValue{Hash: h, Format: blobhash.Raw})
	})
	require.NoError(t, err)

	err = idx.DB().View(func(txn *badger.Txn) error {
		tv, ok, err := GetTag(txn, "mytag")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, h, tv.Hash)
		return nil
	})
	require.NoError(t, err)

	err = idx.DB().Update(func(txn *badger.Txn) error {
		return SetTag(txn, "mytag", nil)
	})
	require.NoError(t, err)

	err = idx.DB().View(func(txn *badger.Txn) error {
		_, ok, err := GetTag(txn, "mytag")
		require.NoError(t, err)
		assert.False(t, ok)
		return nil
	})
	require.NoError(t, err)
}

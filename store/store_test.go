package store

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"flatstore/blobhash"
	"flatstore/outboard"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Load(DefaultOptions(t.TempDir()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestImportBytesBasicsAndReopen(t *testing.T) {
	root := t.TempDir()
	s, err := Load(DefaultOptions(root))
	require.NoError(t, err)

	tag, size, err := s.ImportBytes([]byte("hello"), blobhash.Raw)
	require.NoError(t, err)
	assert.EqualValues(t, 5, size)
	defer tag.Release()

	blobs, err := s.Blobs()
	require.NoError(t, err)
	assert.Len(t, blobs, 1)

	partials, err := s.PartialBlobs()
	require.NoError(t, err)
	assert.Empty(t, partials)

	require.NoError(t, s.Close())

	s2, err := Load(DefaultOptions(root))
	require.NoError(t, err)
	defer s2.Close()

	blobs2, err := s2.Blobs()
	require.NoError(t, err)
	assert.Len(t, blobs2, 1)
	assert.Equal(t, blobs[0], blobs2[0])
}

func TestImportBytesSmallStress(t *testing.T) {
	s := openTestStore(t)
	const n = 500 // scaled down from spec's 100_000 for fast unit-test runtime
	tags := make([]TempTag, 0, n)
	for i := 0; i < n; i++ {
		tag, _, err := s.ImportBytes([]byte(fmt.Sprintf("%d", i)), blobhash.Raw)
		require.NoError(t, err)
		tags = append(tags, tag)
	}
	blobs, err := s.Blobs()
	require.NoError(t, err)
	assert.Len(t, blobs, n)

	partials, err := s.PartialBlobs()
	require.NoError(t, err)
	assert.Empty(t, partials)

	for _, tag := range tags {
		tag.Release()
	}
}

func TestGetReturnsImportedBytes(t *testing.T) {
	s := openTestStore(t)
	tag, _, err := s.ImportBytes([]byte("content"), blobhash.Raw)
	require.NoError(t, err)
	defer tag.Release()

	entry, err := s.Get(tag.Hash())
	require.NoError(t, err)
	data, err := entry.Data.ReadAll()
	require.NoError(t, err)
	assert.Equal(t, []byte("content"), data)
	assert.Nil(t, entry.Outboard)
}

func TestPartialPromotion(t *testing.T) {
	s := openTestStore(t)
	content := make([]byte, outboard.LeafSize*2+10)
	for i := range content {
		content[i] = byte(i)
	}
	h, _, err := outboard.Compute(bytes.NewReader(content), int64(len(content)), nil)
	require.NoError(t, err)

	pe, err := s.GetOrCreatePartial(h, uint64(len(content)))
	require.NoError(t, err)
	require.NoError(t, pe.WriteDataAt(content, 0))
	require.NoError(t, pe.WriteOutboardHeader())

	status, err := s.EntryStatus(h)
	require.NoError(t, err)
	assert.Equal(t, StatusPartial, status)

	require.NoError(t, s.InsertComplete(pe))

	status, err = s.EntryStatus(h)
	require.NoError(t, err)
	assert.Equal(t, StatusComplete, status)

	entry, err := s.Get(h)
	require.NoError(t, err)
	data, err := entry.Data.ReadAll()
	require.NoError(t, err)
	assert.Equal(t, content, data)
}

func TestDeleteDoesNotConsultLiveness(t *testing.T) {
	s := openTestStore(t)
	tag, _, err := s.ImportBytes([]byte("protected"), blobhash.Raw)
	require.NoError(t, err)
	h := tag.Hash()

	assert.True(t, s.IsLive(h))
	require.NoError(t, s.Delete([]blobhash.Hash{h}))
	_, err = s.Get(h)
	assert.Error(t, err, "delete does not itself check liveness; caller must gate")

	tag.Release()
}

func TestExportByReference(t *testing.T) {
	root := t.TempDir()
	s, err := Load(DefaultOptions(root))
	require.NoError(t, err)
	defer s.Close()

	srcDir := t.TempDir()
	src := filepath.Join(srcDir, "big.bin")
	content := make([]byte, 200*1024)
	require.NoError(t, os.WriteFile(src, content, 0o644))

	tag, size, err := s.ImportFile(src, ModeCopy, blobhash.Raw)
	require.NoError(t, err)
	defer tag.Release()
	assert.EqualValues(t, len(content), size)

	target := filepath.Join(t.TempDir(), "exported.bin")
	require.NoError(t, s.Export(tag.Hash(), target, ModeTryReference, nil))

	_, err = os.Stat(target)
	require.NoError(t, err)

	entry, err := s.Get(tag.Hash())
	require.NoError(t, err)
	data, err := entry.Data.ReadAll()
	require.NoError(t, err)
	assert.Len(t, data, len(content))
}

func TestSyncMetaFromFilesIdempotent(t *testing.T) {
	s := openTestStore(t)
	tag, _, err := s.ImportBytes(make([]byte, outboard.LeafSize*3), blobhash.Raw)
	require.NoError(t, err)
	defer tag.Release()

	require.NoError(t, s.SyncMetaFromFiles())
	blobsAfterFirst, err := s.Blobs()
	require.NoError(t, err)

	require.NoError(t, s.SyncMetaFromFiles())
	blobsAfterSecond, err := s.Blobs()
	require.NoError(t, err)

	assert.ElementsMatch(t, blobsAfterFirst, blobsAfterSecond)
}

func TestSyncMetaFromFilesSurvivesSmallBlobs(t *testing.T) {
	s := openTestStore(t)
	const n = 50
	tags := make([]TempTag, 0, n)
	for i := 0; i < n; i++ {
		tag, _, err := s.ImportBytes([]byte(fmt.Sprintf("tiny-%d", i)), blobhash.Raw)
		require.NoError(t, err)
		tags = append(tags, tag)
	}
	defer func() {
		for _, tag := range tags {
			tag.Release()
		}
	}()

	before, err := s.Blobs()
	require.NoError(t, err)
	require.Len(t, before, n)

	require.NoError(t, s.SyncMetaFromFiles())

	after, err := s.Blobs()
	require.NoError(t, err)
	assert.ElementsMatch(t, before, after, "small owned blobs must survive a filesystem resync")
}

func TestOutboardWellFormedForLargeImport(t *testing.T) {
	s := openTestStore(t)
	content := make([]byte, outboard.LeafSize*5+7)
	tag, _, err := s.ImportBytes(content, blobhash.Raw)
	require.NoError(t, err)
	defer tag.Release()

	entry, err := s.Get(tag.Hash())
	require.NoError(t, err)
	require.NotNil(t, entry.Outboard)

	data, err := entry.Outboard.ReadAll()
	require.NoError(t, err)
	size, ok := outboard.DeclaredSize(data)
	require.True(t, ok)
	assert.EqualValues(t, len(content), size)
}

package outboard

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeSmallBlobHasNoOutboard(t *testing.T) {
	data := []byte("hello")
	_, ob, err := Compute(bytes.NewReader(data), int64(len(data)), nil)
	require.NoError(t, err)
	assert.Nil(t, ob)
}

func TestComputeLargeBlobWellFormed(t *testing.T) {
	data := make([]byte, LeafSize*3+123)
	for i := range data {
		data[i] = byte(i)
	}

	var progressed []uint64
	h, ob, err := Compute(bytes.NewReader(data), int64(len(data)), func(n uint64) {
		progressed = append(progressed, n)
	})
	require.NoError(t, err)
	require.NotNil(t, ob)
	assert.NotEmpty(t, progressed)

	size, ok := DeclaredSize(ob)
	require.True(t, ok)
	assert.Equal(t, uint64(len(data)), size)

	// Deterministic: recomputing over the same bytes yields the same hash
	// and outboard.
	h2, ob2, err := Compute(bytes.NewReader(data), int64(len(data)), nil)
	require.NoError(t, err)
	assert.Equal(t, h, h2)
	assert.True(t, bytes.Equal(ob, ob2))
}

func TestComputeExactlyOneLeaf(t *testing.T) {
	data := make([]byte, LeafSize)
	_, ob, err := Compute(bytes.NewReader(data), int64(len(data)), nil)
	require.NoError(t, err)
	assert.Nil(t, ob, "exactly one leaf's worth of bytes needs no tree")
}

func TestDeclaredSizeRejectsShortHeader(t *testing.T) {
	_, ok := DeclaredSize([]byte{1, 2, 3})
	assert.False(t, ok)
}

func TestOutboardSizeHeaderLittleEndian(t *testing.T) {
	data := make([]byte, LeafSize*2+1)
	_, ob, err := Compute(bytes.NewReader(data), int64(len(data)), nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(len(data)), binary.LittleEndian.Uint64(ob[:8]))
}

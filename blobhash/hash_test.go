package blobhash

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashRoundTrip(t *testing.T) {
	t.Run("round trip through Hex", func(t *testing.T) {
		var raw [Size]byte
		for i := range raw {
			raw[i] = byte(i)
		}
		h, err := FromBytes(raw[:])
		require.NoError(t, err)

		back, err := FromHex(h.Hex())
		require.NoError(t, err)
		assert.Equal(t, h, back)
	})

	t.Run("round trip through String/Parse", func(t *testing.T) {
		var raw [Size]byte
		for i := range raw {
			raw[i] = byte(255 - i)
		}
		h, err := FromBytes(raw[:])
		require.NoError(t, err)

		back, err := Parse(h.String())
		require.NoError(t, err)
		assert.Equal(t, h, back)
	})

	t.Run("wire format is exactly 32 bytes", func(t *testing.T) {
		var raw [Size]byte
		h, err := FromBytes(raw[:])
		require.NoError(t, err)
		assert.Len(t, h.Bytes(), Size)
	})

	t.Run("wrong length rejected", func(t *testing.T) {
		_, err := FromBytes(make([]byte, 31))
		assert.Error(t, err)
		_, err = FromBytes(make([]byte, 33))
		assert.Error(t, err)
	})
}

func TestHashCIDBytes(t *testing.T) {
	var raw [Size]byte
	for i := range raw {
		raw[i] = 0xab
	}
	h, err := FromBytes(raw[:])
	require.NoError(t, err)

	cidBytes := h.CIDBytes()
	require.Len(t, cidBytes, 36)
	assert.True(t, bytes.Equal(cidBytes[:4], []byte{0x01, 0x55, 0x1e, 0x20}))
	assert.True(t, bytes.Equal(cidBytes[4:], raw[:]))
}

func TestHashLess(t *testing.T) {
	var a, b Hash
	a[0], b[0] = 0x01, 0x02
	assert.True(t, a.Less(b))
	assert.False(t, b.Less(a))
}

func TestBlobFormatString(t *testing.T) {
	assert.Equal(t, "raw", Raw.String())
	assert.Equal(t, "collection", Collection.String())
}

func TestCIDFormatCarrying(t *testing.T) {
	var raw [Size]byte
	h, err := FromBytes(raw[:])
	require.NoError(t, err)

	c, err := CID(h, Raw)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), c.Version())
	assert.Equal(t, uint64(Raw), c.Type())
}

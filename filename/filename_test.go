package filename

import (
	"testing"

	"flatstore/blobhash"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleHash(b byte) blobhash.Hash {
	var raw [blobhash.Size]byte
	for i := range raw {
		raw[i] = b
	}
	h, _ := blobhash.FromBytes(raw[:])
	return h
}

func TestRoundTripAllShapes(t *testing.T) {
	h := sampleHash(0xaa)
	u := NewUuid()

	cases := []FileName{
		{Kind: CompleteData, Hash: h},
		{Kind: CompleteOutboard, Hash: h},
		{Kind: PartialData, Hash: h, Uuid: u},
		{Kind: PartialOutboard, Hash: h, Uuid: u},
		{Kind: LegacyPaths, Hash: h},
		{Kind: Meta, Hash: h},
	}

	for _, fn := range cases {
		name := Format(fn)
		t.Run(name, func(t *testing.T) {
			parsed, err := Parse(name)
			require.NoError(t, err)
			assert.Equal(t, fn, parsed)
		})
	}
}

func TestTemporaryRoundTrip(t *testing.T) {
	fn := Temporary()
	parsed, err := Parse(Format(fn))
	require.NoError(t, err)
	assert.Equal(t, fn, parsed)
}

func TestParseRejectsInvalid(t *testing.T) {
	invalid := []string{
		"foo",
		"1234.data",
		"1234ABDC.outboard",
		"1234-1234.data",
		"1234ABDC-1234.outboard",
	}
	for _, s := range invalid {
		t.Run(s, func(t *testing.T) {
			_, err := Parse(s)
			assert.Error(t, err)
		})
	}
}

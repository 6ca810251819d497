package state

import (
	"testing"

	"flatstore/blobhash"

	"github.com/stretchr/testify/assert"
)

func sampleHash(b byte) blobhash.Hash {
	var raw [blobhash.Size]byte
	for i := range raw {
		raw[i] = b
	}
	h, _ := blobhash.FromBytes(raw[:])
	return h
}

func TestLiveSet(t *testing.T) {
	s := New()
	h := sampleHash(1)
	assert.False(t, s.IsLive(h))

	s.AddLive(h)
	assert.True(t, s.IsLive(h))

	s.ClearLive()
	assert.False(t, s.IsLive(h))
}

func TestTempTagProtectsAcrossClearLive(t *testing.T) {
	s := New()
	h := sampleHash(2)

	key := s.IncTempTag(h, blobhash.Raw)
	s.ClearLive()
	assert.True(t, s.IsLive(h), "temp tag must survive clearing the live set")

	s.DecTempTag(key)
	assert.False(t, s.IsLive(h))
}

func TestTempTagRefCounting(t *testing.T) {
	s := New()
	h := sampleHash(3)

	k1 := s.IncTempTag(h, blobhash.Raw)
	k2 := s.IncTempTag(h, blobhash.Raw)
	s.DecTempTag(k1)
	assert.True(t, s.IsLive(h), "one reference remains")
	s.DecTempTag(k2)
	assert.False(t, s.IsLive(h))
}

func TestTransientLifecycle(t *testing.T) {
	s := New()
	h := sampleHash(4)

	_, ok := s.GetTransient(h)
	assert.False(t, ok)

	tr := s.GetOrCreateTransient(h)
	tr.Data = []byte("hello")

	got, ok := s.GetTransient(h)
	assert.True(t, ok)
	assert.Equal(t, []byte("hello"), got.Data)

	s.RemoveTransient(h)
	_, ok = s.GetTransient(h)
	assert.False(t, ok)
}

// Package blobhash defines the content identity primitives for the blob
// store: a 32-byte BLAKE3 hash, the small BlobFormat tag carried alongside
// it in tags, and CID helpers for display and interchange.
package blobhash

import (
	"encoding/hex"
	"fmt"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multibase"
	"github.com/multiformats/go-multihash"
)

// Size is the length in bytes of a Hash.
const Size = 32

// blake3Code is the multicodec hash-function code for BLAKE3 used in the
// CID prefix (01 55 1e 20 ...).
const blake3Code = 0x1e

// rawCodec is the multicodec "raw binary" codec used for Hash.CIDBytes.
const rawCodec = 0x55

// BlobFormat tags how a hash's bytes are structured; it does not affect
// storage. It doubles as the codec byte of the format-carrying CID.
type BlobFormat uint64

const (
	// Raw is an unstructured sequence of bytes.
	Raw BlobFormat = 0x55
	// Collection is a list of other hashes.
	Collection BlobFormat = 0x73
)

func (f BlobFormat) String() string {
	switch f {
	case Raw:
		return "raw"
	case Collection:
		return "collection"
	default:
		return fmt.Sprintf("format(%#x)", uint64(f))
	}
}

// Hash is the 32-byte BLAKE3 root of a blob's content, in total order by
// byte lexicographic comparison.
type Hash [Size]byte

// FromBytes copies b (which must be exactly Size bytes) into a Hash.
func FromBytes(b []byte) (Hash, error) {
	var h Hash
	if len(b) != Size {
		return h, fmt.Errorf("blobhash: wrong length %d, want %d", len(b), Size)
	}
	copy(h[:], b)
	return h, nil
}

// Bytes returns the raw 32-byte wire form.
func (h Hash) Bytes() []byte {
	out := make([]byte, Size)
	copy(out, h[:])
	return out
}

// Less reports whether h sorts before other in byte-lexicographic order.
func (h Hash) Less(other Hash) bool {
	for i := range h {
		if h[i] != other[i] {
			return h[i] < other[i]
		}
	}
	return false
}

// Hex returns the lowercase hex encoding used in on-disk filenames.
func (h Hash) Hex() string {
	return hex.EncodeToString(h[:])
}

// FromHex parses the lowercase hex encoding used in on-disk filenames.
func FromHex(s string) (Hash, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return Hash{}, fmt.Errorf("blobhash: invalid hex: %w", err)
	}
	return FromBytes(b)
}

// CIDBytes returns the 36-byte CID prefix "01 55 1e 20" followed by the
// 32 raw hash bytes: a CIDv1 with the raw-binary codec and the BLAKE3
// multihash function.
func (h Hash) CIDBytes() []byte {
	out := make([]byte, 0, 4+Size)
	out = append(out, 0x01, rawCodec, blake3Code, Size)
	out = append(out, h[:]...)
	return out
}

// String returns the multibase-lowercase-base32 display form of the raw
// CID bytes, e.g. "bafkr4i..." (59 characters, 'b'-prefixed).
func (h Hash) String() string {
	s, err := multibase.Encode(multibase.Base32, h.CIDBytes())
	if err != nil {
		// Base32 encoding of a fixed-length buffer cannot fail.
		panic(err)
	}
	return s
}

// Parse decodes the display form produced by String, accepting any
// multibase prefix (not only base32).
func Parse(s string) (Hash, error) {
	_, data, err := multibase.Decode(s)
	if err != nil {
		return Hash{}, fmt.Errorf("blobhash: invalid multibase string: %w", err)
	}
	if len(data) != 4+Size {
		return Hash{}, fmt.Errorf("blobhash: invalid CID length %d", len(data))
	}
	if data[0] != 0x01 || data[1] != rawCodec || data[2] != blake3Code || data[3] != Size {
		return Hash{}, fmt.Errorf("blobhash: unrecognized CID prefix %x", data[:4])
	}
	return FromBytes(data[4:])
}

// CID builds a standard go-cid CIDv1 for h using codec as the multicodec
// content-type tag (ordinarily a BlobFormat value). This is the
// format-carrying CID helper distinct from the fixed-codec CIDBytes form.
func CID(h Hash, codec BlobFormat) (cid.Cid, error) {
	mh, err := multihash.Encode(h[:], blake3Code)
	if err != nil {
		return cid.Undef, fmt.Errorf("blobhash: multihash encode: %w", err)
	}
	return cid.NewCidV1(uint64(codec), mh), nil
}

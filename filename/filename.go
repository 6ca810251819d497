// Package filename parses and formats the six well-defined on-disk
// filename shapes used by the blob store to encode a file's role.
package filename

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"flatstore/blobhash"
)

// Kind identifies which shape a FileName is: one of the six canonical
// shapes, or the temporary staging shape.
type Kind int

const (
	// CompleteData is "<hex-H>.data".
	CompleteData Kind = iota
	// CompleteOutboard is "<hex-H>.obao4".
	CompleteOutboard
	// PartialData is "<hex-H>-<hex-U>.data".
	PartialData
	// PartialOutboard is "<hex-H>-<hex-U>.obao4".
	PartialOutboard
	// LegacyPaths is "<hex-H>.paths", the legacy external-paths list.
	LegacyPaths
	// Meta is "<hex-blob>.meta".
	Meta
	// TemporaryStaging is "<hex-U>.temp", an anonymous staging file used
	// while importing before the hash is known.
	TemporaryStaging
)

const (
	extData  = ".data"
	extOBao4 = ".obao4"
	extPaths = ".paths"
	extMeta  = ".meta"
	extTemp  = ".temp"
)

// FileName is a parsed on-disk filename. Hash and Uuid are populated
// according to Kind: complete/legacy/meta variants carry only Hash;
// partial variants carry both; TemporaryStaging carries only Uuid.
type FileName struct {
	Kind Kind
	Hash blobhash.Hash
	Uuid [16]byte
}

// Format renders f back to its canonical filename.
func Format(f FileName) string {
	switch f.Kind {
	case CompleteData:
		return f.Hash.Hex() + extData
	case CompleteOutboard:
		return f.Hash.Hex() + extOBao4
	case PartialData:
		return f.Hash.Hex() + "-" + hex.EncodeToString(f.Uuid[:]) + extData
	case PartialOutboard:
		return f.Hash.Hex() + "-" + hex.EncodeToString(f.Uuid[:]) + extOBao4
	case LegacyPaths:
		return f.Hash.Hex() + extPaths
	case Meta:
		return f.Hash.Hex() + extMeta
	case TemporaryStaging:
		return hex.EncodeToString(f.Uuid[:]) + extTemp
	default:
		panic(fmt.Sprintf("filename: unknown kind %d", f.Kind))
	}
}

// Parse recognizes one of the six canonical filename shapes or the
// temporary staging shape ("<hex-U>.temp"). Anything else
// (wrong hex length, extra dashes, unknown extension, uppercase hex) is
// rejected.
func Parse(name string) (FileName, error) {
	dot := strings.LastIndexByte(name, '.')
	if dot < 0 {
		return FileName{}, fmt.Errorf("filename: no extension in %q", name)
	}
	base, ext := name[:dot], name[dot:]

	var kind Kind
	switch ext {
	case extData:
		kind = CompleteData // refined to PartialData below if a dash is found
	case extOBao4:
		kind = CompleteOutboard
	case extPaths:
		kind = LegacyPaths
	case extMeta:
		kind = Meta
	case extTemp:
		kind = TemporaryStaging
	default:
		return FileName{}, fmt.Errorf("filename: unrecognized extension %q", ext)
	}

	if kind == TemporaryStaging {
		u, err := parseHexFixed(base, 16)
		if err != nil {
			return FileName{}, fmt.Errorf("filename: %w", err)
		}
		var fn FileName
		fn.Kind = TemporaryStaging
		copy(fn.Uuid[:], u)
		return fn, nil
	}

	if dashIdx := strings.IndexByte(base, '-'); dashIdx >= 0 {
		// Only .data/.obao4 may carry a uuid half.
		if ext != extData && ext != extOBao4 {
			return FileName{}, fmt.Errorf("filename: unexpected dash in %q", name)
		}
		if strings.IndexByte(base[dashIdx+1:], '-') >= 0 {
			return FileName{}, fmt.Errorf("filename: multiple dashes in %q", name)
		}
		hHex, uHex := base[:dashIdx], base[dashIdx+1:]
		h, err := parseHexFixed(hHex, blobhash.Size)
		if err != nil {
			return FileName{}, fmt.Errorf("filename: %w", err)
		}
		u, err := parseHexFixed(uHex, 16)
		if err != nil {
			return FileName{}, fmt.Errorf("filename: %w", err)
		}
		var fn FileName
		if ext == extData {
			fn.Kind = PartialData
		} else {
			fn.Kind = PartialOutboard
		}
		hh, err := blobhash.FromBytes(h)
		if err != nil {
			return FileName{}, fmt.Errorf("filename: %w", err)
		}
		fn.Hash = hh
		copy(fn.Uuid[:], u)
		return fn, nil
	}

	h, err := parseHexFixed(base, blobhash.Size)
	if err != nil {
		return FileName{}, fmt.Errorf("filename: %w", err)
	}
	hh, err := blobhash.FromBytes(h)
	if err != nil {
		return FileName{}, fmt.Errorf("filename: %w", err)
	}
	return FileName{Kind: kind, Hash: hh}, nil
}

// parseHexFixed decodes s as lowercase hex and requires it decode to
// exactly n bytes; any uppercase character is rejected since the codec is
// lowercase-hex-only.
func parseHexFixed(s string, n int) ([]byte, error) {
	if len(s) != n*2 {
		return nil, fmt.Errorf("wrong length %d, want %d hex chars", len(s), n*2)
	}
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return nil, fmt.Errorf("non-lowercase-hex character %q", c)
		}
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid hex: %w", err)
	}
	return b, nil
}

// NewUuid returns 16 cryptographically random bytes, used to disambiguate
// concurrent partial downloads of the same hash.
func NewUuid() [16]byte {
	var u [16]byte
	if _, err := rand.Read(u[:]); err != nil {
		panic(err)
	}
	return u
}

// Temporary returns a fresh anonymous staging FileName, used by the import
// pipeline before the eventual hash is known.
func Temporary() FileName {
	return FileName{Kind: TemporaryStaging, Uuid: NewUuid()}
}

// Package outboard computes the BLAKE3 root hash and pre-order "outboard"
// auxiliary tree for a blob, chunked into 16384-byte leaves (the "obao4"
// format: 2^4 * 1024 bytes per leaf).
//
// The tree is built directly in pre-order (node before its subtrees)
// using BLAKE3 itself as the combining primitive, rather than a
// post-order build followed by a reversal pass.
package outboard

import (
	"encoding/binary"
	"io"

	"flatstore/blobhash"

	"lukechampine.com/blake3"
)

// LeafSize is the chunk-group size in bytes for one outboard leaf.
const LeafSize = 16384

// InvalidInputError reports a size that cannot be addressed on this
// platform (mirrors spec.md's InvalidInput error kind for
// compute_outboard).
type InvalidInputError struct {
	Size int64
}

func (e *InvalidInputError) Error() string {
	return "outboard: size out of addressable range"
}

// Compute streams r (which must yield exactly size bytes) through a
// 1 MiB buffer, invoking progress with the cumulative byte count read so
// far after every buffer refill, and returns the blob's BLAKE3 hash and
// its pre-order outboard bytes. If size <= LeafSize, outboard is nil: no
// tree is needed and the 8-byte size is implicit.
//
// Compute does not detect concurrent mutation of the underlying file;
// callers must quiesce the source before calling (the import pipeline
// stages copy-mode, byte and stream imports into the partial area first;
// reference-mode imports are hashed in place).
func Compute(r io.Reader, size int64, progress func(read uint64)) (blobhash.Hash, []byte, error) {
	if size < 0 {
		return blobhash.Hash{}, nil, &InvalidInputError{Size: size}
	}

	hasher := blake3.New(32, nil)
	buf := make([]byte, 1<<20)
	leafBuf := make([]byte, 0, LeafSize)
	var leaves [][32]byte
	var total uint64

	flushLeaf := func() {
		leaves = append(leaves, hashLeaf(leafBuf))
		leafBuf = leafBuf[:0]
	}

	for {
		n, err := r.Read(buf)
		if n > 0 {
			hasher.Write(buf[:n])
			total += uint64(n)
			if progress != nil {
				progress(total)
			}
			data := buf[:n]
			for len(data) > 0 {
				space := LeafSize - len(leafBuf)
				take := space
				if take > len(data) {
					take = len(data)
				}
				leafBuf = append(leafBuf, data[:take]...)
				data = data[take:]
				if len(leafBuf) == LeafSize {
					flushLeaf()
				}
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return blobhash.Hash{}, nil, err
		}
	}
	if len(leafBuf) > 0 {
		flushLeaf()
	}

	var sum [32]byte
	hasher.Sum(sum[:0])
	h, err := blobhash.FromBytes(sum[:])
	if err != nil {
		return blobhash.Hash{}, nil, err
	}

	if size <= LeafSize {
		return h, nil, nil
	}

	var tree []byte
	buildPreOrder(&tree, leaves, 0, len(leaves))

	out := make([]byte, 8+len(tree))
	binary.LittleEndian.PutUint64(out[:8], uint64(size))
	copy(out[8:], tree)
	return h, out, nil
}

// DeclaredSize reads the authoritative 8-byte little-endian size header
// from the first 8 bytes of an outboard file.
func DeclaredSize(outboardHead []byte) (uint64, bool) {
	if len(outboardHead) < 8 {
		return 0, false
	}
	return binary.LittleEndian.Uint64(outboardHead[:8]), true
}

// hashLeaf domain-separates leaf hashing from internal-node combination.
func hashLeaf(chunk []byte) [32]byte {
	h := blake3.New(32, nil)
	h.Write([]byte{0x00})
	h.Write(chunk)
	var out [32]byte
	h.Sum(out[:0])
	return out
}

func combine(left, right [32]byte) [32]byte {
	h := blake3.New(32, nil)
	h.Write([]byte{0x01})
	h.Write(left[:])
	h.Write(right[:])
	var out [32]byte
	h.Sum(out[:0])
	return out
}

// buildPreOrder recursively writes the 64-byte (left-hash || right-hash)
// record for every internal node in pre-order (node before its subtrees)
// into *buf, following BLAKE3's own left-subtree-size rule (the largest
// power of two strictly less than the leaf count), and returns the
// subtree's combined hash.
func buildPreOrder(buf *[]byte, leaves [][32]byte, lo, count int) [32]byte {
	if count == 1 {
		return leaves[lo]
	}
	leftCount := largestPow2LessThan(count)
	nodeIdx := len(*buf)
	*buf = append(*buf, make([]byte, 64)...)
	left := buildPreOrder(buf, leaves, lo, leftCount)
	right := buildPreOrder(buf, leaves, lo+leftCount, count-leftCount)
	copy((*buf)[nodeIdx:nodeIdx+32], left[:])
	copy((*buf)[nodeIdx+32:nodeIdx+64], right[:])
	return combine(left, right)
}

func largestPow2LessThan(n int) int {
	p := 1
	for p*2 < n {
		p *= 2
	}
	return p
}

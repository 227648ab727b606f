// Package domain holds the core types of the fuzzy hash store: hashes,
// stored records, and the wire commands that operate on them.
package domain

import "bytes"

const (
	// PipeSize is the fixed length of a fuzzy hash payload in bytes.
	PipeSize = 64

	// NumBuckets is the number of block-size buckets in the index.
	NumBuckets = 1024
)

// FuzzyHash is a fixed-width fuzzy fingerprint of a message part.
// Pipe is the hash payload; BlockSize classifies which hashes are
// directly comparable.
type FuzzyHash struct {
	Pipe      [PipeSize]byte
	BlockSize uint32
}

// NewFuzzyHash builds a FuzzyHash from a payload of up to PipeSize bytes
// and a block size. Shorter payloads are zero padded, longer ones truncated.
func NewFuzzyHash(pipe []byte, blockSize uint32) FuzzyHash {
	var h FuzzyHash
	copy(h.Pipe[:], pipe)
	h.BlockSize = blockSize
	return h
}

// Bucket returns the index bucket this hash belongs to.
func (h FuzzyHash) Bucket() int {
	return int(h.BlockSize % NumBuckets)
}

// PipeBytes returns the payload truncated at the first NUL, matching the
// string semantics of the similarity metric.
func (h FuzzyHash) PipeBytes() []byte {
	if i := bytes.IndexByte(h.Pipe[:], 0); i >= 0 {
		return h.Pipe[:i]
	}
	return h.Pipe[:]
}

// Record is a stored fuzzy hash together with its insertion time in
// seconds since the epoch. Time is used only for TTL expiry during
// snapshotting.
type Record struct {
	Hash FuzzyHash
	Time uint64
}

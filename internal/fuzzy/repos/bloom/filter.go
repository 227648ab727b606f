// Package bloom provides the membership filter guarding index lookups.
// It is a fast negative oracle: a negative answer means the key was never
// stored, a positive answer means it may have been.
package bloom

import (
	"sync"

	"github.com/bits-and-blooms/bitset"
	bitsbloom "github.com/bits-and-blooms/bloom/v3"
)

// Filter is a deletable Bloom filter. Bit positions are derived with the
// double-hashing scheme from bits-and-blooms; the backing bit array is a
// plain bitset so Del can clear bits again. Deleting may clear bits shared
// with other keys, so MightContain can turn falsely negative for those —
// the store accepts this trade, matching its non-counting heritage.
type Filter struct {
	mu   sync.RWMutex
	bits *bitset.BitSet
	m    uint64
	k    uint
}

// New creates a Filter with m bits and k hash functions.
func New(m uint64, k uint) *Filter {
	if m == 0 {
		m = 1
	}
	if k == 0 {
		k = 1
	}
	return &Filter{
		bits: bitset.New(uint(m)),
		m:    m,
		k:    k,
	}
}

// NewWithEstimates creates a Filter sized for the given capacity and
// target false-positive rate.
func NewWithEstimates(capacity uint64, fpRate float64) *Filter {
	m, k := size(capacity, fpRate)
	return New(m, uint(k))
}

// locations maps key to its k bit positions.
func (f *Filter) locations(key []byte) []uint64 {
	locs := bitsbloom.Locations(key, f.k)
	for i := range locs {
		locs[i] %= f.m
	}
	return locs
}

// Add sets the k bits for key.
func (f *Filter) Add(key []byte) {
	locs := f.locations(key)
	f.mu.Lock()
	for _, l := range locs {
		f.bits.Set(uint(l))
	}
	f.mu.Unlock()
}

// Del clears the k bits for key.
func (f *Filter) Del(key []byte) {
	locs := f.locations(key)
	f.mu.Lock()
	for _, l := range locs {
		f.bits.Clear(uint(l))
	}
	f.mu.Unlock()
}

// MightContain reports whether key may have been added. False means the
// key is definitely absent.
func (f *Filter) MightContain(key []byte) bool {
	locs := f.locations(key)
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, l := range locs {
		if !f.bits.Test(uint(l)) {
			return false
		}
	}
	return true
}

// Bits returns the size of the bit array.
func (f *Filter) Bits() uint64 { return f.m }

// Hashes returns the number of hash functions.
func (f *Filter) Hashes() uint { return f.k }

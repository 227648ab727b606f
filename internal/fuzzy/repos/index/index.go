// Package index implements the in-memory bucketed store of fuzzy hash
// records. Records are partitioned into buckets by block size and kept in
// insertion order, newest first. Every lookup is guarded by a membership
// filter so misses stay cheap.
package index

import (
	"container/list"

	"github.com/haukened/fuzzystore/internal/fuzzy/domain"
)

// Membership is the filter contract the index needs: a fast negative
// oracle updated on every mutation.
type Membership interface {
	Add(key []byte)
	Del(key []byte)
	MightContain(key []byte) bool
}

// Index is the bucketed record store. It is not safe for concurrent use;
// the owning service serializes access.
type Index struct {
	buckets [domain.NumBuckets]*list.List
	bloom   Membership
	count   int
}

// New creates an empty Index guarded by the given membership filter.
func New(bloom Membership) *Index {
	idx := &Index{bloom: bloom}
	for i := range idx.buckets {
		idx.buckets[i] = list.New()
	}
	return idx
}

// Len returns the number of stored records.
func (idx *Index) Len() int {
	return idx.count
}

// Check reports whether a stored record matches h within the similarity
// threshold. It returns the winning score when found. The index is not
// mutated.
func (idx *Index) Check(h domain.FuzzyHash) (int, bool) {
	if !idx.bloom.MightContain(h.Pipe[:]) {
		return 0, false
	}
	for e := idx.buckets[h.Bucket()].Front(); e != nil; e = e.Next() {
		rec := e.Value.(*domain.Record)
		if prob := domain.Similarity(rec.Hash, h); prob > domain.LevLimit {
			return prob, true
		}
	}
	return 0, false
}

// Write inserts h with the given timestamp at the head of its bucket.
// It returns false when the filter already claims the hash is present,
// in which case nothing is stored.
func (idx *Index) Write(h domain.FuzzyHash, now uint64) bool {
	if idx.bloom.MightContain(h.Pipe[:]) {
		return false
	}
	idx.buckets[h.Bucket()].PushFront(&domain.Record{Hash: h, Time: now})
	idx.bloom.Add(h.Pipe[:])
	idx.count++
	return true
}

// Delete removes every record matching h within the similarity threshold
// and returns how many were removed.
func (idx *Index) Delete(h domain.FuzzyHash) int {
	if !idx.bloom.MightContain(h.Pipe[:]) {
		return 0
	}
	removed := 0
	bucket := idx.buckets[h.Bucket()]
	for e := bucket.Front(); e != nil; {
		rec := e.Value.(*domain.Record)
		next := e.Next()
		if domain.Similarity(rec.Hash, h) > domain.LevLimit {
			bucket.Remove(e)
			idx.bloom.Del(rec.Hash.Pipe[:])
			idx.count--
			removed++
		}
		e = next
	}
	return removed
}

// Load head-inserts a record read from the snapshot file and registers it
// with the filter. Unlike Write it bypasses the presence guard: the
// snapshot is trusted.
func (idx *Index) Load(rec domain.Record) {
	r := rec
	idx.buckets[rec.Hash.Bucket()].PushFront(&r)
	idx.bloom.Add(r.Hash.Pipe[:])
	idx.count++
}

// Sweep walks every bucket in order. Records older than ttl relative to
// now are evicted (removed from the bucket and the filter); all others are
// passed to emit. A non-nil error from emit aborts the walk.
func (idx *Index) Sweep(now, ttl uint64, emit func(domain.Record) error) (kept, evicted int, err error) {
	for i := range idx.buckets {
		bucket := idx.buckets[i]
		for e := bucket.Front(); e != nil; {
			rec := e.Value.(*domain.Record)
			next := e.Next()
			if now-rec.Time > ttl {
				bucket.Remove(e)
				idx.bloom.Del(rec.Hash.Pipe[:])
				idx.count--
				evicted++
				e = next
				continue
			}
			if err = emit(*rec); err != nil {
				return kept, evicted, err
			}
			kept++
			e = next
		}
	}
	return kept, evicted, nil
}

// Walk visits every record in bucket order until visit returns false.
func (idx *Index) Walk(visit func(domain.Record) bool) {
	for i := range idx.buckets {
		for e := idx.buckets[i].Front(); e != nil; e = e.Next() {
			if !visit(*e.Value.(*domain.Record)) {
				return
			}
		}
	}
}

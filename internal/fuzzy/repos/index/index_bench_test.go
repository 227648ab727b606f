package index

import (
	"fmt"
	"testing"

	"github.com/haukened/fuzzystore/internal/fuzzy/domain"
	"github.com/haukened/fuzzystore/internal/fuzzy/repos/bloom"
)

func benchIndex(n int) (*Index, []domain.FuzzyHash) {
	idx := New(bloom.New(1<<22, 4))
	hashes := make([]domain.FuzzyHash, n)
	for i := range hashes {
		hashes[i] = domain.NewFuzzyHash(
			[]byte(fmt.Sprintf("bench-hash-%08d-%048d", i, i)), uint32(i%64)*128)
		idx.Write(hashes[i], uint64(i))
	}
	return idx, hashes
}

func BenchmarkIndex_CheckHit(b *testing.B) {
	idx, hashes := benchIndex(10000)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		idx.Check(hashes[i%len(hashes)])
	}
}

func BenchmarkIndex_CheckMiss(b *testing.B) {
	idx, _ := benchIndex(10000)
	probe := domain.NewFuzzyHash([]byte("never-stored-probe"), 128)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		idx.Check(probe)
	}
}

func BenchmarkIndex_Write(b *testing.B) {
	idx := New(bloom.New(1<<24, 4))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		h := domain.NewFuzzyHash([]byte(fmt.Sprintf("write-bench-%016d", i)), uint32(i))
		idx.Write(h, uint64(i))
	}
}

package domain

// LevLimit is the decision threshold for fuzzy matches: two hashes are
// considered the same message part when Similarity exceeds it.
const LevLimit = 99

// Similarity scores how alike two fuzzy hashes are on a 0..100 scale.
// Hashes with different block sizes are never comparable and score 0.
// The score is edit-distance based on the NUL-trimmed pipes:
//
//	100 - (2 * d * 100) / (len(a) + len(b))
//
// where d is the Levenshtein distance. Identical hashes score 100.
func Similarity(a, b FuzzyHash) int {
	if a.BlockSize != b.BlockSize {
		return 0
	}

	pa := a.PipeBytes()
	pb := b.PipeBytes()
	if len(pa) == 0 && len(pb) == 0 {
		return 100
	}

	d := levenshtein(pa, pb)
	score := 100 - (2*d*100)/(len(pa)+len(pb))
	if score < 0 {
		score = 0
	}
	return score
}

// levenshtein computes the edit distance between a and b using the
// two-row dynamic programming formulation.
func levenshtein(a, b []byte) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := 0; j <= len(b); j++ {
		prev[j] = j
	}

	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, min(curr[j-1]+1, prev[j-1]+cost))
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}

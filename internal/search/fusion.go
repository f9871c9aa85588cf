package search

import (
	"sort"

	"github.com/docquill/docquill/internal/store"
)

// DefaultRRFConstant is the standard RRF smoothing parameter. k=60 is the
// conventional value used across search engines.
const DefaultRRFConstant = 60

// Fuse merges a BM25 ranking and a vector ranking with Reciprocal Rank
// Fusion: each candidate scores the sum over the lists containing it of
// 1/(rrfConstant + rank), with 1-based ranks. A candidate in both lists
// accumulates both contributions.
//
// Ties break toward the candidate ranked higher in the vector list, then by
// lower chunk index. Output length is min(k, |union of inputs|). The function
// is pure: identical inputs always produce the identical ordering.
func Fuse(bm25 []store.LexicalResult, vec []store.VectorResult, k, rrfConstant int) []RetrievalCandidate {
	if rrfConstant <= 0 {
		rrfConstant = DefaultRRFConstant
	}
	if len(bm25) == 0 && len(vec) == 0 {
		return []RetrievalCandidate{}
	}

	candidates := make(map[int]*RetrievalCandidate, len(bm25)+len(vec))

	for i, r := range bm25 {
		rank := i + 1
		candidates[r.ChunkIndex] = &RetrievalCandidate{
			ChunkIndex: r.ChunkIndex,
			Source:     SourceBM25,
			BM25Rank:   rank,
			BM25Score:  r.Score,
			Score:      1.0 / float64(rrfConstant+rank),
		}
	}

	for i, r := range vec {
		rank := i + 1
		if c, ok := candidates[r.ChunkIndex]; ok {
			c.Source = SourceBoth
			c.VectorRank = rank
			c.VectorScore = float64(r.Similarity)
			c.Score += 1.0 / float64(rrfConstant+rank)
			continue
		}
		candidates[r.ChunkIndex] = &RetrievalCandidate{
			ChunkIndex:  r.ChunkIndex,
			Source:      SourceVector,
			VectorRank:  rank,
			VectorScore: float64(r.Similarity),
			Score:       1.0 / float64(rrfConstant+rank),
		}
	}

	fused := make([]RetrievalCandidate, 0, len(candidates))
	for _, c := range candidates {
		fused = append(fused, *c)
	}

	sort.Slice(fused, func(i, j int) bool {
		a, b := fused[i], fused[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if ar, br := vectorTieRank(a), vectorTieRank(b); ar != br {
			return ar < br
		}
		return a.ChunkIndex < b.ChunkIndex
	})

	if k > 0 && k < len(fused) {
		fused = fused[:k]
	}
	return fused
}

// vectorTieRank orders tie-broken candidates by vector rank, with absent
// candidates after every present one.
func vectorTieRank(c RetrievalCandidate) int {
	if c.VectorRank == 0 {
		return int(^uint(0) >> 1)
	}
	return c.VectorRank
}

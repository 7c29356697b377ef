package usecase

import (
	"sort"

	"github.com/Autopsias/raglite/internal/core/domain"
)

type fusedCandidate struct {
	chunk domain.Chunk
	score float64
}

// fuseChunksRRF merges dense and lexical hits of the vector path with
// reciprocal-rank fusion. The fused score replaces the raw scores.
func fuseChunksRRF(dense, lexical []domain.ScoredChunk, rrfK int) []domain.ScoredChunk {
	if rrfK <= 0 {
		rrfK = 60
	}

	acc := make(map[string]fusedCandidate, len(dense)+len(lexical))
	addList := func(hits []domain.ScoredChunk) {
		for rank, hit := range hits {
			candidate := acc[hit.Chunk.ID]
			candidate.chunk = preferRicherChunk(candidate.chunk, hit.Chunk)
			candidate.score += 1.0 / float64(rrfK+rank+1)
			acc[hit.Chunk.ID] = candidate
		}
	}

	addList(dense)
	addList(lexical)

	out := make([]domain.ScoredChunk, 0, len(acc))
	for _, c := range acc {
		out = append(out, domain.ScoredChunk{Chunk: c.chunk, Score: c.score})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Chunk.ID < out[j].Chunk.ID
	})

	return out
}

func trimChunks(hits []domain.ScoredChunk, limit int) []domain.ScoredChunk {
	if limit <= 0 || len(hits) <= limit {
		return hits
	}
	return hits[:limit]
}

func preferRicherChunk(current, candidate domain.Chunk) domain.Chunk {
	if current.ID == "" && current.Text == "" {
		return candidate
	}
	if current.Text == "" && candidate.Text != "" {
		current.Text = candidate.Text
		current.TokenCount = candidate.TokenCount
	}
	if current.Header == "" && candidate.Header != "" {
		current.Header = candidate.Header
	}
	if current.SourceTableID == "" && candidate.SourceTableID != "" {
		current.SourceTableID = candidate.SourceTableID
	}
	if current.PageStart == 0 && candidate.PageStart != 0 {
		current.PageStart = candidate.PageStart
		current.PageEnd = candidate.PageEnd
	}
	if current.Type == "" && candidate.Type != "" {
		current.Type = candidate.Type
	}
	return current
}

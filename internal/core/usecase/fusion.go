package usecase

import (
	"math"
	"sort"
	"strings"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/Autopsias/raglite/internal/core/domain"
)

// ResultFusionEngine merges structured and vector hits into one ranked
// evidence list.
type ResultFusionEngine struct {
	policy RetrievalPolicy
}

func NewResultFusionEngine(policy RetrievalPolicy) *ResultFusionEngine {
	return &ResultFusionEngine{policy: policy.withDefaults()}
}

type scoredItem struct {
	item   domain.EvidenceItem
	length int
}

// Fuse is deterministic for identical inputs regardless of input order of
// equally scored items.
func (e *ResultFusionEngine) Fuse(facts []domain.ScoredFact, chunks []domain.ScoredChunk) []domain.EvidenceItem {
	facts = dedupeFacts(facts)
	chunks = dedupeChunks(chunks)
	if len(facts) == 0 && len(chunks) == 0 {
		return []domain.EvidenceItem{}
	}

	structured := make([]float64, len(facts))
	for i, f := range facts {
		structured[i] = clamp01(f.Relevance * f.Fact.Confidence)
	}
	vector := normalizeScores(lo.Map(chunks, func(c domain.ScoredChunk, _ int) float64 { return c.Score }))

	// Facts and chunks from the same source table form linked pairs.
	tableChunks := make(map[string][]int)
	for i, c := range chunks {
		if c.Chunk.SourceTableID != "" {
			tableChunks[c.Chunk.SourceTableID] = append(tableChunks[c.Chunk.SourceTableID], i)
		}
	}

	hybrid := len(facts) > 0 && len(chunks) > 0
	sw, vw := e.policy.StructuredWeight, e.policy.VectorWeight

	out := make([]scoredItem, 0, len(facts)+len(chunks))
	for i, f := range facts {
		fact := f.Fact
		item := domain.EvidenceItem{
			ID:     factEvidenceID(fact.ID),
			Source: domain.SourceFact,
			Fact:   &fact,
			Attribution: domain.Attribution{
				Page: fact.SourcePage, TableID: fact.SourceTableID, ChunkID: fact.SourceChunkID,
			},
		}
		score := structured[i]
		if hybrid {
			partner := 0.0
			linked := linkedChunkIndexes(fact, chunks, tableChunks)
			for _, j := range linked {
				partner = math.Max(partner, vector[j])
				item.LinkedIDs = append(item.LinkedIDs, chunkEvidenceID(chunks[j].Chunk.ID))
			}
			if len(linked) > 0 && !valueInAnyChunk(fact.Value, chunks, linked) {
				item.Warnings = append(item.Warnings, domain.WarningValueNotInSource)
			}
			score = sw*structured[i] + vw*partner
		}
		item.RelevanceScore = clamp01(score)
		sort.Strings(item.LinkedIDs)
		out = append(out, scoredItem{item: item})
	}

	for j, c := range chunks {
		chunk := c.Chunk
		chunk.Embedding = nil
		item := domain.EvidenceItem{
			ID:     chunkEvidenceID(chunk.ID),
			Source: domain.SourceChunk,
			Chunk:  &chunk,
			Attribution: domain.Attribution{
				Page: chunk.PageStart, TableID: chunk.SourceTableID, ChunkID: chunk.ID,
			},
		}
		score := vector[j]
		if hybrid {
			partner := 0.0
			for i, f := range facts {
				if !factLinksChunk(f.Fact, chunk) {
					continue
				}
				partner = math.Max(partner, structured[i])
				item.LinkedIDs = append(item.LinkedIDs, factEvidenceID(f.Fact.ID))
			}
			score = sw*partner + vw*vector[j]
		}
		item.RelevanceScore = clamp01(score)
		sort.Strings(item.LinkedIDs)
		out = append(out, scoredItem{item: item, length: chunkLength(chunk)})
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.item.RelevanceScore != b.item.RelevanceScore {
			return a.item.RelevanceScore > b.item.RelevanceScore
		}
		if a.item.Source != b.item.Source {
			return a.item.Source == domain.SourceFact
		}
		if a.item.Attribution.Page != b.item.Attribution.Page {
			return a.item.Attribution.Page < b.item.Attribution.Page
		}
		if a.length != b.length {
			return a.length < b.length
		}
		return a.item.ID < b.item.ID
	})

	items := make([]domain.EvidenceItem, len(out))
	for i, s := range out {
		items[i] = s.item
	}
	return items
}

// normalizeScores rescales a batch linearly against its own min and max.
func normalizeScores(values []float64) []float64 {
	out := make([]float64, len(values))
	if len(values) == 0 {
		return out
	}

	minScore, maxScore := values[0], values[0]
	for _, v := range values[1:] {
		minScore = math.Min(minScore, v)
		maxScore = math.Max(maxScore, v)
	}

	rangeScore := maxScore - minScore
	for i, v := range values {
		if rangeScore <= 0 {
			if v > 0 {
				out[i] = 1
			}
			continue
		}
		out[i] = (v - minScore) / rangeScore
	}
	return out
}

func linkedChunkIndexes(fact domain.Fact, chunks []domain.ScoredChunk, byTable map[string][]int) []int {
	seen := make(map[int]struct{})
	out := make([]int, 0, 2)
	for _, j := range byTable[fact.SourceTableID] {
		seen[j] = struct{}{}
		out = append(out, j)
	}
	if fact.SourceChunkID != "" {
		for j, c := range chunks {
			if _, ok := seen[j]; !ok && c.Chunk.ID == fact.SourceChunkID {
				out = append(out, j)
			}
		}
	}
	sort.Ints(out)
	return out
}

func factLinksChunk(fact domain.Fact, chunk domain.Chunk) bool {
	if fact.SourceTableID != "" && fact.SourceTableID == chunk.SourceTableID {
		return true
	}
	return fact.SourceChunkID != "" && fact.SourceChunkID == chunk.ID
}

// valueInAnyChunk looks for the fact value, ignoring sign, among the numbers
// printed in the linked chunks.
func valueInAnyChunk(value decimal.Decimal, chunks []domain.ScoredChunk, indexes []int) bool {
	for _, j := range indexes {
		if textHasValue(chunks[j].Chunk.Text, value) {
			return true
		}
	}
	return false
}

func textHasValue(text string, value decimal.Decimal) bool {
	want := value.Abs()
	for _, field := range strings.FieldsFunc(text, isNumberSeparator) {
		for _, locale := range []string{"", "en", "eu"} {
			got, _, status := parseCellNumber(field, locale)
			if status == cellNumeric && got.Abs().Equal(want) {
				return true
			}
		}
	}
	return false
}

func isNumberSeparator(r rune) bool {
	switch r {
	case '|', '\t', '\n', ';', ' ':
		return true
	}
	return false
}

func dedupeFacts(facts []domain.ScoredFact) []domain.ScoredFact {
	best := make(map[string]int, len(facts))
	out := make([]domain.ScoredFact, 0, len(facts))
	for _, f := range facts {
		if i, ok := best[f.Fact.ID]; ok {
			if f.Relevance > out[i].Relevance {
				out[i] = f
			}
			continue
		}
		best[f.Fact.ID] = len(out)
		out = append(out, f)
	}
	return out
}

func dedupeChunks(chunks []domain.ScoredChunk) []domain.ScoredChunk {
	best := make(map[string]int, len(chunks))
	out := make([]domain.ScoredChunk, 0, len(chunks))
	for _, c := range chunks {
		if i, ok := best[c.Chunk.ID]; ok {
			if c.Score > out[i].Score {
				out[i] = c
			}
			continue
		}
		best[c.Chunk.ID] = len(out)
		out = append(out, c)
	}
	return out
}

func chunkLength(c domain.Chunk) int {
	if c.TokenCount > 0 {
		return c.TokenCount
	}
	return len(c.Text)
}

func factEvidenceID(id string) string  { return "fact:" + id }
func chunkEvidenceID(id string) string { return "chunk:" + id }

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

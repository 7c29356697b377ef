package domain

import (
	"fmt"
	"strings"
)

type EvidenceSource string

const (
	SourceFact  EvidenceSource = "fact"
	SourceChunk EvidenceSource = "chunk"
)

type Attribution struct {
	Page    int    `json:"page"`
	TableID string `json:"table_id,omitempty"`
	ChunkID string `json:"chunk_id,omitempty"`
}

const WarningValueNotInSource = "value_not_in_source_chunk"

// EvidenceItem is one ranked unit of evidence. Exactly one of Fact and Chunk
// is set, according to Source.
type EvidenceItem struct {
	ID             string         `json:"id"`
	Source         EvidenceSource `json:"source"`
	Fact           *Fact          `json:"fact,omitempty"`
	Chunk          *Chunk         `json:"chunk,omitempty"`
	RelevanceScore float64        `json:"relevance_score"`
	Attribution    Attribution    `json:"attribution"`
	LinkedIDs      []string       `json:"linked_ids,omitempty"`
	Warnings       []string       `json:"warnings,omitempty"`
}

type RetrievalPath string

const (
	PathStructured RetrievalPath = "structured"
	PathVector     RetrievalPath = "vector"
)

const (
	PathReasonTimeout          = "timeout"
	PathReasonStoreUnavailable = "store_unavailable"
	PathReasonNoStructuredPath = "no_structured_path"
)

// PathStatus describes the outcome of one retrieval path.
type PathStatus struct {
	Path    RetrievalPath `json:"path"`
	Reason  string        `json:"reason,omitempty"`
	Results int           `json:"results"`
}

// RetrievalResult is the output of the orchestrator.
type RetrievalResult struct {
	Query    Query          `json:"query"`
	Route    Route          `json:"route"`
	Evidence []EvidenceItem `json:"evidence"`
	Degraded bool           `json:"degraded"`
	Paths    []PathStatus   `json:"paths"`
	Notes    []string       `json:"notes,omitempty"`
}

// Answer is the downstream text-generation output over a retrieval result.
type Answer struct {
	Text     string         `json:"text"`
	Evidence []EvidenceItem `json:"evidence"`
	Route    Route          `json:"route"`
	Degraded bool           `json:"degraded"`
}

// Citation renders the attribution of an evidence item for prompts and
// user-facing references.
func (e EvidenceItem) Citation() string {
	parts := []string{fmt.Sprintf("page=%d", e.Attribution.Page)}
	if e.Attribution.TableID != "" {
		parts = append(parts, "table="+e.Attribution.TableID)
	}
	if e.Attribution.ChunkID != "" {
		parts = append(parts, "chunk="+e.Attribution.ChunkID)
	}
	return strings.Join(parts, ", ")
}

// Content renders the evidence body: the fact as a sentence or the chunk
// text.
func (e EvidenceItem) Content() string {
	switch {
	case e.Fact != nil:
		f := e.Fact
		s := fmt.Sprintf("%s %s %s (%s): %s %s", f.EntityID, f.MetricName, f.Period, f.Scenario, f.Value.String(), f.Unit)
		if f.Provenance != nil && f.Provenance.Substituted {
			s += fmt.Sprintf(" [requested %s, reported as %s]", f.Provenance.RequestedPeriod, f.Provenance.ResolvedPeriod)
		}
		return strings.TrimSpace(s)
	case e.Chunk != nil:
		return e.Chunk.Text
	default:
		return ""
	}
}

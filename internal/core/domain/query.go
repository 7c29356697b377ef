package domain

type Route string

const (
	RouteStructured Route = "structured"
	RouteVector     Route = "vector"
	RouteHybrid     Route = "hybrid"
)

// Query is a single user question with its resolved attachments. It is
// transient and only persisted through the audit log.
type Query struct {
	RawText         string       `json:"raw_text"`
	Entities        []Resolution `json:"normalized_entities"`
	Periods         []Period     `json:"normalized_periods"`
	Metrics         []string     `json:"detected_metrics"`
	NarrativeIntent []string     `json:"narrative_intent,omitempty"`
	Aggregation     Aggregation  `json:"aggregation"`
	Scenario        string       `json:"scenario,omitempty"`
	Classification  Route        `json:"classification"`
	ClassConfidence float64      `json:"classification_confidence"`
	ClassReason     string       `json:"classification_reason,omitempty"`
}

// ResolvedEntityIDs returns the best candidate of every resolved mention.
func (q Query) ResolvedEntityIDs() []string {
	out := make([]string, 0, len(q.Entities))
	for _, r := range q.Entities {
		if best, ok := r.Best(); ok {
			out = append(out, best.EntityID)
		}
	}
	return out
}

// HasAmbiguousEntity reports whether any mention resolved to near-tied
// candidates.
func (q Query) HasAmbiguousEntity() bool {
	for _, r := range q.Entities {
		if r.Status == Ambiguous {
			return true
		}
	}
	return false
}

// RetrievalRequest is the inbound request of the orchestrator.
type RetrievalRequest struct {
	Question string      `json:"question"`
	Limit    int         `json:"limit,omitempty"`
	Filter   ChunkFilter `json:"filter,omitempty"`
}

package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type SignConvention string

const (
	SignAsReported   SignConvention = "as_reported"
	SignCostNegative SignConvention = "cost_negative"
)

const ScenarioActual = "actual"

// Fact is a single normalized data point extracted from a table. Facts are
// immutable; re-ingestion of a table supersedes every fact of the previous
// table version.
type Fact struct {
	ID             string          `json:"id" db:"id"`
	EntityID       string          `json:"entity_id" db:"entity_id"`
	MetricName     string          `json:"metric_name" db:"metric_name"`
	Period         string          `json:"period" db:"period"`
	Scenario       string          `json:"scenario" db:"scenario"`
	Value          decimal.Decimal `json:"value" db:"value"`
	Unit           string          `json:"unit" db:"unit"`
	SignConvention SignConvention  `json:"sign_convention" db:"sign_convention"`
	SourcePage     int             `json:"source_page" db:"source_page"`
	SourceTableID  string          `json:"source_table_id" db:"source_table_id"`
	SourceChunkID  string          `json:"source_chunk_id,omitempty" db:"source_chunk_id"`
	TableVersion   int             `json:"table_version" db:"table_version"`
	Confidence     float64         `json:"confidence" db:"confidence"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`

	Provenance *FactProvenance `json:"provenance,omitempty" db:"-"`
}

// FactProvenance discloses substitutions made while answering a structured
// query.
type FactProvenance struct {
	RequestedPeriod string `json:"requested_period,omitempty"`
	ResolvedPeriod  string `json:"resolved_period,omitempty"`
	Substituted     bool   `json:"substituted"`
	MetricMatch     string `json:"metric_match,omitempty"`
	Aggregation     string `json:"aggregation,omitempty"`
	Aggregated      int    `json:"aggregated,omitempty"`
}

// ScoredFact is a structured-path hit.
type ScoredFact struct {
	Fact      Fact    `json:"fact"`
	Relevance float64 `json:"relevance"`
}

type Aggregation string

const (
	AggregationNone Aggregation = "none"
	AggregationSum  Aggregation = "sum"
	AggregationAvg  Aggregation = "avg"
	AggregationMax  Aggregation = "max"
	AggregationMin  Aggregation = "min"
)

// StructuredQuery is the structured store request built by the SQL-intent
// generator.
type StructuredQuery struct {
	EntityIDs      []string    `json:"entity_ids"`
	MetricNames    []string    `json:"metric_names"`
	Period         Period      `json:"period"`
	Aggregation    Aggregation `json:"aggregation"`
	Scenario       string      `json:"scenario,omitempty"`
	AllowEnclosing bool        `json:"allow_enclosing"`
	AllowPartial   bool        `json:"allow_partial_metric"`
	Limit          int         `json:"limit,omitempty"`
}

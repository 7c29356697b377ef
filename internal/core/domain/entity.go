package domain

type EntityKind string

const (
	EntityGroup        EntityKind = "group"
	EntityRegion       EntityKind = "region"
	EntityBusinessUnit EntityKind = "business_unit"
	EntityPlant        EntityKind = "plant"
)

// Entity is a canonical business entity from the controlled reference list.
type Entity struct {
	ID            string     `json:"entity_id" yaml:"id"`
	CanonicalName string     `json:"canonical_name" yaml:"name"`
	Aliases       []string   `json:"aliases,omitempty" yaml:"aliases"`
	ParentID      string     `json:"parent_entity_id,omitempty" yaml:"parent"`
	Kind          EntityKind `json:"kind" yaml:"kind"`
}

type MetricKind string

const (
	MetricCost    MetricKind = "cost"
	MetricRevenue MetricKind = "revenue"
	MetricVolume  MetricKind = "volume"
	MetricRatio   MetricKind = "ratio"
	MetricOther   MetricKind = "other"
)

// Metric is an entry of the known metric-name vocabulary.
type Metric struct {
	Name    string     `json:"name" yaml:"name"`
	Aliases []string   `json:"aliases,omitempty" yaml:"aliases"`
	Kind    MetricKind `json:"kind" yaml:"kind"`
	Unit    string     `json:"unit,omitempty" yaml:"unit"`
}

// ReferenceData is the controlled reference list.
type ReferenceData struct {
	Entities []Entity `yaml:"entities"`
	Metrics  []Metric `yaml:"metrics"`
}

type MatchTier string

const (
	MatchExact       MatchTier = "exact"
	MatchTokenSubset MatchTier = "token_subset"
	MatchFuzzy       MatchTier = "fuzzy"
)

// EntityCandidate is one ranked resolution candidate.
type EntityCandidate struct {
	EntityID   string    `json:"entity_id"`
	Name       string    `json:"name"`
	Confidence float64   `json:"confidence"`
	Tier       MatchTier `json:"tier"`
}

type ResolutionStatus string

const (
	Resolved   ResolutionStatus = "resolved"
	Ambiguous  ResolutionStatus = "ambiguous"
	Unresolved ResolutionStatus = "unresolved"
)

// Resolution is the tagged result of resolving one mention.
type Resolution struct {
	Mention    string            `json:"mention"`
	Status     ResolutionStatus  `json:"status"`
	Candidates []EntityCandidate `json:"candidates,omitempty"`
}

// Best returns the top candidate of a resolved mention.
func (r Resolution) Best() (EntityCandidate, bool) {
	if r.Status != Resolved || len(r.Candidates) == 0 {
		return EntityCandidate{}, false
	}
	return r.Candidates[0], true
}

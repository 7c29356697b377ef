package domain

// Cell is one cell of a raw table as delivered by the parsing collaborator.
type Cell struct {
	Text   string `json:"text"`
	Header bool   `json:"header"`
}

// RawTable is an ordered grid of cells. Rows may be ragged.
type RawTable struct {
	ID      string   `json:"id"`
	Version int      `json:"version"`
	Title   string   `json:"title,omitempty"`
	Page    int      `json:"page"`
	Unit    string   `json:"unit,omitempty"`
	Locale  string   `json:"locale,omitempty"`
	Period  string   `json:"period,omitempty"`
	Rows    [][]Cell `json:"rows"`
}

type ElementKind string

const (
	ElementNarrative ElementKind = "narrative"
	ElementTable     ElementKind = "table"
)

// Element is one typed block of a parsed document.
type Element struct {
	Kind  ElementKind `json:"kind"`
	Page  int         `json:"page"`
	Text  string      `json:"text,omitempty"`
	Table *RawTable   `json:"table,omitempty"`
}

// ParsedDocument is the output of the document parsing collaborator.
type ParsedDocument struct {
	DocumentID string    `json:"document_id"`
	Period     string    `json:"period,omitempty"`
	Elements   []Element `json:"elements"`
}

type Orientation string

const (
	OrientationStandard     Orientation = "standard"
	OrientationTransposed   Orientation = "transposed"
	OrientationHierarchical Orientation = "hierarchical"
	OrientationAmbiguous    Orientation = "ambiguous"
)

// NormalizedTable is the result of table normalization.
type NormalizedTable struct {
	TableID     string           `json:"table_id"`
	Orientation Orientation      `json:"orientation"`
	Hypothesis  Orientation      `json:"hypothesis"`
	HeaderRows  int              `json:"header_rows"`
	ScoreA      float64          `json:"score_standard"`
	ScoreB      float64          `json:"score_transposed"`
	Facts       []Fact           `json:"facts"`
	Issues      []IngestionIssue `json:"issues,omitempty"`
}

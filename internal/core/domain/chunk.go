package domain

type ChunkType string

const (
	ChunkNarrative     ChunkType = "narrative"
	ChunkTableWhole    ChunkType = "table_whole"
	ChunkTableFragment ChunkType = "table_fragment"
)

// Chunk is a retrievable unit of narrative or preserved-table text. A
// table_fragment chunk always carries the header row of its table.
type Chunk struct {
	ID            string    `json:"chunk_id"`
	DocumentID    string    `json:"document_id"`
	Text          string    `json:"text"`
	TokenCount    int       `json:"token_count"`
	PageStart     int       `json:"page_start"`
	PageEnd       int       `json:"page_end"`
	SourceTableID string    `json:"source_table_id,omitempty"`
	Type          ChunkType `json:"chunk_type"`
	Header        string    `json:"header,omitempty"`
	Embedding     []float32 `json:"-"`
}

// ScoredChunk is a vector-path hit carrying the raw similarity score of the
// backing index.
type ScoredChunk struct {
	Chunk Chunk   `json:"chunk"`
	Score float64 `json:"score"`
}

// ChunkFilter restricts nearest-neighbour search. Zero values disable a
// restriction.
type ChunkFilter struct {
	DocumentID string      `json:"document_id,omitempty"`
	PageFrom   int         `json:"page_from,omitempty"`
	PageTo     int         `json:"page_to,omitempty"`
	Types      []ChunkType `json:"chunk_types,omitempty"`
}

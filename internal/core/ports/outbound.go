package ports

import (
	"context"
	"io"

	"github.com/Autopsias/raglite/internal/core/domain"
)

// DocumentRepository persists and reads document state.
type DocumentRepository interface {
	Create(ctx context.Context, doc *domain.Document) error
	GetByID(ctx context.Context, id string) (*domain.Document, error)
	UpdateStatus(ctx context.Context, id string, status domain.DocumentStatus, errMessage string) error
	NextVersion(ctx context.Context, id string) (int, error)
	SaveReport(ctx context.Context, id string, report domain.IngestionReport) error
}

// ObjectStorage stores source documents.
type ObjectStorage interface {
	Save(ctx context.Context, key string, data io.Reader) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

// MessageQueue publishes/consumes ingestion events.
type MessageQueue interface {
	PublishDocumentIngested(ctx context.Context, documentID string) error
	SubscribeDocumentIngested(ctx context.Context, handler func(context.Context, string) error) error
}

// DocumentParser is the document parsing collaborator.
type DocumentParser interface {
	Parse(ctx context.Context, doc *domain.Document, body io.Reader) (*domain.ParsedDocument, error)
}

// FormatChecker tells whether an uploaded file can be parsed later.
type FormatChecker interface {
	Supports(filename, mimeType string) bool
}

// Embedder builds vectors for chunks and query text.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// TokenCounter measures chunk sizes.
type TokenCounter interface {
	Count(text string) int
}

// FactStore is the structured relational store. It is the only component that
// issues queries against the facts table.
type FactStore interface {
	ReplaceTable(ctx context.Context, tableID string, version int, facts []domain.Fact) error
	Lookup(ctx context.Context, q domain.StructuredQuery) ([]domain.ScoredFact, error)
}

// VectorStore indexes chunks and performs nearest-neighbour search. Scores are
// returned un-normalized.
type VectorStore interface {
	ReplaceDocumentChunks(ctx context.Context, documentID string, chunks []domain.Chunk) error
	Search(ctx context.Context, queryVector []float32, k int, filter domain.ChunkFilter) ([]domain.ScoredChunk, error)
}

// KeywordIndex performs lexical search over the same chunk set.
type KeywordIndex interface {
	SearchLexical(ctx context.Context, queryText string, k int, filter domain.ChunkFilter) ([]domain.ScoredChunk, error)
}

// AnswerGenerator is the downstream text-generation collaborator.
type AnswerGenerator interface {
	GenerateAnswer(ctx context.Context, question string, evidence []domain.EvidenceItem) (string, error)
}

// ReferenceSource loads the controlled reference list.
type ReferenceSource interface {
	Load(ctx context.Context) (domain.ReferenceData, error)
}

// EntityCatalogWriter persists the entity list after an administrative edit.
type EntityCatalogWriter interface {
	SaveEntities(ctx context.Context, entities []domain.Entity) error
}

// RetrievalObserver receives retrieval telemetry.
type RetrievalObserver interface {
	ObserveRetrieval(result *domain.RetrievalResult, err error)
	ObservePath(path domain.RetrievalPath, status domain.PathStatus, seconds float64)
}

// Chunker turns a parsed document into retrievable chunks. Table chunks keep
// their header rows.
type Chunker interface {
	Chunk(doc *domain.ParsedDocument, version int) []domain.Chunk
}

// IngestionObserver receives the report of every completed processing run.
type IngestionObserver interface {
	ObserveIngestion(report domain.IngestionReport)
}

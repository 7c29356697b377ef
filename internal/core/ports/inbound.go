package ports

import (
	"context"
	"io"

	"github.com/Autopsias/raglite/internal/core/domain"
)

// DocumentIngestor is the inbound contract for document upload orchestration.
type DocumentIngestor interface {
	Upload(ctx context.Context, filename, mimeType string, body io.Reader) (*domain.Document, error)
}

// EvidenceRetriever is the inbound contract of the retrieval orchestrator.
type EvidenceRetriever interface {
	Retrieve(ctx context.Context, req domain.RetrievalRequest) (*domain.RetrievalResult, error)
}

// AnswerService turns retrieved evidence into a cited natural-language answer.
type AnswerService interface {
	Answer(ctx context.Context, req domain.RetrievalRequest) (*domain.Answer, error)
}

// DocumentReader is the inbound read model for document metadata/state.
type DocumentReader interface {
	GetByID(ctx context.Context, id string) (*domain.Document, error)
}

// DocumentProcessor is the inbound contract for asynchronous document processing.
type DocumentProcessor interface {
	ProcessByID(ctx context.Context, documentID string) error
}

// EntityAdmin is the administrator-facing contract over the reference list.
type EntityAdmin interface {
	AddAlias(ctx context.Context, entityID, alias string) error
	Resolve(text string) domain.Resolution
}

package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"golang.org/x/time/rate"

	"github.com/Autopsias/raglite/internal/core/domain"
	"github.com/Autopsias/raglite/internal/core/ports"
)

const defaultEmbedBatchSize = 32

var tableNamespace = uuid.MustParse("5f1d7a2e-3c84-4b6a-9e0f-8d2c6b1a4e73")

type ProcessDocumentUseCase struct {
	repo       ports.DocumentRepository
	storage    ports.ObjectStorage
	parser     ports.DocumentParser
	normalizer *TableNormalizer
	facts      ports.FactStore
	chunker    ports.Chunker
	embedder   ports.Embedder
	vectorDB   ports.VectorStore

	batchSize int
	limiter   *rate.Limiter
	observer  ports.IngestionObserver
}

type ProcessOption func(*ProcessDocumentUseCase)

// WithEmbeddingBatches embeds chunks in batches of size, waiting on limiter
// before each batch. A nil limiter disables rate limiting.
func WithEmbeddingBatches(size int, limiter *rate.Limiter) ProcessOption {
	return func(uc *ProcessDocumentUseCase) {
		if size > 0 {
			uc.batchSize = size
		}
		uc.limiter = limiter
	}
}

func WithIngestionObserver(observer ports.IngestionObserver) ProcessOption {
	return func(uc *ProcessDocumentUseCase) { uc.observer = observer }
}

func NewProcessDocumentUseCase(
	repo ports.DocumentRepository,
	storage ports.ObjectStorage,
	parser ports.DocumentParser,
	normalizer *TableNormalizer,
	facts ports.FactStore,
	chunker ports.Chunker,
	embedder ports.Embedder,
	vectorDB ports.VectorStore,
	opts ...ProcessOption,
) *ProcessDocumentUseCase {
	uc := &ProcessDocumentUseCase{
		repo:       repo,
		storage:    storage,
		parser:     parser,
		normalizer: normalizer,
		facts:      facts,
		chunker:    chunker,
		embedder:   embedder,
		vectorDB:   vectorDB,
		batchSize:  defaultEmbedBatchSize,
	}
	for _, opt := range opts {
		opt(uc)
	}
	return uc
}

func (uc *ProcessDocumentUseCase) ProcessByID(ctx context.Context, documentID string) error {
	if err := uc.markStatus(ctx, documentID, domain.StatusProcessing, ""); err != nil {
		return fmt.Errorf("set status=processing: %w", err)
	}

	report, err := uc.processPipeline(ctx, documentID)
	if err != nil {
		if failErr := uc.markFailed(ctx, documentID, err); failErr != nil {
			return fmt.Errorf("%w; mark failed status: %v", err, failErr)
		}
		return err
	}

	if err := uc.repo.SaveReport(ctx, documentID, report); err != nil {
		err = fmt.Errorf("save ingestion report: %w", err)
		if failErr := uc.markFailed(ctx, documentID, err); failErr != nil {
			return fmt.Errorf("%w; mark failed status: %v", err, failErr)
		}
		return err
	}

	if err := uc.markStatus(ctx, documentID, domain.StatusReady, ""); err != nil {
		return fmt.Errorf("set status=ready: %w", err)
	}

	if uc.observer != nil {
		uc.observer.ObserveIngestion(report)
	}
	slog.Info("document_processed",
		"document_id", documentID,
		"version", report.Version,
		"tables", len(report.Tables),
		"facts", report.Facts,
		"chunks", report.Chunks,
		"issues", len(report.Issues),
	)
	return nil
}

func (uc *ProcessDocumentUseCase) processPipeline(ctx context.Context, documentID string) (domain.IngestionReport, error) {
	doc, err := uc.loadDocument(ctx, documentID)
	if err != nil {
		return domain.IngestionReport{}, err
	}

	version, err := uc.repo.NextVersion(ctx, documentID)
	if err != nil {
		return domain.IngestionReport{}, fmt.Errorf("allocate document version: %w", err)
	}
	doc.Version = version

	parsed, err := uc.parse(ctx, doc)
	if err != nil {
		return domain.IngestionReport{}, err
	}

	report := domain.IngestionReport{Version: version}
	tables := uc.normalizeTables(parsed, version, &report)

	chunks := uc.chunker.Chunk(parsed, version)
	if len(chunks) == 0 {
		return domain.IngestionReport{}, domain.WrapError(domain.ErrInvalidInput, "chunk document", errors.New("chunking produced zero chunks"))
	}
	linkSourceChunks(tables, chunks)

	// Nothing is written until every chunk has its embedding.
	if err := uc.embed(ctx, chunks); err != nil {
		return domain.IngestionReport{}, err
	}
	if err := uc.storeFacts(ctx, tables, version); err != nil {
		return domain.IngestionReport{}, err
	}
	if err := uc.vectorDB.ReplaceDocumentChunks(ctx, doc.ID, chunks); err != nil {
		return domain.IngestionReport{}, fmt.Errorf("index chunks in vector db: %w", err)
	}
	report.Chunks = len(chunks)
	return report, nil
}

func (uc *ProcessDocumentUseCase) loadDocument(ctx context.Context, documentID string) (*domain.Document, error) {
	doc, err := uc.repo.GetByID(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("fetch document by id: %w", err)
	}
	return doc, nil
}

func (uc *ProcessDocumentUseCase) parse(ctx context.Context, doc *domain.Document) (*domain.ParsedDocument, error) {
	body, err := uc.storage.Open(ctx, doc.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("open source document: %w", err)
	}
	defer body.Close()

	parsed, err := uc.parser.Parse(ctx, doc, body)
	if err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}
	if parsed == nil || len(parsed.Elements) == 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "parse document", errors.New("document has no content"))
	}
	parsed.DocumentID = doc.ID
	return parsed, nil
}

// normalizeTables assigns document-scoped table ids and normalizes every
// table. Normalization issues are recorded on the report and never stop
// ingestion.
func (uc *ProcessDocumentUseCase) normalizeTables(parsed *domain.ParsedDocument, version int, report *domain.IngestionReport) []domain.NormalizedTable {
	var out []domain.NormalizedTable
	tableIndex := 0
	for i := range parsed.Elements {
		el := &parsed.Elements[i]
		if el.Kind != domain.ElementTable || el.Table == nil {
			continue
		}
		table := el.Table
		table.ID = scopedTableID(parsed.DocumentID, table.ID, tableIndex)
		tableIndex++
		table.Version = version
		if table.Page == 0 {
			table.Page = el.Page
		}

		normalized := uc.normalizer.Normalize(*table, parsed.Period)
		for _, issue := range normalized.Issues {
			slog.Warn("ingestion_issue",
				"document_id", parsed.DocumentID,
				"table_id", issue.TableID,
				"kind", issue.Kind,
				"row", issue.Row,
				"col", issue.Col,
				"detail", issue.Detail,
			)
		}
		report.Issues = append(report.Issues, normalized.Issues...)
		report.Tables = append(report.Tables, domain.TableReport{
			TableID:     table.ID,
			Page:        table.Page,
			Orientation: normalized.Orientation,
			Facts:       len(normalized.Facts),
		})
		report.Facts += len(normalized.Facts)
		out = append(out, normalized)
	}
	return out
}

// scopedTableID keeps table ids unique across documents: parser ids are
// prefixed with the document id and missing ids derive from the table index.
func scopedTableID(documentID, tableID string, index int) string {
	switch {
	case tableID == "":
		return uuid.NewSHA1(tableNamespace, []byte(fmt.Sprintf("%s/%d", documentID, index))).String()
	case strings.HasPrefix(tableID, documentID+"-"):
		return tableID
	default:
		return documentID + "-" + tableID
	}
}

// linkSourceChunks points every fact at the chunk that prints its table. When
// a table was split into fragments the fragment showing the value wins.
func linkSourceChunks(tables []domain.NormalizedTable, chunks []domain.Chunk) {
	byTable := make(map[string][]int)
	for i, c := range chunks {
		if c.SourceTableID != "" {
			byTable[c.SourceTableID] = append(byTable[c.SourceTableID], i)
		}
	}
	for t := range tables {
		candidates := byTable[tables[t].TableID]
		if len(candidates) == 0 {
			continue
		}
		for i := range tables[t].Facts {
			fact := &tables[t].Facts[i]
			fact.SourceChunkID = chunks[candidates[0]].ID
			if len(candidates) == 1 {
				continue
			}
			for _, j := range candidates {
				if textHasValue(chunks[j].Text, fact.Value) {
					fact.SourceChunkID = chunks[j].ID
					break
				}
			}
		}
	}
}

func (uc *ProcessDocumentUseCase) storeFacts(ctx context.Context, tables []domain.NormalizedTable, version int) error {
	for _, table := range tables {
		if err := uc.facts.ReplaceTable(ctx, table.TableID, version, table.Facts); err != nil {
			return fmt.Errorf("replace facts of table %s: %w", table.TableID, err)
		}
	}
	return nil
}

func (uc *ProcessDocumentUseCase) embed(ctx context.Context, chunks []domain.Chunk) error {
	texts := lo.Map(chunks, func(c domain.Chunk, _ int) string { return c.Text })
	for n, batch := range lo.Chunk(texts, uc.batchSize) {
		offset := n * uc.batchSize
		if uc.limiter != nil {
			if err := uc.limiter.Wait(ctx); err != nil {
				return fmt.Errorf("wait for embedding rate limit: %w", err)
			}
		}
		vectors, err := uc.embedder.Embed(ctx, batch)
		if err != nil {
			return fmt.Errorf("embed chunks: %w", err)
		}
		if len(vectors) != len(batch) {
			return domain.WrapError(
				domain.ErrInvalidInput,
				"embed chunks",
				fmt.Errorf("vectors/chunks mismatch: %d/%d", len(vectors), len(batch)),
			)
		}
		for i, v := range vectors {
			chunks[offset+i].Embedding = v
		}
	}
	return nil
}

func (uc *ProcessDocumentUseCase) markStatus(ctx context.Context, documentID string, status domain.DocumentStatus, errMessage string) error {
	return uc.repo.UpdateStatus(ctx, documentID, status, errMessage)
}

func (uc *ProcessDocumentUseCase) markFailed(ctx context.Context, documentID string, processErr error) error {
	if processErr == nil {
		return nil
	}
	return uc.markStatus(ctx, documentID, domain.StatusFailed, processErr.Error())
}

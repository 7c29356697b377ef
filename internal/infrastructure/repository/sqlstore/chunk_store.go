package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"github.com/pgvector/pgvector-go"
	"github.com/samber/lo"

	"github.com/Autopsias/raglite/internal/core/domain"
)

const (
	chunksTable     = "chunks"
	chunkInsertRows = 200
)

// ChunkStore is the postgres vector store: pgvector cosine search for the
// dense path and ts_rank_cd over a generated tsvector for the keyword path.
type ChunkStore struct {
	db   *sqlx.DB
	sb   sq.StatementBuilderType
	dims int
}

func NewChunkStore(db *sqlx.DB, dims int) *ChunkStore {
	return &ChunkStore{db: db, sb: builder(DialectPostgres), dims: dims}
}

func (s *ChunkStore) EnsureSchema(ctx context.Context) error {
	vectorType := "vector"
	if s.dims > 0 {
		vectorType = fmt.Sprintf("vector(%d)", s.dims)
	}
	ddl := `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS chunks (
	id TEXT PRIMARY KEY,
	document_id TEXT NOT NULL,
	text TEXT NOT NULL,
	token_count INTEGER NOT NULL,
	page_start INTEGER NOT NULL,
	page_end INTEGER NOT NULL,
	table_id TEXT NOT NULL DEFAULT '',
	chunk_type TEXT NOT NULL,
	header TEXT NOT NULL DEFAULT '',
	embedding ` + vectorType + ` NOT NULL,
	tsv tsvector GENERATED ALWAYS AS (to_tsvector('simple', header || ' ' || text)) STORED
);

CREATE INDEX IF NOT EXISTS idx_chunks_document ON chunks(document_id);
CREATE INDEX IF NOT EXISTS idx_chunks_tsv ON chunks USING GIN(tsv);
`
	if s.dims > 0 {
		ddl += "CREATE INDEX IF NOT EXISTS idx_chunks_embedding ON chunks USING hnsw (embedding vector_cosine_ops);\n"
	}
	return withTx(ctx, s.db, "chunks schema", func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026081102)); err != nil {
			return fmt.Errorf("acquire schema lock: %w", err)
		}
		if _, err := tx.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("execute schema ddl: %w", err)
		}
		return nil
	})
}

// ReplaceDocumentChunks swaps the chunk set of a document in one transaction.
func (s *ChunkStore) ReplaceDocumentChunks(ctx context.Context, documentID string, chunks []domain.Chunk) error {
	if strings.TrimSpace(documentID) == "" {
		return domain.WrapError(domain.ErrInvalidInput, "replace document chunks", errors.New("document id is required"))
	}
	for _, ch := range chunks {
		if len(ch.Embedding) == 0 {
			return domain.WrapError(domain.ErrInvalidInput, "replace document chunks", fmt.Errorf("chunk %s is not embedded", ch.ID))
		}
	}

	return withTx(ctx, s.db, "replace chunks", func(tx *sqlx.Tx) error {
		query, args, err := s.sb.Delete(chunksTable).Where(sq.Eq{"document_id": documentID}).ToSql()
		if err != nil {
			return errorSQLBuild(err)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return storeError(ctx, "delete chunks", err)
		}

		for _, batch := range lo.Chunk(chunks, chunkInsertRows) {
			insert := s.sb.Insert(chunksTable).
				Columns("id", "document_id", "text", "token_count", "page_start", "page_end", "table_id", "chunk_type", "header", "embedding")
			for _, ch := range batch {
				insert = insert.Values(ch.ID, documentID, ch.Text, ch.TokenCount, ch.PageStart, ch.PageEnd,
					ch.SourceTableID, string(ch.Type), ch.Header, pgvector.NewVector(ch.Embedding))
			}
			query, args, err := insert.ToSql()
			if err != nil {
				return errorSQLBuild(err)
			}
			if _, err := tx.ExecContext(ctx, query, args...); err != nil {
				return storeError(ctx, "insert chunks", err)
			}
		}
		return nil
	})
}

type chunkRow struct {
	ID         string  `db:"id"`
	DocumentID string  `db:"document_id"`
	Text       string  `db:"text"`
	TokenCount int     `db:"token_count"`
	PageStart  int     `db:"page_start"`
	PageEnd    int     `db:"page_end"`
	TableID    string  `db:"table_id"`
	ChunkType  string  `db:"chunk_type"`
	Header     string  `db:"header"`
	Score      float64 `db:"score"`
}

var chunkColumns = []string{"id", "document_id", "text", "token_count", "page_start", "page_end", "table_id", "chunk_type", "header"}

// Search ranks chunks by cosine similarity, 1 - cosine distance.
func (s *ChunkStore) Search(ctx context.Context, queryVector []float32, k int, filter domain.ChunkFilter) ([]domain.ScoredChunk, error) {
	if k <= 0 {
		return []domain.ScoredChunk{}, nil
	}
	q := s.sb.Select(chunkColumns...).
		Column(sq.Expr("1 - (embedding <=> ?) AS score", pgvector.NewVector(queryVector))).
		From(chunksTable).
		OrderBy("score DESC", "id").
		Limit(uint64(k))
	return s.query(ctx, "vector search", applyChunkFilter(q, filter))
}

// SearchLexical ranks chunks with ts_rank_cd over the header and text.
func (s *ChunkStore) SearchLexical(ctx context.Context, queryText string, k int, filter domain.ChunkFilter) ([]domain.ScoredChunk, error) {
	if k <= 0 || strings.TrimSpace(queryText) == "" {
		return []domain.ScoredChunk{}, nil
	}
	q := s.sb.Select(chunkColumns...).
		Column(sq.Expr("ts_rank_cd(tsv, plainto_tsquery('simple', ?)) AS score", queryText)).
		From(chunksTable).
		Where(sq.Expr("tsv @@ plainto_tsquery('simple', ?)", queryText)).
		OrderBy("score DESC", "id").
		Limit(uint64(k))
	return s.query(ctx, "keyword search", applyChunkFilter(q, filter))
}

func (s *ChunkStore) query(ctx context.Context, op string, q sq.SelectBuilder) ([]domain.ScoredChunk, error) {
	query, args, err := q.ToSql()
	if err != nil {
		return nil, errorSQLBuild(err)
	}
	var rows []chunkRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, storeError(ctx, op, err)
	}
	return lo.Map(rows, func(r chunkRow, _ int) domain.ScoredChunk {
		return domain.ScoredChunk{
			Chunk: domain.Chunk{
				ID:            r.ID,
				DocumentID:    r.DocumentID,
				Text:          r.Text,
				TokenCount:    r.TokenCount,
				PageStart:     r.PageStart,
				PageEnd:       r.PageEnd,
				SourceTableID: r.TableID,
				Type:          domain.ChunkType(r.ChunkType),
				Header:        r.Header,
			},
			Score: r.Score,
		}
	}), nil
}

func applyChunkFilter(q sq.SelectBuilder, filter domain.ChunkFilter) sq.SelectBuilder {
	if filter.DocumentID != "" {
		q = q.Where(sq.Eq{"document_id": filter.DocumentID})
	}
	if filter.PageFrom > 0 {
		q = q.Where(sq.GtOrEq{"page_end": filter.PageFrom})
	}
	if filter.PageTo > 0 {
		q = q.Where(sq.LtOrEq{"page_start": filter.PageTo})
	}
	if len(filter.Types) > 0 {
		q = q.Where(sq.Eq{"chunk_type": lo.Map(filter.Types, func(t domain.ChunkType, _ int) string { return string(t) })})
	}
	return q
}

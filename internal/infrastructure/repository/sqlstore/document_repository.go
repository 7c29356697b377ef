package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"

	"github.com/Autopsias/raglite/internal/core/domain"
)

const documentsTable = "documents"

type DocumentRepository struct {
	db      *sqlx.DB
	dialect Dialect
	sb      sq.StatementBuilderType
}

func NewDocumentRepository(db *sqlx.DB, dialect Dialect) *DocumentRepository {
	return &DocumentRepository{db: db, dialect: dialect, sb: builder(dialect)}
}

func (r *DocumentRepository) EnsureSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS documents (
	id TEXT PRIMARY KEY,
	filename TEXT NOT NULL,
	mime_type TEXT NOT NULL,
	storage_path TEXT NOT NULL,
	version INTEGER NOT NULL DEFAULT 0,
	status TEXT NOT NULL,
	error_message TEXT NOT NULL DEFAULT '',
	report TEXT,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_documents_status ON documents(status);
CREATE INDEX IF NOT EXISTS idx_documents_created_at ON documents(created_at DESC);
`
	if r.dialect == DialectPostgres {
		ddl = strings.NewReplacer("TIMESTAMP", "TIMESTAMPTZ", "report TEXT", "report JSONB").Replace(ddl)
		return withTx(ctx, r.db, "documents schema", func(tx *sqlx.Tx) error {
			// Serialize bootstrap DDL across api/worker startups.
			if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026021001)); err != nil {
				return fmt.Errorf("acquire schema lock: %w", err)
			}
			if _, err := tx.ExecContext(ctx, ddl); err != nil {
				return fmt.Errorf("execute schema ddl: %w", err)
			}
			return nil
		})
	}
	for _, stmt := range strings.Split(ddl, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("execute schema ddl: %w", err)
		}
	}
	return nil
}

func (r *DocumentRepository) Create(ctx context.Context, doc *domain.Document) error {
	query, args, err := r.sb.Insert(documentsTable).
		Columns("id", "filename", "mime_type", "storage_path", "version", "status", "error_message", "created_at", "updated_at").
		Values(doc.ID, doc.Filename, doc.MimeType, doc.StoragePath, doc.Version, string(doc.Status), doc.Error, doc.CreatedAt, doc.UpdatedAt).
		ToSql()
	if err != nil {
		return errorSQLBuild(err)
	}
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

type documentRow struct {
	ID          string         `db:"id"`
	Filename    string         `db:"filename"`
	MimeType    string         `db:"mime_type"`
	StoragePath string         `db:"storage_path"`
	Version     int            `db:"version"`
	Status      string         `db:"status"`
	Error       string         `db:"error_message"`
	Report      sql.NullString `db:"report"`
	CreatedAt   time.Time      `db:"created_at"`
	UpdatedAt   time.Time      `db:"updated_at"`
}

func (r *DocumentRepository) GetByID(ctx context.Context, id string) (*domain.Document, error) {
	query, args, err := r.sb.Select("id", "filename", "mime_type", "storage_path", "version", "status", "error_message", "report", "created_at", "updated_at").
		From(documentsTable).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, errorSQLBuild(err)
	}

	var row documentRow
	if err := r.db.GetContext(ctx, &row, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrDocumentNotFound, "get document", fmt.Errorf("id=%s", id))
		}
		return nil, fmt.Errorf("scan document: %w", err)
	}

	doc := &domain.Document{
		ID:          row.ID,
		Filename:    row.Filename,
		MimeType:    row.MimeType,
		StoragePath: row.StoragePath,
		Version:     row.Version,
		Status:      domain.DocumentStatus(row.Status),
		Error:       row.Error,
		CreatedAt:   row.CreatedAt,
		UpdatedAt:   row.UpdatedAt,
	}
	if row.Report.Valid && row.Report.String != "" {
		var report domain.IngestionReport
		if err := json.Unmarshal([]byte(row.Report.String), &report); err != nil {
			return nil, fmt.Errorf("unmarshal report: %w", err)
		}
		doc.Report = &report
	}
	return doc, nil
}

func (r *DocumentRepository) UpdateStatus(ctx context.Context, id string, status domain.DocumentStatus, errMessage string) error {
	return r.update(ctx, "update document status", r.sb.Update(documentsTable).
		Set("status", string(status)).
		Set("error_message", errMessage).
		Set("updated_at", time.Now().UTC()).
		Where(sq.Eq{"id": id}), id)
}

func (r *DocumentRepository) SaveReport(ctx context.Context, id string, report domain.IngestionReport) error {
	raw, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	return r.update(ctx, "save ingestion report", r.sb.Update(documentsTable).
		Set("report", string(raw)).
		Set("updated_at", time.Now().UTC()).
		Where(sq.Eq{"id": id}), id)
}

// NextVersion increments and returns the processing version of a document.
func (r *DocumentRepository) NextVersion(ctx context.Context, id string) (int, error) {
	query, args, err := r.sb.Update(documentsTable).
		Set("version", sq.Expr("version + 1")).
		Set("updated_at", time.Now().UTC()).
		Where(sq.Eq{"id": id}).
		Suffix("RETURNING version").
		ToSql()
	if err != nil {
		return 0, errorSQLBuild(err)
	}

	var version int
	if err := r.db.GetContext(ctx, &version, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, domain.WrapError(domain.ErrDocumentNotFound, "next document version", fmt.Errorf("id=%s", id))
		}
		return 0, fmt.Errorf("next document version: %w", err)
	}
	return version, nil
}

func (r *DocumentRepository) update(ctx context.Context, op string, stmt sq.UpdateBuilder, id string) error {
	query, args, err := stmt.ToSql()
	if err != nil {
		return errorSQLBuild(err)
	}
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", op, err)
	}
	if affected == 0 {
		return domain.WrapError(domain.ErrDocumentNotFound, op, fmt.Errorf("id=%s", id))
	}
	return nil
}

package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/Autopsias/raglite/internal/core/domain"
)

type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

// Open connects to the structured store. dsn is a postgres URL for
// DialectPostgres and a file path or ":memory:" for DialectSQLite.
func Open(dialect Dialect, dsn string) (*sqlx.DB, error) {
	switch dialect {
	case DialectPostgres:
		db, err := sqlx.Open("pgx", dsn)
		if err != nil {
			return nil, fmt.Errorf("sql open: %w", err)
		}
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(30 * time.Minute)
		if err := db.Ping(); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("db ping: %w", err)
		}
		return db, nil
	case DialectSQLite:
		db, err := sqlx.Open("sqlite", dsn+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
		if err != nil {
			return nil, fmt.Errorf("sql open: %w", err)
		}
		// A single connection keeps ":memory:" databases shared.
		db.SetMaxOpenConns(1)
		if err := db.Ping(); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("db ping: %w", err)
		}
		return db, nil
	default:
		return nil, domain.WrapError(domain.ErrInvalidInput, "open structured store", fmt.Errorf("unknown dialect %q", dialect))
	}
}

func builder(dialect Dialect) sq.StatementBuilderType {
	if dialect == DialectPostgres {
		return sq.StatementBuilder.PlaceholderFormat(sq.Dollar)
	}
	return sq.StatementBuilder.PlaceholderFormat(sq.Question)
}

func errorSQLBuild(err error) error {
	return fmt.Errorf("build sql query: %w", err)
}

// storeError maps driver failures onto ErrStoreUnavailable and keeps context
// errors intact so callers can tell timeouts apart.
func storeError(ctx context.Context, op string, err error) error {
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
		return fmt.Errorf("%s: %w: %w", op, ctxErr, err)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return domain.WrapError(domain.ErrStoreUnavailable, op, err)
}

func withTx(ctx context.Context, db *sqlx.DB, op string, fn func(tx *sqlx.Tx) error) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return storeError(ctx, "begin "+op+" tx", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return storeError(ctx, "commit "+op+" tx", err)
	}
	return nil
}

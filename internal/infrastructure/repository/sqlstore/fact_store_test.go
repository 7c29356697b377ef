package sqlstore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/Autopsias/raglite/internal/core/domain"
)

func newSQLiteFactStore(t *testing.T) *FactStore {
	t.Helper()
	db, err := Open(DialectSQLite, filepath.Join(t.TempDir(), "facts.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	store := NewFactStore(db, DialectSQLite)
	if err := store.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("EnsureSchema() error = %v", err)
	}
	return store
}

func fact(id, metric, period, value string) domain.Fact {
	return domain.Fact{
		ID: id, EntityID: "portugal-cement", MetricName: metric, Period: period,
		Scenario: domain.ScenarioActual, Value: decimal.RequireFromString(value), Unit: "EUR/t",
		SignConvention: domain.SignCostNegative, SourcePage: 4, SourceTableID: "t1", Confidence: 1,
	}
}

func query(period domain.Period) domain.StructuredQuery {
	return domain.StructuredQuery{
		EntityIDs:      []string{"portugal-cement"},
		MetricNames:    []string{"Variable Cost"},
		Period:         period,
		Aggregation:    domain.AggregationNone,
		AllowEnclosing: true,
		AllowPartial:   true,
	}
}

var aug2025 = domain.Period{Year: 2025, Kind: domain.PeriodMonth, Month: 8}

func TestFactStoreExactLookup(t *testing.T) {
	store := newSQLiteFactStore(t)
	ctx := context.Background()
	if err := store.ReplaceTable(ctx, "t1", 1, []domain.Fact{
		fact("f-aug", "Variable Cost", "2025-08", "-23.5"),
		fact("f-jul", "Variable Cost", "2025-07", "-22.25"),
	}); err != nil {
		t.Fatalf("ReplaceTable() error = %v", err)
	}

	hits, err := store.Lookup(ctx, query(aug2025))
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("expected 1 hit, got %d", len(hits))
	}
	if hits[0].Fact.ID != "f-aug" || hits[0].Relevance != 1 {
		t.Fatalf("unexpected hit: %+v", hits[0])
	}
	if !hits[0].Fact.Value.Equal(decimal.RequireFromString("-23.5")) {
		t.Fatalf("expected value -23.5, got %s", hits[0].Fact.Value)
	}
	if hits[0].Fact.Provenance != nil {
		t.Fatalf("expected no provenance on exact match, got %+v", hits[0].Fact.Provenance)
	}
}

func TestFactStoreReplaceTableSupersedesPreviousVersion(t *testing.T) {
	store := newSQLiteFactStore(t)
	ctx := context.Background()
	if err := store.ReplaceTable(ctx, "t1", 1, []domain.Fact{fact("f-v1", "Variable Cost", "2025-08", "-23.5")}); err != nil {
		t.Fatalf("ReplaceTable(v1) error = %v", err)
	}
	v2 := fact("f-v2", "Variable Cost", "2025-08", "-24.75")
	v2.TableVersion = 2
	if err := store.ReplaceTable(ctx, "t1", 2, []domain.Fact{v2}); err != nil {
		t.Fatalf("ReplaceTable(v2) error = %v", err)
	}

	hits, err := store.Lookup(ctx, query(aug2025))
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if len(hits) != 1 || hits[0].Fact.ID != "f-v2" || hits[0].Fact.TableVersion != 2 {
		t.Fatalf("expected only the new version, got %+v", hits)
	}
}

func TestFactStoreFallsBackToSmallestEnclosingPeriod(t *testing.T) {
	store := newSQLiteFactStore(t)
	ctx := context.Background()
	if err := store.ReplaceTable(ctx, "t1", 1, []domain.Fact{
		fact("f-ytd", "Variable Cost", "2025-YTD08", "-22.5"),
		fact("f-year", "Variable Cost", "2025", "-21"),
	}); err != nil {
		t.Fatalf("ReplaceTable() error = %v", err)
	}

	hits, err := store.Lookup(ctx, query(aug2025))
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if len(hits) != 1 || hits[0].Fact.ID != "f-ytd" {
		t.Fatalf("expected ytd fact, got %+v", hits)
	}
	if hits[0].Relevance != 0.7 {
		t.Fatalf("expected relevance 0.7, got %f", hits[0].Relevance)
	}
	p := hits[0].Fact.Provenance
	if p == nil || !p.Substituted || p.RequestedPeriod != "2025-08" || p.ResolvedPeriod != "2025-YTD08" {
		t.Fatalf("expected substitution provenance, got %+v", p)
	}
}

func TestFactStoreWithoutEnclosingReturnsEmpty(t *testing.T) {
	store := newSQLiteFactStore(t)
	ctx := context.Background()
	if err := store.ReplaceTable(ctx, "t1", 1, []domain.Fact{fact("f-ytd", "Variable Cost", "2025-YTD08", "-22.5")}); err != nil {
		t.Fatalf("ReplaceTable() error = %v", err)
	}

	q := query(aug2025)
	q.AllowEnclosing = false
	hits, err := store.Lookup(ctx, q)
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if len(hits) != 0 {
		t.Fatalf("expected no hits, got %+v", hits)
	}
}

func TestFactStoreAggregatesMonthlyFacts(t *testing.T) {
	store := newSQLiteFactStore(t)
	ctx := context.Background()
	if err := store.ReplaceTable(ctx, "t1", 1, []domain.Fact{
		fact("f-jul", "Turnover", "2025-07", "10.5"),
		fact("f-aug", "Turnover", "2025-08", "12.25"),
		fact("f-sep", "Turnover", "2025-09", "11"),
	}); err != nil {
		t.Fatalf("ReplaceTable() error = %v", err)
	}

	q := query(domain.Period{Year: 2025, Kind: domain.PeriodQuarter, Index: 3})
	q.MetricNames = []string{"Turnover"}
	q.Aggregation = domain.AggregationSum
	hits, err := store.Lookup(ctx, q)
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("expected one aggregate, got %d", len(hits))
	}
	if !hits[0].Fact.Value.Equal(decimal.RequireFromString("33.75")) || hits[0].Relevance != 1 {
		t.Fatalf("unexpected aggregate: value=%s relevance=%f", hits[0].Fact.Value, hits[0].Relevance)
	}
	if hits[0].Fact.Period != "2025-Q3" || hits[0].Fact.Provenance.Aggregated != 3 {
		t.Fatalf("unexpected aggregate metadata: %+v / %+v", hits[0].Fact, hits[0].Fact.Provenance)
	}
}

func TestFactStoreIncompleteAggregationScoresLower(t *testing.T) {
	store := newSQLiteFactStore(t)
	ctx := context.Background()
	if err := store.ReplaceTable(ctx, "t1", 1, []domain.Fact{
		fact("f-jul", "Turnover", "2025-07", "10.5"),
		fact("f-aug", "Turnover", "2025-08", "12.25"),
	}); err != nil {
		t.Fatalf("ReplaceTable() error = %v", err)
	}

	q := query(domain.Period{Year: 2025, Kind: domain.PeriodQuarter, Index: 3})
	q.MetricNames = []string{"Turnover"}
	q.Aggregation = domain.AggregationSum
	hits, err := store.Lookup(ctx, q)
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if len(hits) != 1 || hits[0].Relevance != 0.7 || hits[0].Fact.Provenance.Aggregated != 2 {
		t.Fatalf("expected incomplete aggregate at 0.7, got %+v", hits)
	}
}

func TestFactStorePartialMetricMatch(t *testing.T) {
	store := newSQLiteFactStore(t)
	ctx := context.Background()
	if err := store.ReplaceTable(ctx, "t1", 1, []domain.Fact{fact("f-clk", "Variable Cost Clinker", "2025-08", "-18.5")}); err != nil {
		t.Fatalf("ReplaceTable() error = %v", err)
	}

	hits, err := store.Lookup(ctx, query(aug2025))
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if len(hits) != 1 || hits[0].Relevance != 0.6 {
		t.Fatalf("expected partial match at 0.6, got %+v", hits)
	}
	if hits[0].Fact.Provenance == nil || hits[0].Fact.Provenance.MetricMatch != "partial" {
		t.Fatalf("expected partial provenance, got %+v", hits[0].Fact.Provenance)
	}
}

func TestFactStoreNoMatchIsEmptyNotError(t *testing.T) {
	store := newSQLiteFactStore(t)
	hits, err := store.Lookup(context.Background(), query(aug2025))
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if len(hits) != 0 {
		t.Fatalf("expected empty result, got %d", len(hits))
	}
}

func TestFactStoreRejectsEmptyFilters(t *testing.T) {
	store := newSQLiteFactStore(t)
	q := query(aug2025)
	q.EntityIDs = nil
	if _, err := store.Lookup(context.Background(), q); !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestFactStoreWrapsDriverErrors(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()
	store := NewFactStore(sqlx.NewDb(db, "pgx"), DialectPostgres)

	mock.ExpectQuery(`SELECT .* FROM facts WHERE superseded_at IS NULL AND entity_id IN \(\$1\)`).
		WillReturnError(errors.New("connection refused"))

	_, err = store.Lookup(context.Background(), query(aug2025))
	if !domain.IsKind(err, domain.ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestFactStoreReplaceTableRunsInTransaction(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()
	store := NewFactStore(sqlx.NewDb(db, "pgx"), DialectPostgres)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE facts SET superseded_at = \$1 WHERE`).WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(`INSERT INTO facts`).WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err = store.ReplaceTable(context.Background(), "t1", 2, []domain.Fact{fact("f1", "Variable Cost", "2025-08", "-23.5")})
	if err == nil {
		t.Fatalf("expected error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/Autopsias/raglite/internal/core/domain"
)

const (
	factsTable = "facts"

	relevanceExact      = 1.0
	relevanceEnclosing  = 0.7
	relevanceIncomplete = 0.7
	partialMetricScale  = 0.6

	metricMatchPartial = "partial"
)

var aggregateNamespace = uuid.MustParse("9a3c5e1f-7b2d-4d8e-a6f0-1c4b8e2d7f95")

var factColumns = []string{
	"id", "entity_id", "metric_name", "period", "scenario", "value", "unit", "sign_convention",
	"source_page", "source_table_id", "source_chunk_id", "table_version", "confidence", "created_at",
}

// FactStore is the relational fact store. It issues every query against the
// facts table.
type FactStore struct {
	db      *sqlx.DB
	dialect Dialect
	sb      sq.StatementBuilderType
	now     func() time.Time
}

func NewFactStore(db *sqlx.DB, dialect Dialect) *FactStore {
	return &FactStore{
		db:      db,
		dialect: dialect,
		sb:      builder(dialect),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (s *FactStore) EnsureSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS facts (
	id TEXT PRIMARY KEY,
	entity_id TEXT NOT NULL,
	metric_name TEXT NOT NULL,
	period TEXT NOT NULL,
	period_kind TEXT NOT NULL,
	period_start INTEGER NOT NULL,
	period_end INTEGER NOT NULL,
	scenario TEXT NOT NULL,
	value NUMERIC NOT NULL,
	unit TEXT NOT NULL DEFAULT '',
	sign_convention TEXT NOT NULL,
	source_page INTEGER NOT NULL,
	source_table_id TEXT NOT NULL,
	source_chunk_id TEXT NOT NULL DEFAULT '',
	table_version INTEGER NOT NULL,
	confidence DOUBLE PRECISION NOT NULL,
	superseded_at TIMESTAMP,
	created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_facts_lookup ON facts(entity_id, metric_name, period_start, period_end);
CREATE INDEX IF NOT EXISTS idx_facts_table ON facts(source_table_id);
`
	if s.dialect == DialectPostgres {
		ddl = strings.ReplaceAll(ddl, "TIMESTAMP", "TIMESTAMPTZ")
		return withTx(ctx, s.db, "facts schema", func(tx *sqlx.Tx) error {
			if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026081101)); err != nil {
				return fmt.Errorf("acquire schema lock: %w", err)
			}
			if _, err := tx.ExecContext(ctx, ddl); err != nil {
				return fmt.Errorf("execute facts ddl: %w", err)
			}
			return nil
		})
	}
	for _, stmt := range strings.Split(ddl, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("execute facts ddl: %w", err)
		}
	}
	return nil
}

// ReplaceTable supersedes every live fact of the table and inserts the new
// version in one transaction.
func (s *FactStore) ReplaceTable(ctx context.Context, tableID string, version int, facts []domain.Fact) error {
	const op = "replace table facts"
	if strings.TrimSpace(tableID) == "" {
		return domain.WrapError(domain.ErrInvalidInput, op, errors.New("table id is required"))
	}

	now := s.now()
	insert := s.sb.Insert(factsTable).Columns(
		"id", "entity_id", "metric_name", "period", "period_kind", "period_start", "period_end", "scenario",
		"value", "unit", "sign_convention", "source_page", "source_table_id", "source_chunk_id",
		"table_version", "confidence", "created_at",
	)
	for _, f := range facts {
		period, ok := domain.ParsePeriodKey(f.Period)
		if !ok {
			return domain.WrapError(domain.ErrInvalidInput, op, fmt.Errorf("fact %s has unparsable period %q", f.ID, f.Period))
		}
		start, end := period.Span()
		scenario := f.Scenario
		if scenario == "" {
			scenario = domain.ScenarioActual
		}
		insert = insert.Values(
			f.ID, f.EntityID, f.MetricName, period.Key(), string(period.Kind), start, end, scenario,
			f.Value.String(), f.Unit, string(f.SignConvention), f.SourcePage, tableID, f.SourceChunkID,
			version, f.Confidence, now,
		)
	}

	supersede := s.sb.Update(factsTable).
		Set("superseded_at", now).
		Where(sq.Eq{"source_table_id": tableID, "superseded_at": nil})

	return withTx(ctx, s.db, op, func(tx *sqlx.Tx) error {
		query, args, err := supersede.ToSql()
		if err != nil {
			return errorSQLBuild(err)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return storeError(ctx, "supersede table facts", err)
		}
		if len(facts) == 0 {
			return nil
		}
		query, args, err = insert.ToSql()
		if err != nil {
			return errorSQLBuild(err)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return storeError(ctx, "insert table facts", err)
		}
		return nil
	})
}

type factRow struct {
	ID             string          `db:"id"`
	EntityID       string          `db:"entity_id"`
	MetricName     string          `db:"metric_name"`
	Period         string          `db:"period"`
	Scenario       string          `db:"scenario"`
	Value          decimal.Decimal `db:"value"`
	Unit           string          `db:"unit"`
	SignConvention string          `db:"sign_convention"`
	SourcePage     int             `db:"source_page"`
	SourceTableID  string          `db:"source_table_id"`
	SourceChunkID  string          `db:"source_chunk_id"`
	TableVersion   int             `db:"table_version"`
	Confidence     float64         `db:"confidence"`
	CreatedAt      time.Time       `db:"created_at"`
	PeriodStart    int             `db:"period_start"`
	PeriodEnd      int             `db:"period_end"`
}

func (r factRow) fact() domain.Fact {
	return domain.Fact{
		ID:             r.ID,
		EntityID:       r.EntityID,
		MetricName:     r.MetricName,
		Period:         r.Period,
		Scenario:       r.Scenario,
		Value:          r.Value,
		Unit:           r.Unit,
		SignConvention: domain.SignConvention(r.SignConvention),
		SourcePage:     r.SourcePage,
		SourceTableID:  r.SourceTableID,
		SourceChunkID:  r.SourceChunkID,
		TableVersion:   r.TableVersion,
		Confidence:     r.Confidence,
		CreatedAt:      r.CreatedAt,
	}
}

type aggregateRow struct {
	EntityID       string          `db:"entity_id"`
	MetricName     string          `db:"metric_name"`
	Scenario       string          `db:"scenario"`
	Unit           string          `db:"unit"`
	SignConvention string          `db:"sign_convention"`
	Value          decimal.Decimal `db:"value"`
	Months         int             `db:"months"`
	SourcePage     int             `db:"source_page"`
	SourceTableID  string          `db:"source_table_id"`
	Confidence     float64         `db:"confidence"`
}

// metricFilter selects the metric predicate of one lookup pass.
type metricFilter struct {
	names   []string
	partial bool
}

func (m metricFilter) predicate() sq.Sqlizer {
	if !m.partial {
		return sq.Eq{"metric_name": m.names}
	}
	or := sq.Or{}
	for _, name := range m.names {
		or = append(or, sq.Like{"LOWER(metric_name)": "%" + strings.ToLower(strings.TrimSpace(name)) + "%"})
	}
	return or
}

// Lookup answers a structured query. Exact entity+metric+period matches score
// 1.0; an explicit aggregation over monthly facts scores 1.0 with complete
// coverage and 0.7 otherwise; the smallest enclosing reported period scores
// 0.7. When no exact metric name matches and partial matching is allowed, the
// whole search is repeated on metric name containment with a 0.6 multiplier.
// No match is an empty list, not an error.
func (s *FactStore) Lookup(ctx context.Context, q domain.StructuredQuery) ([]domain.ScoredFact, error) {
	const op = "lookup facts"
	if len(q.EntityIDs) == 0 || len(q.MetricNames) == 0 || q.Period.IsZero() {
		return nil, domain.WrapError(domain.ErrInvalidInput, op, errors.New("entity, metric and period filters are required"))
	}
	if q.Scenario == "" {
		q.Scenario = domain.ScenarioActual
	}

	out, err := s.lookupPass(ctx, q, metricFilter{names: q.MetricNames})
	if err != nil {
		return nil, err
	}
	if len(out) == 0 && q.AllowPartial {
		out, err = s.lookupPass(ctx, q, metricFilter{names: q.MetricNames, partial: true})
		if err != nil {
			return nil, err
		}
		for i := range out {
			out[i].Relevance *= partialMetricScale
			provenance(&out[i].Fact).MetricMatch = metricMatchPartial
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Relevance != b.Relevance {
			return a.Relevance > b.Relevance
		}
		if a.Fact.EntityID != b.Fact.EntityID {
			return a.Fact.EntityID < b.Fact.EntityID
		}
		if a.Fact.MetricName != b.Fact.MetricName {
			return a.Fact.MetricName < b.Fact.MetricName
		}
		return a.Fact.ID < b.Fact.ID
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (s *FactStore) lookupPass(ctx context.Context, q domain.StructuredQuery, metric metricFilter) ([]domain.ScoredFact, error) {
	if q.Aggregation != "" && q.Aggregation != domain.AggregationNone {
		hits, err := s.aggregate(ctx, q, metric)
		if err != nil || len(hits) > 0 {
			return hits, err
		}
	}

	rows, err := s.selectFacts(ctx, q, metric, sq.Eq{"period": q.Period.Key()})
	if err != nil {
		return nil, err
	}
	if len(rows) > 0 {
		return lo.Map(rows, func(r factRow, _ int) domain.ScoredFact {
			return domain.ScoredFact{Fact: r.fact(), Relevance: relevanceExact}
		}), nil
	}

	if !q.AllowEnclosing {
		return nil, nil
	}
	return s.enclosing(ctx, q, metric)
}

func (s *FactStore) selectFacts(ctx context.Context, q domain.StructuredQuery, metric metricFilter, period sq.Sqlizer) ([]factRow, error) {
	query := s.sb.Select(append(factColumns, "period_start", "period_end")...).
		From(factsTable).
		Where(sq.Eq{"superseded_at": nil}).
		Where(sq.Eq{"entity_id": q.EntityIDs}).
		Where(sq.Eq{"scenario": q.Scenario}).
		Where(metric.predicate()).
		Where(period).
		OrderBy("entity_id", "metric_name", "source_page", "id")

	queryString, args, err := query.ToSql()
	if err != nil {
		return nil, errorSQLBuild(err)
	}

	var rows []factRow
	if err := s.db.SelectContext(ctx, &rows, queryString, args...); err != nil {
		return nil, storeError(ctx, "select facts", err)
	}
	return rows, nil
}

// enclosing returns, per entity and metric, the facts of the smallest
// reported period that fully covers the requested one.
func (s *FactStore) enclosing(ctx context.Context, q domain.StructuredQuery, metric metricFilter) ([]domain.ScoredFact, error) {
	start, end := q.Period.Span()
	rows, err := s.selectFacts(ctx, q, metric, sq.And{
		sq.LtOrEq{"period_start": start},
		sq.GtOrEq{"period_end": end},
		sq.NotEq{"period": q.Period.Key()},
	})
	if err != nil {
		return nil, err
	}

	best := make(map[string]int)
	for _, r := range rows {
		key := r.EntityID + "\x00" + r.MetricName
		span := r.PeriodEnd - r.PeriodStart
		if cur, ok := best[key]; !ok || span < cur {
			best[key] = span
		}
	}

	out := make([]domain.ScoredFact, 0, len(rows))
	for _, r := range rows {
		if r.PeriodEnd-r.PeriodStart != best[r.EntityID+"\x00"+r.MetricName] {
			continue
		}
		f := r.fact()
		p := provenance(&f)
		p.RequestedPeriod = q.Period.Key()
		p.ResolvedPeriod = r.Period
		p.Substituted = true
		out = append(out, domain.ScoredFact{Fact: f, Relevance: relevanceEnclosing})
	}
	return out, nil
}

// aggregate folds the monthly facts covered by the requested period with a
// GROUP BY per entity and metric.
func (s *FactStore) aggregate(ctx context.Context, q domain.StructuredQuery, metric metricFilter) ([]domain.ScoredFact, error) {
	fn, ok := map[domain.Aggregation]string{
		domain.AggregationSum: "SUM",
		domain.AggregationAvg: "AVG",
		domain.AggregationMax: "MAX",
		domain.AggregationMin: "MIN",
	}[q.Aggregation]
	if !ok {
		return nil, domain.WrapError(domain.ErrInvalidInput, "aggregate facts", fmt.Errorf("unknown aggregation %q", q.Aggregation))
	}

	start, end := q.Period.Span()
	query := s.sb.Select(
		"entity_id", "metric_name", "scenario", "unit", "sign_convention",
		fn+"(value) AS value",
		"COUNT(DISTINCT period_start) AS months",
		"MIN(source_page) AS source_page",
		"MIN(source_table_id) AS source_table_id",
		"MIN(confidence) AS confidence",
	).
		From(factsTable).
		Where(sq.Eq{"superseded_at": nil}).
		Where(sq.Eq{"entity_id": q.EntityIDs}).
		Where(sq.Eq{"scenario": q.Scenario}).
		Where(sq.Eq{"period_kind": string(domain.PeriodMonth)}).
		Where(metric.predicate()).
		Where(sq.GtOrEq{"period_start": start}).
		Where(sq.LtOrEq{"period_end": end}).
		GroupBy("entity_id", "metric_name", "scenario", "unit", "sign_convention").
		OrderBy("entity_id", "metric_name")

	queryString, args, err := query.ToSql()
	if err != nil {
		return nil, errorSQLBuild(err)
	}

	var rows []aggregateRow
	if err := s.db.SelectContext(ctx, &rows, queryString, args...); err != nil {
		return nil, storeError(ctx, "aggregate facts", err)
	}

	out := make([]domain.ScoredFact, 0, len(rows))
	for _, r := range rows {
		relevance := relevanceExact
		if r.Months < q.Period.Months() {
			relevance = relevanceIncomplete
		}
		id := uuid.NewSHA1(aggregateNamespace, []byte(strings.Join([]string{
			r.EntityID, r.MetricName, q.Period.Key(), r.Scenario, string(q.Aggregation),
		}, "/"))).String()
		f := domain.Fact{
			ID:             id,
			EntityID:       r.EntityID,
			MetricName:     r.MetricName,
			Period:         q.Period.Key(),
			Scenario:       r.Scenario,
			Value:          r.Value,
			Unit:           r.Unit,
			SignConvention: domain.SignConvention(r.SignConvention),
			SourcePage:     r.SourcePage,
			SourceTableID:  r.SourceTableID,
			Confidence:     r.Confidence,
		}
		p := provenance(&f)
		p.RequestedPeriod = q.Period.Key()
		p.Aggregation = string(q.Aggregation)
		p.Aggregated = r.Months
		out = append(out, domain.ScoredFact{Fact: f, Relevance: relevance})
	}
	return out, nil
}

func provenance(f *domain.Fact) *domain.FactProvenance {
	if f.Provenance == nil {
		f.Provenance = &domain.FactProvenance{}
	}
	return f.Provenance
}

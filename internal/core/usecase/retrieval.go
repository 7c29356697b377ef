package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"github.com/Autopsias/raglite/internal/core/domain"
	"github.com/Autopsias/raglite/internal/core/ports"
)

const keywordRRFK = 60

// RetrievalOrchestrator drives analysis, classification, parallel
// sub-retrieval and fusion for one question.
type RetrievalOrchestrator struct {
	analyzer   *QueryAnalyzer
	classifier *QueryClassifier
	intents    *SQLIntentGenerator
	fusion     *ResultFusionEngine

	facts    ports.FactStore
	embedder ports.Embedder
	vectors  ports.VectorStore
	keyword  ports.KeywordIndex
	observer ports.RetrievalObserver

	policy RetrievalPolicy
}

type RetrievalOption func(*RetrievalOrchestrator)

// WithKeywordIndex merges lexical hits into the vector path.
func WithKeywordIndex(index ports.KeywordIndex) RetrievalOption {
	return func(o *RetrievalOrchestrator) { o.keyword = index }
}

func WithRetrievalObserver(observer ports.RetrievalObserver) RetrievalOption {
	return func(o *RetrievalOrchestrator) { o.observer = observer }
}

func NewRetrievalOrchestrator(
	analyzer *QueryAnalyzer,
	facts ports.FactStore,
	embedder ports.Embedder,
	vectors ports.VectorStore,
	policy RetrievalPolicy,
	opts ...RetrievalOption,
) *RetrievalOrchestrator {
	policy = policy.withDefaults()
	o := &RetrievalOrchestrator{
		analyzer:   analyzer,
		classifier: NewQueryClassifier(),
		intents:    NewSQLIntentGenerator(policy),
		fusion:     NewResultFusionEngine(policy),
		facts:      facts,
		embedder:   embedder,
		vectors:    vectors,
		policy:     policy,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

type pathOutcome struct {
	status  domain.PathStatus
	err     error
	elapsed time.Duration
}

func (o *RetrievalOrchestrator) Retrieve(ctx context.Context, req domain.RetrievalRequest) (*domain.RetrievalResult, error) {
	const op = "retrieve evidence"
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, op, errors.New("question is required"))
	}

	query := o.classifier.Classify(o.analyzer.Analyze(question))
	result := &domain.RetrievalResult{Query: query, Route: query.Classification}

	runStructured := query.Classification != domain.RouteVector
	runVector := query.Classification != domain.RouteStructured

	var structuredQueries []domain.StructuredQuery
	if runStructured {
		var err error
		structuredQueries, err = o.intents.Generate(query)
		if err != nil {
			if !domain.IsKind(err, domain.ErrNoStructuredPath) {
				return nil, fmt.Errorf("%s: %w", op, err)
			}
			runStructured = false
			runVector = true
			result.Route = domain.RouteVector
			result.Paths = append(result.Paths, domain.PathStatus{Path: domain.PathStructured, Reason: domain.PathReasonNoStructuredPath})
			result.Notes = append(result.Notes, "structured path skipped: "+err.Error())
		}
	}

	var (
		facts      []domain.ScoredFact
		chunks     []domain.ScoredChunk
		structured pathOutcome
		vector     pathOutcome
		g          errgroup.Group
	)
	if runStructured {
		g.Go(func() error {
			facts, structured = o.runStructured(ctx, structuredQueries)
			return nil
		})
	}
	if runVector {
		g.Go(func() error {
			chunks, vector = o.runVector(ctx, question, req)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		o.observe(nil, err)
		return nil, err
	}

	// A structured-only route still answers from text when the fact store is down or has nothing.
	if runStructured && !runVector && (structured.err != nil || len(facts) == 0) {
		runVector = true
		chunks, vector = o.runVector(ctx, question, req)
		if err := ctx.Err(); err != nil {
			o.observe(nil, err)
			return nil, err
		}
		result.Notes = append(result.Notes, "vector fallback: structured path returned no facts")
	}

	var failures []error
	allFailed := true
	allTimeouts := true
	for _, outcome := range []struct {
		ran bool
		pathOutcome
	}{{runStructured, structured}, {runVector, vector}} {
		if !outcome.ran {
			continue
		}
		result.Paths = append(result.Paths, outcome.status)
		if o.observer != nil {
			o.observer.ObservePath(outcome.status.Path, outcome.status, outcome.elapsed.Seconds())
		}
		if outcome.err == nil {
			allFailed = false
			continue
		}
		result.Degraded = true
		failures = append(failures, outcome.err)
		if outcome.status.Reason != domain.PathReasonTimeout {
			allTimeouts = false
		}
		slog.Warn("retrieval_path_degraded",
			"path", outcome.status.Path,
			"reason", outcome.status.Reason,
			"error", outcome.err.Error(),
		)
	}

	result.Evidence = o.fusion.Fuse(facts, chunks)
	if len(result.Evidence) > o.policy.MaxEvidenceItems {
		result.Evidence = result.Evidence[:o.policy.MaxEvidenceItems]
	}
	result.Notes = append(result.Notes, substitutionNotes(result.Evidence)...)

	var err error
	if len(result.Evidence) == 0 {
		switch {
		case len(failures) > 0 && allFailed && allTimeouts:
			err = domain.WrapError(domain.ErrTemporary, op, errors.Join(failures...))
		case len(failures) > 0 && allFailed:
			err = domain.WrapError(domain.ErrStoreUnavailable, op, errors.Join(failures...))
		default:
			err = &domain.NoEvidenceError{Route: result.Route, Degraded: degradedPaths(result.Paths)}
		}
	}

	o.audit(result, err)
	o.observe(result, err)
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (o *RetrievalOrchestrator) runStructured(ctx context.Context, queries []domain.StructuredQuery) ([]domain.ScoredFact, pathOutcome) {
	started := time.Now()
	pathCtx, cancel := context.WithTimeout(ctx, o.policy.PathTimeout)
	defer cancel()

	out := pathOutcome{status: domain.PathStatus{Path: domain.PathStructured}}
	var facts []domain.ScoredFact
	for _, q := range queries {
		hits, err := o.facts.Lookup(pathCtx, q)
		if err != nil {
			out.err = fmt.Errorf("structured lookup: %w", err)
			out.status.Reason = pathFailureReason(pathCtx, err)
			out.elapsed = time.Since(started)
			return nil, out
		}
		facts = append(facts, hits...)
	}
	out.status.Results = len(facts)
	out.elapsed = time.Since(started)
	return facts, out
}

func (o *RetrievalOrchestrator) runVector(ctx context.Context, question string, req domain.RetrievalRequest) ([]domain.ScoredChunk, pathOutcome) {
	started := time.Now()
	pathCtx, cancel := context.WithTimeout(ctx, o.policy.PathTimeout)
	defer cancel()

	out := pathOutcome{status: domain.PathStatus{Path: domain.PathVector}}
	fail := func(stage string, err error) ([]domain.ScoredChunk, pathOutcome) {
		out.err = fmt.Errorf("%s: %w", stage, err)
		out.status.Reason = pathFailureReason(pathCtx, err)
		out.elapsed = time.Since(started)
		return nil, out
	}

	k := req.Limit
	if k <= 0 {
		k = o.policy.VectorTopK
	}

	queryVector, err := o.embedder.EmbedQuery(pathCtx, question)
	if err != nil {
		return fail("embed query", err)
	}
	hits, err := o.vectors.Search(pathCtx, queryVector, k, req.Filter)
	if err != nil {
		return fail("search vector store", err)
	}

	if o.keyword != nil {
		lexical, err := o.keyword.SearchLexical(pathCtx, question, o.policy.KeywordTopK, req.Filter)
		if err != nil {
			slog.Warn("keyword_search_failed", "error", err.Error())
		} else if len(lexical) > 0 {
			hits = trimChunks(fuseChunksRRF(hits, lexical, keywordRRFK), k)
		}
	}

	out.status.Results = len(hits)
	out.elapsed = time.Since(started)
	return hits, out
}

func pathFailureReason(pathCtx context.Context, err error) string {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(pathCtx.Err(), context.DeadlineExceeded) || domain.IsKind(err, domain.ErrPathTimeout) {
		return domain.PathReasonTimeout
	}
	return domain.PathReasonStoreUnavailable
}

func degradedPaths(paths []domain.PathStatus) []domain.PathStatus {
	return lo.Filter(paths, func(p domain.PathStatus, _ int) bool {
		return p.Reason == domain.PathReasonTimeout || p.Reason == domain.PathReasonStoreUnavailable
	})
}

func substitutionNotes(evidence []domain.EvidenceItem) []string {
	notes := make([]string, 0)
	seen := make(map[string]struct{})
	for _, item := range evidence {
		if item.Fact == nil || item.Fact.Provenance == nil {
			continue
		}
		p := item.Fact.Provenance
		var note string
		switch {
		case p.Substituted:
			note = fmt.Sprintf("period %s not reported; used enclosing period %s", p.RequestedPeriod, p.ResolvedPeriod)
		case p.Aggregation != "" && p.Aggregation != string(domain.AggregationNone):
			note = fmt.Sprintf("%s over %d monthly values for %s", p.Aggregation, p.Aggregated, p.RequestedPeriod)
		default:
			continue
		}
		if _, dup := seen[note]; dup {
			continue
		}
		seen[note] = struct{}{}
		notes = append(notes, note)
	}
	return notes
}

func (o *RetrievalOrchestrator) audit(result *domain.RetrievalResult, err error) {
	q := result.Query
	entities := lo.Map(q.Entities, func(r domain.Resolution, _ int) string {
		if best, ok := r.Best(); ok {
			return best.EntityID
		}
		return string(r.Status) + ":" + r.Mention
	})
	periods := lo.Map(q.Periods, func(p domain.Period, _ int) string { return p.Key() })
	degraded := lo.Map(degradedPaths(result.Paths), func(p domain.PathStatus, _ int) string {
		return string(p.Path) + ":" + p.Reason
	})

	attrs := []any{
		"query", q.RawText,
		"entities", entities,
		"periods", periods,
		"metrics", q.Metrics,
		"classification", q.Classification,
		"classification_confidence", q.ClassConfidence,
		"classification_reason", q.ClassReason,
		"route", result.Route,
		"degraded", degraded,
		"evidence_count", len(result.Evidence),
	}
	if err != nil {
		attrs = append(attrs, "outcome", err.Error())
	}
	slog.Info("retrieval_audit", attrs...)
}

func (o *RetrievalOrchestrator) observe(result *domain.RetrievalResult, err error) {
	if o.observer != nil {
		o.observer.ObserveRetrieval(result, err)
	}
}

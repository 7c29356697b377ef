package usecase

import (
	"strings"

	"github.com/samber/lo"

	"github.com/Autopsias/raglite/internal/core/domain"
)

var narrativeIndicators = map[string]struct{}{
	"why": {}, "explain": {}, "explanation": {}, "explains": {}, "trend": {}, "trends": {},
	"discuss": {}, "describe": {}, "driver": {}, "drivers": {}, "outlook": {}, "commentary": {},
	"reason": {}, "reasons": {}, "cause": {}, "causes": {}, "caused": {}, "context": {},
	"evolution": {}, "evolve": {}, "evolved": {}, "happened": {}, "impact": {}, "summarize": {},
	"summary": {}, "porque": {}, "explicar": {},
}

var aggregationWords = map[string]domain.Aggregation{
	"total": domain.AggregationSum, "sum": domain.AggregationSum, "cumulative": domain.AggregationSum,
	"average": domain.AggregationAvg, "avg": domain.AggregationAvg, "mean": domain.AggregationAvg,
	"highest": domain.AggregationMax, "maximum": domain.AggregationMax, "max": domain.AggregationMax, "peak": domain.AggregationMax,
	"lowest": domain.AggregationMin, "minimum": domain.AggregationMin, "min": domain.AggregationMin,
}

var scenarioPhrases = []struct {
	phrase   string
	scenario string
}{
	{"prior year", "prior_year"},
	{"last year", "prior_year"},
	{"budget", "budget"},
	{"budgeted", "budget"},
	{"forecast", "forecast"},
	{"plan", "budget"},
}

// QueryAnalyzer attaches resolved entities, periods, metrics and intent
// markers to a raw question.
type QueryAnalyzer struct {
	entities *EntityResolver
	metrics  *MetricVocabulary
}

func NewQueryAnalyzer(entities *EntityResolver, metrics *MetricVocabulary) *QueryAnalyzer {
	return &QueryAnalyzer{entities: entities, metrics: metrics}
}

func (a *QueryAnalyzer) Analyze(question string) domain.Query {
	q := domain.Query{RawText: question, Aggregation: domain.AggregationNone}
	tokens := foldTokens(question)

	metrics, consumed := a.metrics.Find(tokens)
	q.Metrics = lo.Map(metrics, func(m domain.Metric, _ int) string { return m.Name })
	q.Periods = domain.FindPeriods(question)

	for _, tok := range tokens {
		if _, ok := narrativeIndicators[tok]; ok && !lo.Contains(q.NarrativeIntent, tok) {
			q.NarrativeIntent = append(q.NarrativeIntent, tok)
		}
		if agg, ok := aggregationWords[tok]; ok && q.Aggregation == domain.AggregationNone {
			q.Aggregation = agg
		}
	}

	joined := " " + strings.Join(tokens, " ") + " "
	for _, sp := range scenarioPhrases {
		if strings.Contains(joined, " "+sp.phrase+" ") {
			q.Scenario = sp.scenario
			break
		}
	}

	// Metric and period tokens are not entity mentions.
	masked := make([]string, len(tokens))
	for i, tok := range tokens {
		switch {
		case consumed[i], domain.IsPeriodToken(tok):
		case isIntentToken(tok):
		default:
			masked[i] = tok
		}
	}
	if a.entities != nil {
		q.Entities = a.entities.FindMentions(masked)
	}
	return q
}

func isIntentToken(tok string) bool {
	if _, ok := narrativeIndicators[tok]; ok {
		return true
	}
	if _, ok := aggregationWords[tok]; ok {
		return true
	}
	switch tok {
	case "budget", "budgeted", "forecast", "plan", "prior", "last", "year", "compare", "compared":
		return true
	}
	return false
}

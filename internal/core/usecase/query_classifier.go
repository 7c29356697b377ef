package usecase

import (
	"github.com/Autopsias/raglite/internal/core/domain"
)

const (
	reasonAmbiguousEntity  = "ambiguous_entity"
	reasonNarrativeIntent  = "narrative_intent"
	reasonFullTriple       = "entity_metric_period"
	reasonNoStructured     = "no_structured_signal"
	reasonPartialStructure = "partial_structured_signal"
)

// QueryClassifier is a deterministic rule table over an analyzed query.
type QueryClassifier struct{}

func NewQueryClassifier() *QueryClassifier {
	return &QueryClassifier{}
}

// Classify returns q with route, confidence and the rule that fired.
func (c *QueryClassifier) Classify(q domain.Query) domain.Query {
	entityIDs := q.ResolvedEntityIDs()
	hasEntity := len(entityIDs) > 0
	hasMetric := len(q.Metrics) > 0
	hasPeriod := len(q.Periods) > 0
	narrative := len(q.NarrativeIntent) > 0

	switch {
	case q.HasAmbiguousEntity():
		q.Classification, q.ClassConfidence, q.ClassReason = domain.RouteHybrid, 0.6, reasonAmbiguousEntity
	case narrative:
		q.Classification, q.ClassConfidence, q.ClassReason = domain.RouteVector, 0.8, reasonNarrativeIntent
	case hasEntity && hasMetric && hasPeriod:
		q.Classification, q.ClassConfidence, q.ClassReason = domain.RouteStructured, 0.7+0.3*minEntityConfidence(q), reasonFullTriple
	case !hasEntity && !hasMetric && !hasPeriod:
		q.Classification, q.ClassConfidence, q.ClassReason = domain.RouteVector, 0.9, reasonNoStructured
	default:
		q.Classification, q.ClassConfidence, q.ClassReason = domain.RouteHybrid, 0.7, reasonPartialStructure
	}
	return q
}

func minEntityConfidence(q domain.Query) float64 {
	lowest := 1.0
	for _, r := range q.Entities {
		if best, ok := r.Best(); ok && best.Confidence < lowest {
			lowest = best.Confidence
		}
	}
	return lowest
}

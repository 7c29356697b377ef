package usecase

import (
	"fmt"
	"strings"

	"github.com/samber/lo"

	"github.com/Autopsias/raglite/internal/core/domain"
)

// SQLIntentGenerator turns an analyzed query into structured store queries.
// It fails closed: a query is never issued with an empty entity, metric or
// period filter.
type SQLIntentGenerator struct {
	policy RetrievalPolicy
}

func NewSQLIntentGenerator(policy RetrievalPolicy) *SQLIntentGenerator {
	return &SQLIntentGenerator{policy: policy.withDefaults()}
}

// Generate returns one structured query per requested period.
func (g *SQLIntentGenerator) Generate(q domain.Query) ([]domain.StructuredQuery, error) {
	const op = "generate structured query"

	entityIDs := g.entityFilter(q)
	var missing []string
	if len(entityIDs) == 0 {
		missing = append(missing, "entity")
	}
	if len(q.Metrics) == 0 {
		missing = append(missing, "metric")
	}
	if len(q.Periods) == 0 {
		missing = append(missing, "period")
	}
	if len(missing) > 0 {
		return nil, domain.WrapError(domain.ErrNoStructuredPath, op, fmt.Errorf("unresolved %s", strings.Join(missing, ", ")))
	}

	scenario := q.Scenario
	if scenario == "" {
		scenario = domain.ScenarioActual
	}
	aggregation := q.Aggregation
	if aggregation == "" {
		aggregation = domain.AggregationNone
	}

	out := make([]domain.StructuredQuery, 0, len(q.Periods))
	for _, period := range q.Periods {
		out = append(out, domain.StructuredQuery{
			EntityIDs:      entityIDs,
			MetricNames:    append([]string(nil), q.Metrics...),
			Period:         period,
			Aggregation:    aggregation,
			Scenario:       scenario,
			AllowEnclosing: true,
			AllowPartial:   true,
			Limit:          g.policy.StructuredTopK,
		})
	}
	return out, nil
}

// entityFilter keeps the best candidate of resolved mentions and every
// near-tied candidate of ambiguous ones.
func (g *SQLIntentGenerator) entityFilter(q domain.Query) []string {
	ids := make([]string, 0, len(q.Entities))
	for _, r := range q.Entities {
		switch r.Status {
		case domain.Resolved:
			ids = append(ids, r.Candidates[0].EntityID)
		case domain.Ambiguous:
			top := r.Candidates[0].Confidence
			for _, c := range r.Candidates {
				if top-c.Confidence <= g.policy.AmbiguityMargin+1e-9 {
					ids = append(ids, c.EntityID)
				}
			}
		}
	}
	return lo.Uniq(ids)
}

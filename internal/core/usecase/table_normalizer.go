package usecase

import (
	"fmt"
	"math"
	"strings"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/Autopsias/raglite/internal/core/domain"
)

var factNamespace = uuid.MustParse("6f1c2a8e-54c3-4f7e-9a52-3b1d7e0c9a41")

// EntityLookup is the exact-or-alias matching used while normalizing tables.
type EntityLookup interface {
	LookupExact(label string) (domain.EntityCandidate, bool)
}

var scenarioLabels = map[string]string{
	"actual": domain.ScenarioActual, "actuals": domain.ScenarioActual, "act": domain.ScenarioActual,
	"real": domain.ScenarioActual, "ac": domain.ScenarioActual,
	"budget": "budget", "bud": "budget", "bgt": "budget", "orcamento": "budget", "orc": "budget",
	"plan":     "budget",
	"forecast": "forecast", "fc": "forecast", "fcst": "forecast", "prev": "forecast",
	"ly": "prior_year", "py": "prior_year", "last year": "prior_year", "prior year": "prior_year",
	"ano anterior": "prior_year", "aa": "prior_year",
	"var": "variance", "variance": "variance", "var %": "variance_pct", "delta": "variance",
	"diff": "variance", "vs bud": "variance", "vs ly": "variance", "vs budget": "variance",
	"vs py": "variance",
}

var unitHeaders = map[string]struct{}{"unit": {}, "units": {}, "un": {}, "unid": {}, "unidade": {}}

// TableNormalizer turns a raw table grid into facts, detecting whether the
// table is standard (entities in rows) or transposed (metrics in rows).
type TableNormalizer struct {
	entities EntityLookup
	metrics  *MetricVocabulary
	policy   RetrievalPolicy
}

func NewTableNormalizer(entities EntityLookup, metrics *MetricVocabulary, policy RetrievalPolicy) *TableNormalizer {
	return &TableNormalizer{entities: entities, metrics: metrics, policy: policy.withDefaults()}
}

type columnInfo struct {
	index    int
	parts    []string
	key      string
	entity   string
	period   string
	metric   *domain.Metric
	scenario string
	unitCol  bool
	numeric  bool
}

// Normalize never fails: problems become issues on the result and the
// affected cells are skipped.
func (n *TableNormalizer) Normalize(table domain.RawTable, defaultPeriod string) domain.NormalizedTable {
	out := domain.NormalizedTable{TableID: table.ID}
	rows := trimEmptyRows(table.Rows)
	if len(rows) == 0 {
		out.Orientation = domain.OrientationStandard
		out.Hypothesis = domain.OrientationStandard
		return out
	}

	headerRows := countHeaderRows(rows)
	out.HeaderRows = headerRows
	data := rows[headerRows:]
	columns := n.describeColumns(rows, headerRows)

	labels := make([]string, len(data))
	for i, row := range data {
		labels[i] = rowLabel(row)
	}

	out.ScoreA, out.ScoreB = n.score(labels, columns)
	top := math.Max(out.ScoreA, out.ScoreB)
	ambiguous := top == 0 || math.Abs(out.ScoreA-out.ScoreB)/top < n.policy.OrientationMargin

	// Within the margin the standard layout is read regardless of which score leads.
	hypothesis := domain.OrientationStandard
	if !ambiguous && out.ScoreB > out.ScoreA {
		hypothesis = domain.OrientationTransposed
	}
	out.Hypothesis = hypothesis
	switch {
	case ambiguous:
		out.Orientation = domain.OrientationAmbiguous
		out.Issues = append(out.Issues, domain.IngestionIssue{
			Kind: domain.IssueOrientationAmbiguous, TableID: table.ID,
			Detail: fmt.Sprintf("standard=%.2f transposed=%.2f", out.ScoreA, out.ScoreB),
		})
	case headerRows > 1:
		out.Orientation = domain.OrientationHierarchical
	default:
		out.Orientation = hypothesis
	}

	baseConfidence := 1.0
	if ambiguous {
		baseConfidence = n.policy.AmbiguousConfidence
	}

	period := firstNonEmpty(table.Period, defaultPeriod)
	titleMetric := n.titleMetric(table.Title)
	reported := make(map[string]struct{})
	report := func(issue domain.IngestionIssue) {
		key := fmt.Sprintf("%s|%d|%d|%s", issue.Kind, issue.Row, issue.Col, issue.Detail)
		if _, dup := reported[key]; dup {
			return
		}
		reported[key] = struct{}{}
		out.Issues = append(out.Issues, issue)
	}

	for i, row := range data {
		label := labels[i]
		if label == "" {
			continue
		}
		rowNumber := headerRows + i
		rowUnit := ""
		for _, col := range columns {
			if col.unitCol && col.index < len(row) {
				rowUnit = strings.TrimSpace(row[col.index].Text)
			}
		}
		rowPeriod := ""
		if p, ok := domain.ParsePeriod(label); ok {
			rowPeriod = p.Key()
		}

		for _, col := range columns {
			if !col.numeric || col.index >= len(row) {
				continue
			}
			cell := row[col.index]
			value, percent, status := parseCellNumber(cell.Text, table.Locale)
			switch status {
			case cellPlaceholder:
				continue
			case cellInvalid:
				report(domain.IngestionIssue{
					Kind: domain.IssueUnparsableCell, TableID: table.ID, Row: rowNumber, Col: col.index,
					Detail: cell.Text,
				})
				continue
			}

			confidence := baseConfidence
			var entityID string
			var metric domain.Metric
			metricKnown := false

			if hypothesis == domain.OrientationStandard {
				cand, ok := n.entities.LookupExact(label)
				if !ok {
					if rowPeriod == "" {
						report(domain.IngestionIssue{Kind: domain.IssueUnresolvedEntity, TableID: table.ID, Row: rowNumber, Detail: label})
						continue
					}
					if col.entity == "" {
						report(domain.IngestionIssue{Kind: domain.IssueUnresolvedEntity, TableID: table.ID, Row: rowNumber, Col: col.index, Detail: col.key})
						continue
					}
					cand = domain.EntityCandidate{EntityID: col.entity}
				}
				entityID = cand.EntityID
				switch {
				case col.metric != nil:
					metric, metricKnown = *col.metric, true
				case titleMetric != nil:
					metric, metricKnown = *titleMetric, true
				default:
					name := strings.TrimSpace(reTrailingUnit.ReplaceAllString(table.Title, ""))
					if name == "" {
						report(domain.IngestionIssue{Kind: domain.IssueUnresolvedMetric, TableID: table.ID, Col: col.index, Detail: col.key})
						continue
					}
					metric = domain.Metric{Name: name, Kind: domain.MetricOther}
					report(domain.IngestionIssue{Kind: domain.IssueUnresolvedMetric, TableID: table.ID, Detail: name})
				}
			} else {
				if m, ok := n.metrics.Lookup(label); ok {
					metric, metricKnown = m, true
				} else {
					metric = domain.Metric{Name: strings.TrimSpace(reTrailingUnit.ReplaceAllString(label, "")), Kind: domain.MetricOther}
					report(domain.IngestionIssue{Kind: domain.IssueUnresolvedMetric, TableID: table.ID, Row: rowNumber, Detail: label})
				}
				if col.entity == "" {
					report(domain.IngestionIssue{Kind: domain.IssueUnresolvedEntity, TableID: table.ID, Col: col.index, Detail: col.key})
					continue
				}
				entityID = col.entity
			}
			if !metricKnown {
				confidence *= 0.8
			}

			factPeriod := firstNonEmpty(col.period, rowPeriod, normalizePeriodLabel(period))
			if factPeriod == "" {
				report(domain.IngestionIssue{Kind: domain.IssueMissingPeriod, TableID: table.ID, Col: col.index, Detail: col.key})
				continue
			}

			sign := domain.SignAsReported
			if metric.Kind == domain.MetricCost {
				value = value.Abs().Neg()
				sign = domain.SignCostNegative
			}
			unit := firstNonEmpty(rowUnit, metric.Unit, table.Unit)
			if percent {
				unit = "%"
			}

			out.Facts = append(out.Facts, domain.Fact{
				ID:             factID(table.ID, table.Version, rowNumber, col.index),
				EntityID:       entityID,
				MetricName:     metric.Name,
				Period:         factPeriod,
				Scenario:       firstNonEmpty(col.scenario, domain.ScenarioActual),
				Value:          value,
				Unit:           unit,
				SignConvention: sign,
				SourcePage:     table.Page,
				SourceTableID:  table.ID,
				TableVersion:   table.Version,
				Confidence:     confidence,
			})
		}
	}
	return out
}

// score evaluates hypothesis A (entities in rows, periods or comparisons in
// columns) and hypothesis B (metrics in rows, entities in columns).
func (n *TableNormalizer) score(labels []string, columns []columnInfo) (float64, float64) {
	rowLabels := lo.Uniq(lo.Filter(labels, func(l string, _ int) bool { return l != "" }))
	dataCols := lo.Filter(columns, func(c columnInfo, _ int) bool { return c.numeric })

	rowEntity := share(rowLabels, func(l string) bool {
		_, ok := n.entities.LookupExact(l)
		return ok
	})
	rowMetric := share(rowLabels, func(l string) bool {
		_, ok := n.metrics.Lookup(l)
		return ok
	})
	colPeriod := share(dataCols, func(c columnInfo) bool { return c.period != "" || c.scenario != "" })
	colEntity := share(dataCols, func(c columnInfo) bool { return c.entity != "" })

	return rowEntity + colPeriod, rowMetric + colEntity
}

func (n *TableNormalizer) describeColumns(rows [][]domain.Cell, headerRows int) []columnInfo {
	width := 0
	for _, row := range rows {
		width = max(width, len(row))
	}

	carried := make([]string, headerRows)
	columns := make([]columnInfo, 0, width)
	for c := 1; c < width; c++ {
		col := columnInfo{index: c}
		for h := 0; h < headerRows; h++ {
			text := ""
			if c < len(rows[h]) {
				text = strings.TrimSpace(rows[h][c].Text)
			}
			// Merged upper-level header cells are delivered once and apply to
			// every column to their right until the next label.
			if text == "" && h < headerRows-1 {
				text = carried[h]
			}
			carried[h] = text
			if text != "" && (len(col.parts) == 0 || col.parts[len(col.parts)-1] != text) {
				col.parts = append(col.parts, text)
			}
		}
		col.key = strings.Join(col.parts, " ")

		rest := make([]string, 0, len(col.parts))
		for _, part := range col.parts {
			if _, ok := unitHeaders[foldText(part)]; ok {
				col.unitCol = true
				continue
			}
			if col.entity == "" {
				if cand, ok := n.entities.LookupExact(part); ok {
					col.entity = cand.EntityID
					continue
				}
			}
			if col.period == "" {
				if p, ok := domain.ParsePeriod(part); ok {
					col.period = p.Key()
					continue
				}
			}
			if col.metric == nil {
				if m, ok := n.metrics.Lookup(part); ok {
					col.metric = &m
					continue
				}
			}
			if s, ok := scenarioLabels[foldText(part)]; ok && col.scenario == "" {
				col.scenario = s
				continue
			}
			rest = append(rest, part)
		}
		if col.scenario == "" && len(rest) > 0 && col.period != "" {
			col.scenario = strings.ReplaceAll(foldText(strings.Join(rest, " ")), " ", "_")
		}

		for _, row := range rows[headerRows:] {
			if c < len(row) {
				if _, _, status := parseCellNumber(row[c].Text, ""); status == cellNumeric {
					col.numeric = true
					break
				}
			}
		}
		if col.unitCol {
			col.numeric = false
		}
		columns = append(columns, col)
	}
	return columns
}

func (n *TableNormalizer) titleMetric(title string) *domain.Metric {
	if title == "" {
		return nil
	}
	if m, ok := n.metrics.Lookup(title); ok {
		return &m
	}
	found, _ := n.metrics.Find(foldTokens(title))
	if len(found) == 0 {
		return nil
	}
	return &found[0]
}

// countHeaderRows counts leading rows whose non-empty cells are all flagged
// as header. A first row without any numeric cell counts as a header when
// the parser flagged nothing.
func countHeaderRows(rows [][]domain.Cell) int {
	count := 0
	for _, row := range rows {
		nonEmpty := 0
		allHeader := true
		for _, cell := range row {
			if strings.TrimSpace(cell.Text) == "" {
				continue
			}
			nonEmpty++
			if !cell.Header {
				allHeader = false
			}
		}
		if nonEmpty == 0 || !allHeader {
			break
		}
		count++
	}
	if count > 0 || len(rows) < 2 {
		return count
	}
	for _, cell := range rows[0] {
		if _, _, status := parseCellNumber(cell.Text, ""); status == cellNumeric {
			return 0
		}
	}
	return 1
}

func rowLabel(row []domain.Cell) string {
	if len(row) == 0 {
		return ""
	}
	return strings.TrimSpace(row[0].Text)
}

func trimEmptyRows(rows [][]domain.Cell) [][]domain.Cell {
	out := make([][]domain.Cell, 0, len(rows))
	for _, row := range rows {
		if lo.SomeBy(row, func(c domain.Cell) bool { return strings.TrimSpace(c.Text) != "" }) {
			out = append(out, row)
		}
	}
	return out
}

func share[T any](items []T, pred func(T) bool) float64 {
	if len(items) == 0 {
		return 0
	}
	return float64(lo.CountBy(items, pred)) / float64(len(items))
}

func normalizePeriodLabel(label string) string {
	if label == "" {
		return ""
	}
	if p, ok := domain.ParsePeriodKey(label); ok {
		return p.Key()
	}
	return ""
}

func factID(tableID string, version, row, col int) string {
	return uuid.NewSHA1(factNamespace, []byte(fmt.Sprintf("%s/%d/%d/%d", tableID, version, row, col))).String()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

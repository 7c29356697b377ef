package usecase

import (
	"fmt"
	"reflect"
	"strconv"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Autopsias/raglite/internal/core/domain"
)

func newTestNormalizer(t *testing.T) *TableNormalizer {
	t.Helper()
	return NewTableNormalizer(newTestResolver(t), NewMetricVocabulary(sampleMetrics()), DefaultRetrievalPolicy())
}

func findFact(facts []domain.Fact, entityID, metric, scenario string) (domain.Fact, bool) {
	for _, f := range facts {
		if f.EntityID == entityID && f.MetricName == metric && f.Scenario == scenario {
			return f, true
		}
	}
	return domain.Fact{}, false
}

func assertValue(t *testing.T, f domain.Fact, want string) {
	t.Helper()
	if !f.Value.Equal(decimal.RequireFromString(want)) {
		t.Fatalf("expected %s for %s/%s, got %s", want, f.EntityID, f.MetricName, f.Value)
	}
}

func TestNormalizeTransposedTableAppliesCostSign(t *testing.T) {
	n := newTestNormalizer(t)
	table := domain.RawTable{
		ID: "doc-1/t1", Version: 1, Page: 12, Period: "Aug-25",
		Rows: [][]domain.Cell{
			headerRow("", "Portugal", "Tunisia"),
			dataRow("Sales Volume", "1,234", "987"),
			dataRow("Variable Cost", "(23.4)", "-29.1"),
		},
	}

	out := n.Normalize(table, "")
	if out.Orientation != domain.OrientationTransposed {
		t.Fatalf("expected transposed, got %s (A=%.2f B=%.2f)", out.Orientation, out.ScoreA, out.ScoreB)
	}
	if len(out.Facts) != 4 {
		t.Fatalf("expected 4 facts, got %d: %+v", len(out.Facts), out.Issues)
	}

	pt, ok := findFact(out.Facts, "portugal", "Variable Cost", domain.ScenarioActual)
	if !ok {
		t.Fatalf("missing Portugal variable cost")
	}
	assertValue(t, pt, "-23.4")
	if pt.SignConvention != domain.SignCostNegative || pt.Period != "2025-08" || pt.SourcePage != 12 {
		t.Fatalf("unexpected fact metadata: %+v", pt)
	}
	tn, _ := findFact(out.Facts, "tunisia", "Variable Cost", domain.ScenarioActual)
	assertValue(t, tn, "-29.1")

	vol, _ := findFact(out.Facts, "portugal", "Sales Volume", domain.ScenarioActual)
	assertValue(t, vol, "1234")
	if vol.Unit != "kt" || vol.SignConvention != domain.SignAsReported {
		t.Fatalf("unexpected volume fact: %+v", vol)
	}
}

func TestNormalizeStandardTableUsesTitleMetricAndScenarioColumns(t *testing.T) {
	n := newTestNormalizer(t)
	table := domain.RawTable{
		ID: "doc-1/t2", Version: 1, Page: 3, Title: "Variable Cost (EUR/t)",
		Rows: [][]domain.Cell{
			headerRow("Entity", "Aug-25", "Budget"),
			dataRow("Portugal", "23.4", "22.0"),
			dataRow("Tunisia", "29.1", "30.0"),
		},
	}

	out := n.Normalize(table, "2025-08")
	if out.Orientation != domain.OrientationStandard {
		t.Fatalf("expected standard, got %s", out.Orientation)
	}
	actual, ok := findFact(out.Facts, "portugal", "Variable Cost", domain.ScenarioActual)
	if !ok {
		t.Fatalf("missing actual fact: %+v", out.Facts)
	}
	assertValue(t, actual, "-23.4")

	budget, ok := findFact(out.Facts, "portugal", "Variable Cost", "budget")
	if !ok {
		t.Fatalf("missing budget fact: %+v", out.Facts)
	}
	assertValue(t, budget, "-22")
	if budget.Period != "2025-08" {
		t.Fatalf("expected default period on budget column, got %q", budget.Period)
	}
}

func TestNormalizeHierarchicalHeaders(t *testing.T) {
	n := newTestNormalizer(t)
	table := domain.RawTable{
		ID: "doc-1/t3", Version: 2, Page: 5, Period: "Aug-25",
		Rows: [][]domain.Cell{
			headerRow("", "Portugal", "", "Tunisia", ""),
			headerRow("", "Actual", "Budget", "Actual", "Budget"),
			dataRow("Variable Cost", "23.4", "22.0", "29.1", "30.0"),
		},
	}

	out := n.Normalize(table, "")
	if out.Orientation != domain.OrientationHierarchical || out.HeaderRows != 2 {
		t.Fatalf("expected hierarchical with 2 header rows, got %s/%d", out.Orientation, out.HeaderRows)
	}
	if len(out.Facts) != 4 {
		t.Fatalf("expected 4 facts, got %d", len(out.Facts))
	}
	tnBudget, ok := findFact(out.Facts, "tunisia", "Variable Cost", "budget")
	if !ok {
		t.Fatalf("missing Tunisia budget: %+v", out.Facts)
	}
	assertValue(t, tnBudget, "-30")
	if tnBudget.TableVersion != 2 {
		t.Fatalf("expected table version 2, got %d", tnBudget.TableVersion)
	}
}

func TestNormalizeAmbiguousOrientationLowersConfidence(t *testing.T) {
	n := newTestNormalizer(t)
	table := domain.RawTable{
		ID: "doc-1/t4", Version: 1, Title: "Variable Cost", Period: "Aug-25",
		Rows: [][]domain.Cell{
			headerRow("", "Tunisia", "Aug-25"),
			dataRow("Portugal", "1", "2"),
			dataRow("Sales Volume", "3", "4"),
		},
	}

	out := n.Normalize(table, "")
	if out.Orientation != domain.OrientationAmbiguous {
		t.Fatalf("expected ambiguous, got %s (A=%.2f B=%.2f)", out.Orientation, out.ScoreA, out.ScoreB)
	}
	if out.Hypothesis != domain.OrientationStandard {
		t.Fatalf("expected ties to fall back to standard hypothesis, got %s", out.Hypothesis)
	}
	if len(out.Facts) == 0 {
		t.Fatalf("expected facts under the best-scoring hypothesis")
	}
	for _, f := range out.Facts {
		if f.Confidence > 0.5 {
			t.Fatalf("expected lowered confidence, got %f", f.Confidence)
		}
	}
	if !hasIssue(out.Issues, domain.IssueOrientationAmbiguous) {
		t.Fatalf("expected orientation issue, got %+v", out.Issues)
	}
}

func TestNormalizeNearTieReadsStandardEvenWhenTransposedLeads(t *testing.T) {
	n := newTestNormalizer(t)
	header := []string{""}
	values := []string{}
	for i := 1; i <= 7; i++ {
		header = append(header, fmt.Sprintf("%s-25", time.Month(i).String()[:3]))
	}
	for i := 0; i < 8; i++ {
		header = append(header, "Tunisia")
	}
	for i := 1; i < len(header); i++ {
		values = append(values, strconv.Itoa(i))
	}
	table := domain.RawTable{
		ID: "doc-1/t9", Version: 1, Title: "Variable Cost",
		Rows: [][]domain.Cell{
			headerRow(header...),
			dataRow(append([]string{"Portugal"}, values...)...),
			dataRow(append([]string{"Sales Volume"}, values...)...),
		},
	}

	out := n.Normalize(table, "")
	if !(out.ScoreB > out.ScoreA) {
		t.Fatalf("expected transposed score to lead narrowly, got A=%.3f B=%.3f", out.ScoreA, out.ScoreB)
	}
	if out.Orientation != domain.OrientationAmbiguous {
		t.Fatalf("expected ambiguous, got %s (A=%.3f B=%.3f)", out.Orientation, out.ScoreA, out.ScoreB)
	}
	if out.Hypothesis != domain.OrientationStandard {
		t.Fatalf("expected standard hypothesis inside the margin, got %s", out.Hypothesis)
	}
	found := false
	for _, f := range out.Facts {
		if f.EntityID == "portugal" && f.MetricName == "Variable Cost" && f.Period == "2025-01" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected Portugal facts read along period columns, got %+v", out.Facts)
	}
}

func TestNormalizeSkipsPlaceholdersAndReportsUnparsableCells(t *testing.T) {
	n := newTestNormalizer(t)
	table := domain.RawTable{
		ID: "doc-1/t5", Version: 1, Period: "Aug-25",
		Rows: [][]domain.Cell{
			headerRow("", "Portugal", "Tunisia"),
			dataRow("Variable Cost", "-", "N/A"),
			dataRow("Sales Volume", "abc", "987"),
			dataRow("Fixed Cost", "12", "n.a."),
		},
	}

	out := n.Normalize(table, "")
	if len(out.Facts) != 2 {
		t.Fatalf("expected only numeric cells to become facts, got %+v", out.Facts)
	}
	if _, ok := findFact(out.Facts, "portugal", "Variable Cost", domain.ScenarioActual); ok {
		t.Fatalf("placeholder cell must not become a zero fact")
	}
	if !hasIssue(out.Issues, domain.IssueUnparsableCell) {
		t.Fatalf("expected unparsable cell issue, got %+v", out.Issues)
	}
}

func TestNormalizeReportsMissingPeriod(t *testing.T) {
	n := newTestNormalizer(t)
	table := domain.RawTable{
		ID: "doc-1/t6", Version: 1,
		Rows: [][]domain.Cell{
			headerRow("", "Portugal"),
			dataRow("Variable Cost", "23.4"),
		},
	}

	out := n.Normalize(table, "")
	if len(out.Facts) != 0 {
		t.Fatalf("expected no facts without a period, got %+v", out.Facts)
	}
	if !hasIssue(out.Issues, domain.IssueMissingPeriod) {
		t.Fatalf("expected missing period issue, got %+v", out.Issues)
	}
}

func TestNormalizeIsDeterministic(t *testing.T) {
	n := newTestNormalizer(t)
	table := domain.RawTable{
		ID: "doc-1/t1", Version: 1, Page: 12, Period: "Aug-25",
		Rows: [][]domain.Cell{
			headerRow("", "Portugal", "Tunisia"),
			dataRow("Variable Cost", "23.4", "29.1"),
		},
	}

	first := n.Normalize(table, "")
	second := n.Normalize(table, "")
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("expected identical normalization output")
	}
}

func TestParseCellNumber(t *testing.T) {
	cases := []struct {
		raw     string
		locale  string
		want    string
		percent bool
	}{
		{raw: "(23.4)", want: "-23.4"},
		{raw: "1,234", want: "1234"},
		{raw: "1.234,5", want: "1234.5"},
		{raw: "1,234.5", want: "1234.5"},
		{raw: "12,5", want: "12.5"},
		{raw: "12.5%", want: "12.5", percent: true},
		{raw: "(4.1%)", want: "-4.1", percent: true},
		{raw: "−3", want: "-3"},
		{raw: "1 234", want: "1234"},
		{raw: "23.4-", want: "-23.4"},
		{raw: "€ 1,000", want: "1000"},
		{raw: "1.234", locale: "eu", want: "1234"},
		{raw: "1,234", locale: "eu", want: "1.234"},
	}
	for _, tc := range cases {
		got, percent, status := parseCellNumber(tc.raw, tc.locale)
		if status != cellNumeric {
			t.Fatalf("%q: expected numeric, got status %d", tc.raw, status)
		}
		if !got.Equal(decimal.RequireFromString(tc.want)) || percent != tc.percent {
			t.Fatalf("%q: expected %s (percent=%v), got %s (percent=%v)", tc.raw, tc.want, tc.percent, got, percent)
		}
	}

	for _, raw := range []string{"-", "—", "N/A", "n.a.", "", "nm"} {
		if _, _, status := parseCellNumber(raw, ""); status != cellPlaceholder {
			t.Fatalf("%q: expected placeholder, got %d", raw, status)
		}
	}
	for _, raw := range []string{"abc", "12a", "1,2,3.4.5"} {
		if _, _, status := parseCellNumber(raw, ""); status != cellInvalid {
			t.Fatalf("%q: expected invalid, got %d", raw, status)
		}
	}
}

func hasIssue(issues []domain.IngestionIssue, kind domain.IssueKind) bool {
	for _, issue := range issues {
		if issue.Kind == kind {
			return true
		}
	}
	return false
}

package usecase

import (
	"regexp"
	"strings"

	"github.com/Autopsias/raglite/internal/core/domain"
)

var reTrailingUnit = regexp.MustCompile(`\s*[\(\[][^\)\]]*[\)\]]\s*$`)

// MetricVocabulary is the known metric-name list with aliases.
type MetricVocabulary struct {
	metrics   []domain.Metric
	byFolded  map[string]int
	maxTokens int
}

func NewMetricVocabulary(metrics []domain.Metric) *MetricVocabulary {
	v := &MetricVocabulary{
		metrics:  append([]domain.Metric(nil), metrics...),
		byFolded: make(map[string]int),
	}
	for i, m := range v.metrics {
		for _, name := range append([]string{m.Name}, m.Aliases...) {
			folded := foldText(name)
			if folded == "" {
				continue
			}
			if _, taken := v.byFolded[folded]; !taken {
				v.byFolded[folded] = i
			}
			v.maxTokens = max(v.maxTokens, len(strings.Fields(folded)))
		}
	}
	return v
}

// Lookup matches a row or column label, ignoring a trailing unit in brackets
// such as "Variable Cost (EUR/t)".
func (v *MetricVocabulary) Lookup(label string) (domain.Metric, bool) {
	if v == nil {
		return domain.Metric{}, false
	}
	if i, ok := v.byFolded[foldText(label)]; ok {
		return v.metrics[i], true
	}
	stripped := reTrailingUnit.ReplaceAllString(label, "")
	if i, ok := v.byFolded[foldText(stripped)]; ok {
		return v.metrics[i], true
	}
	return domain.Metric{}, false
}

// Kind returns the metric kind of a canonical metric name.
func (v *MetricVocabulary) Kind(name string) domain.MetricKind {
	if m, ok := v.Lookup(name); ok {
		return m.Kind
	}
	return domain.MetricOther
}

// Find scans folded tokens longest-phrase-first and returns the canonical
// metrics mentioned, plus the token positions they occupy.
func (v *MetricVocabulary) Find(tokens []string) ([]domain.Metric, []bool) {
	consumed := make([]bool, len(tokens))
	if v == nil {
		return nil, consumed
	}
	out := make([]domain.Metric, 0, 2)
	seen := make(map[string]struct{})
	for i := 0; i < len(tokens); i++ {
		for width := min(v.maxTokens, len(tokens)-i); width >= 1; width-- {
			idx, ok := v.byFolded[strings.Join(tokens[i:i+width], " ")]
			if !ok {
				continue
			}
			m := v.metrics[idx]
			if _, dup := seen[m.Name]; !dup {
				seen[m.Name] = struct{}{}
				out = append(out, m)
			}
			for k := i; k < i+width; k++ {
				consumed[k] = true
			}
			i += width - 1
			break
		}
	}
	return out, consumed
}

func (v *MetricVocabulary) Metrics() []domain.Metric {
	if v == nil {
		return nil
	}
	return append([]domain.Metric(nil), v.metrics...)
}

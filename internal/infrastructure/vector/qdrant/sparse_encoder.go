package qdrant

import (
	"hash/fnv"
	"math"
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// sparseVector is the wire shape qdrant expects for a named sparse vector.
type sparseVector struct {
	Indices []uint32  `json:"indices"`
	Values  []float32 `json:"values"`
}

const (
	bm25K1         = 1.2
	headerBoost    = 1.5
	maxSparseTerms = 256
)

// Function words carry no signal in report questions and table cells.
var stopTerms = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "at": {}, "by": {}, "for": {}, "from": {},
	"in": {}, "is": {}, "of": {}, "on": {}, "or": {}, "the": {}, "to": {},
	"was": {}, "were": {}, "what": {}, "which": {}, "with": {},
	"de": {}, "da": {}, "do": {}, "e": {},
}

// encodeSparseDocument weights the table header above body text so a metric
// named in the header ranks its table chunks first.
func encodeSparseDocument(text, header string) sparseVector {
	tf := make(map[uint32]float64, 64)
	addTerms(tf, tokenizeAlphaNum(text), 1)
	addTerms(tf, tokenizeAlphaNum(header), headerBoost)
	return saturate(tf)
}

func encodeSparseQuery(query string) sparseVector {
	tf := make(map[uint32]float64, 16)
	addTerms(tf, tokenizeAlphaNum(query), 1)
	return saturate(tf)
}

func addTerms(tf map[uint32]float64, tokens []string, weight float64) {
	for _, token := range tokens {
		if _, stop := stopTerms[token]; stop {
			continue
		}
		tf[hashToken(token)] += weight
	}
}

// saturate applies BM25 term-frequency saturation. When a chunk has more
// distinct terms than maxSparseTerms the heaviest ones are kept.
func saturate(tf map[uint32]float64) sparseVector {
	if len(tf) == 0 {
		return sparseVector{}
	}
	indices := make([]uint32, 0, len(tf))
	for idx := range tf {
		indices = append(indices, idx)
	}
	if len(indices) > maxSparseTerms {
		sort.Slice(indices, func(i, j int) bool {
			if tf[indices[i]] != tf[indices[j]] {
				return tf[indices[i]] > tf[indices[j]]
			}
			return indices[i] < indices[j]
		})
		indices = indices[:maxSparseTerms]
	}
	sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })

	values := make([]float32, len(indices))
	for i, idx := range indices {
		freq := tf[idx]
		w := freq * (bm25K1 + 1) / (freq + bm25K1)
		if math.IsNaN(w) || math.IsInf(w, 0) {
			w = 0
		}
		values[i] = float32(w)
	}
	return sparseVector{Indices: indices, Values: values}
}

// hashToken maps a token to a non-zero sparse index.
func hashToken(token string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(token))
	if sum := h.Sum32(); sum != 0 {
		return sum
	}
	return 1
}

// tokenizeAlphaNum lowercases, folds accents and splits on anything that is
// not an ASCII letter or digit. A '.' or ',' between two digits stays inside
// the token, so "23.4" and "1,250" are single terms.
func tokenizeAlphaNum(s string) []string {
	if s == "" {
		return nil
	}
	if folded, _, err := transform.String(foldAccents(), s); err == nil {
		s = folded
	}
	rs := []rune(strings.ToLower(s))
	out := make([]string, 0, len(rs)/4+1)
	var b strings.Builder
	flush := func() {
		if b.Len() > 0 {
			out = append(out, b.String())
			b.Reset()
		}
	}
	for i, r := range rs {
		switch {
		case (r >= 'a' && r <= 'z') || isDigit(r):
			b.WriteRune(r)
		case (r == '.' || r == ',') && i > 0 && i+1 < len(rs) && isDigit(rs[i-1]) && isDigit(rs[i+1]) && b.Len() > 0:
			b.WriteRune(r)
		default:
			flush()
		}
	}
	flush()
	return out
}

func isDigit(r rune) bool { return r >= '0' && r <= '9' }

// foldAccents maps "Outão" and "Outao" to the same token.
func foldAccents() transform.Transformer {
	return transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
}

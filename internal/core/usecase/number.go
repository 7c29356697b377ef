package usecase

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

type cellStatus int

const (
	cellNumeric cellStatus = iota
	cellPlaceholder
	cellInvalid
)

var placeholderCells = map[string]struct{}{
	"": {}, "-": {}, "--": {}, "–": {}, "—": {}, "n/a": {}, "na": {}, "n.a.": {}, "n.a": {},
	"nm": {}, "n.m.": {}, "n/m": {}, "x": {}, "...": {}, "…": {}, "s.s.": {}, "nd": {}, "n.d.": {},
}

var reNumericBody = regexp.MustCompile(`^[0-9.,]*[0-9][0-9.,]*$`)

var cellCleaner = strings.NewReplacer(
	" ", "", " ", "", " ", "", " ", "", "'", "", "’", "",
	"€", "", "$", "", "£", "", "eur", "", "usd", "",
)

// parseCellNumber parses a financial table cell. Placeholders such as "-" or
// "N/A" are reported as such and never become zero.
func parseCellNumber(raw, locale string) (decimal.Decimal, bool, cellStatus) {
	s := strings.ToLower(strings.TrimSpace(raw))
	if _, ok := placeholderCells[s]; ok {
		return decimal.Zero, false, cellPlaceholder
	}

	percent := false
	negative := false
	if strings.HasSuffix(s, "%") {
		percent = true
		s = strings.TrimSpace(strings.TrimSuffix(s, "%"))
	}
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = strings.TrimSpace(s[1 : len(s)-1])
	}
	if strings.HasSuffix(s, "%") {
		percent = true
		s = strings.TrimSpace(strings.TrimSuffix(s, "%"))
	}

	s = cellCleaner.Replace(s)
	switch {
	case strings.HasPrefix(s, "-"), strings.HasPrefix(s, "−"), strings.HasPrefix(s, "–"):
		negative = !negative
		_, size := firstRune(s)
		s = s[size:]
	case strings.HasPrefix(s, "+"):
		s = s[1:]
	}
	if strings.HasSuffix(s, "-") {
		negative = !negative
		s = strings.TrimSuffix(s, "-")
	}
	if !reNumericBody.MatchString(s) {
		return decimal.Zero, false, cellInvalid
	}

	normalized, ok := normalizeSeparators(s, locale)
	if !ok {
		return decimal.Zero, false, cellInvalid
	}
	v, err := decimal.NewFromString(normalized)
	if err != nil {
		return decimal.Zero, false, cellInvalid
	}
	if negative {
		v = v.Neg()
	}
	return v, percent, cellNumeric
}

// normalizeSeparators rewrites s to use "." as the decimal separator and no
// thousands separator.
func normalizeSeparators(s, locale string) (string, bool) {
	var decimalSep byte
	switch strings.ToLower(locale) {
	case "en", "en-us", "en-gb":
		decimalSep = '.'
	case "eu", "pt", "pt-pt", "de", "es", "fr", "it":
		decimalSep = ','
	default:
		decimalSep = guessDecimalSeparator(s)
	}

	var b strings.Builder
	seenDecimal := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == decimalSep:
			if seenDecimal {
				return "", false
			}
			seenDecimal = true
			b.WriteByte('.')
		case c == '.' || c == ',':
		default:
			b.WriteByte(c)
		}
	}
	out := b.String()
	if strings.HasPrefix(out, ".") {
		out = "0" + out
	}
	return strings.TrimSuffix(out, "."), out != ""
}

// guessDecimalSeparator picks the decimal separator of a locale-less number.
// Returns 0 when the number has no decimal part.
func guessDecimalSeparator(s string) byte {
	commas := strings.Count(s, ",")
	dots := strings.Count(s, ".")
	switch {
	case commas > 0 && dots > 0:
		if strings.LastIndex(s, ",") > strings.LastIndex(s, ".") {
			return ','
		}
		return '.'
	case commas == 1:
		if looksLikeThousands(s, ',') {
			return 0
		}
		return ','
	case commas > 1:
		return 0
	case dots == 1:
		return '.'
	default:
		return 0
	}
}

func looksLikeThousands(s string, sep byte) bool {
	i := strings.IndexByte(s, sep)
	head, tail := s[:i], s[i+1:]
	return len(tail) == 3 && len(head) >= 1 && len(head) <= 3 && head != "0"
}

func firstRune(s string) (rune, int) {
	for _, r := range s {
		return r, len(string(r))
	}
	return 0, 0
}

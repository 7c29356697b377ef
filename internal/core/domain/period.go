package domain

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

type PeriodKind string

const (
	PeriodMonth   PeriodKind = "month"
	PeriodQuarter PeriodKind = "quarter"
	PeriodHalf    PeriodKind = "half"
	PeriodYTD     PeriodKind = "ytd"
	PeriodYear    PeriodKind = "year"
)

// Period is a fiscal period. Month is 1-12 for month and ytd periods (for ytd it
// is the closing month), Index is the quarter (1-4) or half (1-2).
type Period struct {
	Year  int        `json:"year"`
	Kind  PeriodKind `json:"kind"`
	Month int        `json:"month,omitempty"`
	Index int        `json:"index,omitempty"`
}

func (p Period) IsZero() bool {
	return p.Year == 0
}

// Key returns the canonical storage key of the period.
func (p Period) Key() string {
	switch p.Kind {
	case PeriodMonth:
		return fmt.Sprintf("%04d-%02d", p.Year, p.Month)
	case PeriodQuarter:
		return fmt.Sprintf("%04d-Q%d", p.Year, p.Index)
	case PeriodHalf:
		return fmt.Sprintf("%04d-H%d", p.Year, p.Index)
	case PeriodYTD:
		return fmt.Sprintf("%04d-YTD%02d", p.Year, p.Month)
	case PeriodYear:
		return fmt.Sprintf("%04d", p.Year)
	default:
		return ""
	}
}

func (p Period) String() string {
	return p.Key()
}

// Span returns the first and last month ordinal (year*12 + month - 1) covered
// by the period, inclusive.
func (p Period) Span() (int, int) {
	base := p.Year * 12
	switch p.Kind {
	case PeriodMonth:
		return base + p.Month - 1, base + p.Month - 1
	case PeriodQuarter:
		first := (p.Index - 1) * 3
		return base + first, base + first + 2
	case PeriodHalf:
		first := (p.Index - 1) * 6
		return base + first, base + first + 5
	case PeriodYTD:
		return base, base + p.Month - 1
	case PeriodYear:
		return base, base + 11
	default:
		return 0, -1
	}
}

// Months returns the number of months covered by the period.
func (p Period) Months() int {
	start, end := p.Span()
	return end - start + 1
}

// Encloses reports whether p fully covers other.
func (p Period) Encloses(other Period) bool {
	ps, pe := p.Span()
	os, oe := other.Span()
	return ps <= os && pe >= oe
}

var monthNames = map[string]int{
	"jan": 1, "january": 1, "janeiro": 1,
	"feb": 2, "february": 2, "fev": 2, "fevereiro": 2,
	"mar": 3, "march": 3, "marco": 3,
	"apr": 4, "april": 4, "abr": 4, "abril": 4,
	"may": 5, "mai": 5, "maio": 5,
	"jun": 6, "june": 6, "junho": 6,
	"jul": 7, "july": 7, "julho": 7,
	"aug": 8, "august": 8, "ago": 8, "agosto": 8,
	"sep": 9, "sept": 9, "september": 9, "set": 9, "setembro": 9,
	"oct": 10, "october": 10, "out": 10, "outubro": 10,
	"nov": 11, "november": 11, "novembro": 11,
	"dec": 12, "december": 12, "dez": 12, "dezembro": 12,
}

var (
	reISOMonth   = regexp.MustCompile(`^(\d{4})[-/](\d{1,2})$`)
	reMonthYear  = regexp.MustCompile(`^([a-z]+)[\s\-/.']*(\d{2}|\d{4})$`)
	reQuarter    = regexp.MustCompile(`^q([1-4])[\s\-/']*(\d{2}|\d{4})$`)
	reQuarterAlt = regexp.MustCompile(`^([1-4])q[\s\-/']*(\d{2}|\d{4})$`)
	reYearQ      = regexp.MustCompile(`^(\d{4})[\s\-/]*q([1-4])$`)
	reHalf       = regexp.MustCompile(`^h([12])[\s\-/']*(\d{2}|\d{4})$`)
	reYearH      = regexp.MustCompile(`^(\d{4})[\s\-/]*h([12])$`)
	reYear       = regexp.MustCompile(`^(?:fy|ano)?[\s\-']*(\d{4})$`)
	reYearShort  = regexp.MustCompile(`^fy[\s\-']*(\d{2})$`)
	reYTDPrefix  = regexp.MustCompile(`^(?:ytd|acum(?:ulado)?|cumulative)[\s\-:]+(.+)$`)
	reYTDSuffix  = regexp.MustCompile(`^(.+?)[\s\-]+(?:ytd|acum(?:ulado)?)$`)
)

// ParsePeriod parses a single period label such as "Aug-25", "August 2025",
// "2025-08", "Q3 2025", "3Q25", "H1 2025", "YTD Aug 2025" or "FY2025".
func ParsePeriod(label string) (Period, bool) {
	s := strings.ToLower(strings.TrimSpace(label))
	s = strings.Join(strings.Fields(s), " ")
	if s == "" {
		return Period{}, false
	}

	if m := reYTDPrefix.FindStringSubmatch(s); m != nil {
		return asYTD(ParsePeriod(m[1]))
	}
	if m := reYTDSuffix.FindStringSubmatch(s); m != nil {
		return asYTD(ParsePeriod(m[1]))
	}
	if m := reISOMonth.FindStringSubmatch(s); m != nil {
		year, _ := strconv.Atoi(m[1])
		month, _ := strconv.Atoi(m[2])
		if month >= 1 && month <= 12 {
			return Period{Year: year, Kind: PeriodMonth, Month: month}, true
		}
		return Period{}, false
	}
	if m := reQuarter.FindStringSubmatch(s); m != nil {
		idx, _ := strconv.Atoi(m[1])
		return Period{Year: expandYear(m[2]), Kind: PeriodQuarter, Index: idx}, true
	}
	if m := reQuarterAlt.FindStringSubmatch(s); m != nil {
		idx, _ := strconv.Atoi(m[1])
		return Period{Year: expandYear(m[2]), Kind: PeriodQuarter, Index: idx}, true
	}
	if m := reYearQ.FindStringSubmatch(s); m != nil {
		year, _ := strconv.Atoi(m[1])
		idx, _ := strconv.Atoi(m[2])
		return Period{Year: year, Kind: PeriodQuarter, Index: idx}, true
	}
	if m := reHalf.FindStringSubmatch(s); m != nil {
		idx, _ := strconv.Atoi(m[1])
		return Period{Year: expandYear(m[2]), Kind: PeriodHalf, Index: idx}, true
	}
	if m := reYearH.FindStringSubmatch(s); m != nil {
		year, _ := strconv.Atoi(m[1])
		idx, _ := strconv.Atoi(m[2])
		return Period{Year: year, Kind: PeriodHalf, Index: idx}, true
	}
	if m := reYear.FindStringSubmatch(s); m != nil {
		year, _ := strconv.Atoi(m[1])
		if year < 1900 || year > 2200 {
			return Period{}, false
		}
		return Period{Year: year, Kind: PeriodYear}, true
	}
	if m := reYearShort.FindStringSubmatch(s); m != nil {
		return Period{Year: expandYear(m[1]), Kind: PeriodYear}, true
	}
	if m := reMonthYear.FindStringSubmatch(s); m != nil {
		month, ok := monthNames[m[1]]
		if !ok {
			return Period{}, false
		}
		return Period{Year: expandYear(m[2]), Kind: PeriodMonth, Month: month}, true
	}
	return Period{}, false
}

// ParsePeriodKey parses a canonical key produced by Period.Key.
func ParsePeriodKey(key string) (Period, bool) {
	k := strings.ToUpper(strings.TrimSpace(key))
	if idx := strings.Index(k, "-YTD"); idx > 0 {
		year, err1 := strconv.Atoi(k[:idx])
		month, err2 := strconv.Atoi(k[idx+4:])
		if err1 != nil || err2 != nil || month < 1 || month > 12 {
			return Period{}, false
		}
		return Period{Year: year, Kind: PeriodYTD, Month: month}, true
	}
	return ParsePeriod(key)
}

// FindPeriods extracts every period mentioned in free text, in order of
// appearance, without duplicates.
func FindPeriods(text string) []Period {
	tokens := strings.Fields(strings.ToLower(text))
	for i, tok := range tokens {
		tokens[i] = strings.Trim(tok, ",.;:?!()[]\"")
	}

	out := make([]Period, 0, 2)
	seen := make(map[string]struct{})
	add := func(p Period) {
		if _, ok := seen[p.Key()]; ok {
			return
		}
		seen[p.Key()] = struct{}{}
		out = append(out, p)
	}

	for i := 0; i < len(tokens); i++ {
		matched := false
		// Longest window first so "ytd august 2025" wins over "august 2025".
		for width := 3; width >= 1 && !matched; width-- {
			if i+width > len(tokens) {
				continue
			}
			window := strings.Join(tokens[i:i+width], " ")
			p, ok := ParsePeriod(window)
			if !ok {
				continue
			}
			// A bare month name without a year is not a period.
			if width == 1 && p.Kind == PeriodYear && !strings.HasPrefix(window, "fy") && len(window) != 4 {
				continue
			}
			add(p)
			i += width - 1
			matched = true
		}
	}
	return out
}

func asYTD(p Period, ok bool) (Period, bool) {
	if !ok {
		return Period{}, false
	}
	switch p.Kind {
	case PeriodMonth:
		return Period{Year: p.Year, Kind: PeriodYTD, Month: p.Month}, true
	case PeriodQuarter:
		return Period{Year: p.Year, Kind: PeriodYTD, Month: p.Index * 3}, true
	case PeriodHalf:
		return Period{Year: p.Year, Kind: PeriodYTD, Month: p.Index * 6}, true
	case PeriodYear, PeriodYTD:
		return Period{Year: p.Year, Kind: PeriodYTD, Month: 12}, true
	default:
		return Period{}, false
	}
}

func expandYear(s string) int {
	n, _ := strconv.Atoi(s)
	if len(s) == 2 {
		return 2000 + n
	}
	return n
}

// IsPeriodToken reports whether a single lower-case token can be part of a
// period expression.
func IsPeriodToken(tok string) bool {
	if _, ok := monthNames[tok]; ok {
		return true
	}
	switch tok {
	case "ytd", "fy", "acumulado", "cumulative", "q1", "q2", "q3", "q4", "h1", "h2":
		return true
	}
	if reYear.MatchString(tok) || reYearShort.MatchString(tok) || reQuarterAlt.MatchString(tok) || reQuarter.MatchString(tok) {
		return true
	}
	return len(tok) == 2 && tok[0] >= '0' && tok[0] <= '9' && tok[1] >= '0' && tok[1] <= '9'
}

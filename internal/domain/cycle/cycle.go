// Package cycle classifies students into billing cycles.
//
// A billing cycle is a (month, year) bucket. Stored cycle labels come from
// many sources and use many spellings ("Jan-2025", "january 2025", "2025/01",
// "3"), so every conversion from a label goes through this package. Nothing
// else in the code base may guess a cycle from a string.
//
// Fallback order used by Of:
//
//  1. the label, when it names a month and a year;
//  2. the label's month resolved against the admission date, when it names
//     only a month;
//  3. the admission date's own month, when the label is empty or unknown;
//  4. Unassigned.
package cycle

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/academy-hub/tuition-ledger/internal/domain/shared"
)

const (
	minYear = 1900
	maxYear = 9999

	unassignedLabel = "unassigned"
)

// Cycle is a billing cycle. The zero value is Unassigned.
type Cycle struct {
	Month time.Month
	Year  int
}

// Unassigned is the "new admission" bucket.
var Unassigned = Cycle{}

// New creates a cycle with validation.
func New(month time.Month, year int) (Cycle, error) {
	c := Cycle{Month: month, Year: year}
	if !c.IsValid() {
		return Unassigned, shared.WrapError("cycle", "New", shared.ErrInvalidInput,
			"invalid billing cycle", fmt.Errorf("month=%d year=%d", month, year))
	}
	return c, nil
}

// MustNew is New for constants in tests and fixtures.
func MustNew(month time.Month, year int) Cycle {
	c, err := New(month, year)
	if err != nil {
		panic(err)
	}
	return c
}

// FromTime returns the cycle containing t, in t's own location.
// Unusable times (zero, out of range) map to Unassigned.
func FromTime(t time.Time) Cycle {
	if !usableDate(t) {
		return Unassigned
	}
	return Cycle{Month: t.Month(), Year: t.Year()}
}

// IsValid reports whether c is a concrete month and year.
func (c Cycle) IsValid() bool {
	return c.Month >= time.January && c.Month <= time.December &&
		c.Year >= minYear && c.Year <= maxYear
}

// IsUnassigned reports whether c is the new admission bucket.
func (c Cycle) IsUnassigned() bool {
	return !c.IsValid()
}

// String returns the canonical label, e.g. "Jan-2025" or "unassigned".
func (c Cycle) String() string {
	if c.IsUnassigned() {
		return unassignedLabel
	}
	return fmt.Sprintf("%s-%04d", c.Month.String()[:3], c.Year)
}

// Index returns a monotonically increasing month number, useful for ordering.
// Unassigned sorts first.
func (c Cycle) Index() int {
	if c.IsUnassigned() {
		return 0
	}
	return c.Year*12 + int(c.Month) - 1
}

// Before reports whether c is strictly earlier than other.
func (c Cycle) Before(other Cycle) bool {
	return c.Index() < other.Index()
}

// AddMonths returns the cycle n months later. Unassigned stays Unassigned.
func (c Cycle) AddMonths(n int) Cycle {
	if c.IsUnassigned() {
		return Unassigned
	}
	idx := c.Index() + n
	next := Cycle{Month: time.Month(idx%12 + 1), Year: idx / 12}
	if !next.IsValid() {
		return Unassigned
	}
	return next
}

// Next returns the following cycle.
func (c Cycle) Next() Cycle {
	return c.AddMonths(1)
}

// Start returns the first instant of the cycle in loc.
func (c Cycle) Start(loc *time.Location) time.Time {
	if c.IsUnassigned() {
		return time.Time{}
	}
	return time.Date(c.Year, c.Month, 1, 0, 0, 0, 0, loc)
}

// MarshalText implements encoding.TextMarshaler.
func (c Cycle) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler using the strict parser.
func (c *Cycle) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// ═══════════════════════════════════════════════════════════════════════════
// Classification
// ═══════════════════════════════════════════════════════════════════════════

// Of classifies a student by stored cycle label and admission date.
// It never fails: anything it cannot interpret becomes Unassigned.
func Of(label string, admission time.Time) Cycle {
	p := parseLabel(label)
	switch p.kind {
	case kindFull:
		return Cycle{Month: p.month, Year: p.year}
	case kindUnassigned:
		return Unassigned
	case kindMonthOnly:
		if !usableDate(admission) {
			return Unassigned
		}
		year := admission.Year()
		if p.month < admission.Month() {
			year++
		}
		c := Cycle{Month: p.month, Year: year}
		if !c.IsValid() {
			return Unassigned
		}
		return c
	}
	return FromTime(admission)
}

// Parse accepts only labels naming a concrete month and year, or the explicit
// unassigned label. Used for cycles supplied by callers.
func Parse(label string) (Cycle, error) {
	p := parseLabel(label)
	switch p.kind {
	case kindFull:
		return Cycle{Month: p.month, Year: p.year}, nil
	case kindUnassigned:
		return Unassigned, nil
	}
	return Unassigned, shared.WrapError("cycle", "Parse", shared.ErrInvalidInput,
		"invalid billing cycle", fmt.Errorf("label %q", label))
}

type labelKind int

const (
	kindUnknown labelKind = iota
	kindFull
	kindMonthOnly
	kindUnassigned
)

type parsedLabel struct {
	kind  labelKind
	month time.Month
	year  int
}

// monthNames maps every accepted month spelling to its month.
var monthNames = func() map[string]time.Month {
	m := make(map[string]time.Month, 36)
	for month := time.January; month <= time.December; month++ {
		full := strings.ToLower(month.String())
		m[full] = month
		m[full[:3]] = month
	}
	m["sept"] = time.September
	return m
}()

// unassignedLabels are spellings of the new admission bucket.
var unassignedLabels = map[string]bool{
	"unassigned":    true,
	"new":           true,
	"new admission": true,
	"none":          true,
	"n/a":           true,
}

func parseLabel(raw string) parsedLabel {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return parsedLabel{}
	}
	if unassignedLabels[s] {
		return parsedLabel{kind: kindUnassigned}
	}

	tokens := tokenize(s)
	if len(tokens) == 2 && unassignedLabels[tokens[0]+" "+tokens[1]] {
		return parsedLabel{kind: kindUnassigned}
	}

	switch len(tokens) {
	case 1:
		if m, ok := monthToken(tokens[0]); ok {
			return parsedLabel{kind: kindMonthOnly, month: m}
		}
		// Compact numeric forms: 202501 or 012025.
		if len(tokens[0]) == 6 && isDigits(tokens[0]) {
			if c, ok := fullFromPair(tokens[0][:4], tokens[0][4:]); ok {
				return c
			}
			if c, ok := fullFromPair(tokens[0][:2], tokens[0][2:]); ok {
				return c
			}
		}
	case 2:
		if c, ok := fullFromPair(tokens[0], tokens[1]); ok {
			return c
		}
	case 3:
		// Dates such as 2025-01-15 or 15/01/2025 name a cycle by their month.
		if isYear(tokens[0]) {
			if c, ok := fullFromPair(tokens[0], tokens[1]); ok {
				return c
			}
		}
		if isYear(tokens[2]) {
			if c, ok := fullFromPair(tokens[1], tokens[2]); ok {
				return c
			}
		}
	}
	return parsedLabel{}
}

// fullFromPair accepts (month, year) in either order.
func fullFromPair(a, b string) (parsedLabel, bool) {
	if m, ok := monthToken(a); ok && isYear(b) {
		y, _ := strconv.Atoi(b)
		return parsedLabel{kind: kindFull, month: m, year: y}, true
	}
	if m, ok := monthToken(b); ok && isYear(a) {
		y, _ := strconv.Atoi(a)
		return parsedLabel{kind: kindFull, month: m, year: y}, true
	}
	return parsedLabel{}, false
}

func monthToken(tok string) (time.Month, bool) {
	if m, ok := monthNames[tok]; ok {
		return m, true
	}
	if len(tok) > 2 || !isDigits(tok) {
		return 0, false
	}
	n, err := strconv.Atoi(tok)
	if err != nil || n < 1 || n > 12 {
		return 0, false
	}
	return time.Month(n), true
}

func isYear(tok string) bool {
	if len(tok) != 4 || !isDigits(tok) {
		return false
	}
	y, err := strconv.Atoi(tok)
	return err == nil && y >= minYear && y <= maxYear
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// tokenize splits on separators and on letter/digit boundaries,
// so "jan2025", "jan-2025" and "jan 2025" produce the same tokens.
func tokenize(s string) []string {
	var (
		tokens []string
		cur    strings.Builder
		prev   rune
	)
	flush := func() {
		if cur.Len() > 0 {
			tokens = append(tokens, cur.String())
			cur.Reset()
		}
	}
	for _, r := range s {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if cur.Len() > 0 && unicode.IsDigit(r) != unicode.IsDigit(prev) {
				flush()
			}
			cur.WriteRune(r)
			prev = r
		default:
			flush()
		}
	}
	flush()
	return tokens
}

func usableDate(t time.Time) bool {
	return !t.IsZero() && t.Year() >= minYear && t.Year() <= maxYear
}

package ledger

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/academy-hub/tuition-ledger/internal/domain/shared"
	"github.com/academy-hub/tuition-ledger/internal/domain/student"
)

// Summary is the reporting fold over a set of students.
type Summary struct {
	Students       int
	TotalFee       decimal.Decimal
	TotalDue       decimal.Decimal
	TotalPaid      decimal.Decimal
	TotalOverdue   decimal.Decimal
	CountsByStatus map[Status]int
}

// Summarize folds students into totals. It reads only.
func (p Policy) Summarize(students []*student.Student, now time.Time) Summary {
	sum := Summary{
		TotalFee:       decimal.Zero,
		TotalDue:       decimal.Zero,
		TotalPaid:      decimal.Zero,
		TotalOverdue:   decimal.Zero,
		CountsByStatus: make(map[Status]int, len(AllStatuses)),
	}
	for _, st := range AllStatuses {
		sum.CountsByStatus[st] = 0
	}

	for _, s := range students {
		if s == nil {
			continue
		}
		due := Due(s)
		status := p.Classify(s, now)

		sum.Students++
		sum.TotalFee = sum.TotalFee.Add(s.TotalFee)
		sum.TotalPaid = sum.TotalPaid.Add(s.Paid)
		sum.TotalDue = sum.TotalDue.Add(due)
		if status == StatusOverdue {
			sum.TotalOverdue = sum.TotalOverdue.Add(due)
		}
		sum.CountsByStatus[status]++
	}
	return sum
}

// DueFilter selects students for a due list.
type DueFilter string

const (
	FilterAll     DueFilter = "all"
	FilterOverdue DueFilter = "overdue"
	FilterPartial DueFilter = "partial"
	FilterUnpaid  DueFilter = "unpaid"
)

// ParseDueFilter accepts the filter names case-insensitively. Empty means all.
func ParseDueFilter(s string) (DueFilter, error) {
	f := DueFilter(strings.ToLower(strings.TrimSpace(s)))
	switch f {
	case "":
		return FilterAll, nil
	case FilterAll, FilterOverdue, FilterPartial, FilterUnpaid:
		return f, nil
	}
	return "", shared.NewDomainError("ledger", "ParseDueFilter", shared.ErrInvalidInput, "filter must be all, overdue, partial or unpaid")
}

// Matches reports whether a status passes the filter. Paid students never
// appear on a due list, whatever the filter.
func (f DueFilter) Matches(status Status) bool {
	switch f {
	case FilterOverdue:
		return status == StatusOverdue
	case FilterPartial:
		return status == StatusPartial
	case FilterUnpaid:
		return status == StatusUnpaid
	default:
		return status != StatusPaid
	}
}

// DueEntry is one row of a due list.
type DueEntry struct {
	StudentID shared.StudentID
	Name      string
	Cycle     string
	Total     decimal.Decimal
	Paid      decimal.Decimal
	Due       decimal.Decimal
	Status    Status
}

// DueList classifies students and keeps those matching filter and search.
// Order of the input is preserved.
func (p Policy) DueList(students []*student.Student, filter DueFilter, search string, now time.Time) []DueEntry {
	out := make([]DueEntry, 0, len(students))
	for _, s := range students {
		if s == nil || !s.MatchesSearch(search) {
			continue
		}
		status := p.Classify(s, now)
		if !filter.Matches(status) {
			continue
		}
		out = append(out, DueEntry{
			StudentID: s.ID,
			Name:      s.Name,
			Cycle:     s.Cycle().String(),
			Total:     s.TotalFee,
			Paid:      s.Paid,
			Due:       Due(s),
			Status:    status,
		})
	}
	return out
}

// Package ledger implements the fee ledger of a student: due and status
// derivation, crediting, installment settlement, payment recording and
// cycle promotion.
//
// The ledger is never stored on its own. Every view is recomputed from
// Student.TotalFee and Student.Paid, and ApplyCredit is the only function
// that increases Paid. Both manual payments and promotion settlements go
// through it, so due == max(0, total - paid) holds after every mutation.
package ledger

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/academy-hub/tuition-ledger/internal/domain/shared"
	"github.com/academy-hub/tuition-ledger/internal/domain/student"
	"github.com/academy-hub/tuition-ledger/pkg/timeutil"
)

// DefaultOverdueThresholdMonths is the elapsed time after admission past
// which an unpaid balance is overdue.
const DefaultOverdueThresholdMonths = 2

// Status is the payment status of a student.
type Status string

const (
	StatusPaid    Status = "Paid"
	StatusPartial Status = "Partial"
	StatusUnpaid  Status = "Unpaid"
	StatusOverdue Status = "Overdue"
)

// AllStatuses lists statuses in reporting order.
var AllStatuses = []Status{StatusPaid, StatusPartial, StatusUnpaid, StatusOverdue}

// IsValid checks the status value.
func (s Status) IsValid() bool {
	switch s {
	case StatusPaid, StatusPartial, StatusUnpaid, StatusOverdue:
		return true
	}
	return false
}

// Policy holds the tunables of status classification.
type Policy struct {
	OverdueThresholdMonths int
}

// DefaultPolicy returns the policy with the default overdue threshold.
func DefaultPolicy() Policy {
	return Policy{OverdueThresholdMonths: DefaultOverdueThresholdMonths}
}

// Snapshot is the derived ledger of one student at a point in time.
type Snapshot struct {
	StudentID shared.StudentID
	Total     decimal.Decimal
	Paid      decimal.Decimal
	Due       decimal.Decimal
	Status    Status
	AsOf      time.Time

	// Version is the student row version the snapshot was derived from.
	Version int64
}

// Due returns max(0, total - paid). Stored due values are never consulted.
func Due(s *student.Student) decimal.Decimal {
	due := s.TotalFee.Sub(s.Paid)
	if due.IsNegative() {
		return decimal.Zero
	}
	return due
}

// Recompute derives the ledger from the student's totals.
func (p Policy) Recompute(s *student.Student, now time.Time) Snapshot {
	return Snapshot{
		StudentID: s.ID,
		Total:     s.TotalFee,
		Paid:      s.Paid,
		Due:       Due(s),
		Status:    p.Classify(s, now),
		AsOf:      now,
		Version:   s.Version,
	}
}

// ApplyCredit adds amount to the student's paid total and refreshes the
// stored status label. It rejects amount <= 0 and amount > due, leaving the
// student untouched in both cases.
func (p Policy) ApplyCredit(s *student.Student, amount decimal.Decimal, on, now time.Time) (Snapshot, error) {
	if !amount.IsPositive() {
		return Snapshot{}, ErrInvalidAmount(amount)
	}
	due := Due(s)
	if amount.GreaterThan(due) {
		return Snapshot{}, ErrExceedsDue(amount, due)
	}

	s.Paid = s.Paid.Add(amount)
	paidOn := on
	s.LastPaymentDate = &paidOn

	snap := p.Recompute(s, now)
	s.StatusLabel = string(snap.Status)
	return snap, nil
}

// Classify returns the payment status of a student at now.
//
//	due == 0                         -> Paid
//	due > 0, months since admission
//	         > OverdueThresholdMonths -> Overdue
//	due > 0, paid > 0                -> Partial
//	due > 0, paid == 0               -> Unpaid
func (p Policy) Classify(s *student.Student, now time.Time) Status {
	if Due(s).IsZero() {
		return StatusPaid
	}
	if !s.AdmissionDate.IsZero() && timeutil.MonthsBetween(s.AdmissionDate, now) > p.threshold() {
		return StatusOverdue
	}
	if s.Paid.IsPositive() {
		return StatusPartial
	}
	return StatusUnpaid
}

func (p Policy) threshold() int {
	if p.OverdueThresholdMonths <= 0 {
		return DefaultOverdueThresholdMonths
	}
	return p.OverdueThresholdMonths
}

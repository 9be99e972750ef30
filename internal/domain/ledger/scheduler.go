package ledger

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/academy-hub/tuition-ledger/internal/domain/cycle"
	"github.com/academy-hub/tuition-ledger/internal/domain/shared"
	"github.com/academy-hub/tuition-ledger/internal/domain/student"
)

// SettlementResult reports what Settle did.
type SettlementResult struct {
	Applied bool
	Amount  decimal.Decimal
	// Index is the position of the settled installment, -1 when nothing was applied.
	Index int
}

// NextUnpaid returns the index of the first unpaid installment in list
// order, or -1. Selection is by position in the plan, not by comparing
// cycles, so an unsorted plan can yield a later cycle before an earlier one.
func NextUnpaid(plan student.InstallmentPlan) int {
	for i := range plan {
		if !plan[i].Paid {
			return i
		}
	}
	return -1
}

// Settle marks the installment for target as paid and returns its amount,
// capped at capAmount. A missing or already paid installment is a no-op
// with Applied=false and a zero amount.
//
// The plan is modified in place. Once Paid is set it is never cleared.
func Settle(plan student.InstallmentPlan, target cycle.Cycle, capAmount decimal.Decimal, on time.Time) SettlementResult {
	idx, err := settle(plan, target, on)
	if err != nil {
		return SettlementResult{Amount: decimal.Zero, Index: -1}
	}

	amount := plan[idx].Amount
	if capAmount.IsNegative() {
		capAmount = decimal.Zero
	}
	if amount.GreaterThan(capAmount) {
		amount = capAmount
	}
	return SettlementResult{Applied: true, Amount: amount, Index: idx}
}

// settle returns shared.ErrInstallmentNotFound or shared.ErrAlreadySettled
// for the two no-op cases. These never leave the package.
func settle(plan student.InstallmentPlan, target cycle.Cycle, on time.Time) (int, error) {
	idx, found := -1, false
	for i := range plan {
		if plan[i].Cycle != target {
			continue
		}
		found = true
		if !plan[i].Paid {
			idx = i
			break
		}
	}
	if !found {
		return -1, shared.ErrInstallmentNotFound
	}
	if idx < 0 {
		return -1, shared.ErrAlreadySettled
	}
	paidOn := on
	plan[idx].Paid = true
	plan[idx].PaidDate = &paidOn
	return idx, nil
}

package ledger

import (
	"fmt"
	"time"

	"github.com/academy-hub/tuition-ledger/internal/domain/cycle"
	"github.com/academy-hub/tuition-ledger/internal/domain/shared"
	"github.com/academy-hub/tuition-ledger/internal/domain/student"
	"github.com/academy-hub/tuition-ledger/pkg/timeutil"
)

// Outcome is the per-student result of a promotion.
type Outcome string

const (
	OutcomePromoted          Outcome = "promoted"
	OutcomeSkippedWrongCycle Outcome = "skipped-wrong-cycle"
	OutcomeError             Outcome = "error"
)

// PromotionStep is what Promote changed on one student.
type PromotionStep struct {
	From       cycle.Cycle
	To         cycle.Cycle
	Settlement SettlementResult
	// Record is the synthetic settlement record, nil when nothing was credited.
	Record *PaymentRecord
	Ledger Snapshot
}

// ValidateTransition checks a promotion request before any student is touched.
func ValidateTransition(source, target cycle.Cycle) error {
	if source == target {
		return fmt.Errorf("%w: %s", shared.ErrInvalidCycleTransition, target)
	}
	if target.IsUnassigned() {
		return fmt.Errorf("%w: target cycle must be a concrete month", shared.ErrInvalidCycle)
	}
	return nil
}

// Promote moves s from source to target:
//
//  1. settles the installment scheduled for target, if any, crediting
//     the settled amount through ApplyCredit;
//  2. reassigns the cycle label;
//  3. stamps LastPromotedAt.
//
// s is modified in place, so callers pass a clone and persist it only on
// success. A student outside source yields shared.ErrWrongCycle and is
// left untouched. AdmissionDate is never written.
func (e *Engine) Promote(s *student.Student, source, target cycle.Cycle, now time.Time) (PromotionStep, error) {
	if err := ValidateTransition(source, target); err != nil {
		return PromotionStep{}, err
	}

	current := s.Cycle()
	if current != source {
		return PromotionStep{From: current, To: target},
			fmt.Errorf("%w: student %s is in %s, not %s", shared.ErrWrongCycle, s.ID, current, source)
	}

	step := PromotionStep{
		From:       current,
		To:         target,
		Settlement: SettlementResult{Index: -1},
	}

	if s.HasPlan() {
		prevDue := Due(s)
		step.Settlement = Settle(s.Plan, target, prevDue, now)

		if step.Settlement.Applied && step.Settlement.Amount.IsPositive() {
			snap, err := e.policy.ApplyCredit(s, step.Settlement.Amount, now, now)
			if err != nil {
				return PromotionStep{}, err
			}
			inst := s.Plan[step.Settlement.Index]
			step.Record = newRecord(s.ID, step.Settlement.Amount, now, MethodInstallmentSettlement,
				RecordInstallmentSettlement,
				fmt.Sprintf("Installment settlement: %s (%s)", inst.Label, target),
				e.tokens(timeutil.Local(now)), prevDue, snap.Due, now)
		}
	}

	s.CycleLabel = target.String()
	promotedAt := now
	s.LastPromotedAt = &promotedAt

	step.Ledger = e.policy.Recompute(s, now)
	s.StatusLabel = string(step.Ledger.Status)
	return step, nil
}

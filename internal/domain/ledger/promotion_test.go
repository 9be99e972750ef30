package ledger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/academy-hub/tuition-ledger/internal/domain/cycle"
	"github.com/academy-hub/tuition-ledger/internal/domain/shared"
)

func TestPromote_SettlesSourceInstallment(t *testing.T) {
	e := NewEngine(DefaultPolicy())
	s := newStudent("B", 10000, 0, time.Date(2025, time.January, 5, 0, 0, 0, 0, time.UTC))
	s.CycleLabel = "Jan-2025"
	s.Plan = plan(inst(jan25(), 5000, false), inst(feb25(), 5000, false))
	admission := s.AdmissionDate

	step, err := e.Promote(s, jan25(), feb25(), now)
	require.NoError(t, err)
	assert.True(t, step.Settlement.Applied)
	assert.True(t, d(5000).Equal(s.Paid))
	assert.Equal(t, feb25(), s.Cycle())
	assert.Equal(t, "Feb-2025", s.CycleLabel)
	require.NotNil(t, step.Record)
	assert.Equal(t, RecordInstallmentSettlement, step.Record.Type)
	assert.Equal(t, MethodInstallmentSettlement, step.Record.Method)
	assert.True(t, d(10000).Equal(step.Record.PreviousDue))
	assert.True(t, d(5000).Equal(step.Record.RemainingDue))
	require.NotNil(t, s.LastPromotedAt)
	assert.Equal(t, now, *s.LastPromotedAt)
	assert.Equal(t, admission, s.AdmissionDate)

	// Repeat with the same arguments: the student is now in Feb, so the
	// request is skipped and nothing changes.
	before := s.Clone()
	_, err = e.Promote(s, jan25(), feb25(), now.Add(time.Hour))
	assert.ErrorIs(t, err, shared.ErrWrongCycle)
	assert.Equal(t, before, s)
}

func TestPromote_IdempotentSettlement(t *testing.T) {
	e := NewEngine(DefaultPolicy())
	s := newStudent("I", 10000, 0, monthsAgo(1))
	s.CycleLabel = "Jan-2025"
	s.Plan = plan(inst(jan25(), 5000, false), inst(feb25(), 5000, false))

	_, err := e.Promote(s, jan25(), feb25(), now)
	require.NoError(t, err)
	paidAfterFirst := s.Paid

	// Back to Jan by label (an operator correction), then into Feb again:
	// the Feb installment is already settled so paid must not move.
	s.CycleLabel = "Jan-2025"
	step, err := e.Promote(s, jan25(), feb25(), now.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, step.Settlement.Applied)
	assert.Nil(t, step.Record)
	assert.True(t, paidAfterFirst.Equal(s.Paid))
	assert.Equal(t, feb25(), s.Cycle())
}

func TestPromote_InvalidTransition(t *testing.T) {
	e := NewEngine(DefaultPolicy())
	s := newStudent("1", 1000, 0, monthsAgo(1))
	s.CycleLabel = "Jan-2025"
	before := s.Clone()

	_, err := e.Promote(s, jan25(), jan25(), now)
	assert.ErrorIs(t, err, shared.ErrInvalidCycleTransition)
	assert.Equal(t, before, s)

	_, err = e.Promote(s, jan25(), cycle.Unassigned, now)
	assert.ErrorIs(t, err, shared.ErrInvalidCycle)
	assert.Equal(t, before, s)
}

func TestPromote_WrongCycleLeavesStudentUntouched(t *testing.T) {
	e := NewEngine(DefaultPolicy())
	s := newStudent("1", 1000, 0, monthsAgo(1))
	s.CycleLabel = "March 2025"
	s.Plan = plan(inst(feb25(), 500, false))
	before := s.Clone()

	step, err := e.Promote(s, jan25(), feb25(), now)
	assert.ErrorIs(t, err, shared.ErrWrongCycle)
	assert.Equal(t, cycle.MustNew(time.March, 2025), step.From)
	assert.Equal(t, before, s)
}

func TestPromote_FromUnassigned(t *testing.T) {
	e := NewEngine(DefaultPolicy())
	s := newStudent("1", 1000, 0, monthsAgo(1))
	s.CycleLabel = "new admission"

	_, err := e.Promote(s, cycle.Unassigned, jan25(), now)
	require.NoError(t, err)
	assert.Equal(t, jan25(), s.Cycle())
}

func TestPromote_CapsSettlementAtDue(t *testing.T) {
	e := NewEngine(DefaultPolicy())
	s := newStudent("1", 6000, 4000, monthsAgo(1))
	s.CycleLabel = "Jan-2025"
	s.Plan = plan(inst(feb25(), 5000, false))

	step, err := e.Promote(s, jan25(), feb25(), now)
	require.NoError(t, err)
	assert.True(t, d(2000).Equal(step.Settlement.Amount))
	assert.True(t, s.Paid.Equal(s.TotalFee))
	assert.Equal(t, StatusPaid, step.Ledger.Status)
}

func TestPromote_FullyPaidPlanEntryWithNoDue(t *testing.T) {
	e := NewEngine(DefaultPolicy())
	s := newStudent("1", 5000, 5000, monthsAgo(1))
	s.CycleLabel = "Jan-2025"
	s.Plan = plan(inst(feb25(), 5000, false))

	step, err := e.Promote(s, jan25(), feb25(), now)
	require.NoError(t, err)
	assert.True(t, step.Settlement.Applied)
	assert.True(t, step.Settlement.Amount.IsZero())
	assert.Nil(t, step.Record)
	assert.True(t, d(5000).Equal(s.Paid))
	assert.True(t, s.Plan[0].Paid)
}

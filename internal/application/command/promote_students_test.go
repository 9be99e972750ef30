package command

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/academy-hub/tuition-ledger/internal/domain/cycle"
	"github.com/academy-hub/tuition-ledger/internal/domain/ledger"
	"github.com/academy-hub/tuition-ledger/internal/domain/shared"
	"github.com/academy-hub/tuition-ledger/internal/infrastructure/persistence/memory"
)

func newPromoteHandler(f *fixture, parallel bool) *PromoteStudentsHandler {
	cfg := DefaultPromoteStudentsHandlerConfig()
	cfg.Clock = fixedClock
	cfg.Parallel = parallel
	return NewPromoteStudentsHandler(f.deps, cfg)
}

func TestPromoteStudents_SettlesSourceInstallmentAndMovesCycle(t *testing.T) {
	f := newFixture()
	f.seed(seeded("S-B", 10000, 0, "Jan-2025", inst(jan25, 5000), inst(feb25, 5000)))
	h := newPromoteHandler(f, true)
	cmd := PromoteStudentsCommand{StudentIDs: []string{"S-B"}, Source: jan25, Target: feb25}

	res, err := h.Handle(context.Background(), cmd)
	require.NoError(t, err)
	require.Len(t, res.Outcomes, 1)

	o := res.Outcomes[0]
	assert.Equal(t, ledger.OutcomePromoted, o.Outcome)
	assert.True(t, o.Settled)
	assert.True(t, d(5000).Equal(o.SettledAmount))
	require.NotNil(t, o.Record)
	assert.Equal(t, ledger.RecordInstallmentSettlement, o.Record.Type)

	stored := f.store.Snapshot("S-B")
	assert.True(t, d(5000).Equal(stored.Paid))
	assert.Equal(t, feb25, stored.Cycle())
	assert.True(t, stored.Plan[1].Paid)
	assert.False(t, stored.Plan[0].Paid)
	assert.Equal(t, testAdmission, stored.AdmissionDate)
	assert.Equal(t, 1, f.store.PaymentCount("S-B"))

	// Same request again: the student is in Feb now and nothing moves.
	res, err = h.Handle(context.Background(), cmd)
	require.NoError(t, err)
	assert.Equal(t, ledger.OutcomeSkippedWrongCycle, res.Outcomes[0].Outcome)
	assert.ErrorIs(t, res.Outcomes[0].Err, shared.ErrWrongCycle)
	assert.Equal(t, feb25, res.Outcomes[0].From)

	again := f.store.Snapshot("S-B")
	assert.True(t, d(5000).Equal(again.Paid))
	assert.Equal(t, stored.Version, again.Version)
	assert.Equal(t, 1, f.store.PaymentCount("S-B"))

	assert.Len(t, f.events.ofType(shared.EventInstallmentSettled), 1)
	assert.Len(t, f.events.ofType(shared.EventStudentPromoted), 1)
	assert.Len(t, f.events.ofType(shared.EventPromotionCompleted), 2)
}

func TestPromoteStudents_BatchKeepsInputOrder(t *testing.T) {
	for _, parallel := range []bool{true, false} {
		t.Run(fmt.Sprintf("parallel=%v", parallel), func(t *testing.T) {
			f := newFixture()

			ids := make([]string, 0, 10)
			for i := 0; i < 9; i++ {
				id := fmt.Sprintf("S-%02d", i)
				f.seed(seeded(id, 10000, 0, "Jan-2025", inst(jan25, 5000), inst(feb25, 5000)))
				ids = append(ids, id)
			}
			f.seed(seeded("S-PAID", 8000, 8000, "Jan-2025"))
			ids = append(ids, "S-PAID")

			res, err := newPromoteHandler(f, parallel).Handle(context.Background(), PromoteStudentsCommand{
				StudentIDs: ids, Source: jan25, Target: feb25,
			})
			require.NoError(t, err)
			require.Len(t, res.Outcomes, 10)
			assert.Equal(t, 10, res.Promoted)
			assert.Zero(t, res.Skipped)
			assert.Zero(t, res.Failed)
			assert.NotEmpty(t, res.BatchID)

			for i, o := range res.Outcomes {
				assert.Equal(t, ids[i], o.StudentID, "outcomes keep input order")
			}

			paid := f.store.Snapshot("S-PAID")
			assert.Equal(t, feb25, paid.Cycle())
			assert.True(t, d(8000).Equal(paid.Paid))
			assert.True(t, d(8000).Equal(paid.TotalFee))
			assert.Zero(t, f.store.PaymentCount("S-PAID"))
			assert.False(t, res.Outcomes[9].Settled)
			assert.Nil(t, res.Outcomes[9].Record)

			for _, id := range ids {
				s := f.store.Snapshot(id)
				assert.Equal(t, testAdmission, s.AdmissionDate)
				assert.NotNil(t, s.LastPromotedAt)
			}
			assert.ElementsMatch(t, ids, f.cache.storedIDs())
			assert.Equal(t, f.store.Snapshot("S-PAID").Version, f.cache.stored["S-PAID"].Version)
		})
	}
}

func TestPromoteStudents_CollectAndContinue(t *testing.T) {
	f := newFixture()
	f.seed(
		seeded("S-OK", 10000, 0, "Jan-2025", inst(jan25, 5000), inst(feb25, 5000)),
		seeded("S-WRONG", 10000, 0, "Mar-2025"),
		seeded("S-FAIL", 10000, 0, "Jan-2025", inst(feb25, 5000)),
	)
	f.store.FailOn(memory.OpAppend, errors.New("connection reset"), "S-FAIL")

	res, err := newPromoteHandler(f, true).Handle(context.Background(), PromoteStudentsCommand{
		StudentIDs: []string{"S-OK", "S-UNKNOWN", "S-WRONG", "S-FAIL"},
		Source:     jan25,
		Target:     feb25,
	})
	require.NoError(t, err)
	require.Len(t, res.Outcomes, 4)

	assert.Equal(t, ledger.OutcomePromoted, res.Outcomes[0].Outcome)

	assert.Equal(t, ledger.OutcomeError, res.Outcomes[1].Outcome)
	assert.ErrorIs(t, res.Outcomes[1].Err, shared.ErrNotFound)

	assert.Equal(t, ledger.OutcomeSkippedWrongCycle, res.Outcomes[2].Outcome)
	assert.Equal(t, mar25, res.Outcomes[2].From)

	assert.Equal(t, ledger.OutcomeError, res.Outcomes[3].Outcome)
	assert.True(t, shared.IsPersistence(res.Outcomes[3].Err))

	assert.Equal(t, 1, res.Promoted)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, 2, res.Failed)

	// The failed student is untouched: no credit, no settled flag, old cycle.
	failed := f.store.Snapshot("S-FAIL")
	assert.True(t, failed.Paid.IsZero())
	assert.False(t, failed.Plan[0].Paid)
	assert.Equal(t, jan25, failed.Cycle())
	assert.Zero(t, f.store.PaymentCount("S-FAIL"))

	// A retry of the same batch only moves the student that failed.
	f.store.ClearFailures()
	res, err = newPromoteHandler(f, true).Handle(context.Background(), PromoteStudentsCommand{
		StudentIDs: []string{"S-OK", "S-FAIL"},
		Source:     jan25,
		Target:     feb25,
	})
	require.NoError(t, err)
	assert.Equal(t, ledger.OutcomeSkippedWrongCycle, res.Outcomes[0].Outcome)
	assert.Equal(t, ledger.OutcomePromoted, res.Outcomes[1].Outcome)
	assert.True(t, d(5000).Equal(f.store.Snapshot("S-OK").Paid))
	assert.True(t, d(5000).Equal(f.store.Snapshot("S-FAIL").Paid))
}

func TestPromoteStudents_RejectsRequest(t *testing.T) {
	f := newFixture()
	f.seed(seeded("S-1", 1000, 0, "Jan-2025"))
	h := newPromoteHandler(f, true)

	_, err := h.Handle(context.Background(), PromoteStudentsCommand{StudentIDs: []string{"S-1"}, Source: jan25, Target: jan25})
	assert.ErrorIs(t, err, shared.ErrInvalidCycleTransition)

	_, err = h.Handle(context.Background(), PromoteStudentsCommand{StudentIDs: []string{"S-1"}, Source: jan25, Target: cycle.Unassigned})
	assert.ErrorIs(t, err, shared.ErrInvalidCycle)

	_, err = h.Handle(context.Background(), PromoteStudentsCommand{Source: jan25, Target: feb25})
	assert.True(t, shared.IsValidation(err))

	assert.Equal(t, jan25, f.store.Snapshot("S-1").Cycle())
	assert.Empty(t, f.events.ofType(shared.EventPromotionCompleted))
}

func TestPromoteStudents_FromUnassigned(t *testing.T) {
	f := newFixture()
	f.seed(seeded("S-NEW", 6000, 0, "new admission", inst(feb25, 2000)))

	res, err := newPromoteHandler(f, false).Handle(context.Background(), PromoteStudentsCommand{
		StudentIDs: []string{"S-NEW"},
		Source:     cycle.Unassigned,
		Target:     feb25,
	})
	require.NoError(t, err)
	assert.Equal(t, ledger.OutcomePromoted, res.Outcomes[0].Outcome)
	assert.True(t, d(2000).Equal(f.store.Snapshot("S-NEW").Paid))
}

func TestPromoteStudents_CancelledContextFailsRemaining(t *testing.T) {
	f := newFixture()
	f.seed(seeded("S-1", 1000, 0, "Jan-2025"), seeded("S-2", 1000, 0, "Jan-2025"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := newPromoteHandler(f, false).Handle(ctx, PromoteStudentsCommand{
		StudentIDs: []string{"S-1", "S-2"}, Source: jan25, Target: feb25,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Failed)
	assert.Equal(t, jan25, f.store.Snapshot("S-1").Cycle())
}

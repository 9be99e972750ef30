package command

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/academy-hub/tuition-ledger/internal/domain/ledger"
	"github.com/academy-hub/tuition-ledger/internal/domain/shared"
	"github.com/academy-hub/tuition-ledger/internal/infrastructure/persistence/memory"
)

var refreshNow = time.Date(2025, time.June, 15, 12, 0, 0, 0, time.UTC)

func newRefreshHandler(f *fixture) *RefreshStatusesHandler {
	cfg := DefaultRefreshStatusesHandlerConfig()
	cfg.Clock = func() time.Time { return refreshNow }
	return NewRefreshStatusesHandler(f.store, f.deps, cfg)
}

func seedRefresh(f *fixture) {
	unpaid := seeded("S-A", 1000, 0, "Jan-2025")
	unpaid.StatusLabel = "Unpaid"
	paid := seeded("S-B", 1000, 1000, "Jan-2025")
	paid.StatusLabel = "Paid"
	partial := seeded("S-C", 1000, 200, "Jan-2025")
	f.seed(unpaid, paid, partial)
}

func TestRefreshStatuses_MarksOverdue(t *testing.T) {
	f := newFixture()
	seedRefresh(f)

	res, err := newRefreshHandler(f).Handle(context.Background(), RefreshStatusesCommand{})
	require.NoError(t, err)

	assert.Equal(t, 3, res.Scanned)
	assert.Zero(t, res.Failed)
	require.Len(t, res.Changed, 2)

	a := f.store.Snapshot("S-A")
	assert.Equal(t, "Overdue", a.StatusLabel)
	assert.True(t, a.Paid.IsZero())
	assert.Equal(t, "Jan-2025", a.CycleLabel)

	c := f.store.Snapshot("S-C")
	assert.Equal(t, "Overdue", c.StatusLabel)
	assert.True(t, c.Paid.Equal(d(200)))
	assert.True(t, c.TotalFee.Equal(d(1000)))

	assert.Equal(t, "Paid", f.store.Snapshot("S-B").StatusLabel)

	assert.Len(t, f.events.ofType(shared.EventStatusChanged), 2)
	assert.ElementsMatch(t, []string{"S-A", "S-C"}, f.cache.storedIDs())
	assert.Equal(t, ledger.StatusOverdue, f.cache.stored["S-A"].Status)
	assert.Zero(t, f.store.PaymentCount("S-A"))
}

func TestRefreshStatuses_Idempotent(t *testing.T) {
	f := newFixture()
	seedRefresh(f)
	h := newRefreshHandler(f)

	_, err := h.Handle(context.Background(), RefreshStatusesCommand{})
	require.NoError(t, err)

	res, err := h.Handle(context.Background(), RefreshStatusesCommand{})
	require.NoError(t, err)
	assert.Empty(t, res.Changed)
	assert.Len(t, f.events.ofType(shared.EventStatusChanged), 2)
}

func TestRefreshStatuses_SelectedIDs(t *testing.T) {
	f := newFixture()
	seedRefresh(f)

	res, err := newRefreshHandler(f).Handle(context.Background(), RefreshStatusesCommand{StudentIDs: []string{"S-C"}})
	require.NoError(t, err)

	assert.Equal(t, 1, res.Scanned)
	require.Len(t, res.Changed, 1)
	assert.Equal(t, "S-C", res.Changed[0].StudentID)
	assert.Equal(t, ledger.StatusOverdue, res.Changed[0].New)
	assert.Equal(t, "Unpaid", f.store.Snapshot("S-A").StatusLabel)
}

func TestRefreshStatuses_ContinuesAfterFailure(t *testing.T) {
	f := newFixture()
	seedRefresh(f)
	f.store.FailOn(memory.OpSave, errors.New("disk full"), "S-A")

	res, err := newRefreshHandler(f).Handle(context.Background(), RefreshStatusesCommand{})
	require.NoError(t, err)

	assert.Equal(t, 1, res.Failed)
	require.Len(t, res.Changed, 1)
	assert.Equal(t, "S-C", res.Changed[0].StudentID)
	assert.Equal(t, "Unpaid", f.store.Snapshot("S-A").StatusLabel)
}

func TestRefreshStatuses_ListFailure(t *testing.T) {
	f := newFixture()
	seedRefresh(f)
	f.store.FailOn(memory.OpListStore, errors.New("connection reset"))

	_, err := newRefreshHandler(f).Handle(context.Background(), RefreshStatusesCommand{})
	require.Error(t, err)
}

package command

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/academy-hub/tuition-ledger/internal/domain/ledger"
	"github.com/academy-hub/tuition-ledger/internal/domain/shared"
	"github.com/academy-hub/tuition-ledger/internal/infrastructure/persistence/memory"
)

func newRecordPaymentHandler(f *fixture) *RecordPaymentHandler {
	return NewRecordPaymentHandler(f.deps, RecordPaymentHandlerConfig{Clock: fixedClock})
}

func TestRecordPayment_SettlesRemainingDue(t *testing.T) {
	f := newFixture()
	f.seed(seeded("S-A", 15000, 10000, "Jan-2025"))
	h := newRecordPaymentHandler(f)

	res, err := h.Handle(context.Background(), RecordPaymentCommand{
		StudentID: "S-A",
		Amount:    d(5000),
		Method:    "Cash",
	})
	require.NoError(t, err)

	assert.True(t, res.Ledger.Due.IsZero())
	assert.Equal(t, ledger.StatusPaid, res.Ledger.Status)
	assert.Equal(t, ledger.StatusPartial, res.PreviousStatus)
	require.NotNil(t, res.Record)
	assert.True(t, d(5000).Equal(res.Record.PreviousDue))
	assert.True(t, res.Record.RemainingDue.IsZero())
	assert.Equal(t, ledger.RecordPayment, res.Record.Type)
	assert.Regexp(t, `^TXN\d{18}$`, res.Record.Token)

	stored := f.store.Snapshot("S-A")
	assert.True(t, d(15000).Equal(stored.Paid))
	assert.Equal(t, "Paid", stored.StatusLabel)
	assert.Equal(t, int64(2), stored.Version)
	require.NotNil(t, stored.LastPaymentDate)
	assert.Equal(t, testNow, *stored.LastPaymentDate)
	assert.Equal(t, 1, f.store.PaymentCount("S-A"))

	assert.Len(t, f.events.ofType(shared.EventPaymentRecorded), 1)
	assert.Len(t, f.events.ofType(shared.EventStatusChanged), 1)
	require.Contains(t, f.cache.stored, "S-A")
	cached := f.cache.stored["S-A"]
	assert.Equal(t, stored.Version, cached.Version)
	assert.True(t, cached.Due.IsZero())
	assert.Empty(t, f.cache.invalidated)
}

func TestRecordPayment_DropsSnapshotWhenCacheWriteFails(t *testing.T) {
	f := newFixture()
	f.seed(seeded("S-F", 15000, 0, "Jan-2025"))
	f.cache.setErr = errors.New("redis timeout")
	h := newRecordPaymentHandler(f)

	_, err := h.Handle(context.Background(), RecordPaymentCommand{StudentID: "S-F", Amount: d(1000)})
	require.NoError(t, err)
	assert.Equal(t, []string{"S-F"}, f.cache.invalidated)
}

func TestRecordPayment_ValidationBoundary(t *testing.T) {
	tests := []struct {
		name   string
		amount int64
		method string
		date   time.Time
	}{
		{"zero amount", 0, "", time.Time{}},
		{"negative amount", -100, "", time.Time{}},
		{"above due", 5001, "", time.Time{}},
		{"unknown method", 100, "barter", time.Time{}},
		{"reserved method", 100, "installment-settlement", time.Time{}},
		{"future date", 100, "", testNow.AddDate(0, 0, 3)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			f.seed(seeded("S-V", 15000, 10000, "Jan-2025"))
			h := newRecordPaymentHandler(f)

			_, err := h.Handle(context.Background(), RecordPaymentCommand{
				StudentID: "S-V",
				Amount:    d(tt.amount),
				Method:    tt.method,
				Date:      tt.date,
			})
			require.Error(t, err)
			assert.True(t, shared.IsValidation(err), "got %v", err)

			stored := f.store.Snapshot("S-V")
			assert.True(t, d(10000).Equal(stored.Paid))
			assert.Equal(t, int64(1), stored.Version)
			assert.Zero(t, f.store.PaymentCount("S-V"))
			assert.Empty(t, f.events.ofType(shared.EventPaymentRecorded))
		})
	}
}

func TestRecordPayment_UnknownStudent(t *testing.T) {
	f := newFixture()
	h := newRecordPaymentHandler(f)

	_, err := h.Handle(context.Background(), RecordPaymentCommand{StudentID: "nobody", Amount: d(10)})
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestRecordPayment_PersistenceFailureRollsBack(t *testing.T) {
	f := newFixture()
	f.seed(seeded("S-P", 15000, 0, "Jan-2025"))
	f.store.FailOn(memory.OpAppend, errors.New("disk full"))
	h := newRecordPaymentHandler(f)

	_, err := h.Handle(context.Background(), RecordPaymentCommand{StudentID: "S-P", Amount: d(1000)})
	require.Error(t, err)
	assert.True(t, shared.IsPersistence(err))

	// Save ran before Append inside the same unit of work; nothing may be visible.
	stored := f.store.Snapshot("S-P")
	assert.True(t, stored.Paid.IsZero())
	assert.Nil(t, stored.LastPaymentDate)
	assert.Zero(t, f.store.PaymentCount("S-P"))
	assert.Empty(t, f.cache.storedIDs())

	f.store.ClearFailures()
	res, err := h.Handle(context.Background(), RecordPaymentCommand{StudentID: "S-P", Amount: d(1000)})
	require.NoError(t, err)
	assert.True(t, d(14000).Equal(res.Ledger.Due))
}

func TestRecordPayment_ConcurrentPaymentsNeverOverCredit(t *testing.T) {
	f := newFixture()
	f.seed(seeded("S-C", 10000, 0, "Jan-2025"))
	h := newRecordPaymentHandler(f)

	// 20 payments of 1000 against a due of 10000: exactly 10 succeed.
	var (
		wg sync.WaitGroup
		mu sync.Mutex
		ok int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := h.Handle(context.Background(), RecordPaymentCommand{StudentID: "S-C", Amount: d(1000)}); err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, ok)
	stored := f.store.Snapshot("S-C")
	assert.True(t, d(10000).Equal(stored.Paid))
	assert.Equal(t, 10, f.store.PaymentCount("S-C"))
}

// staleOnce fails the first transaction with a version conflict after fn
// has run, so its writes are rolled back.
type staleOnce struct {
	ledger.UnitOfWorkFactory
	mu      sync.Mutex
	commits int
}

func (s *staleOnce) WithTx(ctx context.Context, fn func(uow ledger.UnitOfWork) error) error {
	return s.UnitOfWorkFactory.WithTx(ctx, func(uow ledger.UnitOfWork) error {
		if err := fn(uow); err != nil {
			return err
		}
		s.mu.Lock()
		s.commits++
		first := s.commits == 1
		s.mu.Unlock()
		if first {
			return shared.ErrStaleStudent
		}
		return nil
	})
}

func TestRecordPayment_RetriesStaleWrite(t *testing.T) {
	f := newFixture()
	f.seed(seeded("S-R", 15000, 0, "Jan-2025"))
	uows := &staleOnce{UnitOfWorkFactory: f.store}
	f.deps.UnitOfWork = uows
	h := newRecordPaymentHandler(f)

	res, err := h.Handle(context.Background(), RecordPaymentCommand{StudentID: "S-R", Amount: d(1000)})
	require.NoError(t, err)

	assert.Equal(t, 2, uows.commits)
	assert.True(t, d(14000).Equal(res.Ledger.Due))
	assert.True(t, d(1000).Equal(f.store.Snapshot("S-R").Paid))
	assert.Equal(t, 1, f.store.PaymentCount("S-R"))
}

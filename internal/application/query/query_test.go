package query

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/academy-hub/tuition-ledger/internal/application/command"
	"github.com/academy-hub/tuition-ledger/internal/domain/cycle"
	"github.com/academy-hub/tuition-ledger/internal/domain/ledger"
	"github.com/academy-hub/tuition-ledger/internal/domain/shared"
	"github.com/academy-hub/tuition-ledger/internal/domain/student"
	"github.com/academy-hub/tuition-ledger/internal/infrastructure/persistence/memory"
	"github.com/academy-hub/tuition-ledger/internal/infrastructure/persistence/redis"
	"github.com/academy-hub/tuition-ledger/pkg/circuitbreaker"
)

var testNow = time.Date(2025, time.June, 15, 12, 0, 0, 0, time.UTC)

func d(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func st(id, name string, total, paid int64, admitted time.Time, label string) *student.Student {
	return &student.Student{
		ID:            shared.StudentID(id),
		Name:          name,
		AdmissionDate: admitted,
		CycleLabel:    label,
		TotalFee:      d(total),
		Paid:          d(paid),
	}
}

// Admitted 4 months and 1 month before testNow.
var (
	longAgo = time.Date(2025, time.February, 1, 0, 0, 0, 0, time.UTC)
	recent  = time.Date(2025, time.May, 10, 0, 0, 0, 0, time.UTC)
)

func newDeps(store *memory.Store) Dependencies {
	return Dependencies{
		Store:  store,
		Policy: ledger.DefaultPolicy(),
		Clock:  func() time.Time { return testNow },
	}
}

func seedMixedStatuses(store *memory.Store) {
	store.Seed(
		st("S-OVER", "Overdue Olive", 3000, 0, longAgo, "Feb-2025"),
		st("S-UNPAID", "Unpaid Umar", 3000, 0, recent, "May-2025"),
		st("S-PART", "Partial Priya", 3000, 1000, recent, "May-2025"),
		st("S-PAID", "Paid Paulo", 3000, 3000, recent, "May-2025"),
	)
}

// ══════════════════════════════════════════════════════════════════════════════
// GET LEDGER
// ══════════════════════════════════════════════════════════════════════════════

type memCache struct {
	snaps   map[string]ledger.Snapshot
	getErr  error
	setErr  error
	gets    int
	sets    int
	lastTTL time.Duration
}

func (c *memCache) Get(_ context.Context, id string) (*ledger.Snapshot, error) {
	c.gets++
	if c.getErr != nil {
		return nil, c.getErr
	}
	s, ok := c.snaps[id]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (c *memCache) Set(_ context.Context, s ledger.Snapshot, ttl time.Duration) error {
	if c.setErr != nil {
		return c.setErr
	}
	c.sets++
	c.lastTTL = ttl
	c.snaps[s.StudentID.String()] = s
	return nil
}

func (c *memCache) Invalidate(_ context.Context, ids ...string) error {
	for _, id := range ids {
		delete(c.snaps, id)
	}
	return nil
}

func TestGetLedger_ReadThrough(t *testing.T) {
	store := memory.NewStore()
	store.Seed(st("S-1", "A", 15000, 10000, recent, "May-2025"))
	cache := &memCache{snaps: map[string]ledger.Snapshot{}}
	deps := newDeps(store)
	deps.Cache = cache
	h := NewGetLedgerHandler(deps, time.Minute)

	first, err := h.Handle(context.Background(), GetLedgerQuery{StudentID: "S-1"})
	require.NoError(t, err)
	assert.False(t, first.FromCache)
	assert.True(t, d(5000).Equal(first.Due))
	assert.Equal(t, ledger.StatusPartial, first.Status)
	assert.Equal(t, 1, cache.sets)
	assert.Equal(t, time.Minute, cache.lastTTL)

	second, err := h.Handle(context.Background(), GetLedgerQuery{StudentID: "S-1"})
	require.NoError(t, err)
	assert.True(t, second.FromCache)
	assert.True(t, first.Due.Equal(second.Due))
	assert.Equal(t, 1, cache.sets)
}

func TestGetLedger_CacheFailureFallsBackToStore(t *testing.T) {
	store := memory.NewStore()
	store.Seed(st("S-1", "A", 15000, 15000, recent, "May-2025"))
	deps := newDeps(store)
	deps.Cache = &memCache{snaps: map[string]ledger.Snapshot{}, getErr: errors.New("redis down")}

	got, err := NewGetLedgerHandler(deps, 0).Handle(context.Background(), GetLedgerQuery{StudentID: "S-1"})
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusPaid, got.Status)
	assert.True(t, got.Due.IsZero())
}

func TestGetLedger_OpenBreakerSkipsCache(t *testing.T) {
	store := memory.NewStore()
	store.Seed(st("S-1", "A", 15000, 10000, recent, "May-2025"))
	down := errors.New("redis down")
	failing := &memCache{snaps: map[string]ledger.Snapshot{}, getErr: down, setErr: down}
	// The first request fails a read and a fill, the second read opens the circuit.
	cb := circuitbreaker.RedisBreaker("redis-snapshots", nil, circuitbreaker.WithFailureThreshold(3))
	deps := newDeps(store)
	deps.Cache = redis.NewGuardedSnapshotCache(failing, cb)
	h := NewGetLedgerHandler(deps, 0)

	for i := 0; i < 5; i++ {
		got, err := h.Handle(context.Background(), GetLedgerQuery{StudentID: "S-1"})
		require.NoError(t, err)
		assert.False(t, got.FromCache)
		assert.True(t, d(5000).Equal(got.Due))
	}

	assert.Equal(t, circuitbreaker.StateOpen, cb.State())
	assert.Equal(t, 2, failing.gets, "reads stop reaching the cache once the circuit opens")
}

// paymentDuringRead commits a payment after the student row is read and
// before GetLedger fills the cache.
type paymentDuringRead struct {
	*memory.Store
	students *interleavedStudents
}

func (s *paymentDuringRead) Students() student.Repository { return s.students }

type interleavedStudents struct {
	student.Repository
	once  sync.Once
	after func()
}

func (r *interleavedStudents) GetByID(ctx context.Context, id string) (*student.Student, error) {
	s, err := r.Repository.GetByID(ctx, id)
	r.once.Do(r.after)
	return s, err
}

func TestGetLedger_StaleFillDoesNotHideNewerPayment(t *testing.T) {
	store := memory.NewStore()
	store.Seed(st("S-1", "A", 15000, 10000, recent, "May-2025"))
	cache := memory.NewSnapshotCache()

	pay := command.NewRecordPaymentHandler(command.Dependencies{
		UnitOfWork: store,
		Engine:     ledger.NewEngine(ledger.DefaultPolicy()),
		Cache:      cache,
	}, command.RecordPaymentHandlerConfig{Clock: func() time.Time { return testNow }})

	students := &interleavedStudents{Repository: store.Students()}
	students.after = func() {
		_, err := pay.Handle(context.Background(), command.RecordPaymentCommand{StudentID: "S-1", Amount: d(5000)})
		require.NoError(t, err)
	}

	deps := newDeps(store)
	deps.Store = &paymentDuringRead{Store: store, students: students}
	deps.Cache = cache
	h := NewGetLedgerHandler(deps, time.Minute)

	// The read started before the payment, so it may report the old due.
	first, err := h.Handle(context.Background(), GetLedgerQuery{StudentID: "S-1"})
	require.NoError(t, err)
	assert.False(t, first.FromCache)
	assert.True(t, d(5000).Equal(first.Due))

	second, err := h.Handle(context.Background(), GetLedgerQuery{StudentID: "S-1"})
	require.NoError(t, err)
	assert.True(t, second.FromCache)
	assert.True(t, second.Due.IsZero(), "the cache keeps the snapshot written by the payment")
	assert.Equal(t, ledger.StatusPaid, second.Status)
}

func TestGetLedger_Errors(t *testing.T) {
	h := NewGetLedgerHandler(newDeps(memory.NewStore()), 0)

	_, err := h.Handle(context.Background(), GetLedgerQuery{StudentID: "missing"})
	assert.ErrorIs(t, err, shared.ErrNotFound)

	_, err = h.Handle(context.Background(), GetLedgerQuery{StudentID: ""})
	assert.True(t, shared.IsValidation(err))
}

// ══════════════════════════════════════════════════════════════════════════════
// GET DUE LIST
// ══════════════════════════════════════════════════════════════════════════════

func TestGetDueList_Filters(t *testing.T) {
	store := memory.NewStore()
	seedMixedStatuses(store)
	h := NewGetDueListHandler(newDeps(store))

	tests := []struct {
		filter string
		want   []string
	}{
		{"", []string{"S-OVER", "S-PART", "S-UNPAID"}},
		{"all", []string{"S-OVER", "S-PART", "S-UNPAID"}},
		{"OVERDUE", []string{"S-OVER"}},
		{"partial", []string{"S-PART"}},
		{"unpaid", []string{"S-UNPAID"}},
	}
	for _, tt := range tests {
		t.Run(tt.filter, func(t *testing.T) {
			got, err := h.Handle(context.Background(), GetDueListQuery{Filter: tt.filter})
			require.NoError(t, err)

			ids := make([]string, 0, len(got.Entries))
			for _, e := range got.Entries {
				ids = append(ids, e.StudentID)
			}
			assert.Equal(t, tt.want, ids)
			assert.Equal(t, len(tt.want), got.TotalCount)
		})
	}

	_, err := h.Handle(context.Background(), GetDueListQuery{Filter: "everyone"})
	assert.True(t, shared.IsValidation(err))
}

func TestGetDueList_SearchAndPaging(t *testing.T) {
	store := memory.NewStore()
	seedMixedStatuses(store)
	h := NewGetDueListHandler(newDeps(store))

	got, err := h.Handle(context.Background(), GetDueListQuery{Search: "priya"})
	require.NoError(t, err)
	require.Len(t, got.Entries, 1)
	assert.Equal(t, "S-PART", got.Entries[0].StudentID)
	assert.True(t, d(2000).Equal(got.Entries[0].Due))

	page2, err := h.Handle(context.Background(), GetDueListQuery{Page: 2, PageSize: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, page2.TotalCount)
	assert.True(t, d(8000).Equal(page2.TotalDue))
	require.Len(t, page2.Entries, 1)
	assert.Equal(t, "S-UNPAID", page2.Entries[0].StudentID)

	empty, err := h.Handle(context.Background(), GetDueListQuery{Page: 9, PageSize: 2})
	require.NoError(t, err)
	assert.Empty(t, empty.Entries)
}

// ══════════════════════════════════════════════════════════════════════════════
// GET INSTALLMENT SCHEDULE
// ══════════════════════════════════════════════════════════════════════════════

func TestGetInstallmentSchedule_MarksNextUnpaid(t *testing.T) {
	store := memory.NewStore()
	paidOn := recent
	s := st("S-1", "A", 15000, 5000, recent, "May-2025")
	s.Plan = student.InstallmentPlan{
		{Label: "Admission", Cycle: cycle.MustNew(time.May, 2025), Amount: d(5000), Paid: true, PaidDate: &paidOn},
		{Label: "Month 2", Cycle: cycle.MustNew(time.June, 2025), Amount: d(5000)},
		{Label: "Month 3", Cycle: cycle.MustNew(time.July, 2025), Amount: d(5000)},
	}
	store.Seed(s)

	got, err := NewGetInstallmentScheduleHandler(newDeps(store)).Handle(context.Background(),
		GetInstallmentScheduleQuery{StudentID: "S-1"})
	require.NoError(t, err)

	assert.Equal(t, 1, got.NextUnpaid)
	require.Len(t, got.Installments, 3)
	assert.False(t, got.Installments[0].Next)
	assert.True(t, got.Installments[1].Next)
	assert.Equal(t, "Jun-2025", got.Installments[1].Cycle)
	assert.NotNil(t, got.Installments[0].PaidDate)
	assert.True(t, d(15000).Equal(got.Scheduled))
	assert.True(t, d(5000).Equal(got.Settled))
	assert.True(t, d(10000).Equal(got.Outstanding))
}

func TestGetInstallmentSchedule_NoPlan(t *testing.T) {
	store := memory.NewStore()
	store.Seed(st("S-1", "A", 1000, 0, recent, ""))

	got, err := NewGetInstallmentScheduleHandler(newDeps(store)).Handle(context.Background(),
		GetInstallmentScheduleQuery{StudentID: "S-1"})
	require.NoError(t, err)
	assert.Equal(t, -1, got.NextUnpaid)
	assert.Empty(t, got.Installments)
	assert.Equal(t, "May-2025", got.CurrentCycle)
}

// ══════════════════════════════════════════════════════════════════════════════
// GET SUMMARY
// ══════════════════════════════════════════════════════════════════════════════

func TestGetSummary(t *testing.T) {
	store := memory.NewStore()
	seedMixedStatuses(store)
	h := NewGetSummaryHandler(newDeps(store))

	all, err := h.Handle(context.Background(), GetSummaryQuery{})
	require.NoError(t, err)
	assert.Equal(t, 4, all.Students)
	assert.True(t, d(12000).Equal(all.TotalFee))
	assert.True(t, d(4000).Equal(all.TotalPaid))
	assert.True(t, d(8000).Equal(all.TotalDue))
	assert.True(t, d(3000).Equal(all.TotalOverdue))
	assert.Equal(t, map[ledger.Status]int{
		ledger.StatusPaid: 1, ledger.StatusPartial: 1, ledger.StatusUnpaid: 1, ledger.StatusOverdue: 1,
	}, all.CountsByStatus)
	assert.Empty(t, all.Cycle)

	may, err := h.Handle(context.Background(), GetSummaryQuery{Cycle: "may 2025"})
	require.NoError(t, err)
	assert.Equal(t, "May-2025", may.Cycle)
	assert.Equal(t, 3, may.Students)
	assert.Zero(t, may.CountsByStatus[ledger.StatusOverdue])

	_, err = h.Handle(context.Background(), GetSummaryQuery{Cycle: "someday"})
	assert.True(t, shared.IsValidation(err))
}

// ══════════════════════════════════════════════════════════════════════════════
// GET PAYMENT HISTORY
// ══════════════════════════════════════════════════════════════════════════════

func TestGetPaymentHistory(t *testing.T) {
	store := memory.NewStore()
	store.Seed(st("S-1", "A", 15000, 0, recent, "May-2025"))

	ctx := context.Background()
	for i, amount := range []int64{1000, 2000, 3000} {
		require.NoError(t, store.Payments().Append(ctx, &ledger.PaymentRecord{
			ID:        uuid.New(),
			StudentID: "S-1",
			Amount:    d(amount),
			Method:    ledger.MethodCash,
			Type:      ledger.RecordPayment,
			CreatedAt: testNow.Add(time.Duration(i) * time.Minute),
		}))
	}
	h := NewGetPaymentHistoryHandler(newDeps(store))

	got, err := h.Handle(ctx, GetPaymentHistoryQuery{StudentID: "S-1"})
	require.NoError(t, err)
	require.Len(t, got.Records, 3)
	assert.True(t, d(3000).Equal(got.Records[0].Amount), "newest first")

	limited, err := h.Handle(ctx, GetPaymentHistoryQuery{StudentID: "S-1", Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited.Records, 1)

	_, err = h.Handle(ctx, GetPaymentHistoryQuery{StudentID: "ghost"})
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

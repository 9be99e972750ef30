package command

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/academy-hub/tuition-ledger/internal/domain/cycle"
	"github.com/academy-hub/tuition-ledger/internal/domain/ledger"
	"github.com/academy-hub/tuition-ledger/internal/domain/shared"
	"github.com/academy-hub/tuition-ledger/internal/domain/student"
	"github.com/academy-hub/tuition-ledger/internal/infrastructure/lock"
	"github.com/academy-hub/tuition-ledger/internal/infrastructure/persistence/memory"
)

var (
	testNow       = time.Date(2025, time.February, 20, 9, 0, 0, 0, time.UTC)
	testAdmission = time.Date(2025, time.January, 10, 0, 0, 0, 0, time.UTC)

	jan25 = cycle.MustNew(time.January, 2025)
	feb25 = cycle.MustNew(time.February, 2025)
	mar25 = cycle.MustNew(time.March, 2025)
)

func d(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func fixedClock() time.Time { return testNow }

// recorder collects published events.
type recorder struct {
	mu     sync.Mutex
	events []shared.Event
}

func (r *recorder) Publish(e shared.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recorder) ofType(t shared.EventType) []shared.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []shared.Event
	for _, e := range r.events {
		if e.EventType() == t {
			out = append(out, e)
		}
	}
	return out
}

// spyCache records writes and invalidations.
type spyCache struct {
	mu          sync.Mutex
	stored      map[string]ledger.Snapshot
	invalidated []string
	setErr      error
}

func (c *spyCache) Get(context.Context, string) (*ledger.Snapshot, error) { return nil, nil }

func (c *spyCache) Set(_ context.Context, snap ledger.Snapshot, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.setErr != nil {
		return c.setErr
	}
	if c.stored == nil {
		c.stored = make(map[string]ledger.Snapshot)
	}
	c.stored[snap.StudentID.String()] = snap
	return nil
}

func (c *spyCache) storedIDs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]string, 0, len(c.stored))
	for id := range c.stored {
		ids = append(ids, id)
	}
	return ids
}

func (c *spyCache) Invalidate(_ context.Context, ids ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalidated = append(c.invalidated, ids...)
	return nil
}

type fixture struct {
	store  *memory.Store
	events *recorder
	cache  *spyCache
	deps   Dependencies
}

func newFixture() *fixture {
	f := &fixture{
		store:  memory.NewStore(),
		events: &recorder{},
		cache:  &spyCache{},
	}
	f.deps = Dependencies{
		UnitOfWork: f.store,
		Locker:     lock.NewKeyedMutex(),
		Engine:     ledger.NewEngine(ledger.DefaultPolicy(), ledger.WithFutureDateCheck(true)),
		Cache:      f.cache,
		Events:     f.events,
	}
	return f
}

func (f *fixture) seed(students ...*student.Student) {
	f.store.Seed(students...)
}

func seeded(id string, total, paid int64, label string, plan ...student.Installment) *student.Student {
	return &student.Student{
		ID:            shared.StudentID(id),
		Name:          "Student " + id,
		AdmissionDate: testAdmission,
		CycleLabel:    label,
		TotalFee:      d(total),
		Paid:          d(paid),
		Plan:          plan,
		CreatedAt:     testAdmission,
		UpdatedAt:     testAdmission,
	}
}

func inst(c cycle.Cycle, amount int64) student.Installment {
	return student.Installment{Label: c.String(), Cycle: c, Amount: d(amount)}
}

// ══════════════════════════════════════════════════════════════════════════════
// VALIDATION
// ══════════════════════════════════════════════════════════════════════════════

func TestValidateStruct_CollectsFields(t *testing.T) {
	err := validateStruct("Test", AdmitStudentCommand{})
	require.Error(t, err)
	assert.True(t, shared.IsValidation(err))
	assert.Contains(t, err.Error(), "StudentID is required")
	assert.Contains(t, err.Error(), "Name is required")
	assert.Contains(t, err.Error(), "AdmissionDate is required")
}

func TestValidateStruct_Dive(t *testing.T) {
	err := validateStruct("Test", PromoteStudentsCommand{StudentIDs: []string{"S-1", ""}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "StudentIDs[1] is required")
}

// ══════════════════════════════════════════════════════════════════════════════
// ADMIT STUDENT
// ══════════════════════════════════════════════════════════════════════════════

func TestAdmitStudent_SeedsPlanFromItems(t *testing.T) {
	f := newFixture()
	h := NewAdmitStudentHandler(f.deps, nil, AdmitStudentHandlerConfig{Clock: fixedClock})

	res, err := h.Handle(context.Background(), AdmitStudentCommand{
		StudentID:     "S-100",
		Name:          "Ayesha Rahman",
		AdmissionDate: testAdmission,
		FeeItems: []FeeItemInput{
			{Label: "Admission", Amount: d(5000)},
			{Label: "Month 2", Amount: d(5000), DueOffsetMonths: 1},
			{Amount: d(5000), DueOffsetMonths: 2},
		},
	})
	require.NoError(t, err)

	s := res.Student
	assert.True(t, d(15000).Equal(s.TotalFee))
	assert.True(t, s.Paid.IsZero())
	assert.Equal(t, "Jan-2025", s.CycleLabel)
	require.Len(t, s.Plan, 3)
	assert.Equal(t, jan25, s.Plan[0].Cycle)
	assert.Equal(t, feb25, s.Plan[1].Cycle)
	assert.Equal(t, mar25, s.Plan[2].Cycle)
	assert.Equal(t, "Installment 3", s.Plan[2].Label)
	assert.Equal(t, ledger.StatusUnpaid, res.Ledger.Status)
	assert.Nil(t, res.InitialPayment)

	stored := f.store.Snapshot("S-100")
	require.NotNil(t, stored)
	assert.Equal(t, int64(1), stored.Version)
	assert.Len(t, f.events.ofType(shared.EventStudentAdmitted), 1)
}

func TestAdmitStudent_InitialPaymentAndUnassigned(t *testing.T) {
	f := newFixture()
	h := NewAdmitStudentHandler(f.deps, nil, AdmitStudentHandlerConfig{Clock: fixedClock})
	total := d(12000)

	res, err := h.Handle(context.Background(), AdmitStudentCommand{
		StudentID:      "S-101",
		Name:           "Rafi",
		AdmissionDate:  testAdmission,
		CycleLabel:     "New Admission",
		TotalFee:       &total,
		InitialPayment: &InitialPaymentInput{Amount: d(2000), Method: "bank"},
	})
	require.NoError(t, err)

	assert.True(t, res.Student.Cycle().IsUnassigned())
	require.NotNil(t, res.InitialPayment)
	assert.Equal(t, ledger.MethodBank, res.InitialPayment.Method)
	assert.True(t, d(10000).Equal(res.Ledger.Due))
	assert.Equal(t, ledger.StatusPartial, res.Ledger.Status)
	assert.Equal(t, 1, f.store.PaymentCount("S-101"))
	assert.True(t, d(2000).Equal(f.store.Snapshot("S-101").Paid))
	assert.Len(t, f.events.ofType(shared.EventPaymentRecorded), 1)
}

func TestAdmitStudent_FromCatalog(t *testing.T) {
	f := newFixture()
	catalog := memory.NewFeeCatalog()
	require.NoError(t, catalog.Put("WEB-6M", student.FeeStructure{
		Name:  "Web 6 months",
		Items: []student.FeeItem{{Label: "Admission", Amount: d(3000)}, {Label: "Final", Amount: d(3000), DueOffsetMonths: 5}},
	}))
	h := NewAdmitStudentHandler(f.deps, catalog, AdmitStudentHandlerConfig{Clock: fixedClock})

	res, err := h.Handle(context.Background(), AdmitStudentCommand{
		StudentID:        "S-102",
		Name:             "Nadia",
		AdmissionDate:    testAdmission,
		FeeStructureCode: "web-6m",
	})
	require.NoError(t, err)
	assert.True(t, d(6000).Equal(res.Student.TotalFee))
	assert.Equal(t, cycle.MustNew(time.June, 2025), res.Student.Plan[1].Cycle)

	_, err = h.Handle(context.Background(), AdmitStudentCommand{
		StudentID:        "S-103",
		Name:             "Tanvir",
		AdmissionDate:    testAdmission,
		FeeStructureCode: "missing",
	})
	require.Error(t, err)
	assert.True(t, shared.IsValidation(err))
	assert.Nil(t, f.store.Snapshot("S-103"))
}

func TestAdmitStudent_Rejections(t *testing.T) {
	total := d(1000)
	tests := []struct {
		name string
		cmd  AdmitStudentCommand
	}{
		{"no total and no template", AdmitStudentCommand{StudentID: "S-1", Name: "A", AdmissionDate: testAdmission}},
		{"code and items", AdmitStudentCommand{StudentID: "S-1", Name: "A", AdmissionDate: testAdmission,
			FeeStructureCode: "X", FeeItems: []FeeItemInput{{Amount: d(1)}}}},
		{"initial payment above total", AdmitStudentCommand{StudentID: "S-1", Name: "A", AdmissionDate: testAdmission,
			TotalFee: &total, InitialPayment: &InitialPaymentInput{Amount: d(1500)}}},
		{"reserved method", AdmitStudentCommand{StudentID: "S-1", Name: "A", AdmissionDate: testAdmission,
			TotalFee: &total, InitialPayment: &InitialPaymentInput{Amount: d(100), Method: "installment-settlement"}}},
		{"negative offset", AdmitStudentCommand{StudentID: "S-1", Name: "A", AdmissionDate: testAdmission,
			FeeItems: []FeeItemInput{{Amount: d(1), DueOffsetMonths: -1}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			h := NewAdmitStudentHandler(f.deps, nil, AdmitStudentHandlerConfig{Clock: fixedClock})

			_, err := h.Handle(context.Background(), tt.cmd)
			require.Error(t, err)
			assert.True(t, shared.IsValidation(err), "got %v", err)
			assert.Nil(t, f.store.Snapshot("S-1"))
			assert.Empty(t, f.events.ofType(shared.EventStudentAdmitted))
		})
	}
}

func TestAdmitStudent_DuplicateID(t *testing.T) {
	f := newFixture()
	f.seed(seeded("S-1", 1000, 0, "Jan-2025"))
	h := NewAdmitStudentHandler(f.deps, nil, AdmitStudentHandlerConfig{Clock: fixedClock})
	total := d(500)

	_, err := h.Handle(context.Background(), AdmitStudentCommand{
		StudentID: "S-1", Name: "Other", AdmissionDate: testAdmission, TotalFee: &total,
	})
	assert.ErrorIs(t, err, shared.ErrAlreadyExists)
	assert.True(t, d(1000).Equal(f.store.Snapshot("S-1").TotalFee))
}

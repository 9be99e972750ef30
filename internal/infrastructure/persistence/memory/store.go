// Package memory implements the ledger storage ports in process memory.
// It backs LEDGER_STORAGE=memory and the application tests. Units of work
// stage their writes and apply them atomically on Commit, mirroring the
// postgres transaction semantics.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/academy-hub/tuition-ledger/internal/domain/ledger"
	"github.com/academy-hub/tuition-ledger/internal/domain/shared"
	"github.com/academy-hub/tuition-ledger/internal/domain/student"
)

// Operation names accepted by FailOn.
const (
	OpBegin     = "uow.begin"
	OpCommit    = "uow.commit"
	OpGet       = "students.get"
	OpCreate    = "students.create"
	OpSave      = "students.save"
	OpAppend    = "payments.append"
	OpListStore = "students.list"
)

// Store keeps students and the payment log in maps guarded by one mutex.
type Store struct {
	mu       sync.RWMutex
	students map[string]*student.Student
	payments map[string][]*ledger.PaymentRecord

	failMu   sync.Mutex
	failures map[string]error
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		students: make(map[string]*student.Student),
		payments: make(map[string][]*ledger.PaymentRecord),
		failures: make(map[string]error),
	}
}

// FailOn makes every later call of op fail with err. With studentIDs the
// failure applies to those students only. A nil err clears the rule.
func (s *Store) FailOn(op string, err error, studentIDs ...string) {
	s.failMu.Lock()
	defer s.failMu.Unlock()

	keys := []string{op}
	if len(studentIDs) > 0 {
		keys = keys[:0]
		for _, id := range studentIDs {
			keys = append(keys, op+":"+id)
		}
	}
	for _, k := range keys {
		if err == nil {
			delete(s.failures, k)
		} else {
			s.failures[k] = err
		}
	}
}

// ClearFailures removes all injected failures.
func (s *Store) ClearFailures() {
	s.failMu.Lock()
	defer s.failMu.Unlock()
	s.failures = make(map[string]error)
}

func (s *Store) injected(op, studentID string) error {
	s.failMu.Lock()
	defer s.failMu.Unlock()

	if err, ok := s.failures[op+":"+studentID]; ok && studentID != "" {
		return shared.Persistence(op, err)
	}
	if err, ok := s.failures[op]; ok {
		return shared.Persistence(op, err)
	}
	return nil
}

// Students returns the auto-committing student repository.
func (s *Store) Students() student.Repository { return &studentRepo{store: s} }

// Payments returns the auto-committing payment log.
func (s *Store) Payments() ledger.PaymentRepository { return &paymentRepo{store: s} }

// Begin starts a transaction. Callers must Commit or Rollback it.
func (s *Store) Begin(ctx context.Context) (*Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, shared.Persistence(OpBegin, err)
	}
	if err := s.injected(OpBegin, ""); err != nil {
		return nil, err
	}
	return &Tx{
		store:  s,
		staged: make(map[string]*stagedStudent),
	}, nil
}

// WithTx runs fn in a transaction and commits it when fn succeeds.
func (s *Store) WithTx(ctx context.Context, fn func(uow ledger.UnitOfWork) error) error {
	tx, err := s.Begin(ctx)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

// Seed inserts students directly, bypassing validation of the write path.
// Intended for tests and fixtures.
func (s *Store) Seed(students ...*student.Student) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range students {
		c := st.Clone()
		if c.Version == 0 {
			c.Version = 1
		}
		s.students[c.ID.String()] = c
	}
}

// Snapshot returns a copy of a committed student, or nil.
func (s *Store) Snapshot(id string) *student.Student {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.students[id].Clone()
}

// PaymentCount returns the number of committed records of a student.
func (s *Store) PaymentCount(id string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.payments[id])
}

// ══════════════════════════════════════════════════════════════════════════════
// ROW RULES (the CHECK constraints and triggers of the postgres schema)
// ══════════════════════════════════════════════════════════════════════════════

func checkUpdate(current, next *student.Student) error {
	if current.Version != next.Version {
		return shared.ErrStaleStudent
	}
	if !current.AdmissionDate.Equal(next.AdmissionDate) {
		return shared.ErrAdmissionImmutable
	}
	if err := checkAmounts(next); err != nil {
		return err
	}
	for i, inst := range current.Plan {
		if inst.Paid && (i >= len(next.Plan) || !next.Plan[i].Paid) {
			return shared.WrapError("installment", "Save", shared.ErrAlreadyProcessed,
				"settled installment cannot be reopened", nil)
		}
	}
	return nil
}

func checkAmounts(st *student.Student) error {
	if st.TotalFee.IsNegative() || st.Paid.IsNegative() || st.Paid.GreaterThan(st.TotalFee) {
		return shared.WrapError("student", "Save", shared.ErrValidation, "ledger constraint violated", nil)
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// AUTO-COMMIT REPOSITORIES
// ══════════════════════════════════════════════════════════════════════════════

type studentRepo struct {
	store *Store
}

func (r *studentRepo) Create(ctx context.Context, st *student.Student) error {
	if err := r.store.injected(OpCreate, st.ID.String()); err != nil {
		return err
	}
	if err := checkAmounts(st); err != nil {
		return err
	}

	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	id := st.ID.String()
	if _, ok := r.store.students[id]; ok {
		return shared.ErrStudentAlreadyExists
	}
	st.Version = 1
	r.store.students[id] = st.Clone()
	return nil
}

func (r *studentRepo) GetByID(ctx context.Context, id string) (*student.Student, error) {
	if err := r.store.injected(OpGet, id); err != nil {
		return nil, err
	}

	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	st, ok := r.store.students[id]
	if !ok {
		return nil, shared.ErrUnknownStudent
	}
	return st.Clone(), nil
}

func (r *studentRepo) GetForUpdate(ctx context.Context, id string) (*student.Student, error) {
	return r.GetByID(ctx, id)
}

func (r *studentRepo) Save(ctx context.Context, st *student.Student) error {
	id := st.ID.String()
	if err := r.store.injected(OpSave, id); err != nil {
		return err
	}

	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	current, ok := r.store.students[id]
	if !ok {
		return shared.ErrUnknownStudent
	}
	if err := checkUpdate(current, st); err != nil {
		return err
	}

	st.Version++
	st.UpdatedAt = time.Now().UTC()
	r.store.students[id] = st.Clone()
	return nil
}

func (r *studentRepo) List(ctx context.Context, opts student.ListOptions) ([]*student.Student, error) {
	if err := r.store.injected(OpListStore, ""); err != nil {
		return nil, err
	}

	r.store.mu.RLock()
	all := make([]*student.Student, 0, len(r.store.students))
	for _, st := range r.store.students {
		all = append(all, st.Clone())
	}
	r.store.mu.RUnlock()

	return page(filterStudents(all, opts), opts), nil
}

func (r *studentRepo) Count(ctx context.Context, opts student.ListOptions) (int, error) {
	list, err := r.List(ctx, opts.WithOffset(0).WithLimit(0))
	if err != nil {
		return 0, err
	}
	return len(list), nil
}

func (r *studentRepo) Exists(ctx context.Context, id string) (bool, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	_, ok := r.store.students[id]
	return ok, nil
}

type paymentRepo struct {
	store *Store
}

func (r *paymentRepo) Append(ctx context.Context, rec *ledger.PaymentRecord) error {
	id := rec.StudentID.String()
	if err := r.store.injected(OpAppend, id); err != nil {
		return err
	}

	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if _, ok := r.store.students[id]; !ok {
		return shared.ErrUnknownStudent
	}
	c := *rec
	r.store.payments[id] = append(r.store.payments[id], &c)
	return nil
}

func (r *paymentRepo) ListByStudent(ctx context.Context, studentID string, limit int) ([]*ledger.PaymentRecord, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	return newestFirst(r.store.payments[studentID], nil, limit), nil
}

// ══════════════════════════════════════════════════════════════════════════════
// LISTING HELPERS
// ══════════════════════════════════════════════════════════════════════════════

func filterStudents(all []*student.Student, opts student.ListOptions) []*student.Student {
	var ids map[string]bool
	if len(opts.IDs) > 0 {
		ids = make(map[string]bool, len(opts.IDs))
		for _, id := range opts.IDs {
			ids[id] = true
		}
	}

	out := all[:0]
	for _, st := range all {
		if ids != nil && !ids[st.ID.String()] {
			continue
		}
		if !st.MatchesSearch(opts.Search) {
			continue
		}
		if opts.OnlyWithDue && !st.TotalFee.GreaterThan(st.Paid) {
			continue
		}
		out = append(out, st)
	}

	sortStudents(out, opts.SortBy, opts.SortDesc)
	return out
}

func sortStudents(list []*student.Student, by string, desc bool) {
	less := func(a, b *student.Student) int {
		switch by {
		case "id":
			return strings.Compare(a.ID.String(), b.ID.String())
		case "admission_date":
			return a.AdmissionDate.Compare(b.AdmissionDate)
		case "due":
			return a.TotalFee.Sub(a.Paid).Cmp(b.TotalFee.Sub(b.Paid))
		case "paid":
			return a.Paid.Cmp(b.Paid)
		case "created_at":
			return a.CreatedAt.Compare(b.CreatedAt)
		default:
			return strings.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name))
		}
	}

	sort.SliceStable(list, func(i, j int) bool {
		c := less(list[i], list[j])
		if desc {
			c = -c
		}
		if c != 0 {
			return c < 0
		}
		return list[i].ID < list[j].ID
	})
}

func page(list []*student.Student, opts student.ListOptions) []*student.Student {
	if opts.Offset > 0 {
		if opts.Offset >= len(list) {
			return nil
		}
		list = list[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(list) {
		list = list[:opts.Limit]
	}
	return list
}

// newestFirst merges committed and pending records, newest first.
func newestFirst(committed, pending []*ledger.PaymentRecord, limit int) []*ledger.PaymentRecord {
	out := make([]*ledger.PaymentRecord, 0, len(committed)+len(pending))
	for i := len(pending) - 1; i >= 0; i-- {
		c := *pending[i]
		out = append(out, &c)
	}
	for i := len(committed) - 1; i >= 0; i-- {
		c := *committed[i]
		out = append(out, &c)
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

var (
	_ ledger.Store             = (*Store)(nil)
	_ ledger.UnitOfWorkFactory = (*Store)(nil)
)

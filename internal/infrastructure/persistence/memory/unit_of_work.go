package memory

import (
	"context"
	"time"

	"github.com/academy-hub/tuition-ledger/internal/domain/ledger"
	"github.com/academy-hub/tuition-ledger/internal/domain/shared"
	"github.com/academy-hub/tuition-ledger/internal/domain/student"
)

type stagedStudent struct {
	student *student.Student
	base    int64 // committed version when first staged, 0 for creates
	created bool
}

// Tx stages writes until Commit. Reads see staged state first.
type Tx struct {
	store    *Store
	staged   map[string]*stagedStudent
	order    []string
	payments []*ledger.PaymentRecord
	done     bool
}

func (u *Tx) Students() student.Repository      { return &txStudentRepo{u: u} }
func (u *Tx) Payments() ledger.PaymentRepository { return &txPaymentRepo{u: u} }

// Commit re-checks versions against the committed state and applies all
// staged writes under one lock, or none of them.
func (u *Tx) Commit(ctx context.Context) error {
	if u.done {
		return nil
	}
	u.done = true

	if err := ctx.Err(); err != nil {
		return shared.Persistence(OpCommit, err)
	}
	for _, id := range u.order {
		if err := u.store.injected(OpCommit, id); err != nil {
			return err
		}
	}
	if len(u.order) == 0 {
		if err := u.store.injected(OpCommit, ""); err != nil {
			return err
		}
	}

	u.store.mu.Lock()
	defer u.store.mu.Unlock()

	for _, id := range u.order {
		st := u.staged[id]
		current, exists := u.store.students[id]
		switch {
		case st.created && exists:
			return shared.ErrStudentAlreadyExists
		case !st.created && !exists:
			return shared.ErrUnknownStudent
		case !st.created && current.Version != st.base:
			return shared.ErrStaleStudent
		}
	}
	for _, rec := range u.payments {
		id := rec.StudentID.String()
		if _, ok := u.staged[id]; ok {
			continue
		}
		if _, ok := u.store.students[id]; !ok {
			return shared.ErrUnknownStudent
		}
	}

	for _, id := range u.order {
		u.store.students[id] = u.staged[id].student
	}
	for _, rec := range u.payments {
		id := rec.StudentID.String()
		u.store.payments[id] = append(u.store.payments[id], rec)
	}
	return nil
}

// Rollback discards staged writes. Safe to call after Commit.
func (u *Tx) Rollback(ctx context.Context) error {
	u.done = true
	u.staged = nil
	u.order = nil
	u.payments = nil
	return nil
}

func (u *Tx) lookup(id string) (*student.Student, bool) {
	if st, ok := u.staged[id]; ok {
		return st.student, true
	}
	u.store.mu.RLock()
	defer u.store.mu.RUnlock()
	st, ok := u.store.students[id]
	return st, ok
}

func (u *Tx) stage(st *student.Student, base int64, created bool) {
	id := st.ID.String()
	if prev, ok := u.staged[id]; ok {
		prev.student = st
		return
	}
	u.staged[id] = &stagedStudent{student: st, base: base, created: created}
	u.order = append(u.order, id)
}

// ══════════════════════════════════════════════════════════════════════════════
// TRANSACTIONAL REPOSITORIES
// ══════════════════════════════════════════════════════════════════════════════

type txStudentRepo struct {
	u *Tx
}

func (r *txStudentRepo) Create(ctx context.Context, st *student.Student) error {
	id := st.ID.String()
	if err := r.u.store.injected(OpCreate, id); err != nil {
		return err
	}
	if err := checkAmounts(st); err != nil {
		return err
	}
	if _, exists := r.u.lookup(id); exists {
		return shared.ErrStudentAlreadyExists
	}

	st.Version = 1
	r.u.stage(st.Clone(), 0, true)
	return nil
}

func (r *txStudentRepo) GetByID(ctx context.Context, id string) (*student.Student, error) {
	if err := r.u.store.injected(OpGet, id); err != nil {
		return nil, err
	}
	st, ok := r.u.lookup(id)
	if !ok {
		return nil, shared.ErrUnknownStudent
	}
	return st.Clone(), nil
}

func (r *txStudentRepo) GetForUpdate(ctx context.Context, id string) (*student.Student, error) {
	return r.GetByID(ctx, id)
}

func (r *txStudentRepo) Save(ctx context.Context, st *student.Student) error {
	id := st.ID.String()
	if err := r.u.store.injected(OpSave, id); err != nil {
		return err
	}

	current, ok := r.u.lookup(id)
	if !ok {
		return shared.ErrUnknownStudent
	}
	if err := checkUpdate(current, st); err != nil {
		return err
	}

	base := current.Version
	created := false
	if prev, ok := r.u.staged[id]; ok {
		base, created = prev.base, prev.created
	}

	st.Version++
	st.UpdatedAt = time.Now().UTC()
	r.u.stage(st.Clone(), base, created)
	return nil
}

func (r *txStudentRepo) List(ctx context.Context, opts student.ListOptions) ([]*student.Student, error) {
	all, err := (&studentRepo{store: r.u.store}).List(ctx, student.ListOptions{})
	if err != nil {
		return nil, err
	}

	byID := make(map[string]int, len(all))
	for i, st := range all {
		byID[st.ID.String()] = i
	}
	for _, id := range r.u.order {
		staged := r.u.staged[id].student.Clone()
		if i, ok := byID[id]; ok {
			all[i] = staged
		} else {
			all = append(all, staged)
		}
	}

	return page(filterStudents(all, opts), opts), nil
}

func (r *txStudentRepo) Count(ctx context.Context, opts student.ListOptions) (int, error) {
	list, err := r.List(ctx, opts.WithOffset(0).WithLimit(0))
	if err != nil {
		return 0, err
	}
	return len(list), nil
}

func (r *txStudentRepo) Exists(ctx context.Context, id string) (bool, error) {
	_, ok := r.u.lookup(id)
	return ok, nil
}

type txPaymentRepo struct {
	u *Tx
}

func (r *txPaymentRepo) Append(ctx context.Context, rec *ledger.PaymentRecord) error {
	id := rec.StudentID.String()
	if err := r.u.store.injected(OpAppend, id); err != nil {
		return err
	}
	if _, ok := r.u.lookup(id); !ok {
		return shared.ErrUnknownStudent
	}
	c := *rec
	r.u.payments = append(r.u.payments, &c)
	return nil
}

func (r *txPaymentRepo) ListByStudent(ctx context.Context, studentID string, limit int) ([]*ledger.PaymentRecord, error) {
	var pending []*ledger.PaymentRecord
	for _, rec := range r.u.payments {
		if rec.StudentID.String() == studentID {
			pending = append(pending, rec)
		}
	}

	r.u.store.mu.RLock()
	defer r.u.store.mu.RUnlock()
	return newestFirst(r.u.store.payments[studentID], pending, limit), nil
}

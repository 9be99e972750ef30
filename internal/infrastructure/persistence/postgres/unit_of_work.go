package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/academy-hub/tuition-ledger/internal/domain/ledger"
	"github.com/academy-hub/tuition-ledger/internal/domain/shared"
	"github.com/academy-hub/tuition-ledger/internal/domain/student"
)

// ══════════════════════════════════════════════════════════════════════════════
// UNIT OF WORK
// Одна транзакция на одного студента: поля леджера, график взносов и
// записи журнала фиксируются вместе или не фиксируются вовсе.
// ══════════════════════════════════════════════════════════════════════════════

// Store - реализация ledger.Store и ledger.UnitOfWorkFactory поверх пула.
type Store struct {
	conn     *Connection
	students *snapshotStudents
	payments *PaymentRepository
}

// NewStore создаёт хранилище леджера.
func NewStore(conn *Connection) *Store {
	return &Store{
		conn:     conn,
		students: &snapshotStudents{StudentRepository: NewStudentRepository(conn), conn: conn},
		payments: NewPaymentRepository(conn),
	}
}

// Students возвращает репозиторий студентов вне транзакции записи.
func (s *Store) Students() student.Repository { return s.students }

// Payments возвращает журнал платежей вне транзакции.
func (s *Store) Payments() ledger.PaymentRepository { return s.payments }

// WithTx выполняет fn в транзакции записи. Ошибки fn возвращаются как есть,
// сбой begin/commit становится shared.ErrPersistence.
func (s *Store) WithTx(ctx context.Context, fn func(uow ledger.UnitOfWork) error) error {
	return inTx(ctx, s.conn, LedgerTxOptions(), "uow", func(tx pgx.Tx) error {
		return fn(&unitOfWork{
			students: NewStudentRepository(tx),
			payments: NewPaymentRepository(tx),
		})
	})
}

type unitOfWork struct {
	students *StudentRepository
	payments *PaymentRepository
}

func (u *unitOfWork) Students() student.Repository      { return u.students }
func (u *unitOfWork) Payments() ledger.PaymentRepository { return u.payments }

// inTx отличает ошибку fn от сбоя самой транзакции.
func inTx(ctx context.Context, conn *Connection, opts TxOptions, op string, fn func(pgx.Tx) error) error {
	var fnErr error
	err := conn.WithTx(ctx, opts, func(tx pgx.Tx) error {
		fnErr = fn(tx)
		return fnErr
	})
	if err != nil && fnErr == nil {
		return shared.Persistence(op, err)
	}
	return err
}

// snapshotStudents читает строку студента и его взносы в одной read-only
// транзакции, чтобы запрос не увидел план от другой версии строки.
type snapshotStudents struct {
	*StudentRepository
	conn *Connection
}

func (r *snapshotStudents) GetByID(ctx context.Context, id string) (*student.Student, error) {
	var s *student.Student
	err := inTx(ctx, r.conn, ReadOnlyTxOptions(), "students.get", func(tx pgx.Tx) error {
		var err error
		s, err = NewStudentRepository(tx).GetByID(ctx, id)
		return err
	})
	return s, err
}

func (r *snapshotStudents) List(ctx context.Context, opts student.ListOptions) ([]*student.Student, error) {
	var list []*student.Student
	err := inTx(ctx, r.conn, ReadOnlyTxOptions(), "students.list", func(tx pgx.Tx) error {
		var err error
		list, err = NewStudentRepository(tx).List(ctx, opts)
		return err
	})
	return list, err
}

var (
	_ ledger.Store             = (*Store)(nil)
	_ ledger.UnitOfWorkFactory = (*Store)(nil)
	_ student.Repository       = (*snapshotStudents)(nil)
)

package ledger

import (
	"context"
	"time"

	"github.com/academy-hub/tuition-ledger/internal/domain/student"
)

// PaymentRepository is the append-only audit log.
type PaymentRepository interface {
	// Append stores a record. Records are never updated or deleted.
	Append(ctx context.Context, record *PaymentRecord) error

	// ListByStudent returns a student's records, newest first.
	ListByStudent(ctx context.Context, studentID string, limit int) ([]*PaymentRecord, error)
}

// UnitOfWork scopes the writes of one student: ledger fields, schedule and
// audit records commit together or not at all.
type UnitOfWork interface {
	// Students returns the student repository bound to the transaction.
	Students() student.Repository

	// Payments returns the payment log bound to the transaction.
	Payments() PaymentRepository
}

// UnitOfWorkFactory runs units of work.
type UnitOfWorkFactory interface {
	// WithTx runs fn in one transaction. It commits when fn returns nil and
	// rolls back otherwise; fn's error is returned unchanged.
	WithTx(ctx context.Context, fn func(uow UnitOfWork) error) error
}

// Store is the non-transactional read side.
type Store interface {
	Students() student.Repository
	Payments() PaymentRepository
}

// Locker serializes mutations of a single student across goroutines
// (or processes, for the redis implementation).
type Locker interface {
	// Lock blocks until the student's lock is held or ctx is done.
	// The returned function releases the lock.
	Lock(ctx context.Context, studentID string) (unlock func(), err error)
}

// SnapshotCache caches ledger snapshots for reads. Writers store the
// committed snapshot after commit.
type SnapshotCache interface {
	// Get returns (nil, nil) on a miss.
	Get(ctx context.Context, studentID string) (*Snapshot, error)

	// Set stores snap unless the cached snapshot has a higher Version, so a
	// reader that loaded the row before a concurrent commit cannot replace
	// the newer snapshot.
	Set(ctx context.Context, snap Snapshot, ttl time.Duration) error

	Invalidate(ctx context.Context, studentIDs ...string) error
}

package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/academy-hub/tuition-ledger/internal/domain/ledger"
	"github.com/academy-hub/tuition-ledger/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// PAYMENT LOG
// ══════════════════════════════════════════════════════════════════════════════

// PaymentRepository implements ledger.PaymentRepository. The table is
// append-only: there is no update or delete path, and a trigger enforces it.
type PaymentRepository struct {
	q Querier
}

// NewPaymentRepository creates a new PaymentRepository.
func NewPaymentRepository(q Querier) *PaymentRepository {
	return &PaymentRepository{q: q}
}

// Append stores a payment record.
func (r *PaymentRepository) Append(ctx context.Context, rec *ledger.PaymentRecord) error {
	query := `
		INSERT INTO payment_records (
			id, student_id, amount, payment_date, method, record_type,
			description, token, previous_due, remaining_due, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err := r.q.Exec(ctx, query,
		rec.ID,
		rec.StudentID.String(),
		rec.Amount,
		rec.Date,
		string(rec.Method),
		string(rec.Type),
		rec.Description,
		rec.Token,
		rec.PreviousDue,
		rec.RemainingDue,
		rec.CreatedAt,
	)
	if err != nil {
		if IsForeignKeyViolation(err) {
			return shared.ErrUnknownStudent
		}
		if IsUniqueViolation(err) {
			return shared.WrapError("payment", "Append", shared.ErrAlreadyExists, "payment record already stored", err)
		}
		return shared.Persistence("payments.append", err)
	}
	return nil
}

// ListByStudent returns a student's records, newest first.
// A non-positive limit returns the whole history.
func (r *PaymentRepository) ListByStudent(ctx context.Context, studentID string, limit int) ([]*ledger.PaymentRecord, error) {
	query := `
		SELECT id, student_id, amount, payment_date, method, record_type,
			   description, token, previous_due, remaining_due, created_at
		FROM payment_records
		WHERE student_id = $1
		ORDER BY created_at DESC, payment_date DESC
	`
	args := []any{studentID}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, shared.Persistence("payments.list", err)
	}
	return scanPaymentRecords(rows)
}

func scanPaymentRecords(rows pgx.Rows) ([]*ledger.PaymentRecord, error) {
	defer rows.Close()

	var records []*ledger.PaymentRecord
	for rows.Next() {
		var (
			rec              ledger.PaymentRecord
			studentID        string
			method, recordTy string
		)
		err := rows.Scan(
			&rec.ID,
			&studentID,
			&rec.Amount,
			&rec.Date,
			&method,
			&recordTy,
			&rec.Description,
			&rec.Token,
			&rec.PreviousDue,
			&rec.RemainingDue,
			&rec.CreatedAt,
		)
		if err != nil {
			return nil, shared.Persistence("payments.scan", err)
		}
		rec.StudentID = shared.StudentID(studentID)
		rec.Method = ledger.Method(method)
		rec.Type = ledger.RecordType(recordTy)
		records = append(records, &rec)
	}

	if err := rows.Err(); err != nil {
		return nil, shared.Persistence("payments.rows", err)
	}
	return records, nil
}

var _ ledger.PaymentRepository = (*PaymentRepository)(nil)

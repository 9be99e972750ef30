package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/academy-hub/tuition-ledger/internal/domain/cycle"
	"github.com/academy-hub/tuition-ledger/internal/domain/shared"
	"github.com/academy-hub/tuition-ledger/internal/domain/student"
)

// ══════════════════════════════════════════════════════════════════════════════
// STUDENT REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// StudentRepository implements student.Repository for PostgreSQL.
// It runs against either the pool or an open transaction.
type StudentRepository struct {
	q Querier
}

// NewStudentRepository creates a new StudentRepository.
func NewStudentRepository(q Querier) *StudentRepository {
	return &StudentRepository{q: q}
}

const studentColumns = `
	id, name, admission_date, cycle_label, total_fee, paid, last_payment_date,
	status_label, last_promoted_at, profile, version, created_at, updated_at`

// ─────────────────────────────────────────────────────────────────────────────
// CRUD Operations
// ─────────────────────────────────────────────────────────────────────────────

// Create inserts a student and its installment schedule.
// The caller must run it inside a transaction when a plan is present.
func (r *StudentRepository) Create(ctx context.Context, s *student.Student) error {
	query := `
		INSERT INTO students (
			id, name, admission_date, cycle_label, total_fee, paid, last_payment_date,
			status_label, last_promoted_at, profile, version, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 1, $11, $12)
	`

	profileJSON, err := marshalProfile(s.Profile)
	if err != nil {
		return err
	}

	_, err = r.q.Exec(ctx, query,
		s.ID.String(),
		s.Name,
		s.AdmissionDate,
		s.CycleLabel,
		s.TotalFee,
		s.Paid,
		s.LastPaymentDate,
		s.StatusLabel,
		s.LastPromotedAt,
		profileJSON,
		s.CreatedAt,
		s.UpdatedAt,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return shared.ErrStudentAlreadyExists
		}
		return shared.Persistence("students.create", err)
	}

	if err := r.writePlan(ctx, s.ID.String(), s.Plan); err != nil {
		return err
	}

	s.Version = 1
	return nil
}

// GetByID returns a student with its installment schedule.
func (r *StudentRepository) GetByID(ctx context.Context, id string) (*student.Student, error) {
	query := `SELECT ` + studentColumns + ` FROM students WHERE id = $1`
	return r.getOne(ctx, query, id)
}

// GetForUpdate locks the student row until the surrounding transaction ends.
func (r *StudentRepository) GetForUpdate(ctx context.Context, id string) (*student.Student, error) {
	query := `SELECT ` + studentColumns + ` FROM students WHERE id = $1 FOR UPDATE`
	return r.getOne(ctx, query, id)
}

// Save writes the engine-owned fields guarded by the version column.
// admission_date is not part of the statement.
func (r *StudentRepository) Save(ctx context.Context, s *student.Student) error {
	query := `
		UPDATE students SET
			name = $2,
			cycle_label = $3,
			total_fee = $4,
			paid = $5,
			last_payment_date = $6,
			status_label = $7,
			last_promoted_at = $8,
			profile = $9,
			version = version + 1,
			updated_at = $10
		WHERE id = $1 AND version = $11
	`

	profileJSON, err := marshalProfile(s.Profile)
	if err != nil {
		return err
	}

	updatedAt := time.Now().UTC()
	result, err := r.q.Exec(ctx, query,
		s.ID.String(),
		s.Name,
		s.CycleLabel,
		s.TotalFee,
		s.Paid,
		s.LastPaymentDate,
		s.StatusLabel,
		s.LastPromotedAt,
		profileJSON,
		updatedAt,
		s.Version,
	)
	if err != nil {
		if IsCheckViolation(err) {
			return shared.WrapError("student", "Save", shared.ErrValidation, "ledger constraint violated", err)
		}
		return shared.Persistence("students.save", err)
	}

	if result.RowsAffected() == 0 {
		exists, err := r.Exists(ctx, s.ID.String())
		if err != nil {
			return err
		}
		if !exists {
			return shared.ErrUnknownStudent
		}
		return shared.ErrStaleStudent
	}

	if err := r.writePlan(ctx, s.ID.String(), s.Plan); err != nil {
		return err
	}

	s.Version++
	s.UpdatedAt = updatedAt
	return nil
}

// Exists checks if a student exists.
func (r *StudentRepository) Exists(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := r.q.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM students WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return false, shared.Persistence("students.exists", err)
	}
	return exists, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Listing
// ─────────────────────────────────────────────────────────────────────────────

// List returns students matching the options, with their schedules.
func (r *StudentRepository) List(ctx context.Context, opts student.ListOptions) ([]*student.Student, error) {
	where, args := buildStudentFilter(opts)
	query := `SELECT ` + studentColumns + ` FROM students` + where + buildOrderBy(opts)

	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, shared.Persistence("students.list", err)
	}
	students, err := scanStudents(rows)
	if err != nil {
		return nil, err
	}

	if err := r.attachPlans(ctx, students); err != nil {
		return nil, err
	}
	return students, nil
}

// Count returns the number of students matching the filter.
func (r *StudentRepository) Count(ctx context.Context, opts student.ListOptions) (int, error) {
	where, args := buildStudentFilter(opts)

	var count int
	if err := r.q.QueryRow(ctx, `SELECT COUNT(*) FROM students`+where, args...).Scan(&count); err != nil {
		return 0, shared.Persistence("students.count", err)
	}
	return count, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// INSTALLMENTS
// ══════════════════════════════════════════════════════════════════════════════

// writePlan upserts the schedule by position. Paid flags only move forward:
// the OR below keeps a settled row settled, and a trigger rejects the rest.
func (r *StudentRepository) writePlan(ctx context.Context, studentID string, plan student.InstallmentPlan) error {
	upsert := `
		INSERT INTO installments (student_id, position, label, cycle_year, cycle_month, amount, paid, paid_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (student_id, position) DO UPDATE SET
			label = EXCLUDED.label,
			cycle_year = EXCLUDED.cycle_year,
			cycle_month = EXCLUDED.cycle_month,
			amount = EXCLUDED.amount,
			paid = installments.paid OR EXCLUDED.paid,
			paid_date = COALESCE(installments.paid_date, EXCLUDED.paid_date)
	`

	for i, inst := range plan {
		_, err := r.q.Exec(ctx, upsert,
			studentID,
			i,
			inst.Label,
			inst.Cycle.Year,
			int(inst.Cycle.Month),
			inst.Amount,
			inst.Paid,
			inst.PaidDate,
		)
		if err != nil {
			if IsRaisedException(err) {
				return shared.WrapError("installment", "Save", shared.ErrAlreadyProcessed, "settled installment cannot be reopened", err)
			}
			return shared.Persistence("installments.upsert", err)
		}
	}

	if _, err := r.q.Exec(ctx, `DELETE FROM installments WHERE student_id = $1 AND position >= $2`, studentID, len(plan)); err != nil {
		return shared.Persistence("installments.trim", err)
	}
	return nil
}

// loadPlan reads one student's schedule in position order.
func (r *StudentRepository) loadPlan(ctx context.Context, studentID string) (student.InstallmentPlan, error) {
	plans, err := r.loadPlans(ctx, []string{studentID})
	if err != nil {
		return nil, err
	}
	return plans[studentID], nil
}

// loadPlans reads the schedules of several students in one round trip.
func (r *StudentRepository) loadPlans(ctx context.Context, ids []string) (map[string]student.InstallmentPlan, error) {
	query := `
		SELECT student_id, label, cycle_year, cycle_month, amount, paid, paid_date
		FROM installments
		WHERE student_id = ANY($1)
		ORDER BY student_id, position
	`

	rows, err := r.q.Query(ctx, query, ids)
	if err != nil {
		return nil, shared.Persistence("installments.list", err)
	}
	defer rows.Close()

	plans := make(map[string]student.InstallmentPlan, len(ids))
	for rows.Next() {
		var (
			studentID string
			inst      student.Installment
			year      int
			month     int
		)
		if err := rows.Scan(&studentID, &inst.Label, &year, &month, &inst.Amount, &inst.Paid, &inst.PaidDate); err != nil {
			return nil, shared.Persistence("installments.scan", err)
		}
		c, err := cycle.New(time.Month(month), year)
		if err != nil {
			return nil, fmt.Errorf("installment of %s: %w", studentID, err)
		}
		inst.Cycle = c
		plans[studentID] = append(plans[studentID], inst)
	}

	if err := rows.Err(); err != nil {
		return nil, shared.Persistence("installments.rows", err)
	}
	return plans, nil
}

func (r *StudentRepository) attachPlans(ctx context.Context, students []*student.Student) error {
	if len(students) == 0 {
		return nil
	}
	ids := make([]string, len(students))
	for i, s := range students {
		ids[i] = s.ID.String()
	}

	plans, err := r.loadPlans(ctx, ids)
	if err != nil {
		return err
	}
	for _, s := range students {
		s.Plan = plans[s.ID.String()]
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPER METHODS
// ══════════════════════════════════════════════════════════════════════════════

func (r *StudentRepository) getOne(ctx context.Context, query, id string) (*student.Student, error) {
	s, err := scanStudent(r.q.QueryRow(ctx, query, id))
	if err != nil {
		return nil, err
	}

	plan, err := r.loadPlan(ctx, id)
	if err != nil {
		return nil, err
	}
	s.Plan = plan
	return s, nil
}

// rowScanner is satisfied by both pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanStudentRow(row rowScanner) (*student.Student, error) {
	var (
		s           student.Student
		id          string
		profileJSON []byte
	)

	err := row.Scan(
		&id,
		&s.Name,
		&s.AdmissionDate,
		&s.CycleLabel,
		&s.TotalFee,
		&s.Paid,
		&s.LastPaymentDate,
		&s.StatusLabel,
		&s.LastPromotedAt,
		&profileJSON,
		&s.Version,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	s.ID = shared.StudentID(id)
	if len(profileJSON) > 0 {
		if err := json.Unmarshal(profileJSON, &s.Profile); err != nil {
			return nil, fmt.Errorf("failed to unmarshal profile of %s: %w", id, err)
		}
	}
	return &s, nil
}

// scanStudent scans a single student from a row.
func scanStudent(row pgx.Row) (*student.Student, error) {
	s, err := scanStudentRow(row)
	if IsNoRows(err) {
		return nil, shared.ErrUnknownStudent
	}
	if err != nil {
		return nil, shared.Persistence("students.scan", err)
	}
	return s, nil
}

// scanStudents scans multiple students from rows.
func scanStudents(rows pgx.Rows) ([]*student.Student, error) {
	defer rows.Close()

	var students []*student.Student
	for rows.Next() {
		s, err := scanStudentRow(rows)
		if err != nil {
			return nil, shared.Persistence("students.scan", err)
		}
		students = append(students, s)
	}

	if err := rows.Err(); err != nil {
		return nil, shared.Persistence("students.rows", err)
	}
	return students, nil
}

// buildStudentFilter builds the WHERE clause and its positional args.
func buildStudentFilter(opts student.ListOptions) (string, []any) {
	var (
		conditions []string
		args       []any
	)

	if q := strings.ToLower(strings.TrimSpace(opts.Search)); q != "" {
		args = append(args, "%"+escapeLike(q)+"%")
		n := len(args)
		conditions = append(conditions, fmt.Sprintf("(LOWER(name) LIKE $%d OR LOWER(id) LIKE $%d)", n, n))
	}
	if len(opts.IDs) > 0 {
		args = append(args, opts.IDs)
		conditions = append(conditions, fmt.Sprintf("id = ANY($%d)", len(args)))
	}
	if opts.OnlyWithDue {
		conditions = append(conditions, "paid < total_fee")
	}

	if len(conditions) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

// buildOrderBy builds ORDER BY clause from a whitelist.
func buildOrderBy(opts student.ListOptions) string {
	orderField := "name"
	validFields := map[string]string{
		"name":           "name",
		"id":             "id",
		"admission_date": "admission_date",
		"due":            "(total_fee - paid)",
		"paid":           "paid",
		"created_at":     "created_at",
	}

	if field, ok := validFields[opts.SortBy]; ok {
		orderField = field
	}

	direction := "ASC"
	if opts.SortDesc {
		direction = "DESC"
	}

	return fmt.Sprintf(" ORDER BY %s %s, id ASC", orderField, direction)
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func marshalProfile(profile map[string]string) ([]byte, error) {
	if profile == nil {
		return []byte("{}"), nil
	}
	data, err := json.Marshal(profile)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal profile: %w", err)
	}
	return data, nil
}

var _ student.Repository = (*StudentRepository)(nil)

package ledger

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/academy-hub/tuition-ledger/internal/domain/shared"
	"github.com/academy-hub/tuition-ledger/internal/domain/student"
	"github.com/academy-hub/tuition-ledger/pkg/timeutil"
)

// PaymentInput is a manual payment to record.
type PaymentInput struct {
	Amount      decimal.Decimal
	Date        time.Time
	Method      Method
	Description string
}

// Engine applies payments and promotions to a single student. It holds no
// state besides configuration and is safe for concurrent use; callers
// serialize access per student.
type Engine struct {
	policy       Policy
	tokens       TokenGenerator
	rejectFuture bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithTokenGenerator replaces DefaultToken.
func WithTokenGenerator(gen TokenGenerator) Option {
	return func(e *Engine) {
		if gen != nil {
			e.tokens = gen
		}
	}
}

// WithFutureDateCheck rejects payments dated after today.
func WithFutureDateCheck(enabled bool) Option {
	return func(e *Engine) {
		e.rejectFuture = enabled
	}
}

// NewEngine creates an Engine.
func NewEngine(policy Policy, opts ...Option) *Engine {
	e := &Engine{policy: policy, tokens: DefaultToken}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Policy returns the classification policy in use.
func (e *Engine) Policy() Policy {
	return e.policy
}

// RecordPayment applies a manual payment to s. On error s is left unchanged.
func (e *Engine) RecordPayment(s *student.Student, in PaymentInput, now time.Time) (Snapshot, *PaymentRecord, error) {
	if in.Method == MethodInstallmentSettlement {
		return Snapshot{}, nil, fmt.Errorf("%w: %s is reserved for promotion", shared.ErrInvalidMethod, in.Method)
	}
	method := in.Method
	if method == "" {
		method = MethodCash
	}

	date := in.Date
	if date.IsZero() {
		date = now
	}
	if e.rejectFuture && timeutil.IsFuture(date, now) {
		return Snapshot{}, nil, shared.ErrFuturePaymentDate
	}

	prevDue := Due(s)
	snap, err := e.policy.ApplyCredit(s, in.Amount, date, now)
	if err != nil {
		return Snapshot{}, nil, err
	}

	desc := strings.TrimSpace(in.Description)
	if desc == "" {
		desc = fmt.Sprintf("Fee payment (%s)", method)
	}

	rec := newRecord(s.ID, in.Amount, date, method, RecordPayment, desc,
		e.tokens(timeutil.Local(date)), prevDue, snap.Due, now)
	return snap, rec, nil
}

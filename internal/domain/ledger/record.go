package ledger

import (
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/academy-hub/tuition-ledger/internal/domain/shared"
)

// Method is how a payment was made.
type Method string

const (
	MethodCash   Method = "cash"
	MethodBank   Method = "bank"
	MethodMobile Method = "mobile"
	MethodCard   Method = "card"
	MethodCheque Method = "cheque"

	// MethodInstallmentSettlement is reserved for promotion settlements.
	MethodInstallmentSettlement Method = "installment-settlement"
)

// ParseMethod normalizes a method accepted for manual payments.
func ParseMethod(s string) (Method, error) {
	m := Method(strings.ToLower(strings.TrimSpace(s)))
	switch m {
	case MethodCash, MethodBank, MethodMobile, MethodCard, MethodCheque:
		return m, nil
	case "":
		return MethodCash, nil
	}
	return "", fmt.Errorf("%w: %q", shared.ErrInvalidMethod, s)
}

// RecordType distinguishes manual payments from automatic settlements.
type RecordType string

const (
	RecordPayment               RecordType = "payment"
	RecordInstallmentSettlement RecordType = "installment-settlement"
)

// PaymentRecord is one entry of the append-only audit log.
// Records are never mutated or deleted once appended.
type PaymentRecord struct {
	ID           uuid.UUID
	StudentID    shared.StudentID
	Amount       decimal.Decimal
	Date         time.Time
	Method       Method
	Type         RecordType
	Description  string
	Token        string
	PreviousDue  decimal.Decimal
	RemainingDue decimal.Decimal
	CreatedAt    time.Time
}

// TokenGenerator produces transaction tokens.
type TokenGenerator func(at time.Time) string

// DefaultToken returns "TXN" + local timestamp + 4 random digits.
//
// Tokens are human-readable receipt numbers and are only weakly unique:
// two payments in the same second can collide with probability 1/10000.
// Nothing deduplicates on them. PaymentRecord.ID is the unique key.
func DefaultToken(at time.Time) string {
	return fmt.Sprintf("TXN%s%04d", at.Format("20060102150405"), rand.IntN(10000))
}

func newRecord(id shared.StudentID, amount decimal.Decimal, date time.Time, method Method,
	typ RecordType, description, token string, prevDue, remaining decimal.Decimal, now time.Time) *PaymentRecord {
	return &PaymentRecord{
		ID:           uuid.New(),
		StudentID:    id,
		Amount:       amount,
		Date:         date,
		Method:       method,
		Type:         typ,
		Description:  description,
		Token:        token,
		PreviousDue:  prevDue,
		RemainingDue: remaining,
		CreatedAt:    now,
	}
}

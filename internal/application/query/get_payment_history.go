package query

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/academy-hub/tuition-ledger/internal/domain/ledger"
	"github.com/academy-hub/tuition-ledger/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET PAYMENT HISTORY QUERY
// Журнал платежей и погашений студента, новые записи первыми.
// ══════════════════════════════════════════════════════════════════════════════

// MaxHistoryLimit - верхняя граница Limit.
const MaxHistoryLimit = 500

// GetPaymentHistoryQuery содержит параметры запроса.
type GetPaymentHistoryQuery struct {
	StudentID string

	// Limit - сколько записей вернуть. 0 - MaxHistoryLimit.
	Limit int
}

// PaymentRecordDTO - запись журнала.
type PaymentRecordDTO struct {
	ID           string            `json:"id"`
	Amount       decimal.Decimal   `json:"amount"`
	Date         time.Time         `json:"date"`
	Method       ledger.Method     `json:"method"`
	Type         ledger.RecordType `json:"type"`
	Description  string            `json:"description"`
	Token        string            `json:"token"`
	PreviousDue  decimal.Decimal   `json:"previous_due"`
	RemainingDue decimal.Decimal   `json:"remaining_due"`
	CreatedAt    time.Time         `json:"created_at"`
}

// NewPaymentRecordDTO converts a domain record.
func NewPaymentRecordDTO(r *ledger.PaymentRecord) PaymentRecordDTO {
	return PaymentRecordDTO{
		ID:           r.ID.String(),
		Amount:       r.Amount,
		Date:         r.Date,
		Method:       r.Method,
		Type:         r.Type,
		Description:  r.Description,
		Token:        r.Token,
		PreviousDue:  r.PreviousDue,
		RemainingDue: r.RemainingDue,
		CreatedAt:    r.CreatedAt,
	}
}

// PaymentHistoryDTO - журнал студента.
type PaymentHistoryDTO struct {
	StudentID string             `json:"student_id"`
	Records   []PaymentRecordDTO `json:"records"`
}

// GetPaymentHistoryHandler обрабатывает GetPaymentHistoryQuery.
type GetPaymentHistoryHandler struct {
	store ledger.Store
}

// NewGetPaymentHistoryHandler создаёт обработчик.
func NewGetPaymentHistoryHandler(deps Dependencies) *GetPaymentHistoryHandler {
	return &GetPaymentHistoryHandler{store: deps.Store}
}

// Handle возвращает журнал. Неизвестный студент - shared.ErrUnknownStudent,
// а не пустой список.
func (h *GetPaymentHistoryHandler) Handle(ctx context.Context, q GetPaymentHistoryQuery) (*PaymentHistoryDTO, error) {
	if _, err := shared.NewStudentID(q.StudentID); err != nil {
		return nil, err
	}
	limit := q.Limit
	if limit <= 0 || limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}

	exists, err := h.store.Students().Exists(ctx, q.StudentID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, shared.ErrUnknownStudent
	}

	records, err := h.store.Payments().ListByStudent(ctx, q.StudentID, limit)
	if err != nil {
		return nil, err
	}

	dto := &PaymentHistoryDTO{
		StudentID: q.StudentID,
		Records:   make([]PaymentRecordDTO, 0, len(records)),
	}
	for _, r := range records {
		dto.Records = append(dto.Records, NewPaymentRecordDTO(r))
	}
	return dto, nil
}

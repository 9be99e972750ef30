package query

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/academy-hub/tuition-ledger/internal/domain/ledger"
	"github.com/academy-hub/tuition-ledger/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET INSTALLMENT SCHEDULE QUERY
// График взносов студента с отметкой следующего неоплаченного взноса.
// ══════════════════════════════════════════════════════════════════════════════

// GetInstallmentScheduleQuery содержит параметры запроса.
type GetInstallmentScheduleQuery struct {
	StudentID string
}

// InstallmentDTO - один взнос графика.
type InstallmentDTO struct {
	Position int             `json:"position"`
	Label    string          `json:"label"`
	Cycle    string          `json:"cycle"`
	Amount   decimal.Decimal `json:"amount"`
	Paid     bool            `json:"paid"`
	PaidDate *time.Time      `json:"paid_date,omitempty"`

	// Next - первый неоплаченный взнос по порядку графика.
	Next bool `json:"next"`
}

// InstallmentScheduleDTO - график взносов.
type InstallmentScheduleDTO struct {
	StudentID    string           `json:"student_id"`
	CurrentCycle string           `json:"current_cycle"`
	Installments []InstallmentDTO `json:"installments"`

	// NextUnpaid - позиция следующего взноса, -1 если все погашены или графика нет.
	NextUnpaid int `json:"next_unpaid"`

	Scheduled   decimal.Decimal `json:"scheduled"`
	Settled     decimal.Decimal `json:"settled"`
	Outstanding decimal.Decimal `json:"outstanding"`
}

// GetInstallmentScheduleHandler обрабатывает GetInstallmentScheduleQuery.
type GetInstallmentScheduleHandler struct {
	store ledger.Store
}

// NewGetInstallmentScheduleHandler создаёт обработчик.
func NewGetInstallmentScheduleHandler(deps Dependencies) *GetInstallmentScheduleHandler {
	return &GetInstallmentScheduleHandler{store: deps.Store}
}

// Handle возвращает график взносов студента.
func (h *GetInstallmentScheduleHandler) Handle(ctx context.Context, q GetInstallmentScheduleQuery) (*InstallmentScheduleDTO, error) {
	if _, err := shared.NewStudentID(q.StudentID); err != nil {
		return nil, err
	}

	s, err := h.store.Students().GetByID(ctx, q.StudentID)
	if err != nil {
		return nil, err
	}

	next := ledger.NextUnpaid(s.Plan)
	dto := &InstallmentScheduleDTO{
		StudentID:    s.ID.String(),
		CurrentCycle: s.Cycle().String(),
		Installments: make([]InstallmentDTO, 0, len(s.Plan)),
		NextUnpaid:   next,
		Scheduled:    decimal.Zero,
		Settled:      decimal.Zero,
		Outstanding:  decimal.Zero,
	}

	for i, inst := range s.Plan {
		dto.Installments = append(dto.Installments, InstallmentDTO{
			Position: i,
			Label:    inst.Label,
			Cycle:    inst.Cycle.String(),
			Amount:   inst.Amount,
			Paid:     inst.Paid,
			PaidDate: inst.PaidDate,
			Next:     i == next,
		})

		dto.Scheduled = dto.Scheduled.Add(inst.Amount)
		if inst.Paid {
			dto.Settled = dto.Settled.Add(inst.Amount)
		} else {
			dto.Outstanding = dto.Outstanding.Add(inst.Amount)
		}
	}

	return dto, nil
}

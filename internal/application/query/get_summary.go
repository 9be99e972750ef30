package query

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/academy-hub/tuition-ledger/internal/domain/cycle"
	"github.com/academy-hub/tuition-ledger/internal/domain/ledger"
	"github.com/academy-hub/tuition-ledger/internal/domain/student"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET SUMMARY QUERY
// Сводка по всем студентам или по одному циклу: суммы и количество по статусам.
// ══════════════════════════════════════════════════════════════════════════════

// GetSummaryQuery содержит параметры запроса.
type GetSummaryQuery struct {
	// Cycle - метка цикла ("Feb-2025", "unassigned"). Пустая - все студенты.
	Cycle string
}

// SummaryDTO - сводка.
type SummaryDTO struct {
	Cycle          string                `json:"cycle,omitempty"`
	Students       int                   `json:"students"`
	TotalFee       decimal.Decimal       `json:"total_fee"`
	TotalPaid      decimal.Decimal       `json:"total_paid"`
	TotalDue       decimal.Decimal       `json:"total_due"`
	TotalOverdue   decimal.Decimal       `json:"total_overdue"`
	CountsByStatus map[ledger.Status]int `json:"counts_by_status"`
	AsOf           time.Time             `json:"as_of"`
}

// GetSummaryHandler обрабатывает GetSummaryQuery.
type GetSummaryHandler struct {
	store  ledger.Store
	policy ledger.Policy
	clock  func() time.Time
}

// NewGetSummaryHandler создаёт обработчик.
func NewGetSummaryHandler(deps Dependencies) *GetSummaryHandler {
	deps = deps.normalized()
	return &GetSummaryHandler{store: deps.Store, policy: deps.Policy, clock: deps.Clock}
}

// Handle считает сводку.
func (h *GetSummaryHandler) Handle(ctx context.Context, q GetSummaryQuery) (*SummaryDTO, error) {
	var (
		filter   cycle.Cycle
		filtered bool
	)
	if label := strings.TrimSpace(q.Cycle); label != "" {
		c, err := cycle.Parse(label)
		if err != nil {
			return nil, err
		}
		filter, filtered = c, true
	}

	students, err := h.store.Students().List(ctx, student.DefaultListOptions())
	if err != nil {
		return nil, err
	}

	// Метка цикла хранится в исходном виде, поэтому сравниваем
	// уже разобранные циклы, а не строки.
	if filtered {
		kept := students[:0]
		for _, s := range students {
			if s.Cycle() == filter {
				kept = append(kept, s)
			}
		}
		students = kept
	}

	now := h.clock()
	sum := h.policy.Summarize(students, now)

	dto := &SummaryDTO{
		Students:       sum.Students,
		TotalFee:       sum.TotalFee,
		TotalPaid:      sum.TotalPaid,
		TotalDue:       sum.TotalDue,
		TotalOverdue:   sum.TotalOverdue,
		CountsByStatus: sum.CountsByStatus,
		AsOf:           now,
	}
	if filtered {
		dto.Cycle = filter.String()
	}
	return dto, nil
}

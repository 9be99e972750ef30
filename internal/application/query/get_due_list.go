package query

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/academy-hub/tuition-ledger/internal/domain/ledger"
	"github.com/academy-hub/tuition-ledger/internal/domain/shared"
	"github.com/academy-hub/tuition-ledger/internal/domain/student"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET DUE LIST QUERY
// Список должников с фильтром по статусу и поиском по имени или ID.
// Студенты со статусом Paid в список не попадают ни при каком фильтре.
// ══════════════════════════════════════════════════════════════════════════════

// GetDueListQuery содержит параметры запроса.
type GetDueListQuery struct {
	// Filter - all, overdue, partial или unpaid. Пустой - all.
	Filter string

	// Search - подстрока имени или ID.
	Search string

	// Page и PageSize - пагинация результата.
	Page     int
	PageSize int
}

// DueEntryDTO - строка списка должников.
type DueEntryDTO struct {
	StudentID string          `json:"student_id"`
	Name      string          `json:"name"`
	Cycle     string          `json:"cycle"`
	Total     decimal.Decimal `json:"total"`
	Paid      decimal.Decimal `json:"paid"`
	Due       decimal.Decimal `json:"due"`
	Status    ledger.Status   `json:"status"`
}

// DueListDTO - страница списка должников.
type DueListDTO struct {
	Filter  ledger.DueFilter `json:"filter"`
	Entries []DueEntryDTO    `json:"entries"`

	// TotalCount и TotalDue считаются по всему отфильтрованному списку, не по странице.
	TotalCount int             `json:"total_count"`
	TotalDue   decimal.Decimal `json:"total_due"`

	Page     int       `json:"page"`
	PageSize int       `json:"page_size"`
	AsOf     time.Time `json:"as_of"`
}

// GetDueListHandler обрабатывает GetDueListQuery.
type GetDueListHandler struct {
	store  ledger.Store
	policy ledger.Policy
	clock  func() time.Time
}

// NewGetDueListHandler создаёт обработчик.
func NewGetDueListHandler(deps Dependencies) *GetDueListHandler {
	deps = deps.normalized()
	return &GetDueListHandler{store: deps.Store, policy: deps.Policy, clock: deps.Clock}
}

// Handle возвращает список должников, отсортированный по имени.
func (h *GetDueListHandler) Handle(ctx context.Context, q GetDueListQuery) (*DueListDTO, error) {
	filter, err := ledger.ParseDueFilter(q.Filter)
	if err != nil {
		return nil, err
	}
	page := shared.NewPagination(q.Page, q.PageSize)

	// Статус зависит от времени, поэтому фильтруем после классификации,
	// а в хранилище отсекаем только полностью оплативших.
	opts := student.DefaultListOptions().WithDueOnly().WithSearch(q.Search)
	students, err := h.store.Students().List(ctx, opts)
	if err != nil {
		return nil, err
	}

	now := h.clock()
	entries := h.policy.DueList(students, filter, q.Search, now)

	dto := &DueListDTO{
		Filter:     filter,
		Entries:    make([]DueEntryDTO, 0, page.Limit()),
		TotalCount: len(entries),
		TotalDue:   decimal.Zero,
		Page:       page.Page,
		PageSize:   page.Limit(),
		AsOf:       now,
	}
	for _, e := range entries {
		dto.TotalDue = dto.TotalDue.Add(e.Due)
	}

	start := page.Offset()
	if start > len(entries) {
		start = len(entries)
	}
	end := start + page.Limit()
	if end > len(entries) {
		end = len(entries)
	}
	for _, e := range entries[start:end] {
		dto.Entries = append(dto.Entries, DueEntryDTO{
			StudentID: e.StudentID.String(),
			Name:      e.Name,
			Cycle:     e.Cycle,
			Total:     e.Total,
			Paid:      e.Paid,
			Due:       e.Due,
			Status:    e.Status,
		})
	}

	return dto, nil
}

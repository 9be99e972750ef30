package query

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/academy-hub/tuition-ledger/internal/domain/ledger"
	"github.com/academy-hub/tuition-ledger/internal/domain/shared"
	"github.com/academy-hub/tuition-ledger/pkg/circuitbreaker"
	"github.com/academy-hub/tuition-ledger/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET LEDGER QUERY
// Текущий леджер студента: total, paid, due, статус. Read-through через кэш
// снимков, если он подключён.
// ══════════════════════════════════════════════════════════════════════════════

// GetLedgerQuery содержит параметры запроса.
type GetLedgerQuery struct {
	StudentID string
}

// Validate проверяет параметры.
func (q GetLedgerQuery) Validate() error {
	if _, err := shared.NewStudentID(q.StudentID); err != nil {
		return err
	}
	return nil
}

// LedgerDTO - леджер студента.
type LedgerDTO struct {
	StudentID string          `json:"student_id"`
	Total     decimal.Decimal `json:"total"`
	Paid      decimal.Decimal `json:"paid"`
	Due       decimal.Decimal `json:"due"`
	Status    ledger.Status   `json:"status"`
	AsOf      time.Time       `json:"as_of"`

	// FromCache - снимок взят из кэша.
	FromCache bool `json:"from_cache"`
}

func newLedgerDTO(s ledger.Snapshot, fromCache bool) *LedgerDTO {
	return &LedgerDTO{
		StudentID: s.StudentID.String(),
		Total:     s.Total,
		Paid:      s.Paid,
		Due:       s.Due,
		Status:    s.Status,
		AsOf:      s.AsOf,
		FromCache: fromCache,
	}
}

// GetLedgerHandler обрабатывает GetLedgerQuery.
type GetLedgerHandler struct {
	store  ledger.Store
	policy ledger.Policy
	cache  ledger.SnapshotCache
	ttl    time.Duration
	log    *logger.Logger
	clock  func() time.Time
}

// NewGetLedgerHandler создаёт обработчик. ttl <= 0 - TTL кэша по умолчанию.
func NewGetLedgerHandler(deps Dependencies, ttl time.Duration) *GetLedgerHandler {
	deps = deps.normalized()
	return &GetLedgerHandler{
		store:  deps.Store,
		policy: deps.Policy,
		cache:  deps.Cache,
		ttl:    ttl,
		log:    deps.Logger.With(logger.Component("get_ledger")),
		clock:  deps.Clock,
	}
}

// Handle возвращает леджер студента.
func (h *GetLedgerHandler) Handle(ctx context.Context, q GetLedgerQuery) (*LedgerDTO, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	if h.cache != nil {
		snap, err := h.cache.Get(ctx, q.StudentID)
		switch {
		case err != nil:
			// Кэш необязателен: при сбое читаем из хранилища.
			h.log.Warn("snapshot cache read failed", logger.StudentID(q.StudentID), logger.Err(err))
		case snap != nil:
			return newLedgerDTO(*snap, true), nil
		}
	}

	s, err := h.store.Students().GetByID(ctx, q.StudentID)
	if err != nil {
		return nil, err
	}
	snap := h.policy.Recompute(s, h.clock())

	if h.cache != nil {
		err := h.cache.Set(ctx, snap, h.ttl)
		if err != nil && !errors.Is(err, context.Canceled) && !circuitbreaker.IsRejected(err) {
			h.log.Warn("snapshot cache write failed", logger.StudentID(q.StudentID), logger.Err(err))
		}
	}

	return newLedgerDTO(snap, false), nil
}

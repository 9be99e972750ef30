package command

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/academy-hub/tuition-ledger/internal/domain/ledger"
	"github.com/academy-hub/tuition-ledger/internal/domain/shared"
	"github.com/academy-hub/tuition-ledger/internal/domain/student"
	"github.com/academy-hub/tuition-ledger/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// REFRESH STATUSES COMMAND
// Пересчитывает сохранённую метку статуса: со временем Partial/Unpaid
// переходят в Overdue без каких-либо платежей. Меняется только StatusLabel.
// ══════════════════════════════════════════════════════════════════════════════

// RefreshStatusesCommand - какие метки пересчитать.
type RefreshStatusesCommand struct {
	// StudentIDs - пусто значит все студенты.
	StudentIDs []string `validate:"max=10000,dive,required,max=64"`
}

// StatusChange - изменившаяся метка.
type StatusChange struct {
	StudentID string
	Old       string
	New       ledger.Status
}

// RefreshStatusesResult - итог пересчёта.
type RefreshStatusesResult struct {
	Scanned int
	Changed []StatusChange
	Failed  int
}

// RefreshStatusesHandler обрабатывает RefreshStatusesCommand.
type RefreshStatusesHandler struct {
	store       ledger.Store
	tx          studentTx
	policy      ledger.Policy
	snapshots   snapshotWriter
	events      shared.EventPublisher
	log         *logger.Logger
	clock       Clock
	concurrency int
}

// RefreshStatusesHandlerConfig - настройки обработчика.
type RefreshStatusesHandlerConfig struct {
	LockTimeout time.Duration
	Clock       Clock
	Concurrency int
}

// DefaultRefreshStatusesHandlerConfig возвращает настройки по умолчанию.
func DefaultRefreshStatusesHandlerConfig() RefreshStatusesHandlerConfig {
	return RefreshStatusesHandlerConfig{LockTimeout: DefaultLockTimeout, Concurrency: 4}
}

// NewRefreshStatusesHandler создаёт обработчик. store используется для
// выборки кандидатов без блокировок.
func NewRefreshStatusesHandler(store ledger.Store, deps Dependencies, config RefreshStatusesHandlerConfig) *RefreshStatusesHandler {
	deps = deps.normalized()
	if config.Concurrency < 1 {
		config.Concurrency = 1
	}
	return &RefreshStatusesHandler{
		store:       store,
		tx:          newStudentTx(deps, config.LockTimeout),
		policy:      deps.Engine.Policy(),
		snapshots:   newSnapshotWriter(deps, deps.Logger),
		events:      deps.Events,
		log:         deps.Logger.With(logger.Component("refresh_statuses")),
		clock:       clockOrDefault(config.Clock),
		concurrency: config.Concurrency,
	}
}

// Handle пересчитывает метки. Ошибка одного студента не останавливает остальных.
func (h *RefreshStatusesHandler) Handle(ctx context.Context, cmd RefreshStatusesCommand) (*RefreshStatusesResult, error) {
	if err := validateStruct("RefreshStatuses", cmd); err != nil {
		return nil, fmt.Errorf("refresh_statuses: %w", err)
	}

	opts := student.DefaultListOptions().WithSort("id", false)
	if len(cmd.StudentIDs) > 0 {
		opts = opts.WithIDs(cmd.StudentIDs...)
	}
	students, err := h.store.Students().List(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("refresh_statuses: %w", err)
	}

	now := h.clock()
	result := &RefreshStatusesResult{Scanned: len(students)}

	var (
		mu    sync.Mutex
		g     errgroup.Group
		snaps []ledger.Snapshot
	)
	g.SetLimit(h.concurrency)

	for _, s := range students {
		// Грубая проверка без блокировки; под блокировкой значение перечитывается.
		if string(h.policy.Classify(s, now)) == s.StatusLabel {
			continue
		}
		id := s.ID.String()

		g.Go(func() error {
			change, snap, err := h.refreshOne(ctx, id, now)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				result.Failed++
				h.log.Warn("status refresh failed", logger.StudentID(id), logger.Err(err))
			case change != nil:
				result.Changed = append(result.Changed, *change)
				snaps = append(snaps, *snap)
			}
			return nil
		})
	}
	_ = g.Wait()

	evts := make([]shared.Event, 0, len(result.Changed))
	for _, c := range result.Changed {
		evts = append(evts, shared.NewStatusChangedEvent(c.StudentID, c.Old, string(c.New)))
	}
	h.snapshots.put(ctx, snaps...)
	publish(h.events, h.log, evts...)

	h.log.Info("statuses refreshed",
		logger.Count("scanned", result.Scanned),
		logger.Count("changed", len(result.Changed)),
		logger.Count("failed", result.Failed),
	)
	return result, nil
}

func (h *RefreshStatusesHandler) refreshOne(ctx context.Context, id string, now time.Time) (*StatusChange, *ledger.Snapshot, error) {
	var (
		change *StatusChange
		snap   ledger.Snapshot
	)
	err := h.tx.run(ctx, id, func(uow ledger.UnitOfWork) error {
		current, err := uow.Students().GetForUpdate(ctx, id)
		if err != nil {
			return err
		}

		status := h.policy.Classify(current, now)
		if string(status) == current.StatusLabel {
			return nil
		}

		working := current.Clone()
		working.StatusLabel = string(status)
		if err := uow.Students().Save(ctx, working); err != nil {
			return err
		}
		change = &StatusChange{StudentID: id, Old: current.StatusLabel, New: status}
		snap = h.policy.Recompute(working, now)
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return change, &snap, nil
}

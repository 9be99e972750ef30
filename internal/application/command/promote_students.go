package command

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/academy-hub/tuition-ledger/internal/domain/cycle"
	"github.com/academy-hub/tuition-ledger/internal/domain/ledger"
	"github.com/academy-hub/tuition-ledger/internal/domain/shared"
	"github.com/academy-hub/tuition-ledger/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// PROMOTE STUDENTS COMMAND
// Перевод группы студентов из одного цикла в другой. Каждый студент
// обрабатывается независимо: своя блокировка, своя транзакция. Ошибка одного
// студента не прерывает обработку остальных.
// ══════════════════════════════════════════════════════════════════════════════

// PromoteStudentsCommand содержит параметры перевода.
type PromoteStudentsCommand struct {
	StudentIDs []string `validate:"required,min=1,max=1000,dive,required,max=64"`

	// Source - цикл, в котором студенты должны находиться. Может быть Unassigned.
	Source cycle.Cycle

	// Target - новый цикл. Должен быть конкретным месяцем.
	Target cycle.Cycle

	CorrelationID string
}

// StudentOutcome - результат перевода одного студента.
type StudentOutcome struct {
	StudentID string
	Outcome   ledger.Outcome

	From cycle.Cycle
	To   cycle.Cycle

	// Settled - погашен взнос целевого цикла.
	Settled       bool
	SettledAmount decimal.Decimal

	// Record - запись погашения, nil если ничего не зачислено.
	Record *ledger.PaymentRecord

	// Ledger - леджер после перевода, nil для пропущенных и ошибок.
	Ledger *ledger.Snapshot

	// Err - причина пропуска или ошибки.
	Err error
}

// PromoteStudentsResult - результат перевода. Outcomes идут в порядке
// StudentIDs команды, ровно один на каждый ID.
type PromoteStudentsResult struct {
	BatchID  string
	Source   cycle.Cycle
	Target   cycle.Cycle
	Outcomes []StudentOutcome

	Promoted int
	Skipped  int
	Failed   int
}

// PromotedIDs возвращает ID переведённых студентов.
func (r *PromoteStudentsResult) PromotedIDs() []string {
	ids := make([]string, 0, r.Promoted)
	for _, o := range r.Outcomes {
		if o.Outcome == ledger.OutcomePromoted {
			ids = append(ids, o.StudentID)
		}
	}
	return ids
}

func (r *PromoteStudentsResult) promotedLedgers() []ledger.Snapshot {
	snaps := make([]ledger.Snapshot, 0, r.Promoted)
	for _, o := range r.Outcomes {
		if o.Outcome == ledger.OutcomePromoted && o.Ledger != nil {
			snaps = append(snaps, *o.Ledger)
		}
	}
	return snaps
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// PromoteStudentsHandler обрабатывает PromoteStudentsCommand.
type PromoteStudentsHandler struct {
	tx          studentTx
	engine      *ledger.Engine
	snapshots   snapshotWriter
	events      shared.EventPublisher
	log         *logger.Logger
	clock       Clock
	concurrency int
}

// PromoteStudentsHandlerConfig - настройки обработчика.
type PromoteStudentsHandlerConfig struct {
	LockTimeout time.Duration
	Clock       Clock

	// Concurrency - сколько студентов обрабатывается одновременно.
	Concurrency int

	// Parallel - false обрабатывает студентов строго по очереди.
	Parallel bool
}

// DefaultPromoteStudentsHandlerConfig возвращает настройки по умолчанию.
func DefaultPromoteStudentsHandlerConfig() PromoteStudentsHandlerConfig {
	return PromoteStudentsHandlerConfig{
		LockTimeout: DefaultLockTimeout,
		Concurrency: 4,
		Parallel:    true,
	}
}

// NewPromoteStudentsHandler создаёт обработчик.
func NewPromoteStudentsHandler(deps Dependencies, config PromoteStudentsHandlerConfig) *PromoteStudentsHandler {
	deps = deps.normalized()

	concurrency := config.Concurrency
	if !config.Parallel || concurrency < 1 {
		concurrency = 1
	}

	return &PromoteStudentsHandler{
		tx:          newStudentTx(deps, config.LockTimeout),
		engine:      deps.Engine,
		snapshots:   newSnapshotWriter(deps, deps.Logger),
		events:      deps.Events,
		log:         deps.Logger.With(logger.Component("promote_students")),
		clock:       clockOrDefault(config.Clock),
		concurrency: concurrency,
	}
}

// Handle переводит студентов. Ошибка возвращается только для запроса
// целиком (валидация, source == target); ошибки отдельных студентов
// попадают в их StudentOutcome.
func (h *PromoteStudentsHandler) Handle(ctx context.Context, cmd PromoteStudentsCommand) (*PromoteStudentsResult, error) {
	if err := validateStruct("PromoteStudents", cmd); err != nil {
		return nil, fmt.Errorf("promote_students: %w", err)
	}
	if err := ledger.ValidateTransition(cmd.Source, cmd.Target); err != nil {
		return nil, fmt.Errorf("promote_students: %w", err)
	}

	start := time.Now()
	now := h.clock()
	batchID := uuid.NewString()
	log := h.log.With(logger.BatchID(batchID))

	outcomes := make([]StudentOutcome, len(cmd.StudentIDs))

	var g errgroup.Group
	g.SetLimit(h.concurrency)
	for i, id := range cmd.StudentIDs {
		g.Go(func() error {
			outcomes[i] = h.promoteOne(ctx, id, cmd.Source, cmd.Target, now)
			return nil
		})
	}
	_ = g.Wait()

	result := &PromoteStudentsResult{
		BatchID:  batchID,
		Source:   cmd.Source,
		Target:   cmd.Target,
		Outcomes: outcomes,
	}

	evts := make([]shared.Event, 0, len(outcomes)+1)
	for _, o := range outcomes {
		fields := []logger.Field{
			logger.StudentID(o.StudentID),
			logger.String("outcome", string(o.Outcome)),
		}

		switch o.Outcome {
		case ledger.OutcomePromoted:
			result.Promoted++
			if o.Record != nil {
				settled := shared.NewInstallmentSettledEvent(o.StudentID, o.To.String(),
					o.SettledAmount.String(), o.Record.ID.String())
				settled.CorrelationID = cmd.CorrelationID
				evts = append(evts, settled)
				fields = append(fields, logger.Amount(o.SettledAmount))
			}
			promoted := shared.NewStudentPromotedEvent(o.StudentID, o.From.String(), o.To.String(), o.Settled)
			promoted.CorrelationID = cmd.CorrelationID
			evts = append(evts, promoted)
			log.Info("student promoted", fields...)

		case ledger.OutcomeSkippedWrongCycle:
			result.Skipped++
			log.Info("student skipped", append(fields, logger.Cycle(o.From))...)

		default:
			result.Failed++
			log.Warn("student promotion failed", append(fields, logger.Err(o.Err))...)
		}
	}

	h.snapshots.put(ctx, result.promotedLedgers()...)

	completed := shared.NewPromotionCompletedEvent(batchID, cmd.Source.String(), cmd.Target.String(),
		result.Promoted, result.Skipped, result.Failed, result.PromotedIDs())
	completed.CorrelationID = cmd.CorrelationID
	evts = append(evts, completed)
	publish(h.events, log, evts...)

	log.Info("promotion completed",
		logger.String("source", cmd.Source.String()),
		logger.String("target", cmd.Target.String()),
		logger.Count("promoted", result.Promoted),
		logger.Count("skipped", result.Skipped),
		logger.Count("failed", result.Failed),
		logger.Latency(time.Since(start)),
	)

	return result, nil
}

// promoteOne переводит одного студента в собственной транзакции.
func (h *PromoteStudentsHandler) promoteOne(ctx context.Context, id string, source, target cycle.Cycle, now time.Time) StudentOutcome {
	out := StudentOutcome{StudentID: id, From: source, To: target, SettledAmount: decimal.Zero}

	var step ledger.PromotionStep
	err := h.tx.run(ctx, id, func(uow ledger.UnitOfWork) error {
		current, err := uow.Students().GetForUpdate(ctx, id)
		if err != nil {
			return err
		}

		working := current.Clone()
		step, err = h.engine.Promote(working, source, target, now)
		if err != nil {
			return err
		}

		if err := uow.Students().Save(ctx, working); err != nil {
			return err
		}
		step.Ledger.Version = working.Version
		if step.Record != nil {
			return uow.Payments().Append(ctx, step.Record)
		}
		return nil
	})

	switch {
	case err == nil:
		out.Outcome = ledger.OutcomePromoted
		out.From = step.From
		out.Settled = step.Settlement.Applied
		out.SettledAmount = step.Settlement.Amount
		out.Record = step.Record
		snap := step.Ledger
		out.Ledger = &snap
	case errors.Is(err, shared.ErrWrongCycle):
		out.Outcome = ledger.OutcomeSkippedWrongCycle
		out.From = step.From
		out.Err = err
	default:
		out.Outcome = ledger.OutcomeError
		out.Err = err
	}
	return out
}

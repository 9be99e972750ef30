package command

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/academy-hub/tuition-ledger/internal/domain/ledger"
	"github.com/academy-hub/tuition-ledger/internal/domain/shared"
	"github.com/academy-hub/tuition-ledger/internal/domain/student"
	"github.com/academy-hub/tuition-ledger/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// RECORD PAYMENT COMMAND
// Ручной платёж: проверка суммы против текущего остатка, зачисление через
// ledger.ApplyCredit и запись в журнал. Всё в одной транзакции.
// ══════════════════════════════════════════════════════════════════════════════

// RecordPaymentCommand содержит данные платежа.
type RecordPaymentCommand struct {
	StudentID string `validate:"required,max=64"`

	// Amount - сумма. Должна быть > 0 и не больше остатка.
	Amount decimal.Decimal

	// Date - дата платежа. Нулевая - сейчас.
	Date time.Time

	// Method - cash, bank, mobile, card или cheque. Пустой - cash.
	Method string `validate:"max=32"`

	Description string `validate:"max=500"`

	// CorrelationID для трассировки.
	CorrelationID string
}

// RecordPaymentResult - результат записи платежа.
type RecordPaymentResult struct {
	Record *ledger.PaymentRecord

	// Ledger - пересчитанный леджер после платежа.
	Ledger ledger.Snapshot

	// PreviousStatus - статус до платежа.
	PreviousStatus ledger.Status

	Student *student.Student
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// RecordPaymentHandler обрабатывает RecordPaymentCommand.
type RecordPaymentHandler struct {
	tx        studentTx
	engine    *ledger.Engine
	snapshots snapshotWriter
	events    shared.EventPublisher
	log       *logger.Logger
	clock     Clock
}

// RecordPaymentHandlerConfig - настройки обработчика.
type RecordPaymentHandlerConfig struct {
	LockTimeout time.Duration
	Clock       Clock
}

// DefaultRecordPaymentHandlerConfig возвращает настройки по умолчанию.
func DefaultRecordPaymentHandlerConfig() RecordPaymentHandlerConfig {
	return RecordPaymentHandlerConfig{LockTimeout: DefaultLockTimeout}
}

// NewRecordPaymentHandler создаёт обработчик.
func NewRecordPaymentHandler(deps Dependencies, config RecordPaymentHandlerConfig) *RecordPaymentHandler {
	deps = deps.normalized()
	return &RecordPaymentHandler{
		tx:        newStudentTx(deps, config.LockTimeout),
		engine:    deps.Engine,
		snapshots: newSnapshotWriter(deps, deps.Logger),
		events:    deps.Events,
		log:       deps.Logger.With(logger.Component("record_payment")),
		clock:     clockOrDefault(config.Clock),
	}
}

// Handle записывает платёж. При любой ошибке состояние студента не меняется.
func (h *RecordPaymentHandler) Handle(ctx context.Context, cmd RecordPaymentCommand) (*RecordPaymentResult, error) {
	if err := validateStruct("RecordPayment", cmd); err != nil {
		return nil, fmt.Errorf("record_payment: %w", err)
	}
	method, err := ledger.ParseMethod(cmd.Method)
	if err != nil {
		return nil, fmt.Errorf("record_payment: %w", err)
	}

	start := time.Now()
	now := h.clock()

	var result *RecordPaymentResult
	err = h.tx.run(ctx, cmd.StudentID, func(uow ledger.UnitOfWork) error {
		current, err := uow.Students().GetForUpdate(ctx, cmd.StudentID)
		if err != nil {
			return err
		}

		// Движок меняет студента на месте, поэтому работаем с копией.
		working := current.Clone()
		previous := h.engine.Policy().Classify(current, now)

		snap, rec, err := h.engine.RecordPayment(working, ledger.PaymentInput{
			Amount:      cmd.Amount,
			Date:        cmd.Date,
			Method:      method,
			Description: cmd.Description,
		}, now)
		if err != nil {
			return err
		}

		if err := uow.Students().Save(ctx, working); err != nil {
			return err
		}
		if err := uow.Payments().Append(ctx, rec); err != nil {
			return err
		}
		snap.Version = working.Version

		result = &RecordPaymentResult{
			Record:         rec,
			Ledger:         snap,
			PreviousStatus: previous,
			Student:        working,
		}
		return nil
	})
	if err != nil {
		h.log.Warn("payment rejected",
			logger.StudentID(cmd.StudentID),
			logger.Amount(cmd.Amount),
			logger.Err(err),
		)
		return nil, fmt.Errorf("record_payment: %w", err)
	}

	h.snapshots.put(ctx, result.Ledger)

	rec := result.Record
	recorded := shared.NewPaymentRecordedEvent(cmd.StudentID, rec.ID.String(), rec.Amount.String(),
		string(rec.Method), rec.Token, result.Ledger.Due.String(), string(result.Ledger.Status))
	recorded.CorrelationID = cmd.CorrelationID

	evts := []shared.Event{recorded}
	if result.PreviousStatus != result.Ledger.Status {
		changed := shared.NewStatusChangedEvent(cmd.StudentID,
			string(result.PreviousStatus), string(result.Ledger.Status))
		changed.CorrelationID = cmd.CorrelationID
		evts = append(evts, changed)
	}
	publish(h.events, h.log, evts...)

	h.log.Info("payment recorded",
		logger.StudentID(cmd.StudentID),
		logger.Amount(rec.Amount),
		logger.Due(result.Ledger.Due),
		logger.PaymentStatus(string(result.Ledger.Status)),
		logger.String("token", rec.Token),
		logger.Latency(time.Since(start)),
	)

	return result, nil
}

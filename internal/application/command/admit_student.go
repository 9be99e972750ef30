package command

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/academy-hub/tuition-ledger/internal/domain/cycle"
	"github.com/academy-hub/tuition-ledger/internal/domain/ledger"
	"github.com/academy-hub/tuition-ledger/internal/domain/shared"
	"github.com/academy-hub/tuition-ledger/internal/domain/student"
	"github.com/academy-hub/tuition-ledger/pkg/logger"
	"github.com/academy-hub/tuition-ledger/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// ADMIT STUDENT COMMAND
// Открывает леджер нового студента: стоимость, paid = 0, цикл и график
// взносов по шаблону. Начальный платёж (если есть) проходит через движок.
// ══════════════════════════════════════════════════════════════════════════════

// FeeItemInput - строка шаблона стоимости, переданная напрямую.
type FeeItemInput struct {
	Label           string `validate:"max=100"`
	Amount          decimal.Decimal
	DueOffsetMonths int `validate:"gte=0,lte=120"`
}

// InitialPaymentInput - платёж, записываемый сразу при зачислении.
type InitialPaymentInput struct {
	Amount      decimal.Decimal
	Date        time.Time
	Method      string `validate:"max=32"`
	Description string `validate:"max=500"`
}

// AdmitStudentCommand содержит данные зачисления.
type AdmitStudentCommand struct {
	StudentID     string    `validate:"required,max=64"`
	Name          string    `validate:"required,max=200"`
	AdmissionDate time.Time `validate:"required"`

	// CycleLabel - метка цикла. Пустая - цикл зачисления; "unassigned"
	// и синонимы оставляют студента без цикла.
	CycleLabel string `validate:"max=64"`

	// TotalFee - полная стоимость. nil - сумма шаблона.
	TotalFee *decimal.Decimal

	// FeeStructureCode - код шаблона из каталога. Взаимоисключающий с FeeItems.
	FeeStructureCode string `validate:"max=64"`

	// FeeItems - шаблон, переданный напрямую.
	FeeItems []FeeItemInput `validate:"max=60,dive"`

	InitialPayment *InitialPaymentInput

	Profile map[string]string `validate:"max=50"`

	CorrelationID string
}

// AdmitStudentResult - результат зачисления.
type AdmitStudentResult struct {
	Student *student.Student
	Ledger  ledger.Snapshot

	// InitialPayment - запись начального платежа, nil если его не было.
	InitialPayment *ledger.PaymentRecord
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// AdmitStudentHandler обрабатывает AdmitStudentCommand.
type AdmitStudentHandler struct {
	tx         studentTx
	engine     *ledger.Engine
	structures student.FeeStructureProvider
	snapshots  snapshotWriter
	events     shared.EventPublisher
	log        *logger.Logger
	clock      Clock
}

// AdmitStudentHandlerConfig - настройки обработчика.
type AdmitStudentHandlerConfig struct {
	LockTimeout time.Duration
	Clock       Clock
}

// DefaultAdmitStudentHandlerConfig возвращает настройки по умолчанию.
func DefaultAdmitStudentHandlerConfig() AdmitStudentHandlerConfig {
	return AdmitStudentHandlerConfig{LockTimeout: DefaultLockTimeout}
}

// NewAdmitStudentHandler создаёт обработчик. structures может быть nil,
// тогда принимаются только шаблоны, переданные в команде.
func NewAdmitStudentHandler(deps Dependencies, structures student.FeeStructureProvider, config AdmitStudentHandlerConfig) *AdmitStudentHandler {
	deps = deps.normalized()
	return &AdmitStudentHandler{
		tx:         newStudentTx(deps, config.LockTimeout),
		engine:     deps.Engine,
		structures: structures,
		snapshots:  newSnapshotWriter(deps, deps.Logger),
		events:     deps.Events,
		log:        deps.Logger.With(logger.Component("admit_student")),
		clock:      clockOrDefault(config.Clock),
	}
}

// Handle зачисляет студента.
func (h *AdmitStudentHandler) Handle(ctx context.Context, cmd AdmitStudentCommand) (*AdmitStudentResult, error) {
	if err := validateStruct("AdmitStudent", cmd); err != nil {
		return nil, fmt.Errorf("admit_student: %w", err)
	}

	now := h.clock()

	fees, err := h.resolveFeeStructure(ctx, cmd)
	if err != nil {
		return nil, fmt.Errorf("admit_student: %w", err)
	}

	var total decimal.Decimal
	switch {
	case cmd.TotalFee != nil:
		total = *cmd.TotalFee
	case len(fees.Items) > 0:
		total = fees.Total()
	default:
		return nil, fmt.Errorf("admit_student: %w", shared.NewDomainError("command", "AdmitStudent",
			shared.ErrValidation, "total fee or a fee structure is required"))
	}

	admissionCycle := cycle.FromTime(timeutil.Local(cmd.AdmissionDate))
	plan, err := fees.Seed(admissionCycle)
	if err != nil {
		return nil, fmt.Errorf("admit_student: %w", err)
	}

	label := strings.TrimSpace(cmd.CycleLabel)
	if label == "" {
		label = admissionCycle.String()
	}

	s, err := student.NewStudent(student.NewStudentParams{
		ID:            cmd.StudentID,
		Name:          cmd.Name,
		AdmissionDate: cmd.AdmissionDate,
		CycleLabel:    label,
		TotalFee:      total,
		Plan:          plan,
		Profile:       cmd.Profile,
	})
	if err != nil {
		return nil, fmt.Errorf("admit_student: %w", err)
	}

	snap := h.engine.Policy().Recompute(s, now)
	s.StatusLabel = string(snap.Status)

	var rec *ledger.PaymentRecord
	if p := cmd.InitialPayment; p != nil {
		method, err := ledger.ParseMethod(p.Method)
		if err != nil {
			return nil, fmt.Errorf("admit_student: %w", err)
		}
		snap, rec, err = h.engine.RecordPayment(s, ledger.PaymentInput{
			Amount:      p.Amount,
			Date:        p.Date,
			Method:      method,
			Description: p.Description,
		}, now)
		if err != nil {
			return nil, fmt.Errorf("admit_student: initial payment: %w", err)
		}
	}

	id := s.ID.String()
	err = h.tx.run(ctx, id, func(uow ledger.UnitOfWork) error {
		if err := uow.Students().Create(ctx, s); err != nil {
			return err
		}
		if rec != nil {
			return uow.Payments().Append(ctx, rec)
		}
		return nil
	})
	if err != nil {
		h.log.Warn("admission failed", logger.StudentID(id), logger.Err(err))
		return nil, fmt.Errorf("admit_student: %w", err)
	}

	// Снимок мог остаться в кэше от удалённого ранее студента с тем же ID,
	// и его версия может быть выше новой.
	h.snapshots.invalidate(ctx, id)

	admitted := shared.NewStudentAdmittedEvent(id, s.Name, s.AdmissionDate,
		s.Cycle().String(), s.TotalFee.String(), len(s.Plan))
	admitted.CorrelationID = cmd.CorrelationID
	evts := []shared.Event{admitted}
	if rec != nil {
		recorded := shared.NewPaymentRecordedEvent(id, rec.ID.String(), rec.Amount.String(),
			string(rec.Method), rec.Token, snap.Due.String(), string(snap.Status))
		recorded.CorrelationID = cmd.CorrelationID
		evts = append(evts, recorded)
	}
	publish(h.events, h.log, evts...)

	h.log.Info("student admitted",
		logger.StudentID(id),
		logger.Cycle(s.Cycle()),
		logger.Amount(s.TotalFee),
		logger.Count("installments", len(s.Plan)),
	)

	return &AdmitStudentResult{Student: s, Ledger: snap, InitialPayment: rec}, nil
}

// resolveFeeStructure выбирает шаблон: переданный в команде или из каталога.
// Без того и другого возвращает пустой шаблон.
func (h *AdmitStudentHandler) resolveFeeStructure(ctx context.Context, cmd AdmitStudentCommand) (student.FeeStructure, error) {
	code := strings.TrimSpace(cmd.FeeStructureCode)

	switch {
	case code != "" && len(cmd.FeeItems) > 0:
		return student.FeeStructure{}, shared.NewDomainError("command", "AdmitStudent", shared.ErrValidation,
			"fee structure code and fee items are mutually exclusive")

	case len(cmd.FeeItems) > 0:
		fs := student.FeeStructure{Items: make([]student.FeeItem, 0, len(cmd.FeeItems))}
		for _, item := range cmd.FeeItems {
			fs.Items = append(fs.Items, student.FeeItem{
				Label:           item.Label,
				Amount:          item.Amount,
				DueOffsetMonths: item.DueOffsetMonths,
			})
		}
		return fs, fs.Validate()

	case code != "":
		if h.structures == nil {
			return student.FeeStructure{}, shared.NewDomainError("command", "AdmitStudent", shared.ErrValidation,
				"fee structure catalog is not configured")
		}
		fs, err := h.structures.FeeStructure(ctx, code)
		if err != nil {
			if errors.Is(err, shared.ErrNotFound) {
				return student.FeeStructure{}, shared.WrapError("command", "AdmitStudent", shared.ErrValidation,
					"unknown fee structure "+code, err)
			}
			return student.FeeStructure{}, err
		}
		return fs, nil
	}

	return student.FeeStructure{}, nil
}

package student

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/academy-hub/tuition-ledger/internal/domain/cycle"
	"github.com/academy-hub/tuition-ledger/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// MAIN ENTITY: STUDENT
// ══════════════════════════════════════════════════════════════════════════════

// Student - студент академии с его финансовым состоянием.
type Student struct {
	// ID - идентификатор из справочника студентов.
	ID shared.StudentID

	// Name - имя для списков задолженности и поиска.
	Name string

	// AdmissionDate - дата зачисления. Не меняется никогда.
	AdmissionDate time.Time

	// CycleLabel - сохранённая метка биллингового цикла в исходном виде.
	// Интерпретируется только через cycle.Of.
	CycleLabel string

	// TotalFee - полная стоимость обучения.
	TotalFee decimal.Decimal

	// Paid - накопленная сумма оплат.
	Paid decimal.Decimal

	// LastPaymentDate - дата последнего зачисленного платежа.
	LastPaymentDate *time.Time

	// StatusLabel - последний вычисленный статус (Paid/Partial/Unpaid/Overdue).
	StatusLabel string

	// LastPromotedAt - когда студента последний раз переводили в новый цикл.
	LastPromotedAt *time.Time

	// Plan - необязательный график взносов.
	Plan InstallmentPlan

	// Profile - прочие данные справочника (адрес, контакты), хранятся как есть.
	Profile map[string]string

	// Version - версия записи для оптимистичной блокировки.
	Version int64

	// CreatedAt - время создания записи.
	CreatedAt time.Time

	// UpdatedAt - время последнего обновления.
	UpdatedAt time.Time
}

// ══════════════════════════════════════════════════════════════════════════════
// DOMAIN ERRORS
// ══════════════════════════════════════════════════════════════════════════════

var (
	// ErrInvalidName - пустое или слишком длинное имя.
	ErrInvalidName = shared.NewDomainError("student", "Validate", shared.ErrInvalidInput, "name must be 1-200 chars")

	// ErrInvalidAdmissionDate - дата зачисления отсутствует.
	ErrInvalidAdmissionDate = shared.NewDomainError("student", "Validate", shared.ErrInvalidInput, "admission date is required")

	// ErrPaidExceedsTotal - начальная оплата больше стоимости.
	ErrPaidExceedsTotal = shared.NewDomainError("student", "Validate", shared.ErrInvalidInput, "paid cannot exceed total fee")
)

// ══════════════════════════════════════════════════════════════════════════════
// FACTORY & VALIDATION
// ══════════════════════════════════════════════════════════════════════════════

// NewStudentParams содержит параметры для создания нового студента.
type NewStudentParams struct {
	ID            string
	Name          string
	AdmissionDate time.Time
	CycleLabel    string
	TotalFee      decimal.Decimal
	Plan          InstallmentPlan
	Profile       map[string]string
}

// NewStudent создаёт студента с нулевой оплатой.
func NewStudent(params NewStudentParams) (*Student, error) {
	id, err := shared.NewStudentID(params.ID)
	if err != nil {
		return nil, err
	}

	name := strings.TrimSpace(params.Name)
	if name == "" || len(name) > 200 {
		return nil, ErrInvalidName
	}

	if params.AdmissionDate.IsZero() {
		return nil, ErrInvalidAdmissionDate
	}

	if params.TotalFee.IsNegative() {
		return nil, shared.ErrNegativeFee
	}

	if err := params.Plan.Validate(); err != nil {
		return nil, err
	}

	now := time.Now().UTC()

	return &Student{
		ID:            id,
		Name:          name,
		AdmissionDate: params.AdmissionDate,
		CycleLabel:    params.CycleLabel,
		TotalFee:      params.TotalFee,
		Paid:          decimal.Zero,
		Plan:          params.Plan.Clone(),
		Profile:       cloneProfile(params.Profile),
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

// Validate проверяет инварианты сохранённого студента.
func (s *Student) Validate() error {
	if !s.ID.IsValid() {
		return shared.ErrInvalidStudentID
	}
	if strings.TrimSpace(s.Name) == "" {
		return ErrInvalidName
	}
	if s.AdmissionDate.IsZero() {
		return ErrInvalidAdmissionDate
	}
	if s.TotalFee.IsNegative() || s.Paid.IsNegative() {
		return shared.ErrNegativeFee
	}
	if s.Paid.GreaterThan(s.TotalFee) {
		return ErrPaidExceedsTotal
	}
	return s.Plan.Validate()
}

// ══════════════════════════════════════════════════════════════════════════════
// DOMAIN METHODS
// ══════════════════════════════════════════════════════════════════════════════

// Cycle возвращает текущий биллинговый цикл студента.
func (s *Student) Cycle() cycle.Cycle {
	return cycle.Of(s.CycleLabel, s.AdmissionDate)
}

// HasPlan возвращает true, если у студента есть график взносов.
func (s *Student) HasPlan() bool {
	return len(s.Plan) > 0
}

// MatchesSearch проверяет вхождение запроса в ID или имя (без учёта регистра).
func (s *Student) MatchesSearch(query string) bool {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return true
	}
	return strings.Contains(strings.ToLower(s.Name), q) ||
		strings.Contains(strings.ToLower(s.ID.String()), q)
}

// Clone создаёт глубокую копию студента. Все изменения выполняются над
// копией, чтобы ошибка на любом шаге не затронула исходное состояние.
func (s *Student) Clone() *Student {
	if s == nil {
		return nil
	}
	c := *s
	c.LastPaymentDate = cloneTime(s.LastPaymentDate)
	c.LastPromotedAt = cloneTime(s.LastPromotedAt)
	c.Plan = s.Plan.Clone()
	c.Profile = cloneProfile(s.Profile)
	return &c
}

// String возвращает краткое описание для логов.
func (s *Student) String() string {
	return fmt.Sprintf("Student{id=%s, cycle=%s, total=%s, paid=%s}",
		s.ID, s.Cycle(), s.TotalFee.StringFixed(2), s.Paid.StringFixed(2))
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneProfile(p map[string]string) map[string]string {
	if p == nil {
		return nil
	}
	out := make(map[string]string, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

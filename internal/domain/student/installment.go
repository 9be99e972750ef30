package student

import (
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/academy-hub/tuition-ledger/internal/domain/cycle"
	"github.com/academy-hub/tuition-ledger/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// INSTALLMENT PLAN
// ══════════════════════════════════════════════════════════════════════════════

// Installment - один взнос графика, привязанный к биллинговому циклу.
type Installment struct {
	// Label - название взноса из шаблона ("Admission", "Month 2").
	Label string

	// Cycle - цикл, в котором взнос подлежит оплате.
	Cycle cycle.Cycle

	// Amount - сумма взноса.
	Amount decimal.Decimal

	// Paid - взнос погашен. Монотонен.
	Paid bool

	// PaidDate - когда взнос был погашен.
	PaidDate *time.Time
}

// InstallmentPlan - упорядоченный график взносов. Порядок элементов значим.
type InstallmentPlan []Installment

// ErrInvalidInstallment - некорректный элемент графика.
var ErrInvalidInstallment = shared.NewDomainError("installment", "Validate", shared.ErrInvalidInput, "installment needs a cycle and a non-negative amount")

// Validate проверяет элементы графика.
func (p InstallmentPlan) Validate() error {
	for _, inst := range p {
		if inst.Cycle.IsUnassigned() || inst.Amount.IsNegative() {
			return ErrInvalidInstallment
		}
	}
	return nil
}

// Clone возвращает независимую копию графика.
func (p InstallmentPlan) Clone() InstallmentPlan {
	if p == nil {
		return nil
	}
	out := make(InstallmentPlan, len(p))
	for i, inst := range p {
		out[i] = inst
		if inst.PaidDate != nil {
			d := *inst.PaidDate
			out[i].PaidDate = &d
		}
	}
	return out
}

// Total возвращает сумму всех взносов.
func (p InstallmentPlan) Total() decimal.Decimal {
	sum := decimal.Zero
	for _, inst := range p {
		sum = sum.Add(inst.Amount)
	}
	return sum
}

// IndexOf возвращает позицию первого взноса для цикла или -1.
func (p InstallmentPlan) IndexOf(c cycle.Cycle) int {
	for i, inst := range p {
		if inst.Cycle == c {
			return i
		}
	}
	return -1
}

// ══════════════════════════════════════════════════════════════════════════════
// FEE STRUCTURE (шаблон для зачисления)
// ══════════════════════════════════════════════════════════════════════════════

// FeeItem - строка шаблона: название, сумма и смещение в месяцах от цикла зачисления.
type FeeItem struct {
	Label           string
	Amount          decimal.Decimal
	DueOffsetMonths int
}

// FeeStructure - шаблон стоимости курса.
type FeeStructure struct {
	Name  string
	Items []FeeItem
}

// Total возвращает сумму строк шаблона.
func (f FeeStructure) Total() decimal.Decimal {
	sum := decimal.Zero
	for _, item := range f.Items {
		sum = sum.Add(item.Amount)
	}
	return sum
}

// Validate проверяет шаблон.
func (f FeeStructure) Validate() error {
	for _, item := range f.Items {
		if item.Amount.IsNegative() {
			return shared.ErrNegativeFee
		}
		if item.DueOffsetMonths < 0 {
			return shared.NewDomainError("fee_structure", "Validate", shared.ErrInvalidInput, "due offset cannot be negative")
		}
	}
	return nil
}

// Seed строит график взносов от цикла зачисления: строка i приходится
// на цикл start + DueOffsetMonths. Порядок строк шаблона сохраняется.
func (f FeeStructure) Seed(start cycle.Cycle) (InstallmentPlan, error) {
	if len(f.Items) == 0 {
		return nil, nil
	}
	if start.IsUnassigned() {
		return nil, shared.NewDomainError("fee_structure", "Seed", shared.ErrInvalidInput,
			"cannot seed installments without an admission cycle")
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}

	plan := make(InstallmentPlan, 0, len(f.Items))
	for i, item := range f.Items {
		label := strings.TrimSpace(item.Label)
		if label == "" {
			label = defaultInstallmentLabel(i)
		}
		plan = append(plan, Installment{
			Label:  label,
			Cycle:  start.AddMonths(item.DueOffsetMonths),
			Amount: item.Amount,
		})
	}
	return plan, nil
}

func defaultInstallmentLabel(i int) string {
	return "Installment " + strconv.Itoa(i+1)
}

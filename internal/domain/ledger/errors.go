package ledger

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/academy-hub/tuition-ledger/internal/domain/shared"
)

// ErrInvalidAmount describes a non-positive amount. It matches
// shared.ErrInvalidAmount with errors.Is.
func ErrInvalidAmount(amount decimal.Decimal) error {
	return fmt.Errorf("%w: got %s", shared.ErrInvalidAmount, amount.String())
}

// ErrExceedsDue describes an amount larger than the outstanding due.
// It matches shared.ErrAmountExceedsDue with errors.Is.
func ErrExceedsDue(amount, due decimal.Decimal) error {
	return fmt.Errorf("%w: amount %s, due %s", shared.ErrAmountExceedsDue, amount.String(), due.String())
}

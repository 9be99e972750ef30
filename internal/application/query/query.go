// Package query contains read operations (CQRS - Queries).
//
// Запросы только читают: леджер каждый раз пересчитывается из TotalFee и
// Paid, сохранённые значения остатка и статуса не используются.
package query

import (
	"time"

	"github.com/academy-hub/tuition-ledger/internal/domain/ledger"
	"github.com/academy-hub/tuition-ledger/pkg/logger"
	"github.com/academy-hub/tuition-ledger/pkg/timeutil"
)

// Dependencies - общие зависимости обработчиков запросов.
type Dependencies struct {
	// Store - хранилище только для чтения. Обязателен.
	Store ledger.Store

	// Policy - правила классификации статуса.
	Policy ledger.Policy

	// Cache - кэш снимков для GetLedger. Необязателен.
	Cache ledger.SnapshotCache

	Logger *logger.Logger

	// Clock возвращает текущее время. nil - timeutil.Now.
	Clock func() time.Time
}

func (d Dependencies) normalized() Dependencies {
	if d.Logger == nil {
		d.Logger = logger.Nop()
	}
	if d.Clock == nil {
		d.Clock = timeutil.Now
	}
	return d
}

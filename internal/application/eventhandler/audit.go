// Package eventhandler содержит обработчики доменных событий леджера.
//
// Обработчики подписываются на шину событий процесса. Запись в леджер к
// этому моменту уже зафиксирована, поэтому ошибка обработчика логируется
// шиной и ни на что не влияет.
package eventhandler

import (
	"sort"
	"sync"

	"github.com/academy-hub/tuition-ledger/internal/domain/shared"
	"github.com/academy-hub/tuition-ledger/pkg/logger"
)

// ═══════════════════════════════════════════════════════════════════════════
// AUDIT LOG
// Журнал всех денежных событий: кто, что, с каким токеном квитанции.
// ═══════════════════════════════════════════════════════════════════════════

// AuditHandler пишет каждое событие в структурированный лог и считает
// события по типам.
type AuditHandler struct {
	log *logger.Logger

	mu     sync.Mutex
	counts map[shared.EventType]int
}

// NewAuditHandler создаёт обработчик.
func NewAuditHandler(log *logger.Logger) *AuditHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &AuditHandler{
		log:    log.With(logger.Component("audit")),
		counts: make(map[shared.EventType]int),
	}
}

// Register подписывает обработчик на все события.
func (h *AuditHandler) Register(bus shared.EventSubscriber) error {
	return bus.SubscribeAll(h.Handle)
}

// Handle реализует shared.EventHandler.
func (h *AuditHandler) Handle(event shared.Event) error {
	h.mu.Lock()
	h.counts[event.EventType()]++
	h.mu.Unlock()

	fields := []logger.Field{
		logger.String("event_type", string(event.EventType())),
		logger.StudentID(event.AggregateID()),
		logger.Time("occurred_at", event.OccurredAt()),
	}
	keys := make([]string, 0, len(event.Payload()))
	payload := event.Payload()
	for k := range payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fields = append(fields, logger.Any(k, payload[k]))
	}

	h.log.Info("ledger event", fields...)
	return nil
}

// Counts возвращает копию счётчиков по типам событий.
func (h *AuditHandler) Counts() map[shared.EventType]int {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make(map[shared.EventType]int, len(h.counts))
	for k, v := range h.counts {
		out[k] = v
	}
	return out
}

package eventhandler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/academy-hub/tuition-ledger/internal/domain/ledger"
	"github.com/academy-hub/tuition-ledger/internal/domain/shared"
	"github.com/academy-hub/tuition-ledger/pkg/logger"
)

// ═══════════════════════════════════════════════════════════════════════════
// ON STATUS CHANGED HANDLER
// Реагирует на смену статуса оплаты. Переход в Overdue уходит в Notifier
// (бухгалтерия, напоминание родителям), выход из Overdue только логируется.
// ═══════════════════════════════════════════════════════════════════════════

// OverdueNotice - уведомление о просрочке.
type OverdueNotice struct {
	StudentID     string
	PreviousState ledger.Status
	At            time.Time
	CorrelationID string
}

// Notifier доставляет уведомления о просрочке.
type Notifier interface {
	NotifyOverdue(ctx context.Context, notice OverdueNotice) error
}

// LogNotifier пишет уведомления в лог. Используется, пока нет внешнего канала.
type LogNotifier struct {
	Log *logger.Logger
}

// NotifyOverdue реализует Notifier.
func (n LogNotifier) NotifyOverdue(_ context.Context, notice OverdueNotice) error {
	log := n.Log
	if log == nil {
		log = logger.Default()
	}
	log.Warn("student is overdue",
		logger.StudentID(notice.StudentID),
		logger.PaymentStatus(string(notice.PreviousState)),
		logger.Time("at", notice.At),
	)
	return nil
}

// StatusChangedConfig - настройки обработчика.
type StatusChangedConfig struct {
	// NotifyTimeout ограничивает один вызов Notifier.
	NotifyTimeout time.Duration

	// Cooldown - не чаще одного уведомления на студента за этот период.
	Cooldown time.Duration
}

// DefaultStatusChangedConfig возвращает настройки по умолчанию.
func DefaultStatusChangedConfig() StatusChangedConfig {
	return StatusChangedConfig{
		NotifyTimeout: 10 * time.Second,
		Cooldown:      24 * time.Hour,
	}
}

// OnStatusChangedHandler обрабатывает shared.StatusChangedEvent.
type OnStatusChangedHandler struct {
	notifier Notifier
	log      *logger.Logger
	config   StatusChangedConfig
	now      func() time.Time

	mu           sync.Mutex
	lastNotified map[string]time.Time
	transitions  map[string]int
}

// NewOnStatusChangedHandler создаёт обработчик. nil notifier - LogNotifier.
func NewOnStatusChangedHandler(notifier Notifier, log *logger.Logger, config StatusChangedConfig) *OnStatusChangedHandler {
	if log == nil {
		log = logger.Nop()
	}
	log = log.With(logger.Component("on_status_changed"))
	if notifier == nil {
		notifier = LogNotifier{Log: log}
	}
	if config.NotifyTimeout <= 0 {
		config.NotifyTimeout = DefaultStatusChangedConfig().NotifyTimeout
	}

	return &OnStatusChangedHandler{
		notifier:     notifier,
		log:          log,
		config:       config,
		now:          time.Now,
		lastNotified: make(map[string]time.Time),
		transitions:  make(map[string]int),
	}
}

// Register подписывает обработчик на смену статуса.
func (h *OnStatusChangedHandler) Register(bus shared.EventSubscriber) error {
	return bus.Subscribe(shared.EventStatusChanged, h.Handle)
}

// Handle реализует shared.EventHandler.
func (h *OnStatusChangedHandler) Handle(event shared.Event) error {
	changed, ok := event.(shared.StatusChangedEvent)
	if !ok {
		h.log.Warn("unexpected event", logger.String("event_type", string(event.EventType())))
		return nil
	}

	oldStatus := ledger.Status(changed.OldStatus)
	newStatus := ledger.Status(changed.NewStatus)
	id := changed.AggregateID()

	h.mu.Lock()
	h.transitions[string(oldStatus)+"->"+string(newStatus)]++
	h.mu.Unlock()

	if newStatus != ledger.StatusOverdue {
		if oldStatus == ledger.StatusOverdue {
			h.log.Info("student left overdue", logger.StudentID(id), logger.PaymentStatus(string(newStatus)))
		}
		return nil
	}

	now := h.now()
	if !h.claim(id, now) {
		h.log.Debug("overdue notice suppressed", logger.StudentID(id))
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.config.NotifyTimeout)
	defer cancel()

	err := h.notifier.NotifyOverdue(ctx, OverdueNotice{
		StudentID:     id,
		PreviousState: oldStatus,
		At:            changed.OccurredAt(),
		CorrelationID: changed.CorrelationID,
	})
	if err != nil {
		h.release(id)
		return fmt.Errorf("notify overdue %s: %w", id, err)
	}
	return nil
}

// claim отмечает уведомление, если с прошлого прошло больше Cooldown.
func (h *OnStatusChangedHandler) claim(id string, now time.Time) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if last, ok := h.lastNotified[id]; ok && h.config.Cooldown > 0 && now.Sub(last) < h.config.Cooldown {
		return false
	}
	h.lastNotified[id] = now
	return true
}

func (h *OnStatusChangedHandler) release(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.lastNotified, id)
}

// Transitions возвращает счётчики переходов вида "Unpaid->Overdue".
func (h *OnStatusChangedHandler) Transitions() map[string]int {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make(map[string]int, len(h.transitions))
	for k, v := range h.transitions {
		out[k] = v
	}
	return out
}

// Package shared contains common domain types, errors, events, and value objects
// that are used across all domain packages.
package shared

import (
	"encoding/json"
	"time"
)

// EventType represents the type of domain event.
type EventType string

// Domain event types. Consumers (dashboards, exporters, notifiers) refresh
// their own views from these instead of polling the ledger.
const (
	// Student events
	EventStudentAdmitted EventType = "student.admitted"

	// Fee events
	EventPaymentRecorded    EventType = "fees.payment_recorded"
	EventInstallmentSettled EventType = "fees.installment_settled"
	EventStatusChanged      EventType = "fees.status_changed"

	// Promotion events
	EventStudentPromoted    EventType = "promotion.student_promoted"
	EventPromotionCompleted EventType = "fees.promotion_completed"
)

// Event is the base interface for all domain events.
type Event interface {
	// EventType returns the type of the event.
	EventType() EventType

	// OccurredAt returns when the event occurred.
	OccurredAt() time.Time

	// AggregateID returns the ID of the aggregate that produced this event.
	AggregateID() string

	// Payload returns the event data as a map for serialization.
	Payload() map[string]interface{}
}

// BaseEvent provides common event functionality.
type BaseEvent struct {
	Type          EventType `json:"type"`
	Timestamp     time.Time `json:"timestamp"`
	AggregateId   string    `json:"aggregate_id"`
	Version       int       `json:"version"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// EventType implements Event interface.
func (e BaseEvent) EventType() EventType {
	return e.Type
}

// OccurredAt implements Event interface.
func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// AggregateID implements Event interface.
func (e BaseEvent) AggregateID() string {
	return e.AggregateId
}

// NewBaseEvent creates a new base event.
func NewBaseEvent(eventType EventType, aggregateID string) BaseEvent {
	return BaseEvent{
		Type:        eventType,
		Timestamp:   time.Now(),
		AggregateId: aggregateID,
		Version:     1,
	}
}

// WithCorrelationID sets the correlation ID for tracing.
func (e BaseEvent) WithCorrelationID(id string) BaseEvent {
	e.CorrelationID = id
	return e
}

// ═══════════════════════════════════════════════════════════════════════════
// Student Events
// ═══════════════════════════════════════════════════════════════════════════

// StudentAdmittedEvent is emitted when a student is admitted and the ledger is opened.
type StudentAdmittedEvent struct {
	BaseEvent
	Name          string    `json:"name"`
	AdmissionDate time.Time `json:"admission_date"`
	Cycle         string    `json:"cycle"`
	TotalFee      string    `json:"total_fee"`
	Installments  int       `json:"installments"`
}

// Payload implements Event interface.
func (e StudentAdmittedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"name":           e.Name,
		"admission_date": e.AdmissionDate,
		"cycle":          e.Cycle,
		"total_fee":      e.TotalFee,
		"installments":   e.Installments,
	}
}

// NewStudentAdmittedEvent creates a new StudentAdmittedEvent.
func NewStudentAdmittedEvent(studentID, name string, admission time.Time, cycle, totalFee string, installments int) StudentAdmittedEvent {
	return StudentAdmittedEvent{
		BaseEvent:     NewBaseEvent(EventStudentAdmitted, studentID),
		Name:          name,
		AdmissionDate: admission,
		Cycle:         cycle,
		TotalFee:      totalFee,
		Installments:  installments,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Fee Events
// ═══════════════════════════════════════════════════════════════════════════

// PaymentRecordedEvent is emitted after a manual payment has been committed.
// Amounts travel as decimal strings so the shared package stays dependency free.
type PaymentRecordedEvent struct {
	BaseEvent
	RecordID     string `json:"record_id"`
	Amount       string `json:"amount"`
	Method       string `json:"method"`
	Token        string `json:"token"`
	RemainingDue string `json:"remaining_due"`
	Status       string `json:"status"`
}

// Payload implements Event interface.
func (e PaymentRecordedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"record_id":     e.RecordID,
		"amount":        e.Amount,
		"method":        e.Method,
		"token":         e.Token,
		"remaining_due": e.RemainingDue,
		"status":        e.Status,
	}
}

// NewPaymentRecordedEvent creates a new PaymentRecordedEvent.
func NewPaymentRecordedEvent(studentID, recordID, amount, method, token, remainingDue, status string) PaymentRecordedEvent {
	return PaymentRecordedEvent{
		BaseEvent:    NewBaseEvent(EventPaymentRecorded, studentID),
		RecordID:     recordID,
		Amount:       amount,
		Method:       method,
		Token:        token,
		RemainingDue: remainingDue,
		Status:       status,
	}
}

// InstallmentSettledEvent is emitted when promotion settles an installment.
type InstallmentSettledEvent struct {
	BaseEvent
	Cycle    string `json:"cycle"`
	Amount   string `json:"amount"`
	RecordID string `json:"record_id"`
}

// Payload implements Event interface.
func (e InstallmentSettledEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"cycle":     e.Cycle,
		"amount":    e.Amount,
		"record_id": e.RecordID,
	}
}

// NewInstallmentSettledEvent creates a new InstallmentSettledEvent.
func NewInstallmentSettledEvent(studentID, cycle, amount, recordID string) InstallmentSettledEvent {
	return InstallmentSettledEvent{
		BaseEvent: NewBaseEvent(EventInstallmentSettled, studentID),
		Cycle:     cycle,
		Amount:    amount,
		RecordID:  recordID,
	}
}

// StatusChangedEvent is emitted when the stored status label is refreshed to a new value.
type StatusChangedEvent struct {
	BaseEvent
	OldStatus string `json:"old_status"`
	NewStatus string `json:"new_status"`
}

// Payload implements Event interface.
func (e StatusChangedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"old_status": e.OldStatus,
		"new_status": e.NewStatus,
	}
}

// NewStatusChangedEvent creates a new StatusChangedEvent.
func NewStatusChangedEvent(studentID, oldStatus, newStatus string) StatusChangedEvent {
	return StatusChangedEvent{
		BaseEvent: NewBaseEvent(EventStatusChanged, studentID),
		OldStatus: oldStatus,
		NewStatus: newStatus,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Promotion Events
// ═══════════════════════════════════════════════════════════════════════════

// StudentPromotedEvent is emitted for each student moved to a new cycle.
type StudentPromotedEvent struct {
	BaseEvent
	FromCycle string `json:"from_cycle"`
	ToCycle   string `json:"to_cycle"`
	Settled   bool   `json:"settled"`
}

// Payload implements Event interface.
func (e StudentPromotedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"from_cycle": e.FromCycle,
		"to_cycle":   e.ToCycle,
		"settled":    e.Settled,
	}
}

// NewStudentPromotedEvent creates a new StudentPromotedEvent.
func NewStudentPromotedEvent(studentID, from, to string, settled bool) StudentPromotedEvent {
	return StudentPromotedEvent{
		BaseEvent: NewBaseEvent(EventStudentPromoted, studentID),
		FromCycle: from,
		ToCycle:   to,
		Settled:   settled,
	}
}

// PromotionCompletedEvent is emitted once per promotion batch. Callers use it
// to refresh their views of the affected students.
type PromotionCompletedEvent struct {
	BaseEvent
	SourceCycle string   `json:"source_cycle"`
	TargetCycle string   `json:"target_cycle"`
	Promoted    int      `json:"promoted"`
	Skipped     int      `json:"skipped"`
	Failed      int      `json:"failed"`
	StudentIDs  []string `json:"student_ids"`
}

// Payload implements Event interface.
func (e PromotionCompletedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"source_cycle": e.SourceCycle,
		"target_cycle": e.TargetCycle,
		"promoted":     e.Promoted,
		"skipped":      e.Skipped,
		"failed":       e.Failed,
		"student_ids":  e.StudentIDs,
	}
}

// NewPromotionCompletedEvent creates a new PromotionCompletedEvent.
// The aggregate id is the batch id.
func NewPromotionCompletedEvent(batchID, source, target string, promoted, skipped, failed int, ids []string) PromotionCompletedEvent {
	return PromotionCompletedEvent{
		BaseEvent:   NewBaseEvent(EventPromotionCompleted, batchID),
		SourceCycle: source,
		TargetCycle: target,
		Promoted:    promoted,
		Skipped:     skipped,
		Failed:      failed,
		StudentIDs:  ids,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Event Envelope (for serialization and transport)
// ═══════════════════════════════════════════════════════════════════════════

// EventEnvelope wraps an event for transport/storage.
type EventEnvelope struct {
	ID            string          `json:"id"`
	Type          EventType       `json:"type"`
	AggregateID   string          `json:"aggregate_id"`
	Timestamp     time.Time       `json:"timestamp"`
	Version       int             `json:"version"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

// NewEventEnvelope serializes an event payload into an envelope.
func NewEventEnvelope(id string, event Event) (EventEnvelope, error) {
	payload, err := json.Marshal(event.Payload())
	if err != nil {
		return EventEnvelope{}, err
	}
	env := EventEnvelope{
		ID:          id,
		Type:        event.EventType(),
		AggregateID: event.AggregateID(),
		Timestamp:   event.OccurredAt(),
		Version:     1,
		Payload:     payload,
	}
	if b, ok := event.(interface{ correlation() string }); ok {
		env.CorrelationID = b.correlation()
	}
	return env, nil
}

func (e BaseEvent) correlation() string {
	return e.CorrelationID
}

// EventHandler is a function that handles an event.
type EventHandler func(event Event) error

// EventPublisher defines the interface for publishing events.
type EventPublisher interface {
	// Publish sends an event to subscribers.
	Publish(event Event) error
}

// EventSubscriber defines the interface for subscribing to events.
type EventSubscriber interface {
	// Subscribe registers a handler for an event type.
	Subscribe(eventType EventType, handler EventHandler) error

	// SubscribeAll registers a handler for all events.
	SubscribeAll(handler EventHandler) error
}

// EventBus combines publishing and subscribing.
type EventBus interface {
	EventPublisher
	EventSubscriber
}

// NopPublisher discards events. Used when no bus is configured.
type NopPublisher struct{}

// Publish implements EventPublisher.
func (NopPublisher) Publish(Event) error { return nil }

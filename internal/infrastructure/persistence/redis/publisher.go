package redis

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/academy-hub/tuition-ledger/internal/domain/shared"
)

// EventPublisher fans domain events out over Redis pub/sub.
// Each event goes to its own channel, see PubSubChannel.
type EventPublisher struct {
	cache   *Cache
	timeout time.Duration
}

// NewEventPublisher creates a new EventPublisher.
func NewEventPublisher(cache *Cache) *EventPublisher {
	return &EventPublisher{
		cache:   cache,
		timeout: 2 * time.Second,
	}
}

// Publish wraps the event in an envelope and publishes it.
func (p *EventPublisher) Publish(event shared.Event) error {
	env, err := shared.NewEventEnvelope(uuid.NewString(), event)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	return p.cache.Publish(ctx, PubSubChannel(string(event.EventType())), env)
}

var _ shared.EventPublisher = (*EventPublisher)(nil)

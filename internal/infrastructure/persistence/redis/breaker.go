package redis

import (
	"context"
	"time"

	"github.com/academy-hub/tuition-ledger/internal/domain/ledger"
	"github.com/academy-hub/tuition-ledger/internal/domain/shared"
	"github.com/academy-hub/tuition-ledger/pkg/circuitbreaker"
)

// GuardedSnapshotCache puts a circuit breaker in front of a SnapshotCache.
// With the circuit open, Get reports a miss so reads go to the store, and
// Set fails fast.
//
// Invalidate always reaches Redis: a dropped invalidation would leave a
// stale snapshot behind once the circuit closes again.
type GuardedSnapshotCache struct {
	next ledger.SnapshotCache
	cb   *circuitbreaker.CircuitBreaker
}

// NewGuardedSnapshotCache wraps next with cb.
func NewGuardedSnapshotCache(next ledger.SnapshotCache, cb *circuitbreaker.CircuitBreaker) *GuardedSnapshotCache {
	return &GuardedSnapshotCache{next: next, cb: cb}
}

func (g *GuardedSnapshotCache) Get(ctx context.Context, studentID string) (*ledger.Snapshot, error) {
	var snap *ledger.Snapshot
	err := g.cb.Execute(ctx, func(ctx context.Context) error {
		var err error
		snap, err = g.next.Get(ctx, studentID)
		return err
	})
	if circuitbreaker.IsRejected(err) {
		return nil, nil
	}
	return snap, err
}

func (g *GuardedSnapshotCache) Set(ctx context.Context, snap ledger.Snapshot, ttl time.Duration) error {
	return g.cb.Execute(ctx, func(ctx context.Context) error {
		return g.next.Set(ctx, snap, ttl)
	})
}

func (g *GuardedSnapshotCache) Invalidate(ctx context.Context, studentIDs ...string) error {
	return g.next.Invalidate(ctx, studentIDs...)
}

// GuardedPublisher drops events while the circuit is open instead of
// waiting out the publish timeout for every event.
type GuardedPublisher struct {
	next shared.EventPublisher
	cb   *circuitbreaker.CircuitBreaker
}

// NewGuardedPublisher wraps next with cb.
func NewGuardedPublisher(next shared.EventPublisher, cb *circuitbreaker.CircuitBreaker) *GuardedPublisher {
	return &GuardedPublisher{next: next, cb: cb}
}

func (g *GuardedPublisher) Publish(event shared.Event) error {
	return g.cb.Execute(context.Background(), func(context.Context) error {
		return g.next.Publish(event)
	})
}

var (
	_ ledger.SnapshotCache  = (*GuardedSnapshotCache)(nil)
	_ shared.EventPublisher = (*GuardedPublisher)(nil)
)

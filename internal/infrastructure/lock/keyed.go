// Package lock provides the in-process per-student lock used when the
// distributed lock is disabled.
package lock

import (
	"context"
	"sync"

	"github.com/academy-hub/tuition-ledger/internal/domain/ledger"
	"github.com/academy-hub/tuition-ledger/internal/domain/shared"
)

// entry is a one-slot semaphore shared by all waiters of a key.
type entry struct {
	slot chan struct{}
	refs int
}

// KeyedMutex serializes callers per key. Distinct keys never block each other.
// Entries are dropped when their last holder or waiter leaves.
type KeyedMutex struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// NewKeyedMutex creates a KeyedMutex.
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{entries: make(map[string]*entry)}
}

// Lock blocks until the key is free or ctx is done.
func (k *KeyedMutex) Lock(ctx context.Context, key string) (func(), error) {
	e := k.acquireRef(key)

	select {
	case e.slot <- struct{}{}:
	case <-ctx.Done():
		k.releaseRef(key, e)
		return nil, shared.WrapError("lock", "Lock", shared.ErrLockNotAcquired,
			"timed out waiting for student "+key, ctx.Err())
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.slot
			k.releaseRef(key, e)
		})
	}, nil
}

// Len returns the number of keys currently held or awaited.
func (k *KeyedMutex) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.entries)
}

func (k *KeyedMutex) acquireRef(key string) *entry {
	k.mu.Lock()
	defer k.mu.Unlock()

	e, ok := k.entries[key]
	if !ok {
		e = &entry{slot: make(chan struct{}, 1)}
		k.entries[key] = e
	}
	e.refs++
	return e
}

func (k *KeyedMutex) releaseRef(key string, e *entry) {
	k.mu.Lock()
	defer k.mu.Unlock()

	e.refs--
	if e.refs == 0 {
		delete(k.entries, key)
	}
}

var _ ledger.Locker = (*KeyedMutex)(nil)

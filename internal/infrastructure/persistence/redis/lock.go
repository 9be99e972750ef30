package redis

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/academy-hub/tuition-ledger/internal/domain/ledger"
	"github.com/academy-hub/tuition-ledger/internal/domain/shared"
)

// releaseScript deletes the lock only if it still holds our token,
// so an expired lock re-acquired by another process is left alone.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker is a per-student distributed lock (SET NX PX + token-checked release).
// It serializes ledger mutations across API and worker processes.
type Locker struct {
	client     *redis.Client
	ttl        time.Duration
	retryDelay time.Duration
}

// NewLocker creates a Locker. A non-positive ttl falls back to TTLDistributedLock.
func NewLocker(cache *Cache, ttl time.Duration) *Locker {
	if ttl <= 0 {
		ttl = TTLDistributedLock
	}
	return &Locker{
		client:     cache.Client(),
		ttl:        ttl,
		retryDelay: 25 * time.Millisecond,
	}
}

// Lock blocks until the lock is held or ctx is done.
func (l *Locker) Lock(ctx context.Context, studentID string) (func(), error) {
	key := LockKey(studentID)
	token := uuid.NewString()

	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return nil, shared.WrapError("lock", "Lock", shared.ErrLockNotAcquired, "redis lock failed", err)
		}
		if ok {
			return func() { l.release(key, token) }, nil
		}

		select {
		case <-ctx.Done():
			return nil, shared.WrapError("lock", "Lock", shared.ErrLockNotAcquired,
				"timed out waiting for student "+studentID, ctx.Err())
		case <-time.After(l.retryDelay):
		}
	}
}

func (l *Locker) release(key, token string) {
	// Release must run even when the caller's context is already cancelled.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = releaseScript.Run(ctx, l.client, []string{key}, token).Err()
}

var _ ledger.Locker = (*Locker)(nil)

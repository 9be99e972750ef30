package redis

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/academy-hub/tuition-ledger/internal/domain/shared"
)

func newTestLocker(t *testing.T, ttl time.Duration) (*Locker, func(key string) string) {
	t.Helper()
	mr, cache := newTestCache(t)
	l := NewLocker(cache, ttl)
	l.retryDelay = 5 * time.Millisecond
	holder := func(key string) string {
		if !mr.Exists(key) {
			return ""
		}
		v, err := mr.Get(key)
		require.NoError(t, err)
		return v
	}
	return l, holder
}

func TestLocker_AcquireAndRelease(t *testing.T) {
	mr, cache := newTestCache(t)
	l := NewLocker(cache, 10*time.Second)

	unlock, err := l.Lock(context.Background(), "S-1")
	require.NoError(t, err)

	key := LockKey("S-1")
	require.True(t, mr.Exists(key))
	assert.Equal(t, 10*time.Second, mr.TTL(key))

	unlock()
	assert.False(t, mr.Exists(key))
}

func TestLocker_TimesOutWhileHeld(t *testing.T) {
	l, holder := newTestLocker(t, 10*time.Second)

	unlock, err := l.Lock(context.Background(), "S-1")
	require.NoError(t, err)
	defer unlock()
	owner := holder(LockKey("S-1"))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = l.Lock(ctx, "S-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrLockNotAcquired)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, owner, holder(LockKey("S-1")), "the holder keeps the lock")
}

func TestLocker_WaitsForRelease(t *testing.T) {
	l, _ := newTestLocker(t, 10*time.Second)

	unlock, err := l.Lock(context.Background(), "S-1")
	require.NoError(t, err)

	acquired := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		next, err := l.Lock(ctx, "S-1")
		if err == nil {
			next()
		}
		acquired <- err
	}()

	select {
	case err := <-acquired:
		t.Fatalf("second Lock returned while the first was held: %v", err)
	case <-time.After(30 * time.Millisecond):
	}

	unlock()
	require.NoError(t, <-acquired)
}

func TestLocker_OtherStudentsAreIndependent(t *testing.T) {
	l, _ := newTestLocker(t, 10*time.Second)

	unlockA, err := l.Lock(context.Background(), "S-A")
	require.NoError(t, err)
	defer unlockA()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	unlockB, err := l.Lock(ctx, "S-B")
	require.NoError(t, err)
	unlockB()
}

func TestLocker_ReleaseKeepsReacquiredLock(t *testing.T) {
	mr, cache := newTestCache(t)
	l := NewLocker(cache, time.Second)
	key := LockKey("S-1")

	staleUnlock, err := l.Lock(context.Background(), "S-1")
	require.NoError(t, err)
	first, err := mr.Get(key)
	require.NoError(t, err)

	// The first holder stalls past its TTL and someone else takes the lock.
	mr.FastForward(2 * time.Second)
	require.False(t, mr.Exists(key))

	unlock, err := l.Lock(context.Background(), "S-1")
	require.NoError(t, err)
	second, err := mr.Get(key)
	require.NoError(t, err)
	require.NotEqual(t, first, second)

	staleUnlock()
	got, err := mr.Get(key)
	require.NoError(t, err)
	assert.Equal(t, second, got)

	unlock()
	assert.False(t, mr.Exists(key))
}

func TestLocker_RedisDown(t *testing.T) {
	mr, cache := newTestCache(t)
	l := NewLocker(cache, time.Second)
	mr.Close()

	_, err := l.Lock(context.Background(), "S-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrLockNotAcquired)
}

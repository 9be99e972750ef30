package memory

import (
	"context"
	"sync"
	"time"

	"github.com/academy-hub/tuition-ledger/internal/domain/ledger"
)

// DefaultSnapshotTTL applies when Set is called with a non-positive ttl.
const DefaultSnapshotTTL = 5 * time.Minute

type cachedSnapshot struct {
	snap      ledger.Snapshot
	expiresAt time.Time
}

// SnapshotCache is an in-process ledger.SnapshotCache. It serves single
// process deployments on memory storage and the application tests.
type SnapshotCache struct {
	mu      sync.Mutex
	entries map[string]cachedSnapshot
	now     func() time.Time
}

// NewSnapshotCache creates an empty cache.
func NewSnapshotCache() *SnapshotCache {
	return &SnapshotCache{
		entries: make(map[string]cachedSnapshot),
		now:     time.Now,
	}
}

// Get returns the cached snapshot, or nil when absent or expired.
func (c *SnapshotCache) Get(ctx context.Context, studentID string) (*ledger.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[studentID]
	if !ok {
		return nil, nil
	}
	if !c.now().Before(e.expiresAt) {
		delete(c.entries, studentID)
		return nil, nil
	}
	snap := e.snap
	return &snap, nil
}

// Set stores snap unless a live entry carries a higher version.
func (c *SnapshotCache) Set(ctx context.Context, snap ledger.Snapshot, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if ttl <= 0 {
		ttl = DefaultSnapshotTTL
	}
	id := snap.StudentID.String()
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[id]; ok && now.Before(e.expiresAt) && e.snap.Version > snap.Version {
		return nil
	}
	c.entries[id] = cachedSnapshot{snap: snap, expiresAt: now.Add(ttl)}
	return nil
}

// Invalidate removes the given students.
func (c *SnapshotCache) Invalidate(ctx context.Context, studentIDs ...string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range studentIDs {
		delete(c.entries, id)
	}
	return nil
}

var _ ledger.SnapshotCache = (*SnapshotCache)(nil)

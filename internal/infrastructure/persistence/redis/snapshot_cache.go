package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/academy-hub/tuition-ledger/internal/domain/ledger"
	"github.com/academy-hub/tuition-ledger/internal/domain/shared"
)

// setSnapshotScript writes the snapshot hash unless the stored version is
// newer. Returns 1 when written, 0 when the write was dropped.
var setSnapshotScript = redis.NewScript(`
local cur = redis.call("HGET", KEYS[1], "version")
if cur and tonumber(cur) > tonumber(ARGV[1]) then
	return 0
end
redis.call("HSET", KEYS[1], "version", ARGV[1], "data", ARGV[2])
redis.call("PEXPIRE", KEYS[1], ARGV[3])
return 1
`)

// SnapshotCache implements ledger.SnapshotCache on top of Cache.
// Each student is a hash with "version" and "data" fields.
// A miss is (nil, nil); callers fall back to the store.
type SnapshotCache struct {
	client *redis.Client
}

// NewSnapshotCache creates a new SnapshotCache.
func NewSnapshotCache(cache *Cache) *SnapshotCache {
	return &SnapshotCache{client: cache.Client()}
}

// snapshotDTO is the cached wire form. Amounts are kept as decimal strings.
type snapshotDTO struct {
	StudentID string          `json:"student_id"`
	Version   int64           `json:"version"`
	Total     decimal.Decimal `json:"total"`
	Paid      decimal.Decimal `json:"paid"`
	Due       decimal.Decimal `json:"due"`
	Status    string          `json:"status"`
	AsOf      time.Time       `json:"as_of"`
}

func toSnapshotDTO(s ledger.Snapshot) snapshotDTO {
	return snapshotDTO{
		StudentID: s.StudentID.String(),
		Version:   s.Version,
		Total:     s.Total,
		Paid:      s.Paid,
		Due:       s.Due,
		Status:    string(s.Status),
		AsOf:      s.AsOf,
	}
}

func (d snapshotDTO) toDomain() ledger.Snapshot {
	return ledger.Snapshot{
		StudentID: shared.StudentID(d.StudentID),
		Version:   d.Version,
		Total:     d.Total,
		Paid:      d.Paid,
		Due:       d.Due,
		Status:    ledger.Status(d.Status),
		AsOf:      d.AsOf,
	}
}

// Get returns the cached snapshot of a student.
func (c *SnapshotCache) Get(ctx context.Context, studentID string) (*ledger.Snapshot, error) {
	data, err := c.client.HGet(ctx, LedgerKey(studentID), "data").Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	var dto snapshotDTO
	if err := json.Unmarshal(data, &dto); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCacheSerialization, err)
	}
	snap := dto.toDomain()
	return &snap, nil
}

// Set stores a snapshot unless the cached one has a higher version.
func (c *SnapshotCache) Set(ctx context.Context, snap ledger.Snapshot, ttl time.Duration) error {
	_, err := c.set(ctx, snap, ttl)
	return err
}

func (c *SnapshotCache) set(ctx context.Context, snap ledger.Snapshot, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = TTLSnapshotCache
	}
	data, err := json.Marshal(toSnapshotDTO(snap))
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrCacheSerialization, err)
	}
	key := LedgerKey(snap.StudentID.String())
	n, err := setSnapshotScript.Run(ctx, c.client, []string{key}, snap.Version, data, ttl.Milliseconds()).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Invalidate drops the cached snapshots of the given students.
func (c *SnapshotCache) Invalidate(ctx context.Context, studentIDs ...string) error {
	if len(studentIDs) == 0 {
		return nil
	}
	keys := make([]string, 0, len(studentIDs))
	for _, id := range studentIDs {
		keys = append(keys, LedgerKey(id))
	}
	return c.client.Del(ctx, keys...).Err()
}

var _ ledger.SnapshotCache = (*SnapshotCache)(nil)

package snapshot

import (
	"context"
	"log"
	"time"

	"github.com/ChokorKassem/web-client-detector/internal/platform"
)

// StalenessWindow is how long a snapshot stays usable as a live-data
// substitute.
const StalenessWindow = 24 * time.Hour

// Cache layers the staleness policy over a Store. Persistence failures are
// logged and swallowed: the cache degrades to a miss, never crashes the
// caller.
type Cache struct {
	store  Store
	maxAge time.Duration
	now    func() time.Time
}

// NewCache creates a cache with the standard 24h staleness window.
func NewCache(store Store) *Cache {
	return &Cache{store: store, maxAge: StalenessWindow, now: time.Now}
}

// Put records the surface set for a user, refreshing its capture time.
func (c *Cache) Put(ctx context.Context, userID int64, surfaces []platform.Surface) {
	if err := c.store.Put(ctx, userID, platform.Strings(surfaces), c.now()); err != nil {
		log.Printf("[Snapshot] Failed to store snapshot for user %d: %v", userID, err)
	}
}

// Fresh returns the cached surface set if it is within the staleness
// window. Misses, stale entries and store errors all report false.
func (c *Cache) Fresh(ctx context.Context, userID int64) ([]platform.Surface, bool) {
	surfaces, capturedAt, ok := c.Lookup(ctx, userID)
	if !ok {
		return nil, false
	}
	if c.now().Sub(capturedAt) >= c.maxAge {
		return nil, false
	}
	return surfaces, true
}

// Lookup returns the cached surface set regardless of age, with its capture
// time. The caller decides the staleness policy.
func (c *Cache) Lookup(ctx context.Context, userID int64) ([]platform.Surface, time.Time, bool) {
	platforms, capturedAt, err := c.store.Get(ctx, userID)
	if err != nil {
		if !IsNotFound(err) {
			log.Printf("[Snapshot] Failed to read snapshot for user %d: %v", userID, err)
		}
		return nil, time.Time{}, false
	}
	return platform.FromStrings(platforms), capturedAt, true
}

// Forget removes a user's snapshot.
func (c *Cache) Forget(ctx context.Context, userID int64) {
	if err := c.store.Delete(ctx, userID); err != nil {
		log.Printf("[Snapshot] Failed to delete snapshot for user %d: %v", userID, err)
	}
}

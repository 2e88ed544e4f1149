package channel

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/warp/stock-ledger/ledger"
)

// DefaultSelectionTTL is how long a chat user's product selection lives.
const DefaultSelectionTTL = 5 * time.Minute

// SelectionCache remembers the last product a chat user picked.
type SelectionCache interface {
	// Get returns the selected product and false when nothing is selected
	// or the selection expired.
	Get(ctx context.Context, key string) (ledger.ProductID, bool, error)
	Set(ctx context.Context, key string, id ledger.ProductID, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// SelectionKey scopes a selection to one user in one channel.
func SelectionKey(channelID, userID string) string {
	return "selection:" + channelID + ":" + userID
}

// =============================================================================
// MEMORY CACHE
// =============================================================================

type memoryEntry struct {
	product   ledger.ProductID
	expiresAt time.Time
}

// memorySweepInterval bounds how often Set scans for expired entries.
const memorySweepInterval = time.Minute

// MemoryCache keeps selections in process. Expired entries are dropped when
// read, and Set sweeps the rest at most once per memorySweepInterval so
// users who never come back do not pile up.
type MemoryCache struct {
	Now func() time.Time

	mu        sync.Mutex
	items     map[string]memoryEntry
	nextSweep time.Time
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{items: make(map[string]memoryEntry)}
}

func (c *MemoryCache) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

func (c *MemoryCache) Get(_ context.Context, key string) (ledger.ProductID, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.items[key]
	if !ok {
		return 0, false, nil
	}
	if !c.now().Before(e.expiresAt) {
		delete(c.items, key)
		return 0, false, nil
	}
	return e.product, true, nil
}

func (c *MemoryCache) Set(_ context.Context, key string, id ledger.ProductID, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	if !now.Before(c.nextSweep) {
		for k, e := range c.items {
			if !now.Before(e.expiresAt) {
				delete(c.items, k)
			}
		}
		c.nextSweep = now.Add(memorySweepInterval)
	}
	c.items[key] = memoryEntry{product: id, expiresAt: now.Add(ttl)}
	return nil
}

// Len reports how many entries are held, expired or not.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

func (c *MemoryCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
	return nil
}

// =============================================================================
// REDIS CACHE
// =============================================================================

// RedisCache shares selections between server instances. Expiry is left to
// Redis.
type RedisCache struct {
	rdb redis.UniversalClient
}

func NewRedisCache(rdb redis.UniversalClient) *RedisCache {
	return &RedisCache{rdb: rdb}
}

func (c *RedisCache) Get(ctx context.Context, key string) (ledger.ProductID, bool, error) {
	v, err := c.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("%w: get %s: %v", ledger.ErrStorageUnavailable, key, err)
	}
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		// a value we did not write; treat as no selection
		return 0, false, nil
	}
	return ledger.ProductID(id), true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, id ledger.ProductID, ttl time.Duration) error {
	if err := c.rdb.Set(ctx, key, int64(id), ttl).Err(); err != nil {
		return fmt.Errorf("%w: set %s: %v", ledger.ErrStorageUnavailable, key, err)
	}
	return nil
}

func (c *RedisCache) Delete(ctx context.Context, key string) error {
	if err := c.rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("%w: del %s: %v", ledger.ErrStorageUnavailable, key, err)
	}
	return nil
}

var (
	_ SelectionCache = (*MemoryCache)(nil)
	_ SelectionCache = (*RedisCache)(nil)
)

// Package cachemem is a small TTL cache for quota ledger readouts on
// the catalog surface. Enforcement never reads it; only the readout
// endpoint does, so a stale entry can never admit an over-quota write.
package cachemem

import (
	"context"
	"sync"
	"time"

	"github.com/Fedosin/glare/internal/domain"
)

type Cache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
}

type cacheEntry struct {
	value     domain.QuotaLedger
	expiresAt time.Time
}

func New() *Cache {
	return &Cache{entries: make(map[string]cacheEntry)}
}

func (c *Cache) Get(ctx context.Context, key string) (*domain.QuotaLedger, bool, error) {
	if c == nil {
		return nil, false, nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok {
		return nil, false, nil
	}
	if time.Now().After(entry.expiresAt) {
		delete(c.entries, key)
		return nil, false, nil
	}
	value := entry.value
	return &value, true, nil
}

func (c *Cache) Put(ctx context.Context, key string, value domain.QuotaLedger, ttl time.Duration) error {
	if c == nil || ttl <= 0 {
		return nil
	}
	c.mu.Lock()
	c.entries[key] = cacheEntry{value: value, expiresAt: time.Now().Add(ttl)}
	c.mu.Unlock()
	return nil
}

func (c *Cache) Delete(ctx context.Context, key string) error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
	return nil
}

package cache

import (
	"context"
	"sync"
	"time"

	"github.com/rookgm/orderflow/internal/models"
)

type memoryItem struct {
	order     models.Order
	expiresAt time.Time
}

// MemoryCache is in-memory TTL cache with the same contract as RedisCache.
// It is used when no redis address is configured, and in tests.
type MemoryCache struct {
	mu    sync.RWMutex
	items map[string]memoryItem
}

// NewMemoryCache creates empty MemoryCache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{items: make(map[string]memoryItem)}
}

// Get returns cached order result. It returns models.ErrDataNotFound
// when key is absent or expired.
func (c *MemoryCache) Get(_ context.Context, key string) (*models.Order, error) {
	c.mu.RLock()
	item, ok := c.items[key]
	c.mu.RUnlock()
	if !ok {
		return nil, models.ErrDataNotFound
	}

	if time.Now().After(item.expiresAt) {
		c.mu.Lock()
		delete(c.items, key)
		c.mu.Unlock()
		return nil, models.ErrDataNotFound
	}

	order := item.order
	return &order, nil
}

// Set stores order result under key with ttl.
func (c *MemoryCache) Set(_ context.Context, key string, order *models.Order, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = memoryItem{order: *order, expiresAt: time.Now().Add(ttl)}
	return nil
}

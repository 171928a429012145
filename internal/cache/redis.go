package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rookgm/orderflow/internal/models"
)

// RedisCache stores processed order results in redis keyed by
// "order:<idempotency key>".
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache connects to redis at addr and pings it.
func NewRedisCache(ctx context.Context, addr string) (*RedisCache, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := rdb.Ping(pingCtx).Err(); err != nil {
		return nil, err
	}

	return &RedisCache{client: rdb}, nil
}

// Get returns cached order result. It returns models.ErrDataNotFound
// when key is absent or expired.
func (c *RedisCache) Get(ctx context.Context, key string) (*models.Order, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, models.ErrDataNotFound
		}
		return nil, err
	}

	order := models.Order{}
	if err := json.Unmarshal(data, &order); err != nil {
		return nil, err
	}

	return &order, nil
}

// Set stores order result under key with ttl.
func (c *RedisCache) Set(ctx context.Context, key string, order *models.Order, ttl time.Duration) error {
	data, err := json.Marshal(order)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, data, ttl).Err()
}

// Close closes underlying redis client.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

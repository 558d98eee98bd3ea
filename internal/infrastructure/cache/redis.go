package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const idempotencyKeyPrefix = "invsync:idem:"

// RedisCache is the advisory duplicate filter in front of the queue. A hit
// means this idempotency key was already seen recently and the delivery can
// be acknowledged without enqueueing. It is a fast path only: the mutation
// transaction re-checks the durable marker table, so a cache miss for an
// already-applied event is safe, just slower.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisCache(addr, password string, db int, ttl time.Duration) *RedisCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisCache{client: client, ttl: ttl}
}

// Seen reports whether this idempotency key was recorded recently
func (c *RedisCache) Seen(ctx context.Context, idempotencyKey string) (bool, error) {
	n, err := c.client.Exists(ctx, idempotencyKeyPrefix+idempotencyKey).Result()
	if err != nil {
		return false, fmt.Errorf("idempotency cache check failed: %w", err)
	}
	return n > 0, nil
}

// MarkSeen records an idempotency key. Callers mark only after the event is
// safely on the queue: a key must never be recorded for an event that was
// not enqueued, or its redelivery would be answered as a duplicate and the
// event lost. Marking late at worst lets a racing redelivery enqueue twice,
// which the apply transaction discards.
func (c *RedisCache) MarkSeen(ctx context.Context, idempotencyKey string) error {
	return c.client.Set(ctx, idempotencyKeyPrefix+idempotencyKey, 1, c.ttl).Err()
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const notificationPrefix = "ledger:notification:"

// NotificationCache implements ports.IdempotencyCache using Redis.
// It only short-circuits replays; the processed_notifications table stays authoritative.
type NotificationCache struct {
	client *goredis.Client
	prefix string
}

// NewNotificationCache creates a new Redis-backed notification cache.
func NewNotificationCache(client *goredis.Client) *NotificationCache {
	return &NotificationCache{
		client: client,
		prefix: notificationPrefix,
	}
}

// Get returns the stored outcome for key.
// Returns nil, nil if the key does not exist.
func (c *NotificationCache) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis notification get: %w", err)
	}
	return val, nil
}

// Set stores the outcome for key. A zero ttl keeps the key forever.
func (c *NotificationCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.client.Set(ctx, c.prefix+key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis notification set: %w", err)
	}
	return nil
}

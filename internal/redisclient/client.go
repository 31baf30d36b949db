package redisclient

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

//go:embed scripts/release_lock.lua
var releaseLockScript string

type Client struct {
	rdb           *redis.Client
	releaseScript *redis.Script
}

// NewClient creates a new Redis client with Lua scripts loaded
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{
		rdb:           rdb,
		releaseScript: redis.NewScript(releaseLockScript),
	}, nil
}

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// AcquireOrderLock takes the per-order processing mutex. The token must be
// passed back to ReleaseOrderLock so an expired lock held by another
// process is never deleted.
func (c *Client) AcquireOrderLock(ctx context.Context, orderID int64, token string, ttl time.Duration) (bool, error) {
	key := fmt.Sprintf("lock:order-refund:%d", orderID)
	return c.rdb.SetNX(ctx, key, token, ttl).Result()
}

// ReleaseOrderLock releases the per-order processing mutex if the token
// still matches, using a Lua compare-and-delete.
func (c *Client) ReleaseOrderLock(ctx context.Context, orderID int64, token string) error {
	key := fmt.Sprintf("lock:order-refund:%d", orderID)

	_, err := c.releaseScript.Run(ctx, c.rdb, []string{key}, token).Result()
	if err != nil {
		return fmt.Errorf("release lock script failed: %w", err)
	}
	return nil
}

// MarkEventSeen records a webhook event ID with a TTL and reports whether
// it was already seen. Used to cheaply drop exact webhook redeliveries;
// the reconciler stays idempotent regardless.
func (c *Client) MarkEventSeen(ctx context.Context, eventID string, ttl time.Duration) (alreadySeen bool, err error) {
	key := fmt.Sprintf("webhook-event:%s", eventID)
	set, err := c.rdb.SetNX(ctx, key, "1", ttl).Result()
	if err != nil {
		return false, err
	}
	return !set, nil
}

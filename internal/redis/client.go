package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/payloom/link-server-go/internal/config"
)

type Client struct {
	*redis.Client
}

func NewClient(redisURL string) (*Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &Client{client}, nil
}

func (c *Client) Close() error {
	return c.Client.Close()
}

// AcquireLock takes a short lease on key. Returns false when another holder
// already owns it.
func (c *Client) AcquireLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := c.SetNX(ctx, key, time.Now().Unix(), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	return ok, nil
}

// ReleaseLock drops a lease taken with AcquireLock.
func (c *Client) ReleaseLock(ctx context.Context, key string) error {
	return c.Del(ctx, key).Err()
}

// LinkLockKey is the per-user completion lock: two concurrent completions for
// the same user must not both run the chain.
func LinkLockKey(userID string) string {
	return fmt.Sprintf("linklock:%s", userID)
}

// AcquireLink takes the per-user completion lock. The TTL bounds how long a
// crashed completion can block the user.
func (c *Client) AcquireLink(ctx context.Context, userID string) (bool, error) {
	return c.AcquireLock(ctx, LinkLockKey(userID), config.LinkLockTTL)
}

// ReleaseLink drops the per-user completion lock.
func (c *Client) ReleaseLink(ctx context.Context, userID string) error {
	return c.ReleaseLock(ctx, LinkLockKey(userID))
}

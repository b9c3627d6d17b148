// Package statuscache keeps terminal job statuses in Redis so status polling
// does not hit the job store once a job has finished.
//
// Only completed and failed statuses are written. A job that is still
// processing is always read from the store, so a poller can never observe a
// stale non-terminal status after the job finished.
package statuscache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"imgbatch/internal/config"
	"imgbatch/internal/jobstore"
)

const keyPrefix = "imgbatch:job:"

// Cache stores terminal job statuses with a TTL.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// Connect dials Redis using cfg and verifies the connection.
func Connect(ctx context.Context, cfg config.Cache) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		PoolSize:     10,
		MinIdleConns: 2,
		PoolTimeout:  5 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return New(client, time.Duration(cfg.TTLSeconds)*time.Second), nil
}

// New wraps an existing client. A zero ttl keeps entries until evicted.
func New(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

// Key returns the Redis key holding the status of jobID.
func Key(jobID string) string {
	return keyPrefix + jobID
}

// Get returns the cached status. ok is false on a cache miss.
func (c *Cache) Get(ctx context.Context, jobID string) (status jobstore.Status, ok bool, err error) {
	value, err := c.client.Get(ctx, Key(jobID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get cached status: %w", err)
	}
	return jobstore.Status(value), true, nil
}

// Put caches status when it is terminal and ignores it otherwise.
func (c *Cache) Put(ctx context.Context, jobID string, status jobstore.Status) error {
	if !status.IsTerminal() {
		return nil
	}
	if err := c.client.Set(ctx, Key(jobID), string(status), c.ttl).Err(); err != nil {
		return fmt.Errorf("cache status: %w", err)
	}
	return nil
}

// Close releases the client.
func (c *Cache) Close() error {
	return c.client.Close()
}

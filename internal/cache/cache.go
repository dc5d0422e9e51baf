// Package cache wraps github.com/redis/go-redis/v9 as a small read-through
// JSON cache, the same shape the pack's web-search-state service uses
// (marshal to JSON, SET with a TTL, GET and unmarshal back). It backs the
// provider-response cache in internal/newssearch and the session cache in
// internal/dialogue.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// Client is a thin JSON-valued wrapper over a redis client.
type Client struct {
	rdb *redis.Client
}

// New builds a Client from a redis connection string
// (redis://[:password@]host:port/db). An empty connectionString disables
// the cache: every method becomes a no-op miss, so callers can wire a
// *Client unconditionally and fall back to their source of truth when the
// cache is not configured.
func New(connectionString string) (*Client, error) {
	if connectionString == "" {
		return &Client{}, nil
	}
	opts, err := redis.ParseURL(connectionString)
	if err != nil {
		return nil, err
	}
	return &Client{rdb: redis.NewClient(opts)}, nil
}

// Enabled reports whether the client is backed by a real connection.
func (c *Client) Enabled() bool { return c != nil && c.rdb != nil }

// Ping verifies connectivity, used at startup to fail fast on a bad
// connection string rather than silently degrading to cache misses later.
func (c *Client) Ping(ctx context.Context) error {
	if !c.Enabled() {
		return nil
	}
	return c.rdb.Ping(ctx).Err()
}

// Close releases the underlying connection pool.
func (c *Client) Close() error {
	if !c.Enabled() {
		return nil
	}
	return c.rdb.Close()
}

// Get unmarshals the cached value at key into dest, reporting (false, nil)
// on a miss or a disabled client so callers can treat both the same way.
func (c *Client) Get(ctx context.Context, key string, dest any) (bool, error) {
	if !c.Enabled() {
		return false, nil
	}
	raw, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return false, err
	}
	return true, nil
}

// Set marshals value as JSON and stores it at key with the given TTL. A
// zero TTL means no expiration. A disabled client silently no-ops.
func (c *Client) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	if !c.Enabled() {
		return nil
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, key, raw, ttl).Err()
}

// Delete removes a cached key, used when a session or response should no
// longer be served from cache (e.g. session deletion).
func (c *Client) Delete(ctx context.Context, key string) error {
	if !c.Enabled() {
		return nil
	}
	return c.rdb.Del(ctx, key).Err()
}

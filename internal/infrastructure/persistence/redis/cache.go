// Package redis implements Redis-backed storage for the bot: a small JSON
// cache and a session store built on it.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrCacheMiss is returned by Get when the key does not exist.
	ErrCacheMiss = errors.New("cache: key not found")

	// ErrCacheKeyEmpty is returned for an empty key.
	ErrCacheKeyEmpty = errors.New("cache: key cannot be empty")

	// ErrCacheEncoding wraps JSON encode and decode failures.
	ErrCacheEncoding = errors.New("cache: encoding failed")
)

// Config describes the Redis connection.
type Config struct {
	Host     string
	Port     int
	Password string
	DB       int
	PoolSize int

	// DialTimeout also bounds the initial ping.
	DialTimeout time.Duration

	// KeyPrefix namespaces every key written by this process.
	KeyPrefix string
}

// DefaultConfig returns settings for a local Redis.
func DefaultConfig() Config {
	return Config{
		Host:        "localhost",
		Port:        6379,
		PoolSize:    10,
		DialTimeout: 5 * time.Second,
		KeyPrefix:   "botcore:",
	}
}

// Addr returns host:port.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

func (c Config) options() *redis.Options {
	return &redis.Options{
		Addr:         c.Addr(),
		Password:     c.Password,
		DB:           c.DB,
		PoolSize:     c.PoolSize,
		DialTimeout:  c.DialTimeout,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		MaxRetries:   3,
	}
}

// Cache stores JSON values under prefixed keys.
type Cache struct {
	client redis.UniversalClient
	prefix string
}

// NewCache connects and pings. The ping is bounded by cfg.DialTimeout as
// well as ctx.
func NewCache(ctx context.Context, cfg Config) (*Cache, error) {
	client := redis.NewClient(cfg.options())

	if cfg.DialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.DialTimeout)
		defer cancel()
	}
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("cache: ping %s: %w", cfg.Addr(), err)
	}

	return &Cache{client: client, prefix: cfg.KeyPrefix}, nil
}

// NewCacheFromClient wraps an existing client. The caller owns its lifecycle.
func NewCacheFromClient(client redis.UniversalClient, prefix string) *Cache {
	return &Cache{client: client, prefix: prefix}
}

// Close closes the client.
func (c *Cache) Close() error { return c.client.Close() }

// Ping backs the /healthz check.
func (c *Cache) Ping(ctx context.Context) error { return c.client.Ping(ctx).Err() }

func (c *Cache) key(k string) (string, error) {
	if k == "" {
		return "", ErrCacheKeyEmpty
	}
	return c.prefix + k, nil
}

// Set stores value as JSON. A zero ttl keeps the key forever.
func (c *Cache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	full, err := c.key(key)
	if err != nil {
		return err
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCacheEncoding, err)
	}
	return c.client.Set(ctx, full, data, max(ttl, 0)).Err()
}

// Get decodes the value under key into dest, or returns ErrCacheMiss.
func (c *Cache) Get(ctx context.Context, key string, dest any) error {
	full, err := c.key(key)
	if err != nil {
		return err
	}

	data, err := c.client.Get(ctx, full).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		return ErrCacheMiss
	case err != nil:
		return err
	}

	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("%w: %v", ErrCacheEncoding, err)
	}
	return nil
}

// Delete removes keys; missing ones are ignored.
func (c *Cache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, 0, len(keys))
	for _, k := range keys {
		fk, err := c.key(k)
		if err != nil {
			return err
		}
		full = append(full, fk)
	}
	return c.client.Del(ctx, full...).Err()
}

// TTL returns the remaining lifetime of key: -2 when it is missing, -1 when
// it never expires.
func (c *Cache) TTL(ctx context.Context, key string) (time.Duration, error) {
	full, err := c.key(key)
	if err != nil {
		return 0, err
	}
	return c.client.TTL(ctx, full).Result()
}

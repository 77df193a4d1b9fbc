// Package redis is the key/value store behind the query result cache.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Adithya-Monish-Kumar-K/rowsearch/pkg/config"
)

const (
	dialTimeout = 2 * time.Second
	scanCount   = 256
)

type Client struct {
	rdb  *redis.Client
	addr string
}

// NewClient connects to cfg.Addr and fails unless the server answers a PING
// within ctx.
func NewClient(ctx context.Context, cfg config.RedisConfig) (*Client, error) {
	c := &Client{
		rdb: redis.NewClient(&redis.Options{
			Addr:        cfg.Addr,
			Password:    cfg.Password,
			DB:          cfg.DB,
			PoolSize:    cfg.PoolSize,
			DialTimeout: dialTimeout,
		}),
		addr: cfg.Addr,
	}
	if err := c.Ping(ctx); err != nil {
		_ = c.rdb.Close()
		return nil, err
	}
	return c, nil
}

// Load returns the value stored at key. A missing key is reported as
// found == false with a nil error.
func (c *Client) Load(ctx context.Context, key string) (value []byte, found bool, err error) {
	value, err = c.rdb.Get(ctx, key).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		return nil, false, nil
	case err != nil:
		return nil, false, err
	}
	return value, true, nil
}

func (c *Client) Store(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.rdb.Set(ctx, key, value, ttl).Err()
}

// DeletePrefix unlinks every key starting with prefix and returns how many
// were removed. Keys are collected with SCAN, so concurrent writers may
// leave new keys behind.
func (c *Client) DeletePrefix(ctx context.Context, prefix string) (int64, error) {
	var (
		removed int64
		cursor  uint64
	)
	for {
		keys, next, err := c.rdb.Scan(ctx, cursor, prefix+"*", scanCount).Result()
		if err != nil {
			return removed, fmt.Errorf("scanning %s*: %w", prefix, err)
		}
		if len(keys) > 0 {
			n, err := c.rdb.Unlink(ctx, keys...).Result()
			if err != nil {
				return removed, fmt.Errorf("unlinking %d keys: %w", len(keys), err)
			}
			removed += n
		}
		if next == 0 {
			return removed, nil
		}
		cursor = next
	}
}

func (c *Client) Ping(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping %s: %w", c.addr, err)
	}
	return nil
}

func (c *Client) Close() error {
	return c.rdb.Close()
}

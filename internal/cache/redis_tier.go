package cache

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/theminkantoso/2425II-INT6017-CS2-group-project/internal/common"
)

// RedisTier is the fast tier. Entries never expire on their own: keys are
// content-derived, values are small locators, and the durable tier remains
// the source of truth if Redis loses them.
type RedisTier struct {
	rdb    *redis.Client
	prefix string
}

// OpenRedisTier connects the fast tier and verifies the connection.
func OpenRedisTier(ctx context.Context, cfg common.CacheConfig) (*RedisTier, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr: cfg.Addr,
		DB:   cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("cache connect: %w", err)
	}
	return &RedisTier{rdb: rdb}, nil
}

// Namespace returns a view of the tier with every key prefixed, so the
// content and text caches can share one connection without colliding.
func (t *RedisTier) Namespace(prefix string) *RedisTier {
	return &RedisTier{rdb: t.rdb, prefix: prefix}
}

// Client exposes the underlying connection for other Redis users (pub/sub
// notifications).
func (t *RedisTier) Client() *redis.Client {
	return t.rdb
}

func (t *RedisTier) Close() error {
	return t.rdb.Close()
}

func (t *RedisTier) Get(ctx context.Context, key string) (string, bool, error) {
	locator, err := t.rdb.Get(ctx, t.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("fast tier get: %w", err)
	}
	return locator, true, nil
}

func (t *RedisTier) Set(ctx context.Context, key, locator string) error {
	if err := t.rdb.Set(ctx, t.prefix+key, locator, 0).Err(); err != nil {
		return fmt.Errorf("fast tier set: %w", err)
	}
	return nil
}

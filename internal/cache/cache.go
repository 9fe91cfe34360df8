// Package cache implements the two-tier content cache: a fast key/value
// tier consulted first and a durable tier that is the source of truth.
package cache

import (
	"context"
	"log/slog"
)

// Tier is one cache level: fingerprint -> artifact locator.
type Tier interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, locator string) error
}

// Cache reads through the fast tier into the durable tier, backfilling the
// fast tier on a durable hit. Writes commit to the durable tier before the
// fast tier, so durability precedes visibility.
type Cache struct {
	fast    Tier
	durable Tier
	logger  *slog.Logger
}

func New(fast, durable Tier, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{fast: fast, durable: durable, logger: logger}
}

// Get returns the artifact locator for a fingerprint, if any tier has it.
// Fast-tier errors degrade to durable reads rather than failing the lookup.
func (c *Cache) Get(ctx context.Context, key string) (string, bool, error) {
	locator, ok, err := c.fast.Get(ctx, key)
	if err != nil {
		c.logger.Warn("fast tier read failed, falling back", "key", key, "error", err)
	} else if ok {
		return locator, true, nil
	}

	locator, ok, err = c.durable.Get(ctx, key)
	if err != nil {
		return "", false, err
	}
	if !ok {
		return "", false, nil
	}

	// Backfill so the next lookup stays off the database. Best effort: a
	// miss here just re-reads the durable tier.
	if err := c.fast.Set(ctx, key, locator); err != nil {
		c.logger.Warn("fast tier backfill failed", "key", key, "error", err)
	}
	return locator, true, nil
}

// Set durably writes the entry, then populates the fast tier. A fast-tier
// failure is logged, not returned: the durable write already guarantees
// read-after-write for every caller.
func (c *Cache) Set(ctx context.Context, key, locator string) error {
	if err := c.durable.Set(ctx, key, locator); err != nil {
		return err
	}
	if err := c.fast.Set(ctx, key, locator); err != nil {
		c.logger.Warn("fast tier write failed", "key", key, "error", err)
	}
	return nil
}

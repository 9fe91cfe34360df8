package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ArtifactCacheRepository is the durable cache tier: fingerprint -> final
// artifact locator. Entries are immutable once written; deletion is a soft
// flag only.
type ArtifactCacheRepository interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, locator string) error
}

type artifactCacheRepo struct {
	pool   *pgxpool.Pool
	table  string
	keyCol string
	log    *slog.Logger
}

// NewContentCacheRepository maps content fingerprints to artifact locators.
func NewContentCacheRepository(pool *pgxpool.Pool, log *slog.Logger) ArtifactCacheRepository {
	if log == nil {
		log = slog.Default()
	}
	return &artifactCacheRepo{pool: pool, table: "content_cache", keyCol: "fingerprint", log: log}
}

// NewTextCacheRepository maps encoded-text keys to artifact locators.
func NewTextCacheRepository(pool *pgxpool.Pool, log *slog.Logger) ArtifactCacheRepository {
	if log == nil {
		log = slog.Default()
	}
	return &artifactCacheRepo{pool: pool, table: "text_cache", keyCol: "text_key", log: log}
}

func (r *artifactCacheRepo) Get(ctx context.Context, key string) (string, bool, error) {
	q := fmt.Sprintf(
		`SELECT artifact_url FROM %s WHERE %s = $1 AND is_deleted = false`,
		r.table, r.keyCol,
	)
	var locator string
	err := r.pool.QueryRow(ctx, q, key).Scan(&locator)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		r.log.Error("cache lookup failed", "table", r.table, "err", err)
		return "", false, fmt.Errorf("cache get %s: %w", r.table, err)
	}
	return locator, true, nil
}

// Set writes the entry if no live entry holds the key. Cache values are
// content-derived, so a concurrent writer always writes the same locator;
// first write wins and conflicts are ignored. The conflict target matches
// the partial unique index, so a soft-deleted row never blocks
// re-population.
func (r *artifactCacheRepo) Set(ctx context.Context, key, locator string) error {
	q := fmt.Sprintf(
		`INSERT INTO %s (%s, artifact_url) VALUES ($1, $2)
         ON CONFLICT (%s) WHERE NOT is_deleted DO NOTHING`,
		r.table, r.keyCol, r.keyCol,
	)
	if _, err := r.pool.Exec(ctx, q, key, locator); err != nil {
		r.log.Error("cache write failed", "table", r.table, "err", err)
		return fmt.Errorf("cache set %s: %w", r.table, err)
	}
	r.log.Debug("cache entry written", "table", r.table, "key", key)
	return nil
}

package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lauritowal/ai-ai-bias/internal/domain"
	"github.com/lauritowal/ai-ai-bias/internal/ports"
)

var _ ports.ComparisonCache = (*PostgresCache)(nil)

// PostgresConfig configures the shared PostgreSQL cache.
type PostgresConfig struct {
	ConnStr string
}

// PostgresCache stores comparison results in PostgreSQL so several
// machines can share one cache.
type PostgresCache struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewPostgresCache connects, pings and creates the schema if needed.
func NewPostgresCache(ctx context.Context, cfg PostgresConfig) (*PostgresCache, error) {
	pool, err := pgxpool.New(ctx, cfg.ConnStr)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping DB: %w", err)
	}

	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to initialize cache schema: %w", err)
	}

	return &PostgresCache{pool: pool, now: time.Now}, nil
}

const postgresSchema = `
	CREATE TABLE IF NOT EXISTS comparison_results (
		id BIGSERIAL PRIMARY KEY,
		comparison_prompt_key TEXT NOT NULL,
		comparison_llm_engine TEXT NOT NULL,
		description_uid_1 TEXT NOT NULL,
		description_uid_2 TEXT NOT NULL,
		winner SMALLINT NOT NULL CHECK (winner IN (0, 1, 2)),
		item_type TEXT,
		description_llm_engine TEXT,
		description_prompt_key TEXT,
		created_time TIMESTAMPTZ NOT NULL,
		created_user TEXT,
		created_host TEXT
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_comparison_results_key
		ON comparison_results(description_uid_1, description_uid_2, comparison_llm_engine, comparison_prompt_key);
`

// Get returns the stored winner for key.
func (c *PostgresCache) Get(ctx context.Context, key domain.ComparisonKey) (domain.Winner, bool, error) {
	var raw int16
	err := c.pool.QueryRow(ctx,
		`SELECT winner FROM comparison_results
		 WHERE description_uid_1 = $1 AND description_uid_2 = $2
		   AND comparison_llm_engine = $3 AND comparison_prompt_key = $4`,
		key.UID1, key.UID2, key.Engine, key.PromptKey,
	).Scan(&raw)

	if errors.Is(err, pgx.ErrNoRows) {
		return domain.WinnerInvalid, false, nil
	}
	if err != nil {
		return domain.WinnerInvalid, false, ports.NewCacheError(key.String(), "get", err)
	}

	w, err := decodeWinner(key, int64(raw))
	if err != nil {
		return domain.WinnerInvalid, false, err
	}
	return w, true, nil
}

// Put upserts rec.
func (c *PostgresCache) Put(ctx context.Context, rec domain.ComparisonRecord) error {
	if err := validateRecord(rec); err != nil {
		return ports.NewCacheError(rec.Key.String(), "put", err)
	}
	rec = withProvenance(rec, c.now())

	_, err := c.pool.Exec(ctx,
		`INSERT INTO comparison_results (
			comparison_prompt_key, comparison_llm_engine, description_uid_1, description_uid_2,
			winner, item_type, description_llm_engine, description_prompt_key,
			created_time, created_user, created_host)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (description_uid_1, description_uid_2, comparison_llm_engine, comparison_prompt_key)
		 DO UPDATE SET
			winner = EXCLUDED.winner,
			item_type = EXCLUDED.item_type,
			description_llm_engine = EXCLUDED.description_llm_engine,
			description_prompt_key = EXCLUDED.description_prompt_key,
			created_time = EXCLUDED.created_time,
			created_user = EXCLUDED.created_user,
			created_host = EXCLUDED.created_host`,
		rec.Key.PromptKey, rec.Key.Engine, rec.Key.UID1, rec.Key.UID2,
		int16(rec.Winner), rec.ItemType, rec.DescriptionEngine, rec.DescriptionPromptKey,
		rec.CreatedTime, rec.CreatedUser, rec.CreatedHost,
	)
	if err != nil {
		return ports.NewCacheError(rec.Key.String(), "put", err)
	}
	return nil
}

// Delete removes the row for key.
func (c *PostgresCache) Delete(ctx context.Context, key domain.ComparisonKey) error {
	_, err := c.pool.Exec(ctx,
		`DELETE FROM comparison_results
		 WHERE description_uid_1 = $1 AND description_uid_2 = $2
		   AND comparison_llm_engine = $3 AND comparison_prompt_key = $4`,
		key.UID1, key.UID2, key.Engine, key.PromptKey,
	)
	if err != nil {
		return ports.NewCacheError(key.String(), "delete", err)
	}
	return nil
}

// Stats aggregates all rows.
func (c *PostgresCache) Stats(ctx context.Context) (domain.CacheStats, error) {
	rows, err := c.pool.Query(ctx, statsQuery)
	if err != nil {
		return domain.CacheStats{}, ports.NewCacheError("*", "stats", err)
	}
	defer rows.Close()

	stats, err := scanStats(rows)
	if err != nil {
		return domain.CacheStats{}, ports.NewCacheError("*", "stats", err)
	}
	return stats, nil
}

// Close releases the pool.
func (c *PostgresCache) Close() error {
	c.pool.Close()
	return nil
}

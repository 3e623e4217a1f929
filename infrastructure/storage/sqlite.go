package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/lauritowal/ai-ai-bias/internal/domain"
	"github.com/lauritowal/ai-ai-bias/internal/ports"
)

var _ ports.ComparisonCache = (*SQLiteCache)(nil)

// SQLiteCache stores comparison results in a local SQLite file.
type SQLiteCache struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteCache opens or creates the database at dbPath and initializes
// the schema. Parent directories are created if they do not exist.
func NewSQLiteCache(dbPath string) (*SQLiteCache, error) {
	if dir := filepath.Dir(dbPath); dir != "." && dbPath != ":memory:" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create cache directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}
	// One connection serializes writers and keeps ":memory:" databases
	// from splitting across connections.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSQLiteSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize cache schema: %w", err)
	}

	return &SQLiteCache{db: db, now: time.Now}, nil
}

func initSQLiteSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS comparison_results (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		comparison_prompt_key TEXT NOT NULL,
		comparison_llm_engine TEXT NOT NULL,
		description_uid_1 TEXT NOT NULL,
		description_uid_2 TEXT NOT NULL,
		winner INTEGER NOT NULL,
		item_type TEXT,
		description_llm_engine TEXT,
		description_prompt_key TEXT,
		created_time TIMESTAMP NOT NULL,
		created_user TEXT,
		created_host TEXT
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_comparison_results_key
		ON comparison_results(description_uid_1, description_uid_2, comparison_llm_engine, comparison_prompt_key);
	`
	_, err := db.Exec(schema)
	return err
}

// Get returns the stored winner for key.
func (c *SQLiteCache) Get(ctx context.Context, key domain.ComparisonKey) (domain.Winner, bool, error) {
	var raw int64
	err := c.db.QueryRowContext(ctx,
		`SELECT winner FROM comparison_results
		 WHERE description_uid_1 = ? AND description_uid_2 = ?
		   AND comparison_llm_engine = ? AND comparison_prompt_key = ?`,
		key.UID1, key.UID2, key.Engine, key.PromptKey,
	).Scan(&raw)

	if errors.Is(err, sql.ErrNoRows) {
		return domain.WinnerInvalid, false, nil
	}
	if err != nil {
		return domain.WinnerInvalid, false, ports.NewCacheError(key.String(), "get", err)
	}

	w, err := decodeWinner(key, raw)
	if err != nil {
		return domain.WinnerInvalid, false, err
	}
	return w, true, nil
}

// Put upserts rec.
func (c *SQLiteCache) Put(ctx context.Context, rec domain.ComparisonRecord) error {
	if err := validateRecord(rec); err != nil {
		return ports.NewCacheError(rec.Key.String(), "put", err)
	}
	rec = withProvenance(rec, c.now())

	_, err := c.db.ExecContext(ctx,
		`INSERT INTO comparison_results (
			comparison_prompt_key, comparison_llm_engine, description_uid_1, description_uid_2,
			winner, item_type, description_llm_engine, description_prompt_key,
			created_time, created_user, created_host)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (description_uid_1, description_uid_2, comparison_llm_engine, comparison_prompt_key)
		 DO UPDATE SET
			winner = excluded.winner,
			item_type = excluded.item_type,
			description_llm_engine = excluded.description_llm_engine,
			description_prompt_key = excluded.description_prompt_key,
			created_time = excluded.created_time,
			created_user = excluded.created_user,
			created_host = excluded.created_host`,
		rec.Key.PromptKey, rec.Key.Engine, rec.Key.UID1, rec.Key.UID2,
		int64(rec.Winner), rec.ItemType, rec.DescriptionEngine, rec.DescriptionPromptKey,
		rec.CreatedTime, rec.CreatedUser, rec.CreatedHost,
	)
	if err != nil {
		return ports.NewCacheError(rec.Key.String(), "put", err)
	}
	return nil
}

// Delete removes the row for key.
func (c *SQLiteCache) Delete(ctx context.Context, key domain.ComparisonKey) error {
	_, err := c.db.ExecContext(ctx,
		`DELETE FROM comparison_results
		 WHERE description_uid_1 = ? AND description_uid_2 = ?
		   AND comparison_llm_engine = ? AND comparison_prompt_key = ?`,
		key.UID1, key.UID2, key.Engine, key.PromptKey,
	)
	if err != nil {
		return ports.NewCacheError(key.String(), "delete", err)
	}
	return nil
}

// Stats aggregates all rows.
func (c *SQLiteCache) Stats(ctx context.Context) (domain.CacheStats, error) {
	rows, err := c.db.QueryContext(ctx, statsQuery)
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

// Record returns the full row for key. It exists for diagnostics and tests.
func (c *SQLiteCache) Record(ctx context.Context, key domain.ComparisonKey) (domain.ComparisonRecord, bool, error) {
	rec := domain.ComparisonRecord{Key: key}
	var raw int64
	var itemType, dEngine, dPrompt, user, host sql.NullString
	err := c.db.QueryRowContext(ctx,
		`SELECT winner, item_type, description_llm_engine, description_prompt_key,
		        created_time, created_user, created_host
		 FROM comparison_results
		 WHERE description_uid_1 = ? AND description_uid_2 = ?
		   AND comparison_llm_engine = ? AND comparison_prompt_key = ?`,
		key.UID1, key.UID2, key.Engine, key.PromptKey,
	).Scan(&raw, &itemType, &dEngine, &dPrompt, &rec.CreatedTime, &user, &host)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ComparisonRecord{}, false, nil
	}
	if err != nil {
		return domain.ComparisonRecord{}, false, ports.NewCacheError(key.String(), "record", err)
	}

	if rec.Winner, err = decodeWinner(key, raw); err != nil {
		return domain.ComparisonRecord{}, false, err
	}
	rec.ItemType, rec.DescriptionEngine, rec.DescriptionPromptKey = itemType.String, dEngine.String, dPrompt.String
	rec.CreatedUser, rec.CreatedHost = user.String, host.String
	return rec, true, nil
}

// Close closes the database.
func (c *SQLiteCache) Close() error {
	return c.db.Close()
}

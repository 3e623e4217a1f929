// Package storage implements the comparison cache on SQLite, PostgreSQL and
// in memory. Every backend keys rows by (description_uid_1,
// description_uid_2, comparison_llm_engine, comparison_prompt_key) and
// writes them with a single upsert.
package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/user"
	"strings"
	"sync"
	"time"

	"github.com/lauritowal/ai-ai-bias/internal/domain"
	"github.com/lauritowal/ai-ai-bias/internal/ports"
)

// DefaultSQLitePath is where the comparison cache lives unless configured.
const DefaultSQLitePath = "context_cache/comparisons.sqlite"

// MemoryDSN selects the in-memory backend.
const MemoryDSN = "memory"

// ErrUnsupportedDSN is returned by Open for DSNs no backend understands.
var ErrUnsupportedDSN = errors.New("unsupported cache DSN")

// Cache is a comparison cache that holds resources.
type Cache interface {
	ports.ComparisonCache
	Close() error
}

// Open returns the backend selected by dsn:
//
//   - "" opens SQLite at DefaultSQLitePath.
//   - "memory" opens the in-memory cache.
//   - "postgres://..." or "postgresql://..." opens a PostgreSQL pool.
//   - "sqlite://<path>" or any other string opens SQLite at that path.
func Open(ctx context.Context, dsn string) (Cache, error) {
	switch {
	case dsn == "":
		return NewSQLiteCache(DefaultSQLitePath)
	case dsn == MemoryDSN:
		return NewMemoryCache(), nil
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return NewPostgresCache(ctx, PostgresConfig{ConnStr: dsn})
	case strings.HasPrefix(dsn, "sqlite://"):
		return NewSQLiteCache(strings.TrimPrefix(dsn, "sqlite://"))
	case strings.Contains(dsn, "://"):
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedDSN, dsn)
	default:
		return NewSQLiteCache(dsn)
	}
}

// provenance identifies who wrote a row.
type provenance struct {
	user string
	host string
}

var (
	localProvenance     provenance
	localProvenanceOnce sync.Once
)

func currentProvenance() provenance {
	localProvenanceOnce.Do(func() {
		if u, err := user.Current(); err == nil {
			localProvenance.user = u.Username
		}
		if h, err := os.Hostname(); err == nil {
			localProvenance.host = h
		}
	})
	return localProvenance
}

// withProvenance fills the provenance fields rec leaves empty.
func withProvenance(rec domain.ComparisonRecord, now time.Time) domain.ComparisonRecord {
	p := currentProvenance()
	if rec.CreatedTime.IsZero() {
		rec.CreatedTime = now.UTC()
	}
	if rec.CreatedUser == "" {
		rec.CreatedUser = p.user
	}
	if rec.CreatedHost == "" {
		rec.CreatedHost = p.host
	}
	return rec
}

// validateRecord rejects rows that could never be read back.
func validateRecord(rec domain.ComparisonRecord) error {
	if !rec.Winner.Valid() {
		return fmt.Errorf("winner %d out of range: %w", rec.Winner, domain.ErrInvalidConfiguration)
	}
	k := rec.Key
	if k.Engine == "" || k.PromptKey == "" || k.UID1 == "" || k.UID2 == "" {
		return fmt.Errorf("incomplete key %s: %w", k, domain.ErrEmptyValue)
	}
	return nil
}

// decodeWinner converts a stored winner column, flagging corrupt rows.
func decodeWinner(key domain.ComparisonKey, raw int64) (domain.Winner, error) {
	w := domain.Winner(raw)
	if !w.Valid() {
		return domain.WinnerInvalid, ports.NewCacheError(key.String(), "get",
			fmt.Errorf("stored winner %d: %w", raw, ports.ErrCacheCorrupted))
	}
	return w, nil
}

// statsQuery aggregates the cache for the position-bias diagnostic.
// It is valid SQL for both SQLite and PostgreSQL.
const statsQuery = `
	SELECT
		comparison_llm_engine,
		comparison_prompt_key,
		COALESCE(item_type, ''),
		COALESCE(description_llm_engine, ''),
		COALESCE(description_prompt_key, ''),
		COUNT(*),
		SUM(CASE WHEN winner = 0 THEN 1 ELSE 0 END),
		SUM(CASE WHEN winner = 1 THEN 1 ELSE 0 END),
		SUM(CASE WHEN winner = 2 THEN 1 ELSE 0 END)
	FROM comparison_results
	GROUP BY 1, 2, 3, 4, 5
	ORDER BY 1, 2, 3, 4, 5`

// rowScanner is the subset of database/sql and pgx row iteration used by
// scanStats.
type rowScanner interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanStats(rows rowScanner) (domain.CacheStats, error) {
	var stats domain.CacheStats
	for rows.Next() {
		var g domain.CacheGroupStats
		var total, invalid, first, second int64
		if err := rows.Scan(&g.Engine, &g.PromptKey, &g.ItemType, &g.DescriptionEngine, &g.DescriptionPromptKey,
			&total, &invalid, &first, &second); err != nil {
			return domain.CacheStats{}, err
		}
		g.Total, g.Invalid, g.FirstWins, g.SecondWins = int(total), int(invalid), int(first), int(second)

		stats.Total += g.Total
		stats.Invalid += g.Invalid
		stats.Groups = append(stats.Groups, g)
	}
	if err := rows.Err(); err != nil {
		return domain.CacheStats{}, err
	}
	return stats, nil
}

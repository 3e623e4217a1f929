package storage

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/lauritowal/ai-ai-bias/internal/domain"
	"github.com/lauritowal/ai-ai-bias/internal/ports"
)

var _ ports.ComparisonCache = (*MemoryCache)(nil)

// MemoryCache keeps comparison results in a map. Rows are lost on exit.
type MemoryCache struct {
	mu   sync.RWMutex
	rows map[domain.ComparisonKey]domain.ComparisonRecord
	now  func() time.Time
}

// NewMemoryCache creates an empty in-memory cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		rows: make(map[domain.ComparisonKey]domain.ComparisonRecord),
		now:  time.Now,
	}
}

func (c *MemoryCache) Get(_ context.Context, key domain.ComparisonKey) (domain.Winner, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	rec, ok := c.rows[key]
	if !ok {
		return domain.WinnerInvalid, false, nil
	}
	return rec.Winner, true, nil
}

func (c *MemoryCache) Put(_ context.Context, rec domain.ComparisonRecord) error {
	if err := validateRecord(rec); err != nil {
		return ports.NewCacheError(rec.Key.String(), "put", err)
	}
	rec = withProvenance(rec, c.now())

	c.mu.Lock()
	defer c.mu.Unlock()
	c.rows[rec.Key] = rec
	return nil
}

func (c *MemoryCache) Delete(_ context.Context, key domain.ComparisonKey) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.rows, key)
	return nil
}

func (c *MemoryCache) Stats(_ context.Context) (domain.CacheStats, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	type groupKey struct {
		engine, promptKey, itemType, dEngine, dPrompt string
	}
	groups := make(map[groupKey]*domain.CacheGroupStats)

	var stats domain.CacheStats
	for _, rec := range c.rows {
		gk := groupKey{rec.Key.Engine, rec.Key.PromptKey, rec.ItemType, rec.DescriptionEngine, rec.DescriptionPromptKey}
		g, ok := groups[gk]
		if !ok {
			g = &domain.CacheGroupStats{
				Engine:               gk.engine,
				PromptKey:            gk.promptKey,
				ItemType:             gk.itemType,
				DescriptionEngine:    gk.dEngine,
				DescriptionPromptKey: gk.dPrompt,
			}
			groups[gk] = g
		}

		g.Total++
		stats.Total++
		switch rec.Winner {
		case domain.WinnerFirst:
			g.FirstWins++
		case domain.WinnerSecond:
			g.SecondWins++
		default:
			g.Invalid++
			stats.Invalid++
		}
	}

	for _, g := range groups {
		stats.Groups = append(stats.Groups, *g)
	}
	slices.SortFunc(stats.Groups, func(a, b domain.CacheGroupStats) int {
		return cmp.Or(
			cmp.Compare(a.Engine, b.Engine),
			cmp.Compare(a.PromptKey, b.PromptKey),
			cmp.Compare(a.ItemType, b.ItemType),
			cmp.Compare(a.DescriptionEngine, b.DescriptionEngine),
			cmp.Compare(a.DescriptionPromptKey, b.DescriptionPromptKey),
		)
	})
	return stats, nil
}

// Record returns the full row for key.
func (c *MemoryCache) Record(_ context.Context, key domain.ComparisonKey) (domain.ComparisonRecord, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rec, ok := c.rows[key]
	return rec, ok, nil
}

// Len returns the number of stored rows.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.rows)
}

// Close is a no-op.
func (c *MemoryCache) Close() error { return nil }

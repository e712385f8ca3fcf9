package md

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"gotrader/internal/cache"
	"gotrader/internal/model"
)

const cacheBucket = "bars"

// CachedSource wraps a Source with an explicit, invalidatable disk cache.
// Entries are keyed by (as-of day, symbols, range) so a new trading day is a
// natural miss; Refresh clears the bucket before fetching.
type CachedSource struct {
	source  Source
	cache   *cache.Cache
	Refresh bool
}

func NewCachedSource(source Source, c *cache.Cache) *CachedSource {
	return &CachedSource{source: source, cache: c}
}

func (s *CachedSource) Bars(ctx context.Context, symbols []string, start, end time.Time) (Panel, error) {
	if s.Refresh {
		if err := s.cache.Clear(cacheBucket); err != nil {
			slog.Warn("clear bars cache failed", "error", err)
		}
	}

	key := cache.Key(
		model.Today().Format("2006-01-02"),
		strings.Join(symbols, ","),
		start.Format("2006-01-02"),
		end.Format("2006-01-02"),
	)

	var panel Panel
	if !s.Refresh && s.cache.Get(cacheBucket, key, &panel) {
		slog.Debug("bars cache hit", "symbols", len(symbols))
		return panel, nil
	}

	panel, err := s.source.Bars(ctx, symbols, start, end)
	if err != nil {
		return nil, err
	}
	if err := s.cache.Put(cacheBucket, key, panel); err != nil {
		slog.Warn("write bars cache failed", "error", err)
	}
	return panel, nil
}

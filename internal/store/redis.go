package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/quantdash/overview-engine/internal/metrics"
	"github.com/quantdash/overview-engine/internal/model"
)

// CachedStore wraps a primary Store with a Redis read-through cache of
// per-exchange position lists. Writes go to the primary store and
// invalidate the affected exchanges; reads check Redis first then fall back
// to the primary.
type CachedStore struct {
	primary Store
	rdb     redis.UniversalClient
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb redis.UniversalClient, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) InsertPositions(ctx context.Context, positions []model.PositionRecord) error {
	if err := s.primary.InsertPositions(ctx, positions); err != nil {
		return err
	}

	keys := make([]string, 0, 1)
	seen := make(map[string]bool)
	for _, p := range positions {
		if !seen[p.Exchange] {
			seen[p.Exchange] = true
			keys = append(keys, positionsKey(p.Exchange))
		}
	}
	// An id may have moved exchanges, so the exchange list is dropped too.
	keys = append(keys, exchangesKey)
	if err := s.rdb.Del(ctx, keys...).Err(); err != nil {
		slog.Warn("cache invalidation failed", "keys", keys, "err", err)
	}
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) ListPositions(ctx context.Context, exchange string) ([]model.PositionRecord, error) {
	key := positionsKey(exchange)

	data, err := s.rdb.Get(ctx, key).Bytes()
	if err == nil {
		var positions []model.PositionRecord
		if json.Unmarshal(data, &positions) == nil {
			metrics.CacheRequests.WithLabelValues("hit").Inc()
			return positions, nil
		}
	}
	metrics.CacheRequests.WithLabelValues("miss").Inc()

	positions, err := s.primary.ListPositions(ctx, exchange)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(positions); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
	return positions, nil
}

func (s *CachedStore) ListExchanges(ctx context.Context) ([]string, error) {
	data, err := s.rdb.Get(ctx, exchangesKey).Bytes()
	if err == nil {
		var exchanges []string
		if json.Unmarshal(data, &exchanges) == nil {
			return exchanges, nil
		}
	}

	exchanges, err := s.primary.ListExchanges(ctx)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(exchanges); err == nil {
		s.rdb.Set(ctx, exchangesKey, data, s.ttl)
	}
	return exchanges, nil
}

func (s *CachedStore) Ping(ctx context.Context) error {
	if err := s.primary.Ping(ctx); err != nil {
		return err
	}
	return s.rdb.Ping(ctx).Err()
}

// --- Cache helpers ---

const exchangesKey = "overview:exchanges"

func positionsKey(exchange string) string { return fmt.Sprintf("overview:positions:%s", exchange) }

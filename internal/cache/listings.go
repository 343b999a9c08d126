// Package cache provides a best-effort redis cache for active-lot listings.
// It only ever accelerates reads: a miss, a redis error or a nil client all
// fall through to the store, and staleness is bounded by the TTL plus
// explicit invalidation on lot creation, cancellation and claiming.
package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/farmlot/auctioneer/internal/lot"
)

// Listings caches serialized active-lot listings keyed by filter.
type Listings struct {
	rdb    *redis.Client
	ttl    time.Duration
	prefix string
	logger *slog.Logger
}

// NewListings returns a listing cache. A nil client disables caching.
func NewListings(rdb *redis.Client, ttl time.Duration, logger *slog.Logger) *Listings {
	return &Listings{rdb: rdb, ttl: ttl, prefix: "lots:active", logger: logger}
}

func (c *Listings) key(district, state string) string {
	return c.prefix + ":" + district + ":" + state
}

// Get returns the cached listing for the filter, if present.
func (c *Listings) Get(ctx context.Context, district, state string) ([]lot.Lot, bool) {
	if c == nil || c.rdb == nil {
		return nil, false
	}
	data, err := c.rdb.Get(ctx, c.key(district, state)).Bytes()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		c.logger.WarnContext(ctx, "listing cache read failed", slog.Any("error", err))
		return nil, false
	}
	var lots []lot.Lot
	if err := json.Unmarshal(data, &lots); err != nil {
		c.logger.WarnContext(ctx, "listing cache decode failed", slog.Any("error", err))
		return nil, false
	}
	return lots, true
}

// Set stores a listing under the filter key with the configured TTL.
func (c *Listings) Set(ctx context.Context, district, state string, lots []lot.Lot) {
	if c == nil || c.rdb == nil {
		return
	}
	data, err := json.Marshal(lots)
	if err != nil {
		c.logger.WarnContext(ctx, "listing cache encode failed", slog.Any("error", err))
		return
	}
	if err := c.rdb.Set(ctx, c.key(district, state), data, c.ttl).Err(); err != nil {
		c.logger.WarnContext(ctx, "listing cache write failed", slog.Any("error", err))
	}
}

// Invalidate drops all cached listings.
func (c *Listings) Invalidate(ctx context.Context) {
	if c == nil || c.rdb == nil {
		return
	}
	iter := c.rdb.Scan(ctx, 0, c.prefix+":*", 100).Iterator()
	for iter.Next(ctx) {
		if err := c.rdb.Del(ctx, iter.Val()).Err(); err != nil {
			c.logger.WarnContext(ctx, "listing cache invalidation failed", slog.Any("error", err))
			return
		}
	}
	if err := iter.Err(); err != nil {
		c.logger.WarnContext(ctx, "listing cache scan failed", slog.Any("error", err))
	}
}

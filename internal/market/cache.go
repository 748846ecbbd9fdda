package market

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/marketmode/internal/domain"
)

// CachedSource wraps a SnapshotSource with a Redis read-through cache so
// operator-triggered collections close to a scheduled cycle do not burn the
// upstream request budget twice. Cache failures degrade to the underlying
// source, never to a collection error.
type CachedSource struct {
	src SnapshotSource
	rdb *redis.Client
	ttl time.Duration
}

func NewCachedSource(src SnapshotSource, rdb *redis.Client, ttl time.Duration) *CachedSource {
	if ttl <= 0 {
		ttl = 60 * time.Second
	}
	return &CachedSource{src: src, rdb: rdb, ttl: ttl}
}

func cacheKey(symbol, timeframe string) string {
	return fmt.Sprintf("snapshot:%s:%s", symbol, timeframe)
}

func (c *CachedSource) FetchIndicatorSnapshot(ctx context.Context, symbol, timeframe string) (domain.IndicatorSnapshot, error) {
	key := cacheKey(symbol, timeframe)

	if payload, err := c.rdb.Get(ctx, key).Result(); err == nil {
		var snap domain.IndicatorSnapshot
		if err := json.Unmarshal([]byte(payload), &snap); err == nil {
			return snap, nil
		}
		log.Warn().Str("key", key).Msg("discarding undecodable cached snapshot")
	} else if err != redis.Nil {
		log.Warn().Err(err).Str("key", key).Msg("snapshot cache read failed")
	}

	snap, err := c.src.FetchIndicatorSnapshot(ctx, symbol, timeframe)
	if err != nil {
		return domain.IndicatorSnapshot{}, err
	}

	if payload, err := json.Marshal(snap); err == nil {
		if err := c.rdb.Set(ctx, key, payload, c.ttl).Err(); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("snapshot cache write failed")
		}
	}
	return snap, nil
}

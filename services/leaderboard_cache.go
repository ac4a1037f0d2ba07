package services

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// leaderboardCacheTTL matches the game client's 30s leaderboard poll, so a
// fleet of idle lobbies hits Postgres at most once per window per page.
const leaderboardCacheTTL = 30 * time.Second

// LeaderboardCache is an optional read-through cache of serialized
// leaderboard pages, keyed by (sort, limit). Cache failures degrade to
// direct DB reads, never to request failures.
type LeaderboardCache struct {
	rdb *redis.Client
}

// NewLeaderboardCache returns nil when no Redis client is available, which
// callers treat as "cache disabled".
func NewLeaderboardCache(rdb *redis.Client) *LeaderboardCache {
	if rdb == nil {
		return nil
	}
	return &LeaderboardCache{rdb: rdb}
}

func cacheKey(sortKey string, limit int) string {
	return fmt.Sprintf("leaderboard:%s:%d", sortKey, limit)
}

func (c *LeaderboardCache) Get(ctx context.Context, sortKey string, limit int) ([]byte, bool) {
	payload, err := c.rdb.Get(ctx, cacheKey(sortKey, limit)).Bytes()
	if err != nil {
		return nil, false
	}
	return payload, true
}

func (c *LeaderboardCache) Put(ctx context.Context, sortKey string, limit int, payload []byte) {
	if err := c.rdb.Set(ctx, cacheKey(sortKey, limit), payload, leaderboardCacheTTL).Err(); err != nil {
		log.Printf("⚠️ Leaderboard cache write failed: %v", err)
	}
}

// Invalidate drops every cached page after a successful submission so the
// next poll sees the new counters.
func (c *LeaderboardCache) Invalidate(ctx context.Context) {
	iter := c.rdb.Scan(ctx, 0, "leaderboard:*", 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		log.Printf("⚠️ Leaderboard cache scan failed: %v", err)
		return
	}
	if len(keys) == 0 {
		return
	}
	if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
		log.Printf("⚠️ Leaderboard cache invalidation failed: %v", err)
	}
}

// utils/redis.go
package utils

import (
	"context"
	"log"
	"os"

	"github.com/redis/go-redis/v9"
)

// NewRedisClient connects to REDIS_ADDR. Returns nil when the variable is
// unset or the server is unreachable — the leaderboard cache is an
// optimization, never a boot requirement.
func NewRedisClient() *redis.Client {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		return nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       0,
	})

	if err := rdb.Ping(context.Background()).Err(); err != nil {
		log.Printf("⚠️ Redis unreachable at %s, leaderboard cache disabled: %v", addr, err)
		return nil
	}

	log.Printf("✅ Connected to Redis (%s) — leaderboard cache enabled", addr)
	return rdb
}

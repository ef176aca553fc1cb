package database

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/voicepass/backend/internal/config"
)

// OpenRedis returns a connected client, or nil when Redis is disabled or unreachable.
// Callers fall back to in-process locking and skip rate limiting on nil.
func OpenRedis(ctx context.Context, cfg config.RedisConfig) *redis.Client {
	if !cfg.Enabled {
		slog.Info("redis disabled")
		return nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Host + ":" + cfg.Port,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		slog.Warn("redis connection failed, continuing without redis", "error", err)
		rdb.Close()
		return nil
	}

	slog.Info("redis connection established", "addr", rdb.Options().Addr)
	return rdb
}

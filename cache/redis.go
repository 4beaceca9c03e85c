package cache

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"polls-backend/config"
)

// NewRedis connects to Redis and pings it. Callers fall back to in-process
// implementations when it returns ErrRedisNotAvailable.
func NewRedis(ctx context.Context, cfg config.RedisConfig, logger *slog.Logger) (*redis.Client, error) {
	if !cfg.Enabled {
		return nil, ErrRedisNotAvailable
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		logger.Warn("redis unreachable, using in-process fallbacks", "addr", cfg.Address, "error", err.Error())
		return nil, fmt.Errorf("%w: %w", ErrRedisNotAvailable, err)
	}

	logger.Info("redis connected", "addr", cfg.Address, "db", cfg.DB)
	return client, nil
}

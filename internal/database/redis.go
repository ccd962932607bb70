package database

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"

	"ms-turnos/internal/config"
	"ms-turnos/internal/logger"
)

// ConnectRedis returns nil without error when Redis is disabled.
func ConnectRedis(ctx context.Context, cfg config.RedisConfig, log *logger.Logger) (*redis.Client, error) {
	if !cfg.Enabled {
		log.Warn("REDIS", "Redis disabled, rotating-code cache and job leases are off")
		return nil, nil
	}
	if cfg.Addr == "" {
		return nil, fmt.Errorf("REDIS_ADDR not set")
	}

	client := redis.NewClient(&redis.Options{Addr: cfg.Addr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis connection error: %w", err)
	}

	log.Info("DATABASE", fmt.Sprintf("Redis connection successful to %s (DB: %d)", cfg.Addr, client.Options().DB))
	return client, nil
}

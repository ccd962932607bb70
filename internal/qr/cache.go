package qr

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"ms-turnos/internal/models"
)

type RedisCache struct {
	Client *redis.Client
}

func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{Client: client}
}

func cacheKey(venueID int64) string {
	return fmt.Sprintf("qr:current:%d", venueID)
}

func (c *RedisCache) Get(ctx context.Context, venueID int64) (*models.RotatingCode, error) {
	raw, err := c.Client.Get(ctx, cacheKey(venueID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var code models.RotatingCode
	if err := json.Unmarshal(raw, &code); err != nil {
		return nil, fmt.Errorf("decode cached code: %w", err)
	}
	return &code, nil
}

func (c *RedisCache) Set(ctx context.Context, code *models.RotatingCode, ttl time.Duration) error {
	raw, err := json.Marshal(code)
	if err != nil {
		return err
	}
	return c.Client.Set(ctx, cacheKey(code.VenueID), raw, ttl).Err()
}

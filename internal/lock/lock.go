// Package lock provides a Redis lease so that periodic jobs run on a single
// instance at a time.
package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"ms-turnos/internal/logger"
)

// Locker hands out short leases keyed by job name.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (release func(), ok bool, err error)
}

// Only the holder's token may delete the key.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type Redis struct {
	Client *redis.Client
	Log    *logger.Logger
}

func NewRedis(client *redis.Client, log *logger.Logger) *Redis {
	return &Redis{Client: client, Log: log}
}

func (r *Redis) TryLock(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	token := uuid.NewString()
	ok, err := r.Client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}
	release := func() {
		// The job's context may already be cancelled at this point.
		if err := unlockScript.Run(context.Background(), r.Client, []string{key}, token).Err(); err != nil {
			r.Log.Warn("LOCK", fmt.Sprintf("Failed to release %s, it lingers until its TTL: %v", key, err))
		}
	}
	return release, true, nil
}

// Noop always grants the lease. Used when Redis is disabled.
type Noop struct{}

func (Noop) TryLock(context.Context, string, time.Duration) (func(), bool, error) {
	return func() {}, true, nil
}

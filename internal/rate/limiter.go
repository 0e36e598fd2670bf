package rate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultPrefix = "authcore:rl:"

// Config holds rate limiter tuning parameters.
type Config struct {
	Prefix string
	Limit  int
	Window time.Duration
}

// Limiter counts hits per key in fixed windows stored in Redis.
type Limiter struct {
	redis  redis.UniversalClient
	config Config
}

// New creates a [Limiter] backed by the given Redis client. Zero fields fall
// back to 5 hits per minute under the "authcore:rl:" prefix.
func New(redisClient redis.UniversalClient, cfg Config) *Limiter {
	if cfg.Prefix == "" {
		cfg.Prefix = defaultPrefix
	}
	if cfg.Limit <= 0 {
		cfg.Limit = 5
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	return &Limiter{
		redis:  redisClient,
		config: cfg,
	}
}

// Allow records a hit for key. Once more than Limit hits land in the current
// window it returns ErrRateLimited together with the time left in the window.
func (l *Limiter) Allow(ctx context.Context, key string) (time.Duration, error) {
	k := l.key(key)
	count, err := l.incrementWithTTL(ctx, k)
	if err != nil {
		return 0, err
	}
	if count <= int64(l.config.Limit) {
		return 0, nil
	}

	ttl, err := l.redis.PTTL(ctx, k).Result()
	if err != nil || ttl <= 0 {
		ttl = l.config.Window
	}
	return ttl, ErrRateLimited
}

// Reset clears the counter for key.
func (l *Limiter) Reset(ctx context.Context, key string) error {
	if err := l.redis.Del(ctx, l.key(key)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Hits returns the hits recorded for key in the current window. Missing keys
// return zero.
func (l *Limiter) Hits(ctx context.Context, key string) (int, error) {
	count, err := l.redis.Get(ctx, l.key(key)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if count < 0 {
		return 0, nil
	}
	return int(count), nil
}

func (l *Limiter) key(key string) string {
	return l.config.Prefix + key
}

func (l *Limiter) incrementWithTTL(ctx context.Context, key string) (int64, error) {
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	// Fixed-window semantics: set TTL only for the first hit in the window.
	if count == 1 {
		if err := l.redis.Expire(ctx, key, l.config.Window).Err(); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
		return count, nil
	}

	// A crash between INCR and EXPIRE leaves a counter that never resets.
	if ttl, err := l.redis.PTTL(ctx, key).Result(); err == nil && ttl < 0 {
		if err := l.redis.Expire(ctx, key, l.config.Window).Err(); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}

	return count, nil
}

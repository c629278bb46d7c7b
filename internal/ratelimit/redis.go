package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "ratelimit:"

// Redis is a fixed-window limiter shared across API instances.
type Redis struct {
	client *redis.Client
	window time.Duration
	limit  int
}

func NewRedis(client *redis.Client, limit int, window time.Duration) *Redis {
	return &Redis{client: client, window: window, limit: limit}
}

func (r *Redis) Allow(ctx context.Context, key string) (Decision, error) {
	k := keyPrefix + key

	count, err := r.client.Incr(ctx, k).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if count == 1 {
		if err := r.client.PExpire(ctx, k, r.window).Err(); err != nil {
			return Decision{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}

	if int(count) <= r.limit {
		return Decision{Allowed: true, Remaining: r.limit - int(count)}, nil
	}

	ttl, err := r.client.PTTL(ctx, k).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if ttl < 0 {
		// key lost its expiry (crash between INCR and PEXPIRE); restore it
		_ = r.client.PExpire(ctx, k, r.window).Err()
		ttl = r.window
	}

	return Decision{Allowed: false, RetryAfter: ttl}, nil
}

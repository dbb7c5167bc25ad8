package gate

import (
	"context"
	"fmt"
	"time"

	backend "github.com/redis/go-redis/v9"
)

// RedisGate is a fixed-window rate limiter backed by Redis. It admits up
// to Limit triggers per key per window; counters expire with the window,
// so idle keys cost nothing.
type RedisGate struct {
	client *backend.Client
	prefix string
	limit  int64
	window time.Duration
}

// Option configures a RedisGate.
type Option func(*RedisGate)

// WithPrefix sets the key prefix for quota counters.
func WithPrefix(prefix string) Option {
	return func(g *RedisGate) {
		g.prefix = prefix
	}
}

// NewRedisGate creates a gate from an existing client admitting up to
// limit triggers per key per window.
func NewRedisGate(client *backend.Client, limit int, window time.Duration, opts ...Option) *RedisGate {
	g := &RedisGate{
		client: client,
		prefix: "reviewflow:gate:",
		limit:  int64(limit),
		window: window,
	}

	for _, opt := range opts {
		opt(g)
	}

	return g
}

// Admit implements Gate. The counter is incremented and, when this
// increment created it, given the window TTL. Later attempts never touch
// the TTL, so a rejected key recovers at the original window boundary
// no matter how hard it is hammered in between.
func (g *RedisGate) Admit(ctx context.Context, key string) (bool, error) {
	redisKey := g.prefix + key

	count, err := g.client.Incr(ctx, redisKey).Result()
	if err != nil {
		return false, fmt.Errorf("gate check for %s: %w", key, err)
	}
	if count == 1 {
		if err := g.client.Expire(ctx, redisKey, g.window).Err(); err != nil {
			return false, fmt.Errorf("gate check for %s: %w", key, err)
		}
	}

	return count <= g.limit, nil
}

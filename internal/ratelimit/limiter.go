package ratelimit

import (
	"context"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ghostzpy/truco-server/pkg/cache"
)

// Limiter decides whether another attempt for key within scope is allowed.
// Reset forgets the attempts counted so far, e.g. after a successful login.
type Limiter interface {
	Allow(ctx context.Context, scope, key string) (bool, error)
	Reset(ctx context.Context, scope, key string) error
}

type Config struct {
	Max    int64
	Window time.Duration
}

// ConfigFromEnv reads RATE_LIMIT_MAX (default 5) and RATE_LIMIT_WINDOW (default 15m).
func ConfigFromEnv() Config {
	cfg := Config{Max: 5, Window: 15 * time.Minute}
	if v := os.Getenv("RATE_LIMIT_MAX"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			cfg.Max = n
		}
	}
	if v := os.Getenv("RATE_LIMIT_WINDOW"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.Window = d
		}
	}
	return cfg
}

// RedisLimiter is a fixed window counter stored in redis.
type RedisLimiter struct {
	cache  *cache.Cache
	max    int64
	window time.Duration
}

func NewRedisLimiter(c *cache.Cache, cfg Config) *RedisLimiter {
	return &RedisLimiter{cache: c, max: cfg.Max, window: cfg.Window}
}

func (l *RedisLimiter) Allow(ctx context.Context, scope, key string) (bool, error) {
	n, err := l.cache.IncrWithExpire(ctx, namespace(scope), strings.ToLower(key), l.window)
	if err != nil {
		return false, err
	}
	return n <= l.max, nil
}

func (l *RedisLimiter) Reset(ctx context.Context, scope, key string) error {
	return l.cache.Delete(ctx, namespace(scope), strings.ToLower(key))
}

func namespace(scope string) string { return "ratelimit:" + scope }

// Noop allows everything. Used when redis is not configured.
type Noop struct{}

func (Noop) Allow(context.Context, string, string) (bool, error) { return true, nil }

func (Noop) Reset(context.Context, string, string) error { return nil }

package cache

import (
	"context"
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

type Config struct {
	Addrs    []string
	Password string
	DB       int
}

// ConfigFromEnv reads REDIS_ADDR (comma separated for cluster), REDIS_PASSWORD and REDIS_DB.
// An empty Addrs means redis is disabled.
func ConfigFromEnv() Config {
	var addrs []string
	for _, a := range strings.Split(os.Getenv("REDIS_ADDR"), ",") {
		if a = strings.TrimSpace(a); a != "" {
			addrs = append(addrs, a)
		}
	}
	db, _ := strconv.Atoi(os.Getenv("REDIS_DB"))
	return Config{Addrs: addrs, Password: os.Getenv("REDIS_PASSWORD"), DB: db}
}

// Enabled reports whether a redis address is configured.
func (c Config) Enabled() bool { return len(c.Addrs) > 0 }

type Cache struct {
	client redis.UniversalClient // works with both single and cluster
}

func New(cfg Config) *Cache {
	var rdb redis.UniversalClient
	if len(cfg.Addrs) > 1 {
		rdb = redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:    cfg.Addrs,
			Password: cfg.Password,
		})
	} else {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Addrs[0],
			Password: cfg.Password,
			DB:       cfg.DB,
		})
	}
	return &Cache{client: rdb}
}

func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *Cache) Close() error {
	return c.client.Close()
}

// IsMiss reports whether err means the key does not exist.
func IsMiss(err error) bool { return errors.Is(err, redis.Nil) }

func (c *Cache) Get(ctx context.Context, namespace, key string) (string, error) {
	return c.client.Get(ctx, namespace+":"+key).Result()
}

func (c *Cache) Set(ctx context.Context, namespace, key, value string, ttl time.Duration) error {
	return c.client.Set(ctx, namespace+":"+key, value, ttl).Err()
}

// Delete removes namespace:key. A missing key is not an error.
func (c *Cache) Delete(ctx context.Context, namespace, key string) error {
	return c.client.Del(ctx, namespace+":"+key).Err()
}

// IncrWithExpire increments namespace:key and starts its TTL on the first hit,
// giving a fixed window counter. The key is created with its expiry and
// incremented in one MULTI, so a counter can never be left without a TTL.
func (c *Cache) IncrWithExpire(ctx context.Context, namespace, key string, window time.Duration) (int64, error) {
	countKey := namespace + ":" + key

	var incr *redis.IntCmd
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SetNX(ctx, countKey, 0, window)
		incr = pipe.Incr(ctx, countKey)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

package cache

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type RedisCache struct {
	client *redis.Client
	prefix string
	logger *zap.Logger
	hits   atomic.Int64
	misses atomic.Int64
	errors atomic.Int64
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// NewRedisCache connects and pings the server so a bad address fails at startup.
func NewRedisCache(ctx context.Context, cfg RedisConfig, logger *zap.Logger) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}

	return NewRedisCacheFromClient(client, cfg.Prefix, logger), nil
}

func NewRedisCacheFromClient(client *redis.Client, prefix string, logger *zap.Logger) *RedisCache {
	return &RedisCache{
		client: client,
		prefix: prefix,
		logger: logger,
	}
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool) {
	data, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.errors.Add(1)
			c.logger.Warn("Redis get failed, treating as miss",
				zap.String("key", key),
				zap.Error(err))
		}
		c.misses.Add(1)
		return nil, false
	}

	c.hits.Add(1)
	return data, true
}

// Set is best effort. Failures are counted and logged.
func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if err := c.client.Set(ctx, c.prefix+key, value, ttl).Err(); err != nil {
		c.errors.Add(1)
		c.logger.Warn("Redis set failed",
			zap.String("key", key),
			zap.Error(err))
		return
	}

	c.logger.Debug("Response cached",
		zap.String("key", key),
		zap.Duration("ttl", ttl))
}

func (c *RedisCache) GetStats() map[string]interface{} {
	return map[string]interface{}{
		"backend": "redis",
		"prefix":  c.prefix,
		"hits":    c.hits.Load(),
		"misses":  c.misses.Load(),
		"errors":  c.errors.Load(),
	}
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

package repository

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// SeedFunc returns the highest sequence already issued, used to prime a
// shared counter the first time it is touched on a day.
type SeedFunc func(ctx context.Context) (int, error)

// RedisCounter hands out per-room daily ticket sequences shared by every
// terminal through an atomic INCR.
type RedisCounter struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisCounter builds a counter storing keys under prefix.
func NewRedisCounter(client *redis.Client, prefix string, ttl time.Duration, logger *zap.Logger) *RedisCounter {
	if ttl <= 0 {
		ttl = 48 * time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisCounter{client: client, prefix: prefix, ttl: ttl, logger: logger}
}

func (c *RedisCounter) key(room, day string) string {
	return c.prefix + "seq:" + room + ":" + day
}

// Next returns the next sequence for room on day. A missing key is created
// from seed with SETNX so concurrent terminals agree on the starting point.
func (c *RedisCounter) Next(ctx context.Context, room, day string, seed SeedFunc) (int, error) {
	key := c.key(room, day)
	exists, err := c.client.Exists(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if exists == 0 && seed != nil {
		base, err := seed(ctx)
		if err != nil {
			c.logger.Warn("seed ticket counter", zap.String("key", key), zap.Error(err))
			base = 0
		}
		if err := c.client.SetNX(ctx, key, base, c.ttl).Err(); err != nil {
			return 0, err
		}
	}
	n, err := c.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if err := c.client.Expire(ctx, key, c.ttl).Err(); err != nil {
		c.logger.Warn("refresh ticket counter ttl", zap.String("key", key), zap.Error(err))
	}
	return int(n), nil
}

package cache

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Cache is the caching interface. All cache operations go through here.
// Implementations must be safe for concurrent use.
type Cache interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
	// IncrWithExpiry counts a hit in a fixed window that starts with the
	// first hit and lasts expiry. It returns the count and the time left.
	IncrWithExpiry(ctx context.Context, key string, expiry time.Duration) (int64, time.Duration, error)
	// LeaderboardVersion returns the project's current view generation, 0 if
	// nothing was ever written.
	LeaderboardVersion(ctx context.Context, projectID uuid.UUID) (int64, error)
	// BumpLeaderboardVersion moves the project to a new view generation so
	// every cached view under the old one stops being read.
	BumpLeaderboardVersion(ctx context.Context, projectID uuid.UUID) (int64, error)
}

// RedisCache implements the Cache interface using go-redis/v9.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache creates a new RedisCache from a Redis URL.
func NewRedisCache(redisURL string) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	return &RedisCache{client: redis.NewClient(opts)}, nil
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.client.Set(ctx, key, value, ttl).Err()
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

func (c *RedisCache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, key).Err()
}

func (c *RedisCache) IncrWithExpiry(ctx context.Context, key string, expiry time.Duration) (int64, time.Duration, error) {
	pipe := c.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, expiry)
	ttl := pipe.PTTL(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, 0, err
	}
	left := ttl.Val()
	if left <= 0 || left > expiry {
		left = expiry
	}
	return incr.Val(), left, nil
}

func (c *RedisCache) LeaderboardVersion(ctx context.Context, projectID uuid.UUID) (int64, error) {
	v, err := c.client.Get(ctx, LeaderboardVersionKey(projectID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return v, nil
}

func (c *RedisCache) BumpLeaderboardVersion(ctx context.Context, projectID uuid.UUID) (int64, error) {
	return c.client.Incr(ctx, LeaderboardVersionKey(projectID)).Result()
}

package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"github.com/cenie/accessd/internal/metrics"
)

const (
	redisKeyPrefix   = "accessd:access:"
	redisIndexPrefix = "accessd:access-index:"
	redisScanCount   = 256
)

type redisCache struct {
	client redis.UniversalClient
	ttl    time.Duration
}

func NewRedisClient(url string, poolSize int) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	if poolSize > 0 {
		opt.PoolSize = poolSize
	}

	client := redis.NewClient(opt)

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return client, nil
}

// NewRedisCache returns an AccessCache shared by every instance pointed at
// the same Redis. It closes the cross-instance staleness window at the cost
// of a network hop per check.
func NewRedisCache(client redis.UniversalClient, ttl time.Duration) AccessCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &redisCache{client: client, ttl: ttl}
}

func entryKey(userID, app string) string {
	return fmt.Sprintf("%s%s:%s", redisKeyPrefix, userID, app)
}

func indexKey(userID string) string {
	return redisIndexPrefix + userID
}

func (r *redisCache) Get(ctx context.Context, userID, app string) (*CachedAccess, error) {
	val, err := r.client.Get(ctx, entryKey(userID, app)).Result()
	if errors.Is(err, redis.Nil) {
		metrics.CacheRequests.WithLabelValues("miss").Inc()
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get from redis: %w", err)
	}

	var value CachedAccess
	if err := json.Unmarshal([]byte(val), &value); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cached access: %w", err)
	}

	metrics.CacheRequests.WithLabelValues("hit").Inc()
	return &value, nil
}

func (r *redisCache) Set(ctx context.Context, userID, app string, value *CachedAccess, ttl time.Duration) error {
	if value == nil {
		return nil
	}
	if ttl <= 0 {
		ttl = r.ttl
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal cached access: %w", err)
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, entryKey(userID, app), data, ttl)
		pipe.SAdd(ctx, indexKey(userID), app)
		pipe.Expire(ctx, indexKey(userID), ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to set redis cache: %w", err)
	}

	return nil
}

func (r *redisCache) Invalidate(ctx context.Context, userID, app string) error {
	if err := r.client.Del(ctx, entryKey(userID, app)).Err(); err != nil {
		return fmt.Errorf("failed to invalidate redis cache: %w", err)
	}
	return nil
}

func (r *redisCache) InvalidateSubject(ctx context.Context, userID string) error {
	apps, err := r.client.SMembers(ctx, indexKey(userID)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to read redis cache index: %w", err)
	}

	keys := make([]string, 0, len(apps)+1)
	for _, app := range apps {
		keys = append(keys, entryKey(userID, app))
	}
	keys = append(keys, indexKey(userID))

	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to invalidate redis cache for user: %w", err)
	}
	return nil
}

func (r *redisCache) InvalidateAll(ctx context.Context) error {
	for _, pattern := range []string{redisKeyPrefix + "*", redisIndexPrefix + "*"} {
		iter := r.client.Scan(ctx, 0, pattern, redisScanCount).Iterator()
		for iter.Next(ctx) {
			if err := r.client.Del(ctx, iter.Val()).Err(); err != nil {
				return fmt.Errorf("failed to clear redis cache: %w", err)
			}
		}
		if err := iter.Err(); err != nil {
			return fmt.Errorf("failed to scan redis cache: %w", err)
		}
	}
	return nil
}

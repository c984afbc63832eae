package knowledge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var ErrCacheMiss = errors.New("cache miss")

type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

type RedisCache struct {
	client *redis.Client
}

// NewRedisCache connects using a redis:// URL and verifies the connection.
func NewRedisCache(ctx context.Context, url string) (*RedisCache, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &RedisCache{client: client}, nil
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	return b, err
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.client.Set(ctx, key, value, ttl).Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

// CachedRepository is a read-through cache for single-record lookups.
// Cache failures are logged and the underlying repository is used.
type CachedRepository struct {
	Repository
	cache Cache
	ttl   time.Duration
	log   *zap.Logger
}

func NewCachedRepository(repo Repository, cache Cache, ttl time.Duration, log *zap.Logger) *CachedRepository {
	return &CachedRepository{Repository: repo, cache: cache, ttl: ttl, log: log}
}

func (c *CachedRepository) Disease(ctx context.Context, id string) (Disease, error) {
	return readThrough(ctx, c, "disease", id, c.Repository.Disease)
}

func (c *CachedRepository) Guideline(ctx context.Context, id string) (Guideline, error) {
	return readThrough(ctx, c, "guideline", id, c.Repository.Guideline)
}

func (c *CachedRepository) Risk(ctx context.Context, id string) (Risk, error) {
	return readThrough(ctx, c, "risk", id, c.Repository.Risk)
}

func readThrough[T any](ctx context.Context, c *CachedRepository, kind, id string, load func(context.Context, string) (T, error)) (T, error) {
	key := "triage:" + kind + ":" + id

	raw, err := c.cache.Get(ctx, key)
	if err == nil {
		var v T
		if err := json.Unmarshal(raw, &v); err == nil {
			return v, nil
		}
		c.log.Warn("discarding undecodable cache entry", zap.String("key", key))
	} else if !errors.Is(err, ErrCacheMiss) {
		c.log.Warn("knowledge cache read failed", zap.String("key", key), zap.Error(err))
	}

	v, err := load(ctx, id)
	if err != nil {
		return v, err
	}

	if raw, err := json.Marshal(v); err == nil {
		if err := c.cache.Set(ctx, key, raw, c.ttl); err != nil {
			c.log.Warn("knowledge cache write failed", zap.String("key", key), zap.Error(err))
		}
	}
	return v, nil
}

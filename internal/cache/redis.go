package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/sells-group/siterisk/internal/metrics"
)

// redisClient is the subset of *redis.Client used here.
type redisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
}

// Redis shares results between processes.
type Redis struct {
	client redisClient
	prefix string
	ttl    time.Duration
}

// RedisOptions configures NewRedis.
type RedisOptions struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
	TTL       time.Duration
}

// NewRedis opens a client for opts.Addr. It does not dial until first use.
func NewRedis(opts RedisOptions) (*Redis, *redis.Client) {
	client := redis.NewClient(&redis.Options{Addr: opts.Addr, Password: opts.Password, DB: opts.DB})
	return newRedis(client, opts.KeyPrefix, opts.TTL), client
}

func newRedis(client redisClient, prefix string, ttl time.Duration) *Redis {
	return &Redis{client: client, prefix: prefix, ttl: ttl}
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool) {
	data, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			zap.L().Warn("cache: redis get failed", zap.String("component", "cache.redis"), zap.Error(err))
		}
		metrics.CacheMissesTotal.WithLabelValues("redis").Inc()
		return nil, false
	}
	metrics.CacheHitsTotal.WithLabelValues("redis").Inc()
	return data, true
}

func (r *Redis) Set(ctx context.Context, key string, val []byte) {
	if err := r.client.Set(ctx, r.prefix+key, val, r.ttl).Err(); err != nil {
		zap.L().Warn("cache: redis set failed", zap.String("component", "cache.redis"), zap.Error(err))
	}
}

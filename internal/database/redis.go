package database

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tangle-network/blueprint-manager/internal/config"
)

// Redis wraps a go-redis client used for two short-lived concerns: the
// Auth Proxy's challenge store and its request rate limiter. Neither
// needs durability, so a cache miss just means a challenge/limit resets.
type Redis struct {
	client *redis.Client
}

// NewRedis connects to the configured Redis instance.
func NewRedis(cfg config.RedisConfig) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return &Redis{client: client}, nil
}

func (r *Redis) Close() error { return r.client.Close() }

// SetChallenge stores a random challenge for a pending /auth/verify call,
// keyed by challenge id, with an expiry.
func (r *Redis) SetChallenge(ctx context.Context, id string, challenge []byte, ttl time.Duration) error {
	return r.client.Set(ctx, challengeKey(id), challenge, ttl).Err()
}

// GetChallenge retrieves a pending challenge and deletes it: challenges
// are single-use.
func (r *Redis) GetChallenge(ctx context.Context, id string) ([]byte, error) {
	pipe := r.client.TxPipeline()
	get := pipe.Get(ctx, challengeKey(id))
	pipe.Del(ctx, challengeKey(id))
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}
	return get.Bytes()
}

// IncrWithExpire atomically increments key and, on first creation, sets
// its expiry to window. Used for fixed-window rate limiting.
func (r *Redis) IncrWithExpire(ctx context.Context, key string, window time.Duration) (int64, error) {
	pipe := r.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

func challengeKey(id string) string { return "auth:challenge:" + id }

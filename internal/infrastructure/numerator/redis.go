package numerator

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	corenumerator "lotledger/internal/core/numerator"
)

// counterClient is the subset of redis.Cmdable used for counters.
type counterClient interface {
	Incr(ctx context.Context, key string) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
}

// DefaultCounterTTL keeps a daily counter around past its day.
const DefaultCounterTTL = 72 * time.Hour

// RedisService issues numbers with INCR. Counters expire ttl after the
// first number of their day.
type RedisService struct {
	client    counterClient
	keyPrefix string
	ttl       time.Duration
}

var _ corenumerator.Generator = (*RedisService)(nil)

// NewRedis creates the Redis numerator.
func NewRedis(client redis.Cmdable, ttl time.Duration) *RedisService {
	if ttl <= 0 {
		ttl = DefaultCounterTTL
	}
	return &RedisService{client: client, keyPrefix: "seq:", ttl: ttl}
}

// GetNextNumber implements corenumerator.Generator.
func (s *RedisService) GetNextNumber(ctx context.Context, cfg corenumerator.Config, day time.Time) (string, error) {
	key := s.keyPrefix + corenumerator.BuildKey(cfg, day)

	num, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return "", fmt.Errorf("incr %s: %w", key, err)
	}
	if num == 1 {
		if err := s.client.Expire(ctx, key, s.ttl).Err(); err != nil {
			return "", fmt.Errorf("expire %s: %w", key, err)
		}
	}
	return corenumerator.FormatNumber(cfg, day, num), nil
}

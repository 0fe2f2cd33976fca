package idalloc

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisKeyPrefix = "counter:v1:"
	// dailyKeyTTL keeps a day's counter around long enough to survive clock
	// skew between callers straddling midnight.
	dailyKeyTTL = 72 * time.Hour
)

// RedisStore keeps counters as Redis integers.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore builds a Redis-backed counter store.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Next runs INCR, which is atomic on the server, and sets an expiry on
// day-scoped keys.
func (s *RedisStore) Next(ctx context.Context, name, scope string) (int64, error) {
	key := redisKeyPrefix + name
	if scope != "" {
		key += ":" + scope
	}

	pipe := s.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	if scope != "" {
		pipe.Expire(ctx, key, dailyKeyTTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("increment counter %s: %w", key, err)
	}
	return incr.Val(), nil
}

package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLossStore write-through for the circuit breaker's daily
// accumulator, so a restart mid-day does not forget realized losses.
// Keys expire after two days; yesterday's value is never consulted.
type RedisLossStore struct {
	client *redis.Client
	prefix string
}

func NewRedisLossStore(client *RedisClient) *RedisLossStore {
	return &RedisLossStore{client: client.Client, prefix: "breaker:loss"}
}

func (s *RedisLossStore) DailyLoss(ctx context.Context, day string) (int64, error) {
	val, err := s.client.Get(ctx, s.key(day)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return val, err
}

func (s *RedisLossStore) AddDailyLoss(ctx context.Context, day string, amount int64) error {
	key := s.key(day)
	pipe := s.client.Pipeline()
	pipe.IncrBy(ctx, key, amount)
	pipe.Expire(ctx, key, 48*time.Hour)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisLossStore) key(day string) string {
	return fmt.Sprintf("%s:%s", s.prefix, day)
}

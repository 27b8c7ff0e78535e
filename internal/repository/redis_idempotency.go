package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ertvault/ertvault/internal/middleware"
	"github.com/ertvault/ertvault/internal/pkg/logger"
	"github.com/redis/go-redis/v9"
)

// RedisIdempotencyStore backs replay detection across process restarts
// and replicas. The lock is a SETNX sentinel; completed responses are
// stored as JSON under the same key with a TTL.
type RedisIdempotencyStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisIdempotencyStore(client *RedisClient, ttl time.Duration) *RedisIdempotencyStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisIdempotencyStore{
		client: client.Client,
		prefix: "idem:",
		ttl:    ttl,
	}
}

type redisIdemPayload struct {
	Status     int       `json:"status"`
	Body       []byte    `json:"body"`
	CreatedAt  time.Time `json:"created_at"`
	Processing bool      `json:"processing"`
}

func (s *RedisIdempotencyStore) GetOrLock(key string) (*middleware.IdempotencyRecord, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	sentinel, err := json.Marshal(redisIdemPayload{Processing: true, CreatedAt: time.Now()})
	if err != nil {
		return nil, false
	}

	// The lock itself expires quickly so a crashed holder does not wedge
	// the key forever.
	acquired, err := s.client.SetNX(ctx, s.prefix+key, sentinel, 30*time.Second).Result()
	if err != nil {
		logger.Warn("idempotency lock failed, proceeding without replay protection", "error", err)
		return nil, false
	}
	if acquired {
		return nil, false
	}

	raw, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if err == redis.Nil {
		// Lock expired between SetNX and Get; treat as newly locked.
		return nil, false
	}
	if err != nil {
		logger.Warn("idempotency read failed", "error", err)
		return nil, false
	}

	var payload redisIdemPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, false
	}
	return &middleware.IdempotencyRecord{
		Status:     payload.Status,
		Body:       payload.Body,
		CreatedAt:  payload.CreatedAt,
		Processing: payload.Processing,
	}, true
}

func (s *RedisIdempotencyStore) Save(key string, status int, body []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	payload, err := json.Marshal(redisIdemPayload{
		Status:    status,
		Body:      body,
		CreatedAt: time.Now(),
	})
	if err != nil {
		return
	}
	if err := s.client.Set(ctx, s.prefix+key, payload, s.ttl).Err(); err != nil {
		logger.Warn("idempotency save failed", "error", err)
	}
}

func (s *RedisIdempotencyStore) Unlock(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.client.Del(ctx, s.prefix+key).Err(); err != nil {
		logger.Warn("idempotency unlock failed", "error", err)
	}
}

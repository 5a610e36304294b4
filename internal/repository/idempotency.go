package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"payflow/internal/model"
)

const pendingMarker = "pending"

// IdempotencyStore remembers the outcome of a keyed request in Redis.
// A key moves from absent to "pending" (claimed) to the stored result JSON.
// Claims expire after pendingTTL, stored results after ttl.
type IdempotencyStore struct {
	redisClient *redis.Client
	ttl         time.Duration
	pendingTTL  time.Duration
}

func NewIdempotencyStore(rdb *redis.Client, ttl, pendingTTL time.Duration) *IdempotencyStore {
	if pendingTTL <= 0 || pendingTTL > ttl {
		pendingTTL = ttl
	}
	return &IdempotencyStore{redisClient: rdb, ttl: ttl, pendingTTL: pendingTTL}
}

// Claim marks key as in flight. It returns false if the key already exists.
func (s *IdempotencyStore) Claim(ctx context.Context, key string) (bool, error) {
	ok, err := s.redisClient.SetNX(ctx, key, pendingMarker, s.pendingTTL).Result()
	if err != nil {
		return false, fmt.Errorf("claim idempotency key: %w", err)
	}
	return ok, nil
}

// Load returns the stored result for key. found is true for pending keys too,
// in which case the result is nil.
func (s *IdempotencyStore) Load(ctx context.Context, key string) (res *model.Result, found bool, err error) {
	val, err := s.redisClient.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load idempotency key: %w", err)
	}
	if val == pendingMarker {
		return nil, true, nil
	}

	var stored model.Result
	if err := json.Unmarshal([]byte(val), &stored); err != nil {
		return nil, true, fmt.Errorf("decode stored result: %w", err)
	}
	return &stored, true, nil
}

func (s *IdempotencyStore) Save(ctx context.Context, key string, res model.Result) error {
	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	if err := s.redisClient.Set(ctx, key, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("save idempotency key: %w", err)
	}
	return nil
}

func (s *IdempotencyStore) Release(ctx context.Context, key string) error {
	if err := s.redisClient.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("release idempotency key: %w", err)
	}
	return nil
}

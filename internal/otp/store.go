package otp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Code is the server-side copy of an issued redemption code.
type Code struct {
	Code     string    `json:"code"`
	IssuedAt time.Time `json:"issued_at"`
}

type Store interface {
	Put(ctx context.Context, ticketID string, code Code) error
	Get(ctx context.Context, ticketID string) (*Code, error)
	Delete(ctx context.Context, ticketID string) error
}

// RedisStore keeps one code per ticket. Keys carry a TTL so codes nobody
// redeems are evicted on their own.
type RedisStore struct {
	redis     *redis.Client
	retention time.Duration
}

func NewRedisStore(redisClient *redis.Client, retention time.Duration) *RedisStore {
	return &RedisStore{redis: redisClient, retention: retention}
}

func codeKey(ticketID string) string {
	return fmt.Sprintf("otp:ticket:%s", ticketID)
}

// Put overwrites any code already held for the ticket.
func (s *RedisStore) Put(ctx context.Context, ticketID string, code Code) error {
	data, err := json.Marshal(code)
	if err != nil {
		return err
	}
	return s.redis.Set(ctx, codeKey(ticketID), data, s.retention).Err()
}

// Get returns nil without error when no code is held.
func (s *RedisStore) Get(ctx context.Context, ticketID string) (*Code, error) {
	data, err := s.redis.Get(ctx, codeKey(ticketID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var code Code
	if err := json.Unmarshal(data, &code); err != nil {
		return nil, fmt.Errorf("decoding stored code: %w", err)
	}
	return &code, nil
}

func (s *RedisStore) Delete(ctx context.Context, ticketID string) error {
	return s.redis.Del(ctx, codeKey(ticketID)).Err()
}

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/layer-3/usdcpay/ports"
	"github.com/redis/go-redis/v9"
)

// RedisNonceStore is a Redis implementation of the NonceStore interface
type RedisNonceStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisNonceStore creates a new Redis nonce store
func NewRedisNonceStore(client redis.UniversalClient) ports.NonceStore {
	return &RedisNonceStore{
		client: client,
		prefix: "usdcpay:nonce:",
	}
}

// Save stores the nonce with an expiration
func (s *RedisNonceStore) Save(ctx context.Context, nonce string, ttl time.Duration) error {
	ok, err := s.client.SetNX(ctx, s.prefix+nonce, "1", ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to save nonce: %w", err)
	}
	if !ok {
		return fmt.Errorf("nonce already issued")
	}

	return nil
}

// Consume atomically deletes the nonce key and reports whether it existed
func (s *RedisNonceStore) Consume(ctx context.Context, nonce string) (bool, error) {
	_, err := s.client.GetDel(ctx, s.prefix+nonce).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to consume nonce: %w", err)
	}

	return true, nil
}

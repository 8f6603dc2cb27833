package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// NonceStore records request nonces with SET NX so each is accepted once
// across every API replica.
type NonceStore struct {
	rdb *redis.Client
}

// NewNonceStore creates a NonceStore.
func NewNonceStore(c *Client) *NonceStore {
	return &NonceStore{rdb: c.Underlying()}
}

func nonceKey(key string) string {
	return "nonce:" + key
}

// Claim marks key as used for ttl. It reports false if key was already
// claimed and has not expired.
func (s *NonceStore) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := s.rdb.SetNX(ctx, nonceKey(key), 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis: claim nonce: %w", err)
	}
	return ok, nil
}

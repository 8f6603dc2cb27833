package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"oraculo/internal/domain"
	"oraculo/internal/pricing"
	"oraculo/internal/storage"
)

// QuoteCache stores market price snapshots as JSON at "quote:{market}".
type QuoteCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewQuoteCache creates a QuoteCache whose entries expire after ttl.
func NewQuoteCache(c *Client, ttl time.Duration) *QuoteCache {
	return &QuoteCache{rdb: c.Underlying(), ttl: ttl}
}

func quoteKey(market domain.Address) string {
	return "quote:" + market.String()
}

// Get returns the cached quote of market, or storage.ErrNotFound.
func (qc *QuoteCache) Get(ctx context.Context, market domain.Address) (*pricing.Quote, error) {
	raw, err := qc.rdb.Get(ctx, quoteKey(market)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis: get quote %s: %w", market, err)
	}
	var q pricing.Quote
	if err := json.Unmarshal(raw, &q); err != nil {
		return nil, fmt.Errorf("redis: decode quote %s: %w", market, err)
	}
	return &q, nil
}

// Set caches a market quote. Bet quotes are not cached.
func (qc *QuoteCache) Set(ctx context.Context, q *pricing.Quote) error {
	if q.Side != "" {
		return nil
	}
	raw, err := json.Marshal(q)
	if err != nil {
		return fmt.Errorf("redis: encode quote %s: %w", q.Market, err)
	}
	if err := qc.rdb.Set(ctx, quoteKey(q.Market), raw, qc.ttl).Err(); err != nil {
		return fmt.Errorf("redis: set quote %s: %w", q.Market, err)
	}
	return nil
}

// Invalidate drops the cached quote of market.
func (qc *QuoteCache) Invalidate(ctx context.Context, market domain.Address) error {
	if err := qc.rdb.Del(ctx, quoteKey(market)).Err(); err != nil {
		return fmt.Errorf("redis: invalidate quote %s: %w", market, err)
	}
	return nil
}

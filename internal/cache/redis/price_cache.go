package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/donegogov/tradingbot-coinbase-allcoins-abovecertianliquidity/internal/domain"
)

// PriceCache implements domain.QuotePublisher using Redis hashes.
// Each instrument's latest price is stored as a hash at key
// "price:{instrumentID}" with fields "price" and "ts" (Unix nanoseconds).
// The engine only writes; dashboards and other processes read the hashes
// directly from Redis.
type PriceCache struct {
	rdb *redis.Client
}

// NewPriceCache creates a PriceCache backed by the given Client.
func NewPriceCache(c *Client) *PriceCache {
	return &PriceCache{rdb: c.Underlying()}
}

func priceKey(instrumentID string) string {
	return "price:" + instrumentID
}

// SetPrice stores the latest price and timestamp for an instrument.
func (pc *PriceCache) SetPrice(ctx context.Context, instrumentID string, price float64, ts time.Time) error {
	key := priceKey(instrumentID)
	fields := map[string]interface{}{
		"price": strconv.FormatFloat(price, 'f', -1, 64),
		"ts":    strconv.FormatInt(ts.UnixNano(), 10),
	}
	if err := pc.rdb.HSet(ctx, key, fields).Err(); err != nil {
		return fmt.Errorf("redis: set price %s: %w", instrumentID, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.QuotePublisher = (*PriceCache)(nil)

package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/colemanlowe/fibhedge/internal/domain"
)

// PriceCache implements domain.PriceCache using Redis hashes. Each coin's
// latest price is stored at key "price:{coin}" with fields "price" (decimal
// string, no float round-trip) and "ts" (Unix nanosecond timestamp).
type PriceCache struct {
	rdb *redis.Client
}

// NewPriceCache creates a PriceCache backed by the given Client.
func NewPriceCache(c *Client) *PriceCache {
	return &PriceCache{rdb: c.Underlying()}
}

func priceKey(coin string) string {
	return "price:" + coin
}

// SetPrice stores the latest price and timestamp for a coin.
func (pc *PriceCache) SetPrice(ctx context.Context, coin string, price decimal.Decimal, ts time.Time) error {
	fields := map[string]interface{}{
		"price": price.String(),
		"ts":    strconv.FormatInt(ts.UnixNano(), 10),
	}
	if err := pc.rdb.HSet(ctx, priceKey(coin), fields).Err(); err != nil {
		return fmt.Errorf("redis: set price %s: %w", coin, err)
	}
	return nil
}

// GetPrice retrieves the latest price and timestamp for a coin. It returns
// domain.ErrNotFound when the key does not exist.
func (pc *PriceCache) GetPrice(ctx context.Context, coin string) (decimal.Decimal, time.Time, error) {
	vals, err := pc.rdb.HGetAll(ctx, priceKey(coin)).Result()
	if err != nil {
		return decimal.Zero, time.Time{}, fmt.Errorf("redis: get price %s: %w", coin, err)
	}
	if len(vals) == 0 {
		return decimal.Zero, time.Time{}, domain.ErrNotFound
	}

	priceStr, ok := vals["price"]
	if !ok {
		return decimal.Zero, time.Time{}, domain.ErrNotFound
	}
	price, err := decimal.NewFromString(priceStr)
	if err != nil {
		return decimal.Zero, time.Time{}, fmt.Errorf("redis: parse price %s: %w", coin, err)
	}

	tsStr, ok := vals["ts"]
	if !ok {
		return decimal.Zero, time.Time{}, domain.ErrNotFound
	}
	tsNano, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return decimal.Zero, time.Time{}, fmt.Errorf("redis: parse ts %s: %w", coin, err)
	}

	return price, time.Unix(0, tsNano), nil
}

// GetPrices retrieves the latest prices for multiple coins using a pipeline.
// Coins whose keys do not exist are silently omitted from the result map.
func (pc *PriceCache) GetPrices(ctx context.Context, coins []string) (map[string]decimal.Decimal, error) {
	if len(coins) == 0 {
		return map[string]decimal.Decimal{}, nil
	}

	pipe := pc.rdb.Pipeline()
	cmds := make(map[string]*redis.MapStringStringCmd, len(coins))
	for _, coin := range coins {
		cmds[coin] = pipe.HGetAll(ctx, priceKey(coin))
	}

	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis: get prices pipeline: %w", err)
	}

	result := make(map[string]decimal.Decimal, len(coins))
	for coin, cmd := range cmds {
		vals, err := cmd.Result()
		if err != nil || len(vals) == 0 {
			continue
		}
		priceStr, ok := vals["price"]
		if !ok {
			continue
		}
		price, err := decimal.NewFromString(priceStr)
		if err != nil {
			continue
		}
		result[coin] = price
	}
	return result, nil
}

// Compile-time interface check.
var _ domain.PriceCache = (*PriceCache)(nil)

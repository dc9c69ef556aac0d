package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/holiman/uint256"
	"github.com/redis/go-redis/v9"

	"github.com/bitpesa/bitpesa/internal/domain"
)

// PriceCache implements domain.PriceCache using Redis hashes. Each asset is
// stored at "price:{asset}" with fields "price" (decimal integer), "decimals"
// and "ts" (Unix nanoseconds).
type PriceCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewPriceCache creates a PriceCache. A positive ttl expires readings that
// stop being refreshed.
func NewPriceCache(c *Client, ttl time.Duration) *PriceCache {
	return &PriceCache{rdb: c.Underlying(), ttl: ttl}
}

func priceKey(asset string) string {
	return "price:" + asset
}

// SetPrice stores the latest reading for its asset.
func (pc *PriceCache) SetPrice(ctx context.Context, r domain.PriceReading) error {
	key := priceKey(r.Asset)
	fields := map[string]interface{}{
		"price":    r.Price.Dec(),
		"decimals": strconv.Itoa(int(r.Decimals)),
		"ts":       strconv.FormatInt(r.UpdatedAt.UnixNano(), 10),
	}
	pipe := pc.rdb.TxPipeline()
	pipe.HSet(ctx, key, fields)
	if pc.ttl > 0 {
		pipe.Expire(ctx, key, pc.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set price %s: %w", r.Asset, err)
	}
	return nil
}

// GetPrice retrieves the latest reading for an asset. It returns
// domain.ErrNotFound when nothing is cached.
func (pc *PriceCache) GetPrice(ctx context.Context, asset string) (domain.PriceReading, error) {
	vals, err := pc.rdb.HGetAll(ctx, priceKey(asset)).Result()
	if err != nil {
		return domain.PriceReading{}, fmt.Errorf("redis: get price %s: %w", asset, err)
	}
	if len(vals) == 0 {
		return domain.PriceReading{}, domain.ErrNotFound
	}
	return decodeReading(asset, vals)
}

func decodeReading(asset string, vals map[string]string) (domain.PriceReading, error) {
	priceStr, ok1 := vals["price"]
	decStr, ok2 := vals["decimals"]
	tsStr, ok3 := vals["ts"]
	if !ok1 || !ok2 || !ok3 {
		return domain.PriceReading{}, domain.ErrNotFound
	}
	price, err := uint256.FromDecimal(priceStr)
	if err != nil {
		return domain.PriceReading{}, fmt.Errorf("redis: parse price %s: %w", asset, err)
	}
	decimals, err := strconv.ParseUint(decStr, 10, 8)
	if err != nil {
		return domain.PriceReading{}, fmt.Errorf("redis: parse decimals %s: %w", asset, err)
	}
	tsNano, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return domain.PriceReading{}, fmt.Errorf("redis: parse ts %s: %w", asset, err)
	}
	return domain.PriceReading{
		Asset:     asset,
		Price:     *price,
		Decimals:  uint8(decimals),
		UpdatedAt: time.Unix(0, tsNano).UTC(),
	}, nil
}

// Compile-time interface check.
var _ domain.PriceCache = (*PriceCache)(nil)

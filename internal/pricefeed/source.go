// Package pricefeed supplies collateral prices to the engine. A Poller pulls
// readings from a Source outside the engine lock and serves the latest one
// from memory.
package pricefeed

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/holiman/uint256"

	"github.com/bitpesa/bitpesa/internal/domain"
)

// Source fetches a fresh reading for an asset. Implementations may block on
// the network.
type Source interface {
	Name() string
	Fetch(ctx context.Context, asset string) (domain.PriceReading, error)
}

// Static is a fixed price, restamped with the current time on every fetch.
// It backs local development and tests.
type Static struct {
	mu       sync.RWMutex
	price    uint256.Int
	decimals uint8
	now      func() time.Time
}

// NewStatic returns a source quoting price (scaled by 10^decimals).
func NewStatic(price uint256.Int, decimals uint8) *Static {
	return &Static{price: price, decimals: decimals, now: time.Now}
}

// Set replaces the quoted price.
func (s *Static) Set(price uint256.Int, decimals uint8) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.price = price
	s.decimals = decimals
}

func (s *Static) Name() string { return "static" }

func (s *Static) Fetch(_ context.Context, asset string) (domain.PriceReading, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.price.IsZero() {
		return domain.PriceReading{}, fmt.Errorf("pricefeed: static %s: %w", asset, domain.ErrNotFound)
	}
	return domain.PriceReading{Asset: asset, Price: s.price, Decimals: s.decimals, UpdatedAt: s.now().UTC()}, nil
}

// CacheSource reads the reading another process mirrored into the shared
// price cache. The reading keeps its original timestamp so staleness is
// judged against the upstream update.
type CacheSource struct {
	cache domain.PriceCache
}

// NewCacheSource creates a CacheSource.
func NewCacheSource(cache domain.PriceCache) *CacheSource {
	return &CacheSource{cache: cache}
}

func (s *CacheSource) Name() string { return "cache" }

func (s *CacheSource) Fetch(ctx context.Context, asset string) (domain.PriceReading, error) {
	r, err := s.cache.GetPrice(ctx, asset)
	if err != nil {
		return domain.PriceReading{}, fmt.Errorf("pricefeed: cache %s: %w", asset, err)
	}
	return r, nil
}

package domain

import (
	"context"
	"time"
)

// PriceCache shares the latest oracle reading between processes. GetPrice
// returns ErrNotFound when nothing is cached for the asset.
type PriceCache interface {
	SetPrice(ctx context.Context, reading PriceReading) error
	GetPrice(ctx context.Context, asset string) (PriceReading, error)
}

// RateLimiter counts hits per key in a sliding window and reports whether
// one more is within limit.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager orders the persistence of vault, position and plan mutations
// and holds the per-chain writer lease. Acquire and Lease fail with
// ErrLockHeld instead of waiting.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
	// Lease takes key and keeps renewing it until ctx ends or release is
	// called. lost closes once the lease is no longer held, whether released
	// or taken over after a missed renewal.
	Lease(ctx context.Context, key string, ttl time.Duration) (lost <-chan struct{}, release func(), err error)
}

// StreamMessage is one durable stream entry. ID orders entries and is the
// cursor passed back to StreamRead.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus carries engine events over pub/sub and relay traffic over
// durable streams.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}

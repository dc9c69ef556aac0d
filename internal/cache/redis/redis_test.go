package redis

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bitpesa/bitpesa/internal/domain"
)

func TestDecodeReading(t *testing.T) {
	require := require.New(t)

	r, err := decodeReading("BTC", map[string]string{
		"price":    "6000000000000",
		"decimals": "8",
		"ts":       "1760000000000000000",
	})
	require.NoError(err)
	require.Equal("BTC", r.Asset)
	require.Equal(uint64(6_000_000_000_000), r.Price.Uint64())
	require.Equal(uint8(8), r.Decimals)
	require.Equal(time.Unix(1_760_000_000, 0).UTC(), r.UpdatedAt)

	_, err = decodeReading("BTC", map[string]string{"price": "1"})
	require.ErrorIs(err, domain.ErrNotFound)

	_, err = decodeReading("BTC", map[string]string{"price": "x", "decimals": "8", "ts": "1"})
	require.Error(err)

	_, err = decodeReading("BTC", map[string]string{"price": "1", "decimals": "300", "ts": "1"})
	require.Error(err)
}

func TestKeysAndPatterns(t *testing.T) {
	require := require.New(t)
	require.Equal("price:BTC", priceKey("BTC"))
	require.Equal("lock:position:abc", lockKey("position:abc"))
	require.Equal("ratelimit:api:10.0.0.1", rateLimitKey("api:10.0.0.1"))
	require.True(hasPattern("bridge:ack:*"))
	require.False(hasPattern("bridge:ack:1"))
}

func TestClientOptions(t *testing.T) {
	require := require.New(t)
	cfg := ClientConfig{Addr: "cache:6379", DB: 2, PoolSize: 20, MaxRetries: 3}

	opts := cfg.options()
	require.Equal("cache:6379", opts.Addr)
	require.Equal(2, opts.DB)
	require.Equal(20, opts.PoolSize)
	require.Nil(opts.TLSConfig)

	cfg.TLSEnabled = true
	require.NotNil(cfg.options().TLSConfig)
}

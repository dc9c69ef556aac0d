package pricefeed

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/bitpesa/bitpesa/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type memCache struct {
	mu       sync.Mutex
	readings map[string]domain.PriceReading
}

func newMemCache() *memCache { return &memCache{readings: map[string]domain.PriceReading{}} }

func (c *memCache) SetPrice(_ context.Context, r domain.PriceReading) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.readings[r.Asset] = r
	return nil
}

func (c *memCache) GetPrice(_ context.Context, asset string) (domain.PriceReading, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.readings[asset]
	if !ok {
		return domain.PriceReading{}, domain.ErrNotFound
	}
	return r, nil
}

type flakySource struct {
	reading domain.PriceReading
	err     error
}

func (s *flakySource) Name() string { return "flaky" }

func (s *flakySource) Fetch(context.Context, string) (domain.PriceReading, error) {
	return s.reading, s.err
}

func TestPollerServesLatestReading(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	cache := newMemCache()
	src := NewStatic(*uint256.NewInt(60_000_00000000), 8)
	p := NewPoller(src, cache, "BTC", time.Second, discardLogger())

	_, err := p.Price("BTC")
	require.ErrorIs(err, domain.ErrNotFound)

	require.NoError(p.Refresh(ctx))
	r, err := p.Price("BTC")
	require.NoError(err)
	require.Equal(uint64(60_000_00000000), r.Price.Uint64())
	require.Equal(uint8(8), r.Decimals)

	mirrored, err := cache.GetPrice(ctx, "BTC")
	require.NoError(err)
	require.Equal(r, mirrored)

	_, err = p.Price("ETH")
	require.ErrorIs(err, domain.ErrNotFound)
}

func TestPollerKeepsLastGoodReading(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	src := &flakySource{reading: domain.PriceReading{Price: *uint256.NewInt(100), Decimals: 0, UpdatedAt: at}}
	p := NewPoller(src, nil, "BTC", time.Second, discardLogger())

	require.NoError(p.Refresh(ctx))
	src.err = errors.New("rpc down")
	require.Error(p.Refresh(ctx))

	r, err := p.Price("BTC")
	require.NoError(err)
	require.Equal(at, r.UpdatedAt)

	// Out-of-order readings are ignored.
	src.err = nil
	src.reading = domain.PriceReading{Price: *uint256.NewInt(90), UpdatedAt: at.Add(-time.Minute)}
	require.NoError(p.Refresh(ctx))
	r, err = p.Price("BTC")
	require.NoError(err)
	require.Equal(uint64(100), r.Price.Uint64())

	src.reading = domain.PriceReading{UpdatedAt: at.Add(time.Minute)}
	require.Error(p.Refresh(ctx))
}

func TestPollerReportsFetchErrorBeforeFirstReading(t *testing.T) {
	src := &flakySource{err: errors.New("boom")}
	p := NewPoller(src, nil, "BTC", time.Second, discardLogger())
	require.Error(t, p.Refresh(context.Background()))

	_, err := p.Price("BTC")
	require.ErrorContains(t, err, "boom")
}

func TestCacheSource(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	cache := newMemCache()
	src := NewCacheSource(cache)

	_, err := src.Fetch(ctx, "BTC")
	require.ErrorIs(err, domain.ErrNotFound)

	want := domain.PriceReading{Asset: "BTC", Price: *uint256.NewInt(42), Decimals: 2, UpdatedAt: time.Unix(1_700_000_000, 0).UTC()}
	require.NoError(cache.SetPrice(ctx, want))
	got, err := src.Fetch(ctx, "BTC")
	require.NoError(err)
	require.Equal(want, got)
}

type fakeAggregator struct {
	t         *testing.T
	src       *Chainlink
	answer    *big.Int
	updatedAt int64
	calls     map[string]int
}

func (f *fakeAggregator) CallContract(_ context.Context, call ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	for name, m := range f.src.abi.Methods {
		if !bytes.Equal(call.Data[:4], m.ID) {
			continue
		}
		f.calls[name]++
		switch name {
		case "decimals":
			return m.Outputs.Pack(uint8(8))
		case "latestRoundData":
			return m.Outputs.Pack(big.NewInt(7), f.answer, big.NewInt(f.updatedAt), big.NewInt(f.updatedAt), big.NewInt(7))
		}
	}
	f.t.Fatalf("unexpected call data %x", call.Data)
	return nil, nil
}

func TestChainlinkFetch(t *testing.T) {
	require := require.New(t)
	agg := &fakeAggregator{t: t, answer: big.NewInt(6_000_000_000_000), updatedAt: 1_760_000_000, calls: map[string]int{}}
	src, err := NewChainlink(agg, common.HexToAddress("0x0000000000000000000000000000000000001234"))
	require.NoError(err)
	agg.src = src

	r, err := src.Fetch(context.Background(), "BTC")
	require.NoError(err)
	require.Equal(uint64(6_000_000_000_000), r.Price.Uint64())
	require.Equal(uint8(8), r.Decimals)
	require.Equal(time.Unix(1_760_000_000, 0).UTC(), r.UpdatedAt)

	_, err = src.Fetch(context.Background(), "BTC")
	require.NoError(err)
	require.Equal(1, agg.calls["decimals"])
	require.Equal(2, agg.calls["latestRoundData"])

	agg.answer = big.NewInt(-1)
	_, err = src.Fetch(context.Background(), "BTC")
	require.Error(err)
}

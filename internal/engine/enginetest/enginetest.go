// Package enginetest provides a deterministic engine for tests of the layers
// above it: a settable clock, a settable BTC price and fixed identities.
package enginetest

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/bitpesa/bitpesa/internal/domain"
	"github.com/bitpesa/bitpesa/internal/engine"
)

// Well-known identities.
var (
	Admin     = common.HexToAddress("0x00000000000000000000000000000000000000ad")
	Treasury  = common.HexToAddress("0x00000000000000000000000000000000000000fe")
	Executor  = common.HexToAddress("0x00000000000000000000000000000000000000e1")
	Verifier  = common.HexToAddress("0x00000000000000000000000000000000000000c5")
	Alice     = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	Bob       = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	Carol     = common.HexToAddress("0x00000000000000000000000000000000000000c3")
	KeeperBot = common.HexToAddress("0x00000000000000000000000000000000000000d4")
)

// Chains: HomeChain serves the engine, PeerChain is allow-listed, FarChain
// is not.
const (
	HomeChain domain.ChainSelector = 1
	PeerChain domain.ChainSelector = 2
	FarChain  domain.ChainSelector = 99
)

// Start is the initial clock reading.
var Start = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// Clock is a settable time source safe for concurrent use.
type Clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// Feed quotes whole dollars with 8 decimals, always fresh relative to Clock.
type Feed struct {
	mu      sync.Mutex
	clock   *Clock
	dollars uint64
}

// SetDollars changes the quoted BTC price.
func (f *Feed) SetDollars(d uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dollars = d
}

func (f *Feed) Price(asset string) (domain.PriceReading, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var p uint256.Int
	p.Mul(uint256.NewInt(f.dollars), uint256.NewInt(100_000_000))
	return domain.PriceReading{Asset: asset, Price: p, Decimals: 8, UpdatedAt: f.clock.Now()}, nil
}

// Config is a home-chain configuration: 150% required, 120% liquidation
// threshold, 5% liquidator reward, 1% protocol fee, executor approval and KYC.
func Config() engine.Config {
	v := Verifier
	return engine.Config{
		CollateralAsset:         "BTC",
		HomeChain:               HomeChain,
		Admin:                   Admin,
		Treasury:                Treasury,
		InitialExecutor:         Executor,
		RequireExecutorApproval: true,
		KYCVerifier:             &v,
		RequiredCollateralRatio: 150,
		LiquidationThreshold:    120,
		SupportedChains:         []domain.ChainSelector{PeerChain},
		MaxPriceAge:             time.Hour,
		Liquidation:             engine.LiquidationPolicy{LiquidatorRewardBps: 500, ProtocolFeeBps: 100},
	}
}

// Env is an engine with its clock and feed.
type Env struct {
	Engine *engine.Engine
	Clock  *Clock
	Feed   *Feed
}

// New builds an engine quoting $60,000 per BTC with position ids "pos-N".
// mutate may adjust the configuration first.
func New(t testing.TB, mutate func(*engine.Config), opts ...engine.Option) *Env {
	t.Helper()
	cfg := Config()
	if mutate != nil {
		mutate(&cfg)
	}
	clock := &Clock{t: Start}
	feed := &Feed{clock: clock, dollars: 60_000}
	var (
		mu  sync.Mutex
		seq int
	)
	opts = append([]engine.Option{
		engine.WithClock(clock.Now),
		engine.WithIDGenerator(func() string {
			mu.Lock()
			defer mu.Unlock()
			seq++
			return fmt.Sprintf("pos-%d", seq)
		}),
	}, opts...)
	eng, err := engine.New(cfg, feed, opts...)
	require.NoError(t, err)
	return &Env{Engine: eng, Clock: clock, Feed: feed}
}

package engine

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/bitpesa/bitpesa/internal/domain"
)

var (
	admin     = common.HexToAddress("0x00000000000000000000000000000000000000ad")
	treasury  = common.HexToAddress("0x00000000000000000000000000000000000000fe")
	executor  = common.HexToAddress("0x00000000000000000000000000000000000000e1")
	verifier  = common.HexToAddress("0x00000000000000000000000000000000000000c5")
	alice     = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob       = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	carol     = common.HexToAddress("0x00000000000000000000000000000000000000c3")
	keeperBot = common.HexToAddress("0x00000000000000000000000000000000000000d4")
)

const (
	homeChain domain.ChainSelector = 1
	peerChain domain.ChainSelector = 2
	farChain  domain.ChainSelector = 99
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

// fakeFeed quotes BTC in USD with 8 decimals, updated age before the clock.
type fakeFeed struct {
	clock    *fakeClock
	dollars  uint64
	decimals uint8
	age      time.Duration
	err      error
}

func (f *fakeFeed) Price(asset string) (domain.PriceReading, error) {
	if f.err != nil {
		return domain.PriceReading{}, f.err
	}
	var p uint256.Int
	p.Mul(uint256.NewInt(f.dollars), new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(uint64(f.decimals))))
	return domain.PriceReading{Asset: asset, Price: p, Decimals: f.decimals, UpdatedAt: f.clock.Now().Add(-f.age)}, nil
}

func testConfig() Config {
	return Config{
		CollateralAsset:         "BTC",
		HomeChain:               homeChain,
		Admin:                   admin,
		Treasury:                treasury,
		InitialExecutor:         executor,
		RequireExecutorApproval: true,
		KYCVerifier:             &verifier,
		RequiredCollateralRatio: 150,
		LiquidationThreshold:    120,
		SupportedChains:         []domain.ChainSelector{peerChain},
		MaxPriceAge:             time.Hour,
		Liquidation:             LiquidationPolicy{LiquidatorRewardBps: 500, ProtocolFeeBps: 100},
	}
}

type testEnv struct {
	eng   *Engine
	clock *fakeClock
	feed  *fakeFeed
}

func newTestEnv(t *testing.T, mutate func(*Config), opts ...Option) *testEnv {
	t.Helper()
	cfg := testConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	feed := &fakeFeed{clock: clock, dollars: 60_000, decimals: 8}
	seq := 0
	opts = append([]Option{
		WithClock(clock.Now),
		WithIDGenerator(func() string { seq++; return fmt.Sprintf("pos-%d", seq) }),
	}, opts...)
	eng, err := New(cfg, feed, opts...)
	require.NoError(t, err)
	return &testEnv{eng: eng, clock: clock, feed: feed}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing asset", func(c *Config) { c.CollateralAsset = "" }},
		{"zero admin", func(c *Config) { c.Admin = domain.ZeroAddress }},
		{"zero treasury", func(c *Config) { c.Treasury = domain.ZeroAddress }},
		{"zero ratio", func(c *Config) { c.RequiredCollateralRatio = 0 }},
		{"threshold above required", func(c *Config) { c.LiquidationThreshold = 200 }},
		{"no price age", func(c *Config) { c.MaxPriceAge = 0 }},
		{"payout over 100%", func(c *Config) { c.Liquidation.ProtocolFeeBps = 9_600 }},
		{"home chain as peer", func(c *Config) { c.SupportedChains = append(c.SupportedChains, homeChain) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(&cfg)
			_, err := New(cfg, &fakeFeed{})
			require.ErrorIs(t, err, domain.ErrValidation)
		})
	}

	t.Run("nil feed", func(t *testing.T) {
		_, err := New(testConfig(), nil)
		require.ErrorIs(t, err, domain.ErrValidation)
	})
}

func TestStalePrice(t *testing.T) {
	require := require.New(t)
	env := newTestEnv(t, nil)
	_, err := env.eng.Deposit(alice, 2_000_000)
	require.NoError(err)

	env.feed.age = 2 * time.Hour
	_, err = env.eng.OpenPosition(alice, 1_000_000, domain.USD(400), 500)
	require.ErrorIs(err, domain.ErrStalePrice)
	require.Equal(uint64(2_000_000), env.eng.Balance(alice))

	env.feed.age = 0
	env.feed.dollars = 0
	_, err = env.eng.OpenPosition(alice, 1_000_000, domain.USD(400), 500)
	require.ErrorIs(err, domain.ErrStalePrice)

	env.feed.dollars = 60_000
	env.feed.err = errors.New("feed offline")
	_, err = env.eng.OpenPosition(alice, 1_000_000, domain.USD(400), 500)
	require.ErrorIs(err, domain.ErrStalePrice)

	env.feed.err = nil
	_, err = env.eng.OpenPosition(alice, 1_000_000, domain.USD(400), 500)
	require.NoError(err)
}

func TestSnapshotRestore(t *testing.T) {
	require := require.New(t)
	env := newTestEnv(t, nil)
	eng := env.eng

	_, err := eng.Deposit(alice, 3_000_000)
	require.NoError(err)
	pos, err := eng.OpenPosition(alice, 1_000_000, domain.USD(400), 800)
	require.NoError(err)
	_, err = eng.CreatePlan(alice, PlanParams{Beneficiaries: []domain.Beneficiary{{Address: bob, ShareBps: 10_000}}})
	require.NoError(err)
	_, err = eng.Send(alice, peerChain, 100_000, bob)
	require.NoError(err)
	_, err = eng.Receive(domain.BridgeMessage{
		SourceChain: peerChain, DestChain: homeChain, Sender: carol, AmountSats: 5_000, Nonce: 7,
	})
	require.NoError(err)
	require.NoError(eng.AddChain(admin, farChain))

	env.clock.Advance(time.Hour)
	_, err = eng.Position(pos.ID)
	require.NoError(err)
	snap := eng.Snapshot()

	restored := newTestEnv(t, nil)
	restored.clock.t = env.clock.t
	require.NoError(restored.eng.Restore(snap))
	require.Equal(snap, restored.eng.Snapshot())
	require.Equal(eng.TotalSats(), restored.eng.TotalSats())

	msg, err := restored.eng.Send(alice, peerChain, 1_000, bob)
	require.NoError(err)
	require.Equal(uint64(2), msg.Nonce)

	_, err = restored.eng.Receive(domain.BridgeMessage{
		SourceChain: peerChain, DestChain: homeChain, Sender: carol, AmountSats: 5_000, Nonce: 7,
	})
	require.ErrorIs(err, domain.ErrReplayedNonce)
}

func TestRestoreRejectsCorruptState(t *testing.T) {
	require := require.New(t)
	env := newTestEnv(t, nil)

	err := env.eng.Restore(State{Positions: []domain.Position{{ID: "p", Owner: alice, Status: domain.PositionStatusOpen}}})
	require.ErrorIs(err, domain.ErrValidation)

	err = env.eng.Restore(State{Messages: []domain.BridgeMessage{{Sender: alice, Nonce: 1, Direction: "sideways"}}})
	require.ErrorIs(err, domain.ErrValidation)
	require.Empty(env.eng.Snapshot().Positions)
	require.Equal([]domain.ChainSelector{peerChain}, env.eng.SupportedChains())
}

func TestCheckIn(t *testing.T) {
	require := require.New(t)
	env := newTestEnv(t, nil)

	require.ErrorIs(env.eng.CheckIn(domain.ZeroAddress), domain.ErrValidation)
	require.NoError(env.eng.CheckIn(alice))
	require.Equal(env.clock.Now(), env.eng.Account(alice).LastSeenAt)
}

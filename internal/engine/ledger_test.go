package engine

import (
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/bitpesa/bitpesa/internal/domain"
)

// openLoan deposits and opens the canonical 0.01 BTC / $400 position.
func openLoan(t *testing.T, env *testEnv, rateBps uint32) domain.Position {
	t.Helper()
	_, err := env.eng.Deposit(alice, 1_000_000)
	require.NoError(t, err)
	pos, err := env.eng.OpenPosition(alice, 1_000_000, domain.USD(400), rateBps)
	require.NoError(t, err)
	return pos
}

func TestLiquidationScenarios(t *testing.T) {
	require := require.New(t)
	env := newTestEnv(t, nil)
	pos := openLoan(t, env, 0)

	ratio, err := env.eng.HealthRatio(pos.ID)
	require.NoError(err)
	require.Equal(uint64(150), ratio)

	_, err = env.eng.Liquidate(keeperBot, pos.ID)
	require.ErrorIs(err, domain.ErrAboveLiquidationThreshold)

	env.feed.dollars = 45_000
	ratio, err = env.eng.HealthRatio(pos.ID)
	require.NoError(err)
	require.Equal(uint64(112), ratio)

	res, err := env.eng.Liquidate(keeperBot, pos.ID)
	require.NoError(err)
	require.Equal(uint64(112), res.HealthRatio)
	require.Equal(uint64(1_000_000), res.SeizedSats)
	require.Equal(uint64(888_889), res.DebtSats)
	require.Equal(uint64(5_555), res.LiquidatorSats)
	require.Equal(uint64(1_111), res.ProtocolFeeSats)
	require.Equal(uint64(104_445), res.OwnerRefundSats)
	require.Equal(res.SeizedSats, res.DebtSats+res.LiquidatorSats+res.ProtocolFeeSats+res.OwnerRefundSats)

	require.Equal(uint64(888_889+1_111), env.eng.Balance(treasury))
	require.Equal(uint64(5_555), env.eng.Balance(keeperBot))
	require.Equal(uint64(104_445), env.eng.Balance(alice))
	require.Equal(uint64(1_000_000), env.eng.TotalSats())

	got, err := env.eng.Position(pos.ID)
	require.NoError(err)
	require.Equal(domain.PositionStatusLiquidated, got.Status)
	require.Zero(got.CollateralSats)
	require.NotNil(got.ClosedAt)

	_, err = env.eng.Liquidate(keeperBot, pos.ID)
	require.ErrorIs(err, domain.ErrAlreadyLiquidated)
	_, err = env.eng.Repay(alice, pos.ID, domain.USD(1))
	require.ErrorIs(err, domain.ErrAlreadyLiquidated)
}

func TestLiquidateSucceedsIffBelowThreshold(t *testing.T) {
	for price := uint64(30_000); price <= 70_000; price += 1_250 {
		env := newTestEnv(t, nil)
		pos := openLoan(t, env, 0)
		env.feed.dollars = price

		ratio, err := env.eng.HealthRatio(pos.ID)
		require.NoError(t, err)
		_, err = env.eng.Liquidate(keeperBot, pos.ID)
		if ratio < 120 {
			require.NoError(t, err, "price %d ratio %d", price, ratio)
		} else {
			require.ErrorIs(t, err, domain.ErrAboveLiquidationThreshold, "price %d ratio %d", price, ratio)
		}
	}
}

func TestHealthMonotonicInPrice(t *testing.T) {
	require := require.New(t)
	env := newTestEnv(t, nil)
	pos := openLoan(t, env, 1_000)

	var prev uint64
	for price := uint64(1_000); price <= 200_000; price += 3_700 {
		env.feed.dollars = price
		ratio, err := env.eng.HealthRatio(pos.ID)
		require.NoError(err)
		require.GreaterOrEqual(ratio, prev)
		prev = ratio
	}
}

func TestHealthRatioMath(t *testing.T) {
	require := require.New(t)

	require.Equal(MaxHealthRatio, HealthRatio(domain.USD(1), uint256.Int{}))
	require.Equal(uint64(150), HealthRatio(domain.USD(600), domain.USD(400)))
	require.Equal(uint64(33), HealthRatio(domain.USD(1), domain.USD(3)))

	// 8 and 18 decimal feeds agree on value.
	r8 := domain.PriceReading{Price: *uint256.NewInt(60_000_00000000), Decimals: 8}
	r18 := domain.PriceReading{Decimals: 18}
	r18.Price.Mul(uint256.NewInt(60_000), pow10(18))
	v8, err := CollateralValueUSD(1_000_000, r8)
	require.NoError(err)
	v18, err := CollateralValueUSD(1_000_000, r18)
	require.NoError(err)
	require.Equal(domain.USD(600), v8)
	require.Equal(v8, v18)
}

func TestInterestAccrual(t *testing.T) {
	require := require.New(t)
	env := newTestEnv(t, nil)
	pos := openLoan(t, env, 1_000)

	env.clock.Advance(1500 * time.Millisecond)
	got, err := env.eng.Position(pos.ID)
	require.NoError(err)
	require.Equal(uint64(126), got.AccruedInterestUSD.Uint64())
	require.Equal(pos.OpenedAt.Add(time.Second), got.LastAccrualAt)

	env.clock.Advance(500 * time.Millisecond)
	got, err = env.eng.Position(pos.ID)
	require.NoError(err)
	require.Equal(uint64(252), got.AccruedInterestUSD.Uint64())

	env2 := newTestEnv(t, nil)
	pos2 := openLoan(t, env2, 1_000)
	env2.clock.Advance(365 * 24 * time.Hour)
	got, err = env2.eng.Position(pos2.ID)
	require.NoError(err)
	require.Equal(domain.USD(40), got.AccruedInterestUSD)
	debt := got.Debt()
	require.Equal(domain.USD(440), debt)
}

func TestOpenPositionErrors(t *testing.T) {
	env := newTestEnv(t, nil)
	_, err := env.eng.Deposit(alice, 1_000_000)
	require.NoError(t, err)

	tests := []struct {
		name      string
		owner     domain.Address
		sats      uint64
		principal uint256.Int
		want      error
	}{
		{"zero collateral", alice, 0, domain.USD(1), domain.ErrValidation},
		{"zero principal", alice, 1_000, uint256.Int{}, domain.ErrValidation},
		{"zero owner", domain.ZeroAddress, 1_000, domain.USD(1), domain.ErrValidation},
		{"principal over u128", alice, 1_000, *new(uint256.Int).Lsh(uint256.NewInt(1), 130), domain.ErrOverflow},
		{"below required ratio", alice, 1_000_000, domain.USD(401), domain.ErrBelowRequiredRatio},
		{"vault cannot fund", alice, 2_000_000, domain.USD(400), domain.ErrInsufficientCollateral},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.eng.OpenPosition(tt.owner, tt.sats, tt.principal, 500)
			require.ErrorIs(t, err, tt.want)
			require.Equal(t, uint64(1_000_000), env.eng.Balance(alice))
		})
	}
}

func TestRepay(t *testing.T) {
	t.Run("interest first then principal", func(t *testing.T) {
		require := require.New(t)
		env := newTestEnv(t, nil)
		pos := openLoan(t, env, 1_000)
		env.clock.Advance(365 * 24 * time.Hour)

		res, err := env.eng.Repay(bob, pos.ID, domain.USD(50))
		require.NoError(err)
		require.Equal(domain.USD(40), res.InterestPaidUSD)
		require.Equal(domain.USD(10), res.PrincipalPaidUSD)
		require.Equal(domain.USD(50), res.AppliedUSD)
		require.Equal(domain.USD(390), res.Position.PrincipalUSD)
		require.True(res.Position.AccruedInterestUSD.IsZero())
		require.Equal(domain.PositionStatusOpen, res.Position.Status)
		require.Zero(res.ReturnedSats)
	})

	t.Run("overpayment is clamped and closes the loan", func(t *testing.T) {
		require := require.New(t)
		env := newTestEnv(t, nil)
		pos := openLoan(t, env, 0)
		require.Zero(env.eng.Balance(alice))

		res, err := env.eng.Repay(alice, pos.ID, domain.USD(1_000))
		require.NoError(err)
		require.Equal(domain.USD(400), res.AppliedUSD)
		require.Equal(uint64(1_000_000), res.ReturnedSats)
		require.Equal(domain.PositionStatusRepaid, res.Position.Status)
		require.Zero(res.Position.CollateralSats)
		require.Equal(uint64(1_000_000), env.eng.Balance(alice))

		_, err = env.eng.Repay(alice, pos.ID, domain.USD(1))
		require.ErrorIs(err, domain.ErrAlreadyRepaid)
		_, err = env.eng.Liquidate(keeperBot, pos.ID)
		require.ErrorIs(err, domain.ErrAlreadyRepaid)
	})

	t.Run("errors", func(t *testing.T) {
		require := require.New(t)
		env := newTestEnv(t, nil)
		pos := openLoan(t, env, 0)

		_, err := env.eng.Repay(alice, pos.ID, uint256.Int{})
		require.ErrorIs(err, domain.ErrValidation)
		_, err = env.eng.Repay(alice, "missing", domain.USD(1))
		require.ErrorIs(err, domain.ErrNotFound)
	})
}

func TestCollateralAdjustments(t *testing.T) {
	require := require.New(t)
	env := newTestEnv(t, nil)
	pos := openLoan(t, env, 0)
	_, err := env.eng.Deposit(alice, 500_000)
	require.NoError(err)

	_, err = env.eng.AddCollateral(bob, pos.ID, 100_000)
	require.ErrorIs(err, domain.ErrUnauthorized)
	_, err = env.eng.AddCollateral(alice, pos.ID, 600_000)
	require.ErrorIs(err, domain.ErrInsufficientCollateral)

	got, err := env.eng.AddCollateral(alice, pos.ID, 500_000)
	require.NoError(err)
	require.Equal(uint64(1_500_000), got.CollateralSats)
	require.Zero(env.eng.Balance(alice))

	_, err = env.eng.RemoveCollateral(alice, pos.ID, 1_500_000)
	require.ErrorIs(err, domain.ErrInsufficientCollateral)
	_, err = env.eng.RemoveCollateral(alice, pos.ID, 600_000)
	require.ErrorIs(err, domain.ErrInsufficientCollateral)
	_, err = env.eng.RemoveCollateral(bob, pos.ID, 1)
	require.ErrorIs(err, domain.ErrUnauthorized)

	got, err = env.eng.RemoveCollateral(alice, pos.ID, 500_000)
	require.NoError(err)
	require.Equal(uint64(1_000_000), got.CollateralSats)
	require.Equal(uint64(500_000), env.eng.Balance(alice))
	require.Equal(uint64(1_500_000), env.eng.TotalSats())
}

func TestWithdrawRespectsOpenPositions(t *testing.T) {
	require := require.New(t)
	env := newTestEnv(t, nil)
	openLoan(t, env, 0)
	_, err := env.eng.Deposit(alice, 300_000)
	require.NoError(err)

	_, err = env.eng.Withdraw(alice, 400_000)
	require.ErrorIs(err, domain.ErrInsufficientCollateral)
	_, err = env.eng.Withdraw(alice, 0)
	require.ErrorIs(err, domain.ErrValidation)

	env.feed.dollars = 45_000
	_, err = env.eng.Withdraw(alice, 100_000)
	require.ErrorIs(err, domain.ErrInsufficientCollateral)
	require.Equal(uint64(300_000), env.eng.Balance(alice))

	env.feed.dollars = 60_000
	acct, err := env.eng.Withdraw(alice, 100_000)
	require.NoError(err)
	require.Equal(uint64(200_000), acct.BalanceSats)
}

func TestDepositOverflow(t *testing.T) {
	require := require.New(t)
	env := newTestEnv(t, nil)

	_, err := env.eng.Deposit(alice, ^uint64(0))
	require.NoError(err)
	_, err = env.eng.Deposit(alice, 1)
	require.ErrorIs(err, domain.ErrOverflow)
	require.Equal(^uint64(0), env.eng.Balance(alice))
}

func TestPositionQueries(t *testing.T) {
	require := require.New(t)
	env := newTestEnv(t, nil)
	first := openLoan(t, env, 0)
	second := openLoan(t, env, 0)
	_, err := env.eng.Repay(alice, first.ID, domain.USD(400))
	require.NoError(err)

	all, err := env.eng.PositionsByOwner(alice)
	require.NoError(err)
	require.Len(all, 2)
	require.Equal(first.ID, all[0].ID)

	open, err := env.eng.OpenPositions()
	require.NoError(err)
	require.Len(open, 1)
	require.Equal(second.ID, open[0].ID)

	_, err = env.eng.Position("nope")
	require.ErrorIs(err, domain.ErrNotFound)
}

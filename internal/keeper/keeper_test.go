package keeper

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bitpesa/bitpesa/internal/domain"
	"github.com/bitpesa/bitpesa/internal/engine/enginetest"
	"github.com/bitpesa/bitpesa/internal/metrics"
	"github.com/bitpesa/bitpesa/internal/service"
	"github.com/bitpesa/bitpesa/internal/store/memory"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestScanLiquidatesOnlyUnhealthyPositions(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	env := enginetest.New(t, nil)
	st := memory.New()
	deps := service.Deps{Engine: env.Engine, State: st, Audit: st.Audit(), Logger: discardLogger()}
	vault, err := service.NewVaultService(deps)
	require.NoError(err)
	loans, err := service.NewLoanService(deps)
	require.NoError(err)

	_, err = vault.Deposit(ctx, enginetest.Alice, 1_000_000)
	require.NoError(err)
	_, err = vault.Deposit(ctx, enginetest.Bob, 2_000_000)
	require.NoError(err)
	weak, err := loans.Open(ctx, enginetest.Alice, 1_000_000, domain.USD(400), 0)
	require.NoError(err)
	strong, err := loans.Open(ctx, enginetest.Bob, 2_000_000, domain.USD(400), 0)
	require.NoError(err)

	m := metrics.New()
	l := NewLiquidator(loans, enginetest.KeeperBot, env.Engine.Config().LiquidationThreshold, time.Second, m, discardLogger())

	n, err := l.Scan(ctx)
	require.NoError(err)
	require.Zero(n, "ratio 150 is healthy")

	env.Feed.SetDollars(45_000)
	n, err = l.Scan(ctx)
	require.NoError(err)
	require.Equal(1, n)

	pos, _, err := loans.Position(weak.ID)
	require.NoError(err)
	require.Equal(domain.PositionStatusLiquidated, pos.Status)
	pos, _, err = loans.Position(strong.ID)
	require.NoError(err)
	require.Equal(domain.PositionStatusOpen, pos.Status)
	require.Equal(uint64(5_555), env.Engine.Balance(enginetest.KeeperBot))
}

func TestScanStopsOnStalePrice(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	env := enginetest.New(t, nil)
	st := memory.New()
	deps := service.Deps{Engine: env.Engine, State: st, Audit: st.Audit(), Logger: discardLogger()}
	vault, err := service.NewVaultService(deps)
	require.NoError(err)
	loans, err := service.NewLoanService(deps)
	require.NoError(err)

	_, err = vault.Deposit(ctx, enginetest.Alice, 1_000_000)
	require.NoError(err)
	_, err = loans.Open(ctx, enginetest.Alice, 1_000_000, domain.USD(400), 0)
	require.NoError(err)

	stale := &staleLoans{Loans: loans}
	l := NewLiquidator(stale, enginetest.KeeperBot, 120, time.Second, nil, discardLogger())
	_, err = l.Scan(ctx)
	require.ErrorIs(err, domain.ErrStalePrice)
}

type staleLoans struct {
	Loans
}

func (staleLoans) HealthRatio(string) (uint64, error) {
	return 0, domain.ErrStalePrice
}

type fakeArchiver struct {
	cutoffs []time.Time
	fail    error
}

func (f *fakeArchiver) ArchivePositions(_ context.Context, before time.Time) (int64, error) {
	f.cutoffs = append(f.cutoffs, before)
	return 2, nil
}

func (f *fakeArchiver) ArchivePlans(context.Context, time.Time) (int64, error) {
	return 1, f.fail
}

func (f *fakeArchiver) ArchiveBridgeMessages(context.Context, time.Time) (int64, error) {
	return 3, nil
}

func TestArchiverRunUsesRetentionCutoff(t *testing.T) {
	require := require.New(t)
	fa := &fakeArchiver{}
	a := NewArchiver(fa, 30, discardLogger())
	now := time.Date(2026, 3, 31, 3, 0, 0, 0, time.UTC)
	a.now = func() time.Time { return now }

	counts, err := a.Run(context.Background())
	require.NoError(err)
	require.Equal(ArchiveCounts{Positions: 2, Plans: 1, Messages: 3}, counts)
	require.Equal([]time.Time{now.AddDate(0, 0, -30)}, fa.cutoffs)

	fa.fail = errors.New("bucket gone")
	_, err = a.Run(context.Background())
	require.ErrorContains(err, "bucket gone")
}

func TestCronSchedule(t *testing.T) {
	tests := []struct {
		expr  string
		after time.Time
		want  time.Time
	}{
		{"0 3 * * *", time.Date(2026, 1, 1, 2, 59, 30, 0, time.UTC), time.Date(2026, 1, 1, 3, 0, 0, 0, time.UTC)},
		{"0 3 * * *", time.Date(2026, 1, 1, 3, 0, 0, 0, time.UTC), time.Date(2026, 1, 2, 3, 0, 0, 0, time.UTC)},
		{"*/15 * * * *", time.Date(2026, 1, 1, 0, 1, 0, 0, time.UTC), time.Date(2026, 1, 1, 0, 15, 0, 0, time.UTC)},
		{"0 0 1 1,7 *", time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC), time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			s, err := parseCron(tt.expr)
			require.NoError(t, err)
			got, err := s.next(tt.after)
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}

	_, err := parseCron("0 3 * *")
	require.Error(t, err)
	_, err = parseCron("*/0 * * * *")
	require.Error(t, err)
}

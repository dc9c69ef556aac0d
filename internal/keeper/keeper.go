// Package keeper runs the background upkeep of a chain instance: liquidating
// positions that fall below the threshold and archiving settled records.
package keeper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bitpesa/bitpesa/internal/domain"
	"github.com/bitpesa/bitpesa/internal/metrics"
)

// Loans is the part of the loan service the keeper drives.
type Loans interface {
	OpenPositions() ([]domain.Position, error)
	HealthRatio(id string) (uint64, error)
	Liquidate(ctx context.Context, liquidator domain.Address, id string) (domain.LiquidationResult, error)
}

// Liquidator periodically seizes unhealthy positions, claiming the
// liquidator reward for its own address.
type Liquidator struct {
	loans     Loans
	address   domain.Address
	threshold uint64
	interval  time.Duration
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewLiquidator creates a Liquidator. threshold is the engine's liquidation
// threshold in percent.
func NewLiquidator(loans Loans, address domain.Address, threshold uint64, interval time.Duration, m *metrics.Metrics, logger *slog.Logger) *Liquidator {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Liquidator{
		loans:     loans,
		address:   address,
		threshold: threshold,
		interval:  interval,
		metrics:   m,
		logger:    logger.With(slog.String("component", "liquidator")),
	}
}

// Run scans on every tick until ctx is cancelled.
func (l *Liquidator) Run(ctx context.Context) error {
	l.logger.InfoContext(ctx, "liquidator started",
		slog.String("address", l.address.Hex()),
		slog.Duration("interval", l.interval),
	)
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := l.Scan(ctx); err != nil {
				l.logger.ErrorContext(ctx, "liquidation scan failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Scan liquidates every open position below the threshold and returns how
// many it closed. A stale price stops the scan: no health ratio can be
// trusted until the feed recovers.
func (l *Liquidator) Scan(ctx context.Context) (int, error) {
	open, err := l.loans.OpenPositions()
	if err != nil {
		return 0, fmt.Errorf("keeper: list open positions: %w", err)
	}
	var closed int
	for _, pos := range open {
		if err := ctx.Err(); err != nil {
			return closed, nil
		}
		health, err := l.loans.HealthRatio(pos.ID)
		if err != nil {
			if errors.Is(err, domain.ErrStalePrice) {
				return closed, fmt.Errorf("keeper: scan: %w", err)
			}
			l.logger.DebugContext(ctx, "skipping position",
				slog.String("position_id", pos.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		if health >= l.threshold {
			continue
		}

		res, err := l.loans.Liquidate(ctx, l.address, pos.ID)
		if err != nil {
			switch {
			case errors.Is(err, domain.ErrStalePrice):
				return closed, fmt.Errorf("keeper: scan: %w", err)
			case errors.Is(err, domain.ErrAboveLiquidationThreshold),
				errors.Is(err, domain.ErrAlreadyLiquidated),
				errors.Is(err, domain.ErrAlreadyRepaid),
				errors.Is(err, domain.ErrLockHeld):
				// Re-evaluated on the next tick.
			default:
				l.logger.WarnContext(ctx, "liquidation failed",
					slog.String("position_id", pos.ID),
					slog.String("error", err.Error()),
				)
			}
			continue
		}

		closed++
		l.metrics.ObserveLiquidation(res)
		l.logger.InfoContext(ctx, "position liquidated",
			slog.String("position_id", pos.ID),
			slog.Uint64("health_ratio", health),
			slog.Uint64("seized_sats", res.SeizedSats),
			slog.Uint64("reward_sats", res.LiquidatorSats),
		)
	}
	return closed, nil
}

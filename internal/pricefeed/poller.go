package pricefeed

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bitpesa/bitpesa/internal/domain"
	"github.com/bitpesa/bitpesa/internal/metrics"
)

// Poller refreshes one asset's reading on an interval. Price answers from
// memory, so the engine can read it while holding its own lock.
type Poller struct {
	source   Source
	cache    domain.PriceCache
	asset    string
	interval time.Duration
	metrics  *metrics.Metrics
	logger   *slog.Logger

	mu      sync.RWMutex
	latest  domain.PriceReading
	have    bool
	lastErr error
}

// NewPoller creates a Poller. cache may be nil; when set, every successful
// reading is mirrored into it for other processes.
func NewPoller(source Source, cache domain.PriceCache, asset string, interval time.Duration, logger *slog.Logger) *Poller {
	return &Poller{
		source:   source,
		cache:    cache,
		asset:    asset,
		interval: interval,
		logger:   logger.With(slog.String("component", "pricefeed"), slog.String("source", source.Name())),
	}
}

// SetMetrics reports the age of the held reading after every refresh.
func (p *Poller) SetMetrics(m *metrics.Metrics) {
	p.metrics = m
}

// Price returns the latest reading held in memory.
func (p *Poller) Price(asset string) (domain.PriceReading, error) {
	if asset != p.asset {
		return domain.PriceReading{}, fmt.Errorf("pricefeed: no feed for %q: %w", asset, domain.ErrNotFound)
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.have {
		if p.lastErr != nil {
			return domain.PriceReading{}, fmt.Errorf("pricefeed: %s: %w", asset, p.lastErr)
		}
		return domain.PriceReading{}, fmt.Errorf("pricefeed: %s: %w", asset, domain.ErrNotFound)
	}
	return p.latest, nil
}

// Refresh fetches one reading. A failed fetch keeps the previous reading; the
// engine's staleness check decides when it is too old to use.
func (p *Poller) Refresh(ctx context.Context) error {
	r, err := p.source.Fetch(ctx, p.asset)
	if err == nil && r.Price.IsZero() {
		err = fmt.Errorf("zero price")
	}
	if err != nil {
		p.mu.Lock()
		p.lastErr = err
		p.mu.Unlock()
		return fmt.Errorf("pricefeed: refresh %s: %w", p.asset, err)
	}
	r.Asset = p.asset

	p.mu.Lock()
	if p.have && r.UpdatedAt.Before(p.latest.UpdatedAt) {
		p.mu.Unlock()
		return nil
	}
	p.latest, p.have, p.lastErr = r, true, nil
	p.mu.Unlock()

	if p.cache != nil {
		if err := p.cache.SetPrice(ctx, r); err != nil {
			p.logger.WarnContext(ctx, "mirror price to cache failed", slog.String("error", err.Error()))
		}
	}
	return nil
}

// Run refreshes immediately and then on every tick until ctx is done.
func (p *Poller) Run(ctx context.Context) error {
	p.logger.Info("price poller started", slog.String("asset", p.asset), slog.Duration("interval", p.interval))
	defer p.logger.Info("price poller stopped")

	if err := p.Refresh(ctx); err != nil {
		p.logger.WarnContext(ctx, "initial price refresh failed", slog.String("error", err.Error()))
	}
	p.observeAge()
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := p.Refresh(ctx); err != nil {
				p.logger.WarnContext(ctx, "price refresh failed", slog.String("error", err.Error()))
			}
			p.observeAge()
		}
	}
}

func (p *Poller) observeAge() {
	p.mu.RLock()
	r, have := p.latest, p.have
	p.mu.RUnlock()
	if have {
		p.metrics.ObservePriceAge(time.Since(r.UpdatedAt))
	}
}

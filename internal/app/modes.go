package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bitpesa/bitpesa/internal/domain"
	"github.com/bitpesa/bitpesa/internal/keeper"
	"github.com/bitpesa/bitpesa/internal/relay"
	"github.com/bitpesa/bitpesa/internal/server"
	"github.com/bitpesa/bitpesa/internal/server/handler"
	"github.com/bitpesa/bitpesa/internal/server/ws"
)

// APIMode serves the HTTP and WebSocket API.
func (a *App) APIMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting api mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startBackground(ctx, g, deps)
	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps)
	} else {
		a.logger.WarnContext(ctx, "api mode with server.enabled = false serves nothing")
	}
	return g.Wait()
}

// KeeperMode runs the liquidation keeper and, when enabled, the archiver.
func (a *App) KeeperMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting keeper mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startBackground(ctx, g, deps)
	if err := a.startKeeper(ctx, g, deps); err != nil {
		return err
	}
	a.startArchiver(ctx, g, deps)
	return g.Wait()
}

// RelayMode delivers bridge messages between chain instances.
func (a *App) RelayMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting relay mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startBackground(ctx, g, deps)
	a.startRelay(ctx, g, deps)
	return g.Wait()
}

// FullMode runs every component that is enabled in the configuration.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startBackground(ctx, g, deps)
	if a.cfg.Keeper.Enabled {
		if err := a.startKeeper(ctx, g, deps); err != nil {
			return err
		}
	}
	a.startArchiver(ctx, g, deps)
	a.startRelay(ctx, g, deps)
	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps)
	}
	return g.Wait()
}

// startBackground adds the loops every mode needs: the price poller and the
// notification listener.
func (a *App) startBackground(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	g.Go(func() error {
		return ignoreCanceled(deps.Poller.Run(ctx))
	})

	if deps.Notifier.Enabled() {
		g.Go(func() error {
			return ignoreCanceled(deps.Notifier.Listen(ctx, deps.SignalBus,
				domain.ChannelLoans, domain.ChannelWills, domain.ChannelBridge))
		})
	}
}

func (a *App) startKeeper(ctx context.Context, g *errgroup.Group, deps *Dependencies) error {
	if !a.cfg.Keeper.Enabled {
		a.logger.WarnContext(ctx, "keeper.enabled is false; liquidations are left to external callers")
		return nil
	}
	addr, err := domain.ParseAddress(a.cfg.Keeper.Address)
	if err != nil {
		return err
	}
	liq := keeper.NewLiquidator(deps.Loans, addr, deps.EngineConfig.LiquidationThreshold,
		a.cfg.Keeper.Interval.Duration, deps.Metrics, a.logger)
	g.Go(func() error {
		return ignoreCanceled(liq.Run(ctx))
	})
	return nil
}

func (a *App) startArchiver(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if deps.Archiver == nil {
		return
	}
	arch := keeper.NewArchiver(deps.Archiver, a.cfg.Archive.RetentionDays, a.logger)
	g.Go(func() error {
		return ignoreCanceled(arch.RunCron(ctx, a.cfg.Archive.Cron))
	})
}

func (a *App) startRelay(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if deps.Publisher == nil {
		a.logger.WarnContext(ctx, "relay disabled; outbound messages stay pending")
		return
	}
	r := relay.New(relay.Config{
		ResendInterval: a.cfg.Relay.ResendInterval.Duration,
		ResendAfter:    a.cfg.Relay.ResendAfter.Duration,
	}, deps.SignalBus, deps.Bridge, deps.Publisher, deps.Signer, deps.Verifier, deps.Metrics, a.logger)
	g.Go(func() error {
		return ignoreCanceled(r.Run(ctx))
	})
}

// startHTTPServer adds the HTTP server and its WebSocket hub to g. The server
// is shut down gracefully when the context is cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	hub := ws.NewHub(deps.SignalBus, ws.Config{
		Mode:      a.cfg.Mode,
		HomeChain: deps.EngineConfig.HomeChain,
		StartedAt: time.Now().UTC(),
	}, a.logger)
	g.Go(func() error {
		return ignoreCanceled(hub.Run(ctx))
	})

	handlers := server.Handlers{
		Health: handler.NewHealthHandler(a.logger, deps.Probes...),
		Status: handler.NewStatusHandler(a.cfg.Mode, deps.EngineConfig, deps.Poller,
			deps.Vault, deps.Loans, deps.Chains, a.logger),
		Vault:  handler.NewVaultHandler(deps.Vault, a.logger),
		Loans:  handler.NewLoanHandler(deps.Loans, a.logger),
		Wills:  handler.NewWillHandler(deps.Wills, deps.Vault, a.logger),
		Bridge: handler.NewBridgeHandler(deps.Bridge, a.logger),
		Chains: handler.NewChainHandler(deps.Chains, a.logger),
	}
	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, handlers, server.Extras{
		Hub:     hub,
		Metrics: deps.Metrics,
		Limiter: deps.RateLimiter,
	}, a.logger)

	g.Go(srv.Start)

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		a.logger.Info("HTTP server shutting down", slog.Int("port", a.cfg.Server.Port))
		return srv.Shutdown(shutCtx)
	})
}

// ignoreCanceled treats a cancelled context as a clean stop.
func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Package app runs one bitpesad node: it restores the engine for the node's
// home chain, holds that chain's writer lease, and starts the API, keeper or
// relay loops for the configured mode.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bitpesa/bitpesa/internal/config"
)

// App is one node. Resources registered in closers are released by Close.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New returns an App; nothing is connected until Run.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run wires the node and blocks in the configured mode until ctx ends or the
// writer lease is lost. Call Close afterwards.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "node starting",
		slog.String("mode", a.cfg.Mode),
		slog.String("log_level", a.cfg.LogLevel),
		slog.String("home_chain", a.cfg.Engine.HomeChain),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	ctx, stop := watchLease(ctx, deps.WriterLease)
	defer stop()

	err = a.runMode(ctx, deps)
	if cause := context.Cause(ctx); errors.Is(cause, errWriterLeaseLost) {
		return fmt.Errorf("app: %w", cause)
	}
	return err
}

func (a *App) runMode(ctx context.Context, deps *Dependencies) error {
	switch strings.ToLower(a.cfg.Mode) {
	case "api":
		return a.APIMode(ctx, deps)
	case "keeper":
		return a.KeeperMode(ctx, deps)
	case "relay":
		return a.RelayMode(ctx, deps)
	case "full":
		return a.FullMode(ctx, deps)
	default:
		return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}
}

var errWriterLeaseLost = errors.New("writer lease lost; another instance may be writing this chain")

// watchLease cancels the returned context with errWriterLeaseLost when lost
// closes before ctx ends. A nil channel is never lost.
func watchLease(ctx context.Context, lost <-chan struct{}) (context.Context, func()) {
	ctx, cancel := context.WithCancelCause(ctx)
	go func() {
		select {
		case <-lost:
			cancel(errWriterLeaseLost)
		case <-ctx.Done():
		}
	}()
	return ctx, func() { cancel(nil) }
}

// Close releases the lease, feeds and connections, newest first. Repeat calls
// do nothing.
func (a *App) Close() {
	a.logger.Info("node stopping", slog.Int("closers", len(a.closers)))
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

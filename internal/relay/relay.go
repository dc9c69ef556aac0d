package relay

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bitpesa/bitpesa/internal/crypto"
	"github.com/bitpesa/bitpesa/internal/domain"
	"github.com/bitpesa/bitpesa/internal/metrics"
)

// Bridge is what the relay needs from the bridge service on both ends.
type Bridge interface {
	Inbox
	Outbox
}

// Config tunes the relay loops.
type Config struct {
	ResendInterval time.Duration
	ResendAfter    time.Duration
}

// Relay runs the consumer, the ack listener and the resend sweep for one
// chain instance.
type Relay struct {
	cfg       Config
	bridge    Bridge
	publisher *Publisher
	consumer  *Consumer
	acks      *AckListener
	logger    *slog.Logger
}

// New assembles a Relay around an existing publisher, which the bridge
// service also uses as its dispatcher.
func New(cfg Config, bus domain.SignalBus, bridge Bridge, publisher *Publisher, signer *crypto.Signer, verifier *crypto.Verifier, m *metrics.Metrics, logger *slog.Logger) *Relay {
	if cfg.ResendInterval <= 0 {
		cfg.ResendInterval = 30 * time.Second
	}
	return &Relay{
		cfg:       cfg,
		bridge:    bridge,
		publisher: publisher,
		consumer:  NewConsumer(bus, bridge, verifier, signer, m, logger),
		acks:      NewAckListener(bus, bridge, verifier, publisher, m, logger),
		logger:    logger.With(slog.String("component", "relay")),
	}
}

// Run blocks until ctx is cancelled or a loop fails.
func (r *Relay) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return r.acks.Run(ctx) })
	g.Go(func() error { return r.consumer.Run(ctx) })
	g.Go(func() error { return r.resendLoop(ctx) })
	return g.Wait()
}

func (r *Relay) resendLoop(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.ResendInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := r.publisher.Resend(ctx, r.bridge.Pending()); n > 0 {
				r.logger.InfoContext(ctx, "resent pending messages", slog.Int("count", n))
			}
		}
	}
}

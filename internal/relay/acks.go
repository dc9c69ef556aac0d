package relay

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bitpesa/bitpesa/internal/crypto"
	"github.com/bitpesa/bitpesa/internal/domain"
	"github.com/bitpesa/bitpesa/internal/metrics"
)

// Outbox settles outbound messages on the source chain.
type Outbox interface {
	Pending() []domain.BridgeMessage
	Acknowledge(ctx context.Context, key domain.MessageKey, delivered bool) (domain.BridgeMessage, error)
	Message(dir domain.BridgeDirection, key domain.MessageKey) (domain.BridgeMessage, error)
	HomeChain() domain.ChainSelector
}

// AckListener applies signed acks arriving on the home chain's ack channel.
type AckListener struct {
	bus       domain.SignalBus
	outbox    Outbox
	verifier  *crypto.Verifier
	publisher *Publisher
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewAckListener creates an AckListener. verifier holds the trusted relayers
// of the destination chains. publisher may be nil.
func NewAckListener(bus domain.SignalBus, outbox Outbox, verifier *crypto.Verifier, publisher *Publisher, m *metrics.Metrics, logger *slog.Logger) *AckListener {
	return &AckListener{
		bus:       bus,
		outbox:    outbox,
		verifier:  verifier,
		publisher: publisher,
		metrics:   m,
		logger:    logger.With(slog.String("component", "relay_acks")),
	}
}

// Run listens until ctx is cancelled.
func (l *AckListener) Run(ctx context.Context) error {
	channel := AckChannel(l.outbox.HomeChain())
	ch, err := l.bus.Subscribe(ctx, channel)
	if err != nil {
		return fmt.Errorf("relay: subscribe %s: %w", channel, err)
	}
	l.logger.InfoContext(ctx, "ack listener started", slog.String("channel", channel))
	for {
		select {
		case <-ctx.Done():
			return nil
		case payload, ok := <-ch:
			if !ok {
				return nil
			}
			err := l.handle(ctx, payload)
			l.metrics.ObserveRelay("ack", err)
			if err != nil {
				l.logger.WarnContext(ctx, "ack not applied", slog.String("error", err.Error()))
			}
		}
	}
}

func (l *AckListener) handle(ctx context.Context, payload []byte) error {
	dest, key, delivered, sig, err := decodeAck(payload)
	if err != nil {
		return err
	}
	if key.SourceChain != l.outbox.HomeChain() {
		return fmt.Errorf("relay: ack %s: %w: not sent from %s", key, domain.ErrValidation, l.outbox.HomeChain())
	}
	if _, err := l.verifier.Verify(crypto.AckDigest(dest, key, delivered), sig); err != nil {
		return fmt.Errorf("relay: ack %s: %w", key, err)
	}
	sent, err := l.outbox.Message(domain.BridgeOutbound, key)
	if err != nil {
		return fmt.Errorf("relay: ack %s: %w", key, err)
	}
	if sent.DestChain != dest {
		return fmt.Errorf("relay: ack %s: %w: signed for %s, sent to %s", key, domain.ErrValidation, dest, sent.DestChain)
	}
	msg, err := l.outbox.Acknowledge(ctx, key, delivered)
	if err != nil {
		return err
	}
	if l.publisher != nil {
		l.publisher.settled(key)
	}
	l.logger.InfoContext(ctx, "message settled",
		slog.String("key", key.String()),
		slog.String("status", string(msg.Status)),
	)
	return nil
}

package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/bitpesa/bitpesa/internal/crypto"
	"github.com/bitpesa/bitpesa/internal/domain"
	"github.com/bitpesa/bitpesa/internal/metrics"
)

// Publisher signs outbound messages and appends them to the destination
// chain's stream. It implements service.Dispatcher.
type Publisher struct {
	bus     domain.SignalBus
	signer  *crypto.Signer
	recent  *recent
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewPublisher creates a Publisher. A message dispatched less than
// resendAfter ago is skipped by Resend.
func NewPublisher(bus domain.SignalBus, signer *crypto.Signer, resendAfter time.Duration, m *metrics.Metrics, logger *slog.Logger) *Publisher {
	return &Publisher{
		bus:     bus,
		signer:  signer,
		recent:  newRecent(resendAfter),
		metrics: m,
		logger:  logger.With(slog.String("component", "relay_publisher")),
	}
}

// Dispatch signs msg and appends it to OutboxStream(msg.DestChain).
func (p *Publisher) Dispatch(ctx context.Context, msg domain.BridgeMessage) error {
	err := p.dispatch(ctx, msg)
	p.metrics.ObserveRelay("publish", err)
	return err
}

func (p *Publisher) dispatch(ctx context.Context, msg domain.BridgeMessage) error {
	sig, err := p.signer.SignMessage(msg)
	if err != nil {
		return fmt.Errorf("relay: sign %s: %w", msg.Key(), err)
	}
	payload, err := json.Marshal(newEnvelope(msg, sig))
	if err != nil {
		return fmt.Errorf("relay: marshal %s: %w", msg.Key(), err)
	}
	if err := p.bus.StreamAppend(ctx, OutboxStream(msg.DestChain), payload); err != nil {
		return fmt.Errorf("relay: publish %s: %w", msg.Key(), err)
	}
	p.recent.mark(msg.Key().String())
	p.logger.DebugContext(ctx, "message published",
		slog.String("key", msg.Key().String()),
		slog.String("dest_chain", msg.DestChain.String()),
	)
	return nil
}

// Resend re-dispatches pending messages not sent within the resend window.
// It returns how many were published.
func (p *Publisher) Resend(ctx context.Context, pending []domain.BridgeMessage) int {
	p.recent.cleanup()
	var n int
	for _, msg := range pending {
		if !p.recent.due(msg.Key().String()) {
			continue
		}
		if err := p.Dispatch(ctx, msg); err != nil {
			p.logger.WarnContext(ctx, "resend failed",
				slog.String("key", msg.Key().String()),
				slog.String("error", err.Error()),
			)
			continue
		}
		n++
	}
	return n
}

// settled stops tracking an acknowledged message.
func (p *Publisher) settled(key domain.MessageKey) {
	p.recent.forget(key.String())
}

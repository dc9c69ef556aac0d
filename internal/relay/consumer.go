package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/bitpesa/bitpesa/internal/crypto"
	"github.com/bitpesa/bitpesa/internal/domain"
	"github.com/bitpesa/bitpesa/internal/metrics"
)

// Inbox applies inbound messages on the destination chain.
type Inbox interface {
	Receive(ctx context.Context, msg domain.BridgeMessage) (domain.BridgeMessage, error)
	Message(dir domain.BridgeDirection, key domain.MessageKey) (domain.BridgeMessage, error)
	HomeChain() domain.ChainSelector
}

const readBatch = 100

// Consumer reads the home chain's stream, applies each verified message once
// and answers with a signed ack. It starts from the beginning of the stream
// on every run and relies on nonce replay protection for entries it has
// already applied.
type Consumer struct {
	bus      domain.SignalBus
	inbox    Inbox
	verifier *crypto.Verifier
	signer   *crypto.Signer
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// NewConsumer creates a Consumer. verifier holds the trusted relayers of the
// source chains; signer signs this chain's acks.
func NewConsumer(bus domain.SignalBus, inbox Inbox, verifier *crypto.Verifier, signer *crypto.Signer, m *metrics.Metrics, logger *slog.Logger) *Consumer {
	return &Consumer{
		bus:      bus,
		inbox:    inbox,
		verifier: verifier,
		signer:   signer,
		metrics:  m,
		logger:   logger.With(slog.String("component", "relay_consumer")),
	}
}

// Run consumes until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	stream := OutboxStream(c.inbox.HomeChain())
	c.logger.InfoContext(ctx, "relay consumer started", slog.String("stream", stream))
	defer c.logger.Info("relay consumer stopped")

	lastID := "0"
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		entries, err := c.bus.StreamRead(ctx, stream, lastID, readBatch)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("relay: read %s: %w", stream, err)
		}
		for _, e := range entries {
			c.handle(ctx, e.Payload)
			lastID = e.ID
		}
	}
}

// handle applies one stream entry. Malformed, unsigned or misrouted entries
// are dropped; transient failures are left for the source's resend sweep.
func (c *Consumer) handle(ctx context.Context, payload []byte) {
	msg, sig, err := decodeEnvelope(payload)
	if err == nil {
		_, err = c.verifier.Verify(crypto.MessageDigest(msg), sig)
	}
	if err != nil {
		c.metrics.ObserveRelay("receive", err)
		c.logger.WarnContext(ctx, "dropping envelope", slog.String("error", err.Error()))
		return
	}
	log := c.logger.With(slog.String("key", msg.Key().String()))

	delivered, err := c.apply(ctx, msg)
	c.metrics.ObserveRelay("receive", err)
	if err != nil {
		switch domain.Code(err) {
		case "validation", "unsupported_chain", "overflow":
			log.WarnContext(ctx, "message rejected", slog.String("error", err.Error()))
		default:
			log.ErrorContext(ctx, "receive failed, awaiting resend", slog.String("error", err.Error()))
			return
		}
	}

	if err := c.ack(ctx, msg.Key(), delivered); err != nil {
		log.WarnContext(ctx, "ack failed", slog.String("error", err.Error()))
	}
}

// apply receives msg and reports the verdict to send back. A replayed nonce
// is answered with the verdict recorded the first time.
func (c *Consumer) apply(ctx context.Context, msg domain.BridgeMessage) (bool, error) {
	_, err := c.inbox.Receive(ctx, msg)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, domain.ErrReplayedNonce):
		prev, lookupErr := c.inbox.Message(domain.BridgeInbound, msg.Key())
		if lookupErr != nil {
			return false, lookupErr
		}
		return prev.Status == domain.BridgeStatusDelivered, nil
	default:
		return false, err
	}
}

func (c *Consumer) ack(ctx context.Context, key domain.MessageKey, delivered bool) error {
	home := c.inbox.HomeChain()
	sig, err := c.signer.SignAck(home, key, delivered)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(newAck(home, key, delivered, sig))
	if err != nil {
		return err
	}
	return c.bus.Publish(ctx, AckChannel(key.SourceChain), payload)
}

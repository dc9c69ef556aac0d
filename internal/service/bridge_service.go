package service

import (
	"context"
	"log/slog"

	"github.com/bitpesa/bitpesa/internal/domain"
)

// Dispatcher hands a freshly sent message to the relay network.
type Dispatcher interface {
	Dispatch(ctx context.Context, msg domain.BridgeMessage) error
}

// BridgeService moves collateral between chain instances.
type BridgeService struct {
	core
	dispatcher Dispatcher
}

// NewBridgeService creates a BridgeService. dispatcher may be nil, in which
// case sent messages wait in the outbox for the relay's resend sweep.
func NewBridgeService(d Deps, dispatcher Dispatcher) (*BridgeService, error) {
	c, err := newCore(d, "bridge_service")
	if err != nil {
		return nil, err
	}
	return &BridgeService{core: c, dispatcher: dispatcher}, nil
}

// Send debits sender and queues a message to dest. The debit is final once
// this returns; a dispatch failure only delays delivery.
func (s *BridgeService) Send(ctx context.Context, sender domain.Address, dest domain.ChainSelector, sats uint64, recipient domain.Address) (domain.BridgeMessage, error) {
	var msg domain.BridgeMessage
	err := s.apply(ctx, "bridge_send", []string{vaultKey(sender)}, func() (outcome, error) {
		var err error
		if msg, err = s.Engine.Send(sender, dest, sats, recipient); err != nil {
			return outcome{}, err
		}
		return outcome{
			changes: domain.Changes{
				Accounts: s.accounts(sender),
				Messages: []domain.BridgeMessage{msg},
			},
			channel: domain.ChannelBridge,
			event:   bridgeEvent(domain.EventBridgeSent, msg),
		}, nil
	})
	if err != nil {
		return domain.BridgeMessage{}, err
	}

	if s.dispatcher != nil {
		if err := s.dispatcher.Dispatch(ctx, msg); err != nil {
			s.logger.WarnContext(ctx, "dispatch failed, message stays pending",
				slog.String("key", msg.Key().String()),
				slog.String("error", err.Error()),
			)
		}
	}
	return msg, nil
}

// Receive applies an inbound message from the relay.
func (s *BridgeService) Receive(ctx context.Context, in domain.BridgeMessage) (domain.BridgeMessage, error) {
	recipient := in.Recipient
	if recipient == domain.ZeroAddress {
		recipient = in.Sender
	}
	var msg domain.BridgeMessage
	err := s.apply(ctx, "bridge_receive", []string{vaultKey(recipient)}, func() (outcome, error) {
		var err error
		if msg, err = s.Engine.Receive(in); err != nil {
			return outcome{}, err
		}
		return outcome{
			changes: domain.Changes{
				Accounts: s.accounts(msg.Recipient),
				Messages: []domain.BridgeMessage{msg},
			},
			channel: domain.ChannelBridge,
			event:   bridgeEvent(domain.EventBridgeReceived, msg),
		}, nil
	})
	return msg, err
}

// Acknowledge records the destination's verdict on an outbound message.
func (s *BridgeService) Acknowledge(ctx context.Context, key domain.MessageKey, delivered bool) (domain.BridgeMessage, error) {
	var msg domain.BridgeMessage
	err := s.apply(ctx, "bridge_ack", nil, func() (outcome, error) {
		before, err := s.Engine.Message(domain.BridgeOutbound, key)
		if err != nil {
			return outcome{}, err
		}
		if msg, err = s.Engine.Acknowledge(key, delivered); err != nil {
			return outcome{}, err
		}
		out := outcome{changes: domain.Changes{Messages: []domain.BridgeMessage{msg}}}
		// Repeated acks with the same verdict change nothing.
		if before.Status == msg.Status {
			out.changes = domain.Changes{}
			return out, nil
		}
		if !delivered {
			out.channel = domain.ChannelBridge
			out.event = bridgeEvent(domain.EventBridgeRejected, msg)
		}
		return out, nil
	})
	return msg, err
}

// Outbox lists outbound messages from sender; the zero address lists all.
func (s *BridgeService) Outbox(sender domain.Address) []domain.BridgeMessage {
	return s.Engine.Outbox(sender)
}

// Pending lists outbound messages still awaiting an acknowledgement.
func (s *BridgeService) Pending() []domain.BridgeMessage {
	var out []domain.BridgeMessage
	for _, m := range s.Engine.Outbox(domain.ZeroAddress) {
		if m.Status == domain.BridgeStatusPending {
			out = append(out, m)
		}
	}
	return out
}

// Message looks up one message by direction and key.
func (s *BridgeService) Message(dir domain.BridgeDirection, key domain.MessageKey) (domain.BridgeMessage, error) {
	return s.Engine.Message(dir, key)
}

// HomeChain is the chain this instance serves.
func (s *BridgeService) HomeChain() domain.ChainSelector {
	return s.Engine.Config().HomeChain
}

func bridgeEvent(t domain.EventType, m domain.BridgeMessage) domain.Event {
	return domain.Event{
		Type:    t,
		Subject: m.Key().String(),
		Detail: map[string]any{
			"source_chain": m.SourceChain.String(),
			"dest_chain":   m.DestChain.String(),
			"sender":       m.Sender.Hex(),
			"recipient":    m.Recipient.Hex(),
			"amount_sats":  m.AmountSats,
			"nonce":        m.Nonce,
			"status":       string(m.Status),
		},
	}
}

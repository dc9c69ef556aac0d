package engine

import (
	"fmt"
	"sort"

	"github.com/bitpesa/bitpesa/internal/domain"
)

// Send debits sender's vault and records an outbound message for the relay
// network. The debit is final: delivery feedback only updates status.
func (e *Engine) Send(sender domain.Address, dest domain.ChainSelector, amountSats uint64, recipient domain.Address) (domain.BridgeMessage, error) {
	if sender == domain.ZeroAddress || amountSats == 0 {
		return domain.BridgeMessage{}, fmt.Errorf("engine: bridge send: %w: sender and amount are required", domain.ErrValidation)
	}
	if dest == e.cfg.HomeChain {
		return domain.BridgeMessage{}, fmt.Errorf("engine: bridge send: %w: destination is the home chain", domain.ErrValidation)
	}
	if recipient == domain.ZeroAddress {
		recipient = sender
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.chains[dest] {
		return domain.BridgeMessage{}, fmt.Errorf("engine: bridge send: %w: %s", domain.ErrUnsupportedChain, dest)
	}
	k := nonceKey{sender: sender, dest: dest}
	if e.nonces[k] == ^uint64(0) {
		return domain.BridgeMessage{}, fmt.Errorf("engine: bridge send: %w: nonce exhausted", domain.ErrOverflow)
	}
	if err := e.vault.debit(sender, amountSats); err != nil {
		return domain.BridgeMessage{}, fmt.Errorf("engine: bridge send: %w", err)
	}
	e.nonces[k]++

	now := e.now()
	msg := domain.BridgeMessage{
		SourceChain: e.cfg.HomeChain,
		DestChain:   dest,
		Sender:      sender,
		Recipient:   recipient,
		AmountSats:  amountSats,
		Nonce:       e.nonces[k],
		Status:      domain.BridgeStatusPending,
		Direction:   domain.BridgeOutbound,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	e.outbox[msg.Key()] = msg
	e.vault.touch(sender, now)
	return msg, nil
}

// Receive applies an inbound message exactly once, crediting the recipient.
func (e *Engine) Receive(msg domain.BridgeMessage) (domain.BridgeMessage, error) {
	if msg.DestChain != e.cfg.HomeChain {
		return domain.BridgeMessage{}, fmt.Errorf("engine: bridge receive: %w: destination %s is not %s",
			domain.ErrValidation, msg.DestChain, e.cfg.HomeChain)
	}
	if msg.AmountSats == 0 || msg.Sender == domain.ZeroAddress || msg.Nonce == 0 {
		return domain.BridgeMessage{}, fmt.Errorf("engine: bridge receive: %w: sender, amount and nonce are required", domain.ErrValidation)
	}
	if msg.Recipient == domain.ZeroAddress {
		msg.Recipient = msg.Sender
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.chains[msg.SourceChain] {
		return domain.BridgeMessage{}, fmt.Errorf("engine: bridge receive: %w: %s", domain.ErrUnsupportedChain, msg.SourceChain)
	}
	key := msg.Key()
	if _, ok := e.inbox[key]; ok {
		return domain.BridgeMessage{}, fmt.Errorf("engine: bridge receive %s: %w", key, domain.ErrReplayedNonce)
	}
	if err := e.vault.credit(msg.Recipient, msg.AmountSats); err != nil {
		return domain.BridgeMessage{}, fmt.Errorf("engine: bridge receive %s: %w", key, err)
	}

	now := e.now()
	msg.Status = domain.BridgeStatusDelivered
	msg.Direction = domain.BridgeInbound
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = now
	}
	msg.UpdatedAt = now
	e.inbox[key] = msg
	return msg, nil
}

// Acknowledge records the destination's verdict on an outbound message.
// Repeating the same verdict is a no-op.
func (e *Engine) Acknowledge(key domain.MessageKey, delivered bool) (domain.BridgeMessage, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	msg, ok := e.outbox[key]
	if !ok {
		return domain.BridgeMessage{}, fmt.Errorf("engine: bridge ack %s: %w", key, domain.ErrNotFound)
	}
	want := domain.BridgeStatusRejected
	if delivered {
		want = domain.BridgeStatusDelivered
	}
	switch msg.Status {
	case want:
		return msg, nil
	case domain.BridgeStatusPending:
	default:
		return domain.BridgeMessage{}, fmt.Errorf("engine: bridge ack %s: %w: %s to %s",
			key, domain.ErrInvalidTransition, msg.Status, want)
	}
	msg.Status = want
	msg.UpdatedAt = e.now()
	e.outbox[key] = msg
	return msg, nil
}

// AddChain allow-lists a peer chain.
func (e *Engine) AddChain(caller domain.Address, chain domain.ChainSelector) error {
	return e.setChain(caller, chain, true)
}

// RemoveChain removes a peer chain from the allow-list. Messages already in
// flight from it will be rejected on arrival.
func (e *Engine) RemoveChain(caller domain.Address, chain domain.ChainSelector) error {
	return e.setChain(caller, chain, false)
}

func (e *Engine) setChain(caller domain.Address, chain domain.ChainSelector, supported bool) error {
	if caller != e.cfg.Admin {
		return fmt.Errorf("engine: set chain %s: %w", chain, domain.ErrUnauthorized)
	}
	if chain == e.cfg.HomeChain {
		return fmt.Errorf("engine: set chain %s: %w: home chain", chain, domain.ErrValidation)
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if supported {
		e.chains[chain] = true
	} else {
		delete(e.chains, chain)
	}
	return nil
}

// IsSupported reports whether chain is allow-listed.
func (e *Engine) IsSupported(chain domain.ChainSelector) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.chains[chain]
}

// SupportedChains returns the allow-list in ascending order.
func (e *Engine) SupportedChains() []domain.ChainSelector {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]domain.ChainSelector, 0, len(e.chains))
	for ch := range e.chains {
		out = append(out, ch)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Outbox returns sender's outbound messages ordered by destination and nonce.
// A zero sender returns every outbound message.
func (e *Engine) Outbox(sender domain.Address) []domain.BridgeMessage {
	e.mu.Lock()
	defer e.mu.Unlock()

	var out []domain.BridgeMessage
	for _, m := range e.outbox {
		if sender == domain.ZeroAddress || m.Sender == sender {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DestChain != out[j].DestChain {
			return out[i].DestChain < out[j].DestChain
		}
		if out[i].Sender != out[j].Sender {
			return out[i].Sender.Hex() < out[j].Sender.Hex()
		}
		return out[i].Nonce < out[j].Nonce
	})
	return out
}

// Message looks a message up by key in the given direction.
func (e *Engine) Message(dir domain.BridgeDirection, key domain.MessageKey) (domain.BridgeMessage, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var (
		msg domain.BridgeMessage
		ok  bool
	)
	switch dir {
	case domain.BridgeOutbound:
		msg, ok = e.outbox[key]
	case domain.BridgeInbound:
		msg, ok = e.inbox[key]
	default:
		return domain.BridgeMessage{}, fmt.Errorf("engine: message: %w: direction %q", domain.ErrValidation, dir)
	}
	if !ok {
		return domain.BridgeMessage{}, fmt.Errorf("engine: message %s: %w", key, domain.ErrNotFound)
	}
	return msg, nil
}

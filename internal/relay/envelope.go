// Package relay carries bridge messages between chain instances over the
// signal bus. Outbound messages are signed by the source relayer and
// appended to the destination's stream; the destination verifies, applies
// and answers with a signed acknowledgement on the source's ack channel.
package relay

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/bitpesa/bitpesa/internal/domain"
)

// OutboxStream is the stream a destination chain consumes.
func OutboxStream(dest domain.ChainSelector) string {
	return "bridge:outbox:" + dest.String()
}

// AckChannel is the pub/sub channel a source chain listens on.
func AckChannel(source domain.ChainSelector) string {
	return "bridge:ack:" + source.String()
}

// Envelope is the wire form of a signed bridge message. Integers travel as
// decimal strings so 64-bit values survive any JSON decoder.
type Envelope struct {
	SourceChain string `json:"source_chain"`
	DestChain   string `json:"dest_chain"`
	Sender      string `json:"sender"`
	Recipient   string `json:"recipient"`
	AmountSats  string `json:"amount_sats"`
	Nonce       string `json:"nonce"`
	Signature   string `json:"signature"`
}

// Ack is the wire form of a destination's signed verdict.
type Ack struct {
	SourceChain string `json:"source_chain"`
	DestChain   string `json:"dest_chain"`
	Sender      string `json:"sender"`
	Nonce       string `json:"nonce"`
	Delivered   bool   `json:"delivered"`
	Signature   string `json:"signature"`
}

func newEnvelope(m domain.BridgeMessage, sig []byte) Envelope {
	return Envelope{
		SourceChain: m.SourceChain.String(),
		DestChain:   m.DestChain.String(),
		Sender:      m.Sender.Hex(),
		Recipient:   m.Recipient.Hex(),
		AmountSats:  strconv.FormatUint(m.AmountSats, 10),
		Nonce:       strconv.FormatUint(m.Nonce, 10),
		Signature:   hexutil.Encode(sig),
	}
}

// decodeEnvelope parses a stream payload into the message it carries and the
// relayer signature over it.
func decodeEnvelope(payload []byte) (domain.BridgeMessage, []byte, error) {
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return domain.BridgeMessage{}, nil, fmt.Errorf("relay: decode envelope: %w: %v", domain.ErrValidation, err)
	}
	var (
		m   domain.BridgeMessage
		err error
	)
	if m.SourceChain, err = domain.ParseChainSelector(env.SourceChain); err != nil {
		return domain.BridgeMessage{}, nil, fmt.Errorf("relay: envelope source_chain: %w", err)
	}
	if m.DestChain, err = domain.ParseChainSelector(env.DestChain); err != nil {
		return domain.BridgeMessage{}, nil, fmt.Errorf("relay: envelope dest_chain: %w", err)
	}
	if m.Sender, err = hexAddress("sender", env.Sender); err != nil {
		return domain.BridgeMessage{}, nil, err
	}
	if m.Recipient, err = hexAddress("recipient", env.Recipient); err != nil {
		return domain.BridgeMessage{}, nil, err
	}
	if m.AmountSats, err = decimal("amount_sats", env.AmountSats); err != nil {
		return domain.BridgeMessage{}, nil, err
	}
	if m.Nonce, err = decimal("nonce", env.Nonce); err != nil {
		return domain.BridgeMessage{}, nil, err
	}
	sig, err := hexutil.Decode(env.Signature)
	if err != nil {
		return domain.BridgeMessage{}, nil, fmt.Errorf("relay: envelope signature: %w: %v", domain.ErrBadSignature, err)
	}
	return m, sig, nil
}

func newAck(dest domain.ChainSelector, key domain.MessageKey, delivered bool, sig []byte) Ack {
	return Ack{
		SourceChain: key.SourceChain.String(),
		DestChain:   dest.String(),
		Sender:      key.Sender.Hex(),
		Nonce:       strconv.FormatUint(key.Nonce, 10),
		Delivered:   delivered,
		Signature:   hexutil.Encode(sig),
	}
}

func decodeAck(payload []byte) (domain.ChainSelector, domain.MessageKey, bool, []byte, error) {
	var (
		a   Ack
		key domain.MessageKey
	)
	if err := json.Unmarshal(payload, &a); err != nil {
		return 0, key, false, nil, fmt.Errorf("relay: decode ack: %w: %v", domain.ErrValidation, err)
	}
	dest, err := domain.ParseChainSelector(a.DestChain)
	if err != nil {
		return 0, key, false, nil, fmt.Errorf("relay: ack dest_chain: %w", err)
	}
	if key.SourceChain, err = domain.ParseChainSelector(a.SourceChain); err != nil {
		return 0, key, false, nil, fmt.Errorf("relay: ack source_chain: %w", err)
	}
	if key.Sender, err = hexAddress("sender", a.Sender); err != nil {
		return 0, key, false, nil, err
	}
	if key.Nonce, err = decimal("nonce", a.Nonce); err != nil {
		return 0, key, false, nil, err
	}
	sig, err := hexutil.Decode(a.Signature)
	if err != nil {
		return 0, key, false, nil, fmt.Errorf("relay: ack signature: %w: %v", domain.ErrBadSignature, err)
	}
	return dest, key, a.Delivered, sig, nil
}

func hexAddress(field, s string) (domain.Address, error) {
	if !common.IsHexAddress(s) {
		return domain.Address{}, fmt.Errorf("relay: %s: %w: %q is not an address", field, domain.ErrValidation, s)
	}
	return common.HexToAddress(s), nil
}

func decimal(field, s string) (uint64, error) {
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("relay: %s: %w: %v", field, domain.ErrValidation, err)
	}
	return n, nil
}

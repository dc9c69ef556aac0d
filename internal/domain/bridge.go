package domain

import (
	"fmt"
	"time"
)

// BridgeStatus tracks a cross-chain message.
type BridgeStatus string

const (
	BridgeStatusPending   BridgeStatus = "pending"
	BridgeStatusDelivered BridgeStatus = "delivered"
	BridgeStatusRejected  BridgeStatus = "rejected"
)

// BridgeDirection records whether a message left or arrived at this chain.
type BridgeDirection string

const (
	BridgeOutbound BridgeDirection = "outbound"
	BridgeInbound  BridgeDirection = "inbound"
)

// MessageKey is the idempotency key of a bridge message at its destination.
type MessageKey struct {
	SourceChain ChainSelector
	Sender      Address
	Nonce       uint64
}

// String renders the key as source:sender:nonce.
func (k MessageKey) String() string {
	return fmt.Sprintf("%d:%s:%d", k.SourceChain, k.Sender.Hex(), k.Nonce)
}

// BridgeMessage moves AmountSats of collateral from Sender on SourceChain to
// Recipient on DestChain. Nonce is strictly increasing per (Sender, DestChain).
type BridgeMessage struct {
	SourceChain ChainSelector
	DestChain   ChainSelector
	Sender      Address
	Recipient   Address
	AmountSats  uint64
	Nonce       uint64
	Status      BridgeStatus
	Direction   BridgeDirection
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Key returns the message's idempotency key.
func (m BridgeMessage) Key() MessageKey {
	return MessageKey{SourceChain: m.SourceChain, Sender: m.Sender, Nonce: m.Nonce}
}

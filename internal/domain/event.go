package domain

import "time"

// Signal bus channels carrying engine events.
const (
	ChannelVault  = "vault"
	ChannelLoans  = "loans"
	ChannelWills  = "wills"
	ChannelBridge = "bridge"
	ChannelChains = "chains"
)

// EventType names an engine state change.
type EventType string

const (
	EventDeposited         EventType = "deposited"
	EventWithdrawn         EventType = "withdrawn"
	EventPositionOpened    EventType = "position_opened"
	EventPositionRepaid    EventType = "position_repaid"
	EventRepayment         EventType = "repayment"
	EventCollateralChanged EventType = "collateral_changed"
	EventLiquidated        EventType = "liquidated"
	EventWillUpdated       EventType = "will_updated"
	EventWillReleased      EventType = "will_released"
	EventWillRevoked       EventType = "will_revoked"
	EventBridgeSent        EventType = "bridge_sent"
	EventBridgeReceived    EventType = "bridge_received"
	EventBridgeRejected    EventType = "bridge_rejected"
	EventChainsChanged     EventType = "chains_changed"
)

// Event is the JSON payload published on the signal bus and pushed to
// WebSocket clients.
type Event struct {
	Type    EventType      `json:"type"`
	Subject string         `json:"subject"`
	Detail  map[string]any `json:"detail,omitempty"`
	At      time.Time      `json:"at"`
}

package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// AccountStore persists free vault balances and owner activity.
type AccountStore interface {
	Upsert(ctx context.Context, acct Account) error
	Get(ctx context.Context, owner Address) (Account, error)
	List(ctx context.Context) ([]Account, error)
}

// PositionStore persists loan positions.
type PositionStore interface {
	Upsert(ctx context.Context, pos Position) error
	GetByID(ctx context.Context, id string) (Position, error)
	ListByOwner(ctx context.Context, owner Address, opts ListOpts) ([]Position, error)
	ListAll(ctx context.Context) ([]Position, error)
	ListClosedBefore(ctx context.Context, before time.Time) ([]Position, error)
}

// WillStore persists will plans, one per owner.
type WillStore interface {
	Upsert(ctx context.Context, plan WillPlan) error
	Get(ctx context.Context, owner Address) (WillPlan, error)
	List(ctx context.Context) ([]WillPlan, error)
	ListTerminalBefore(ctx context.Context, before time.Time) ([]WillPlan, error)
}

// BridgeStore persists outbound and inbound bridge messages.
type BridgeStore interface {
	Upsert(ctx context.Context, msg BridgeMessage) error
	Get(ctx context.Context, dir BridgeDirection, key MessageKey) (BridgeMessage, error)
	ListOutbox(ctx context.Context, sender Address, opts ListOpts) ([]BridgeMessage, error)
	ListAll(ctx context.Context) ([]BridgeMessage, error)
	ListSettledBefore(ctx context.Context, before time.Time) ([]BridgeMessage, error)
}

// ChainStore persists the bridge allow-list.
type ChainStore interface {
	Set(ctx context.Context, chain ChainSelector, supported bool) error
	List(ctx context.Context) (map[ChainSelector]bool, error)
}

// Changes is the set of entities one engine operation touched.
type Changes struct {
	Accounts  []Account
	Positions []Position
	Plans     []WillPlan
	Messages  []BridgeMessage
	Chains    map[ChainSelector]bool
}

// Empty reports whether there is nothing to write.
func (c Changes) Empty() bool {
	return len(c.Accounts) == 0 && len(c.Positions) == 0 && len(c.Plans) == 0 &&
		len(c.Messages) == 0 && len(c.Chains) == 0
}

// StateWriter persists a Changes set atomically.
type StateWriter interface {
	Write(ctx context.Context, changes Changes) error
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}

// Package memory holds engine state in process memory. It backs the daemon
// when no database is configured and stands in for Postgres in tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/bitpesa/bitpesa/internal/domain"
)

type msgID struct {
	dir domain.BridgeDirection
	key domain.MessageKey
}

// Store implements every domain store interface plus domain.StateWriter.
type Store struct {
	mu        sync.RWMutex
	accounts  map[domain.Address]domain.Account
	positions map[string]domain.Position
	plans     map[domain.Address]domain.WillPlan
	messages  map[msgID]domain.BridgeMessage
	chains    map[domain.ChainSelector]bool
	audit     []domain.AuditEntry
	writes    int
	now       func() time.Time
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		accounts:  make(map[domain.Address]domain.Account),
		positions: make(map[string]domain.Position),
		plans:     make(map[domain.Address]domain.WillPlan),
		messages:  make(map[msgID]domain.BridgeMessage),
		chains:    make(map[domain.ChainSelector]bool),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Write applies a change set atomically.
func (s *Store) Write(_ context.Context, c domain.Changes) error {
	if c.Empty() {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range c.Accounts {
		s.accounts[a.Owner] = a
	}
	for _, p := range c.Positions {
		s.positions[p.ID] = p
	}
	for _, p := range c.Plans {
		s.plans[p.Owner] = p.Clone()
	}
	for _, m := range c.Messages {
		s.messages[msgID{dir: m.Direction, key: m.Key()}] = m
	}
	for sel, ok := range c.Chains {
		s.chains[sel] = ok
	}
	s.writes++
	return nil
}

// Writes counts successful non-empty Write calls.
func (s *Store) Writes() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.writes
}

// Accounts returns the account store view.
func (s *Store) Accounts() *AccountStore { return &AccountStore{s} }

// Positions returns the position store view.
func (s *Store) Positions() *PositionStore { return &PositionStore{s} }

// Wills returns the will store view.
func (s *Store) Wills() *WillStore { return &WillStore{s} }

// Bridge returns the bridge message store view.
func (s *Store) Bridge() *BridgeStore { return &BridgeStore{s} }

// Chains returns the chain allow-list store view.
func (s *Store) Chains() *ChainStore { return &ChainStore{s} }

// Audit returns the audit log view.
func (s *Store) Audit() *AuditStore { return &AuditStore{s} }

// AccountStore implements domain.AccountStore.
type AccountStore struct{ s *Store }

func (v *AccountStore) Upsert(ctx context.Context, a domain.Account) error {
	return v.s.Write(ctx, domain.Changes{Accounts: []domain.Account{a}})
}

func (v *AccountStore) Get(_ context.Context, owner domain.Address) (domain.Account, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	a, ok := v.s.accounts[owner]
	if !ok {
		return domain.Account{}, domain.ErrNotFound
	}
	return a, nil
}

func (v *AccountStore) List(context.Context) ([]domain.Account, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	out := make([]domain.Account, 0, len(v.s.accounts))
	for _, a := range v.s.accounts {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Owner.Hex() < out[j].Owner.Hex() })
	return out, nil
}

// PositionStore implements domain.PositionStore.
type PositionStore struct{ s *Store }

func (v *PositionStore) Upsert(ctx context.Context, p domain.Position) error {
	return v.s.Write(ctx, domain.Changes{Positions: []domain.Position{p}})
}

func (v *PositionStore) GetByID(_ context.Context, id string) (domain.Position, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	p, ok := v.s.positions[id]
	if !ok {
		return domain.Position{}, domain.ErrNotFound
	}
	return p, nil
}

func (v *PositionStore) ListByOwner(_ context.Context, owner domain.Address, opts domain.ListOpts) ([]domain.Position, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	var out []domain.Position
	for _, p := range v.s.positions {
		if p.Owner != owner || !inRange(p.OpenedAt, opts) {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].OpenedAt.Equal(out[j].OpenedAt) {
			return out[i].OpenedAt.After(out[j].OpenedAt)
		}
		return out[i].ID < out[j].ID
	})
	return page(out, opts), nil
}

func (v *PositionStore) ListAll(context.Context) ([]domain.Position, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	out := make([]domain.Position, 0, len(v.s.positions))
	for _, p := range v.s.positions {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].OpenedAt.Equal(out[j].OpenedAt) {
			return out[i].OpenedAt.Before(out[j].OpenedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (v *PositionStore) ListClosedBefore(_ context.Context, before time.Time) ([]domain.Position, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	var out []domain.Position
	for _, p := range v.s.positions {
		if p.Status.Terminal() && p.ClosedAt != nil && p.ClosedAt.Before(before) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ClosedAt.Before(*out[j].ClosedAt) })
	return out, nil
}

// WillStore implements domain.WillStore.
type WillStore struct{ s *Store }

func (v *WillStore) Upsert(ctx context.Context, p domain.WillPlan) error {
	return v.s.Write(ctx, domain.Changes{Plans: []domain.WillPlan{p}})
}

func (v *WillStore) Get(_ context.Context, owner domain.Address) (domain.WillPlan, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	p, ok := v.s.plans[owner]
	if !ok {
		return domain.WillPlan{}, domain.ErrNotFound
	}
	return p.Clone(), nil
}

func (v *WillStore) List(context.Context) ([]domain.WillPlan, error) {
	return v.filter(func(domain.WillPlan) bool { return true }), nil
}

func (v *WillStore) ListTerminalBefore(_ context.Context, before time.Time) ([]domain.WillPlan, error) {
	return v.filter(func(p domain.WillPlan) bool {
		return p.Status.Terminal() && p.UpdatedAt.Before(before)
	}), nil
}

func (v *WillStore) filter(keep func(domain.WillPlan) bool) []domain.WillPlan {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	var out []domain.WillPlan
	for _, p := range v.s.plans {
		if keep(p) {
			out = append(out, p.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Owner.Hex() < out[j].Owner.Hex() })
	return out
}

// BridgeStore implements domain.BridgeStore.
type BridgeStore struct{ s *Store }

func (v *BridgeStore) Upsert(ctx context.Context, m domain.BridgeMessage) error {
	return v.s.Write(ctx, domain.Changes{Messages: []domain.BridgeMessage{m}})
}

func (v *BridgeStore) Get(_ context.Context, dir domain.BridgeDirection, key domain.MessageKey) (domain.BridgeMessage, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	m, ok := v.s.messages[msgID{dir: dir, key: key}]
	if !ok {
		return domain.BridgeMessage{}, domain.ErrNotFound
	}
	return m, nil
}

func (v *BridgeStore) ListOutbox(_ context.Context, sender domain.Address, opts domain.ListOpts) ([]domain.BridgeMessage, error) {
	out := v.filter(func(m domain.BridgeMessage) bool {
		return m.Direction == domain.BridgeOutbound &&
			(sender == domain.ZeroAddress || m.Sender == sender) &&
			inRange(m.CreatedAt, opts)
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return page(out, opts), nil
}

func (v *BridgeStore) ListAll(context.Context) ([]domain.BridgeMessage, error) {
	return v.filter(func(domain.BridgeMessage) bool { return true }), nil
}

func (v *BridgeStore) ListSettledBefore(_ context.Context, before time.Time) ([]domain.BridgeMessage, error) {
	return v.filter(func(m domain.BridgeMessage) bool {
		return m.Status != domain.BridgeStatusPending && m.UpdatedAt.Before(before)
	}), nil
}

func (v *BridgeStore) filter(keep func(domain.BridgeMessage) bool) []domain.BridgeMessage {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	var out []domain.BridgeMessage
	for _, m := range v.s.messages {
		if keep(m) {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Direction != out[j].Direction {
			return out[i].Direction < out[j].Direction
		}
		return out[i].Key().String() < out[j].Key().String()
	})
	return out
}

// ChainStore implements domain.ChainStore.
type ChainStore struct{ s *Store }

func (v *ChainStore) Set(ctx context.Context, chain domain.ChainSelector, supported bool) error {
	return v.s.Write(ctx, domain.Changes{Chains: map[domain.ChainSelector]bool{chain: supported}})
}

func (v *ChainStore) List(context.Context) (map[domain.ChainSelector]bool, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	out := make(map[domain.ChainSelector]bool, len(v.s.chains))
	for sel, ok := range v.s.chains {
		out[sel] = ok
	}
	return out, nil
}

// AuditStore implements domain.AuditStore.
type AuditStore struct{ s *Store }

func (v *AuditStore) Log(_ context.Context, event string, detail map[string]any) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	v.s.audit = append(v.s.audit, domain.AuditEntry{
		ID:        int64(len(v.s.audit) + 1),
		Event:     event,
		Detail:    detail,
		CreatedAt: v.s.now(),
	})
	return nil
}

// List returns entries newest first.
func (v *AuditStore) List(_ context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	var out []domain.AuditEntry
	for i := len(v.s.audit) - 1; i >= 0; i-- {
		if e := v.s.audit[i]; inRange(e.CreatedAt, opts) {
			out = append(out, e)
		}
	}
	return page(out, opts), nil
}

func inRange(t time.Time, opts domain.ListOpts) bool {
	if opts.Since != nil && t.Before(*opts.Since) {
		return false
	}
	if opts.Until != nil && t.After(*opts.Until) {
		return false
	}
	return true
}

func page[T any](items []T, opts domain.ListOpts) []T {
	if opts.Offset > 0 {
		if opts.Offset >= len(items) {
			return nil
		}
		items = items[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(items) {
		items = items[:opts.Limit]
	}
	return items
}

var (
	_ domain.StateWriter   = (*Store)(nil)
	_ domain.AccountStore  = (*AccountStore)(nil)
	_ domain.PositionStore = (*PositionStore)(nil)
	_ domain.WillStore     = (*WillStore)(nil)
	_ domain.BridgeStore   = (*BridgeStore)(nil)
	_ domain.ChainStore    = (*ChainStore)(nil)
	_ domain.AuditStore    = (*AuditStore)(nil)
)

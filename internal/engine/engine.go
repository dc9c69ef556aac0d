// Package engine implements the collateralized lending, inheritance and
// cross-chain settlement state machine. It is deterministic given its inputs
// (clock, price feed, id generator) and performs no I/O: every call runs
// atomically under a single mutex and either fully applies or leaves the
// state untouched.
package engine

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bitpesa/bitpesa/internal/domain"
)

// Config is the construction-time configuration of an engine instance. One
// instance serves one chain (HomeChain).
type Config struct {
	CollateralAsset         string
	HomeChain               domain.ChainSelector
	Admin                   domain.Address
	Treasury                domain.Address
	InitialExecutor         domain.Address
	RequireExecutorApproval bool
	KYCVerifier             *domain.Address
	// RequiredCollateralRatio and LiquidationThreshold are whole percents.
	RequiredCollateralRatio uint64
	LiquidationThreshold    uint64
	SupportedChains         []domain.ChainSelector
	MaxPriceAge             time.Duration
	Liquidation             LiquidationPolicy
}

// Validate checks the configuration for values the engine cannot run with.
func (c Config) Validate() error {
	switch {
	case c.CollateralAsset == "":
		return fmt.Errorf("%w: collateral asset is required", domain.ErrValidation)
	case c.Admin == domain.ZeroAddress:
		return fmt.Errorf("%w: admin is required", domain.ErrValidation)
	case c.Treasury == domain.ZeroAddress:
		return fmt.Errorf("%w: treasury is required", domain.ErrValidation)
	case c.RequiredCollateralRatio == 0 || c.LiquidationThreshold == 0:
		return fmt.Errorf("%w: collateral ratios must be positive", domain.ErrValidation)
	case c.LiquidationThreshold > c.RequiredCollateralRatio:
		return fmt.Errorf("%w: liquidation threshold %d exceeds required ratio %d",
			domain.ErrValidation, c.LiquidationThreshold, c.RequiredCollateralRatio)
	case c.MaxPriceAge <= 0:
		return fmt.Errorf("%w: max price age must be positive", domain.ErrValidation)
	case uint64(c.Liquidation.LiquidatorRewardBps)+uint64(c.Liquidation.ProtocolFeeBps) > domain.BpsDenominator:
		return fmt.Errorf("%w: liquidation reward and fee exceed 100%%", domain.ErrValidation)
	}
	for _, ch := range c.SupportedChains {
		if ch == c.HomeChain {
			return fmt.Errorf("%w: home chain %s cannot be a bridge peer", domain.ErrValidation, ch)
		}
	}
	return nil
}

// PriceFeed supplies the latest reading for an asset. Implementations must
// answer from memory: the engine calls it while holding its lock.
type PriceFeed interface {
	Price(asset string) (domain.PriceReading, error)
}

// Option customises an Engine.
type Option func(*Engine)

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithIDGenerator overrides position id generation.
func WithIDGenerator(gen func() string) Option {
	return func(e *Engine) { e.newID = gen }
}

// WithTrigger sets the will release trigger condition.
func WithTrigger(t TriggerCondition) Option {
	return func(e *Engine) { e.trigger = t }
}

type nonceKey struct {
	sender domain.Address
	dest   domain.ChainSelector
}

// Engine owns all ledger state. Entities live in maps keyed by stable
// identifiers and reference each other only by key.
type Engine struct {
	mu sync.Mutex

	cfg     Config
	risk    RiskEngine
	feed    PriceFeed
	now     func() time.Time
	newID   func() string
	trigger TriggerCondition

	vault     vault
	positions map[string]domain.Position
	byOwner   map[domain.Address][]string
	plans     map[domain.Address]domain.WillPlan
	chains    map[domain.ChainSelector]bool
	outbox    map[domain.MessageKey]domain.BridgeMessage
	inbox     map[domain.MessageKey]domain.BridgeMessage
	nonces    map[nonceKey]uint64
}

// New builds an engine from a validated configuration.
func New(cfg Config, feed PriceFeed, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("engine: config: %w", err)
	}
	if feed == nil {
		return nil, fmt.Errorf("engine: %w: price feed is required", domain.ErrValidation)
	}
	e := &Engine{
		cfg: cfg,
		risk: RiskEngine{
			RequiredRatio:        cfg.RequiredCollateralRatio,
			LiquidationThreshold: cfg.LiquidationThreshold,
			Policy:               cfg.Liquidation,
		},
		feed:    feed,
		now:     func() time.Time { return time.Now().UTC() },
		newID:   func() string { return uuid.New().String() },
		trigger: AlwaysTriggered{},
	}
	for _, opt := range opts {
		opt(e)
	}
	e.reset(nil)
	return e, nil
}

// Config returns the engine configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

func (e *Engine) reset(chains map[domain.ChainSelector]bool) {
	e.vault = newVault()
	e.positions = make(map[string]domain.Position)
	e.byOwner = make(map[domain.Address][]string)
	e.plans = make(map[domain.Address]domain.WillPlan)
	e.outbox = make(map[domain.MessageKey]domain.BridgeMessage)
	e.inbox = make(map[domain.MessageKey]domain.BridgeMessage)
	e.nonces = make(map[nonceKey]uint64)
	e.chains = make(map[domain.ChainSelector]bool)
	if chains == nil {
		for _, ch := range e.cfg.SupportedChains {
			e.chains[ch] = true
		}
		return
	}
	for ch, ok := range chains {
		if ok {
			e.chains[ch] = true
		}
	}
}

// freshPrice reads the feed and fails closed when the reading is too old or
// unusable.
func (e *Engine) freshPrice(now time.Time) (domain.PriceReading, error) {
	r, err := e.feed.Price(e.cfg.CollateralAsset)
	if err != nil {
		return domain.PriceReading{}, fmt.Errorf("%w: %v", domain.ErrStalePrice, err)
	}
	if r.Price.IsZero() || r.Decimals > maxPriceDecimals {
		return domain.PriceReading{}, fmt.Errorf("%w: unusable reading for %s", domain.ErrStalePrice, r.Asset)
	}
	if now.Sub(r.UpdatedAt) > e.cfg.MaxPriceAge {
		return domain.PriceReading{}, fmt.Errorf("%w: %s updated %s ago",
			domain.ErrStalePrice, r.Asset, now.Sub(r.UpdatedAt).Truncate(time.Second))
	}
	return r, nil
}

// CheckIn records owner activity without changing any balance.
func (e *Engine) CheckIn(owner domain.Address) error {
	if owner == domain.ZeroAddress {
		return fmt.Errorf("engine: check in: %w: zero owner", domain.ErrValidation)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.vault.touch(owner, e.now())
	return nil
}

// State is a full copy of the engine's entities, used for persistence and
// recovery.
type State struct {
	Accounts  []domain.Account
	Positions []domain.Position
	Plans     []domain.WillPlan
	Messages  []domain.BridgeMessage
	// Chains is the allow-list; nil means "use the configured chains".
	Chains map[domain.ChainSelector]bool
}

// Restore replaces the engine's state. Nonce counters are rebuilt from the
// outbound messages.
func (e *Engine) Restore(st State) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.reset(st.Chains)
	for _, a := range st.Accounts {
		e.vault.balances[a.Owner] = a.BalanceSats
		if !a.LastSeenAt.IsZero() {
			e.vault.lastSeen[a.Owner] = a.LastSeenAt
		}
	}

	positions := append([]domain.Position(nil), st.Positions...)
	sort.SliceStable(positions, func(i, j int) bool {
		return positions[i].OpenedAt.Before(positions[j].OpenedAt)
	})
	for _, p := range positions {
		if p.Status == domain.PositionStatusOpen && p.CollateralSats == 0 {
			e.reset(nil)
			return fmt.Errorf("engine: restore position %s: %w: open with zero collateral", p.ID, domain.ErrValidation)
		}
		e.positions[p.ID] = p
		e.byOwner[p.Owner] = append(e.byOwner[p.Owner], p.ID)
	}

	for _, plan := range st.Plans {
		e.plans[plan.Owner] = plan.Clone()
	}

	for _, m := range st.Messages {
		switch m.Direction {
		case domain.BridgeOutbound:
			e.outbox[m.Key()] = m
			k := nonceKey{sender: m.Sender, dest: m.DestChain}
			if m.Nonce > e.nonces[k] {
				e.nonces[k] = m.Nonce
			}
		case domain.BridgeInbound:
			e.inbox[m.Key()] = m
		default:
			e.reset(nil)
			return fmt.Errorf("engine: restore message %s: %w: unknown direction %q", m.Key(), domain.ErrValidation, m.Direction)
		}
	}
	return nil
}

// Snapshot returns a copy of every entity.
func (e *Engine) Snapshot() State {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := State{Chains: make(map[domain.ChainSelector]bool, len(e.chains))}
	for ch := range e.chains {
		st.Chains[ch] = true
	}
	st.Accounts = e.vault.accounts()
	for _, p := range e.positions {
		st.Positions = append(st.Positions, p)
	}
	sort.Slice(st.Positions, func(i, j int) bool { return st.Positions[i].ID < st.Positions[j].ID })
	for _, plan := range e.plans {
		st.Plans = append(st.Plans, plan.Clone())
	}
	sort.Slice(st.Plans, func(i, j int) bool {
		return st.Plans[i].Owner.Hex() < st.Plans[j].Owner.Hex()
	})
	for _, m := range e.outbox {
		st.Messages = append(st.Messages, m)
	}
	for _, m := range e.inbox {
		st.Messages = append(st.Messages, m)
	}
	sort.Slice(st.Messages, func(i, j int) bool {
		a, b := st.Messages[i], st.Messages[j]
		if a.Direction != b.Direction {
			return a.Direction < b.Direction
		}
		return a.Key().String() < b.Key().String()
	})
	return st
}

package engine

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/bitpesa/bitpesa/internal/domain"
)

// vault holds free collateral per owner on the engine's home chain. Only the
// ledger, will registry and bridge gateway move funds through debit/credit.
type vault struct {
	balances map[domain.Address]uint64
	lastSeen map[domain.Address]time.Time
}

func newVault() vault {
	return vault{
		balances: make(map[domain.Address]uint64),
		lastSeen: make(map[domain.Address]time.Time),
	}
}

func (v vault) balance(owner domain.Address) uint64 {
	return v.balances[owner]
}

// canCredit reports whether owner can receive amount without overflowing.
func (v vault) canCredit(owner domain.Address, amount uint64) bool {
	return v.balances[owner] <= math.MaxUint64-amount
}

func (v vault) credit(owner domain.Address, amount uint64) error {
	if !v.canCredit(owner, amount) {
		return fmt.Errorf("%w: balance of %s", domain.ErrOverflow, owner.Hex())
	}
	v.balances[owner] += amount
	return nil
}

func (v vault) debit(owner domain.Address, amount uint64) error {
	bal := v.balances[owner]
	if amount > bal {
		return fmt.Errorf("%w: %s holds %d sats, needs %d", domain.ErrInsufficientCollateral, owner.Hex(), bal, amount)
	}
	v.balances[owner] = bal - amount
	return nil
}

func (v vault) touch(owner domain.Address, now time.Time) {
	v.lastSeen[owner] = now
}

func (v vault) accounts() []domain.Account {
	seen := make(map[domain.Address]bool, len(v.balances))
	var out []domain.Account
	for owner, bal := range v.balances {
		seen[owner] = true
		out = append(out, domain.Account{Owner: owner, BalanceSats: bal, LastSeenAt: v.lastSeen[owner]})
	}
	for owner, ts := range v.lastSeen {
		if !seen[owner] {
			out = append(out, domain.Account{Owner: owner, LastSeenAt: ts})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Owner.Hex() < out[j].Owner.Hex() })
	return out
}

// Deposit credits owner's free collateral.
func (e *Engine) Deposit(owner domain.Address, sats uint64) (domain.Account, error) {
	if owner == domain.ZeroAddress || sats == 0 {
		return domain.Account{}, fmt.Errorf("engine: deposit: %w: owner and amount are required", domain.ErrValidation)
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.vault.credit(owner, sats); err != nil {
		return domain.Account{}, fmt.Errorf("engine: deposit: %w", err)
	}
	e.vault.touch(owner, e.now())
	return e.account(owner), nil
}

// Withdraw removes free collateral from the vault. It fails when the owner
// has an open position below the required collateral ratio: free balance is
// the margin backstop for such positions.
func (e *Engine) Withdraw(owner domain.Address, sats uint64) (domain.Account, error) {
	if owner == domain.ZeroAddress || sats == 0 {
		return domain.Account{}, fmt.Errorf("engine: withdraw: %w: owner and amount are required", domain.ErrValidation)
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if bal := e.vault.balance(owner); sats > bal {
		return domain.Account{}, fmt.Errorf("engine: withdraw: %w: balance %d, requested %d",
			domain.ErrInsufficientCollateral, bal, sats)
	}

	now := e.now()
	if ids := e.openPositionIDs(owner); len(ids) > 0 {
		price, err := e.freshPrice(now)
		if err != nil {
			return domain.Account{}, fmt.Errorf("engine: withdraw: %w", err)
		}
		for _, id := range ids {
			pos, err := accrue(e.positions[id], now)
			if err != nil {
				return domain.Account{}, fmt.Errorf("engine: withdraw: %w", err)
			}
			if err := e.risk.CheckWithdrawal(pos, price); err != nil {
				return domain.Account{}, fmt.Errorf("engine: withdraw: position %s: %w", id, err)
			}
		}
	}

	if err := e.vault.debit(owner, sats); err != nil {
		return domain.Account{}, fmt.Errorf("engine: withdraw: %w", err)
	}
	e.vault.touch(owner, now)
	return e.account(owner), nil
}

// Balance returns owner's free collateral in satoshis.
func (e *Engine) Balance(owner domain.Address) uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.vault.balance(owner)
}

// Account returns owner's balance and last activity.
func (e *Engine) Account(owner domain.Address) domain.Account {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.account(owner)
}

func (e *Engine) account(owner domain.Address) domain.Account {
	return domain.Account{
		Owner:       owner,
		BalanceSats: e.vault.balance(owner),
		LastSeenAt:  e.vault.lastSeen[owner],
	}
}

// TotalSats sums free collateral and collateral locked in open positions.
func (e *Engine) TotalSats() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()

	var total uint64
	for _, bal := range e.vault.balances {
		total += bal
	}
	for _, p := range e.positions {
		if p.Status == domain.PositionStatusOpen {
			total += p.CollateralSats
		}
	}
	return total
}

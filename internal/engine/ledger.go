package engine

import (
	"fmt"
	"sort"
	"time"

	"github.com/holiman/uint256"

	"github.com/bitpesa/bitpesa/internal/domain"
)

// OpenPosition locks collateralSats from owner's vault balance against a loan
// of principal USD8 at rateBps simple annual interest.
func (e *Engine) OpenPosition(owner domain.Address, collateralSats uint64, principal uint256.Int, rateBps uint32) (domain.Position, error) {
	if owner == domain.ZeroAddress || collateralSats == 0 || principal.IsZero() {
		return domain.Position{}, fmt.Errorf("engine: open position: %w: owner, collateral and principal are required", domain.ErrValidation)
	}
	if principal.Gt(domain.MaxU128) {
		return domain.Position{}, fmt.Errorf("engine: open position: %w: principal exceeds u128", domain.ErrOverflow)
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	price, err := e.freshPrice(now)
	if err != nil {
		return domain.Position{}, fmt.Errorf("engine: open position: %w", err)
	}
	if _, err := e.risk.CheckOpen(collateralSats, principal, price); err != nil {
		return domain.Position{}, fmt.Errorf("engine: open position: %w", err)
	}
	if err := e.vault.debit(owner, collateralSats); err != nil {
		return domain.Position{}, fmt.Errorf("engine: open position: %w", err)
	}

	pos := domain.Position{
		ID:              e.newID(),
		Owner:           owner,
		CollateralSats:  collateralSats,
		PrincipalUSD:    principal,
		InterestRateBps: rateBps,
		Status:          domain.PositionStatusOpen,
		OpenedAt:        now,
		LastAccrualAt:   now,
	}
	e.positions[pos.ID] = pos
	e.byOwner[owner] = append(e.byOwner[owner], pos.ID)
	e.vault.touch(owner, now)
	return pos, nil
}

// Position returns the position with interest accrued to now.
func (e *Engine) Position(id string) (domain.Position, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	pos, err := e.touchPosition(id)
	if err != nil {
		return domain.Position{}, fmt.Errorf("engine: position: %w", err)
	}
	return pos, nil
}

// HealthRatio accrues the position and returns its current health ratio.
func (e *Engine) HealthRatio(id string) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	pos, err := e.touchPosition(id)
	if err != nil {
		return 0, fmt.Errorf("engine: health ratio: %w", err)
	}
	price, err := e.freshPrice(e.now())
	if err != nil {
		return 0, fmt.Errorf("engine: health ratio: %w", err)
	}
	ratio, err := e.risk.PositionHealth(pos, price)
	if err != nil {
		return 0, fmt.Errorf("engine: health ratio: %w", err)
	}
	return ratio, nil
}

// PositionsByOwner returns owner's positions in opening order, accruing the
// open ones.
func (e *Engine) PositionsByOwner(owner domain.Address) ([]domain.Position, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ids := e.byOwner[owner]
	out := make([]domain.Position, 0, len(ids))
	for _, id := range ids {
		pos, err := e.touchPosition(id)
		if err != nil {
			return nil, fmt.Errorf("engine: positions by owner: %w", err)
		}
		out = append(out, pos)
	}
	return out, nil
}

// OpenPositions returns every open position, accrued to now.
func (e *Engine) OpenPositions() ([]domain.Position, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var out []domain.Position
	for owner := range e.byOwner {
		for _, id := range e.openPositionIDs(owner) {
			pos, err := e.touchPosition(id)
			if err != nil {
				return nil, fmt.Errorf("engine: open positions: %w", err)
			}
			out = append(out, pos)
		}
	}
	sortPositions(out)
	return out, nil
}

// Repay applies amount to accrued interest, then principal. Amounts above the
// outstanding debt are clamped. Clearing the debt returns the collateral to
// the owner and closes the position as Repaid.
func (e *Engine) Repay(caller domain.Address, id string, amount uint256.Int) (domain.RepayResult, error) {
	if amount.IsZero() {
		return domain.RepayResult{}, fmt.Errorf("engine: repay %s: %w: zero amount", id, domain.ErrValidation)
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	pos, err := e.openPosition(id, now)
	if err != nil {
		return domain.RepayResult{}, fmt.Errorf("engine: repay: %w", err)
	}

	res := domain.RepayResult{}
	remaining := amount
	if remaining.Lt(&pos.AccruedInterestUSD) {
		res.InterestPaidUSD = remaining
	} else {
		res.InterestPaidUSD = pos.AccruedInterestUSD
	}
	remaining.Sub(&remaining, &res.InterestPaidUSD)
	if remaining.Lt(&pos.PrincipalUSD) {
		res.PrincipalPaidUSD = remaining
	} else {
		res.PrincipalPaidUSD = pos.PrincipalUSD
	}
	res.AppliedUSD.Add(&res.InterestPaidUSD, &res.PrincipalPaidUSD)

	pos.AccruedInterestUSD.Sub(&pos.AccruedInterestUSD, &res.InterestPaidUSD)
	pos.PrincipalUSD.Sub(&pos.PrincipalUSD, &res.PrincipalPaidUSD)

	if pos.PrincipalUSD.IsZero() && pos.AccruedInterestUSD.IsZero() {
		if err := e.vault.credit(pos.Owner, pos.CollateralSats); err != nil {
			return domain.RepayResult{}, fmt.Errorf("engine: repay %s: %w", id, err)
		}
		res.ReturnedSats = pos.CollateralSats
		pos.CollateralSats = 0
		pos.Status = domain.PositionStatusRepaid
		closed := now
		pos.ClosedAt = &closed
	}

	e.positions[id] = pos
	if caller == pos.Owner {
		e.vault.touch(caller, now)
	}
	res.Position = pos
	return res, nil
}

// Liquidate closes an open position whose health ratio is below the
// liquidation threshold. Anyone may call it; liquidator receives the reward
// share of the surplus.
func (e *Engine) Liquidate(liquidator domain.Address, id string) (domain.LiquidationResult, error) {
	if liquidator == domain.ZeroAddress {
		return domain.LiquidationResult{}, fmt.Errorf("engine: liquidate %s: %w: zero liquidator", id, domain.ErrValidation)
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	pos, err := e.openPosition(id, now)
	if err != nil {
		return domain.LiquidationResult{}, fmt.Errorf("engine: liquidate: %w", err)
	}
	price, err := e.freshPrice(now)
	if err != nil {
		return domain.LiquidationResult{}, fmt.Errorf("engine: liquidate %s: %w", id, err)
	}
	ratio, err := e.risk.CheckLiquidatable(pos, price)
	if err != nil {
		return domain.LiquidationResult{}, fmt.Errorf("engine: liquidate %s: %w", id, err)
	}

	res := e.risk.SplitSeizure(pos, price)
	res.Liquidator = liquidator
	res.HealthRatio = ratio

	credits := []struct {
		to   domain.Address
		sats uint64
	}{
		{e.cfg.Treasury, res.DebtSats + res.ProtocolFeeSats},
		{liquidator, res.LiquidatorSats},
		{pos.Owner, res.OwnerRefundSats},
	}
	if err := e.checkCredits(credits...); err != nil {
		return domain.LiquidationResult{}, fmt.Errorf("engine: liquidate %s: %w", id, err)
	}
	for _, c := range credits {
		e.vault.balances[c.to] += c.sats
	}

	pos.CollateralSats = 0
	pos.Status = domain.PositionStatusLiquidated
	closed := now
	pos.ClosedAt = &closed
	e.positions[id] = pos
	return res, nil
}

// AddCollateral moves sats from owner's vault balance into an open position.
func (e *Engine) AddCollateral(owner domain.Address, id string, sats uint64) (domain.Position, error) {
	if sats == 0 {
		return domain.Position{}, fmt.Errorf("engine: add collateral %s: %w: zero amount", id, domain.ErrValidation)
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	pos, err := e.openPosition(id, now)
	if err != nil {
		return domain.Position{}, fmt.Errorf("engine: add collateral: %w", err)
	}
	if pos.Owner != owner {
		return domain.Position{}, fmt.Errorf("engine: add collateral %s: %w", id, domain.ErrUnauthorized)
	}
	if pos.CollateralSats > ^uint64(0)-sats {
		return domain.Position{}, fmt.Errorf("engine: add collateral %s: %w", id, domain.ErrOverflow)
	}
	if err := e.vault.debit(owner, sats); err != nil {
		return domain.Position{}, fmt.Errorf("engine: add collateral %s: %w", id, err)
	}
	pos.CollateralSats += sats
	e.positions[id] = pos
	e.vault.touch(owner, now)
	return pos, nil
}

// RemoveCollateral returns sats from an open position to the owner's vault,
// provided the position stays at or above the required ratio.
func (e *Engine) RemoveCollateral(owner domain.Address, id string, sats uint64) (domain.Position, error) {
	if sats == 0 {
		return domain.Position{}, fmt.Errorf("engine: remove collateral %s: %w: zero amount", id, domain.ErrValidation)
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	pos, err := e.openPosition(id, now)
	if err != nil {
		return domain.Position{}, fmt.Errorf("engine: remove collateral: %w", err)
	}
	if pos.Owner != owner {
		return domain.Position{}, fmt.Errorf("engine: remove collateral %s: %w", id, domain.ErrUnauthorized)
	}
	if sats >= pos.CollateralSats {
		return domain.Position{}, fmt.Errorf("engine: remove collateral %s: %w: position holds %d sats",
			id, domain.ErrInsufficientCollateral, pos.CollateralSats)
	}
	price, err := e.freshPrice(now)
	if err != nil {
		return domain.Position{}, fmt.Errorf("engine: remove collateral %s: %w", id, err)
	}
	after := pos
	after.CollateralSats -= sats
	if err := e.risk.CheckWithdrawal(after, price); err != nil {
		return domain.Position{}, fmt.Errorf("engine: remove collateral %s: %w", id, err)
	}
	if err := e.vault.credit(owner, sats); err != nil {
		return domain.Position{}, fmt.Errorf("engine: remove collateral %s: %w", id, err)
	}
	e.positions[id] = after
	e.vault.touch(owner, now)
	return after, nil
}

// touchPosition accrues and stores an open position; closed positions are
// returned unchanged. Caller holds e.mu.
func (e *Engine) touchPosition(id string) (domain.Position, error) {
	pos, ok := e.positions[id]
	if !ok {
		return domain.Position{}, fmt.Errorf("position %s: %w", id, domain.ErrNotFound)
	}
	pos, err := accrue(pos, e.now())
	if err != nil {
		return domain.Position{}, err
	}
	e.positions[id] = pos
	return pos, nil
}

// openPosition returns an accrued copy of an open position without storing
// it, so a failing operation leaves the position untouched. Caller holds e.mu.
func (e *Engine) openPosition(id string, now time.Time) (domain.Position, error) {
	pos, ok := e.positions[id]
	if !ok {
		return domain.Position{}, fmt.Errorf("position %s: %w", id, domain.ErrNotFound)
	}
	switch pos.Status {
	case domain.PositionStatusLiquidated:
		return domain.Position{}, fmt.Errorf("position %s: %w", id, domain.ErrAlreadyLiquidated)
	case domain.PositionStatusRepaid:
		return domain.Position{}, fmt.Errorf("position %s: %w", id, domain.ErrAlreadyRepaid)
	}
	return accrue(pos, now)
}

func (e *Engine) openPositionIDs(owner domain.Address) []string {
	var ids []string
	for _, id := range e.byOwner[owner] {
		if e.positions[id].Status == domain.PositionStatusOpen {
			ids = append(ids, id)
		}
	}
	return ids
}

// checkCredits verifies every credit fits before any is applied. Credits to
// the same address are summed.
func (e *Engine) checkCredits(credits ...struct {
	to   domain.Address
	sats uint64
}) error {
	sums := make(map[domain.Address]uint64, len(credits))
	for _, c := range credits {
		if sums[c.to] > ^uint64(0)-c.sats {
			return fmt.Errorf("%w: credit to %s", domain.ErrOverflow, c.to.Hex())
		}
		sums[c.to] += c.sats
	}
	for to, sats := range sums {
		if !e.vault.canCredit(to, sats) {
			return fmt.Errorf("%w: balance of %s", domain.ErrOverflow, to.Hex())
		}
	}
	return nil
}

func sortPositions(ps []domain.Position) {
	sort.Slice(ps, func(i, j int) bool {
		if !ps[i].OpenedAt.Equal(ps[j].OpenedAt) {
			return ps[i].OpenedAt.Before(ps[j].OpenedAt)
		}
		return ps[i].ID < ps[j].ID
	})
}

package service

import (
	"context"

	"github.com/holiman/uint256"

	"github.com/bitpesa/bitpesa/internal/domain"
)

// LoanService drives the position lifecycle.
type LoanService struct {
	core
	treasury domain.Address
}

// NewLoanService creates a LoanService.
func NewLoanService(d Deps) (*LoanService, error) {
	c, err := newCore(d, "loan_service")
	if err != nil {
		return nil, err
	}
	return &LoanService{core: c, treasury: d.Engine.Config().Treasury}, nil
}

// Open locks collateral from owner's vault into a new position.
func (s *LoanService) Open(ctx context.Context, owner domain.Address, collateralSats uint64, principal uint256.Int, rateBps uint32) (domain.Position, error) {
	var pos domain.Position
	err := s.apply(ctx, "open_position", []string{vaultKey(owner)}, func() (outcome, error) {
		var err error
		if pos, err = s.Engine.OpenPosition(owner, collateralSats, principal, rateBps); err != nil {
			return outcome{}, err
		}
		return outcome{
			changes: domain.Changes{
				Accounts:  s.accounts(owner),
				Positions: []domain.Position{pos},
			},
			channel: domain.ChannelLoans,
			event: domain.Event{
				Type:    domain.EventPositionOpened,
				Subject: pos.ID,
				Detail: map[string]any{
					"position_id":       pos.ID,
					"owner":             owner.Hex(),
					"collateral_sats":   pos.CollateralSats,
					"principal_usd":     pos.PrincipalUSD.Dec(),
					"interest_rate_bps": pos.InterestRateBps,
				},
			},
		}, nil
	})
	return pos, err
}

// Repay applies a USD8 repayment, closing the position when fully paid.
func (s *LoanService) Repay(ctx context.Context, caller domain.Address, id string, amount uint256.Int) (domain.RepayResult, error) {
	var res domain.RepayResult
	err := s.apply(ctx, "repay", s.positionLocks(id), func() (outcome, error) {
		var err error
		if res, err = s.Engine.Repay(caller, id, amount); err != nil {
			return outcome{}, err
		}
		pos := res.Position
		evt := domain.Event{
			Type:    domain.EventRepayment,
			Subject: pos.ID,
			Detail: map[string]any{
				"position_id":    pos.ID,
				"owner":          pos.Owner.Hex(),
				"applied_usd":    res.AppliedUSD.Dec(),
				"interest_usd":   res.InterestPaidUSD.Dec(),
				"principal_usd":  res.PrincipalPaidUSD.Dec(),
				"remaining_debt": debtString(pos),
			},
		}
		if pos.Status == domain.PositionStatusRepaid {
			evt.Type = domain.EventPositionRepaid
			evt.Detail["returned_sats"] = res.ReturnedSats
		}
		return outcome{
			changes: domain.Changes{
				Accounts:  s.accounts(pos.Owner),
				Positions: []domain.Position{pos},
			},
			channel: domain.ChannelLoans,
			event:   evt,
		}, nil
	})
	return res, err
}

// Liquidate seizes an unhealthy position. Anyone may call it.
func (s *LoanService) Liquidate(ctx context.Context, liquidator domain.Address, id string) (domain.LiquidationResult, error) {
	var res domain.LiquidationResult
	keys := append(s.positionLocks(id), vaultKey(liquidator), vaultKey(s.treasury))
	err := s.apply(ctx, "liquidate", keys, func() (outcome, error) {
		var err error
		if res, err = s.Engine.Liquidate(liquidator, id); err != nil {
			return outcome{}, err
		}
		pos, err := s.Engine.Position(id)
		if err != nil {
			return outcome{}, err
		}
		return outcome{
			changes: domain.Changes{
				Accounts:  s.accounts(pos.Owner, liquidator, s.treasury),
				Positions: []domain.Position{pos},
			},
			channel: domain.ChannelLoans,
			event: domain.Event{
				Type:    domain.EventLiquidated,
				Subject: id,
				Detail: map[string]any{
					"position_id":     id,
					"owner":           pos.Owner.Hex(),
					"liquidator":      liquidator.Hex(),
					"health_ratio":    res.HealthRatio,
					"seized_sats":     res.SeizedSats,
					"debt_sats":       res.DebtSats,
					"liquidator_sats": res.LiquidatorSats,
					"fee_sats":        res.ProtocolFeeSats,
					"refund_sats":     res.OwnerRefundSats,
				},
			},
		}, nil
	})
	return res, err
}

// AddCollateral moves free collateral into an open position.
func (s *LoanService) AddCollateral(ctx context.Context, owner domain.Address, id string, sats uint64) (domain.Position, error) {
	return s.adjust(ctx, "add_collateral", owner, id, sats, true)
}

// RemoveCollateral moves collateral from an open position back to the vault.
func (s *LoanService) RemoveCollateral(ctx context.Context, owner domain.Address, id string, sats uint64) (domain.Position, error) {
	return s.adjust(ctx, "remove_collateral", owner, id, sats, false)
}

func (s *LoanService) adjust(ctx context.Context, op string, owner domain.Address, id string, sats uint64, add bool) (domain.Position, error) {
	var pos domain.Position
	err := s.apply(ctx, op, []string{positionKey(id), vaultKey(owner)}, func() (outcome, error) {
		var err error
		if add {
			pos, err = s.Engine.AddCollateral(owner, id, sats)
		} else {
			pos, err = s.Engine.RemoveCollateral(owner, id, sats)
		}
		if err != nil {
			return outcome{}, err
		}
		return outcome{
			changes: domain.Changes{
				Accounts:  s.accounts(owner),
				Positions: []domain.Position{pos},
			},
			channel: domain.ChannelLoans,
			event: domain.Event{
				Type:    domain.EventCollateralChanged,
				Subject: id,
				Detail: map[string]any{
					"position_id":     id,
					"owner":           owner.Hex(),
					"added":           add,
					"sats":            sats,
					"collateral_sats": pos.CollateralSats,
				},
			},
		}, nil
	})
	return pos, err
}

// Position returns a position with interest accrued to now and its health
// ratio. The health ratio is zero for closed positions.
func (s *LoanService) Position(id string) (domain.Position, uint64, error) {
	pos, err := s.Engine.Position(id)
	if err != nil {
		return domain.Position{}, 0, err
	}
	if pos.Status != domain.PositionStatusOpen {
		return pos, 0, nil
	}
	health, err := s.Engine.HealthRatio(id)
	if err != nil {
		return pos, 0, err
	}
	return pos, health, nil
}

// ByOwner lists an owner's positions, open and closed.
func (s *LoanService) ByOwner(owner domain.Address) ([]domain.Position, error) {
	return s.Engine.PositionsByOwner(owner)
}

// OpenPositions lists open positions across all owners, oldest first.
func (s *LoanService) OpenPositions() ([]domain.Position, error) {
	return s.Engine.OpenPositions()
}

// HealthRatio returns the current health ratio of an open position.
func (s *LoanService) HealthRatio(id string) (uint64, error) {
	return s.Engine.HealthRatio(id)
}

// positionLocks locks the position and, when known, its owner's vault.
func (s *LoanService) positionLocks(id string) []string {
	keys := []string{positionKey(id)}
	if pos, err := s.Engine.Position(id); err == nil {
		keys = append(keys, vaultKey(pos.Owner))
	}
	return keys
}

func debtString(p domain.Position) string {
	d := p.Debt()
	return d.Dec()
}

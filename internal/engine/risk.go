package engine

import (
	"fmt"
	"math"
	"time"

	"github.com/holiman/uint256"

	"github.com/bitpesa/bitpesa/internal/domain"
)

const (
	// MaxHealthRatio is reported for positions without debt.
	MaxHealthRatio uint64 = math.MaxUint64

	secondsPerYear   = 365 * 86400
	maxPriceDecimals = 36
)

// LiquidationPolicy splits the surplus of a liquidated position (collateral
// left after covering the debt) between the liquidator, the protocol and the
// borrower.
type LiquidationPolicy struct {
	LiquidatorRewardBps uint32
	ProtocolFeeBps      uint32
}

// RiskEngine holds the ratio policy. Its methods are pure.
type RiskEngine struct {
	RequiredRatio        uint64
	LiquidationThreshold uint64
	Policy               LiquidationPolicy
}

func pow10(n uint8) *uint256.Int {
	out := uint256.NewInt(1)
	ten := uint256.NewInt(10)
	for i := uint8(0); i < n; i++ {
		out.Mul(out, ten)
	}
	return out
}

// CollateralValueUSD converts satoshis to USD8 at the given reading:
// sats * price / 10^decimals.
func CollateralValueUSD(sats uint64, r domain.PriceReading) (uint256.Int, error) {
	v, overflow := new(uint256.Int).MulDivOverflow(uint256.NewInt(sats), &r.Price, pow10(r.Decimals))
	if overflow {
		return uint256.Int{}, fmt.Errorf("%w: collateral value of %d sats", domain.ErrOverflow, sats)
	}
	return *v, nil
}

// HealthRatio is floor(value * 100 / debt). Zero debt yields MaxHealthRatio.
func HealthRatio(value, debt uint256.Int) uint64 {
	if debt.IsZero() {
		return MaxHealthRatio
	}
	r, overflow := new(uint256.Int).MulDivOverflow(&value, uint256.NewInt(100), &debt)
	if overflow || !r.IsUint64() {
		return MaxHealthRatio
	}
	return r.Uint64()
}

// InterestDue is principal * rateBps * seconds / (10000 * 365 * 86400),
// floored. It never compounds.
func InterestDue(principal uint256.Int, rateBps uint32, seconds uint64) (uint256.Int, error) {
	if seconds == 0 || rateBps == 0 || principal.IsZero() {
		return uint256.Int{}, nil
	}
	num, overflow := new(uint256.Int).MulOverflow(&principal, uint256.NewInt(uint64(rateBps)))
	if overflow {
		return uint256.Int{}, fmt.Errorf("%w: interest numerator", domain.ErrOverflow)
	}
	due, overflow := new(uint256.Int).MulDivOverflow(num, uint256.NewInt(seconds),
		uint256.NewInt(domain.BpsDenominator*secondsPerYear))
	if overflow {
		return uint256.Int{}, fmt.Errorf("%w: interest due", domain.ErrOverflow)
	}
	return *due, nil
}

// accrue brings an open position's interest up to now. Only whole elapsed
// seconds are charged; lastAccrualAt advances by the charged amount so the
// fractional second carries over to the next accrual.
func accrue(p domain.Position, now time.Time) (domain.Position, error) {
	if p.Status != domain.PositionStatusOpen || !now.After(p.LastAccrualAt) {
		return p, nil
	}
	secs := uint64(now.Sub(p.LastAccrualAt) / time.Second)
	if secs == 0 {
		return p, nil
	}
	due, err := InterestDue(p.PrincipalUSD, p.InterestRateBps, secs)
	if err != nil {
		return p, fmt.Errorf("accrue %s: %w", p.ID, err)
	}
	var accrued uint256.Int
	accrued.Add(&p.AccruedInterestUSD, &due)
	debt := new(uint256.Int).Add(&accrued, &p.PrincipalUSD)
	if debt.Gt(domain.MaxU128) {
		return p, fmt.Errorf("accrue %s: %w: debt exceeds u128", p.ID, domain.ErrOverflow)
	}
	p.AccruedInterestUSD = accrued
	p.LastAccrualAt = p.LastAccrualAt.Add(time.Duration(secs) * time.Second)
	return p, nil
}

// PositionHealth returns the position's health ratio at the reading.
func (r RiskEngine) PositionHealth(p domain.Position, price domain.PriceReading) (uint64, error) {
	value, err := CollateralValueUSD(p.CollateralSats, price)
	if err != nil {
		return 0, err
	}
	return HealthRatio(value, p.Debt()), nil
}

// CheckOpen verifies a new loan meets the required collateral ratio.
func (r RiskEngine) CheckOpen(collateralSats uint64, principal uint256.Int, price domain.PriceReading) (uint64, error) {
	value, err := CollateralValueUSD(collateralSats, price)
	if err != nil {
		return 0, err
	}
	ratio := HealthRatio(value, principal)
	if ratio < r.RequiredRatio {
		return ratio, fmt.Errorf("%w: ratio %d < %d", domain.ErrBelowRequiredRatio, ratio, r.RequiredRatio)
	}
	return ratio, nil
}

// CheckWithdrawal fails with ErrInsufficientCollateral when the position is
// under the required ratio.
func (r RiskEngine) CheckWithdrawal(p domain.Position, price domain.PriceReading) error {
	ratio, err := r.PositionHealth(p, price)
	if err != nil {
		return err
	}
	if ratio < r.RequiredRatio {
		return fmt.Errorf("%w: ratio %d < required %d", domain.ErrInsufficientCollateral, ratio, r.RequiredRatio)
	}
	return nil
}

// CheckLiquidatable fails with ErrAboveLiquidationThreshold unless the
// position's health ratio is strictly below the threshold.
func (r RiskEngine) CheckLiquidatable(p domain.Position, price domain.PriceReading) (uint64, error) {
	ratio, err := r.PositionHealth(p, price)
	if err != nil {
		return 0, err
	}
	if ratio >= r.LiquidationThreshold {
		return ratio, fmt.Errorf("%w: ratio %d >= %d", domain.ErrAboveLiquidationThreshold, ratio, r.LiquidationThreshold)
	}
	return ratio, nil
}

// SplitSeizure divides a position's full collateral. The debt, converted to
// sats and rounded up, goes to the treasury first; the surplus is shared per
// Policy with the remainder refunded to the owner.
func (r RiskEngine) SplitSeizure(p domain.Position, price domain.PriceReading) domain.LiquidationResult {
	res := domain.LiquidationResult{PositionID: p.ID, SeizedSats: p.CollateralSats}

	debt := p.Debt()
	res.DebtSats = p.CollateralSats
	num, overflow := new(uint256.Int).MulOverflow(&debt, pow10(price.Decimals))
	if !overflow {
		q, rem := new(uint256.Int), new(uint256.Int)
		q.DivMod(num, &price.Price, rem)
		if !rem.IsZero() {
			q.AddUint64(q, 1)
		}
		if q.IsUint64() && q.Uint64() < p.CollateralSats {
			res.DebtSats = q.Uint64()
		}
	}

	surplus := p.CollateralSats - res.DebtSats
	res.LiquidatorSats = bpsOf(surplus, r.Policy.LiquidatorRewardBps)
	res.ProtocolFeeSats = bpsOf(surplus, r.Policy.ProtocolFeeBps)
	res.OwnerRefundSats = surplus - res.LiquidatorSats - res.ProtocolFeeSats
	return res
}

// bpsOf returns floor(amount * bps / 10000) without overflowing.
func bpsOf(amount uint64, bps uint32) uint64 {
	v, _ := new(uint256.Int).MulDivOverflow(uint256.NewInt(amount), uint256.NewInt(uint64(bps)),
		uint256.NewInt(domain.BpsDenominator))
	return v.Uint64()
}

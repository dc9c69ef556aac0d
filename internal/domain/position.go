package domain

import (
	"time"

	"github.com/holiman/uint256"
)

// PositionStatus tracks the loan lifecycle. Transitions are one-way: an Open
// position ends as either Liquidated or Repaid.
type PositionStatus string

const (
	PositionStatusOpen       PositionStatus = "open"
	PositionStatusLiquidated PositionStatus = "liquidated"
	PositionStatusRepaid     PositionStatus = "repaid"
)

// Terminal reports whether no further transition is possible.
func (s PositionStatus) Terminal() bool {
	return s == PositionStatusLiquidated || s == PositionStatusRepaid
}

// Position is a BTC-collateralized loan. USD fields are USD8 fixed-point.
type Position struct {
	ID                 string
	Owner              Address
	CollateralSats     uint64
	PrincipalUSD       uint256.Int
	InterestRateBps    uint32
	AccruedInterestUSD uint256.Int
	Status             PositionStatus
	OpenedAt           time.Time
	LastAccrualAt      time.Time
	ClosedAt           *time.Time
}

// Debt returns principal plus accrued interest.
func (p Position) Debt() uint256.Int {
	var d uint256.Int
	d.Add(&p.PrincipalUSD, &p.AccruedInterestUSD)
	return d
}

// LiquidationResult describes where the seized collateral of a liquidated
// position went. DebtSats + LiquidatorSats + ProtocolFeeSats + OwnerRefundSats
// always equals SeizedSats.
type LiquidationResult struct {
	PositionID      string
	Liquidator      Address
	HealthRatio     uint64
	SeizedSats      uint64
	DebtSats        uint64
	LiquidatorSats  uint64
	ProtocolFeeSats uint64
	OwnerRefundSats uint64
}

// RepayResult reports how a repayment was applied.
type RepayResult struct {
	Position         Position
	AppliedUSD       uint256.Int
	InterestPaidUSD  uint256.Int
	PrincipalPaidUSD uint256.Int
	ReturnedSats     uint64
}

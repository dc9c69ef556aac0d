package domain

import (
	"fmt"
	"math"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

const (
	// USDDecimals is the fixed-point precision of every USD amount.
	USDDecimals = 8
	// SatsPerBTC is the number of satoshis in one bitcoin.
	SatsPerBTC = 100_000_000
	// BpsDenominator is 100% expressed in basis points.
	BpsDenominator = 10_000
)

// MaxU128 bounds every USD amount held by the ledger.
var MaxU128 = new(uint256.Int).Sub(new(uint256.Int).Lsh(uint256.NewInt(1), 128), uint256.NewInt(1))

// USD returns whole dollars as a USD8 amount.
func USD(dollars uint64) uint256.Int {
	var v uint256.Int
	v.Mul(uint256.NewInt(dollars), uint256.NewInt(100_000_000))
	return v
}

// ParseUSD8 parses a decimal string of USD8 units.
func ParseUSD8(s string) (uint256.Int, error) {
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return uint256.Int{}, fmt.Errorf("%w: usd amount %q: %v", ErrValidation, s, err)
	}
	if v.Gt(MaxU128) {
		return uint256.Int{}, fmt.Errorf("%w: usd amount %q exceeds u128", ErrOverflow, s)
	}
	return *v, nil
}

// ParseUSD parses a dollar amount such as "40000" or "1250.5" into USD8.
// More than eight fractional digits is a validation error, not a rounding.
func ParseUSD(s string) (uint256.Int, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return uint256.Int{}, fmt.Errorf("%w: usd amount %q: %v", ErrValidation, s, err)
	}
	if d.IsNegative() {
		return uint256.Int{}, fmt.Errorf("%w: usd amount %q is negative", ErrValidation, s)
	}
	scaled := d.Shift(USDDecimals)
	if !scaled.Equal(scaled.Truncate(0)) {
		return uint256.Int{}, fmt.Errorf("%w: usd amount %q has more than %d decimals", ErrValidation, s, USDDecimals)
	}
	v, overflow := uint256.FromBig(scaled.BigInt())
	if overflow || v.Gt(MaxU128) {
		return uint256.Int{}, fmt.Errorf("%w: usd amount %q exceeds u128", ErrOverflow, s)
	}
	return *v, nil
}

// FormatUSD renders a USD8 amount in dollars with trailing zeros trimmed.
func FormatUSD(v uint256.Int) string {
	return decimal.NewFromBigInt(v.ToBig(), -USDDecimals).String()
}

// FormatBTC renders satoshis as a BTC amount, e.g. "0.01 BTC".
func FormatBTC(sats uint64) string {
	if sats > math.MaxInt64 {
		return fmt.Sprintf("%d sats", sats)
	}
	btc := decimal.NewFromInt(int64(sats)).Div(decimal.NewFromInt(btcutil.SatoshiPerBitcoin))
	return btc.String() + " " + btcutil.AmountBTC.String()
}

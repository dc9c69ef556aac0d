package domain

import (
	"time"

	"github.com/holiman/uint256"
)

// PriceReading is a single oracle observation: Price scaled by 10^Decimals,
// quoted in USD per whole unit of Asset.
type PriceReading struct {
	Asset     string
	Price     uint256.Int
	Decimals  uint8
	UpdatedAt time.Time
}

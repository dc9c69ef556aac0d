package postgres

import (
	"fmt"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/bitpesa/bitpesa/internal/domain"
)

// Sats, chain selectors and nonces are unsigned 64-bit and USD8 amounts are
// up to 128 bits, so all of them live in NUMERIC columns. They travel as
// decimal strings: bound as $n::text::numeric, selected with ::text.

func u64Param(v uint64) string {
	return strconv.FormatUint(v, 10)
}

func parseU64(col, s string) (uint64, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("postgres: column %s: %w", col, err)
	}
	return v, nil
}

func usdParam(v uint256.Int) string {
	return v.Dec()
}

func parseUSD(col, s string) (uint256.Int, error) {
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return uint256.Int{}, fmt.Errorf("postgres: column %s: %w", col, err)
	}
	if v.Gt(domain.MaxU128) {
		return uint256.Int{}, fmt.Errorf("postgres: column %s: %w", col, domain.ErrOverflow)
	}
	return *v, nil
}

// addrParam stores addresses in EIP-55 checksum form.
func addrParam(a domain.Address) string {
	return a.Hex()
}

func parseAddr(col, s string) (domain.Address, error) {
	if !common.IsHexAddress(s) {
		return domain.ZeroAddress, fmt.Errorf("postgres: column %s: malformed address %q", col, s)
	}
	return common.HexToAddress(s), nil
}

func utc(t time.Time) time.Time {
	return t.UTC()
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

package domain

import (
	"fmt"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
)

// Address identifies every party the engine knows about: owners, executors,
// verifiers, beneficiaries, liquidators, the admin and the treasury.
type Address = common.Address

// ZeroAddress is the unset address.
var ZeroAddress Address

// ParseAddress parses a 0x-prefixed hex address, rejecting malformed input and
// the zero address.
func ParseAddress(s string) (Address, error) {
	if !common.IsHexAddress(s) {
		return ZeroAddress, fmt.Errorf("%w: malformed address %q", ErrValidation, s)
	}
	a := common.HexToAddress(s)
	if a == ZeroAddress {
		return ZeroAddress, fmt.Errorf("%w: zero address", ErrValidation)
	}
	return a, nil
}

// ChainSelector is an opaque identifier for a blockchain network in the
// bridge allow-list.
type ChainSelector uint64

// String renders the selector in decimal.
func (c ChainSelector) String() string {
	return strconv.FormatUint(uint64(c), 10)
}

// ParseChainSelector parses a decimal chain selector.
func ParseChainSelector(s string) (ChainSelector, error) {
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: chain selector %q", ErrValidation, s)
	}
	return ChainSelector(n), nil
}

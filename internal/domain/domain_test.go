package domain

import (
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
)

func TestCode(t *testing.T) {
	require := require.New(t)
	require.Equal("ok", Code(nil))
	require.Equal("stale_price", Code(fmt.Errorf("engine: open: %w", ErrStalePrice)))
	require.Equal("replayed_nonce", Code(fmt.Errorf("relay: %w", fmt.Errorf("engine: receive: %w", ErrReplayedNonce))))
	require.Equal("internal", Code(errors.New("boom")))
}

func TestParseAddress(t *testing.T) {
	require := require.New(t)

	a, err := ParseAddress("0x00000000000000000000000000000000000000a1")
	require.NoError(err)
	require.Equal(byte(0xa1), a[19])

	_, err = ParseAddress("0x0000000000000000000000000000000000000000")
	require.ErrorIs(err, ErrValidation)
	_, err = ParseAddress("a1")
	require.ErrorIs(err, ErrValidation)
}

func TestParseUSD8(t *testing.T) {
	require := require.New(t)

	v, err := ParseUSD8("4000000000000")
	require.NoError(err)
	require.Equal(USD(40_000), v)

	_, err = ParseUSD8("340282366920938463463374607431768211456")
	require.ErrorIs(err, ErrOverflow)
	_, err = ParseUSD8("12.5")
	require.ErrorIs(err, ErrValidation)
}

func TestFormatBTC(t *testing.T) {
	for sats, want := range map[uint64]string{
		0:                 "0 BTC",
		1:                 "0.00000001 BTC",
		1_000_000:         "0.01 BTC",
		150_000_000:       "1.5 BTC",
		2_100_000_000_000: "21000 BTC",
		math.MaxUint64:    "18446744073709551615 sats",
	} {
		require.Equal(t, want, FormatBTC(sats), sats)
	}
}

func TestChainSelector(t *testing.T) {
	sel, err := ParseChainSelector("16015286601757825753")
	require.NoError(t, err)
	require.Equal(t, "16015286601757825753", sel.String())

	_, err = ParseChainSelector("-1")
	require.ErrorIs(t, err, ErrValidation)
}

func TestWillPlanClone(t *testing.T) {
	require := require.New(t)
	v := Address{0xc5}
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	p := WillPlan{
		Beneficiaries: []Beneficiary{{Address: Address{0xb2}, ShareBps: 6000}},
		KYCVerifier:   &v,
		ReleasedAt:    &at,
	}

	c := p.Clone()
	c.Beneficiaries[0].ShareBps = 1
	*c.KYCVerifier = Address{0x01}
	*c.ReleasedAt = at.Add(time.Hour)

	require.Equal(uint32(6000), p.Beneficiaries[0].ShareBps)
	require.Equal(Address{0xc5}, *p.KYCVerifier)
	require.Equal(at, *p.ReleasedAt)
	require.True(p.HasVerifier())
	require.Equal(uint64(6000), p.TotalShareBps())
}

func TestChangesEmpty(t *testing.T) {
	require.True(t, Changes{}.Empty())
	require.False(t, Changes{Chains: map[ChainSelector]bool{2: false}}.Empty())
}

func TestUSDDecimalHelpers(t *testing.T) {
	require := require.New(t)

	v, err := ParseUSD("40000")
	require.NoError(err)
	require.Equal(USD(40_000), v)

	v, err = ParseUSD("0.00000001")
	require.NoError(err)
	require.Equal(uint64(1), v.Uint64())

	_, err = ParseUSD("0.000000001")
	require.ErrorIs(err, ErrValidation)
	_, err = ParseUSD("-5")
	require.ErrorIs(err, ErrValidation)
	_, err = ParseUSD("1e40")
	require.ErrorIs(err, ErrOverflow)

	require.Equal("1250.5", FormatUSD(*uint256.NewInt(125_050_000_000)))
	require.Equal("0", FormatUSD(uint256.Int{}))
	require.Equal("0.01 BTC", FormatBTC(1_000_000))
}

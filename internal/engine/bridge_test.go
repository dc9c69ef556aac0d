package engine

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bitpesa/bitpesa/internal/domain"
)

func TestSendToUnsupportedChain(t *testing.T) {
	require := require.New(t)
	env := newTestEnv(t, nil)
	_, err := env.eng.Deposit(alice, 1_000_000)
	require.NoError(err)
	before := env.eng.Snapshot()

	_, err = env.eng.Send(alice, farChain, 500_000, bob)
	require.ErrorIs(err, domain.ErrUnsupportedChain)
	require.Equal(before, env.eng.Snapshot())
	require.Equal(uint64(1_000_000), env.eng.Balance(alice))
}

func TestSendValidation(t *testing.T) {
	env := newTestEnv(t, nil)
	_, err := env.eng.Deposit(alice, 1_000)
	require.NoError(t, err)

	tests := []struct {
		name   string
		sender domain.Address
		dest   domain.ChainSelector
		amount uint64
		want   error
	}{
		{"zero amount", alice, peerChain, 0, domain.ErrValidation},
		{"home chain", alice, homeChain, 10, domain.ErrValidation},
		{"zero sender", domain.ZeroAddress, peerChain, 10, domain.ErrValidation},
		{"insufficient", alice, peerChain, 1_001, domain.ErrInsufficientCollateral},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.eng.Send(tt.sender, tt.dest, tt.amount, bob)
			require.ErrorIs(t, err, tt.want)
			require.Empty(t, env.eng.Outbox(domain.ZeroAddress))
		})
	}
}

// TestBridgeRoundTrip moves collateral between two chain instances and checks
// that supply is conserved and replays are rejected without a state change.
func TestBridgeRoundTrip(t *testing.T) {
	require := require.New(t)
	src := newTestEnv(t, nil)
	dst := newTestEnv(t, func(c *Config) {
		c.HomeChain = peerChain
		c.SupportedChains = []domain.ChainSelector{homeChain}
	})
	_, err := src.eng.Deposit(alice, 1_000_000)
	require.NoError(err)

	var sent []domain.BridgeMessage
	for i := 0; i < 3; i++ {
		msg, err := src.eng.Send(alice, peerChain, 100_000, domain.ZeroAddress)
		require.NoError(err)
		require.Equal(uint64(i+1), msg.Nonce)
		require.Equal(alice, msg.Recipient)
		require.Equal(domain.BridgeStatusPending, msg.Status)
		sent = append(sent, msg)
	}

	// Delivery order beyond the nonce is not assumed.
	for _, i := range []int{2, 0, 1} {
		got, err := dst.eng.Receive(sent[i])
		require.NoError(err)
		require.Equal(domain.BridgeStatusDelivered, got.Status)
		require.Equal(domain.BridgeInbound, got.Direction)
	}
	require.Equal(uint64(1_000_000), src.eng.TotalSats()+dst.eng.TotalSats())
	require.Equal(uint64(300_000), dst.eng.Balance(alice))

	before := dst.eng.Snapshot()
	_, err = dst.eng.Receive(sent[1])
	require.ErrorIs(err, domain.ErrReplayedNonce)
	require.Equal(before, dst.eng.Snapshot())

	for _, m := range sent {
		_, err := src.eng.Acknowledge(m.Key(), true)
		require.NoError(err)
	}
	out := src.eng.Outbox(alice)
	require.Len(out, 3)
	for _, m := range out {
		require.Equal(domain.BridgeStatusDelivered, m.Status)
	}
}

func TestReceiveValidation(t *testing.T) {
	require := require.New(t)
	env := newTestEnv(t, nil)
	msg := domain.BridgeMessage{SourceChain: peerChain, DestChain: homeChain, Sender: bob, AmountSats: 10, Nonce: 1}

	wrongDest := msg
	wrongDest.DestChain = peerChain
	_, err := env.eng.Receive(wrongDest)
	require.ErrorIs(err, domain.ErrValidation)

	zero := msg
	zero.AmountSats = 0
	_, err = env.eng.Receive(zero)
	require.ErrorIs(err, domain.ErrValidation)

	unknown := msg
	unknown.SourceChain = farChain
	_, err = env.eng.Receive(unknown)
	require.ErrorIs(err, domain.ErrUnsupportedChain)

	require.NoError(env.eng.RemoveChain(admin, peerChain))
	_, err = env.eng.Receive(msg)
	require.ErrorIs(err, domain.ErrUnsupportedChain)
	require.Zero(env.eng.Balance(bob))

	require.NoError(env.eng.AddChain(admin, peerChain))
	got, err := env.eng.Receive(msg)
	require.NoError(err)
	require.Equal(bob, got.Recipient)
	require.Equal(uint64(10), env.eng.Balance(bob))

	stored, err := env.eng.Message(domain.BridgeInbound, msg.Key())
	require.NoError(err)
	require.Equal(got, stored)
}

func TestAcknowledge(t *testing.T) {
	require := require.New(t)
	env := newTestEnv(t, nil)
	_, err := env.eng.Deposit(alice, 100)
	require.NoError(err)
	msg, err := env.eng.Send(alice, peerChain, 40, bob)
	require.NoError(err)

	_, err = env.eng.Acknowledge(domain.MessageKey{SourceChain: homeChain, Sender: alice, Nonce: 9}, true)
	require.ErrorIs(err, domain.ErrNotFound)

	got, err := env.eng.Acknowledge(msg.Key(), false)
	require.NoError(err)
	require.Equal(domain.BridgeStatusRejected, got.Status)
	_, err = env.eng.Acknowledge(msg.Key(), false)
	require.NoError(err)
	_, err = env.eng.Acknowledge(msg.Key(), true)
	require.ErrorIs(err, domain.ErrInvalidTransition)

	// Rejection does not refund.
	require.Equal(uint64(60), env.eng.Balance(alice))
}

func TestChainRegistry(t *testing.T) {
	require := require.New(t)
	env := newTestEnv(t, nil)

	require.ErrorIs(env.eng.AddChain(alice, farChain), domain.ErrUnauthorized)
	require.ErrorIs(env.eng.AddChain(admin, homeChain), domain.ErrValidation)
	require.NoError(env.eng.AddChain(admin, farChain))
	require.Equal([]domain.ChainSelector{peerChain, farChain}, env.eng.SupportedChains())
	require.True(env.eng.IsSupported(farChain))

	require.ErrorIs(env.eng.RemoveChain(bob, farChain), domain.ErrUnauthorized)
	require.NoError(env.eng.RemoveChain(admin, farChain))
	require.False(env.eng.IsSupported(farChain))
}

package relay

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	cachememory "github.com/bitpesa/bitpesa/internal/cache/memory"
	"github.com/bitpesa/bitpesa/internal/crypto"
	"github.com/bitpesa/bitpesa/internal/domain"
	"github.com/bitpesa/bitpesa/internal/engine"
	"github.com/bitpesa/bitpesa/internal/engine/enginetest"
	"github.com/bitpesa/bitpesa/internal/service"
	"github.com/bitpesa/bitpesa/internal/store/memory"
)

const (
	homeKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
	peerKey = "b71c71a67e1177ad4e901695e1b4b9ee17ae16c6668d313eac2f96dbcda3f291"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type side struct {
	env    *enginetest.Env
	store  *memory.Store
	vault  *service.VaultService
	bridge *service.BridgeService
	pub    *Publisher
	signer *crypto.Signer
}

func newSide(t *testing.T, bus domain.SignalBus, key string, mutate func(*engine.Config)) *side {
	t.Helper()
	signer, err := crypto.NewSigner(key)
	require.NoError(t, err)
	env := enginetest.New(t, mutate)
	st := memory.New()
	deps := service.Deps{Engine: env.Engine, State: st, Audit: st.Audit(), Bus: bus, Logger: discardLogger()}
	pub := NewPublisher(bus, signer, 50*time.Millisecond, nil, discardLogger())
	vault, err := service.NewVaultService(deps)
	require.NoError(t, err)
	bridge, err := service.NewBridgeService(deps, pub)
	require.NoError(t, err)
	return &side{env: env, store: st, vault: vault, bridge: bridge, pub: pub, signer: signer}
}

func peerConfig(c *engine.Config) {
	c.HomeChain = enginetest.PeerChain
	c.SupportedChains = []domain.ChainSelector{enginetest.HomeChain}
}

func (s *side) run(t *testing.T, bus domain.SignalBus, trusted *crypto.Signer) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	r := New(Config{ResendInterval: 20 * time.Millisecond}, bus, s.bridge, s.pub, s.signer,
		crypto.NewVerifier(trusted.Address()), nil, discardLogger())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})
}

// TestRoundTripDelivers sends collateral from the home chain to the peer and
// waits for the peer's ack to settle the outbound message.
func TestRoundTripDelivers(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	bus := cachememory.NewBus()
	home := newSide(t, bus, homeKey, nil)
	peer := newSide(t, bus, peerKey, peerConfig)
	home.run(t, bus, peer.signer)
	peer.run(t, bus, home.signer)

	_, err := home.vault.Deposit(ctx, enginetest.Alice, 1_000_000)
	require.NoError(err)
	msg, err := home.bridge.Send(ctx, enginetest.Alice, enginetest.PeerChain, 400_000, enginetest.Bob)
	require.NoError(err)

	require.Eventually(func() bool {
		m, err := home.bridge.Message(domain.BridgeOutbound, msg.Key())
		return err == nil && m.Status == domain.BridgeStatusDelivered
	}, 3*time.Second, 10*time.Millisecond)

	require.Equal(uint64(400_000), peer.env.Engine.Balance(enginetest.Bob))
	require.Equal(uint64(600_000), home.env.Engine.Balance(enginetest.Alice))
	require.Equal(uint64(1_000_000), home.env.Engine.TotalSats()+peer.env.Engine.TotalSats())

	stored, err := peer.store.Bridge().Get(ctx, domain.BridgeInbound, msg.Key())
	require.NoError(err)
	require.Equal(domain.BridgeStatusDelivered, stored.Status)
}

func TestUntrustedRelayerIsIgnored(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	bus := cachememory.NewBus()
	home := newSide(t, bus, homeKey, nil)
	peer := newSide(t, bus, peerKey, peerConfig)
	// The peer trusts only itself, so home's envelopes fail verification.
	peer.run(t, bus, peer.signer)

	_, err := home.vault.Deposit(ctx, enginetest.Alice, 1_000)
	require.NoError(err)
	_, err = home.bridge.Send(ctx, enginetest.Alice, enginetest.PeerChain, 1_000, enginetest.Bob)
	require.NoError(err)

	require.Never(func() bool {
		return peer.env.Engine.Balance(enginetest.Bob) > 0
	}, 300*time.Millisecond, 20*time.Millisecond)
	require.Len(home.bridge.Pending(), 1)
}

func TestRemovedSourceIsRejected(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	bus := cachememory.NewBus()
	home := newSide(t, bus, homeKey, nil)
	peer := newSide(t, bus, peerKey, func(c *engine.Config) {
		peerConfig(c)
		c.SupportedChains = nil
	})
	home.run(t, bus, peer.signer)
	peer.run(t, bus, home.signer)

	_, err := home.vault.Deposit(ctx, enginetest.Alice, 5_000)
	require.NoError(err)
	msg, err := home.bridge.Send(ctx, enginetest.Alice, enginetest.PeerChain, 5_000, enginetest.Bob)
	require.NoError(err)

	require.Eventually(func() bool {
		m, err := home.bridge.Message(domain.BridgeOutbound, msg.Key())
		return err == nil && m.Status == domain.BridgeStatusRejected
	}, 3*time.Second, 10*time.Millisecond)
	require.Zero(peer.env.Engine.Balance(enginetest.Bob))
}

func TestReplayedEnvelopeCreditsOnce(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	bus := cachememory.NewBus()
	peer := newSide(t, bus, peerKey, peerConfig)
	homeSigner, err := crypto.NewSigner(homeKey)
	require.NoError(err)

	acks, err := bus.Subscribe(ctx, AckChannel(enginetest.HomeChain))
	require.NoError(err)

	msg := domain.BridgeMessage{
		SourceChain: enginetest.HomeChain,
		DestChain:   enginetest.PeerChain,
		Sender:      enginetest.Alice,
		Recipient:   enginetest.Bob,
		AmountSats:  7_000,
		Nonce:       1,
	}
	sig, err := homeSigner.SignMessage(msg)
	require.NoError(err)
	payload, err := json.Marshal(newEnvelope(msg, sig))
	require.NoError(err)

	c := NewConsumer(bus, peer.bridge, crypto.NewVerifier(homeSigner.Address()), peer.signer, nil, discardLogger())
	c.handle(ctx, payload)
	c.handle(ctx, payload)
	require.Equal(uint64(7_000), peer.env.Engine.Balance(enginetest.Bob))

	for i := 0; i < 2; i++ {
		select {
		case raw := <-acks:
			dest, key, delivered, ackSig, err := decodeAck(raw)
			require.NoError(err)
			require.Equal(enginetest.PeerChain, dest)
			require.Equal(msg.Key(), key)
			require.True(delivered, "a replay repeats the first verdict")
			_, err = crypto.NewVerifier(peer.signer.Address()).Verify(crypto.AckDigest(dest, key, delivered), ackSig)
			require.NoError(err)
		case <-time.After(time.Second):
			t.Fatal("missing ack")
		}
	}
}

func TestEnvelopeDecodeErrors(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    error
	}{
		{"not json", `nope`, domain.ErrValidation},
		{"bad chain", `{"source_chain":"-1"}`, domain.ErrValidation},
		{"bad sender", `{"source_chain":"1","dest_chain":"2","sender":"alice"}`, domain.ErrValidation},
		{"bad signature", `{"source_chain":"1","dest_chain":"2",
			"sender":"0x00000000000000000000000000000000000000a1",
			"recipient":"0x00000000000000000000000000000000000000b2",
			"amount_sats":"1","nonce":"1","signature":"zz"}`, domain.ErrBadSignature},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := decodeEnvelope([]byte(tt.payload))
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestResendSkipsRecentDispatches(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	bus := cachememory.NewBus()
	signer, err := crypto.NewSigner(homeKey)
	require.NoError(err)
	pub := NewPublisher(bus, signer, time.Minute, nil, discardLogger())
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	pub.recent.now = func() time.Time { return now }

	msg := domain.BridgeMessage{
		SourceChain: enginetest.HomeChain, DestChain: enginetest.PeerChain,
		Sender: enginetest.Alice, Recipient: enginetest.Bob, AmountSats: 1, Nonce: 1,
	}
	require.NoError(pub.Dispatch(ctx, msg))
	require.Zero(pub.Resend(ctx, []domain.BridgeMessage{msg}))

	now = now.Add(time.Minute)
	require.Equal(1, pub.Resend(ctx, []domain.BridgeMessage{msg}))

	entries, err := bus.StreamRead(ctx, OutboxStream(enginetest.PeerChain), "0", 10)
	require.NoError(err)
	require.Len(entries, 2)

	pub.settled(msg.Key())
	require.True(pub.recent.due(msg.Key().String()))
}

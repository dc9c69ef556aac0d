package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bitpesa/bitpesa/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recordingSender struct {
	mu   sync.Mutex
	name string
	err  error
	got  []Message
}

func (s *recordingSender) Send(_ context.Context, msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, msg)
	return s.err
}

func (s *recordingSender) Name() string { return s.name }

func (s *recordingSender) messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.got...)
}

func liquidationEvent() domain.Event {
	return domain.Event{
		Type:    domain.EventLiquidated,
		Subject: "pos-1",
		Detail: map[string]any{
			"position_id":     "pos-1",
			"owner":           "0x00000000000000000000000000000000000000A1",
			"health_ratio":    uint64(112),
			"seized_sats":     uint64(1_000_000),
			"debt_sats":       uint64(888_889),
			"liquidator_sats": uint64(5_555),
			"refund_sats":     uint64(104_445),
		},
	}
}

func TestNotifierFiltersEvents(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	s := &recordingSender{name: "rec"}
	n := NewNotifier([]Sender{s}, []string{"liquidated", " will_released "}, discardLogger())

	require.NoError(n.NotifyEvent(ctx, liquidationEvent()))
	require.NoError(n.NotifyEvent(ctx, domain.Event{Type: domain.EventWillRevoked}))
	require.NoError(n.NotifyEvent(ctx, domain.Event{Type: domain.EventDeposited}))

	got := s.messages()
	require.Len(got, 1)
	require.Equal("Position liquidated", got[0].Title)
	require.Equal(SeverityCritical, got[0].Severity)
	require.Contains(got[0].Body, "Seized: 0.01 BTC")
	require.Contains(got[0].Body, "Health ratio: 112%")
}

func TestNotifierWithoutFilterSkipsUnrenderedEvents(t *testing.T) {
	s := &recordingSender{name: "rec"}
	n := NewNotifier([]Sender{s}, nil, discardLogger())
	require.NoError(t, n.NotifyEvent(context.Background(), domain.Event{Type: domain.EventDeposited}))
	require.Empty(t, s.messages())
}

func TestNotifierKeepsGoingAfterSenderFailure(t *testing.T) {
	require := require.New(t)
	bad := &recordingSender{name: "bad", err: errors.New("down")}
	good := &recordingSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, discardLogger())

	err := n.NotifyAll(context.Background(), Message{Title: "t"})
	require.ErrorContains(err, "bad: down")
	require.Len(good.messages(), 1)
	require.True(n.Enabled())
	require.False(NewNotifier(nil, nil, discardLogger()).Enabled())
}

func TestRenderAfterJSONRoundTrip(t *testing.T) {
	require := require.New(t)
	payload, err := json.Marshal(domain.Event{
		Type:    domain.EventBridgeRejected,
		Subject: "1:0xA1:3",
		Detail:  map[string]any{"dest_chain": "2", "amount_sats": uint64(18_446_744_073_709_551_615)},
	})
	require.NoError(err)

	evt, err := DecodeEvent(payload)
	require.NoError(err)
	msg, ok := Render(evt)
	require.True(ok)
	require.Contains(msg.Body, "Destination chain: 2")
	require.Contains(msg.Body, "18446744073709551615 sats")

	_, err = DecodeEvent([]byte(`{"subject":"x"}`))
	require.Error(err)
}

func TestTelegramSender(t *testing.T) {
	require := require.New(t)
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal("/botTOKEN/sendMessage", r.URL.Path)
		require.NoError(json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewTelegramSender("TOKEN", "42")
	s.apiBase = srv.URL
	require.NoError(s.Send(context.Background(), Message{Title: "Hi", Body: "there", Severity: SeverityWarning}))
	require.Equal("42", got["chat_id"])
	require.Equal("[warning] *Hi*\nthere", got["text"])
}

func TestDiscordSender(t *testing.T) {
	require := require.New(t)
	var got struct {
		Embeds []struct {
			Title       string `json:"title"`
			Description string `json:"description"`
			Color       int    `json:"color"`
		} `json:"embeds"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	require.NoError(NewDiscordSender(srv.URL).Send(context.Background(), Message{Title: "T", Body: "B", Severity: SeverityCritical}))
	require.Len(got.Embeds, 1)
	require.Equal("T", got.Embeds[0].Title)
	require.Equal(0xe74c3c, got.Embeds[0].Color)

	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer failing.Close()
	err := NewDiscordSender(failing.URL).Send(context.Background(), Message{Title: "T"})
	require.ErrorContains(err, "unexpected status 429")
}

type chanBus struct {
	subs map[string]chan []byte
}

func (b *chanBus) Publish(context.Context, string, []byte) error { return nil }

func (b *chanBus) Subscribe(_ context.Context, channel string) (<-chan []byte, error) {
	return b.subs[channel], nil
}

func (b *chanBus) StreamAppend(context.Context, string, []byte) error { return nil }

func (b *chanBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

func TestListenForwardsBusEvents(t *testing.T) {
	s := &recordingSender{name: "rec"}
	n := NewNotifier([]Sender{s}, nil, discardLogger())
	bus := &chanBus{subs: map[string]chan []byte{
		domain.ChannelLoans: make(chan []byte, 2),
		domain.ChannelWills: make(chan []byte, 2),
	}}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- n.Listen(ctx, bus, domain.ChannelLoans, domain.ChannelWills) }()

	payload, err := json.Marshal(liquidationEvent())
	require.NoError(t, err)
	bus.subs[domain.ChannelLoans] <- []byte("not json")
	bus.subs[domain.ChannelLoans] <- payload
	bus.subs[domain.ChannelWills] <- []byte(`{"type":"will_revoked","detail":{"owner":"0xA1"}}`)

	require.Eventually(t, func() bool { return len(s.messages()) == 2 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}

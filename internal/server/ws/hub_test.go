package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	cachememory "github.com/bitpesa/bitpesa/internal/cache/memory"
	"github.com/bitpesa/bitpesa/internal/domain"
)

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// frames reads text frames in the background until the connection closes.
func frames(conn *websocket.Conn) <-chan Frame {
	out := make(chan Frame, 16)
	go func() {
		defer close(out)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var f Frame
			if json.Unmarshal(data, &f) == nil {
				out <- f
			}
		}
	}()
	return out
}

func TestHubStreamsBusEvents(t *testing.T) {
	require := require.New(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := cachememory.NewBus()
	hub := NewHub(bus, Config{Mode: "api", HomeChain: 1}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	go hub.Run(ctx)

	srv := httptest.NewServer(httptestMux(hub))
	defer srv.Close()
	in := frames(dial(t, srv))

	status := <-in
	require.Equal("status", status.Type)
	require.Contains(string(status.Payload), `"home_chain":"1"`)

	evt, err := json.Marshal(domain.Event{Type: domain.EventLiquidated, Subject: "pos-1"})
	require.NoError(err)

	// The hub's bus subscriptions start asynchronously, so publish until one
	// lands.
	tick := time.NewTicker(20 * time.Millisecond)
	defer tick.Stop()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case f, ok := <-in:
			require.True(ok, "connection closed")
			require.Equal("event", f.Type)
			require.Equal(domain.ChannelLoans, f.Channel)
			require.JSONEq(string(evt), string(f.Payload))
			return
		case <-tick.C:
			require.NoError(bus.Publish(ctx, domain.ChannelLoans, evt))
		case <-timeout:
			t.Fatal("event never arrived")
		}
	}
}

func TestClientSubscriptions(t *testing.T) {
	require := require.New(t)
	c := &client{subs: map[string]bool{"*": true}}
	require.True(c.subscribed(domain.ChannelVault))

	c.apply(subscribeMsg{Action: "subscribe", Channels: []string{"bri*", domain.ChannelWills}})
	require.False(c.subscribed(domain.ChannelVault))
	require.True(c.subscribed(domain.ChannelBridge))
	require.True(c.subscribed(domain.ChannelWills))

	c.apply(subscribeMsg{Action: "unsubscribe", Channels: []string{domain.ChannelWills}})
	require.False(c.subscribed(domain.ChannelWills))
}

func httptestMux(h *Hub) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", h.HandleWS)
	return mux
}

package memory

import (
	"context"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/bitpesa/bitpesa/internal/domain"
)

func TestBusPubSub(t *testing.T) {
	require := require.New(t)
	ctx, cancel := context.WithCancel(context.Background())
	b := NewBus()

	exact, err := b.Subscribe(ctx, "bridge:ack:1")
	require.NoError(err)
	pattern, err := b.Subscribe(ctx, "bridge:ack:*")
	require.NoError(err)

	require.NoError(b.Publish(ctx, "bridge:ack:1", []byte("a")))
	require.NoError(b.Publish(ctx, "bridge:ack:2", []byte("b")))

	require.Equal([]byte("a"), <-exact)
	require.Equal([]byte("a"), <-pattern)
	require.Equal([]byte("b"), <-pattern)

	cancel()
	_, open := <-exact
	require.False(open)
}

func TestBusStreams(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	b := NewBus()

	msgs, err := b.StreamRead(ctx, "bridge:outbox:2", "0", 10)
	require.NoError(err)
	require.Empty(msgs)

	for _, p := range []string{"one", "two", "three"} {
		require.NoError(b.StreamAppend(ctx, "bridge:outbox:2", []byte(p)))
	}
	msgs, err = b.StreamRead(ctx, "bridge:outbox:2", "0", 2)
	require.NoError(err)
	require.Len(msgs, 2)
	require.Equal("1-0", msgs[0].ID)
	require.Equal([]byte("two"), msgs[1].Payload)

	msgs, err = b.StreamRead(ctx, "bridge:outbox:2", msgs[1].ID, 10)
	require.NoError(err)
	require.Len(msgs, 1)
	require.Equal([]byte("three"), msgs[0].Payload)

	_, err = b.StreamRead(ctx, "bridge:outbox:2", "x-0", 10)
	require.Error(err)
}

func TestBusStreamReadWakesOnAppend(t *testing.T) {
	ctx := context.Background()
	b := NewBus()
	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = b.StreamAppend(ctx, "s", []byte("late"))
	}()
	msgs, err := b.StreamRead(ctx, "s", "0", 1)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
}

func TestLocks(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l := NewLocks()
	l.now = func() time.Time { return now }

	unlock, err := l.Acquire(ctx, "position:1", time.Second)
	require.NoError(err)
	_, err = l.Acquire(ctx, "position:1", time.Second)
	require.ErrorIs(err, domain.ErrLockHeld)

	unlock()
	unlock2, err := l.Acquire(ctx, "position:1", time.Second)
	require.NoError(err)

	// An expired lease can be taken over, and the stale unlock is a no-op.
	now = now.Add(2 * time.Second)
	_, err = l.Acquire(ctx, "position:1", time.Second)
	require.NoError(err)
	unlock2()
	_, err = l.Acquire(ctx, "position:1", time.Second)
	require.ErrorIs(err, domain.ErrLockHeld)
}

func TestLeaseRenewsUntilReleased(t *testing.T) {
	require := require.New(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	l := NewLocks()

	lost, release, err := l.Lease(ctx, "writer:1", 30*time.Millisecond)
	require.NoError(err)

	// Well past the first ttl the lease is still held because it is renewed.
	time.Sleep(100 * time.Millisecond)
	_, _, err = l.Lease(ctx, "writer:1", 30*time.Millisecond)
	require.ErrorIs(err, domain.ErrLockHeld)
	_, err = l.Acquire(ctx, "writer:1", time.Second)
	require.ErrorIs(err, domain.ErrLockHeld)

	release()
	release()
	select {
	case <-lost:
	case <-time.After(time.Second):
		t.Fatal("lost did not close after release")
	}
	_, release2, err := l.Lease(ctx, "writer:1", 30*time.Millisecond)
	require.NoError(err)
	defer release2()
}

func TestLeaseLostWhenTakenOver(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	l := NewLocks()

	lost, release, err := l.Lease(ctx, "writer:1", 30*time.Millisecond)
	require.NoError(t, err)
	defer release()

	// Another holder replaces the entry, as after a missed renewal.
	l.mu.Lock()
	l.token++
	l.held["writer:1"] = lease{token: l.token, expires: time.Now().Add(time.Minute)}
	l.mu.Unlock()

	select {
	case <-lost:
	case <-time.After(time.Second):
		t.Fatal("lease loss not reported")
	}
}

func TestLeaseEndsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	l := NewLocks()
	lost, _, err := l.Lease(ctx, "writer:1", time.Second)
	require.NoError(t, err)
	cancel()
	<-lost
	_, err = l.Acquire(context.Background(), "writer:1", time.Second)
	require.NoError(t, err)
}

func TestRateLimiter(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r := NewRateLimiter()
	r.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		ok, err := r.Allow(ctx, "ip", 3, time.Minute)
		require.NoError(err)
		require.True(ok)
	}
	ok, err := r.Allow(ctx, "ip", 3, time.Minute)
	require.NoError(err)
	require.False(ok)

	now = now.Add(61 * time.Second)
	ok, err = r.Allow(ctx, "ip", 3, time.Minute)
	require.NoError(err)
	require.True(ok)
}

func TestPriceCache(t *testing.T) {
	ctx := context.Background()
	c := NewPriceCache()
	_, err := c.GetPrice(ctx, "BTC")
	require.ErrorIs(t, err, domain.ErrNotFound)

	want := domain.PriceReading{Asset: "BTC", Price: *uint256.NewInt(1), Decimals: 8}
	require.NoError(t, c.SetPrice(ctx, want))
	got, err := c.GetPrice(ctx, "BTC")
	require.NoError(t, err)
	require.Equal(t, want, got)
}

// Package memory implements the cache-layer interfaces (signal bus, locks,
// price cache, rate limiter) inside one process. It is the single-node
// stand-in for Redis and the test double for packages that talk to it.
package memory

import (
	"context"
	"fmt"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bitpesa/bitpesa/internal/domain"
)

// streamBlock bounds how long StreamRead waits for new entries, matching the
// Redis implementation's blocking read.
const streamBlock = 200 * time.Millisecond

type subscriber struct {
	pattern string
	ch      chan []byte
}

// Bus implements domain.SignalBus. Pub/sub is fire-and-forget: a subscriber
// whose buffer is full misses the message, like a slow Redis client would.
type Bus struct {
	mu      sync.Mutex
	subs    map[int]subscriber
	nextSub int
	streams map[string][]domain.StreamMessage
	wake    chan struct{}
}

// NewBus returns an empty Bus.
func NewBus() *Bus {
	return &Bus{
		subs:    make(map[int]subscriber),
		streams: make(map[string][]domain.StreamMessage),
		wake:    make(chan struct{}),
	}
}

// Publish delivers payload to every matching subscriber.
func (b *Bus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.subs {
		if ok, _ := path.Match(s.pattern, channel); !ok {
			continue
		}
		select {
		case s.ch <- append([]byte(nil), payload...):
		default:
		}
	}
	return nil
}

// Subscribe registers for a channel or glob pattern. The returned channel
// closes when ctx is cancelled.
func (b *Bus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	if _, err := path.Match(channel, ""); err != nil {
		return nil, fmt.Errorf("memory: subscribe %s: %w", channel, err)
	}
	b.mu.Lock()
	id := b.nextSub
	b.nextSub++
	ch := make(chan []byte, 128)
	b.subs[id] = subscriber{pattern: channel, ch: ch}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, id)
		close(ch)
		b.mu.Unlock()
	}()
	return ch, nil
}

// StreamAppend appends payload with a monotonically increasing "<seq>-0" id.
func (b *Bus) StreamAppend(_ context.Context, stream string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	entries := b.streams[stream]
	id := fmt.Sprintf("%d-0", len(entries)+1)
	b.streams[stream] = append(entries, domain.StreamMessage{ID: id, Payload: append([]byte(nil), payload...)})
	close(b.wake)
	b.wake = make(chan struct{})
	return nil
}

// StreamRead returns up to count entries after lastID ("0" or "" reads from
// the start), waiting briefly for new entries when there are none.
func (b *Bus) StreamRead(ctx context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error) {
	after, err := streamSeq(lastID)
	if err != nil {
		return nil, fmt.Errorf("memory: stream read %s: %w", stream, err)
	}
	timer := time.NewTimer(streamBlock)
	defer timer.Stop()
	for {
		b.mu.Lock()
		entries := b.streams[stream]
		wake := b.wake
		var out []domain.StreamMessage
		if after < len(entries) {
			out = append(out, entries[after:]...)
		}
		b.mu.Unlock()

		if len(out) > 0 {
			if count > 0 && len(out) > count {
				out = out[:count]
			}
			return out, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			return nil, nil
		case <-wake:
		}
	}
}

func streamSeq(id string) (int, error) {
	if id == "" || id == "0" {
		return 0, nil
	}
	seq, _, _ := strings.Cut(id, "-")
	n, err := strconv.Atoi(seq)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("bad stream id %q", id)
	}
	return n, nil
}

// Locks implements domain.LockManager with expiring in-process entries.
type Locks struct {
	mu    sync.Mutex
	held  map[string]lease
	token uint64
	now   func() time.Time
}

type lease struct {
	token   uint64
	expires time.Time
}

// NewLocks returns an empty lock table.
func NewLocks() *Locks {
	return &Locks{held: make(map[string]lease), now: time.Now}
}

// Acquire takes key for ttl or fails with domain.ErrLockHeld.
func (l *Locks) Acquire(_ context.Context, key string, ttl time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if cur, ok := l.held[key]; ok && now.Before(cur.expires) {
		return nil, fmt.Errorf("memory: lock %s: %w", key, domain.ErrLockHeld)
	}
	l.token++
	tok := l.token
	l.held[key] = lease{token: tok, expires: now.Add(ttl)}

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			if cur, ok := l.held[key]; ok && cur.token == tok {
				delete(l.held, key)
			}
		})
	}, nil
}

// Lease takes key for ttl and renews it every ttl/3 until ctx ends or
// release is called.
func (l *Locks) Lease(ctx context.Context, key string, ttl time.Duration) (<-chan struct{}, func(), error) {
	l.mu.Lock()
	now := l.now()
	if cur, ok := l.held[key]; ok && now.Before(cur.expires) {
		l.mu.Unlock()
		return nil, nil, fmt.Errorf("memory: lease %s: %w", key, domain.ErrLockHeld)
	}
	l.token++
	tok := l.token
	l.held[key] = lease{token: tok, expires: now.Add(ttl)}
	l.mu.Unlock()

	lost := make(chan struct{})
	stop := make(chan struct{})
	var once sync.Once
	release := func() { once.Do(func() { close(stop) }) }

	// renew extends the lease if it is still ours.
	renew := func() bool {
		l.mu.Lock()
		defer l.mu.Unlock()
		cur, ok := l.held[key]
		if !ok || cur.token != tok {
			return false
		}
		l.held[key] = lease{token: tok, expires: l.now().Add(ttl)}
		return true
	}

	go func() {
		defer close(lost)
		ticker := time.NewTicker(ttl / 3)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
			case <-stop:
			case <-ticker.C:
				if renew() {
					continue
				}
				return
			}
			l.mu.Lock()
			if cur, ok := l.held[key]; ok && cur.token == tok {
				delete(l.held, key)
			}
			l.mu.Unlock()
			return
		}
	}()
	return lost, release, nil
}

// PriceCache implements domain.PriceCache.
type PriceCache struct {
	mu       sync.RWMutex
	readings map[string]domain.PriceReading
}

// NewPriceCache returns an empty cache.
func NewPriceCache() *PriceCache {
	return &PriceCache{readings: make(map[string]domain.PriceReading)}
}

func (c *PriceCache) SetPrice(_ context.Context, r domain.PriceReading) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.readings[r.Asset] = r
	return nil
}

func (c *PriceCache) GetPrice(_ context.Context, asset string) (domain.PriceReading, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.readings[asset]
	if !ok {
		return domain.PriceReading{}, fmt.Errorf("memory: price %s: %w", asset, domain.ErrNotFound)
	}
	return r, nil
}

// RateLimiter implements domain.RateLimiter with a per-key sliding window.
type RateLimiter struct {
	mu   sync.Mutex
	hits map[string][]time.Time
	now  func() time.Time
}

// NewRateLimiter returns an empty limiter.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{hits: make(map[string][]time.Time), now: time.Now}
}

func (r *RateLimiter) Allow(_ context.Context, key string, limit int, window time.Duration) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	cutoff := now.Add(-window)
	kept := r.hits[key][:0]
	for _, t := range r.hits[key] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	if len(kept) >= limit {
		r.hits[key] = kept
		return false, nil
	}
	r.hits[key] = append(kept, now)
	return true, nil
}

var (
	_ domain.SignalBus   = (*Bus)(nil)
	_ domain.LockManager = (*Locks)(nil)
	_ domain.PriceCache  = (*PriceCache)(nil)
	_ domain.RateLimiter = (*RateLimiter)(nil)
)

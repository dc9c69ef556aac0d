package relay

import (
	"sync"
	"time"
)

// recent remembers message keys dispatched within a ttl so the resend sweep
// does not flood the destination stream while an ack is in flight. It is safe
// for concurrent use.
type recent struct {
	mu   sync.Mutex
	seen map[string]time.Time
	ttl  time.Duration
	now  func() time.Time
}

func newRecent(ttl time.Duration) *recent {
	return &recent{seen: make(map[string]time.Time), ttl: ttl, now: time.Now}
}

// mark records key as dispatched now.
func (r *recent) mark(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen[key] = r.now()
}

// due reports whether key was not dispatched within the ttl.
func (r *recent) due(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	last, ok := r.seen[key]
	return !ok || r.now().Sub(last) >= r.ttl
}

// forget drops key once the message is settled.
func (r *recent) forget(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.seen, key)
}

// cleanup removes expired entries.
func (r *recent) cleanup() {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	for k, ts := range r.seen {
		if now.Sub(ts) >= r.ttl {
			delete(r.seen, k)
		}
	}
}

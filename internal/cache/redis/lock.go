package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/bitpesa/bitpesa/internal/domain"
)

// unlockLua deletes a lock key only if it still holds the caller's token, so
// an expired holder cannot release a lock someone else has since taken.
const unlockLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// extendLua refreshes a lock's TTL only while it still holds the caller's token.
const extendLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`

// LockManager implements domain.LockManager with SET NX PX and a token-checked
// Lua unlock. Keys are entity keys such as "position:<id>" or "vault:<owner>".
type LockManager struct {
	rdb      *redis.Client
	unlockSc *redis.Script
	extendSc *redis.Script
}

// NewLockManager creates a LockManager backed by the given Client.
func NewLockManager(c *Client) *LockManager {
	return &LockManager{
		rdb:      c.Underlying(),
		unlockSc: redis.NewScript(unlockLua),
		extendSc: redis.NewScript(extendLua),
	}
}

func lockKey(key string) string {
	return "lock:" + key
}

// Acquire takes the lock for key with the given TTL. It returns
// domain.ErrLockHeld when another holder has it. The returned unlock func is
// idempotent and runs on a fresh context.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	unlock, _, err := lm.take(ctx, key, ttl)
	return unlock, err
}

func (lm *LockManager) take(ctx context.Context, key string, ttl time.Duration) (func(), string, error) {
	token := uuid.NewString()
	lk := lockKey(key)

	ok, err := lm.rdb.SetNX(ctx, lk, token, ttl).Result()
	if err != nil {
		return nil, "", fmt.Errorf("redis: acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, "", fmt.Errorf("redis: lock %s: %w", key, domain.ErrLockHeld)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = lm.unlockSc.Run(unlockCtx, lm.rdb, []string{lk}, token).Err()
		})
	}, token, nil
}

// Lease takes key and extends it every ttl/3 while the token still matches.
// lost closes when the lease is released, ctx ends, or an extension finds the
// key gone or owned by someone else. A Redis error during extension also
// counts as lost.
func (lm *LockManager) Lease(ctx context.Context, key string, ttl time.Duration) (<-chan struct{}, func(), error) {
	unlock, token, err := lm.take(ctx, key, ttl)
	if err != nil {
		return nil, nil, err
	}
	lk := lockKey(key)
	lost := make(chan struct{})
	stop := make(chan struct{})
	var once sync.Once
	release := func() { once.Do(func() { close(stop) }) }

	go func() {
		defer close(lost)
		defer unlock()
		ticker := time.NewTicker(ttl / 3)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case <-ticker.C:
				n, err := lm.extendSc.Run(ctx, lm.rdb, []string{lk}, token, ttl.Milliseconds()).Int()
				if err != nil || n == 0 {
					return
				}
			}
		}
	}()
	return lost, release, nil
}

// Compile-time interface check.
var _ domain.LockManager = (*LockManager)(nil)

// Package service runs engine operations on behalf of the API, the keeper
// and the relay. Every mutation takes the entity locks, applies the engine
// call, persists the touched entities in one write, appends to the audit log
// and publishes an event on the signal bus.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/bitpesa/bitpesa/internal/domain"
	"github.com/bitpesa/bitpesa/internal/engine"
	"github.com/bitpesa/bitpesa/internal/metrics"
)

const defaultLockTTL = 10 * time.Second

// Deps are shared by every service. Locks, Bus and Metrics are optional.
type Deps struct {
	Engine  *engine.Engine
	State   domain.StateWriter
	Audit   domain.AuditStore
	Locks   domain.LockManager
	Bus     domain.SignalBus
	Metrics *metrics.Metrics
	Logger  *slog.Logger
	LockTTL time.Duration
}

func (d Deps) validate() error {
	switch {
	case d.Engine == nil:
		return errors.New("service: engine is required")
	case d.State == nil:
		return errors.New("service: state writer is required")
	case d.Audit == nil:
		return errors.New("service: audit store is required")
	case d.Logger == nil:
		return errors.New("service: logger is required")
	}
	return nil
}

// outcome is what a successful engine call hands back for the commit phase.
type outcome struct {
	changes domain.Changes
	channel string
	event   domain.Event
}

type core struct {
	Deps
	logger *slog.Logger
}

func newCore(d Deps, component string) (core, error) {
	if err := d.validate(); err != nil {
		return core{}, err
	}
	if d.LockTTL <= 0 {
		d.LockTTL = defaultLockTTL
	}
	return core{Deps: d, logger: d.Logger.With(slog.String("component", component))}, nil
}

// apply runs fn under the given entity locks and commits its outcome. The
// engine is authoritative: a persistence failure is reported to the caller
// and logged, but the in-memory change stands and the next write of the same
// entity carries it.
func (c *core) apply(ctx context.Context, op string, lockKeys []string, fn func() (outcome, error)) error {
	unlock, err := c.lock(ctx, lockKeys)
	if err != nil {
		c.Metrics.ObserveOp(op, err)
		return fmt.Errorf("service: %s: %w", op, err)
	}
	defer unlock()

	out, err := fn()
	c.Metrics.ObserveOp(op, err)
	if err != nil {
		c.logger.DebugContext(ctx, "operation rejected",
			slog.String("op", op),
			slog.String("code", domain.Code(err)),
			slog.String("error", err.Error()),
		)
		return err
	}

	if err := c.State.Write(ctx, out.changes); err != nil {
		c.logger.ErrorContext(ctx, "persist failed",
			slog.String("op", op),
			slog.String("subject", out.event.Subject),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("service: %s: persist: %w", op, err)
	}

	if out.event.Type != "" {
		if out.event.At.IsZero() {
			out.event.At = time.Now().UTC()
		}
		c.audit(ctx, out.event)
		c.publish(ctx, out.channel, out.event)
	}

	c.logger.InfoContext(ctx, "operation applied",
		slog.String("op", op),
		slog.String("subject", out.event.Subject),
	)
	return nil
}

// lock takes every key in sorted order so two operations sharing keys cannot
// deadlock, and returns a func releasing them all.
func (c *core) lock(ctx context.Context, keys []string) (func(), error) {
	if c.Locks == nil || len(keys) == 0 {
		return func() {}, nil
	}
	uniq := make(map[string]bool, len(keys))
	sorted := make([]string, 0, len(keys))
	for _, k := range keys {
		if !uniq[k] {
			uniq[k] = true
			sorted = append(sorted, k)
		}
	}
	sort.Strings(sorted)

	var unlocks []func()
	release := func() {
		for i := len(unlocks) - 1; i >= 0; i-- {
			unlocks[i]()
		}
	}
	for _, k := range sorted {
		u, err := c.Locks.Acquire(ctx, k, c.LockTTL)
		if err != nil {
			release()
			return nil, err
		}
		unlocks = append(unlocks, u)
	}
	return release, nil
}

func (c *core) audit(ctx context.Context, evt domain.Event) {
	detail := make(map[string]any, len(evt.Detail)+1)
	for k, v := range evt.Detail {
		detail[k] = v
	}
	detail["subject"] = evt.Subject
	if err := c.Audit.Log(ctx, string(evt.Type), detail); err != nil {
		c.logger.WarnContext(ctx, "audit log failed",
			slog.String("event", string(evt.Type)),
			slog.String("error", err.Error()),
		)
	}
}

func (c *core) publish(ctx context.Context, channel string, evt domain.Event) {
	if c.Bus == nil || channel == "" {
		return
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		c.logger.WarnContext(ctx, "marshal event failed", slog.String("error", err.Error()))
		return
	}
	if err := c.Bus.Publish(ctx, channel, payload); err != nil {
		c.logger.WarnContext(ctx, "publish event failed",
			slog.String("channel", channel),
			slog.String("event", string(evt.Type)),
			slog.String("error", err.Error()),
		)
	}
}

// accounts reads the current vault rows for the given owners, skipping the
// zero address and duplicates.
func (c *core) accounts(owners ...domain.Address) []domain.Account {
	seen := make(map[domain.Address]bool, len(owners))
	var out []domain.Account
	for _, o := range owners {
		if o == domain.ZeroAddress || seen[o] {
			continue
		}
		seen[o] = true
		out = append(out, c.Engine.Account(o))
	}
	return out
}

func vaultKey(owner domain.Address) string { return "vault:" + owner.Hex() }

func positionKey(id string) string { return "position:" + id }

func willKey(owner domain.Address) string { return "will:" + owner.Hex() }

func chainsKey() string { return "chains" }

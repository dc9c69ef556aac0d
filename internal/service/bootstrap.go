package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bitpesa/bitpesa/internal/domain"
	"github.com/bitpesa/bitpesa/internal/engine"
)

// Stores are the read side of persistence used to rebuild the engine.
type Stores struct {
	Accounts  domain.AccountStore
	Positions domain.PositionStore
	Wills     domain.WillStore
	Bridge    domain.BridgeStore
	Chains    domain.ChainStore
}

// Bootstrap loads every persisted entity and restores eng from it. Stored
// chain rows override the configured allow-list entry by entry.
func Bootstrap(ctx context.Context, eng *engine.Engine, st Stores, logger *slog.Logger) error {
	accounts, err := st.Accounts.List(ctx)
	if err != nil {
		return fmt.Errorf("service: bootstrap: %w", err)
	}
	positions, err := st.Positions.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("service: bootstrap: %w", err)
	}
	plans, err := st.Wills.List(ctx)
	if err != nil {
		return fmt.Errorf("service: bootstrap: %w", err)
	}
	messages, err := st.Bridge.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("service: bootstrap: %w", err)
	}
	chains, err := st.Chains.List(ctx)
	if err != nil {
		return fmt.Errorf("service: bootstrap: %w", err)
	}
	if len(chains) == 0 {
		chains = nil
	} else {
		merged := make(map[domain.ChainSelector]bool, len(chains))
		for _, ch := range eng.Config().SupportedChains {
			merged[ch] = true
		}
		for ch, ok := range chains {
			merged[ch] = ok
		}
		chains = merged
	}

	if err := eng.Restore(engine.State{
		Accounts:  accounts,
		Positions: positions,
		Plans:     plans,
		Messages:  messages,
		Chains:    chains,
	}); err != nil {
		return fmt.Errorf("service: bootstrap: %w", err)
	}

	logger.InfoContext(ctx, "engine restored",
		slog.String("component", "bootstrap"),
		slog.Int("accounts", len(accounts)),
		slog.Int("positions", len(positions)),
		slog.Int("plans", len(plans)),
		slog.Int("bridge_messages", len(messages)),
		slog.Int("supported_chains", len(eng.SupportedChains())),
	)
	return nil
}

package service

import (
	"context"

	"github.com/bitpesa/bitpesa/internal/domain"
)

// ChainService administers the bridge allow-list.
type ChainService struct {
	core
}

// NewChainService creates a ChainService.
func NewChainService(d Deps) (*ChainService, error) {
	c, err := newCore(d, "chain_service")
	if err != nil {
		return nil, err
	}
	return &ChainService{core: c}, nil
}

// Add allow-lists chain. Only the admin may call it.
func (s *ChainService) Add(ctx context.Context, caller domain.Address, chain domain.ChainSelector) error {
	return s.set(ctx, "add_chain", caller, chain, true)
}

// Remove takes chain off the allow-list. Only the admin may call it.
func (s *ChainService) Remove(ctx context.Context, caller domain.Address, chain domain.ChainSelector) error {
	return s.set(ctx, "remove_chain", caller, chain, false)
}

func (s *ChainService) set(ctx context.Context, op string, caller domain.Address, chain domain.ChainSelector, supported bool) error {
	return s.apply(ctx, op, []string{chainsKey()}, func() (outcome, error) {
		var err error
		if supported {
			err = s.Engine.AddChain(caller, chain)
		} else {
			err = s.Engine.RemoveChain(caller, chain)
		}
		if err != nil {
			return outcome{}, err
		}
		return outcome{
			changes: domain.Changes{Chains: map[domain.ChainSelector]bool{chain: supported}},
			channel: domain.ChannelChains,
			event: domain.Event{
				Type:    domain.EventChainsChanged,
				Subject: chain.String(),
				Detail: map[string]any{
					"chain":     chain.String(),
					"supported": supported,
					"admin":     caller.Hex(),
				},
			},
		}, nil
	})
}

// List returns the allow-listed chains in ascending order.
func (s *ChainService) List() []domain.ChainSelector {
	return s.Engine.SupportedChains()
}

// IsSupported reports whether chain is allow-listed.
func (s *ChainService) IsSupported(chain domain.ChainSelector) bool {
	return s.Engine.IsSupported(chain)
}

package service

import (
	"context"

	"github.com/bitpesa/bitpesa/internal/domain"
)

// VaultService moves free collateral in and out of the vault.
type VaultService struct {
	core
}

// NewVaultService creates a VaultService.
func NewVaultService(d Deps) (*VaultService, error) {
	c, err := newCore(d, "vault_service")
	if err != nil {
		return nil, err
	}
	return &VaultService{core: c}, nil
}

// Deposit credits owner's free collateral.
func (s *VaultService) Deposit(ctx context.Context, owner domain.Address, sats uint64) (domain.Account, error) {
	var acct domain.Account
	err := s.apply(ctx, "deposit", []string{vaultKey(owner)}, func() (outcome, error) {
		var err error
		if acct, err = s.Engine.Deposit(owner, sats); err != nil {
			return outcome{}, err
		}
		return outcome{
			changes: domain.Changes{Accounts: []domain.Account{acct}},
			channel: domain.ChannelVault,
			event: domain.Event{
				Type:    domain.EventDeposited,
				Subject: owner.Hex(),
				Detail:  map[string]any{"owner": owner.Hex(), "sats": sats, "balance_sats": acct.BalanceSats},
			},
		}, nil
	})
	return acct, err
}

// Withdraw removes free collateral, subject to the margin check on the
// owner's open positions.
func (s *VaultService) Withdraw(ctx context.Context, owner domain.Address, sats uint64) (domain.Account, error) {
	var acct domain.Account
	err := s.apply(ctx, "withdraw", []string{vaultKey(owner)}, func() (outcome, error) {
		var err error
		if acct, err = s.Engine.Withdraw(owner, sats); err != nil {
			return outcome{}, err
		}
		return outcome{
			changes: domain.Changes{Accounts: []domain.Account{acct}},
			channel: domain.ChannelVault,
			event: domain.Event{
				Type:    domain.EventWithdrawn,
				Subject: owner.Hex(),
				Detail:  map[string]any{"owner": owner.Hex(), "sats": sats, "balance_sats": acct.BalanceSats},
			},
		}, nil
	})
	return acct, err
}

// CheckIn records owner activity for inactivity-based will triggers. It is
// persisted but neither audited nor published.
func (s *VaultService) CheckIn(ctx context.Context, owner domain.Address) (domain.Account, error) {
	var acct domain.Account
	err := s.apply(ctx, "check_in", []string{vaultKey(owner)}, func() (outcome, error) {
		if err := s.Engine.CheckIn(owner); err != nil {
			return outcome{}, err
		}
		acct = s.Engine.Account(owner)
		return outcome{
			changes: domain.Changes{Accounts: []domain.Account{acct}},
			event:   domain.Event{Subject: owner.Hex()},
		}, nil
	})
	return acct, err
}

// Account returns owner's free balance and last activity.
func (s *VaultService) Account(owner domain.Address) domain.Account {
	return s.Engine.Account(owner)
}

// TotalSats is the collateral held by this chain instance, free plus locked.
func (s *VaultService) TotalSats() uint64 {
	return s.Engine.TotalSats()
}

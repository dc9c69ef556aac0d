package service

import (
	"context"
	"fmt"

	"github.com/bitpesa/bitpesa/internal/domain"
	"github.com/bitpesa/bitpesa/internal/engine"
)

// WillService drives inheritance plans through approval, KYC and release.
type WillService struct {
	core
}

// NewWillService creates a WillService.
func NewWillService(d Deps) (*WillService, error) {
	c, err := newCore(d, "will_service")
	if err != nil {
		return nil, err
	}
	return &WillService{core: c}, nil
}

type planOp func() (domain.WillPlan, error)

// run applies a plan operation and persists the plan with its owner's
// account, whose last-seen time owner actions advance.
func (s *WillService) run(ctx context.Context, op string, owner domain.Address, evtType domain.EventType, fn planOp) (domain.WillPlan, error) {
	var plan domain.WillPlan
	err := s.apply(ctx, op, []string{willKey(owner), vaultKey(owner)}, func() (outcome, error) {
		var err error
		if plan, err = fn(); err != nil {
			return outcome{}, err
		}
		return outcome{
			changes: domain.Changes{
				Accounts: s.accounts(owner),
				Plans:    []domain.WillPlan{plan},
			},
			channel: domain.ChannelWills,
			event: domain.Event{
				Type:    evtType,
				Subject: owner.Hex(),
				Detail: map[string]any{
					"owner":  owner.Hex(),
					"op":     op,
					"status": string(plan.Status),
				},
			},
		}, nil
	})
	return plan, err
}

// Create starts a Draft plan for owner.
func (s *WillService) Create(ctx context.Context, owner domain.Address, params engine.PlanParams) (domain.WillPlan, error) {
	return s.run(ctx, "create_plan", owner, domain.EventWillUpdated, func() (domain.WillPlan, error) {
		return s.Engine.CreatePlan(owner, params)
	})
}

// SetBeneficiaries replaces the beneficiary list of a Draft or Active plan.
func (s *WillService) SetBeneficiaries(ctx context.Context, caller, owner domain.Address, bs []domain.Beneficiary) (domain.WillPlan, error) {
	return s.run(ctx, "set_beneficiaries", owner, domain.EventWillUpdated, func() (domain.WillPlan, error) {
		return s.Engine.SetBeneficiaries(caller, owner, bs)
	})
}

// Activate moves a Draft plan to Active.
func (s *WillService) Activate(ctx context.Context, caller, owner domain.Address) (domain.WillPlan, error) {
	return s.run(ctx, "activate_plan", owner, domain.EventWillUpdated, func() (domain.WillPlan, error) {
		return s.Engine.Activate(caller, owner)
	})
}

// Revoke ends a plan that has not been released.
func (s *WillService) Revoke(ctx context.Context, caller, owner domain.Address) (domain.WillPlan, error) {
	return s.run(ctx, "revoke_plan", owner, domain.EventWillRevoked, func() (domain.WillPlan, error) {
		return s.Engine.Revoke(caller, owner)
	})
}

// InitiateRelease starts the executor-driven release flow.
func (s *WillService) InitiateRelease(ctx context.Context, caller, owner domain.Address) (domain.WillPlan, error) {
	return s.run(ctx, "initiate_release", owner, domain.EventWillUpdated, func() (domain.WillPlan, error) {
		return s.Engine.InitiateRelease(caller, owner)
	})
}

// Approve records the executor's approval.
func (s *WillService) Approve(ctx context.Context, caller, owner domain.Address) (domain.WillPlan, error) {
	return s.run(ctx, "approve_release", owner, domain.EventWillUpdated, func() (domain.WillPlan, error) {
		return s.Engine.Approve(caller, owner)
	})
}

// Attest records the KYC verifier's attestation.
func (s *WillService) Attest(ctx context.Context, caller, owner domain.Address) (domain.WillPlan, error) {
	return s.run(ctx, "attest_kyc", owner, domain.EventWillUpdated, func() (domain.WillPlan, error) {
		return s.Engine.Attest(caller, owner)
	})
}

// Release distributes the owner's free balance to the beneficiaries.
func (s *WillService) Release(ctx context.Context, caller, owner domain.Address) (domain.WillPlan, error) {
	var plan domain.WillPlan
	keys := s.releaseLocks(owner)
	err := s.apply(ctx, "release", keys, func() (outcome, error) {
		if err := s.coveredByLocks(owner, keys); err != nil {
			return outcome{}, err
		}
		var err error
		if plan, err = s.Engine.Release(caller, owner); err != nil {
			return outcome{}, err
		}
		owners := []domain.Address{owner}
		var total uint64
		for _, t := range plan.Distribution {
			owners = append(owners, t.To)
			total += t.Sats
		}
		return outcome{
			changes: domain.Changes{
				Accounts: s.accounts(owners...),
				Plans:    []domain.WillPlan{plan},
			},
			channel: domain.ChannelWills,
			event: domain.Event{
				Type:    domain.EventWillReleased,
				Subject: owner.Hex(),
				Detail: map[string]any{
					"owner":      owner.Hex(),
					"executor":   caller.Hex(),
					"transfers":  len(plan.Distribution),
					"total_sats": total,
				},
			},
		}, nil
	})
	return plan, err
}

// releaseLocks covers the plan, the owner's vault and every beneficiary vault
// the release credits.
func (s *WillService) releaseLocks(owner domain.Address) []string {
	keys := []string{willKey(owner), vaultKey(owner)}
	if plan, err := s.Engine.Plan(owner); err == nil {
		for _, b := range plan.Beneficiaries {
			keys = append(keys, vaultKey(b.Address))
		}
	}
	return keys
}

// coveredByLocks fails with ErrLockHeld when the beneficiaries changed between
// reading the plan and taking its lock. The caller retries.
func (s *WillService) coveredByLocks(owner domain.Address, keys []string) error {
	plan, err := s.Engine.Plan(owner)
	if err != nil {
		return nil
	}
	held := make(map[string]bool, len(keys))
	for _, k := range keys {
		held[k] = true
	}
	for _, b := range plan.Beneficiaries {
		if !held[vaultKey(b.Address)] {
			return fmt.Errorf("service: release %s: beneficiaries changed: %w", owner.Hex(), domain.ErrLockHeld)
		}
	}
	return nil
}

// Plan returns owner's plan.
func (s *WillService) Plan(owner domain.Address) (domain.WillPlan, error) {
	return s.Engine.Plan(owner)
}

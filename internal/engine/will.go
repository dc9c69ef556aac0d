package engine

import (
	"fmt"

	"github.com/holiman/uint256"

	"github.com/bitpesa/bitpesa/internal/domain"
)

// PlanParams configures a new will plan. Zero or nil fields fall back to the
// engine configuration; a KYCVerifier pointing at the zero address disables
// the KYC gate for this plan.
type PlanParams struct {
	Beneficiaries           []domain.Beneficiary
	Executor                domain.Address
	RequireExecutorApproval *bool
	KYCVerifier             *domain.Address
}

func validateBeneficiaries(bs []domain.Beneficiary) error {
	seen := make(map[domain.Address]bool, len(bs))
	var total uint64
	for _, b := range bs {
		if b.Address == domain.ZeroAddress {
			return fmt.Errorf("%w: zero beneficiary address", domain.ErrValidation)
		}
		if b.ShareBps == 0 {
			return fmt.Errorf("%w: beneficiary %s has zero share", domain.ErrValidation, b.Address.Hex())
		}
		if seen[b.Address] {
			return fmt.Errorf("%w: duplicate beneficiary %s", domain.ErrValidation, b.Address.Hex())
		}
		seen[b.Address] = true
		total += uint64(b.ShareBps)
	}
	if total > domain.BpsDenominator {
		return fmt.Errorf("%w: shares sum to %d bps", domain.ErrValidation, total)
	}
	return nil
}

// CreatePlan starts a Draft plan for owner. An existing plan may only be
// replaced once it is Released or Revoked.
func (e *Engine) CreatePlan(owner domain.Address, params PlanParams) (domain.WillPlan, error) {
	if owner == domain.ZeroAddress {
		return domain.WillPlan{}, fmt.Errorf("engine: create plan: %w: zero owner", domain.ErrValidation)
	}
	if err := validateBeneficiaries(params.Beneficiaries); err != nil {
		return domain.WillPlan{}, fmt.Errorf("engine: create plan: %w", err)
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if existing, ok := e.plans[owner]; ok && !existing.Status.Terminal() {
		return domain.WillPlan{}, fmt.Errorf("engine: create plan: %w: plan exists in state %s",
			domain.ErrValidation, existing.Status)
	}

	executor := params.Executor
	if executor == domain.ZeroAddress {
		executor = e.cfg.InitialExecutor
	}
	if executor == domain.ZeroAddress {
		return domain.WillPlan{}, fmt.Errorf("engine: create plan: %w: executor is required", domain.ErrValidation)
	}
	approval := e.cfg.RequireExecutorApproval
	if params.RequireExecutorApproval != nil {
		approval = *params.RequireExecutorApproval
	}
	verifier := e.cfg.KYCVerifier
	if params.KYCVerifier != nil {
		verifier = params.KYCVerifier
	}

	now := e.now()
	plan := domain.WillPlan{
		Owner:                   owner,
		Beneficiaries:           append([]domain.Beneficiary(nil), params.Beneficiaries...),
		Executor:                executor,
		RequireExecutorApproval: approval,
		Status:                  domain.WillStatusDraft,
		CreatedAt:               now,
		UpdatedAt:               now,
	}
	if verifier != nil && *verifier != domain.ZeroAddress {
		v := *verifier
		plan.KYCVerifier = &v
	}
	e.plans[owner] = plan
	e.vault.touch(owner, now)
	return plan.Clone(), nil
}

// Plan returns owner's plan.
func (e *Engine) Plan(owner domain.Address) (domain.WillPlan, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	plan, ok := e.plans[owner]
	if !ok {
		return domain.WillPlan{}, fmt.Errorf("engine: plan %s: %w", owner.Hex(), domain.ErrNotFound)
	}
	return plan.Clone(), nil
}

// SetBeneficiaries replaces the beneficiary list while the plan is Draft or
// Active.
func (e *Engine) SetBeneficiaries(caller, owner domain.Address, bs []domain.Beneficiary) (domain.WillPlan, error) {
	if err := validateBeneficiaries(bs); err != nil {
		return domain.WillPlan{}, fmt.Errorf("engine: set beneficiaries: %w", err)
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	plan, err := e.planFor(owner, caller, roleOwner)
	if err != nil {
		return domain.WillPlan{}, fmt.Errorf("engine: set beneficiaries: %w", err)
	}
	if plan.Status != domain.WillStatusDraft && plan.Status != domain.WillStatusActive {
		return domain.WillPlan{}, fmt.Errorf("engine: set beneficiaries: %w: plan is %s", domain.ErrInvalidTransition, plan.Status)
	}
	if plan.Status == domain.WillStatusActive && len(bs) == 0 {
		return domain.WillPlan{}, fmt.Errorf("engine: set beneficiaries: %w: active plan needs a beneficiary", domain.ErrValidation)
	}
	plan.Beneficiaries = append([]domain.Beneficiary(nil), bs...)
	return e.savePlan(plan, true), nil
}

// Activate moves a Draft plan to Active.
func (e *Engine) Activate(caller, owner domain.Address) (domain.WillPlan, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	plan, err := e.planFor(owner, caller, roleOwner)
	if err != nil {
		return domain.WillPlan{}, fmt.Errorf("engine: activate: %w", err)
	}
	if plan.Status != domain.WillStatusDraft {
		return domain.WillPlan{}, fmt.Errorf("engine: activate: %w: plan is %s", domain.ErrInvalidTransition, plan.Status)
	}
	if len(plan.Beneficiaries) == 0 {
		return domain.WillPlan{}, fmt.Errorf("engine: activate: %w: no beneficiaries", domain.ErrValidation)
	}
	plan.Status = domain.WillStatusActive
	return e.savePlan(plan, true), nil
}

// Revoke cancels the plan from any state before Released.
func (e *Engine) Revoke(caller, owner domain.Address) (domain.WillPlan, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	plan, err := e.planFor(owner, caller, roleOwner)
	if err != nil {
		return domain.WillPlan{}, fmt.Errorf("engine: revoke: %w", err)
	}
	plan.Status = domain.WillStatusRevoked
	return e.savePlan(plan, true), nil
}

// InitiateRelease is the executor's first step. Depending on the plan's gates
// the plan waits for approval, for KYC, or stays Active and releasable.
func (e *Engine) InitiateRelease(caller, owner domain.Address) (domain.WillPlan, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	plan, err := e.planFor(owner, caller, roleExecutor)
	if err != nil {
		return domain.WillPlan{}, fmt.Errorf("engine: initiate release: %w", err)
	}
	if plan.Status != domain.WillStatusActive {
		return domain.WillPlan{}, fmt.Errorf("engine: initiate release: %w: plan is %s", domain.ErrInvalidTransition, plan.Status)
	}
	if err := e.checkTrigger(plan); err != nil {
		return domain.WillPlan{}, fmt.Errorf("engine: initiate release: %w", err)
	}
	switch {
	case plan.RequireExecutorApproval:
		plan.Status = domain.WillStatusPendingApproval
	case plan.HasVerifier():
		plan.Status = domain.WillStatusPendingKYC
	}
	return e.savePlan(plan, false), nil
}

// Approve records executor approval of a pending release.
func (e *Engine) Approve(caller, owner domain.Address) (domain.WillPlan, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	plan, err := e.planFor(owner, caller, roleExecutor)
	if err != nil {
		return domain.WillPlan{}, fmt.Errorf("engine: approve: %w", err)
	}
	if plan.Status != domain.WillStatusPendingApproval {
		return domain.WillPlan{}, fmt.Errorf("engine: approve: %w: plan is %s", domain.ErrInvalidTransition, plan.Status)
	}
	if plan.HasVerifier() {
		plan.Status = domain.WillStatusPendingKYC
	} else {
		plan.Status = domain.WillStatusApproved
	}
	return e.savePlan(plan, false), nil
}

// Attest records the KYC verifier's attestation.
func (e *Engine) Attest(caller, owner domain.Address) (domain.WillPlan, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	plan, err := e.planFor(owner, caller, roleVerifier)
	if err != nil {
		return domain.WillPlan{}, fmt.Errorf("engine: attest: %w", err)
	}
	if plan.Status != domain.WillStatusPendingKYC {
		return domain.WillPlan{}, fmt.Errorf("engine: attest: %w: plan is %s", domain.ErrInvalidTransition, plan.Status)
	}
	plan.Status = domain.WillStatusVerified
	return e.savePlan(plan, false), nil
}

// Release distributes the owner's free vault balance to the beneficiaries.
// Each receives floor(balance*share/10000); the rounding dust of the shared
// total goes to the last beneficiary. Any unallocated share stays with the
// owner.
func (e *Engine) Release(caller, owner domain.Address) (domain.WillPlan, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	plan, err := e.planFor(owner, caller, roleExecutor)
	if err != nil {
		return domain.WillPlan{}, fmt.Errorf("engine: release: %w", err)
	}
	switch plan.Status {
	case domain.WillStatusVerified:
	case domain.WillStatusApproved:
		if plan.HasVerifier() {
			return domain.WillPlan{}, fmt.Errorf("engine: release: %w: kyc attestation missing", domain.ErrInvalidTransition)
		}
	case domain.WillStatusActive:
		if plan.RequireExecutorApproval || plan.HasVerifier() {
			return domain.WillPlan{}, fmt.Errorf("engine: release: %w: plan awaits approval or kyc", domain.ErrInvalidTransition)
		}
		if err := e.checkTrigger(plan); err != nil {
			return domain.WillPlan{}, fmt.Errorf("engine: release: %w", err)
		}
	default:
		return domain.WillPlan{}, fmt.Errorf("engine: release: %w: plan is %s", domain.ErrInvalidTransition, plan.Status)
	}

	balance := e.vault.balance(owner)
	transfers := Distribute(balance, plan.Beneficiaries)
	sums := make(map[domain.Address]uint64, len(transfers))
	var paid uint64
	for _, t := range transfers {
		paid += t.Sats
		if t.To != owner {
			sums[t.To] += t.Sats
		}
	}
	for to, sats := range sums {
		if !e.vault.canCredit(to, sats) {
			return domain.WillPlan{}, fmt.Errorf("engine: release: %w: balance of %s", domain.ErrOverflow, to.Hex())
		}
	}
	if err := e.vault.debit(owner, paid); err != nil {
		return domain.WillPlan{}, fmt.Errorf("engine: release: %w", err)
	}
	for _, t := range transfers {
		e.vault.balances[t.To] += t.Sats
	}

	now := e.now()
	plan.Status = domain.WillStatusReleased
	plan.Distribution = transfers
	plan.ReleasedAt = &now
	return e.savePlan(plan, false), nil
}

// Distribute splits balance across beneficiaries. Zero-sat transfers are
// omitted.
func Distribute(balance uint64, bs []domain.Beneficiary) []domain.Transfer {
	if len(bs) == 0 || balance == 0 {
		return nil
	}
	bal := uint256.NewInt(balance)
	denom := uint256.NewInt(domain.BpsDenominator)
	var sumShares uint64
	for _, b := range bs {
		sumShares += uint64(b.ShareBps)
	}
	total, _ := new(uint256.Int).MulDivOverflow(bal, uint256.NewInt(sumShares), denom)

	amounts := make([]uint64, len(bs))
	var allocated uint64
	for i, b := range bs {
		v, _ := new(uint256.Int).MulDivOverflow(bal, uint256.NewInt(uint64(b.ShareBps)), denom)
		amounts[i] = v.Uint64()
		allocated += amounts[i]
	}
	amounts[len(amounts)-1] += total.Uint64() - allocated

	var out []domain.Transfer
	for i, b := range bs {
		if amounts[i] > 0 {
			out = append(out, domain.Transfer{To: b.Address, Sats: amounts[i]})
		}
	}
	return out
}

type planRole int

const (
	roleOwner planRole = iota
	roleExecutor
	roleVerifier
)

// planFor loads owner's plan and checks terminal states, then the caller's
// role. Caller holds e.mu.
func (e *Engine) planFor(owner, caller domain.Address, role planRole) (domain.WillPlan, error) {
	plan, ok := e.plans[owner]
	if !ok {
		return domain.WillPlan{}, fmt.Errorf("plan %s: %w", owner.Hex(), domain.ErrNotFound)
	}
	switch plan.Status {
	case domain.WillStatusRevoked:
		return domain.WillPlan{}, fmt.Errorf("plan %s: %w", owner.Hex(), domain.ErrPlanRevoked)
	case domain.WillStatusReleased:
		if role == roleExecutor {
			return domain.WillPlan{}, fmt.Errorf("plan %s: %w", owner.Hex(), domain.ErrAlreadyReleased)
		}
		return domain.WillPlan{}, fmt.Errorf("plan %s: %w: plan is released", owner.Hex(), domain.ErrInvalidTransition)
	}

	var allowed bool
	switch role {
	case roleOwner:
		allowed = caller == plan.Owner
	case roleExecutor:
		allowed = caller == plan.Executor
	case roleVerifier:
		allowed = plan.HasVerifier() && caller == *plan.KYCVerifier
	}
	if !allowed {
		return domain.WillPlan{}, fmt.Errorf("plan %s: %w: %s", owner.Hex(), domain.ErrUnauthorized, caller.Hex())
	}
	return plan.Clone(), nil
}

func (e *Engine) checkTrigger(plan domain.WillPlan) error {
	if !e.trigger.Satisfied(plan, e.vault.lastSeen[plan.Owner], e.now()) {
		return fmt.Errorf("plan %s: %w", plan.Owner.Hex(), domain.ErrTriggerNotSatisfied)
	}
	return nil
}

// savePlan stamps and stores the plan. byOwner marks an owner-initiated
// change, which counts as owner activity.
func (e *Engine) savePlan(plan domain.WillPlan, byOwner bool) domain.WillPlan {
	now := e.now()
	plan.UpdatedAt = now
	e.plans[plan.Owner] = plan
	if byOwner {
		e.vault.touch(plan.Owner, now)
	}
	return plan.Clone()
}

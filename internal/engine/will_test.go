package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bitpesa/bitpesa/internal/domain"
)

func sixtyForty() []domain.Beneficiary {
	return []domain.Beneficiary{{Address: bob, ShareBps: 6_000}, {Address: carol, ShareBps: 4_000}}
}

func activePlan(t *testing.T, env *testEnv, params PlanParams) {
	t.Helper()
	_, err := env.eng.CreatePlan(alice, params)
	require.NoError(t, err)
	_, err = env.eng.Activate(alice, alice)
	require.NoError(t, err)
}

func TestWillReleaseWithApprovalAndKYC(t *testing.T) {
	require := require.New(t)
	env := newTestEnv(t, nil)
	_, err := env.eng.Deposit(alice, 1_000_000)
	require.NoError(err)
	activePlan(t, env, PlanParams{Beneficiaries: sixtyForty()})

	_, err = env.eng.Release(executor, alice)
	require.ErrorIs(err, domain.ErrInvalidTransition)

	plan, err := env.eng.InitiateRelease(executor, alice)
	require.NoError(err)
	require.Equal(domain.WillStatusPendingApproval, plan.Status)

	_, err = env.eng.Release(executor, alice)
	require.ErrorIs(err, domain.ErrInvalidTransition)
	_, err = env.eng.Attest(verifier, alice)
	require.ErrorIs(err, domain.ErrInvalidTransition)

	plan, err = env.eng.Approve(executor, alice)
	require.NoError(err)
	require.Equal(domain.WillStatusPendingKYC, plan.Status)

	_, err = env.eng.Release(executor, alice)
	require.ErrorIs(err, domain.ErrInvalidTransition)

	plan, err = env.eng.Attest(verifier, alice)
	require.NoError(err)
	require.Equal(domain.WillStatusVerified, plan.Status)

	plan, err = env.eng.Release(executor, alice)
	require.NoError(err)
	require.Equal(domain.WillStatusReleased, plan.Status)
	require.NotNil(plan.ReleasedAt)
	require.Equal([]domain.Transfer{{To: bob, Sats: 600_000}, {To: carol, Sats: 400_000}}, plan.Distribution)
	require.Equal(uint64(600_000), env.eng.Balance(bob))
	require.Equal(uint64(400_000), env.eng.Balance(carol))
	require.Zero(env.eng.Balance(alice))

	_, err = env.eng.Release(executor, alice)
	require.ErrorIs(err, domain.ErrAlreadyReleased)
	_, err = env.eng.Revoke(alice, alice)
	require.ErrorIs(err, domain.ErrInvalidTransition)
}

func TestWillRevokeBlocksRelease(t *testing.T) {
	steps := []struct {
		name    string
		advance func(*testing.T, *testEnv)
	}{
		{"active", func(*testing.T, *testEnv) {}},
		{"pending approval", func(t *testing.T, env *testEnv) {
			_, err := env.eng.InitiateRelease(executor, alice)
			require.NoError(t, err)
		}},
		{"verified", func(t *testing.T, env *testEnv) {
			_, err := env.eng.InitiateRelease(executor, alice)
			require.NoError(t, err)
			_, err = env.eng.Approve(executor, alice)
			require.NoError(t, err)
			_, err = env.eng.Attest(verifier, alice)
			require.NoError(t, err)
		}},
	}
	for _, tt := range steps {
		t.Run(tt.name, func(t *testing.T) {
			require := require.New(t)
			env := newTestEnv(t, nil)
			_, err := env.eng.Deposit(alice, 1_000)
			require.NoError(err)
			activePlan(t, env, PlanParams{Beneficiaries: sixtyForty()})
			tt.advance(t, env)

			plan, err := env.eng.Revoke(alice, alice)
			require.NoError(err)
			require.Equal(domain.WillStatusRevoked, plan.Status)

			_, err = env.eng.Release(executor, alice)
			require.ErrorIs(err, domain.ErrPlanRevoked)
			_, err = env.eng.Activate(alice, alice)
			require.ErrorIs(err, domain.ErrPlanRevoked)
			require.Equal(uint64(1_000), env.eng.Balance(alice))
		})
	}
}

func TestWillRoles(t *testing.T) {
	require := require.New(t)
	env := newTestEnv(t, nil)
	_, err := env.eng.CreatePlan(alice, PlanParams{})
	require.NoError(err)

	_, err = env.eng.Activate(bob, alice)
	require.ErrorIs(err, domain.ErrUnauthorized)
	_, err = env.eng.SetBeneficiaries(executor, alice, sixtyForty())
	require.ErrorIs(err, domain.ErrUnauthorized)
	_, err = env.eng.Activate(alice, alice)
	require.ErrorIs(err, domain.ErrValidation)

	_, err = env.eng.SetBeneficiaries(alice, alice, sixtyForty())
	require.NoError(err)
	_, err = env.eng.Activate(alice, alice)
	require.NoError(err)

	_, err = env.eng.InitiateRelease(alice, alice)
	require.ErrorIs(err, domain.ErrUnauthorized)
	_, err = env.eng.InitiateRelease(executor, alice)
	require.NoError(err)
	_, err = env.eng.Approve(verifier, alice)
	require.ErrorIs(err, domain.ErrUnauthorized)
	_, err = env.eng.Approve(executor, alice)
	require.NoError(err)
	_, err = env.eng.Attest(executor, alice)
	require.ErrorIs(err, domain.ErrUnauthorized)
	_, err = env.eng.Revoke(executor, alice)
	require.ErrorIs(err, domain.ErrUnauthorized)
	_, err = env.eng.SetBeneficiaries(alice, alice, sixtyForty())
	require.ErrorIs(err, domain.ErrInvalidTransition)

	_, err = env.eng.Plan(bob)
	require.ErrorIs(err, domain.ErrNotFound)
}

func TestWillWithoutGates(t *testing.T) {
	require := require.New(t)
	env := newTestEnv(t, nil)
	_, err := env.eng.Deposit(alice, 7)
	require.NoError(err)
	noApproval := false
	activePlan(t, env, PlanParams{
		Beneficiaries:           []domain.Beneficiary{{Address: bob, ShareBps: 5_000}, {Address: carol, ShareBps: 5_000}},
		RequireExecutorApproval: &noApproval,
		KYCVerifier:             &domain.ZeroAddress,
	})

	plan, err := env.eng.InitiateRelease(executor, alice)
	require.NoError(err)
	require.Equal(domain.WillStatusActive, plan.Status)
	require.Nil(plan.KYCVerifier)

	plan, err = env.eng.Release(executor, alice)
	require.NoError(err)
	require.Equal([]domain.Transfer{{To: bob, Sats: 3}, {To: carol, Sats: 4}}, plan.Distribution)
	require.Zero(env.eng.Balance(alice))
}

func TestWillApprovedWithoutKYC(t *testing.T) {
	require := require.New(t)
	env := newTestEnv(t, func(c *Config) { c.KYCVerifier = nil })
	_, err := env.eng.Deposit(alice, 1_000)
	require.NoError(err)
	activePlan(t, env, PlanParams{Beneficiaries: []domain.Beneficiary{{Address: bob, ShareBps: 2_500}}})

	_, err = env.eng.InitiateRelease(executor, alice)
	require.NoError(err)
	plan, err := env.eng.Approve(executor, alice)
	require.NoError(err)
	require.Equal(domain.WillStatusApproved, plan.Status)

	_, err = env.eng.Release(executor, alice)
	require.NoError(err)
	require.Equal(uint64(250), env.eng.Balance(bob))
	require.Equal(uint64(750), env.eng.Balance(alice))
}

func TestWillInactivityTrigger(t *testing.T) {
	require := require.New(t)
	noApproval := false
	env := newTestEnv(t, func(c *Config) { c.KYCVerifier = nil },
		WithTrigger(InactivityTrigger{Period: 30 * 24 * time.Hour}))
	activePlan(t, env, PlanParams{Beneficiaries: sixtyForty(), RequireExecutorApproval: &noApproval})

	env.clock.Advance(29 * 24 * time.Hour)
	_, err := env.eng.InitiateRelease(executor, alice)
	require.ErrorIs(err, domain.ErrTriggerNotSatisfied)
	_, err = env.eng.Release(executor, alice)
	require.ErrorIs(err, domain.ErrTriggerNotSatisfied)

	require.NoError(env.eng.CheckIn(alice))
	env.clock.Advance(29 * 24 * time.Hour)
	_, err = env.eng.Release(executor, alice)
	require.ErrorIs(err, domain.ErrTriggerNotSatisfied)

	env.clock.Advance(24 * time.Hour)
	_, err = env.eng.Release(executor, alice)
	require.NoError(err)
}

func TestCreatePlanValidation(t *testing.T) {
	tests := []struct {
		name string
		bs   []domain.Beneficiary
	}{
		{"zero address", []domain.Beneficiary{{ShareBps: 100}}},
		{"zero share", []domain.Beneficiary{{Address: bob}}},
		{"duplicate", []domain.Beneficiary{{Address: bob, ShareBps: 1}, {Address: bob, ShareBps: 1}}},
		{"over 100%", []domain.Beneficiary{{Address: bob, ShareBps: 6_000}, {Address: carol, ShareBps: 4_001}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, nil)
			_, err := env.eng.CreatePlan(alice, PlanParams{Beneficiaries: tt.bs})
			require.ErrorIs(t, err, domain.ErrValidation)
		})
	}

	t.Run("replace only terminal plans", func(t *testing.T) {
		require := require.New(t)
		env := newTestEnv(t, nil)
		_, err := env.eng.CreatePlan(alice, PlanParams{})
		require.NoError(err)
		_, err = env.eng.CreatePlan(alice, PlanParams{})
		require.ErrorIs(err, domain.ErrValidation)

		_, err = env.eng.Revoke(alice, alice)
		require.NoError(err)
		plan, err := env.eng.CreatePlan(alice, PlanParams{Executor: bob})
		require.NoError(err)
		require.Equal(domain.WillStatusDraft, plan.Status)
		require.Equal(bob, plan.Executor)
	})

	t.Run("executor required", func(t *testing.T) {
		env := newTestEnv(t, func(c *Config) { c.InitialExecutor = domain.ZeroAddress })
		_, err := env.eng.CreatePlan(alice, PlanParams{})
		require.ErrorIs(t, err, domain.ErrValidation)
	})
}

func TestDistribute(t *testing.T) {
	tests := []struct {
		name    string
		balance uint64
		bs      []domain.Beneficiary
		want    []domain.Transfer
	}{
		{"empty", 100, nil, nil},
		{"zero balance", 0, sixtyForty(), nil},
		{"exact", 1_000_000, sixtyForty(), []domain.Transfer{{To: bob, Sats: 600_000}, {To: carol, Sats: 400_000}}},
		{"dust to last", 1_000_001, sixtyForty(), []domain.Transfer{{To: bob, Sats: 600_000}, {To: carol, Sats: 400_001}}},
		{"partial share", 1_000, []domain.Beneficiary{{Address: bob, ShareBps: 2_500}}, []domain.Transfer{{To: bob, Sats: 250}}},
		{"tiny balance omits zero transfers", 1, sixtyForty(), []domain.Transfer{{To: carol, Sats: 1}}},
		{"max balance", ^uint64(0), []domain.Beneficiary{{Address: bob, ShareBps: 10_000}}, []domain.Transfer{{To: bob, Sats: ^uint64(0)}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Distribute(tt.balance, tt.bs)
			require.Equal(t, tt.want, got)
			var sum uint64
			for _, tr := range got {
				sum += tr.Sats
			}
			require.LessOrEqual(t, sum, tt.balance)
		})
	}
}

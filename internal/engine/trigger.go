package engine

import (
	"time"

	"github.com/bitpesa/bitpesa/internal/domain"
)

// TriggerCondition decides whether a plan's release may proceed. lastSeen is
// the owner's most recent recorded activity (zero if never seen).
type TriggerCondition interface {
	Satisfied(plan domain.WillPlan, lastSeen, now time.Time) bool
}

// AlwaysTriggered leaves release gated only by executor approval and KYC.
type AlwaysTriggered struct{}

func (AlwaysTriggered) Satisfied(domain.WillPlan, time.Time, time.Time) bool { return true }

// InactivityTrigger is satisfied once the owner has been inactive for Period.
// An owner with no recorded activity is measured from plan creation.
type InactivityTrigger struct {
	Period time.Duration
}

func (t InactivityTrigger) Satisfied(plan domain.WillPlan, lastSeen, now time.Time) bool {
	since := lastSeen
	if since.IsZero() || since.Before(plan.CreatedAt) {
		since = plan.CreatedAt
	}
	return now.Sub(since) >= t.Period
}

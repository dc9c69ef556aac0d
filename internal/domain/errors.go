package domain

import "errors"

// Engine failures. Every engine operation fails atomically with one of these
// (wrapped with context); callers match with errors.Is.
var (
	ErrValidation                = errors.New("validation error")
	ErrInsufficientCollateral    = errors.New("insufficient collateral")
	ErrBelowRequiredRatio        = errors.New("below required collateral ratio")
	ErrAboveLiquidationThreshold = errors.New("above liquidation threshold")
	ErrAlreadyLiquidated         = errors.New("position already liquidated")
	ErrAlreadyRepaid             = errors.New("position already repaid")
	ErrAlreadyReleased           = errors.New("plan already released")
	ErrPlanRevoked               = errors.New("plan revoked")
	ErrUnauthorized              = errors.New("unauthorized")
	ErrStalePrice                = errors.New("stale price")
	ErrUnsupportedChain          = errors.New("unsupported chain")
	ErrReplayedNonce             = errors.New("replayed nonce")
	ErrOverflow                  = errors.New("overflow")
	ErrInvalidTransition         = errors.New("invalid state transition")
	ErrTriggerNotSatisfied       = errors.New("release trigger not satisfied")
)

// Infrastructure failures.
var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrLockHeld      = errors.New("lock already held")
	ErrBadSignature  = errors.New("bad signature")
)

var errorCodes = []struct {
	err  error
	code string
}{
	{ErrValidation, "validation"},
	{ErrInsufficientCollateral, "insufficient_collateral"},
	{ErrBelowRequiredRatio, "below_required_ratio"},
	{ErrAboveLiquidationThreshold, "above_liquidation_threshold"},
	{ErrAlreadyLiquidated, "already_liquidated"},
	{ErrAlreadyRepaid, "already_repaid"},
	{ErrAlreadyReleased, "already_released"},
	{ErrPlanRevoked, "plan_revoked"},
	{ErrUnauthorized, "unauthorized"},
	{ErrStalePrice, "stale_price"},
	{ErrUnsupportedChain, "unsupported_chain"},
	{ErrReplayedNonce, "replayed_nonce"},
	{ErrOverflow, "overflow"},
	{ErrInvalidTransition, "invalid_transition"},
	{ErrTriggerNotSatisfied, "trigger_not_satisfied"},
	{ErrNotFound, "not_found"},
	{ErrAlreadyExists, "already_exists"},
	{ErrLockHeld, "lock_held"},
	{ErrBadSignature, "bad_signature"},
}

// Code returns a stable machine-readable name for the sentinel err wraps:
// "ok" for nil, "internal" for anything unrecognised.
func Code(err error) string {
	if err == nil {
		return "ok"
	}
	for _, c := range errorCodes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return "internal"
}

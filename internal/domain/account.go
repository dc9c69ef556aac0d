package domain

import "time"

// Account is an owner's free collateral on this chain plus the last time the
// owner acted, which inactivity-based will triggers read.
type Account struct {
	Owner       Address
	BalanceSats uint64
	LastSeenAt  time.Time
}

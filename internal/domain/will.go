package domain

import "time"

// WillStatus is the state of an inheritance plan.
type WillStatus string

const (
	WillStatusDraft           WillStatus = "draft"
	WillStatusActive          WillStatus = "active"
	WillStatusPendingApproval WillStatus = "pending_approval"
	WillStatusApproved        WillStatus = "approved"
	WillStatusPendingKYC      WillStatus = "pending_kyc"
	WillStatusVerified        WillStatus = "verified"
	WillStatusReleased        WillStatus = "released"
	WillStatusRevoked         WillStatus = "revoked"
)

// Terminal reports whether the plan can no longer change.
func (s WillStatus) Terminal() bool {
	return s == WillStatusReleased || s == WillStatusRevoked
}

// Beneficiary receives ShareBps/10000 of the owner's vault balance on release.
type Beneficiary struct {
	Address  Address
	ShareBps uint32
}

// Transfer is a single vault credit made when a plan is released.
type Transfer struct {
	To   Address
	Sats uint64
}

// WillPlan is an owner's inheritance plan. Roles are plain fields: the owner
// edits, the executor drives release, the optional KYC verifier attests.
type WillPlan struct {
	Owner                   Address
	Beneficiaries           []Beneficiary
	Executor                Address
	RequireExecutorApproval bool
	KYCVerifier             *Address
	Status                  WillStatus
	Distribution            []Transfer
	CreatedAt               time.Time
	UpdatedAt               time.Time
	ReleasedAt              *time.Time
}

// TotalShareBps sums the beneficiary shares.
func (p WillPlan) TotalShareBps() uint64 {
	var total uint64
	for _, b := range p.Beneficiaries {
		total += uint64(b.ShareBps)
	}
	return total
}

// HasVerifier reports whether the plan is gated on KYC attestation.
func (p WillPlan) HasVerifier() bool {
	return p.KYCVerifier != nil && *p.KYCVerifier != ZeroAddress
}

// Clone returns a deep copy so callers cannot alias engine state.
func (p WillPlan) Clone() WillPlan {
	out := p
	out.Beneficiaries = append([]Beneficiary(nil), p.Beneficiaries...)
	out.Distribution = append([]Transfer(nil), p.Distribution...)
	if p.KYCVerifier != nil {
		v := *p.KYCVerifier
		out.KYCVerifier = &v
	}
	if p.ReleasedAt != nil {
		t := *p.ReleasedAt
		out.ReleasedAt = &t
	}
	return out
}

package handler

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bitpesa/bitpesa/internal/domain"
)

// Amounts leave the API twice: raw integers as decimal strings for clients
// that compute, and formatted BTC/USD strings for people.

type accountView struct {
	Owner       string    `json:"owner"`
	BalanceSats string    `json:"balance_sats"`
	BalanceBTC  string    `json:"balance_btc"`
	LastSeenAt  time.Time `json:"last_seen_at"`
}

func newAccountView(a domain.Account) accountView {
	return accountView{
		Owner:       a.Owner.Hex(),
		BalanceSats: u64(a.BalanceSats),
		BalanceBTC:  domain.FormatBTC(a.BalanceSats),
		LastSeenAt:  a.LastSeenAt,
	}
}

type positionView struct {
	ID                 string     `json:"id"`
	Owner              string     `json:"owner"`
	CollateralSats     string     `json:"collateral_sats"`
	CollateralBTC      string     `json:"collateral_btc"`
	PrincipalUSD       string     `json:"principal_usd"`
	AccruedInterestUSD string     `json:"accrued_interest_usd"`
	DebtUSD            string     `json:"debt_usd"`
	InterestRateBps    uint32     `json:"interest_rate_bps"`
	Status             string     `json:"status"`
	HealthRatio        *uint64    `json:"health_ratio,omitempty"`
	OpenedAt           time.Time  `json:"opened_at"`
	ClosedAt           *time.Time `json:"closed_at,omitempty"`
}

func newPositionView(p domain.Position) positionView {
	return positionView{
		ID:                 p.ID,
		Owner:              p.Owner.Hex(),
		CollateralSats:     u64(p.CollateralSats),
		CollateralBTC:      domain.FormatBTC(p.CollateralSats),
		PrincipalUSD:       domain.FormatUSD(p.PrincipalUSD),
		AccruedInterestUSD: domain.FormatUSD(p.AccruedInterestUSD),
		DebtUSD:            domain.FormatUSD(p.Debt()),
		InterestRateBps:    p.InterestRateBps,
		Status:             string(p.Status),
		OpenedAt:           p.OpenedAt,
		ClosedAt:           p.ClosedAt,
	}
}

func newPositionViews(ps []domain.Position) []positionView {
	out := make([]positionView, 0, len(ps))
	for _, p := range ps {
		out = append(out, newPositionView(p))
	}
	return out
}

type repayView struct {
	Position         positionView `json:"position"`
	AppliedUSD       string       `json:"applied_usd"`
	InterestPaidUSD  string       `json:"interest_paid_usd"`
	PrincipalPaidUSD string       `json:"principal_paid_usd"`
	ReturnedSats     string       `json:"returned_sats"`
}

type liquidationView struct {
	PositionID      string `json:"position_id"`
	Liquidator      string `json:"liquidator"`
	HealthRatio     uint64 `json:"health_ratio"`
	SeizedSats      string `json:"seized_sats"`
	DebtSats        string `json:"debt_sats"`
	LiquidatorSats  string `json:"liquidator_sats"`
	ProtocolFeeSats string `json:"protocol_fee_sats"`
	OwnerRefundSats string `json:"owner_refund_sats"`
}

type beneficiaryView struct {
	Address  string `json:"address"`
	ShareBps uint32 `json:"share_bps"`
}

type transferView struct {
	To   string `json:"to"`
	Sats string `json:"sats"`
	BTC  string `json:"btc"`
}

type planView struct {
	Owner                   string            `json:"owner"`
	Status                  string            `json:"status"`
	Beneficiaries           []beneficiaryView `json:"beneficiaries"`
	Executor                string            `json:"executor"`
	RequireExecutorApproval bool              `json:"require_executor_approval"`
	KYCVerifier             string            `json:"kyc_verifier,omitempty"`
	Distribution            []transferView    `json:"distribution,omitempty"`
	CreatedAt               time.Time         `json:"created_at"`
	UpdatedAt               time.Time         `json:"updated_at"`
	ReleasedAt              *time.Time        `json:"released_at,omitempty"`
}

func newPlanView(p domain.WillPlan) planView {
	v := planView{
		Owner:                   p.Owner.Hex(),
		Status:                  string(p.Status),
		Beneficiaries:           make([]beneficiaryView, 0, len(p.Beneficiaries)),
		Executor:                p.Executor.Hex(),
		RequireExecutorApproval: p.RequireExecutorApproval,
		CreatedAt:               p.CreatedAt,
		UpdatedAt:               p.UpdatedAt,
		ReleasedAt:              p.ReleasedAt,
	}
	if p.HasVerifier() {
		v.KYCVerifier = p.KYCVerifier.Hex()
	}
	for _, b := range p.Beneficiaries {
		v.Beneficiaries = append(v.Beneficiaries, beneficiaryView{Address: b.Address.Hex(), ShareBps: b.ShareBps})
	}
	for _, t := range p.Distribution {
		v.Distribution = append(v.Distribution, transferView{To: t.To.Hex(), Sats: u64(t.Sats), BTC: domain.FormatBTC(t.Sats)})
	}
	return v
}

type messageView struct {
	SourceChain string    `json:"source_chain"`
	DestChain   string    `json:"dest_chain"`
	Sender      string    `json:"sender"`
	Recipient   string    `json:"recipient"`
	AmountSats  string    `json:"amount_sats"`
	Nonce       string    `json:"nonce"`
	Status      string    `json:"status"`
	Direction   string    `json:"direction"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func newMessageView(m domain.BridgeMessage) messageView {
	return messageView{
		SourceChain: m.SourceChain.String(),
		DestChain:   m.DestChain.String(),
		Sender:      m.Sender.Hex(),
		Recipient:   m.Recipient.Hex(),
		AmountSats:  u64(m.AmountSats),
		Nonce:       u64(m.Nonce),
		Status:      string(m.Status),
		Direction:   string(m.Direction),
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}

func chainStrings(cs []domain.ChainSelector) []string {
	out := make([]string, 0, len(cs))
	for _, c := range cs {
		out = append(out, c.String())
	}
	return out
}

func u64(v uint64) string { return strconv.FormatUint(v, 10) }

// sats accepts a satoshi amount as a JSON number or decimal string.
type sats uint64

func (s *sats) UnmarshalJSON(data []byte) error {
	raw := strings.Trim(string(data), `"`)
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return fmt.Errorf("sats %s: %w", data, err)
	}
	*s = sats(v)
	return nil
}

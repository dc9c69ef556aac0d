package handler

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/bitpesa/bitpesa/internal/domain"
	"github.com/bitpesa/bitpesa/internal/engine"
	"github.com/bitpesa/bitpesa/internal/service"
)

// WillHandler serves will registry endpoints. The plan owner comes from the
// path and the acting role from the X-Caller header.
type WillHandler struct {
	svc    *service.WillService
	vault  *service.VaultService
	logger *slog.Logger
}

// NewWillHandler creates a WillHandler. vault serves owner check-ins.
func NewWillHandler(svc *service.WillService, vault *service.VaultService, logger *slog.Logger) *WillHandler {
	return &WillHandler{svc: svc, vault: vault, logger: logHandler(logger, "wills")}
}

type beneficiaryRequest struct {
	Address  string `json:"address"`
	ShareBps uint32 `json:"share_bps"`
}

type createPlanRequest struct {
	Beneficiaries           []beneficiaryRequest `json:"beneficiaries"`
	Executor                string               `json:"executor,omitempty"`
	RequireExecutorApproval *bool                `json:"require_executor_approval,omitempty"`
	// KYCVerifier set to the zero address disables the KYC gate.
	KYCVerifier string `json:"kyc_verifier,omitempty"`
}

type beneficiariesRequest struct {
	Beneficiaries []beneficiaryRequest `json:"beneficiaries"`
}

func parseBeneficiaries(in []beneficiaryRequest) ([]domain.Beneficiary, error) {
	out := make([]domain.Beneficiary, 0, len(in))
	for i, b := range in {
		addr, err := domain.ParseAddress(b.Address)
		if err != nil {
			return nil, fmt.Errorf("beneficiary %d: %w", i, err)
		}
		out = append(out, domain.Beneficiary{Address: addr, ShareBps: b.ShareBps})
	}
	return out, nil
}

// CreatePlan creates a draft plan owned by the caller.
// POST /api/wills
func (h *WillHandler) CreatePlan(w http.ResponseWriter, r *http.Request) {
	who, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req createPlanRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDomainError(w, h.logger, err)
		return
	}

	params, err := req.params()
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	plan, err := h.svc.Create(r.Context(), who, params)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, newPlanView(plan))
}

func (req createPlanRequest) params() (engine.PlanParams, error) {
	bs, err := parseBeneficiaries(req.Beneficiaries)
	if err != nil {
		return engine.PlanParams{}, err
	}
	params := engine.PlanParams{
		Beneficiaries:           bs,
		RequireExecutorApproval: req.RequireExecutorApproval,
	}
	if req.Executor != "" {
		if params.Executor, err = domain.ParseAddress(req.Executor); err != nil {
			return engine.PlanParams{}, err
		}
	}
	if params.KYCVerifier, err = optionalAddress("kyc_verifier", req.KYCVerifier); err != nil {
		return engine.PlanParams{}, err
	}
	return params, nil
}

// GetPlan returns an owner's plan.
// GET /api/wills/{owner}
func (h *WillHandler) GetPlan(w http.ResponseWriter, r *http.Request) {
	owner, err := addressParam("owner", pathParam(r, "owner"))
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	plan, err := h.svc.Plan(owner)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, newPlanView(plan))
}

// SetBeneficiaries replaces the beneficiary list of a draft or active plan.
// PUT /api/wills/{owner}/beneficiaries
func (h *WillHandler) SetBeneficiaries(w http.ResponseWriter, r *http.Request) {
	who, owner, ok := h.parties(w, r)
	if !ok {
		return
	}
	var req beneficiariesRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	bs, err := parseBeneficiaries(req.Beneficiaries)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	plan, err := h.svc.SetBeneficiaries(r.Context(), who, owner, bs)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, newPlanView(plan))
}

type planAction func(ctx context.Context, caller, owner domain.Address) (domain.WillPlan, error)

// Activate arms a draft plan.
// POST /api/wills/{owner}/activate
func (h *WillHandler) Activate(w http.ResponseWriter, r *http.Request) { h.act(w, r, h.svc.Activate) }

// Revoke cancels a plan that has not been released.
// POST /api/wills/{owner}/revoke
func (h *WillHandler) Revoke(w http.ResponseWriter, r *http.Request) { h.act(w, r, h.svc.Revoke) }

// InitiateRelease starts release once the trigger condition holds.
// POST /api/wills/{owner}/initiate
func (h *WillHandler) InitiateRelease(w http.ResponseWriter, r *http.Request) {
	h.act(w, r, h.svc.InitiateRelease)
}

// Approve records the executor's approval.
// POST /api/wills/{owner}/approve
func (h *WillHandler) Approve(w http.ResponseWriter, r *http.Request) { h.act(w, r, h.svc.Approve) }

// Attest records the KYC verifier's attestation.
// POST /api/wills/{owner}/attest
func (h *WillHandler) Attest(w http.ResponseWriter, r *http.Request) { h.act(w, r, h.svc.Attest) }

// Release distributes the owner's vault balance to the beneficiaries.
// POST /api/wills/{owner}/release
func (h *WillHandler) Release(w http.ResponseWriter, r *http.Request) { h.act(w, r, h.svc.Release) }

// CheckIn records owner activity, resetting inactivity triggers. Only the
// owner may check in.
// POST /api/wills/{owner}/checkin
func (h *WillHandler) CheckIn(w http.ResponseWriter, r *http.Request) {
	who, owner, ok := h.parties(w, r)
	if !ok {
		return
	}
	if who != owner {
		writeDomainError(w, h.logger, fmt.Errorf("%w: only the owner may check in", domain.ErrUnauthorized))
		return
	}
	acct, err := h.vault.CheckIn(r.Context(), owner)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, newAccountView(acct))
}

func (h *WillHandler) act(w http.ResponseWriter, r *http.Request, op planAction) {
	who, owner, ok := h.parties(w, r)
	if !ok {
		return
	}
	plan, err := op(r.Context(), who, owner)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, newPlanView(plan))
}

// parties returns the caller and the plan owner from the path.
func (h *WillHandler) parties(w http.ResponseWriter, r *http.Request) (domain.Address, domain.Address, bool) {
	who, ok := requireCaller(w, r)
	if !ok {
		return domain.Address{}, domain.Address{}, false
	}
	owner, err := addressParam("owner", pathParam(r, "owner"))
	if err != nil {
		writeDomainError(w, h.logger, err)
		return domain.Address{}, domain.Address{}, false
	}
	return who, owner, true
}

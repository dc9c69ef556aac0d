package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/bitpesa/bitpesa/internal/domain"
	"github.com/bitpesa/bitpesa/internal/service"
)

// VaultHandler serves collateral vault endpoints. Deposits and withdrawals
// act on the caller's own balance.
type VaultHandler struct {
	svc    *service.VaultService
	logger *slog.Logger
}

// NewVaultHandler creates a VaultHandler backed by the given service.
func NewVaultHandler(svc *service.VaultService, logger *slog.Logger) *VaultHandler {
	return &VaultHandler{svc: svc, logger: logHandler(logger, "vault")}
}

type satsRequest struct {
	Sats sats `json:"sats"`
}

// GetAccount returns an owner's free balance and last activity.
// GET /api/vault/{owner}
func (h *VaultHandler) GetAccount(w http.ResponseWriter, r *http.Request) {
	owner, err := addressParam("owner", pathParam(r, "owner"))
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, newAccountView(h.svc.Account(owner)))
}

// Deposit credits the caller's vault.
// POST /api/vault/deposit
func (h *VaultHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	h.move(w, r, h.svc.Deposit)
}

// Withdraw debits the caller's vault.
// POST /api/vault/withdraw
func (h *VaultHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	h.move(w, r, h.svc.Withdraw)
}

func (h *VaultHandler) move(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, owner domain.Address, sats uint64) (domain.Account, error)) {
	who, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req satsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	acct, err := op(r.Context(), who, uint64(req.Sats))
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, newAccountView(acct))
}

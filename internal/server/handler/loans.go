package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/bitpesa/bitpesa/internal/domain"
	"github.com/bitpesa/bitpesa/internal/service"
)

// LoanHandler serves loan ledger endpoints.
type LoanHandler struct {
	svc    *service.LoanService
	logger *slog.Logger
}

// NewLoanHandler creates a LoanHandler backed by the given service.
func NewLoanHandler(svc *service.LoanService, logger *slog.Logger) *LoanHandler {
	return &LoanHandler{svc: svc, logger: logHandler(logger, "loans")}
}

type openRequest struct {
	CollateralSats  sats   `json:"collateral_sats"`
	PrincipalUSD    string `json:"principal_usd"`
	InterestRateBps uint32 `json:"interest_rate_bps"`
}

type repayRequest struct {
	AmountUSD string `json:"amount_usd"`
}

// OpenPosition borrows against collateral taken from the caller's vault.
// POST /api/loans
func (h *LoanHandler) OpenPosition(w http.ResponseWriter, r *http.Request) {
	who, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req openRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	principal, err := domain.ParseUSD(req.PrincipalUSD)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}

	pos, err := h.svc.Open(r.Context(), who, uint64(req.CollateralSats), principal, req.InterestRateBps)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, newPositionView(pos))
}

// GetPosition returns one position with its current health ratio. When the
// price is stale the position is returned without one.
// GET /api/loans/{id}
func (h *LoanHandler) GetPosition(w http.ResponseWriter, r *http.Request) {
	pos, health, err := h.svc.Position(pathParam(r, "id"))
	if err != nil && !(errors.Is(err, domain.ErrStalePrice) && pos.ID != "") {
		writeDomainError(w, h.logger, err)
		return
	}
	v := newPositionView(pos)
	if err == nil && pos.Status == domain.PositionStatusOpen {
		v.HealthRatio = &health
	}
	writeJSON(w, http.StatusOK, v)
}

// ListPositions lists an owner's positions, or every open position when no
// owner is given.
// GET /api/loans?owner=&limit=&offset=
func (h *LoanHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	var (
		ps  []domain.Position
		err error
	)
	if q := r.URL.Query().Get("owner"); q != "" {
		owner, perr := domain.ParseAddress(q)
		if perr != nil {
			writeDomainError(w, h.logger, perr)
			return
		}
		ps, err = h.svc.ByOwner(owner)
	} else {
		ps, err = h.svc.OpenPositions()
	}
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, newPositionViews(page(ps, parseListOpts(r))))
}

// Repay pays down a position. Anyone may repay; collateral returns to the
// owner once the debt is cleared.
// POST /api/loans/{id}/repay
func (h *LoanHandler) Repay(w http.ResponseWriter, r *http.Request) {
	who, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req repayRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	amount, err := domain.ParseUSD(req.AmountUSD)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}

	res, err := h.svc.Repay(r.Context(), who, pathParam(r, "id"), amount)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, repayView{
		Position:         newPositionView(res.Position),
		AppliedUSD:       domain.FormatUSD(res.AppliedUSD),
		InterestPaidUSD:  domain.FormatUSD(res.InterestPaidUSD),
		PrincipalPaidUSD: domain.FormatUSD(res.PrincipalPaidUSD),
		ReturnedSats:     u64(res.ReturnedSats),
	})
}

// Liquidate seizes the collateral of an unhealthy position with the caller
// as liquidator.
// POST /api/loans/{id}/liquidate
func (h *LoanHandler) Liquidate(w http.ResponseWriter, r *http.Request) {
	who, ok := requireCaller(w, r)
	if !ok {
		return
	}
	res, err := h.svc.Liquidate(r.Context(), who, pathParam(r, "id"))
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, liquidationView{
		PositionID:      res.PositionID,
		Liquidator:      res.Liquidator.Hex(),
		HealthRatio:     res.HealthRatio,
		SeizedSats:      u64(res.SeizedSats),
		DebtSats:        u64(res.DebtSats),
		LiquidatorSats:  u64(res.LiquidatorSats),
		ProtocolFeeSats: u64(res.ProtocolFeeSats),
		OwnerRefundSats: u64(res.OwnerRefundSats),
	})
}

// AddCollateral moves sats from the caller's vault into the position.
// POST /api/loans/{id}/collateral/add
func (h *LoanHandler) AddCollateral(w http.ResponseWriter, r *http.Request) {
	h.adjust(w, r, h.svc.AddCollateral)
}

// RemoveCollateral returns sats to the caller's vault if the position stays
// above the required ratio.
// POST /api/loans/{id}/collateral/remove
func (h *LoanHandler) RemoveCollateral(w http.ResponseWriter, r *http.Request) {
	h.adjust(w, r, h.svc.RemoveCollateral)
}

func (h *LoanHandler) adjust(w http.ResponseWriter, r *http.Request,
	op func(ctx context.Context, owner domain.Address, id string, sats uint64) (domain.Position, error)) {
	who, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req satsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	pos, err := op(r.Context(), who, pathParam(r, "id"), uint64(req.Sats))
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, newPositionView(pos))
}

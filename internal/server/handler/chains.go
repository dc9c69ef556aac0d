package handler

import (
	"log/slog"
	"net/http"

	"github.com/bitpesa/bitpesa/internal/domain"
	"github.com/bitpesa/bitpesa/internal/service"
)

// ChainHandler serves the bridge allow-list. Changes require the admin as
// caller.
type ChainHandler struct {
	svc    *service.ChainService
	logger *slog.Logger
}

// NewChainHandler creates a ChainHandler backed by the given service.
func NewChainHandler(svc *service.ChainService, logger *slog.Logger) *ChainHandler {
	return &ChainHandler{svc: svc, logger: logHandler(logger, "chains")}
}

// ListChains returns the supported destination chains.
// GET /api/chains
func (h *ChainHandler) ListChains(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"chains": chainStrings(h.svc.List())})
}

// AddChain allow-lists a chain.
// POST /api/chains
func (h *ChainHandler) AddChain(w http.ResponseWriter, r *http.Request) {
	who, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req struct {
		Selector string `json:"selector"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	sel, err := domain.ParseChainSelector(req.Selector)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	if err := h.svc.Add(r.Context(), who, sel); err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"chains": chainStrings(h.svc.List())})
}

// RemoveChain drops a chain from the allow-list. Messages already sent to it
// are unaffected.
// DELETE /api/chains/{selector}
func (h *ChainHandler) RemoveChain(w http.ResponseWriter, r *http.Request) {
	who, ok := requireCaller(w, r)
	if !ok {
		return
	}
	sel, err := domain.ParseChainSelector(pathParam(r, "selector"))
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	if err := h.svc.Remove(r.Context(), who, sel); err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"chains": chainStrings(h.svc.List())})
}

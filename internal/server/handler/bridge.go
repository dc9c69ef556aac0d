package handler

import (
	"log/slog"
	"net/http"

	"github.com/bitpesa/bitpesa/internal/domain"
	"github.com/bitpesa/bitpesa/internal/service"
)

// BridgeHandler serves cross-chain transfer endpoints.
type BridgeHandler struct {
	svc    *service.BridgeService
	logger *slog.Logger
}

// NewBridgeHandler creates a BridgeHandler backed by the given service.
func NewBridgeHandler(svc *service.BridgeService, logger *slog.Logger) *BridgeHandler {
	return &BridgeHandler{svc: svc, logger: logHandler(logger, "bridge")}
}

type sendRequest struct {
	DestChain  string `json:"dest_chain"`
	AmountSats sats   `json:"amount_sats"`
	Recipient  string `json:"recipient"`
}

// Send debits the caller's vault and queues a message for the destination
// chain. The response carries the assigned nonce.
// POST /api/bridge/send
func (h *BridgeHandler) Send(w http.ResponseWriter, r *http.Request) {
	who, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req sendRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	dest, err := domain.ParseChainSelector(req.DestChain)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	recipient, err := domain.ParseAddress(req.Recipient)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}

	msg, err := h.svc.Send(r.Context(), who, dest, uint64(req.AmountSats), recipient)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusAccepted, newMessageView(msg))
}

// ListOutbox lists a sender's outbound messages.
// GET /api/bridge/outbox?sender=&limit=&offset=
func (h *BridgeHandler) ListOutbox(w http.ResponseWriter, r *http.Request) {
	sender, err := addressParam("sender", r.URL.Query().Get("sender"))
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	msgs := page(h.svc.Outbox(sender), parseListOpts(r))
	out := make([]messageView, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, newMessageView(m))
	}
	writeJSON(w, http.StatusOK, out)
}

package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bitpesa/bitpesa/internal/domain"
	"github.com/bitpesa/bitpesa/internal/engine"
	"github.com/bitpesa/bitpesa/internal/service"
)

// StatusHandler reports the engine's configuration and headline figures.
type StatusHandler struct {
	mode   string
	cfg    engine.Config
	feed   engine.PriceFeed
	vault  *service.VaultService
	loans  *service.LoanService
	chains *service.ChainService
	logger *slog.Logger
}

// NewStatusHandler creates a StatusHandler for the given run mode.
func NewStatusHandler(mode string, cfg engine.Config, feed engine.PriceFeed, vault *service.VaultService,
	loans *service.LoanService, chains *service.ChainService, logger *slog.Logger) *StatusHandler {
	return &StatusHandler{
		mode:   mode,
		cfg:    cfg,
		feed:   feed,
		vault:  vault,
		loans:  loans,
		chains: chains,
		logger: logHandler(logger, "status"),
	}
}

// GetStatus responds with the mode, price and ledger totals. A missing price
// is reported, not treated as a failure.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	total := h.vault.TotalSats()
	resp := map[string]any{
		"mode":                      h.mode,
		"home_chain":                h.cfg.HomeChain.String(),
		"collateral_asset":          h.cfg.CollateralAsset,
		"required_collateral_ratio": h.cfg.RequiredCollateralRatio,
		"liquidation_threshold":     h.cfg.LiquidationThreshold,
		"vault_sats":                u64(total),
		"vault_btc":                 domain.FormatBTC(total),
		"supported_chains":          chainStrings(h.chains.List()),
	}

	if open, err := h.loans.OpenPositions(); err == nil {
		resp["open_positions"] = len(open)
	} else {
		h.logger.Warn("open positions unavailable", slog.String("error", err.Error()))
	}

	if reading, err := h.feed.Price(h.cfg.CollateralAsset); err == nil {
		resp["price_usd"] = decimal.NewFromBigInt(reading.Price.ToBig(), -int32(reading.Decimals)).String()
		resp["price_updated_at"] = reading.UpdatedAt.UTC().Format(time.RFC3339)
		resp["price_age_seconds"] = int64(time.Since(reading.UpdatedAt).Seconds())
	} else {
		resp["price_error"] = err.Error()
	}

	writeJSON(w, http.StatusOK, resp)
}

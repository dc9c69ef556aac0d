package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

const probeTimeout = 2 * time.Second

// Probe checks one backing service.
type Probe struct {
	Name  string
	Check func(ctx context.Context) error
}

// HealthHandler serves the health-check endpoint.
type HealthHandler struct {
	probes []Probe
	logger *slog.Logger
}

// NewHealthHandler creates a HealthHandler running the given probes.
func NewHealthHandler(logger *slog.Logger, probes ...Probe) *HealthHandler {
	return &HealthHandler{probes: probes, logger: logger}
}

// HealthCheck reports "ok" when every probe passes and 503 "degraded"
// otherwise.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	status, code := "ok", http.StatusOK
	checks := make(map[string]string, len(h.probes))
	for _, p := range h.probes {
		ctx, cancel := context.WithTimeout(r.Context(), probeTimeout)
		err := p.Check(ctx)
		cancel()
		if err != nil {
			status, code = "degraded", http.StatusServiceUnavailable
			checks[p.Name] = err.Error()
			logHandler(h.logger, "HealthCheck").WarnContext(r.Context(), "health probe failed",
				slog.String("probe", p.Name),
				slog.String("error", err.Error()),
			)
			continue
		}
		checks[p.Name] = "ok"
	}
	writeJSON(w, code, map[string]any{
		"status":    status,
		"checks":    checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

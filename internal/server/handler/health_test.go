package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHealthCheckProbes(t *testing.T) {
	require := require.New(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	up := Probe{Name: "postgres", Check: func(context.Context) error { return nil }}
	down := Probe{Name: "redis", Check: func(context.Context) error { return errors.New("connection refused") }}

	rr := httptest.NewRecorder()
	NewHealthHandler(logger, up).HealthCheck(rr, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	require.Equal(http.StatusOK, rr.Code)

	rr = httptest.NewRecorder()
	NewHealthHandler(logger, up, down).HealthCheck(rr, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	require.Equal(http.StatusServiceUnavailable, rr.Code)

	var body struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	require.NoError(json.Unmarshal(rr.Body.Bytes(), &body))
	require.Equal("degraded", body.Status)
	require.Equal(map[string]string{"postgres": "ok", "redis": "connection refused"}, body.Checks)
}

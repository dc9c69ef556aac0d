package metrics

import (
	"fmt"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/bitpesa/bitpesa/internal/domain"
)

func TestObserveOp(t *testing.T) {
	require := require.New(t)
	m := New()

	m.ObserveOp("liquidate", nil)
	m.ObserveOp("liquidate", fmt.Errorf("engine: liquidate: %w", domain.ErrAboveLiquidationThreshold))
	m.ObserveOp("liquidate", fmt.Errorf("engine: liquidate: %w", domain.ErrAboveLiquidationThreshold))

	require.Equal(1.0, testutil.ToFloat64(m.engineOps.WithLabelValues("liquidate", "ok")))
	require.Equal(2.0, testutil.ToFloat64(m.engineOps.WithLabelValues("liquidate", "above_liquidation_threshold")))
}

func TestObserveLiquidation(t *testing.T) {
	m := New()
	m.ObserveLiquidation(domain.LiquidationResult{SeizedSats: 1_000_000})
	m.ObserveLiquidation(domain.LiquidationResult{SeizedSats: 500})
	require.Equal(t, 2.0, testutil.ToFloat64(m.liquidations))
	require.Equal(t, 1_000_500.0, testutil.ToFloat64(m.seizedSats))
}

func TestHandlerExposesCollectors(t *testing.T) {
	require := require.New(t)
	m := New()
	m.ObserveHTTP("GET", "GET /api/health", 200, 3*time.Millisecond)
	m.ObserveRelay("receive", domain.ErrReplayedNonce)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(200, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(err)
	require.Contains(string(body), `bitpesa_http_requests_total{method="GET",route="GET /api/health",status="2xx"} 1`)
	require.Contains(string(body), `bitpesa_relay_messages_total{result="replayed_nonce",stage="receive"} 1`)
	require.Contains(string(body), "go_goroutines")
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.ObserveOp("deposit", nil)
	m.ObserveHTTP("GET", "/", 200, time.Second)
	m.ObserveLiquidation(domain.LiquidationResult{})
	m.ObserveRelay("ack", nil)
	m.ObservePriceAge(time.Second)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 404, rec.Code)
}

package middleware

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
	_, _ = w.Write([]byte("ok"))
})

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestAuth(t *testing.T) {
	require := require.New(t)
	h := Auth("secret", "/api/health", "/public/")(okHandler)

	require.Equal(http.StatusOK, serve(h, httptest.NewRequest(http.MethodGet, "/api/health", nil)).Code)
	require.Equal(http.StatusOK, serve(h, httptest.NewRequest(http.MethodGet, "/public/x", nil)).Code)

	rr := serve(h, httptest.NewRequest(http.MethodGet, "/api/chains", nil))
	require.Equal(http.StatusUnauthorized, rr.Code)
	require.JSONEq(`{"error":"missing authentication token","code":"unauthenticated"}`, rr.Body.String())

	req := httptest.NewRequest(http.MethodGet, "/api/chains", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	require.Equal(http.StatusUnauthorized, serve(h, req).Code)

	req = httptest.NewRequest(http.MethodGet, "/api/chains", nil)
	req.Header.Set("Authorization", "bearer secret")
	require.Equal(http.StatusOK, serve(h, req).Code)

	req = httptest.NewRequest(http.MethodGet, "/api/chains", nil)
	req.Header.Set("X-API-Key", "secret")
	require.Equal(http.StatusOK, serve(h, req).Code)
}

func TestCORS(t *testing.T) {
	require := require.New(t)
	h := CORS([]string{"http://localhost:3000"})(okHandler)

	req := httptest.NewRequest(http.MethodOptions, "/api/loans", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rr := serve(h, req)
	require.Equal(http.StatusNoContent, rr.Code)
	require.Equal("http://localhost:3000", rr.Header().Get("Access-Control-Allow-Origin"))
	require.Contains(rr.Header().Get("Access-Control-Allow-Headers"), "X-Caller")

	req = httptest.NewRequest(http.MethodGet, "/api/loans", nil)
	req.Header.Set("Origin", "http://evil.example")
	rr = serve(h, req)
	require.Equal(http.StatusOK, rr.Code)
	require.Empty(rr.Header().Get("Access-Control-Allow-Origin"))
	require.Equal("Origin", rr.Header().Get("Vary"))
}

type stubLimiter struct {
	allow bool
	err   error
	keys  []string
}

func (l *stubLimiter) Allow(_ context.Context, key string, _ int, _ time.Duration) (bool, error) {
	l.keys = append(l.keys, key)
	return l.allow, l.err
}

func TestRateLimit(t *testing.T) {
	require := require.New(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	deny := &stubLimiter{}
	req := httptest.NewRequest(http.MethodGet, "/api/chains", nil)
	req.Header.Set("X-Forwarded-For", "10.0.0.1, 10.0.0.2")
	rr := serve(RateLimit(deny, 5, 3*time.Second, logger)(okHandler), req)
	require.Equal(http.StatusTooManyRequests, rr.Code)
	require.Equal("3", rr.Header().Get("Retry-After"))
	require.Equal([]string{"ratelimit:api:10.0.0.1"}, deny.keys)

	broken := &stubLimiter{err: errors.New("redis down")}
	rr = serve(RateLimit(broken, 5, time.Second, logger)(okHandler), httptest.NewRequest(http.MethodGet, "/api/chains", nil))
	require.Equal(http.StatusOK, rr.Code)
}

func TestRecorderSharedAcrossMiddleware(t *testing.T) {
	var seen *statusRecorder
	inner := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		seen = w.(*statusRecorder)
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("tea"))
	})
	outer := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := record(w)
		inner.ServeHTTP(record(rec), r)
		require.Same(t, rec, seen)
		require.Equal(t, http.StatusTeapot, rec.status)
		require.Equal(t, 3, rec.bytes)
	})
	serve(outer, httptest.NewRequest(http.MethodGet, "/", nil))
}

package middleware

import (
	"net/http"
	"time"

	"github.com/bitpesa/bitpesa/internal/metrics"
)

// Metrics records request counts and latency by route pattern. Requests that
// match no route are labelled "unmatched".
func Metrics(m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := record(w)
			next.ServeHTTP(rec, r)
			m.ObserveHTTP(r.Method, routeOf(r), rec.status, time.Since(start))
		})
	}
}

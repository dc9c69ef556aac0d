// Package metrics owns the process Prometheus registry and the collectors the
// service, keeper, relay and HTTP layers report into. A nil *Metrics is valid
// and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bitpesa/bitpesa/internal/domain"
)

const namespace = "bitpesa"

// Metrics groups every collector the daemon exports.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests  *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec
	engineOps     *prometheus.CounterVec
	liquidations  prometheus.Counter
	seizedSats    prometheus.Counter
	relayMessages *prometheus.CounterVec
	priceAge      prometheus.Gauge
}

// New builds a registry with process and Go runtime collectors plus the
// application collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by method, route pattern and status code.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route pattern.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		engineOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "operations_total",
			Help:      "Engine operations by name and outcome code.",
		}, []string{"op", "outcome"}),
		liquidations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "keeper",
			Name:      "liquidations_total",
			Help:      "Positions liquidated by the keeper.",
		}),
		seizedSats: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "keeper",
			Name:      "seized_sats_total",
			Help:      "Collateral seized by keeper liquidations, in satoshis.",
		}),
		relayMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "messages_total",
			Help:      "Bridge messages handled by the relay, by stage and result.",
		}, []string{"stage", "result"}),
		priceAge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pricefeed",
			Name:      "age_seconds",
			Help:      "Age of the collateral price reading at the last refresh.",
		}),
	}
	m.registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
		m.httpRequests, m.httpDuration, m.engineOps,
		m.liquidations, m.seizedSats, m.relayMessages, m.priceAge,
	)
	return m
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveHTTP records one served request.
func (m *Metrics) ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, statusLabel(status)).Inc()
	m.httpDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}

// ObserveOp records an engine operation labelled by domain.Code(err).
func (m *Metrics) ObserveOp(op string, err error) {
	if m == nil {
		return
	}
	m.engineOps.WithLabelValues(op, domain.Code(err)).Inc()
}

// ObserveLiquidation records a keeper liquidation.
func (m *Metrics) ObserveLiquidation(res domain.LiquidationResult) {
	if m == nil {
		return
	}
	m.liquidations.Inc()
	m.seizedSats.Add(float64(res.SeizedSats))
}

// ObserveRelay records a relay step. stage is publish, receive or ack.
func (m *Metrics) ObserveRelay(stage string, err error) {
	if m == nil {
		return
	}
	m.relayMessages.WithLabelValues(stage, domain.Code(err)).Inc()
}

// ObservePriceAge records how old the latest price reading was.
func (m *Metrics) ObservePriceAge(age time.Duration) {
	if m == nil {
		return
	}
	m.priceAge.Set(age.Seconds())
}

func statusLabel(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}

// Package metrics exposes Prometheus collectors for scans and HTTP traffic.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/qrshield/qrshield-go/internal/classify"
)

// Latency buckets in milliseconds.
var latencyBuckets = []float64{
	0.1, 0.5, 1, 5, // in-process model and whitelist hits
	10, 25, 50, 100, // remote model
	250, 500, 1000, 2500, // slow sidecar or image decode
}

// Metrics holds the service collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	ScansTotal      *prometheus.CounterVec
	WhitelistHits   prometheus.Counter
	ClassifyLatency *prometheus.HistogramVec
	ModelLoaded     prometheus.Gauge
	ScanErrors      *prometheus.CounterVec
	RequestsTotal   *prometheus.CounterVec
	RequestLatency  *prometheus.HistogramVec
}

// New creates and registers every collector, plus the Go and process collectors.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	m := &Metrics{
		registry: registry,
		ScansTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "qrshield_scans_total",
				Help: "Total number of classified URLs",
			},
			[]string{"status", "source"},
		),
		WhitelistHits: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "qrshield_whitelist_hits_total",
				Help: "URLs resolved by the trusted whitelist without the model",
			},
		),
		ClassifyLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "qrshield_classify_latency_ms",
				Help:    "Classification latency in milliseconds",
				Buckets: latencyBuckets,
			},
			[]string{"classifier"},
		),
		ModelLoaded: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "qrshield_model_loaded",
				Help: "1 when a model is loaded, 0 in whitelist-only mode",
			},
		),
		ScanErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "qrshield_scan_errors_total",
				Help: "Scans that could not be classified",
			},
			[]string{"reason"},
		),
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "qrshield_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "code"},
		),
		RequestLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "qrshield_http_latency_ms",
				Help:    "HTTP request latency in milliseconds",
				Buckets: latencyBuckets,
			},
			[]string{"route"},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveScan records a successful classification.
func (m *Metrics) ObserveScan(r *classify.Result, source string) {
	m.ScansTotal.WithLabelValues(string(r.Status), source).Inc()
	if r.Whitelisted() {
		m.WhitelistHits.Inc()
	}
	m.ClassifyLatency.WithLabelValues(r.Classifier).Observe(r.ResponseTimeMs)
}

// ObserveError records a failed classification.
func (m *Metrics) ObserveError(reason string) {
	m.ScanErrors.WithLabelValues(reason).Inc()
}

// SetModelLoaded updates the model gauge.
func (m *Metrics) SetModelLoaded(loaded bool) {
	if loaded {
		m.ModelLoaded.Set(1)
		return
	}
	m.ModelLoaded.Set(0)
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Middleware counts requests and their latency by chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.RequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		m.RequestLatency.WithLabelValues(route).Observe(float64(time.Since(start).Microseconds()) / 1000.0)
	})
}

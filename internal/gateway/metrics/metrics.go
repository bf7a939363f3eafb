// Package metrics exposes Prometheus collectors for the gateway.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tenantgate"

// Outcome labels for AuthOperations.
const (
	OutcomeSuccess     = "success"
	OutcomeDenied      = "denied"
	OutcomeUnavailable = "unavailable"
	OutcomeError       = "error"
)

// Metrics holds the gateway's collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	AuthOperations *prometheus.CounterVec
	ReuseDetected  prometheus.Counter
	TokensSwept    prometheus.Counter
	RetryAttempts  *prometheus.CounterVec
	HTTPRequests   *prometheus.CounterVec
	HTTPDuration   *prometheus.HistogramVec
	HTTPInFlight   prometheus.Gauge

	gatherer prometheus.Gatherer
}

// New creates the collectors and registers them on reg. When reg is also a
// prometheus.Gatherer, Handler serves from it.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		AuthOperations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_operations_total",
			Help:      "Session operations by operation and outcome.",
		}, []string{"operation", "outcome"}),
		ReuseDetected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refresh_reuse_detected_total",
			Help:      "Refresh token families revoked because a superseded token was presented.",
		}),
		TokensSwept: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refresh_tokens_swept_total",
			Help:      "Expired refresh token records deleted by housekeeping.",
		}),
		RetryAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_retry_attempts_total",
			Help:      "Retried idempotent store reads by operation.",
		}, []string{"operation"}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		HTTPInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_in_flight_requests",
			Help:      "HTTP requests currently being served.",
		}),
	}

	for _, c := range []prometheus.Collector{
		m.AuthOperations, m.ReuseDetected, m.TokensSwept, m.RetryAttempts,
		m.HTTPRequests, m.HTTPDuration, m.HTTPInFlight,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	if g, ok := reg.(prometheus.Gatherer); ok {
		m.gatherer = g
	} else {
		m.gatherer = prometheus.DefaultGatherer
	}
	return m, nil
}

var (
	defaultOnce sync.Once
	defaultM    *Metrics
	defaultErr  error
)

// Default registers the collectors on the default registry once per process.
func Default() (*Metrics, error) {
	defaultOnce.Do(func() {
		defaultM, defaultErr = New(prometheus.DefaultRegisterer)
	})
	return defaultM, defaultErr
}

// Handler serves the registry the collectors were registered on.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// Auth records one session operation outcome.
func (m *Metrics) Auth(operation, outcome string) {
	if m == nil {
		return
	}
	m.AuthOperations.WithLabelValues(operation, outcome).Inc()
}

func (m *Metrics) Reuse() {
	if m == nil {
		return
	}
	m.ReuseDetected.Inc()
}

func (m *Metrics) Swept(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.TokensSwept.Add(float64(n))
}

func (m *Metrics) Retry(operation string) {
	if m == nil {
		return
	}
	m.RetryAttempts.WithLabelValues(operation).Inc()
}

// Middleware records request counts and latency. The route label is the
// ServeMux pattern that matched, so it must wrap the mux directly.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.HTTPInFlight.Inc()
		defer m.HTTPInFlight.Dec()

		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		m.HTTPDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		m.HTTPRequests.WithLabelValues(r.Method, route, strconv.Itoa(sw.code)).Inc()
	})
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

package metrics_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aussiebroadwan/tenantgate/internal/gateway/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func newMetrics(t *testing.T) *metrics.Metrics {
	t.Helper()
	m, err := metrics.New(prometheus.NewRegistry())
	require.NoError(t, err)
	return m
}

func TestNew_DuplicateRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := metrics.New(reg)
	require.NoError(t, err)

	_, err = metrics.New(reg)
	require.Error(t, err)
}

func TestCounters(t *testing.T) {
	t.Parallel()
	m := newMetrics(t)

	m.Auth("login", metrics.OutcomeSuccess)
	m.Auth("login", metrics.OutcomeSuccess)
	m.Auth("refresh", metrics.OutcomeDenied)
	m.Reuse()
	m.Swept(3)
	m.Swept(0)
	m.Retry("refresh_lookup")

	require.Equal(t, 2.0, testutil.ToFloat64(m.AuthOperations.WithLabelValues("login", "success")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.AuthOperations.WithLabelValues("refresh", "denied")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.ReuseDetected))
	require.Equal(t, 3.0, testutil.ToFloat64(m.TokensSwept))
	require.Equal(t, 1.0, testutil.ToFloat64(m.RetryAttempts.WithLabelValues("refresh_lookup")))
}

func TestNilMetrics(t *testing.T) {
	t.Parallel()

	var m *metrics.Metrics
	require.NotPanics(t, func() {
		m.Auth("login", metrics.OutcomeSuccess)
		m.Reuse()
		m.Swept(1)
		m.Retry("x")
	})

	h := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusTeapot) })
	rr := httptest.NewRecorder()
	m.Middleware(h).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusTeapot, rr.Code)
}

func TestMiddleware_RouteLabel(t *testing.T) {
	t.Parallel()
	m := newMetrics(t)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /items/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})
	h := m.Middleware(mux)

	for _, path := range []string{"/items/1", "/items/2", "/nope"} {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	require.Equal(t, 2.0, testutil.ToFloat64(m.HTTPRequests.WithLabelValues("GET", "GET /items/{id}", "202")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequests.WithLabelValues("GET", "unmatched", "404")))
	require.Equal(t, 0.0, testutil.ToFloat64(m.HTTPInFlight))
}

func TestHandler(t *testing.T) {
	t.Parallel()
	m := newMetrics(t)
	m.Auth("logout", metrics.OutcomeSuccess)

	srv := httptest.NewServer(m.Handler())
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), `tenantgate_auth_operations_total{operation="logout",outcome="success"} 1`)
}

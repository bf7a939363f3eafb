package http_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aussiebroadwan/tenantgate/internal/gateway/domain"
	gatewayhttp "github.com/aussiebroadwan/tenantgate/internal/gateway/http"
	"github.com/aussiebroadwan/tenantgate/internal/gateway/ledger"
	"github.com/aussiebroadwan/tenantgate/internal/gateway/metrics"
	"github.com/aussiebroadwan/tenantgate/internal/gateway/service"
	"github.com/aussiebroadwan/tenantgate/internal/gateway/store/drivers/memory"
	"github.com/aussiebroadwan/tenantgate/pkg/authsdk"
	"github.com/aussiebroadwan/tenantgate/pkg/cryptox"
	"github.com/aussiebroadwan/tenantgate/pkg/httpx"
	"github.com/aussiebroadwan/tenantgate/pkg/jwtx"
	"github.com/aussiebroadwan/tenantgate/pkg/slogx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

const (
	tenantA  = "acme"
	tenantB  = "globex"
	password = "correct horse battery staple"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type testServer struct {
	client *authsdk.SDKClient
	router *gatewayhttp.Router
	clock  *clock
	url    string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ctx := context.Background()

	st := memory.NewStore()
	t.Cleanup(func() { _ = st.Close() })

	hasher := &cryptox.PasswordHasher{
		Pepper: "test-pepper",
		Params: cryptox.Argon2Params{Memory: 64, Iterations: 1, Parallelism: 1, KeyLength: 32, SaltLength: 16},
	}
	hash, err := hasher.Hash(password)
	require.NoError(t, err)

	require.NoError(t, st.Tenants().CreateTenant(ctx, domain.Tenant{ID: tenantA, Name: "Acme"}))
	require.NoError(t, st.Tenants().CreateTenant(ctx, domain.Tenant{ID: tenantB, Name: "Globex"}))
	require.NoError(t, st.Principals().CreatePrincipal(ctx, domain.Principal{
		ID: "p-alice", TenantID: tenantA, Login: "alice", PasswordHash: hash, Roles: []string{"user"},
	}))
	require.NoError(t, st.Principals().CreatePrincipal(ctx, domain.Principal{
		ID: "p-carol", TenantID: tenantA, Login: "carol", PasswordHash: hash, Roles: []string{"auditor"},
	}))

	clk := &clock{now: time.Now().UTC().Truncate(time.Second)}
	codec, err := jwtx.NewHS256Codec(jwtx.CodecConfig{
		Secret:    []byte("0123456789abcdef0123456789abcdef"),
		Issuer:    "tenantgate-test",
		AccessTTL: 15 * time.Minute,
		Now:       clk.Now,
	})
	require.NoError(t, err)

	m, err := metrics.New(prometheus.NewRegistry())
	require.NoError(t, err)

	l := ledger.New(st.RefreshTokens(), time.Hour)
	l.Now = clk.Now

	sessions := &service.SessionService{
		Credentials:  service.NewStoreCredentials(st, hasher),
		Ledger:       l,
		Codec:        codec,
		Metrics:      m,
		RetryBackoff: time.Millisecond,
	}

	logger := slogx.Discard()
	router := gatewayhttp.NewRouter(sessions, m, "test", logger)
	router.Checks["store"] = st.Ping
	router.ApplyRoutes()

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	return &testServer{
		client: authsdk.NewSDKClient(srv.URL),
		router: router,
		clock:  clk,
		url:    srv.URL,
	}
}

func (s *testServer) login(t *testing.T, login string) *authsdk.Session {
	t.Helper()
	sess, err := s.client.AuthenticateWithPassword(context.Background(), tenantA, login, password)
	require.NoError(t, err)
	return sess
}

func requireAPIError(t *testing.T, err error, want *authsdk.APIError) {
	t.Helper()
	require.Error(t, err)
	require.ErrorIs(t, err, want, "got %v", err)

	var apiErr *authsdk.APIError
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, want.StatusCode, apiErr.StatusCode)
}

func TestScenario_LoginThenAuthorize(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	ctx := context.Background()

	alice := s.login(t, "alice")
	me, err := alice.Me(ctx)
	require.NoError(t, err)
	require.Equal(t, "p-alice", me.Subject)
	require.Equal(t, tenantA, me.TenantID)
	require.Equal(t, "alice", me.Login)
	require.Equal(t, []string{"user"}, me.Roles)
	require.NotEmpty(t, me.SessionID)

	// carol is authenticated but lacks the role.
	carol := s.login(t, "carol")
	_, err = carol.Me(ctx)
	requireAPIError(t, err, authsdk.ErrForbidden)
}

func TestScenario_ReplayRevokesFamily(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	ctx := context.Background()

	first, err := s.client.Login(ctx, tenantA, "alice", password)
	require.NoError(t, err)

	second, err := s.client.Refresh(ctx, tenantA, first.RefreshToken)
	require.NoError(t, err)

	_, err = s.client.Refresh(ctx, tenantA, first.RefreshToken)
	requireAPIError(t, err, authsdk.ErrUnauthenticated)

	_, err = s.client.Refresh(ctx, tenantA, second.RefreshToken)
	requireAPIError(t, err, authsdk.ErrUnauthenticated)
}

func TestScenario_LogoutThenRefresh(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	ctx := context.Background()

	alice := s.login(t, "alice")
	token := alice.RefreshToken()
	require.NoError(t, alice.Logout(ctx))

	_, err := s.client.Refresh(ctx, tenantA, token)
	requireAPIError(t, err, authsdk.ErrUnauthenticated)

	// Logging out again is still fine.
	require.NoError(t, s.client.Logout(ctx, token))
	require.NoError(t, s.client.Logout(ctx, "never-issued"))
}

func TestScenario_RefreshInOtherTenant(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	ctx := context.Background()

	alice := s.login(t, "alice")

	_, err := s.client.Refresh(ctx, tenantB, alice.RefreshToken())
	requireAPIError(t, err, authsdk.ErrUnauthenticated)

	require.NoError(t, alice.Refresh(ctx))
}

func TestScenario_AccessTokenExpiry(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	ctx := context.Background()

	issuedAt := s.clock.Now()
	alice := s.login(t, "alice")

	s.clock.Set(issuedAt.Add(15*time.Minute - time.Second))
	_, err := alice.Me(ctx)
	require.NoError(t, err)

	s.clock.Set(issuedAt.Add(15*time.Minute + time.Second))
	_, err = alice.Me(ctx)
	requireAPIError(t, err, authsdk.ErrUnauthenticated)
}

func TestLogin_Errors(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		tenant string
		login  string
		pass   string
		want   *authsdk.APIError
	}{
		{"wrong password", tenantA, "alice", "nope", authsdk.ErrInvalidCredentials},
		{"unknown tenant looks like bad credentials", "umbrella", "alice", password, authsdk.ErrInvalidCredentials},
		{"missing tenant", "", "alice", password, authsdk.ErrMissingTenant},
		{"empty login", tenantA, "", password, authsdk.ErrInvalidRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.client.Login(ctx, tt.tenant, tt.login, tt.pass)
			requireAPIError(t, err, tt.want)
		})
	}
}

func TestTenantMismatch(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	ctx := context.Background()

	alice := s.login(t, "alice")
	other := s.client.NewSessionFromTokens(tenantB, alice.AccessToken(), alice.RefreshToken(), 900)

	_, err := other.Me(ctx)
	requireAPIError(t, err, authsdk.ErrTenantMismatch)

	err = other.LogoutAll(ctx)
	requireAPIError(t, err, authsdk.ErrTenantMismatch)
}

func TestLogoutAll(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	ctx := context.Background()

	a := s.login(t, "alice")
	b := s.login(t, "alice")

	require.NoError(t, a.LogoutAll(ctx))

	for _, sess := range []*authsdk.Session{a, b} {
		_, err := s.client.Refresh(ctx, tenantA, sess.RefreshToken())
		requireAPIError(t, err, authsdk.ErrUnauthenticated)
	}
}

func TestMe_RequiresBearer(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	req, err := http.NewRequest(http.MethodGet, s.url+"/api/v1/me", nil)
	require.NoError(t, err)
	req.Header.Set("X-Tenant-ID", tenantA)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.Contains(t, resp.Header.Get("WWW-Authenticate"), "Bearer")
}

func TestLogin_RejectsMalformedBody(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	req, err := http.NewRequest(http.MethodPost, s.url+"/api/v1/auth/login", strings.NewReader(`{"login":"alice","extra":1}`))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-ID", tenantA)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, "no-store", resp.Header.Get("Cache-Control"))
}

func TestLogin_RateLimited(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	ctx := context.Background()

	var lastErr error
	for range httpx.StrictLimit.Burst + 1 {
		_, lastErr = s.client.Login(ctx, tenantA, "alice", "wrong")
	}

	var apiErr *authsdk.APIError
	require.True(t, errors.As(lastErr, &apiErr))
	require.Equal(t, http.StatusTooManyRequests, apiErr.StatusCode)
	require.Equal(t, authsdk.ErrorCodeRateLimited, apiErr.Code)
}

func TestHealth(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	ctx := context.Background()

	live, err := s.client.GetLiveness(ctx)
	require.NoError(t, err)
	require.Equal(t, "ok", live.Status)
	require.Equal(t, "test", live.Version)

	ready, err := s.client.GetReadiness(ctx)
	require.NoError(t, err)
	require.Equal(t, "ok", ready.Status)
	require.Equal(t, map[string]string{"store": "ok"}, ready.Checks)
}

func TestReadyz_FailingCheck(t *testing.T) {
	t.Parallel()

	h := gatewayhttp.ReadyzHandler(time.Now(), "test", map[string]gatewayhttp.Check{
		"store": func(context.Context) error { return nil },
		"redis": func(context.Context) error { return errors.New("connection refused") },
	})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
	require.Contains(t, rr.Body.String(), `"redis":"error: connection refused"`)
	require.Contains(t, rr.Body.String(), `"status":"unavailable"`)
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	s.login(t, "alice")

	resp, err := http.Get(s.url + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), `tenantgate_auth_operations_total{operation="login",outcome="success"} 1`)
	require.Contains(t, string(body), `route="POST /api/v1/auth/login"`)
}

// Package http is the gateway's JSON API.
package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/aussiebroadwan/tenantgate/internal/gateway/metrics"
	"github.com/aussiebroadwan/tenantgate/internal/gateway/service"
	"github.com/aussiebroadwan/tenantgate/internal/gateway/tenancy"
	"github.com/aussiebroadwan/tenantgate/pkg/httpx"
	"github.com/aussiebroadwan/tenantgate/pkg/slogx"
)

// MeRole is the role GET /api/v1/me requires.
const MeRole = "user"

// RateLimits are the profiles applied per route group.
type RateLimits struct {
	Credentials httpx.RateLimitConfig // login
	Tokens      httpx.RateLimitConfig // refresh, logout
	Reads       httpx.RateLimitConfig // resources, health
}

// DefaultRateLimits uses the httpx presets, overridable through
// RATELIMIT_{LOGIN,TOKENS,READS}_* variables.
func DefaultRateLimits() RateLimits {
	return RateLimits{
		Credentials: httpx.ParseRateLimitFromEnv("LOGIN", httpx.StrictLimit),
		Tokens:      httpx.ParseRateLimitFromEnv("TOKENS", httpx.ModerateLimit),
		Reads:       httpx.ParseRateLimitFromEnv("READS", httpx.LenientLimit),
	}
}

// Router holds shared dependencies for HTTP handlers.
type Router struct {
	Mux         *http.ServeMux
	middlewares []httpx.Middleware

	Sessions *service.SessionService
	Metrics  *metrics.Metrics
	Checks   map[string]Check
	Limits   RateLimits

	buildVersion string
	startTime    time.Time
	logger       *slog.Logger
}

func NewRouter(sessions *service.SessionService, m *metrics.Metrics, buildVersion string, logger *slog.Logger) *Router {
	r := &Router{
		Mux:          http.NewServeMux(),
		Sessions:     sessions,
		Metrics:      m,
		Checks:       map[string]Check{},
		Limits:       DefaultRateLimits(),
		buildVersion: buildVersion,
		startTime:    time.Now(),
		logger:       logger,
	}

	// Metrics must sit directly on the mux to see the matched pattern.
	r.middlewares = []httpx.Middleware{
		slogx.HTTPMiddleware(r.logger),
		m.Middleware,
	}

	return r
}

func (r *Router) ApplyRoutes() {
	r.registerAuth()
	r.registerResources()
	r.registerSystem()
}

// ServeHTTP implements http.Handler for Router and applies the global middleware chain.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	httpx.Chain(r.Mux, r.middlewares...).ServeHTTP(w, req)
}

func (r *Router) registerAuth() {
	h := &AuthHandler{Sessions: r.Sessions}

	// Password guessing is limited per IP and tenant.
	r.Mux.Handle("POST /api/v1/auth/login",
		httpx.Chain(http.HandlerFunc(h.Login),
			httpx.RateLimitByIPAndHeader(r.Limits.Credentials, tenancy.Header),
			tenancy.Middleware(true),
		),
	)

	r.Mux.Handle("POST /api/v1/auth/refresh",
		httpx.Chain(http.HandlerFunc(h.Refresh),
			httpx.RateLimitByIP(r.Limits.Tokens),
			tenancy.Middleware(true),
		),
	)

	r.Mux.Handle("POST /api/v1/auth/logout",
		httpx.Chain(http.HandlerFunc(h.Logout),
			httpx.RateLimitByIP(r.Limits.Tokens),
		),
	)

	r.Mux.Handle("POST /api/v1/auth/logout-all",
		httpx.Chain(http.HandlerFunc(h.LogoutAll),
			httpx.AuthnMiddleware(r.Sessions),
			tenancy.Middleware(true),
			httpx.RateLimitByUser(r.Limits.Tokens),
		),
	)
}

func (r *Router) registerResources() {
	r.Mux.Handle("GET /api/v1/me",
		httpx.Chain(&MeHandler{Sessions: r.Sessions, Role: MeRole},
			httpx.AuthnMiddleware(r.Sessions),
			tenancy.Middleware(true),
			httpx.RateLimitByUser(r.Limits.Reads),
		),
	)
}

func (r *Router) registerSystem() {
	// Monitoring systems may poll frequently.
	r.Mux.Handle("GET /livez",
		httpx.Chain(LivezHandler(r.startTime, r.buildVersion),
			httpx.RateLimitByIP(r.Limits.Reads),
		),
	)
	r.Mux.Handle("GET /readyz",
		httpx.Chain(ReadyzHandler(r.startTime, r.buildVersion, r.Checks),
			httpx.RateLimitByIP(r.Limits.Reads),
		),
	)
	r.Mux.Handle("GET /metrics", r.Metrics.Handler())
}

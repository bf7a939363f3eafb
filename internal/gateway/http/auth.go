package http

import (
	"net/http"
	"strings"

	"github.com/aussiebroadwan/tenantgate/internal/gateway/domain"
	"github.com/aussiebroadwan/tenantgate/internal/gateway/service"
	"github.com/aussiebroadwan/tenantgate/internal/gateway/tenancy"
	"github.com/aussiebroadwan/tenantgate/pkg/authsdk"
	"github.com/aussiebroadwan/tenantgate/pkg/httpx"
)

// AuthHandler serves the session endpoints under /api/v1/auth.
type AuthHandler struct {
	Sessions *service.SessionService
}

func tokenResponse(pair domain.TokenPair) authsdk.TokenResponse {
	return authsdk.TokenResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    int(pair.ExpiresIn.Seconds()),
	}
}

// requestTenant is the tenant resolved by tenancy.Middleware, or "".
func requestTenant(r *http.Request) string {
	tc, _ := tenancy.FromContext(r.Context())
	return tc.TenantID
}

// Login serves POST /api/v1/auth/login.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req authsdk.LoginRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		authsdk.ErrInvalidRequest.WriteError(w)
		return
	}

	login := strings.TrimSpace(req.Login)
	if login == "" || req.Password == "" {
		authsdk.ErrInvalidRequest.WriteError(w)
		return
	}

	pair, err := h.Sessions.Login(r.Context(), login, req.Password, requestTenant(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	httpx.NoCache(w)
	httpx.WriteJSON(w, http.StatusOK, tokenResponse(pair))
}

// Refresh serves POST /api/v1/auth/refresh.
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req authsdk.RefreshRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil || req.RefreshToken == "" {
		authsdk.ErrInvalidRequest.WriteError(w)
		return
	}

	pair, err := h.Sessions.Refresh(r.Context(), req.RefreshToken, requestTenant(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	httpx.NoCache(w)
	httpx.WriteJSON(w, http.StatusOK, tokenResponse(pair))
}

// Logout serves POST /api/v1/auth/logout. Unknown tokens still get 204.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	var req authsdk.RefreshRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		authsdk.ErrInvalidRequest.WriteError(w)
		return
	}

	if err := h.Sessions.Logout(r.Context(), req.RefreshToken); err != nil {
		writeError(w, r, err)
		return
	}
	httpx.NoCache(w)
	w.WriteHeader(http.StatusNoContent)
}

// LogoutAll serves POST /api/v1/auth/logout-all for the bearer's subject.
func (h *AuthHandler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	p, err := h.Sessions.Authorize(ctx, httpx.AccessTokenFromContext(ctx), "")
	if err != nil {
		writeError(w, r, err)
		return
	}

	if _, err := h.Sessions.LogoutAll(ctx, p.ID); err != nil {
		writeError(w, r, err)
		return
	}
	httpx.NoCache(w)
	w.WriteHeader(http.StatusNoContent)
}

// MeHandler serves GET /api/v1/me, the example resource that needs the
// "user" role.
type MeHandler struct {
	Sessions *service.SessionService
	Role     string
}

func (h *MeHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	p, err := h.Sessions.Authorize(ctx, httpx.AccessTokenFromContext(ctx), h.Role)
	if err != nil {
		writeError(w, r, err)
		return
	}

	cur, err := h.Sessions.Principal(ctx, p)
	if err != nil {
		writeError(w, r, err)
		return
	}

	claims, _ := httpx.ClaimsFromContext(ctx)
	httpx.WriteJSON(w, http.StatusOK, authsdk.MeResponse{
		Subject:   p.ID,
		TenantID:  p.TenantID,
		Login:     cur.Login,
		Roles:     p.Roles,
		SessionID: claims.SID,
	})
}

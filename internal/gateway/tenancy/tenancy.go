// Package tenancy works out which tenant a request is acting in.
package tenancy

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/aussiebroadwan/tenantgate/internal/gateway/domain"
	"github.com/aussiebroadwan/tenantgate/pkg/authsdk"
	"github.com/aussiebroadwan/tenantgate/pkg/httpx"
	"github.com/aussiebroadwan/tenantgate/pkg/jwtx"
	"github.com/aussiebroadwan/tenantgate/pkg/slogx"
)

// Header carries the caller's tenant on every tenant-scoped request.
const Header = authsdk.TenantHeader

// FromHeader returns the trimmed tenant id in h, or "".
func FromHeader(h http.Header) string {
	return strings.TrimSpace(h.Get(Header))
}

// Resolve derives the request tenant from the header value and the verified
// token claims, either of which may be absent. When both are present they
// must agree; the token is then recorded as the source.
func Resolve(headerTenantID string, claims *jwtx.Claims) (domain.TenantContext, error) {
	tokenTenantID := ""
	if claims != nil {
		tokenTenantID = claims.TenantID
	}

	switch {
	case tokenTenantID != "" && headerTenantID != "" && tokenTenantID != headerTenantID:
		return domain.TenantContext{}, domain.ErrTenantMismatch
	case tokenTenantID != "":
		return domain.TenantContext{TenantID: tokenTenantID, ResolvedFrom: domain.TenantFromToken}, nil
	case headerTenantID != "":
		return domain.TenantContext{TenantID: headerTenantID, ResolvedFrom: domain.TenantFromHeader}, nil
	default:
		return domain.TenantContext{}, domain.ErrMissingTenant
	}
}

type ctxKey struct{}

func WithTenant(ctx context.Context, tc domain.TenantContext) context.Context {
	return context.WithValue(ctx, ctxKey{}, tc)
}

// FromContext returns the tenant resolved by Middleware.
func FromContext(ctx context.Context) (domain.TenantContext, bool) {
	tc, ok := ctx.Value(ctxKey{}).(domain.TenantContext)
	return tc, ok
}

// Middleware resolves the tenant of each request from the X-Tenant-ID header
// and any claims left by httpx.AuthnMiddleware. A mismatch is always
// rejected; a missing tenant is rejected only when required is set.
func Middleware(required bool) httpx.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			var claims *jwtx.Claims
			if c, ok := httpx.ClaimsFromContext(ctx); ok {
				claims = &c
			}

			tc, err := Resolve(FromHeader(r.Header), claims)
			switch {
			case errors.Is(err, domain.ErrTenantMismatch):
				slogx.FromContext(ctx).Warn("tenant mismatch",
					"header_tenant", FromHeader(r.Header),
					"token_tenant", claims.TenantID,
				)
				authsdk.ErrTenantMismatch.WriteError(w)
				return
			case errors.Is(err, domain.ErrMissingTenant):
				if required {
					authsdk.ErrMissingTenant.WriteError(w)
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			ctx = WithTenant(ctx, tc)
			ctx = slogx.WithContext(ctx, slogx.FromContext(ctx).With("tenant_id", tc.TenantID))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

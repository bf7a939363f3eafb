package httpx

import (
	"context"

	"github.com/aussiebroadwan/tenantgate/pkg/jwtx"
)

type ctxKey string

const (
	CtxKeyUserID      ctxKey = "user_id"
	CtxKeyClaims      ctxKey = "claims"
	CtxKeyAccessToken ctxKey = "access_token"
)

func contextWithAuth(ctx context.Context, raw string, c jwtx.Claims) context.Context {
	ctx = context.WithValue(ctx, CtxKeyUserID, c.Subject)
	ctx = context.WithValue(ctx, CtxKeyClaims, c)
	ctx = context.WithValue(ctx, CtxKeyAccessToken, raw)
	return ctx
}

// ClaimsFromContext returns the verified claims placed by AuthnMiddleware.
func ClaimsFromContext(ctx context.Context) (jwtx.Claims, bool) {
	c, ok := ctx.Value(CtxKeyClaims).(jwtx.Claims)
	return c, ok
}

// AccessTokenFromContext returns the raw bearer token placed by AuthnMiddleware.
func AccessTokenFromContext(ctx context.Context) string {
	raw, _ := ctx.Value(CtxKeyAccessToken).(string)
	return raw
}

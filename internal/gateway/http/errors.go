package http

import (
	"errors"
	"net/http"

	"github.com/aussiebroadwan/tenantgate/internal/gateway/domain"
	"github.com/aussiebroadwan/tenantgate/pkg/authsdk"
	"github.com/aussiebroadwan/tenantgate/pkg/slogx"
)

// writeError renders a service error as its API error. Unknown tenants are
// reported as bad credentials so tenant existence cannot be probed.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidCredentials), errors.Is(err, domain.ErrTenantNotFound):
		authsdk.ErrInvalidCredentials.WriteError(w)
	case errors.Is(err, domain.ErrUnauthenticated):
		authsdk.ErrUnauthenticated.WriteError(w)
	case errors.Is(err, domain.ErrForbidden):
		authsdk.ErrForbidden.WriteError(w)
	case errors.Is(err, domain.ErrTenantMismatch):
		authsdk.ErrTenantMismatch.WriteError(w)
	case errors.Is(err, domain.ErrMissingTenant):
		authsdk.ErrMissingTenant.WriteError(w)
	case errors.Is(err, domain.ErrStoreUnavailable):
		w.Header().Set("Retry-After", "1")
		authsdk.ErrStoreUnavailable.WriteError(w)
	default:
		slogx.FromContext(r.Context()).Error("unhandled error", "err", err)
		authsdk.ErrServerError.WriteError(w)
	}
}

package domain

import "errors"

// Caller-facing failures. Anything more specific is logged, not returned.
var (
	ErrInvalidCredentials = errors.New("invalid_credentials")
	ErrTenantNotFound     = errors.New("tenant_not_found")
	ErrTenantMismatch     = errors.New("tenant_mismatch")
	ErrMissingTenant      = errors.New("missing_tenant")
	ErrUnauthenticated    = errors.New("unauthenticated")
	ErrForbidden          = errors.New("forbidden")
	ErrStoreUnavailable   = errors.New("store_unavailable")
)

package domain

import "time"

type TenantStatus string

const (
	TenantActive    TenantStatus = "active"
	TenantSuspended TenantStatus = "suspended"
)

// Tenant is an isolated organization. Tokens minted for one tenant are never
// valid in another.
type Tenant struct {
	ID        string
	Name      string
	Status    TenantStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (t Tenant) Active() bool { return t.Status == TenantActive }

// TenantSource records where a request's tenant came from.
type TenantSource string

const (
	TenantFromHeader TenantSource = "header"
	TenantFromToken  TenantSource = "token"
)

// TenantContext is the tenant resolved for a single request. It is never
// persisted.
type TenantContext struct {
	TenantID     string
	ResolvedFrom TenantSource
}

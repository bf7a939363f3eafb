package store

import (
	"context"
	"errors"
	"time"

	"github.com/aussiebroadwan/tenantgate/internal/gateway/domain"
)

var (
	ErrNotFound      = errors.New("store: not found")
	ErrAlreadyExists = errors.New("store: already exists")

	// ErrConflict is returned by AdvanceFamily when the family is no longer at
	// the expected generation or has been revoked.
	ErrConflict = errors.New("store: conflict")
)

// Store is the root data access interface. Concrete drivers (sqlite,
// postgres, memory) implement this and expose sub-repositories per concern.
// Multi-step writes are atomic inside a single repository call, so no
// transaction handle is exposed to callers.
type Store interface {
	Tenants() Tenants
	Principals() Principals
	RefreshTokens() RefreshTokens

	ApplyMigrations() error

	// Close releases any underlying resources.
	Close() error

	// Ping verifies the backing connection is still alive.
	Ping(ctx context.Context) error
}

type Tenants interface {
	// GetTenant returns a tenant by id.
	GetTenant(ctx context.Context, id string) (domain.Tenant, error)

	// CreateTenant inserts a tenant; ErrAlreadyExists on duplicate id.
	CreateTenant(ctx context.Context, t domain.Tenant) error

	// UpdateTenantStatus suspends or reactivates a tenant.
	UpdateTenantStatus(ctx context.Context, id string, status domain.TenantStatus) error
}

type Principals interface {
	// GetPrincipalByLogin looks up a login inside one tenant. Logins are
	// unique per tenant, not globally.
	GetPrincipalByLogin(ctx context.Context, tenantID, login string) (domain.Principal, error)

	// GetPrincipalByID returns a principal by id.
	GetPrincipalByID(ctx context.Context, id string) (domain.Principal, error)

	// CreatePrincipal inserts a principal (id is provided by the caller).
	CreatePrincipal(ctx context.Context, p domain.Principal) error

	// UpdatePrincipalRoles replaces the role set and bumps updated_at.
	UpdatePrincipalRoles(ctx context.Context, id string, roles []string) error

	// DeletePrincipal removes a principal. Its refresh families stay until
	// they are revoked or swept.
	DeletePrincipal(ctx context.Context, id string) error
}

// RefreshTokens is the ledger's backing store. Every method is atomic on its
// own.
type RefreshTokens interface {
	// CreateFamily stores a new family together with its generation 0 record.
	CreateFamily(ctx context.Context, family domain.RefreshFamily, first domain.RefreshTokenRecord) error

	// GetRefreshToken returns a record by token fingerprint.
	GetRefreshToken(ctx context.Context, hash string) (domain.RefreshTokenRecord, error)

	// GetFamily returns a family by id.
	GetFamily(ctx context.Context, id string) (domain.RefreshFamily, error)

	// AdvanceFamily moves the family of prev from prev.Generation to
	// next.Generation, revokes prev and stores next. It returns ErrConflict
	// and changes nothing when the family is revoked or no longer at
	// prev.Generation.
	AdvanceFamily(ctx context.Context, prev, next domain.RefreshTokenRecord) error

	// RevokeFamily marks the family and all its records revoked. Revoking an
	// unknown or already revoked family is not an error.
	RevokeFamily(ctx context.Context, familyID string) error

	// RevokeSubjectFamilies revokes every family of subjectID and returns how
	// many were newly revoked.
	RevokeSubjectFamilies(ctx context.Context, subjectID string) (int, error)

	// DeleteExpiredRefreshTokens removes records with expires_at <= now and
	// any family left without records. Returns the number of records removed.
	DeleteExpiredRefreshTokens(ctx context.Context, now time.Time) (int64, error)
}

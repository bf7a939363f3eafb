package service

import (
	"context"
	"sync"

	"github.com/aussiebroadwan/tenantgate/internal/gateway/domain"
	"github.com/aussiebroadwan/tenantgate/internal/gateway/store"
	"github.com/aussiebroadwan/tenantgate/pkg/cryptox"
)

// CredentialStore is where principals and tenants live. Lookups return
// store.ErrNotFound for unknown ids; any other error means the store could
// not be reached.
type CredentialStore interface {
	FindTenant(ctx context.Context, tenantID string) (domain.Tenant, error)
	FindPrincipalByLogin(ctx context.Context, tenantID, login string) (domain.Principal, error)
	FindPrincipalByID(ctx context.Context, id string) (domain.Principal, error)

	// VerifyPassword must take the same time whether or not p has a
	// password hash, so that unknown logins cannot be told apart.
	VerifyPassword(p domain.Principal, plaintext string) bool
}

// StoreCredentials is the CredentialStore backed by the gateway's own
// tenants and principals tables.
type StoreCredentials struct {
	Tenants    store.Tenants
	Principals store.Principals
	Hasher     *cryptox.PasswordHasher

	dummy func() string
}

var _ CredentialStore = (*StoreCredentials)(nil)

func NewStoreCredentials(s store.Store, hasher *cryptox.PasswordHasher) *StoreCredentials {
	c := &StoreCredentials{
		Tenants:    s.Tenants(),
		Principals: s.Principals(),
		Hasher:     hasher,
	}
	c.dummy = sync.OnceValue(func() string {
		h, _ := hasher.Hash("tenantgate-dummy-password")
		return h
	})
	return c
}

func (c *StoreCredentials) FindTenant(ctx context.Context, tenantID string) (domain.Tenant, error) {
	return c.Tenants.GetTenant(ctx, tenantID)
}

func (c *StoreCredentials) FindPrincipalByLogin(ctx context.Context, tenantID, login string) (domain.Principal, error) {
	return c.Principals.GetPrincipalByLogin(ctx, tenantID, login)
}

func (c *StoreCredentials) FindPrincipalByID(ctx context.Context, id string) (domain.Principal, error) {
	return c.Principals.GetPrincipalByID(ctx, id)
}

func (c *StoreCredentials) VerifyPassword(p domain.Principal, plaintext string) bool {
	if p.PasswordHash == "" {
		_ = c.Hasher.Verify(plaintext, c.dummy())
		return false
	}
	return c.Hasher.Verify(plaintext, p.PasswordHash) == nil
}

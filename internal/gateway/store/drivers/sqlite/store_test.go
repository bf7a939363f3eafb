package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/aussiebroadwan/tenantgate/internal/gateway/domain"
	"github.com/aussiebroadwan/tenantgate/internal/gateway/store"
	"github.com/aussiebroadwan/tenantgate/internal/gateway/store/drivers/sqlite"
	"github.com/aussiebroadwan/tenantgate/internal/gateway/store/storetest"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) store.Store {
	t.Helper()

	s, err := sqlite.NewStore("file:" + filepath.Join(t.TempDir(), "gateway.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.ApplyMigrations())
	return s
}

func TestStore(t *testing.T) {
	storetest.RunStore(t, newStore)
}

func TestApplyMigrations_Idempotent(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.ApplyMigrations())
	require.NoError(t, s.Ping(context.Background()))
}

func TestCreatePrincipal_RequiresTenant(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	require.NoError(t, s.Tenants().CreateTenant(ctx, domain.Tenant{ID: "acme", Name: "Acme"}))
	err := s.Principals().CreatePrincipal(ctx, domain.Principal{
		ID: "p-1", TenantID: "unknown", Login: "bob", PasswordHash: "x",
	})
	require.Error(t, err, "principal must reference an existing tenant")
}

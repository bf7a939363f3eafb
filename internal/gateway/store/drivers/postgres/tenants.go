package postgres

import (
	"context"
	"database/sql"

	"github.com/aussiebroadwan/tenantgate/internal/gateway/domain"
)

type tenantsRepo struct {
	db *sql.DB
}

func (r *tenantsRepo) GetTenant(ctx context.Context, id string) (domain.Tenant, error) {
	var (
		t      domain.Tenant
		status string
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT id, name, status, created_at, updated_at FROM tenants WHERE id = $1`, id,
	).Scan(&t.ID, &t.Name, &status, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return domain.Tenant{}, mapNotFound(err)
	}
	t.Status = domain.TenantStatus(status)
	return t, nil
}

func (r *tenantsRepo) CreateTenant(ctx context.Context, t domain.Tenant) error {
	if t.Status == "" {
		t.Status = domain.TenantActive
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO tenants (id, name, status) VALUES ($1, $2, $3)`,
		t.ID, t.Name, string(t.Status),
	)
	return mapConstraint(err)
}

func (r *tenantsRepo) UpdateTenantStatus(ctx context.Context, id string, status domain.TenantStatus) error {
	return requireAffected(r.db.ExecContext(ctx,
		`UPDATE tenants SET status = $1, updated_at = now() WHERE id = $2`,
		string(status), id,
	))
}

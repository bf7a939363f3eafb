package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/aussiebroadwan/tenantgate/internal/gateway/domain"
)

type tenantsRepo struct {
	db *sql.DB
}

func (r *tenantsRepo) GetTenant(ctx context.Context, id string) (domain.Tenant, error) {
	var (
		t                    domain.Tenant
		status               string
		createdAt, updatedAt int64
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT id, name, status, created_at, updated_at FROM tenants WHERE id = ?`, id,
	).Scan(&t.ID, &t.Name, &status, &createdAt, &updatedAt)
	if err != nil {
		return domain.Tenant{}, mapNotFound(err)
	}

	t.Status = domain.TenantStatus(status)
	t.CreatedAt = fromMillis(createdAt)
	t.UpdatedAt = fromMillis(updatedAt)
	return t, nil
}

func (r *tenantsRepo) CreateTenant(ctx context.Context, t domain.Tenant) error {
	if t.Status == "" {
		t.Status = domain.TenantActive
	}
	now := toMillis(time.Now())
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO tenants (id, name, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		t.ID, t.Name, string(t.Status), now, now,
	)
	return mapConstraint(err)
}

func (r *tenantsRepo) UpdateTenantStatus(ctx context.Context, id string, status domain.TenantStatus) error {
	return requireAffected(r.db.ExecContext(ctx,
		`UPDATE tenants SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), toMillis(time.Now()), id,
	))
}

package postgres

import (
	"context"
	"database/sql"

	"github.com/aussiebroadwan/tenantgate/internal/gateway/domain"
)

type principalsRepo struct {
	db *sql.DB
}

const principalColumns = `id, tenant_id, login, password_hash, roles, created_at, updated_at`

func scanPrincipal(row *sql.Row) (domain.Principal, error) {
	var (
		p     domain.Principal
		roles string
	)
	if err := row.Scan(&p.ID, &p.TenantID, &p.Login, &p.PasswordHash, &roles, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return domain.Principal{}, mapNotFound(err)
	}
	p.Roles = splitRoles(roles)
	return p, nil
}

func (r *principalsRepo) GetPrincipalByLogin(ctx context.Context, tenantID, login string) (domain.Principal, error) {
	return scanPrincipal(r.db.QueryRowContext(ctx,
		`SELECT `+principalColumns+` FROM principals WHERE tenant_id = $1 AND login = $2`,
		tenantID, login,
	))
}

func (r *principalsRepo) GetPrincipalByID(ctx context.Context, id string) (domain.Principal, error) {
	return scanPrincipal(r.db.QueryRowContext(ctx,
		`SELECT `+principalColumns+` FROM principals WHERE id = $1`, id,
	))
}

func (r *principalsRepo) CreatePrincipal(ctx context.Context, p domain.Principal) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO principals (id, tenant_id, login, password_hash, roles) VALUES ($1, $2, $3, $4, $5)`,
		p.ID, p.TenantID, p.Login, p.PasswordHash, joinRoles(p.Roles),
	)
	return mapConstraint(err)
}

func (r *principalsRepo) UpdatePrincipalRoles(ctx context.Context, id string, roles []string) error {
	return requireAffected(r.db.ExecContext(ctx,
		`UPDATE principals SET roles = $1, updated_at = now() WHERE id = $2`,
		joinRoles(roles), id,
	))
}

func (r *principalsRepo) DeletePrincipal(ctx context.Context, id string) error {
	return requireAffected(r.db.ExecContext(ctx, `DELETE FROM principals WHERE id = $1`, id))
}

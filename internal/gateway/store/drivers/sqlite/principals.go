package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/aussiebroadwan/tenantgate/internal/gateway/domain"
)

type principalsRepo struct {
	db *sql.DB
}

const principalColumns = `id, tenant_id, login, password_hash, roles, created_at, updated_at`

func scanPrincipal(row *sql.Row) (domain.Principal, error) {
	var (
		p                    domain.Principal
		roles                string
		createdAt, updatedAt int64
	)
	if err := row.Scan(&p.ID, &p.TenantID, &p.Login, &p.PasswordHash, &roles, &createdAt, &updatedAt); err != nil {
		return domain.Principal{}, mapNotFound(err)
	}
	p.Roles = splitRoles(roles)
	p.CreatedAt = fromMillis(createdAt)
	p.UpdatedAt = fromMillis(updatedAt)
	return p, nil
}

func (r *principalsRepo) GetPrincipalByLogin(ctx context.Context, tenantID, login string) (domain.Principal, error) {
	return scanPrincipal(r.db.QueryRowContext(ctx,
		`SELECT `+principalColumns+` FROM principals WHERE tenant_id = ? AND login = ?`,
		tenantID, login,
	))
}

func (r *principalsRepo) GetPrincipalByID(ctx context.Context, id string) (domain.Principal, error) {
	return scanPrincipal(r.db.QueryRowContext(ctx,
		`SELECT `+principalColumns+` FROM principals WHERE id = ?`, id,
	))
}

func (r *principalsRepo) CreatePrincipal(ctx context.Context, p domain.Principal) error {
	now := toMillis(time.Now())
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO principals (`+principalColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.TenantID, p.Login, p.PasswordHash, joinRoles(p.Roles), now, now,
	)
	return mapConstraint(err)
}

func (r *principalsRepo) UpdatePrincipalRoles(ctx context.Context, id string, roles []string) error {
	return requireAffected(r.db.ExecContext(ctx,
		`UPDATE principals SET roles = ?, updated_at = ? WHERE id = ?`,
		joinRoles(roles), toMillis(time.Now()), id,
	))
}

func (r *principalsRepo) DeletePrincipal(ctx context.Context, id string) error {
	return requireAffected(r.db.ExecContext(ctx, `DELETE FROM principals WHERE id = ?`, id))
}

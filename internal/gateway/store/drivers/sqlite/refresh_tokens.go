package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/aussiebroadwan/tenantgate/internal/gateway/domain"
	"github.com/aussiebroadwan/tenantgate/internal/gateway/store"
)

type refreshTokensRepo struct {
	db *sql.DB
}

func insertRecord(ctx context.Context, tx *sql.Tx, rec domain.RefreshTokenRecord) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO refresh_tokens
			(id, token_hash, family_id, subject_id, tenant_id, generation, issued_at, expires_at, revoked)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0)`,
		rec.ID, rec.TokenHash, rec.FamilyID, rec.SubjectID, rec.TenantID,
		rec.Generation, toMillis(rec.IssuedAt), toMillis(rec.ExpiresAt),
	)
	return mapConstraint(err)
}

func (r *refreshTokensRepo) CreateFamily(
	ctx context.Context,
	family domain.RefreshFamily,
	first domain.RefreshTokenRecord,
) error {
	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		now := toMillis(family.CreatedAt)
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO refresh_families (id, subject_id, tenant_id, generation, revoked, created_at, updated_at)
			VALUES (?, ?, ?, ?, 0, ?, ?)`,
			family.ID, family.SubjectID, family.TenantID, family.Generation, now, now,
		); err != nil {
			return mapConstraint(err)
		}
		return insertRecord(ctx, tx, first)
	})
}

func (r *refreshTokensRepo) GetRefreshToken(ctx context.Context, hash string) (domain.RefreshTokenRecord, error) {
	var (
		rec                 domain.RefreshTokenRecord
		issuedAt, expiresAt int64
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT id, token_hash, family_id, subject_id, tenant_id, generation, issued_at, expires_at, revoked
		FROM refresh_tokens WHERE token_hash = ?`, hash,
	).Scan(&rec.ID, &rec.TokenHash, &rec.FamilyID, &rec.SubjectID, &rec.TenantID,
		&rec.Generation, &issuedAt, &expiresAt, &rec.Revoked)
	if err != nil {
		return domain.RefreshTokenRecord{}, mapNotFound(err)
	}

	rec.IssuedAt = fromMillis(issuedAt)
	rec.ExpiresAt = fromMillis(expiresAt)
	return rec, nil
}

func (r *refreshTokensRepo) GetFamily(ctx context.Context, id string) (domain.RefreshFamily, error) {
	var (
		fam                  domain.RefreshFamily
		createdAt, updatedAt int64
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT id, subject_id, tenant_id, generation, revoked, created_at, updated_at
		FROM refresh_families WHERE id = ?`, id,
	).Scan(&fam.ID, &fam.SubjectID, &fam.TenantID, &fam.Generation, &fam.Revoked, &createdAt, &updatedAt)
	if err != nil {
		return domain.RefreshFamily{}, mapNotFound(err)
	}

	fam.CreatedAt = fromMillis(createdAt)
	fam.UpdatedAt = fromMillis(updatedAt)
	return fam, nil
}

func (r *refreshTokensRepo) AdvanceFamily(ctx context.Context, prev, next domain.RefreshTokenRecord) error {
	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		// The conditional update is the linearization point.
		res, err := tx.ExecContext(ctx, `
			UPDATE refresh_families SET generation = ?, updated_at = ?
			WHERE id = ? AND generation = ? AND revoked = 0`,
			next.Generation, toMillis(next.IssuedAt), prev.FamilyID, prev.Generation,
		)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			return store.ErrConflict
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE refresh_tokens SET revoked = 1 WHERE id = ?`, prev.ID,
		); err != nil {
			return err
		}
		return insertRecord(ctx, tx, next)
	})
}

func (r *refreshTokensRepo) RevokeFamily(ctx context.Context, familyID string) error {
	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`UPDATE refresh_families SET revoked = 1, updated_at = ? WHERE id = ? AND revoked = 0`,
			toMillis(time.Now()), familyID,
		); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			`UPDATE refresh_tokens SET revoked = 1 WHERE family_id = ? AND revoked = 0`, familyID,
		)
		return err
	})
}

func (r *refreshTokensRepo) RevokeSubjectFamilies(ctx context.Context, subjectID string) (int, error) {
	var revoked int64
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE refresh_families SET revoked = 1, updated_at = ? WHERE subject_id = ? AND revoked = 0`,
			toMillis(time.Now()), subjectID,
		)
		if err != nil {
			return err
		}
		if revoked, err = res.RowsAffected(); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE refresh_tokens SET revoked = 1 WHERE subject_id = ? AND revoked = 0`, subjectID,
		)
		return err
	})
	return int(revoked), err
}

func (r *refreshTokensRepo) DeleteExpiredRefreshTokens(ctx context.Context, now time.Time) (int64, error) {
	var deleted int64
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`DELETE FROM refresh_tokens WHERE expires_at <= ?`, toMillis(now),
		)
		if err != nil {
			return err
		}
		if deleted, err = res.RowsAffected(); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			DELETE FROM refresh_families
			WHERE NOT EXISTS (SELECT 1 FROM refresh_tokens t WHERE t.family_id = refresh_families.id)`,
		)
		return err
	})
	return deleted, err
}

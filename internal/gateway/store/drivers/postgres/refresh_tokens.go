package postgres

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
			(id, token_hash, family_id, subject_id, tenant_id, generation, issued_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		rec.ID, rec.TokenHash, rec.FamilyID, rec.SubjectID, rec.TenantID,
		rec.Generation, rec.IssuedAt, rec.ExpiresAt,
	)
	return mapConstraint(err)
}

func (r *refreshTokensRepo) CreateFamily(
	ctx context.Context,
	family domain.RefreshFamily,
	first domain.RefreshTokenRecord,
) error {
	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO refresh_families (id, subject_id, tenant_id, generation, revoked, created_at, updated_at)
			VALUES ($1, $2, $3, $4, FALSE, $5, $5)`,
			family.ID, family.SubjectID, family.TenantID, family.Generation, family.CreatedAt,
		); err != nil {
			return mapConstraint(err)
		}
		return insertRecord(ctx, tx, first)
	})
}

func (r *refreshTokensRepo) GetRefreshToken(ctx context.Context, hash string) (domain.RefreshTokenRecord, error) {
	var rec domain.RefreshTokenRecord
	err := r.db.QueryRowContext(ctx, `
		SELECT id, token_hash, family_id, subject_id, tenant_id, generation, issued_at, expires_at, revoked
		FROM refresh_tokens WHERE token_hash = $1`, hash,
	).Scan(&rec.ID, &rec.TokenHash, &rec.FamilyID, &rec.SubjectID, &rec.TenantID,
		&rec.Generation, &rec.IssuedAt, &rec.ExpiresAt, &rec.Revoked)
	if err != nil {
		return domain.RefreshTokenRecord{}, mapNotFound(err)
	}
	return rec, nil
}

func (r *refreshTokensRepo) GetFamily(ctx context.Context, id string) (domain.RefreshFamily, error) {
	var fam domain.RefreshFamily
	err := r.db.QueryRowContext(ctx, `
		SELECT id, subject_id, tenant_id, generation, revoked, created_at, updated_at
		FROM refresh_families WHERE id = $1`, id,
	).Scan(&fam.ID, &fam.SubjectID, &fam.TenantID, &fam.Generation, &fam.Revoked, &fam.CreatedAt, &fam.UpdatedAt)
	if err != nil {
		return domain.RefreshFamily{}, mapNotFound(err)
	}
	return fam, nil
}

func (r *refreshTokensRepo) AdvanceFamily(ctx context.Context, prev, next domain.RefreshTokenRecord) error {
	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		// Concurrent callers block on the row lock and re-check the predicate
		// once the winner commits, so exactly one of them matches.
		res, err := tx.ExecContext(ctx, `
			UPDATE refresh_families SET generation = $1, updated_at = $2
			WHERE id = $3 AND generation = $4 AND NOT revoked`,
			next.Generation, next.IssuedAt, prev.FamilyID, prev.Generation,
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
			`UPDATE refresh_tokens SET revoked = TRUE WHERE id = $1`, prev.ID,
		); err != nil {
			return err
		}
		return insertRecord(ctx, tx, next)
	})
}

func (r *refreshTokensRepo) RevokeFamily(ctx context.Context, familyID string) error {
	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`UPDATE refresh_families SET revoked = TRUE, updated_at = now() WHERE id = $1 AND NOT revoked`,
			familyID,
		); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			`UPDATE refresh_tokens SET revoked = TRUE WHERE family_id = $1 AND NOT revoked`, familyID,
		)
		return err
	})
}

func (r *refreshTokensRepo) RevokeSubjectFamilies(ctx context.Context, subjectID string) (int, error) {
	var revoked int64
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE refresh_families SET revoked = TRUE, updated_at = now() WHERE subject_id = $1 AND NOT revoked`,
			subjectID,
		)
		if err != nil {
			return err
		}
		if revoked, err = res.RowsAffected(); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE refresh_tokens SET revoked = TRUE WHERE subject_id = $1 AND NOT revoked`, subjectID,
		)
		return err
	})
	return int(revoked), err
}

func (r *refreshTokensRepo) DeleteExpiredRefreshTokens(ctx context.Context, now time.Time) (int64, error) {
	var deleted int64
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE expires_at <= $1`, now)
		if err != nil {
			return err
		}
		if deleted, err = res.RowsAffected(); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			DELETE FROM refresh_families f
			WHERE NOT EXISTS (SELECT 1 FROM refresh_tokens t WHERE t.family_id = f.id)`,
		)
		return err
	})
	return deleted, err
}

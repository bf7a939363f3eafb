// Package ledger tracks refresh token families. Each family is the lineage
// of tokens started by one login; only its current generation may be
// rotated, and presenting any older generation revokes the whole family.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aussiebroadwan/tenantgate/internal/gateway/domain"
	"github.com/aussiebroadwan/tenantgate/internal/gateway/store"
	"github.com/aussiebroadwan/tenantgate/pkg/cryptox"
	"github.com/aussiebroadwan/tenantgate/pkg/idx"
	"github.com/aussiebroadwan/tenantgate/pkg/jwtx"
	"github.com/aussiebroadwan/tenantgate/pkg/slogx"
	"github.com/google/uuid"
)

var (
	ErrNotFound       = errors.New("ledger: refresh token not found")
	ErrAlreadyRevoked = errors.New("ledger: refresh token revoked")
	ErrExpired        = errors.New("ledger: refresh token expired")
	ErrReuseDetected  = errors.New("ledger: refresh token reuse detected")
)

// Ledger issues and rotates refresh tokens against a backing store.
type Ledger struct {
	Store store.RefreshTokens
	TTL   time.Duration
	Now   func() time.Time
}

func New(s store.RefreshTokens, ttl time.Duration) *Ledger {
	if ttl <= 0 {
		ttl = jwtx.DefaultRefreshTokenTTL
	}
	return &Ledger{Store: s, TTL: ttl, Now: time.Now}
}

// Issued is a freshly minted refresh token. Token is the opaque value handed
// to the client and is never stored.
type Issued struct {
	Token  string
	Record domain.RefreshTokenRecord
}

// Lookup is the read-only half of a rotation.
type Lookup struct {
	Record domain.RefreshTokenRecord
	Family domain.RefreshFamily
}

func (l *Ledger) now() time.Time {
	if l.Now == nil {
		return time.Now().UTC()
	}
	return l.Now().UTC()
}

func (l *Ledger) newRecord(subjectID, tenantID, familyID string, gen int) (Issued, error) {
	token, hash, err := cryptox.NewRefreshToken()
	if err != nil {
		return Issued{}, fmt.Errorf("ledger: generate token: %w", err)
	}

	now := l.now().Truncate(time.Millisecond)
	return Issued{
		Token: token,
		Record: domain.RefreshTokenRecord{
			ID:         idx.NewAt(now),
			TokenHash:  hash,
			SubjectID:  subjectID,
			TenantID:   tenantID,
			FamilyID:   familyID,
			Generation: gen,
			IssuedAt:   now,
			ExpiresAt:  now.Add(l.TTL),
		},
	}, nil
}

// Create starts a new family at generation 0.
func (l *Ledger) Create(ctx context.Context, subjectID, tenantID string) (Issued, error) {
	issued, err := l.newRecord(subjectID, tenantID, uuid.NewString(), 0)
	if err != nil {
		return Issued{}, err
	}

	family := domain.RefreshFamily{
		ID:        issued.Record.FamilyID,
		SubjectID: subjectID,
		TenantID:  tenantID,
		CreatedAt: issued.Record.IssuedAt,
		UpdatedAt: issued.Record.IssuedAt,
	}
	if err := l.Store.CreateFamily(ctx, family, issued.Record); err != nil {
		return Issued{}, fmt.Errorf("ledger: create family: %w", err)
	}
	return issued, nil
}

// getLive returns the record behind token. A record past its expiry is
// ErrExpired whether or not it has been swept yet.
func (l *Ledger) getLive(ctx context.Context, token string) (domain.RefreshTokenRecord, error) {
	rec, err := l.Store.GetRefreshToken(ctx, cryptox.Fingerprint(token))
	switch {
	case errors.Is(err, store.ErrNotFound):
		return domain.RefreshTokenRecord{}, ErrNotFound
	case err != nil:
		return domain.RefreshTokenRecord{}, err
	case rec.Expired(l.now()):
		return domain.RefreshTokenRecord{}, ErrExpired
	}
	return rec, nil
}

// Lookup fetches the record behind token and its family. It never mutates
// state, so callers may retry it. Expired records are ErrExpired and never
// reach reuse classification.
func (l *Ledger) Lookup(ctx context.Context, token string) (Lookup, error) {
	rec, err := l.getLive(ctx, token)
	if err != nil {
		return Lookup{}, err
	}

	fam, err := l.Store.GetFamily(ctx, rec.FamilyID)
	if errors.Is(err, store.ErrNotFound) {
		return Lookup{}, ErrNotFound
	}
	if err != nil {
		return Lookup{}, err
	}
	return Lookup{Record: rec, Family: fam}, nil
}

// Advance rotates the looked-up record to the next generation. It is the
// only mutating step of a rotation and must not be retried: a retry after an
// ambiguous failure would look exactly like a replay.
func (l *Ledger) Advance(ctx context.Context, lk Lookup) (Issued, error) {
	rec, fam := lk.Record, lk.Family

	switch {
	case rec.Expired(l.now()):
		return Issued{}, ErrExpired
	case fam.Revoked:
		return Issued{}, ErrAlreadyRevoked
	case rec.Generation < fam.Generation:
		return Issued{}, l.reuseDetected(ctx, rec)
	case rec.Revoked:
		return Issued{}, ErrAlreadyRevoked
	}

	next, err := l.newRecord(rec.SubjectID, rec.TenantID, rec.FamilyID, rec.Generation+1)
	if err != nil {
		return Issued{}, err
	}

	err = l.Store.AdvanceFamily(ctx, rec, next.Record)
	if err == nil {
		return next, nil
	}
	if !errors.Is(err, store.ErrConflict) {
		return Issued{}, err
	}

	// Lost the race: someone rotated or revoked between Lookup and here.
	cur, err := l.Store.GetFamily(ctx, rec.FamilyID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return Issued{}, ErrNotFound
	case err != nil:
		return Issued{}, err
	case cur.Revoked:
		return Issued{}, ErrAlreadyRevoked
	}
	return Issued{}, l.reuseDetected(ctx, rec)
}

func (l *Ledger) reuseDetected(ctx context.Context, rec domain.RefreshTokenRecord) error {
	slogx.FromContext(ctx).Warn("refresh token reuse detected, revoking family",
		"family_id", rec.FamilyID,
		"subject_id", rec.SubjectID,
		"tenant_id", rec.TenantID,
		"generation", rec.Generation,
	)
	if err := l.Store.RevokeFamily(ctx, rec.FamilyID); err != nil {
		return fmt.Errorf("ledger: revoke family after reuse: %w", err)
	}
	return ErrReuseDetected
}

// Rotate is Lookup followed by Advance.
func (l *Ledger) Rotate(ctx context.Context, token string) (Issued, error) {
	lk, err := l.Lookup(ctx, token)
	if err != nil {
		return Issued{}, err
	}
	return l.Advance(ctx, lk)
}

// RevokeFamily revokes every generation of familyID. Idempotent.
func (l *Ledger) RevokeFamily(ctx context.Context, familyID string) error {
	return l.Store.RevokeFamily(ctx, familyID)
}

// RevokeAllForSubject revokes every family of subjectID and returns how many
// were still active.
func (l *Ledger) RevokeAllForSubject(ctx context.Context, subjectID string) (int, error) {
	return l.Store.RevokeSubjectFamilies(ctx, subjectID)
}

// FamilyOf returns the family id of token, or ErrNotFound. An expired token
// names no family, so it cannot end the session its successors carry.
func (l *Ledger) FamilyOf(ctx context.Context, token string) (string, error) {
	rec, err := l.getLive(ctx, token)
	if errors.Is(err, ErrExpired) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return rec.FamilyID, nil
}

// Sweep deletes records that expired before now.
func (l *Ledger) Sweep(ctx context.Context) (int64, error) {
	return l.Store.DeleteExpiredRefreshTokens(ctx, l.now())
}

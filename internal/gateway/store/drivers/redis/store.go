// Package redis stores the refresh token ledger in Redis. Records expire
// through key TTLs, so the housekeeping sweep has nothing to do here.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aussiebroadwan/tenantgate/internal/gateway/domain"
	"github.com/aussiebroadwan/tenantgate/internal/gateway/store"
	goredis "github.com/redis/go-redis/v9"
)

const DefaultPrefix = "tenantgate"

// RefreshTokens implements store.RefreshTokens on a single Redis primary.
type RefreshTokens struct {
	client goredis.UniversalClient
	prefix string
	now    func() time.Time
}

var _ store.RefreshTokens = (*RefreshTokens)(nil)

// Open connects using a redis:// or rediss:// URL.
func Open(url, prefix string) (*RefreshTokens, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis: parse url: %w", err)
	}
	return New(goredis.NewClient(opts), prefix), nil
}

// New wraps an existing client. An empty prefix uses DefaultPrefix.
func New(client goredis.UniversalClient, prefix string) *RefreshTokens {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &RefreshTokens{client: client, prefix: prefix, now: time.Now}
}

func (r *RefreshTokens) Ping(ctx context.Context) error { return r.client.Ping(ctx).Err() }

func (r *RefreshTokens) Close() error { return r.client.Close() }

func (r *RefreshTokens) tokenPrefix() string              { return r.prefix + ":rt:" }
func (r *RefreshTokens) tokenKey(hash string) string      { return r.tokenPrefix() + hash }
func (r *RefreshTokens) familyKey(id string) string       { return r.prefix + ":rf:" + id }
func (r *RefreshTokens) familyTokensKey(id string) string { return r.prefix + ":rft:" + id }
func (r *RefreshTokens) subjectKey(id string) string      { return r.prefix + ":rs:" + id }

func (r *RefreshTokens) CreateFamily(
	ctx context.Context,
	family domain.RefreshFamily,
	first domain.RefreshTokenRecord,
) error {
	res, err := createFamilyScript.Run(ctx, r.client,
		[]string{
			r.familyKey(family.ID),
			r.tokenKey(first.TokenHash),
			r.familyTokensKey(family.ID),
			r.subjectKey(family.SubjectID),
		},
		family.ID, family.SubjectID, family.TenantID,
		family.CreatedAt.UnixMilli(), first.ExpiresAt.UnixMilli(),
		first.ID, first.TokenHash, first.IssuedAt.UnixMilli(), first.Generation,
	).Int()
	if err != nil {
		return err
	}
	if res == 0 {
		return store.ErrAlreadyExists
	}
	return nil
}

func (r *RefreshTokens) GetRefreshToken(ctx context.Context, hash string) (domain.RefreshTokenRecord, error) {
	fields, err := r.client.HGetAll(ctx, r.tokenKey(hash)).Result()
	if err != nil {
		return domain.RefreshTokenRecord{}, err
	}
	if len(fields) == 0 {
		return domain.RefreshTokenRecord{}, store.ErrNotFound
	}

	p := fieldParser{fields: fields}
	rec := domain.RefreshTokenRecord{
		ID:         fields["id"],
		TokenHash:  hash,
		SubjectID:  fields["subject_id"],
		TenantID:   fields["tenant_id"],
		FamilyID:   fields["family_id"],
		Generation: p.intField("generation"),
		IssuedAt:   p.timeField("issued_at"),
		ExpiresAt:  p.timeField("expires_at"),
		Revoked:    fields["revoked"] == "1",
	}
	if p.err != nil {
		return domain.RefreshTokenRecord{}, fmt.Errorf("redis: decode token %s: %w", hash, p.err)
	}
	return rec, nil
}

func (r *RefreshTokens) GetFamily(ctx context.Context, id string) (domain.RefreshFamily, error) {
	fields, err := r.client.HGetAll(ctx, r.familyKey(id)).Result()
	if err != nil {
		return domain.RefreshFamily{}, err
	}
	if len(fields) == 0 {
		return domain.RefreshFamily{}, store.ErrNotFound
	}

	p := fieldParser{fields: fields}
	fam := domain.RefreshFamily{
		ID:         id,
		SubjectID:  fields["subject_id"],
		TenantID:   fields["tenant_id"],
		Generation: p.intField("generation"),
		Revoked:    fields["revoked"] == "1",
		CreatedAt:  p.timeField("created_at"),
		UpdatedAt:  p.timeField("updated_at"),
	}
	if p.err != nil {
		return domain.RefreshFamily{}, fmt.Errorf("redis: decode family %s: %w", id, p.err)
	}
	return fam, nil
}

func (r *RefreshTokens) AdvanceFamily(ctx context.Context, prev, next domain.RefreshTokenRecord) error {
	res, err := advanceFamilyScript.Run(ctx, r.client,
		[]string{
			r.familyKey(prev.FamilyID),
			r.tokenKey(prev.TokenHash),
			r.tokenKey(next.TokenHash),
			r.familyTokensKey(prev.FamilyID),
			r.subjectKey(prev.SubjectID),
		},
		prev.Generation, next.Generation, next.ID, next.TokenHash,
		next.IssuedAt.UnixMilli(), next.ExpiresAt.UnixMilli(),
		prev.FamilyID, next.SubjectID, next.TenantID,
	).Int()
	if err != nil {
		return err
	}
	if res == 0 {
		return store.ErrConflict
	}
	return nil
}

func (r *RefreshTokens) revoke(ctx context.Context, familyID string) (int, error) {
	return revokeFamilyScript.Run(ctx, r.client,
		[]string{r.familyKey(familyID), r.familyTokensKey(familyID)},
		r.tokenPrefix(), r.now().UnixMilli(),
	).Int()
}

func (r *RefreshTokens) RevokeFamily(ctx context.Context, familyID string) error {
	_, err := r.revoke(ctx, familyID)
	return err
}

func (r *RefreshTokens) RevokeSubjectFamilies(ctx context.Context, subjectID string) (int, error) {
	key := r.subjectKey(subjectID)
	families, err := r.client.SMembers(ctx, key).Result()
	if err != nil {
		return 0, err
	}

	revoked := 0
	for _, id := range families {
		res, err := r.revoke(ctx, id)
		if err != nil {
			return revoked, err
		}
		switch res {
		case 1:
			revoked++
		case -1:
			// Expired family; drop the dangling reference.
			if err := r.client.SRem(ctx, key, id).Err(); err != nil && !errors.Is(err, goredis.Nil) {
				return revoked, err
			}
		}
	}
	return revoked, nil
}

// DeleteExpiredRefreshTokens is a no-op: every key carries a TTL at its
// record's expiry.
func (r *RefreshTokens) DeleteExpiredRefreshTokens(context.Context, time.Time) (int64, error) {
	return 0, nil
}

type fieldParser struct {
	fields map[string]string
	err    error
}

func (p *fieldParser) intField(name string) int {
	v, err := strconv.Atoi(p.fields[name])
	if err != nil && p.err == nil {
		p.err = fmt.Errorf("field %s: %w", name, err)
	}
	return v
}

func (p *fieldParser) timeField(name string) time.Time {
	v, err := strconv.ParseInt(p.fields[name], 10, 64)
	if err != nil && p.err == nil {
		p.err = fmt.Errorf("field %s: %w", name, err)
	}
	return time.UnixMilli(v).UTC()
}

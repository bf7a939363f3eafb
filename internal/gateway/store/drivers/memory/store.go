// Package memory is a process-local store for development and tests. Refresh
// records carry a go-cache TTL at their expiry; a single mutex makes every
// compound write atomic.
package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/aussiebroadwan/tenantgate/internal/gateway/domain"
	"github.com/aussiebroadwan/tenantgate/internal/gateway/store"
	"github.com/patrickmn/go-cache"
)

const janitorInterval = time.Minute

type Store struct {
	mu sync.Mutex

	tenants    *cache.Cache // id -> domain.Tenant
	principals *cache.Cache // id -> domain.Principal
	logins     *cache.Cache // tenant + "/" + login -> principal id
	tokens     *cache.Cache // token hash -> *domain.RefreshTokenRecord
	families   *cache.Cache // family id -> familyEntry
}

type familyEntry struct {
	family domain.RefreshFamily
	hashes []string
}

var _ store.Store = (*Store)(nil)

func NewStore() *Store {
	return &Store{
		tenants:    cache.New(cache.NoExpiration, 0),
		principals: cache.New(cache.NoExpiration, 0),
		logins:     cache.New(cache.NoExpiration, 0),
		tokens:     cache.New(cache.NoExpiration, janitorInterval),
		families:   cache.New(cache.NoExpiration, 0),
	}
}

func (s *Store) Tenants() store.Tenants             { return (*tenantsRepo)(s) }
func (s *Store) Principals() store.Principals       { return (*principalsRepo)(s) }
func (s *Store) RefreshTokens() store.RefreshTokens { return (*refreshTokensRepo)(s) }

func (s *Store) ApplyMigrations() error { return nil }

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range []*cache.Cache{s.tenants, s.principals, s.logins, s.tokens, s.families} {
		c.Flush()
	}
	return nil
}

// ---------------------------------------------------------------------------

type tenantsRepo Store

func (r *tenantsRepo) GetTenant(_ context.Context, id string) (domain.Tenant, error) {
	v, ok := r.tenants.Get(id)
	if !ok {
		return domain.Tenant{}, store.ErrNotFound
	}
	return v.(domain.Tenant), nil
}

func (r *tenantsRepo) CreateTenant(_ context.Context, t domain.Tenant) error {
	if t.Status == "" {
		t.Status = domain.TenantActive
	}
	now := time.Now().UTC()
	t.CreatedAt, t.UpdatedAt = now, now

	if err := r.tenants.Add(t.ID, t, cache.NoExpiration); err != nil {
		return store.ErrAlreadyExists
	}
	return nil
}

func (r *tenantsRepo) UpdateTenantStatus(_ context.Context, id string, status domain.TenantStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	v, ok := r.tenants.Get(id)
	if !ok {
		return store.ErrNotFound
	}
	t := v.(domain.Tenant)
	t.Status = status
	t.UpdatedAt = time.Now().UTC()
	r.tenants.SetDefault(id, t)
	return nil
}

// ---------------------------------------------------------------------------

type principalsRepo Store

func loginKey(tenantID, login string) string { return tenantID + "/" + login }

func (r *principalsRepo) GetPrincipalByLogin(ctx context.Context, tenantID, login string) (domain.Principal, error) {
	v, ok := r.logins.Get(loginKey(tenantID, login))
	if !ok {
		return domain.Principal{}, store.ErrNotFound
	}
	return r.GetPrincipalByID(ctx, v.(string))
}

func (r *principalsRepo) GetPrincipalByID(_ context.Context, id string) (domain.Principal, error) {
	v, ok := r.principals.Get(id)
	if !ok {
		return domain.Principal{}, store.ErrNotFound
	}
	p := v.(domain.Principal)
	p.Roles = slices.Clone(p.Roles)
	return p, nil
}

func (r *principalsRepo) CreatePrincipal(_ context.Context, p domain.Principal) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tenants.Get(p.TenantID); !ok {
		return store.ErrNotFound
	}
	if _, ok := r.principals.Get(p.ID); ok {
		return store.ErrAlreadyExists
	}
	if err := r.logins.Add(loginKey(p.TenantID, p.Login), p.ID, cache.NoExpiration); err != nil {
		return store.ErrAlreadyExists
	}

	now := time.Now().UTC()
	p.CreatedAt, p.UpdatedAt = now, now
	p.Roles = slices.Clone(p.Roles)
	r.principals.SetDefault(p.ID, p)
	return nil
}

func (r *principalsRepo) UpdatePrincipalRoles(_ context.Context, id string, roles []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	v, ok := r.principals.Get(id)
	if !ok {
		return store.ErrNotFound
	}
	p := v.(domain.Principal)
	p.Roles = slices.Clone(roles)
	p.UpdatedAt = time.Now().UTC()
	r.principals.SetDefault(id, p)
	return nil
}

func (r *principalsRepo) DeletePrincipal(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	v, ok := r.principals.Get(id)
	if !ok {
		return store.ErrNotFound
	}
	p := v.(domain.Principal)
	r.principals.Delete(id)
	r.logins.Delete(loginKey(p.TenantID, p.Login))
	return nil
}

// ---------------------------------------------------------------------------

type refreshTokensRepo Store

// putToken stores rec until its expiry as seen from now, the caller's
// clock. A record already expired at now is not stored at all. Records are
// kept by pointer so revocation never touches the cache TTL.
func (r *refreshTokensRepo) putToken(rec domain.RefreshTokenRecord, now time.Time) {
	ttl := rec.ExpiresAt.Sub(now)
	if ttl <= 0 {
		return
	}
	r.tokens.Set(rec.TokenHash, &rec, ttl)
}

func (r *refreshTokensRepo) getToken(hash string) (*domain.RefreshTokenRecord, bool) {
	v, ok := r.tokens.Get(hash)
	if !ok {
		return nil, false
	}
	return v.(*domain.RefreshTokenRecord), true
}

func (r *refreshTokensRepo) getFamily(id string) (*familyEntry, bool) {
	v, ok := r.families.Get(id)
	if !ok {
		return nil, false
	}
	return v.(*familyEntry), true
}

func (r *refreshTokensRepo) CreateFamily(
	_ context.Context,
	family domain.RefreshFamily,
	first domain.RefreshTokenRecord,
) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.families.Get(family.ID); ok {
		return store.ErrAlreadyExists
	}
	if _, ok := r.tokens.Get(first.TokenHash); ok {
		return store.ErrAlreadyExists
	}

	family.UpdatedAt = family.CreatedAt
	r.families.SetDefault(family.ID, &familyEntry{family: family, hashes: []string{first.TokenHash}})
	r.putToken(first, first.IssuedAt)
	return nil
}

func (r *refreshTokensRepo) GetRefreshToken(_ context.Context, hash string) (domain.RefreshTokenRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.getToken(hash)
	if !ok {
		return domain.RefreshTokenRecord{}, store.ErrNotFound
	}
	return *rec, nil
}

func (r *refreshTokensRepo) GetFamily(_ context.Context, id string) (domain.RefreshFamily, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.getFamily(id)
	if !ok {
		return domain.RefreshFamily{}, store.ErrNotFound
	}
	return entry.family, nil
}

func (r *refreshTokensRepo) AdvanceFamily(_ context.Context, prev, next domain.RefreshTokenRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.getFamily(prev.FamilyID)
	if !ok || entry.family.Revoked || entry.family.Generation != prev.Generation {
		return store.ErrConflict
	}

	entry.family.Generation = next.Generation
	entry.family.UpdatedAt = next.IssuedAt
	entry.hashes = append(entry.hashes, next.TokenHash)

	if old, ok := r.getToken(prev.TokenHash); ok {
		old.Revoked = true
	}
	r.putToken(next, next.IssuedAt)
	return nil
}

func (r *refreshTokensRepo) revokeLocked(entry *familyEntry) bool {
	for _, hash := range entry.hashes {
		if rec, ok := r.getToken(hash); ok {
			rec.Revoked = true
		}
	}
	if entry.family.Revoked {
		return false
	}
	entry.family.Revoked = true
	entry.family.UpdatedAt = time.Now().UTC()
	return true
}

func (r *refreshTokensRepo) RevokeFamily(_ context.Context, familyID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if entry, ok := r.getFamily(familyID); ok {
		r.revokeLocked(entry)
	}
	return nil
}

func (r *refreshTokensRepo) RevokeSubjectFamilies(_ context.Context, subjectID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	revoked := 0
	for _, item := range r.families.Items() {
		entry := item.Object.(*familyEntry)
		if entry.family.SubjectID == subjectID && r.revokeLocked(entry) {
			revoked++
		}
	}
	return revoked, nil
}

func (r *refreshTokensRepo) DeleteExpiredRefreshTokens(_ context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var deleted int64
	for hash, item := range r.tokens.Items() {
		if item.Object.(*domain.RefreshTokenRecord).Expired(now) {
			r.tokens.Delete(hash)
			deleted++
		}
	}
	r.tokens.DeleteExpired()

	for id, item := range r.families.Items() {
		entry := item.Object.(*familyEntry)
		entry.hashes = slices.DeleteFunc(entry.hashes, func(hash string) bool {
			_, ok := r.tokens.Get(hash)
			return !ok
		})
		if len(entry.hashes) == 0 {
			r.families.Delete(id)
		}
	}
	return deleted, nil
}

package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aussiebroadwan/tenantgate/internal/gateway/domain"
	"github.com/aussiebroadwan/tenantgate/internal/gateway/ledger"
	"github.com/aussiebroadwan/tenantgate/internal/gateway/metrics"
	"github.com/aussiebroadwan/tenantgate/internal/gateway/store"
	"github.com/aussiebroadwan/tenantgate/internal/gateway/tenancy"
	"github.com/aussiebroadwan/tenantgate/pkg/jwtx"
	"github.com/aussiebroadwan/tenantgate/pkg/slogx"
)

// Codec mints and checks access tokens.
type Codec interface {
	jwtx.Verifier
	Issue(req jwtx.IssueRequest) (string, jwtx.Claims, error)
	TTL() time.Duration
}

// SessionService ties credentials, the refresh ledger and the access token
// codec together. Callers only ever see the coarse errors from the domain
// package; the precise cause of a failure is logged.
type SessionService struct {
	Credentials CredentialStore
	Ledger      *ledger.Ledger
	Codec       Codec
	Metrics     *metrics.Metrics

	// RetryBackoff is the wait before the single retry of a failed read.
	RetryBackoff time.Duration
}

var _ jwtx.Verifier = (*SessionService)(nil)

func unavailable(err error) error {
	return fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
}

// Login checks login and password inside tenantID and starts a new refresh
// family. The access token carries the roles held right now.
func (s *SessionService) Login(ctx context.Context, login, password, tenantID string) (domain.TokenPair, error) {
	pair, err := s.login(ctx, login, password, tenantID)
	s.Metrics.Auth("login", outcome(err))
	return pair, err
}

func (s *SessionService) login(ctx context.Context, login, password, tenantID string) (domain.TokenPair, error) {
	log := slogx.FromContext(ctx).With("tenant_id", tenantID)

	if tenantID == "" {
		return domain.TokenPair{}, domain.ErrMissingTenant
	}
	if login == "" || password == "" {
		return domain.TokenPair{}, domain.ErrInvalidCredentials
	}

	tenant, err := retryRead(ctx, s.Metrics, s.RetryBackoff, "find_tenant", func() (domain.Tenant, error) {
		return s.Credentials.FindTenant(ctx, tenantID)
	})
	// A refused tenant still pays for one password hash, like an unknown
	// login does.
	switch {
	case errors.Is(err, store.ErrNotFound):
		s.Credentials.VerifyPassword(domain.Principal{}, password)
		log.Info("login for unknown tenant")
		return domain.TokenPair{}, domain.ErrTenantNotFound
	case err != nil:
		log.Error("tenant lookup failed", "err", err)
		return domain.TokenPair{}, unavailable(err)
	case !tenant.Active():
		s.Credentials.VerifyPassword(domain.Principal{}, password)
		log.Info("login for inactive tenant", "status", tenant.Status)
		return domain.TokenPair{}, domain.ErrTenantNotFound
	}

	p, err := retryRead(ctx, s.Metrics, s.RetryBackoff, "find_principal", func() (domain.Principal, error) {
		return s.Credentials.FindPrincipalByLogin(ctx, tenantID, login)
	})
	switch {
	case errors.Is(err, store.ErrNotFound):
		s.Credentials.VerifyPassword(domain.Principal{}, password)
		log.Info("login failed", "reason", "unknown login")
		return domain.TokenPair{}, domain.ErrInvalidCredentials
	case err != nil:
		log.Error("principal lookup failed", "err", err)
		return domain.TokenPair{}, unavailable(err)
	}

	if !s.Credentials.VerifyPassword(p, password) {
		log.Info("login failed", "reason", "bad password", "subject_id", p.ID)
		return domain.TokenPair{}, domain.ErrInvalidCredentials
	}
	if p.TenantID != tenantID {
		log.Warn("login failed", "reason", "principal outside tenant", "subject_id", p.ID)
		return domain.TokenPair{}, domain.ErrInvalidCredentials
	}

	issued, err := s.Ledger.Create(ctx, p.ID, tenantID)
	if err != nil {
		log.Error("refresh family create failed", "err", err)
		return domain.TokenPair{}, unavailable(err)
	}

	access, err := s.issueAccess(p, issued.Record.FamilyID)
	if err != nil {
		return domain.TokenPair{}, err
	}

	log.Info("login succeeded", "subject_id", p.ID, "family_id", issued.Record.FamilyID)
	return domain.TokenPair{
		AccessToken:  access,
		RefreshToken: issued.Token,
		ExpiresIn:    s.Codec.TTL(),
	}, nil
}

// Refresh rotates refreshToken and returns a new pair. Every reason the
// token is unusable, including a tenant other than tenantID, is reported
// as ErrUnauthenticated.
func (s *SessionService) Refresh(ctx context.Context, refreshToken, tenantID string) (domain.TokenPair, error) {
	pair, err := s.refresh(ctx, refreshToken, tenantID)
	s.Metrics.Auth("refresh", outcome(err))
	return pair, err
}

func (s *SessionService) refresh(ctx context.Context, refreshToken, tenantID string) (domain.TokenPair, error) {
	log := slogx.FromContext(ctx).With("tenant_id", tenantID)

	if refreshToken == "" || tenantID == "" {
		return domain.TokenPair{}, domain.ErrUnauthenticated
	}

	lk, err := retryRead(ctx, s.Metrics, s.RetryBackoff, "refresh_lookup", func() (ledger.Lookup, error) {
		return s.Ledger.Lookup(ctx, refreshToken)
	})
	switch {
	case errors.Is(err, ledger.ErrNotFound), errors.Is(err, ledger.ErrExpired):
		log.Info("refresh denied", "reason", err)
		return domain.TokenPair{}, domain.ErrUnauthenticated
	case err != nil:
		log.Error("refresh lookup failed", "err", err)
		return domain.TokenPair{}, unavailable(err)
	}

	log = log.With("family_id", lk.Record.FamilyID, "subject_id", lk.Record.SubjectID)

	// A token from another tenant is refused without consuming it.
	if lk.Record.TenantID != tenantID {
		log.Warn("refresh denied", "reason", "tenant mismatch", "token_tenant", lk.Record.TenantID)
		return domain.TokenPair{}, domain.ErrUnauthenticated
	}

	p, err := retryRead(ctx, s.Metrics, s.RetryBackoff, "find_principal", func() (domain.Principal, error) {
		return s.Credentials.FindPrincipalByID(ctx, lk.Record.SubjectID)
	})
	switch {
	case errors.Is(err, store.ErrNotFound) || (err == nil && p.TenantID != lk.Record.TenantID):
		log.Warn("refresh denied, principal gone from tenant")
		if rerr := s.Ledger.RevokeFamily(ctx, lk.Record.FamilyID); rerr != nil {
			log.Error("family revoke failed", "err", rerr)
		}
		return domain.TokenPair{}, domain.ErrUnauthenticated
	case err != nil:
		log.Error("principal lookup failed", "err", err)
		return domain.TokenPair{}, unavailable(err)
	}

	next, err := s.Ledger.Advance(ctx, lk)
	switch {
	case errors.Is(err, ledger.ErrReuseDetected):
		s.Metrics.Reuse()
		log.Warn("refresh denied", "reason", err)
		return domain.TokenPair{}, domain.ErrUnauthenticated
	case errors.Is(err, ledger.ErrNotFound),
		errors.Is(err, ledger.ErrAlreadyRevoked),
		errors.Is(err, ledger.ErrExpired):
		log.Info("refresh denied", "reason", err)
		return domain.TokenPair{}, domain.ErrUnauthenticated
	case err != nil:
		log.Error("refresh rotation failed", "err", err)
		return domain.TokenPair{}, unavailable(err)
	}

	access, err := s.issueAccess(p, next.Record.FamilyID)
	if err != nil {
		return domain.TokenPair{}, err
	}

	log.Info("refresh succeeded", "generation", next.Record.Generation)
	return domain.TokenPair{
		AccessToken:  access,
		RefreshToken: next.Token,
		ExpiresIn:    s.Codec.TTL(),
	}, nil
}

// Logout revokes the family refreshToken belongs to. Unknown and already
// dead tokens succeed too; only a store failure is reported.
func (s *SessionService) Logout(ctx context.Context, refreshToken string) error {
	err := s.logout(ctx, refreshToken)
	s.Metrics.Auth("logout", outcome(err))
	return err
}

func (s *SessionService) logout(ctx context.Context, refreshToken string) error {
	log := slogx.FromContext(ctx)

	if refreshToken == "" {
		return nil
	}

	familyID, err := retryRead(ctx, s.Metrics, s.RetryBackoff, "logout_lookup", func() (string, error) {
		return s.Ledger.FamilyOf(ctx, refreshToken)
	})
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		log.Info("logout with unknown refresh token")
		return nil
	case err != nil:
		log.Error("logout lookup failed", "err", err)
		return unavailable(err)
	}

	if err := s.Ledger.RevokeFamily(ctx, familyID); err != nil {
		log.Error("logout revoke failed", "family_id", familyID, "err", err)
		return unavailable(err)
	}

	log.Info("logout", "family_id", familyID)
	return nil
}

// LogoutAll revokes every refresh family of subjectID and returns how many
// were still live.
func (s *SessionService) LogoutAll(ctx context.Context, subjectID string) (int, error) {
	n, err := s.Ledger.RevokeAllForSubject(ctx, subjectID)
	if err != nil {
		slogx.FromContext(ctx).Error("logout-all failed", "subject_id", subjectID, "err", err)
		err = unavailable(err)
	} else {
		slogx.FromContext(ctx).Info("logout-all", "subject_id", subjectID, "families", n)
	}
	s.Metrics.Auth("logout_all", outcome(err))
	return n, err
}

// Authorize verifies accessToken and checks that it holds requiredRole. An
// empty requiredRole admits any valid token. If ctx carries a resolved
// tenant, the token must belong to it.
func (s *SessionService) Authorize(ctx context.Context, accessToken, requiredRole string) (domain.Principal, error) {
	p, err := s.authorize(ctx, accessToken, requiredRole)
	s.Metrics.Auth("authorize", outcome(err))
	return p, err
}

func (s *SessionService) authorize(ctx context.Context, accessToken, requiredRole string) (domain.Principal, error) {
	log := slogx.FromContext(ctx)

	claims, err := s.Codec.Verify(accessToken)
	if err != nil {
		log.Info("authorize denied", "reason", err)
		return domain.Principal{}, fmt.Errorf("%w: %w", domain.ErrUnauthenticated, err)
	}

	requestTenant := ""
	if tc, ok := tenancy.FromContext(ctx); ok {
		requestTenant = tc.TenantID
	}
	if _, err := tenancy.Resolve(requestTenant, &claims); err != nil {
		log.Warn("authorize denied", "reason", err, "token_tenant", claims.TenantID, "request_tenant", requestTenant)
		return domain.Principal{}, err
	}

	p := domain.Principal{
		ID:       claims.Subject,
		TenantID: claims.TenantID,
		Roles:    claims.Roles,
	}
	if !p.HasRole(requiredRole) {
		log.Info("authorize denied", "reason", "missing role", "role", requiredRole, "subject_id", p.ID)
		return domain.Principal{}, domain.ErrForbidden
	}
	return p, nil
}

// Principal loads the current record for an authorized principal. It is a
// plain read and is retried once on a store failure.
func (s *SessionService) Principal(ctx context.Context, p domain.Principal) (domain.Principal, error) {
	cur, err := retryRead(ctx, s.Metrics, s.RetryBackoff, "find_principal", func() (domain.Principal, error) {
		return s.Credentials.FindPrincipalByID(ctx, p.ID)
	})
	switch {
	case errors.Is(err, store.ErrNotFound) || (err == nil && cur.TenantID != p.TenantID):
		return domain.Principal{}, domain.ErrUnauthenticated
	case err != nil:
		slogx.FromContext(ctx).Error("principal lookup failed", "subject_id", p.ID, "err", err)
		return domain.Principal{}, unavailable(err)
	}
	return cur, nil
}

// Verify checks an access token's signature and expiry only.
func (s *SessionService) Verify(accessToken string) (jwtx.Claims, error) {
	return s.Codec.Verify(accessToken)
}

func (s *SessionService) issueAccess(p domain.Principal, familyID string) (string, error) {
	token, _, err := s.Codec.Issue(jwtx.IssueRequest{
		SubjectID: p.ID,
		TenantID:  p.TenantID,
		Roles:     p.Roles,
		SessionID: familyID,
	})
	if err != nil {
		return "", fmt.Errorf("issue access token: %w", err)
	}
	return token, nil
}

func outcome(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeSuccess
	case errors.Is(err, domain.ErrStoreUnavailable):
		return metrics.OutcomeUnavailable
	case errors.Is(err, domain.ErrInvalidCredentials),
		errors.Is(err, domain.ErrTenantNotFound),
		errors.Is(err, domain.ErrTenantMismatch),
		errors.Is(err, domain.ErrMissingTenant),
		errors.Is(err, domain.ErrUnauthenticated),
		errors.Is(err, domain.ErrForbidden):
		return metrics.OutcomeDenied
	default:
		return metrics.OutcomeError
	}
}

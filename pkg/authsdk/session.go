package authsdk

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// expiryBuffer refreshes the access token this long before it actually expires.
const expiryBuffer = 30 * time.Second

// Session is an authenticated, tenant-bound session. Session methods refresh
// the access token automatically when it is about to expire.
type Session struct {
	client   *SDKClient
	tenantID string

	mu           sync.RWMutex
	accessToken  string
	refreshToken string
	expiresAt    time.Time
}

func newSession(client *SDKClient, tenantID string, tokenResp *TokenResponse) *Session {
	s := &Session{client: client, tenantID: tenantID}
	s.store(tokenResp)
	return s
}

// store must be called with mu held for writing, or before s is shared.
func (s *Session) store(tokenResp *TokenResponse) {
	s.accessToken = tokenResp.AccessToken
	s.refreshToken = tokenResp.RefreshToken
	s.expiresAt = time.Now().Add(time.Duration(tokenResp.ExpiresIn)*time.Second - expiryBuffer)
}

// TenantID returns the tenant this session is bound to.
func (s *Session) TenantID() string { return s.tenantID }

// AccessToken returns the current access token without checking expiration.
func (s *Session) AccessToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.accessToken
}

// RefreshToken returns the current refresh token.
func (s *Session) RefreshToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.refreshToken
}

// Refresh rotates the refresh token now, regardless of access token expiry.
func (s *Session) Refresh(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refreshLocked(ctx)
}

func (s *Session) refreshLocked(ctx context.Context) error {
	if s.refreshToken == "" {
		return errors.New("no refresh token available")
	}

	tokenResp, err := s.client.Refresh(ctx, s.tenantID, s.refreshToken)
	if err != nil {
		return fmt.Errorf("failed to refresh token: %w", err)
	}
	s.store(tokenResp)
	return nil
}

// getValidToken returns a valid access token, refreshing if expired.
func (s *Session) getValidToken(ctx context.Context) (string, error) {
	s.mu.RLock()
	if time.Now().Before(s.expiresAt) {
		token := s.accessToken
		s.mu.RUnlock()
		return token, nil
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	// Another goroutine may have refreshed while we waited.
	if time.Now().Before(s.expiresAt) {
		return s.accessToken, nil
	}

	if err := s.refreshLocked(ctx); err != nil {
		return "", err
	}
	return s.accessToken, nil
}

// doAuthRequest sends an authenticated request with the tenant header set.
func (s *Session) doAuthRequest(ctx context.Context, method, path string) (*http.Response, error) {
	token, err := s.getValidToken(ctx)
	if err != nil {
		return nil, err
	}

	return s.client.doRequest(ctx, method, path, nil, map[string]string{
		"Authorization": "Bearer " + token,
		TenantHeader:    s.tenantID,
	})
}

// Me returns the authenticated principal.
func (s *Session) Me(ctx context.Context) (*MeResponse, error) {
	resp, err := s.doAuthRequest(ctx, http.MethodGet, "/api/v1/me")
	if err != nil {
		return nil, err
	}

	var me MeResponse
	if err := decodeJSON(resp, &me, http.StatusOK); err != nil {
		return nil, err
	}
	return &me, nil
}

// Logout revokes this session's refresh token family.
func (s *Session) Logout(ctx context.Context) error {
	s.mu.RLock()
	refreshToken := s.refreshToken
	s.mu.RUnlock()

	if refreshToken == "" {
		return errors.New("no refresh token to revoke")
	}
	return s.client.Logout(ctx, refreshToken)
}

// LogoutAll revokes every refresh token family of the session's principal.
func (s *Session) LogoutAll(ctx context.Context) error {
	resp, err := s.doAuthRequest(ctx, http.MethodPost, "/api/v1/auth/logout-all")
	if err != nil {
		return err
	}
	return checkStatusNoContent(resp)
}

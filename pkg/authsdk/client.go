package authsdk

import (
	"context"
	"net/http"
	"strings"
	"time"
)

// TenantHeader carries the tenant identifier on every request.
const TenantHeader = "X-Tenant-ID"

// SDKClient is a client for the tenantgate session API.
// It provides the unauthenticated operations and creates authenticated Sessions.
type SDKClient struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewSDKClient creates a new gateway client.
func NewSDKClient(baseURL string) *SDKClient {
	return &SDKClient{
		BaseURL: strings.TrimSuffix(baseURL, "/"),
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// AuthenticateWithPassword logs in and wraps the result in a Session.
func (c *SDKClient) AuthenticateWithPassword(ctx context.Context, tenantID, login, password string) (*Session, error) {
	tokenResp, err := c.Login(ctx, tenantID, login, password)
	if err != nil {
		return nil, err
	}
	return newSession(c, tenantID, tokenResp), nil
}

// AuthenticateWithRefreshToken creates a session from an existing refresh token.
// The token is rotated, so the one passed in is spent afterwards.
func (c *SDKClient) AuthenticateWithRefreshToken(ctx context.Context, tenantID, refreshToken string) (*Session, error) {
	tokenResp, err := c.Refresh(ctx, tenantID, refreshToken)
	if err != nil {
		return nil, err
	}
	return newSession(c, tenantID, tokenResp), nil
}

// NewSessionFromTokens creates a session from tokens obtained elsewhere.
// The session still refreshes when the access token expires.
func (c *SDKClient) NewSessionFromTokens(tenantID, accessToken, refreshToken string, expiresIn int) *Session {
	return newSession(c, tenantID, &TokenResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    expiresIn,
	})
}

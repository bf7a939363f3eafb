package authsdk

import (
	"context"
	"net/http"
)

// Login exchanges a password for a token pair in tenantID.
func (c *SDKClient) Login(ctx context.Context, tenantID, login, password string) (*TokenResponse, error) {
	resp, err := c.postJSON(ctx, "/api/v1/auth/login",
		LoginRequest{Login: login, Password: password},
		map[string]string{TenantHeader: tenantID},
	)
	if err != nil {
		return nil, err
	}

	var tokenResp TokenResponse
	if err := decodeJSON(resp, &tokenResp, http.StatusOK); err != nil {
		return nil, err
	}
	return &tokenResp, nil
}

// Refresh rotates refreshToken. Presenting a token twice revokes its family.
func (c *SDKClient) Refresh(ctx context.Context, tenantID, refreshToken string) (*TokenResponse, error) {
	resp, err := c.postJSON(ctx, "/api/v1/auth/refresh",
		RefreshRequest{RefreshToken: refreshToken},
		map[string]string{TenantHeader: tenantID},
	)
	if err != nil {
		return nil, err
	}

	var tokenResp TokenResponse
	if err := decodeJSON(resp, &tokenResp, http.StatusOK); err != nil {
		return nil, err
	}
	return &tokenResp, nil
}

// Logout revokes the family refreshToken belongs to. Unknown tokens succeed.
func (c *SDKClient) Logout(ctx context.Context, refreshToken string) error {
	resp, err := c.postJSON(ctx, "/api/v1/auth/logout",
		RefreshRequest{RefreshToken: refreshToken},
		nil,
	)
	if err != nil {
		return err
	}
	return checkStatusNoContent(resp)
}

package authsdk

// ============================================================================
// Internal Response Types (used for JSON unmarshaling)
// ============================================================================

// ErrorResponse is the JSON body of every error response.
// Client code should use the APIError type from errors.go instead.
type ErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// ============================================================================
// Session Types
// ============================================================================

// LoginRequest is the body of POST /api/v1/auth/login. The tenant travels in
// the X-Tenant-ID header.
type LoginRequest struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

// RefreshRequest is the body of POST /api/v1/auth/refresh and
// POST /api/v1/auth/logout.
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// TokenResponse is returned by login and refresh.
type TokenResponse struct {
	// AccessToken is the signed JWT used to authenticate API requests
	AccessToken string `json:"access_token"`

	// RefreshToken is the opaque single-use rotation token
	RefreshToken string `json:"refresh_token"`

	// TokenType is always "Bearer"
	TokenType string `json:"token_type"`

	// ExpiresIn is the lifetime in seconds of the access token
	ExpiresIn int `json:"expires_in"`
}

// MeResponse describes the authenticated principal.
type MeResponse struct {
	Subject   string   `json:"sub"`
	TenantID  string   `json:"tenant_id"`
	Login     string   `json:"login"`
	Roles     []string `json:"roles"`
	SessionID string   `json:"sid,omitempty"`
}

// ============================================================================
// Health Types
// ============================================================================

// HealthResponse is returned by /livez and /readyz.
type HealthResponse struct {
	// Status indicates the overall health status ("ok" or "unavailable")
	Status string `json:"status"`

	// Uptime is the service uptime duration as a string (e.g., "1h23m45s")
	Uptime string `json:"uptime,omitempty"`

	// Version is the service version string
	Version string `json:"version,omitempty"`

	// Checks holds per-dependency results, only on /readyz
	Checks map[string]string `json:"checks,omitempty"`
}

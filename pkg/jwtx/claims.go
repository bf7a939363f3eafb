package jwtx

import (
	"crypto/rand"
	"encoding/base64"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Default token lifetimes. Both can be overridden through configuration.
const (
	DefaultAccessTokenTTL  = 15 * time.Minute
	DefaultRefreshTokenTTL = 7 * 24 * time.Hour
)

// DefaultLeeway is the clock skew tolerated on exp unless configured
// otherwise. With it, a token stays valid until exp+DefaultLeeway.
const DefaultLeeway = 5 * time.Second

// Claims are the access-token claims. The token is a snapshot: roles are
// whatever the principal held when the token was minted.
type Claims struct {
	jwt.RegisteredClaims

	// TenantID the token is scoped to.
	TenantID string `json:"tid"`

	// Roles held inside TenantID at issue time.
	Roles []string `json:"roles,omitempty"`

	// SID is the refresh family that produced this token.
	SID string `json:"sid,omitempty"`
}

// NewAccessClaims builds claims for subject in tenant, issued at now.
func NewAccessClaims(
	subject, tenantID, sid string,
	roles []string,
	ttl time.Duration,
	issuer string,
	now time.Time,
) Claims {
	now = now.UTC().Truncate(time.Second)
	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        NewJTI(),
		},
		TenantID: tenantID,
		Roles:    roles,
		SID:      sid,
	}
}

// NewJTI returns a URL-safe random identifier for the "jti" claim.
func NewJTI() string {
	var b [16]byte
	_, _ = rand.Read(b[:])
	return base64.RawURLEncoding.EncodeToString(b[:])
}

// ValidateIssuer checks the issuer when one is expected.
func (c *Claims) ValidateIssuer(expected string) error {
	if expected == "" {
		return nil
	}
	if c.Issuer != expected {
		return ErrIssuer
	}
	return nil
}

// ValidateExpiryAt reports ErrExpired once now reaches exp plus leeway.
func (c *Claims) ValidateExpiryAt(now time.Time, leeway time.Duration) error {
	if c.ExpiresAt == nil {
		return nil // caught by ValidateStructure
	}
	if !now.Before(c.ExpiresAt.Add(leeway)) {
		return ErrExpired
	}
	return nil
}

// ValidateStructure checks the claims every access token must carry.
func (c *Claims) ValidateStructure() error {
	switch {
	case c.Subject == "", c.TenantID == "", c.ID == "":
		return ErrMalformed
	case c.IssuedAt == nil, c.ExpiresAt == nil:
		return ErrMalformed
	case !c.ExpiresAt.After(c.IssuedAt.Time):
		return ErrMalformed
	}
	return nil
}

// HasRole reports whether role is in the snapshot.
func (c *Claims) HasRole(role string) bool {
	for _, r := range c.Roles {
		if r == role {
			return true
		}
	}
	return false
}

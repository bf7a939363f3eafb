package domain

import "time"

// TokenPair is what login and refresh hand back to the client.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    time.Duration
}

// RefreshFamily is the lineage of refresh tokens that started at one login.
// Generation is the only generation that may still be rotated.
type RefreshFamily struct {
	ID         string
	SubjectID  string
	TenantID   string
	Generation int
	Revoked    bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// RefreshTokenRecord is the stored half of an opaque refresh token. Only the
// fingerprint of the token is kept.
type RefreshTokenRecord struct {
	ID         string
	TokenHash  string // base64url SHA-256 of the opaque token
	SubjectID  string
	TenantID   string
	FamilyID   string
	Generation int
	IssuedAt   time.Time
	ExpiresAt  time.Time
	Revoked    bool
}

// Expired reports whether the record is past its expiry at now.
func (r RefreshTokenRecord) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

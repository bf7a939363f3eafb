package cryptox

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
)

// RefreshTokenSize is the entropy of an opaque refresh token in bytes
// (256 bits, 43 chars base64url).
const RefreshTokenSize = 32

// GenerateToken creates a random token of size bytes, base64url encoded
// without padding.
func GenerateToken(size int) (string, error) {
	if size <= 0 {
		return "", fmt.Errorf("token size must be positive, got %d", size)
	}

	buf := make([]byte, size)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate random token: %w", err)
	}

	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// NewRefreshToken returns a fresh opaque refresh token and its fingerprint.
// Only the fingerprint should ever be stored.
func NewRefreshToken() (token, fingerprint string, err error) {
	token, err = GenerateToken(RefreshTokenSize)
	if err != nil {
		return "", "", err
	}
	return token, Fingerprint(token), nil
}

// Fingerprint is the base64url SHA-256 of token. It lets stores look tokens
// up without holding the token itself.
func Fingerprint(token string) string {
	sum := sha256.Sum256([]byte(token))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// FingerprintMatches compares token against a stored fingerprint in constant
// time.
func FingerprintMatches(token, fingerprint string) bool {
	return subtle.ConstantTimeCompare([]byte(Fingerprint(token)), []byte(fingerprint)) == 1
}

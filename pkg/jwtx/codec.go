package jwtx

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// MinSecretLength is the shortest HMAC secret the codec accepts (256 bits).
const MinSecretLength = 32

// CodecConfig configures an HS256Codec.
type CodecConfig struct {
	Secret    []byte
	Issuer    string
	AccessTTL time.Duration

	// Leeway tolerated on exp to absorb clock skew between instances.
	Leeway time.Duration

	// Now is the clock. Defaults to time.Now.
	Now func() time.Time
}

// IssueRequest describes the principal an access token is minted for.
type IssueRequest struct {
	SubjectID string
	TenantID  string
	Roles     []string
	SessionID string
}

// HS256Codec issues and verifies HMAC-SHA256 access tokens with a single
// shared secret. It holds no mutable state and is safe for concurrent use.
type HS256Codec struct {
	secret []byte
	issuer string
	ttl    time.Duration
	leeway time.Duration
	now    func() time.Time
	parser *jwt.Parser
}

var _ Verifier = (*HS256Codec)(nil)

func NewHS256Codec(cfg CodecConfig) (*HS256Codec, error) {
	if len(cfg.Secret) < MinSecretLength {
		return nil, fmt.Errorf("%w: need %d bytes, got %d", ErrWeakSecret, MinSecretLength, len(cfg.Secret))
	}
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = DefaultAccessTokenTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	secret := make([]byte, len(cfg.Secret))
	copy(secret, cfg.Secret)

	return &HS256Codec{
		secret: secret,
		issuer: cfg.Issuer,
		ttl:    cfg.AccessTTL,
		leeway: cfg.Leeway,
		now:    cfg.Now,
		// Time based checks are done by us against the injected clock.
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithoutClaimsValidation(),
		),
	}, nil
}

// TTL is the lifetime of tokens issued by this codec.
func (c *HS256Codec) TTL() time.Duration { return c.ttl }

// Issue signs a new access token. exp is always iat + TTL.
func (c *HS256Codec) Issue(req IssueRequest) (string, Claims, error) {
	if req.SubjectID == "" || req.TenantID == "" {
		return "", Claims{}, ErrMalformed
	}

	claims := NewAccessClaims(req.SubjectID, req.TenantID, req.SessionID, req.Roles, c.ttl, c.issuer, c.now())

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", Claims{}, fmt.Errorf("jwtx: sign: %w", err)
	}
	return signed, claims, nil
}

// Verify checks the signature, then expiry, then the claim structure.
func (c *HS256Codec) Verify(raw string) (Claims, error) {
	var claims Claims

	_, err := c.parser.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return c.secret, nil
	})
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
			return Claims{}, ErrInvalidSignature
		default:
			return Claims{}, ErrMalformed
		}
	}

	if err := claims.ValidateExpiryAt(c.now(), c.leeway); err != nil {
		return Claims{}, err
	}
	if err := claims.ValidateStructure(); err != nil {
		return Claims{}, err
	}
	if err := claims.ValidateIssuer(c.issuer); err != nil {
		return Claims{}, err
	}

	return claims, nil
}

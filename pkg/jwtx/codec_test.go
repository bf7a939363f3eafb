package jwtx_test

import (
	"strings"
	"testing"
	"time"

	"github.com/aussiebroadwan/tenantgate/pkg/jwtx"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newCodec(t *testing.T, clock *fakeClock, ttl, leeway time.Duration) *jwtx.HS256Codec {
	t.Helper()
	codec, err := jwtx.NewHS256Codec(jwtx.CodecConfig{
		Secret:    testSecret,
		Issuer:    "tenantgate",
		AccessTTL: ttl,
		Leeway:    leeway,
		Now:       clock.Now,
	})
	require.NoError(t, err)
	return codec
}

func TestNewHS256Codec_RejectsShortSecret(t *testing.T) {
	_, err := jwtx.NewHS256Codec(jwtx.CodecConfig{Secret: []byte("short")})
	require.ErrorIs(t, err, jwtx.ErrWeakSecret)
}

func TestHS256Codec_RoundTrip(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	codec := newCodec(t, clock, 15*time.Minute, 0)

	token, issued, err := codec.Issue(jwtx.IssueRequest{
		SubjectID: "user-1",
		TenantID:  "tenant-a",
		Roles:     []string{"user", "admin"},
		SessionID: "family-1",
	})
	require.NoError(t, err)
	require.Equal(t, 15*time.Minute, issued.ExpiresAt.Sub(issued.IssuedAt.Time))

	claims, err := codec.Verify(token)
	require.NoError(t, err)
	require.Equal(t, "user-1", claims.Subject)
	require.Equal(t, "tenant-a", claims.TenantID)
	require.Equal(t, []string{"user", "admin"}, claims.Roles)
	require.Equal(t, "family-1", claims.SID)
	require.Equal(t, issued.ID, claims.ID)
}

func TestHS256Codec_Expiry(t *testing.T) {
	t.Parallel()

	t.Run("default leeway moves the boundary to exp plus skew", func(t *testing.T) {
		clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
		codec := newCodec(t, clock, jwtx.DefaultAccessTokenTTL, jwtx.DefaultLeeway)

		token, issued, err := codec.Issue(jwtx.IssueRequest{SubjectID: "u", TenantID: "t"})
		require.NoError(t, err)
		exp := issued.ExpiresAt.Time

		clock.t = exp.Add(time.Second)
		_, err = codec.Verify(token)
		require.NoError(t, err, "exp+1s is still inside the default skew")

		clock.t = exp.Add(jwtx.DefaultLeeway - time.Millisecond)
		_, err = codec.Verify(token)
		require.NoError(t, err)

		clock.t = exp.Add(jwtx.DefaultLeeway)
		_, err = codec.Verify(token)
		require.ErrorIs(t, err, jwtx.ErrExpired)
	})

	t.Run("valid until exp and invalid from exp", func(t *testing.T) {
		clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
		codec := newCodec(t, clock, time.Second, 0)

		token, _, err := codec.Issue(jwtx.IssueRequest{SubjectID: "u", TenantID: "t"})
		require.NoError(t, err)

		clock.Advance(999 * time.Millisecond)
		_, err = codec.Verify(token)
		require.NoError(t, err)

		clock.Advance(time.Millisecond)
		_, err = codec.Verify(token)
		require.ErrorIs(t, err, jwtx.ErrExpired)
	})

	t.Run("leeway absorbs skew", func(t *testing.T) {
		clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
		codec := newCodec(t, clock, time.Second, 5*time.Second)

		token, _, err := codec.Issue(jwtx.IssueRequest{SubjectID: "u", TenantID: "t"})
		require.NoError(t, err)

		clock.Advance(3 * time.Second)
		_, err = codec.Verify(token)
		require.NoError(t, err)

		clock.Advance(3 * time.Second)
		_, err = codec.Verify(token)
		require.ErrorIs(t, err, jwtx.ErrExpired)
	})
}

func TestHS256Codec_RejectsForgeries(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	codec := newCodec(t, clock, time.Minute, 0)

	token, claims, err := codec.Issue(jwtx.IssueRequest{SubjectID: "u", TenantID: "t", Roles: []string{"user"}})
	require.NoError(t, err)

	t.Run("tampered signature", func(t *testing.T) {
		parts := strings.Split(token, ".")
		sig := []byte(parts[2])
		if sig[0] == 'A' {
			sig[0] = 'B'
		} else {
			sig[0] = 'A'
		}
		_, err := codec.Verify(parts[0] + "." + parts[1] + "." + string(sig))
		require.ErrorIs(t, err, jwtx.ErrInvalidSignature)
	})

	t.Run("other secret", func(t *testing.T) {
		other, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).
			SignedString([]byte("ffffffffffffffffffffffffffffffff"))
		require.NoError(t, err)
		_, err = codec.Verify(other)
		require.ErrorIs(t, err, jwtx.ErrInvalidSignature)
	})

	t.Run("other algorithm", func(t *testing.T) {
		other, err := jwt.NewWithClaims(jwt.SigningMethodHS384, claims).SignedString(testSecret)
		require.NoError(t, err)
		_, err = codec.Verify(other)
		require.ErrorIs(t, err, jwtx.ErrInvalidSignature)
	})

	t.Run("alg none", func(t *testing.T) {
		unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).
			SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)
		_, err = codec.Verify(unsigned)
		require.ErrorIs(t, err, jwtx.ErrInvalidSignature)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := codec.Verify("not-a-jwt")
		require.ErrorIs(t, err, jwtx.ErrMalformed)
	})

	t.Run("missing tenant claim", func(t *testing.T) {
		noTenant := claims
		noTenant.TenantID = ""
		signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, noTenant).SignedString(testSecret)
		require.NoError(t, err)
		_, err = codec.Verify(signed)
		require.ErrorIs(t, err, jwtx.ErrMalformed)
	})
}

func TestHS256Codec_IssueRequiresSubjectAndTenant(t *testing.T) {
	codec := newCodec(t, &fakeClock{t: time.Now()}, time.Minute, 0)

	_, _, err := codec.Issue(jwtx.IssueRequest{TenantID: "t"})
	require.ErrorIs(t, err, jwtx.ErrMalformed)

	_, _, err = codec.Issue(jwtx.IssueRequest{SubjectID: "u"})
	require.ErrorIs(t, err, jwtx.ErrMalformed)
}

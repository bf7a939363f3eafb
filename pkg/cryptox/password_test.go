package cryptox

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// Cheap parameters keep the suite fast. Verification reads params from the
// hash so this does not change what is being tested.
func testHasher(pepper string) *PasswordHasher {
	return &PasswordHasher{
		Pepper: pepper,
		Params: Argon2Params{Memory: 1024, Iterations: 1, Parallelism: 1, KeyLength: 32, SaltLength: 16},
	}
}

func TestPasswordHasher_HashFormat(t *testing.T) {
	h := testHasher("pepper")

	hash, err := h.Hash("password123")
	require.NoError(t, err)

	parts := strings.Split(hash, "$")
	require.Len(t, parts, 6)
	require.Equal(t, "argon2id", parts[1])
	require.Equal(t, "v=19", parts[2])
	require.Equal(t, "m=1024,t=1,p=1", parts[3])
	require.NotEmpty(t, parts[4])
	require.NotEmpty(t, parts[5])
}

func TestPasswordHasher_DefaultParams(t *testing.T) {
	hash, err := NewPasswordHasher("").Hash("pw")
	require.NoError(t, err)
	require.Contains(t, hash, "m=19456,t=2,p=1")
}

func TestPasswordHasher_Verify(t *testing.T) {
	t.Parallel()

	h := testHasher("pepper")
	passwords := []string{"password123", "P@ssw0rd!#$%^&*()", strings.Repeat("a", 100), "", "   spaces   "}

	for _, pw := range passwords {
		hash, err := h.Hash(pw)
		require.NoError(t, err)
		require.NoError(t, h.Verify(pw, hash))
	}

	t.Run("wrong password", func(t *testing.T) {
		hash, err := h.Hash("correct-password")
		require.NoError(t, err)

		for _, wrong := range []string{"wrong", "Correct-Password", "correct-password ", ""} {
			require.ErrorIs(t, h.Verify(wrong, hash), ErrPasswordMismatch)
		}
	})

	t.Run("salts differ", func(t *testing.T) {
		a, err := h.Hash("same")
		require.NoError(t, err)
		b, err := h.Hash("same")
		require.NoError(t, err)
		require.NotEqual(t, a, b)
	})

	t.Run("pepper is part of the hash", func(t *testing.T) {
		hash, err := h.Hash("pw")
		require.NoError(t, err)
		require.ErrorIs(t, testHasher("other-pepper").Verify("pw", hash), ErrPasswordMismatch)
	})
}

func TestPasswordHasher_InvalidHash(t *testing.T) {
	h := testHasher("")

	invalid := map[string]string{
		"empty":           "",
		"wrong algorithm": "$bcrypt$v=19$m=19456,t=2,p=1$c2FsdA$aGFzaA",
		"missing parts":   "$argon2id$v=19$m=19456",
		"bad parameters":  "$argon2id$v=19$invalid$c2FsdA$aGFzaA",
		"bad salt":        "$argon2id$v=19$m=19456,t=2,p=1$!!!$aGFzaA",
		"bad hash":        "$argon2id$v=19$m=19456,t=2,p=1$c2FsdA$!!!",
		"wrong version":   "$argon2id$v=18$m=19456,t=2,p=1$c2FsdA$aGFzaA",
	}

	for name, encoded := range invalid {
		t.Run(name, func(t *testing.T) {
			require.ErrorIs(t, h.Verify("pw", encoded), ErrInvalidHash)
		})
	}
}

func TestLoadOrCreatePepper(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secrets", "pepper")

	created, err := LoadOrCreatePepper(path)
	require.NoError(t, err)
	require.NotEmpty(t, created)

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	loaded, err := LoadOrCreatePepper(path)
	require.NoError(t, err)
	require.Equal(t, created, loaded)

	t.Run("empty file is rejected", func(t *testing.T) {
		empty := filepath.Join(t.TempDir(), "pepper")
		require.NoError(t, os.WriteFile(empty, []byte("\n"), 0o600))
		_, err := LoadOrCreatePepper(empty)
		require.Error(t, err)
	})
}

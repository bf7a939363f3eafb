package ledger_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/aussiebroadwan/tenantgate/internal/gateway/ledger"
	"github.com/aussiebroadwan/tenantgate/internal/gateway/store"
	"github.com/aussiebroadwan/tenantgate/internal/gateway/store/drivers/memory"
	"github.com/aussiebroadwan/tenantgate/internal/gateway/store/drivers/sqlite"
	"github.com/stretchr/testify/require"
)

type backend struct {
	name string
	open func(t *testing.T) store.RefreshTokens
}

func backends() []backend {
	return []backend{
		{"memory", func(t *testing.T) store.RefreshTokens {
			return memory.NewStore().RefreshTokens()
		}},
		{"sqlite", func(t *testing.T) store.RefreshTokens {
			s, err := sqlite.NewStore(filepath.Join(t.TempDir(), "ledger.db"))
			require.NoError(t, err)
			t.Cleanup(func() { _ = s.Close() })
			require.NoError(t, s.ApplyMigrations())
			return s.RefreshTokens()
		}},
	}
}

func TestLedger(t *testing.T) {
	t.Parallel()

	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			t.Parallel()
			runLedger(t, b.open)
		})
	}
}

func runLedger(t *testing.T, open func(t *testing.T) store.RefreshTokens) {
	ctx := context.Background()

	t.Run("create starts at generation zero", func(t *testing.T) {
		t.Parallel()
		l := ledger.New(open(t), time.Hour)

		issued, err := l.Create(ctx, "sub-1", "acme")
		require.NoError(t, err)
		require.NotEmpty(t, issued.Token)
		require.Zero(t, issued.Record.Generation)

		lk, err := l.Lookup(ctx, issued.Token)
		require.NoError(t, err)
		require.Equal(t, "acme", lk.Record.TenantID)
		require.Equal(t, issued.Record.FamilyID, lk.Family.ID)
		require.False(t, lk.Family.Revoked)
	})

	t.Run("unknown token", func(t *testing.T) {
		t.Parallel()
		l := ledger.New(open(t), time.Hour)

		_, err := l.Rotate(ctx, "not-a-token")
		require.ErrorIs(t, err, ledger.ErrNotFound)

		_, err = l.FamilyOf(ctx, "not-a-token")
		require.ErrorIs(t, err, ledger.ErrNotFound)
	})

	t.Run("rotate advances generation", func(t *testing.T) {
		t.Parallel()
		l := ledger.New(open(t), time.Hour)

		first, err := l.Create(ctx, "sub-1", "acme")
		require.NoError(t, err)

		second, err := l.Rotate(ctx, first.Token)
		require.NoError(t, err)
		require.Equal(t, 1, second.Record.Generation)
		require.Equal(t, first.Record.FamilyID, second.Record.FamilyID)
		require.NotEqual(t, first.Token, second.Token)

		third, err := l.Rotate(ctx, second.Token)
		require.NoError(t, err)
		require.Equal(t, 2, third.Record.Generation)
	})

	t.Run("reuse revokes the family", func(t *testing.T) {
		t.Parallel()
		l := ledger.New(open(t), time.Hour)

		first, err := l.Create(ctx, "sub-1", "acme")
		require.NoError(t, err)
		second, err := l.Rotate(ctx, first.Token)
		require.NoError(t, err)

		_, err = l.Rotate(ctx, first.Token)
		require.ErrorIs(t, err, ledger.ErrReuseDetected)

		// The legitimate holder is cut off too.
		_, err = l.Rotate(ctx, second.Token)
		require.ErrorIs(t, err, ledger.ErrAlreadyRevoked)
	})

	t.Run("expired token", func(t *testing.T) {
		t.Parallel()
		l := ledger.New(open(t), time.Hour)

		issued, err := l.Create(ctx, "sub-1", "acme")
		require.NoError(t, err)

		l.Now = func() time.Time { return time.Now().Add(2 * time.Hour) }
		_, err = l.Rotate(ctx, issued.Token)
		require.ErrorIs(t, err, ledger.ErrExpired)
	})

	t.Run("expired superseded token leaves the live generation rotatable", func(t *testing.T) {
		t.Parallel()
		now := time.Now()
		l := ledger.New(open(t), 7*24*time.Hour)
		l.Now = func() time.Time { return now }

		first, err := l.Create(ctx, "sub-1", "acme")
		require.NoError(t, err)

		now = now.Add(6 * 24 * time.Hour)
		second, err := l.Rotate(ctx, first.Token)
		require.NoError(t, err)

		now = now.Add(2 * 24 * time.Hour)
		_, err = l.Lookup(ctx, first.Token)
		require.ErrorIs(t, err, ledger.ErrExpired)
		_, err = l.Rotate(ctx, first.Token)
		require.ErrorIs(t, err, ledger.ErrExpired)

		third, err := l.Rotate(ctx, second.Token)
		require.NoError(t, err)
		require.Equal(t, 2, third.Record.Generation)
	})

	t.Run("expired token does not name a family", func(t *testing.T) {
		t.Parallel()
		now := time.Now()
		l := ledger.New(open(t), 7*24*time.Hour)
		l.Now = func() time.Time { return now }

		first, err := l.Create(ctx, "sub-1", "acme")
		require.NoError(t, err)
		now = now.Add(6 * 24 * time.Hour)
		second, err := l.Rotate(ctx, first.Token)
		require.NoError(t, err)

		now = now.Add(2 * 24 * time.Hour)
		_, err = l.FamilyOf(ctx, first.Token)
		require.ErrorIs(t, err, ledger.ErrNotFound)

		fam, err := l.FamilyOf(ctx, second.Token)
		require.NoError(t, err)
		require.Equal(t, first.Record.FamilyID, fam)
	})

	t.Run("revoke family is idempotent", func(t *testing.T) {
		t.Parallel()
		l := ledger.New(open(t), time.Hour)

		issued, err := l.Create(ctx, "sub-1", "acme")
		require.NoError(t, err)

		require.NoError(t, l.RevokeFamily(ctx, issued.Record.FamilyID))
		require.NoError(t, l.RevokeFamily(ctx, issued.Record.FamilyID))
		require.NoError(t, l.RevokeFamily(ctx, "no-such-family"))

		_, err = l.Rotate(ctx, issued.Token)
		require.ErrorIs(t, err, ledger.ErrAlreadyRevoked)
	})

	t.Run("revoke all for subject", func(t *testing.T) {
		t.Parallel()
		l := ledger.New(open(t), time.Hour)

		a, err := l.Create(ctx, "sub-1", "acme")
		require.NoError(t, err)
		b, err := l.Create(ctx, "sub-1", "acme")
		require.NoError(t, err)
		other, err := l.Create(ctx, "sub-2", "acme")
		require.NoError(t, err)

		n, err := l.RevokeAllForSubject(ctx, "sub-1")
		require.NoError(t, err)
		require.Equal(t, 2, n)

		for _, tok := range []string{a.Token, b.Token} {
			_, err = l.Rotate(ctx, tok)
			require.ErrorIs(t, err, ledger.ErrAlreadyRevoked)
		}
		_, err = l.Rotate(ctx, other.Token)
		require.NoError(t, err)
	})

	t.Run("concurrent rotation has one winner", func(t *testing.T) {
		t.Parallel()
		l := ledger.New(open(t), time.Hour)

		issued, err := l.Create(ctx, "sub-1", "acme")
		require.NoError(t, err)

		const workers = 12
		var (
			wg   sync.WaitGroup
			mu   sync.Mutex
			wins int
			errs []error
		)
		for range workers {
			wg.Go(func() {
				_, err := l.Rotate(ctx, issued.Token)
				mu.Lock()
				defer mu.Unlock()
				if err == nil {
					wins++
					return
				}
				errs = append(errs, err)
			})
		}
		wg.Wait()

		require.Equal(t, 1, wins)
		require.Len(t, errs, workers-1)
		for _, err := range errs {
			require.True(t,
				errorIsAny(err, ledger.ErrReuseDetected, ledger.ErrAlreadyRevoked),
				"unexpected error: %v", err)
		}
	})

	t.Run("sweep", func(t *testing.T) {
		t.Parallel()
		l := ledger.New(open(t), time.Hour)

		_, err := l.Create(ctx, "sub-1", "acme")
		require.NoError(t, err)

		n, err := l.Sweep(ctx)
		require.NoError(t, err)
		require.Zero(t, n)
	})
}

func errorIsAny(err error, targets ...error) bool {
	for _, target := range targets {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

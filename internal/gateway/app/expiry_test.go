package app_test

import (
	"testing"
	"time"

	"github.com/aussiebroadwan/tenantgate/internal/gateway/app"
	"github.com/stretchr/testify/require"
)

func TestParseExpiry(t *testing.T) {
	t.Parallel()

	valid := []struct {
		in   string
		want time.Duration
	}{
		{"30s", 30 * time.Second},
		{"15m", 15 * time.Minute},
		{"1h", time.Hour},
		{"7d", 7 * 24 * time.Hour},
		{"2w", 14 * 24 * time.Hour},
		{"007m", 7 * time.Minute},
	}
	for _, tt := range valid {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			got, err := app.ParseExpiry(tt.in)
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}

	invalid := []string{
		"", "m", "15", "0m", "-5m", "+5m", "1.5h", "15 m", " 15m", "15M",
		"1h30m", "5y", "15ms", "99999999999999999999d", "1000000000w",
	}
	for _, in := range invalid {
		t.Run("invalid "+in, func(t *testing.T) {
			t.Parallel()
			_, err := app.ParseExpiry(in)
			require.ErrorIs(t, err, app.ErrInvalidExpiry)
		})
	}
}

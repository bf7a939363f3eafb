package slogx_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/aussiebroadwan/tenantgate/pkg/slogx"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestHTTPMiddleware_RequestID(t *testing.T) {
	var buf bytes.Buffer
	logger := slogx.New(slogx.Config{Service: "test", Level: "info", Output: &buf})

	var seen string
	h := slogx.HTTPMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = slogx.RequestID(r.Context())
		w.WriteHeader(http.StatusTeapot)
	}))

	t.Run("accepts caller id and echoes it", func(t *testing.T) {
		buf.Reset()
		req := httptest.NewRequest(http.MethodGet, "/x", nil)
		req.Header.Set(slogx.RequestIDHeader, "abc-123")
		rec := httptest.NewRecorder()

		h.ServeHTTP(rec, req)

		require.Equal(t, "abc-123", seen)
		require.Equal(t, "abc-123", rec.Header().Get(slogx.RequestIDHeader))

		var line map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
		require.Equal(t, "abc-123", line["req_id"])
		require.Equal(t, float64(http.StatusTeapot), line["status"])
	})

	t.Run("generates id when absent", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))

		_, err := uuid.Parse(seen)
		require.NoError(t, err)
		require.Equal(t, seen, rec.Header().Get(slogx.RequestIDHeader))
	})

	t.Run("replaces unusable id", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/x", nil)
		req.Header.Set(slogx.RequestIDHeader, strings.Repeat("a", 200))
		h.ServeHTTP(httptest.NewRecorder(), req)

		_, err := uuid.Parse(seen)
		require.NoError(t, err)
	})
}

func TestParseLevel(t *testing.T) {
	require.Equal(t, "DEBUG", slogx.ParseLevel("debug").String())
	require.Equal(t, "WARN", slogx.ParseLevel("warning").String())
	require.Equal(t, "ERROR", slogx.ParseLevel("ERROR").String())
	require.Equal(t, "INFO", slogx.ParseLevel("nonsense").String())
}

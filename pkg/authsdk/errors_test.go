package authsdk

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAPIError_WriteError(t *testing.T) {
	rec := httptest.NewRecorder()
	ErrUnauthenticated.WriteError(rec)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	require.Contains(t, rec.Header().Get("WWW-Authenticate"), "Bearer")
	require.JSONEq(t,
		`{"error":"unauthenticated","error_description":"the token is missing, invalid, expired or revoked"}`,
		rec.Body.String(),
	)
}

func TestParseErrorResponse(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantNil  bool
		wantCode string
	}{
		{"success", http.StatusOK, `{}`, true, ""},
		{"api error", http.StatusForbidden, `{"error":"tenant_mismatch","error_description":"x"}`, false, ErrorCodeTenantMismatch},
		{"non json body", http.StatusBadGateway, `<html>`, false, ErrorCodeServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := parseErrorResponse(&http.Response{StatusCode: tt.status}, []byte(tt.body))
			if tt.wantNil {
				require.NoError(t, err)
				return
			}

			var apiErr *APIError
			require.ErrorAs(t, err, &apiErr)
			require.Equal(t, tt.status, apiErr.StatusCode)
			require.Equal(t, tt.wantCode, apiErr.Code)
		})
	}
}

func TestAPIError_Is(t *testing.T) {
	parsed := &APIError{StatusCode: http.StatusUnauthorized, Code: ErrorCodeUnauthenticated, Description: "other"}
	wrapped := errors.Join(errors.New("refresh failed"), parsed)

	require.ErrorIs(t, wrapped, ErrUnauthenticated)
	require.NotErrorIs(t, wrapped, ErrForbidden)
}

package admin

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pgstrict/pgstrict/cfg"
)

// withAdminSecret swaps the shared secret for one test and restores it after.
func withAdminSecret(t *testing.T, secret string) {
	t.Helper()

	previous := cfg.Config.Admin.Secret
	cfg.Config.Admin.Secret = secret
	t.Cleanup(func() { cfg.Config.Admin.Secret = previous })
}

func TestAuthMiddleware(t *testing.T) {
	withAdminSecret(t, "s3cret")
	mux, _, _ := newTestMux(t)

	cases := []struct {
		name          string
		headers       map[string]string
		expectedCode  int
		expectedError string
	}{
		{
			name:          "missing credentials",
			headers:       nil,
			expectedCode:  http.StatusUnauthorized,
			expectedError: "missing authentication header",
		},
		{
			name:         "secret header accepted",
			headers:      map[string]string{"X-PgStrict-Secret": "s3cret"},
			expectedCode: http.StatusOK,
		},
		{
			name:          "wrong secret header rejected",
			headers:       map[string]string{"X-PgStrict-Secret": "nope"},
			expectedCode:  http.StatusUnauthorized,
			expectedError: "invalid secret",
		},
		{
			name:         "bearer token accepted",
			headers:      map[string]string{"Authorization": "Bearer s3cret"},
			expectedCode: http.StatusOK,
		},
		{
			name:          "wrong bearer token rejected",
			headers:       map[string]string{"Authorization": "Bearer nope"},
			expectedCode:  http.StatusUnauthorized,
			expectedError: "invalid secret",
		},
		{
			name:          "non-bearer authorization rejected",
			headers:       map[string]string{"Authorization": "Basic c3VwZXI="},
			expectedCode:  http.StatusUnauthorized,
			expectedError: "invalid authorization header format",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/admin/config", nil)
			for name, value := range tc.headers {
				req.Header.Set(name, value)
			}

			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, req)

			require.Equal(t, tc.expectedCode, rec.Code)
			if tc.expectedError != "" {
				assert.Equal(t, tc.expectedError, decodeError(t, rec))
			}
		})
	}
}

func TestAuthMiddlewareDisabledWithoutSecret(t *testing.T) {
	withAdminSecret(t, "")
	mux, _, _ := newTestMux(t)

	rec := doRequest(t, mux, http.MethodGet, "/admin/config", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHealthzSkipsAuth(t *testing.T) {
	withAdminSecret(t, "s3cret")
	mux, _, _ := newTestMux(t)

	rec := doRequest(t, mux, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

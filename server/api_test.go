package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/danieljoseph18/flui-backend/auth"
	"github.com/danieljoseph18/flui-backend/config"
)

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	log := zap.NewNop().Sugar()
	const secret = "api-test-secret"
	service := auth.NewService(auth.NewMemoryUserStore(), auth.NewTokenIssuer(secret, time.Hour), log)
	validator := auth.NewValidator(secret, "jwt:revoked", nil, log)

	cfg := config.APIConfig{
		AllowedOrigins: []string{"http://localhost:3000"},
		AllowedMethods: []string{"GET", "HEAD", "PUT", "PATCH", "POST", "DELETE"},
	}
	return NewAPIRouter(cfg, auth.NewHTTPHandler(service, validator, log), log)
}

func TestAPIRouter_Healthz(t *testing.T) {
	router := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestAPIRouter_CORS(t *testing.T) {
	router := newTestRouter(t)

	testCases := []struct {
		name       string
		method     string
		path       string
		origin     string
		wantStatus int
		wantOrigin string
	}{
		{"preflight from allowed origin", http.MethodOptions, "/auth/signup", "http://localhost:3000", http.StatusNoContent, "http://localhost:3000"},
		{"preflight from unknown origin", http.MethodOptions, "/auth/signup", "http://evil.example", http.StatusNoContent, ""},
		{"simple request from allowed origin", http.MethodGet, "/healthz", "http://localhost:3000", http.StatusOK, "http://localhost:3000"},
		{"no origin header", http.MethodGet, "/healthz", "", http.StatusOK, ""},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(tc.method, tc.path, nil)
			if tc.origin != "" {
				req.Header.Set("Origin", tc.origin)
			}
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			assert.Equal(t, tc.wantStatus, rec.Code)
			assert.Equal(t, tc.wantOrigin, rec.Header().Get("Access-Control-Allow-Origin"))
			if tc.wantOrigin != "" {
				assert.Equal(t, "GET,HEAD,PUT,PATCH,POST,DELETE", rec.Header().Get("Access-Control-Allow-Methods"))
				assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), "Authorization")
			}
		})
	}
}

func TestAPIRouter_SignUpThroughRouter(t *testing.T) {
	router := newTestRouter(t)

	body := `{"email":"ada@example.com","password":"correct horse","name":"Ada"}`
	req := httptest.NewRequest(http.MethodPost, "/auth/signup", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), "access_token")
}

package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

type contextKey struct{}

// ClaimsFromContext returns the claims stored by RequireToken.
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(contextKey{}).(*Claims)
	return claims, ok
}

// BearerToken extracts the token from an "Authorization: Bearer" header.
func BearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}

// HTTPHandler exposes the auth service over HTTP.
type HTTPHandler struct {
	service   *Service
	validator *Validator
	log       *zap.SugaredLogger
}

func NewHTTPHandler(service *Service, validator *Validator, log *zap.SugaredLogger) *HTTPHandler {
	return &HTTPHandler{service: service, validator: validator, log: log}
}

// Register mounts the routes under /auth.
func (h *HTTPHandler) Register(router *mux.Router) {
	r := router.PathPrefix("/auth").Subrouter()
	r.HandleFunc("/signup", h.signUp).Methods(http.MethodPost)
	r.HandleFunc("/signin", h.signIn).Methods(http.MethodPost)
	r.Handle("/profile", h.RequireToken(http.HandlerFunc(h.profile))).Methods(http.MethodGet)
}

// RequireToken rejects requests without a valid bearer token.
func (h *HTTPHandler) RequireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := BearerToken(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing authentication token")
			return
		}
		claims, err := h.validator.ValidateToken(r.Context(), token)
		if err != nil {
			h.log.Infof("Rejected token from %s: %v", r.RemoteAddr, err)
			writeError(w, http.StatusUnauthorized, "invalid authentication token")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), contextKey{}, claims)))
	})
}

func (h *HTTPHandler) signUp(w http.ResponseWriter, r *http.Request) {
	var req SignUpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	token, err := h.service.SignUp(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, token)
}

func (h *HTTPHandler) signIn(w http.ResponseWriter, r *http.Request) {
	var req SignInRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	token, err := h.service.SignIn(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, token)
}

func (h *HTTPHandler) profile(w http.ResponseWriter, r *http.Request) {
	claims, _ := ClaimsFromContext(r.Context())
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "This is a protected route",
		"email":   claims.Email,
		"id":      claims.Subject,
	})
}

func (h *HTTPHandler) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrUserExists):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "Invalid credentials")
	default:
		h.log.Errorf("Auth request failed: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

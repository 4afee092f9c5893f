package websocket

import (
	"context"
	"errors"
	"net/http"

	"github.com/danieljoseph18/flui-backend/auth"
	"github.com/danieljoseph18/flui-backend/metrics"
)

var errMissingToken = errors.New("missing authentication token")

// TokenValidator is satisfied by *auth.Validator.
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (*auth.Claims, error)
}

// authenticate validates the handshake token. Browsers cannot set headers
// on a websocket upgrade, so the query parameter is checked first and the
// Authorization header second.
func (h *Handler) authenticate(r *http.Request) (*auth.Claims, error) {
	token := r.URL.Query().Get(h.cfg.Auth.TokenQueryParam)
	if token == "" {
		token = auth.BearerToken(r)
	}
	if token == "" {
		metrics.AuthFailures.WithLabelValues("missing_token").Inc()
		return nil, errMissingToken
	}

	claims, err := h.validator.ValidateToken(r.Context(), token)
	if err != nil {
		metrics.AuthFailures.WithLabelValues("invalid_token").Inc()
		return nil, err
	}
	metrics.AuthSuccess.Inc()
	return claims, nil
}

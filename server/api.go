package server

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/danieljoseph18/flui-backend/auth"
	"github.com/danieljoseph18/flui-backend/config"
)

var allowedHeaders = strings.Join([]string{
	"Authorization",
	"Content-Type",
	"Content-Length",
	"Accept-Encoding",
}, ",")

// NewAPIRouter builds the HTTP API served next to the relay: a health probe
// and the auth routes.
func NewAPIRouter(cfg config.APIConfig, authHandler *auth.HTTPHandler, log *zap.SugaredLogger) *mux.Router {
	router := mux.NewRouter()
	router.Use(corsMiddleware(cfg.AllowedOrigins, cfg.AllowedMethods))
	router.Use(requestLogger(log))

	router.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}).Methods(http.MethodGet, http.MethodHead)

	if authHandler != nil {
		authHandler.Register(router)
	}

	// Preflight requests never match a route's method, so answer them here.
	router.Methods(http.MethodOptions).HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	return router
}

func corsMiddleware(origins, methods []string) mux.MiddlewareFunc {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[o] = true
	}
	allowedMethods := strings.Join(methods, ",")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" && (allowed[origin] || allowed["*"]) {
				setCorsHeaders(w, origin, allowedMethods)
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func setCorsHeaders(w http.ResponseWriter, origin, methods string) {
	w.Header().Set("Access-Control-Allow-Origin", origin)
	w.Header().Set("Access-Control-Allow-Credentials", "true")
	w.Header().Set("Access-Control-Allow-Methods", methods)
	w.Header().Set("Access-Control-Allow-Headers", allowedHeaders)
	w.Header().Set("Access-Control-Max-Age", "300")
	w.Header().Add("Vary", "Origin")
}

func requestLogger(log *zap.SugaredLogger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			log.Debugf("%s %s from %s", r.Method, r.URL.Path, r.RemoteAddr)
			next.ServeHTTP(w, r)
		})
	}
}

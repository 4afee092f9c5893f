package websocket

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/danieljoseph18/flui-backend/config"
	"github.com/danieljoseph18/flui-backend/logging"
	"github.com/danieljoseph18/flui-backend/metrics"
	"github.com/danieljoseph18/flui-backend/relay"
	"github.com/danieljoseph18/flui-backend/upstream"
)

const rejectWriteTimeout = time.Second

// Handler accepts client connections and starts a relay session for each.
type Handler struct {
	cfg        *config.AppConfig
	manager    *ClientManager
	newAdapter upstream.Factory
	validator  TokenValidator // nil unless handshake auth is enabled
	upgrader   websocket.Upgrader
	log        *zap.SugaredLogger
}

// NewHandler creates a new websocket handler
func NewHandler(cfg *config.AppConfig, manager *ClientManager, newAdapter upstream.Factory, validator TokenValidator, log *zap.SugaredLogger) *Handler {
	return &Handler{
		cfg:        cfg,
		manager:    manager,
		newAdapter: newAdapter,
		validator:  validator,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		log: log,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.HandleWebSocket(w, r)
}

// HandleWebSocket validates and upgrades one inbound connection, then runs
// its relay session until either side disconnects.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	var subject string

	// A wrong path is refused with a close frame whether or not auth is on.
	path, ok := requestPath(r)
	if !ok || path != h.cfg.Server.Path {
		conn, err := h.upgrader.Upgrade(w, r, nil)
		if err != nil {
			metrics.RejectedConnections.WithLabelValues("upgrade_failed").Inc()
			h.log.Infof("WebSocket upgrade failed: %v", err)
			return
		}
		h.reject(conn, r)
		return
	}

	// --- Handshake Authentication ---
	if h.cfg.Auth.Enabled {
		if h.validator == nil {
			h.log.Errorf("Auth is enabled but no token validator is configured")
			http.Error(w, "Internal server configuration error", http.StatusInternalServerError)
			return
		}
		claims, err := h.authenticate(r)
		if err != nil {
			metrics.RejectedConnections.WithLabelValues("unauthorized").Inc()
			h.log.Infof("Rejected connection from %s: %v", r.RemoteAddr, err)
			http.Error(w, "Invalid authentication token", http.StatusUnauthorized)
			return
		}
		subject = claims.Subject
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		metrics.RejectedConnections.WithLabelValues("upgrade_failed").Inc()
		h.log.Infof("WebSocket upgrade failed: %v", err)
		return
	}

	id := uuid.NewString()
	client := NewClientSession(id, conn, &h.cfg.WebSocket, h.log)
	client.Subject = subject

	if err := h.manager.AddClient(r.Context(), client); err != nil {
		client.Close(websocket.CloseInternalServerErr, "session registry unavailable")
		return
	}
	defer h.manager.RemoveClient(id, "disconnected")
	client.OnPong = func() {
		ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
		defer cancel()
		h.manager.RefreshSessionTTL(ctx, id)
	}
	client.StartKeepAlive()

	h.log.Infof("Accepted %s on %q (relay %s), connecting with key %q",
		id, path, h.manager.ServerID(), logging.RedactCredential(h.cfg.Upstream.Credential))

	sess := relay.NewSession(id, client, h.newAdapter(), relay.Options{
		ConnectTimeout: h.cfg.Upstream.ConnectTimeout,
		MaxPending:     h.cfg.WebSocket.MaxPending,
	}, h.log)
	sess.Run(context.Background())

	h.log.Infof("Session %s finished in state %s, last client activity at %s",
		id, sess.State(), client.LastActivityTime().Format(time.RFC3339))
}

// requestPath returns the path the client asked for. A request URI that
// does not parse counts as invalid.
func requestPath(r *http.Request) (string, bool) {
	if r.RequestURI == "" {
		if r.URL == nil {
			return "", false
		}
		return r.URL.Path, true
	}
	u, err := url.ParseRequestURI(r.RequestURI)
	if err != nil {
		return "", false
	}
	return u.Path, true
}

// reject closes an upgraded connection with a policy-violation code. No
// session or adapter is created.
func (h *Handler) reject(conn *websocket.Conn, r *http.Request) {
	metrics.RejectedConnections.WithLabelValues("invalid_path").Inc()
	h.log.Warnf("Invalid pathname: %q from %s, closing connection.", r.RequestURI, r.RemoteAddr)

	err := conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "invalid path"),
		time.Now().Add(rejectWriteTimeout),
	)
	if err != nil {
		h.log.Debugf("Error sending close message: %v", err)
	}
	conn.Close()
}

package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/danieljoseph18/flui-backend/metrics"
)

const defaultWriteTimeout = 10 * time.Second

// Config holds what a RealtimeClient needs to reach the provider.
type Config struct {
	URL              string
	Model            string
	Credential       string
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
}

// RealtimeClient is an Adapter speaking the realtime API over a websocket.
type RealtimeClient struct {
	cfg    Config
	dialer *websocket.Dialer
	log    *zap.SugaredLogger

	handlers registry

	mu         sync.Mutex
	conn       *websocket.Conn
	state      ConnectionState
	connecting bool
	closing    bool

	writeMu sync.Mutex
}

// NewRealtimeClient creates an idle client.
func NewRealtimeClient(cfg Config, log *zap.SugaredLogger) *RealtimeClient {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	return &RealtimeClient{
		cfg: cfg,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
		log:   log,
		state: StateIdle,
	}
}

// NewFactory returns a Factory producing one RealtimeClient per call.
func NewFactory(cfg Config, log *zap.SugaredLogger) Factory {
	return func() Adapter {
		return NewRealtimeClient(cfg, log)
	}
}

func (c *RealtimeClient) endpoint() (string, error) {
	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return "", fmt.Errorf("invalid upstream url: %w", err)
	}
	if c.cfg.Model != "" {
		q := u.Query()
		q.Set("model", c.cfg.Model)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// Connect implements Adapter.
func (c *RealtimeClient) Connect(ctx context.Context) error {
	c.mu.Lock()
	switch {
	case c.state == StateDisconnected:
		c.mu.Unlock()
		return ErrClosed
	case c.state == StateConnected:
		c.mu.Unlock()
		return nil
	case c.connecting:
		c.mu.Unlock()
		return ErrConnectInProgress
	}
	c.connecting = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.connecting = false
		c.mu.Unlock()
	}()

	endpoint, err := c.endpoint()
	if err != nil {
		return err
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.cfg.Credential)
	header.Set("OpenAI-Beta", "realtime=v1")

	conn, resp, err := c.dialer.DialContext(ctx, endpoint, header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dial upstream: %w (status %d)", err, resp.StatusCode)
		}
		return fmt.Errorf("dial upstream: %w", err)
	}

	c.mu.Lock()
	if c.state == StateDisconnected {
		// Disconnect raced the dial; nobody wants this connection.
		c.mu.Unlock()
		conn.Close()
		return ErrClosed
	}
	c.conn = conn
	c.state = StateConnected
	c.mu.Unlock()

	go c.readLoop(conn)
	return nil
}

func (c *RealtimeClient) readLoop(conn *websocket.Conn) {
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			local := c.closing
			c.state = StateDisconnected
			c.mu.Unlock()

			ev := Event{Kind: KindClose}
			if !local {
				ev.Err = err
				c.log.Infof("Upstream connection closed: %v", err)
			}
			conn.Close()
			c.handlers.dispatch(ev)
			return
		}

		if msgType != websocket.TextMessage {
			c.log.Warnf("Dropping non-text frame from upstream (type %d)", msgType)
			continue
		}

		eventType, err := DecodeType(data)
		if err != nil {
			metrics.MalformedEvents.WithLabelValues(metrics.DirectionToDownstream).Inc()
			c.log.Warnf("Error parsing event from upstream: %v", err)
			continue
		}

		c.handlers.dispatch(Event{Kind: KindServerEvent, Type: eventType, Raw: data})
	}
}

// Send implements Adapter.
func (c *RealtimeClient) Send(eventType string, payload json.RawMessage) error {
	c.mu.Lock()
	conn, state := c.conn, c.state
	c.mu.Unlock()

	switch state {
	case StateIdle:
		return ErrNotConnected
	case StateDisconnected:
		return ErrClosed
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout)); err != nil {
		return fmt.Errorf("send %q: %w", eventType, err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return fmt.Errorf("send %q: %w", eventType, err)
	}
	return nil
}

// On implements Adapter.
func (c *RealtimeClient) On(kind EventKind, h Handler) {
	c.handlers.add(kind, h)
}

// Disconnect implements Adapter.
func (c *RealtimeClient) Disconnect() error {
	c.mu.Lock()
	conn, prev := c.conn, c.state
	c.state = StateDisconnected
	c.closing = true
	c.mu.Unlock()

	if prev != StateConnected || conn == nil {
		return nil
	}

	c.writeMu.Lock()
	err := conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(c.cfg.WriteTimeout),
	)
	c.writeMu.Unlock()
	if err != nil {
		c.log.Debugf("Error sending close message upstream: %v", err)
	}
	return conn.Close()
}

// IsConnected implements Adapter.
func (c *RealtimeClient) IsConnected() bool {
	return c.State() == StateConnected
}

// State implements Adapter.
func (c *RealtimeClient) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

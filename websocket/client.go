package websocket

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/danieljoseph18/flui-backend/config"
)

const defaultWriteTimeout = 10 * time.Second

// ClientSession is the downstream end of a relay session: one accepted
// browser connection. It satisfies relay.Downstream.
type ClientSession struct {
	ID         string
	RemoteAddr string
	Subject    string // authenticated user, if any

	// ConnectedAt is set when the manager registers the client.
	ConnectedAt time.Time
	// OnPong runs on the read goroutine for every pong received.
	OnPong      func()

	conn         *websocket.Conn
	cfg          *config.WebSocketConfig
	log          *zap.SugaredLogger
	ctx          context.Context
	cancel       context.CancelFunc
	lastActivity atomic.Int64
	writeMu      sync.Mutex
	closeOnce    sync.Once
}

// NewClientSession creates a new client session
func NewClientSession(id string, conn *websocket.Conn, cfg *config.WebSocketConfig, log *zap.SugaredLogger) *ClientSession {
	ctx, cancel := context.WithCancel(context.Background())
	cs := &ClientSession{
		ID:         id,
		RemoteAddr: conn.RemoteAddr().String(),
		conn:       conn,
		cfg:        cfg,
		log:        log.With("session_id", id),
		ctx:        ctx,
		cancel:     cancel,
	}
	if cfg.MessageSizeLimit > 0 {
		conn.SetReadLimit(cfg.MessageSizeLimit)
	}
	cs.lastActivity.Store(time.Now().Unix())
	return cs
}

func (s *ClientSession) writeTimeout() time.Duration {
	if s.cfg.WriteTimeout > 0 {
		return s.cfg.WriteTimeout
	}
	return defaultWriteTimeout
}

// ReadMessage returns the next text frame. Binary frames are skipped.
func (s *ClientSession) ReadMessage() ([]byte, error) {
	for {
		msgType, data, err := s.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		s.UpdateActivity()
		if msgType != websocket.TextMessage {
			s.log.Warnf("Dropping non-text frame from client (type %d)", msgType)
			continue
		}
		return data, nil
	}
}

// WriteMessage sends one text frame to the client.
func (s *ClientSession) WriteMessage(data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout())); err != nil {
		return err
	}
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

// UpdateActivity records the time of the last frame from the client. With
// keep-alive on it also pushes the read deadline out; without pings a quiet
// client is never timed out.
func (s *ClientSession) UpdateActivity() {
	s.lastActivity.Store(time.Now().Unix())
	if s.keepAlive() {
		_ = s.conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
	}
}

// LastActivityTime returns the time of last activity
func (s *ClientSession) LastActivityTime() time.Time {
	return time.Unix(s.lastActivity.Load(), 0)
}

func (s *ClientSession) keepAlive() bool {
	return s.cfg.PingInterval > 0 && s.cfg.PongTimeout > 0
}

// StartKeepAlive pings the client every PingInterval and expects some frame
// back within PongTimeout.
func (s *ClientSession) StartKeepAlive() {
	if !s.keepAlive() {
		return
	}
	s.conn.SetPongHandler(func(string) error {
		s.UpdateActivity()
		if s.OnPong != nil {
			s.OnPong()
		}
		return nil
	})
	s.UpdateActivity()
	go s.pingLoop()
}

func (s *ClientSession) pingLoop() {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := s.SendPing(); err != nil {
				s.log.Infof("Failed to send ping: %v", err)
				s.Close(websocket.CloseInternalServerErr, "Ping failure")
				return
			}
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *ClientSession) SendPing() error {
	return s.conn.WriteControl(
		websocket.PingMessage,
		[]byte{},
		time.Now().Add(s.writeTimeout()),
	)
}

// Close sends a close frame with code and closes the connection. Only the
// first call has any effect.
func (s *ClientSession) Close(code int, text string) error {
	var err error
	s.closeOnce.Do(func() {
		s.cancel()

		s.writeMu.Lock()
		werr := s.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(code, text),
			time.Now().Add(s.writeTimeout()),
		)
		s.writeMu.Unlock()
		if werr != nil && !errors.Is(werr, websocket.ErrCloseSent) {
			s.log.Debugf("Error sending close message: %v", werr)
		}

		err = s.conn.Close()
	})
	return err
}

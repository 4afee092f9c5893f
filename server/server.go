package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/danieljoseph18/flui-backend/broker"
	"github.com/danieljoseph18/flui-backend/websocket"
)

const shutdownReason = "Server shutting down"

// Server wraps an http.Server with the relay's lifecycle.
type Server struct {
	httpServer *http.Server
	log        *zap.SugaredLogger
}

// NewServer creates a new server instance
func NewServer(addr string, handler http.Handler, readTimeout, writeTimeout time.Duration, log *zap.SugaredLogger) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      handler,
			ReadTimeout:  readTimeout,
			WriteTimeout: writeTimeout,
		},
		log: log,
	}
}

// Addr returns the configured listen address.
func (s *Server) Addr() string { return s.httpServer.Addr }

// Start serves until Shutdown is called. A clean shutdown returns nil.
func (s *Server) Start() error {
	s.log.Infof("Listening on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting connections and closes the listener. Hijacked
// websocket connections are not tracked by http.Server; use ShutdownRelay
// for the relay listener.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ShutdownRelay stops the listener, closes every client session with a
// going-away code, waits for lifecycle notifications to drain and closes
// the broker.
func (s *Server) ShutdownRelay(ctx context.Context, manager *websocket.ClientManager, publisher broker.Publisher) error {
	s.log.Infof("Shutting down relay with %d active sessions", manager.Count())

	err := s.httpServer.Shutdown(ctx)
	manager.CloseAllConnections(shutdownReason)

	drained := make(chan struct{})
	go func() {
		manager.WaitForCompletion()
		close(drained)
	}()
	select {
	case <-drained:
	case <-ctx.Done():
		err = multierr.Append(err, ctx.Err())
	}

	if publisher != nil {
		err = multierr.Append(err, publisher.Close())
	}
	return err
}

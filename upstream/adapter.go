// Package upstream wraps the outbound connection to the realtime event
// provider.
package upstream

import (
	"context"
	"encoding/json"
	"errors"
)

var (
	// ErrNotConnected is returned by Send before Connect succeeded.
	ErrNotConnected = errors.New("upstream not connected")
	// ErrClosed is returned once the adapter has been disconnected. Adapters
	// are single-use.
	ErrClosed = errors.New("upstream adapter closed")
	// ErrConnectInProgress is returned by a second concurrent Connect.
	ErrConnectInProgress = errors.New("upstream connect already in progress")
)

// ConnectionState mirrors the adapter's underlying connection.
type ConnectionState int

const (
	StateIdle ConnectionState = iota
	StateConnected
	StateDisconnected
)

func (s ConnectionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Adapter is one outbound connection, owned by exactly one relay session.
type Adapter interface {
	// Connect dials the provider. It blocks until the connection is open,
	// the dial fails, or ctx is done.
	Connect(ctx context.Context) error
	// Send transmits one event. payload is the complete event as received
	// from the client.
	Send(eventType string, payload json.RawMessage) error
	// On subscribes h to events of the given kind. Handlers run on the
	// adapter's read goroutine and must not block for long.
	On(kind EventKind, h Handler)
	// Disconnect closes the connection. Safe to call at any time and more
	// than once.
	Disconnect() error
	// IsConnected is for logging only.
	IsConnected() bool
	State() ConnectionState
}

// Factory creates a fresh adapter for a new session.
type Factory func() Adapter

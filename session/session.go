package session

import (
	"context"
	"time"
)

// Session is the registry record for one live relay session. Only
// connection metadata is kept; relayed events are never stored.
type Session struct {
	ID          string    `json:"id"`
	ServerID    string    `json:"server_id"` // relay instance holding the connection
	RemoteAddr  string    `json:"remote_addr"`
	ConnectedAt time.Time `json:"connected_at"`
}

// Store defines the interface for the session registry.
type Store interface {
	// Create stores a new session.
	Create(ctx context.Context, session *Session) error
	// Get retrieves a session by ID. A missing session is nil, nil.
	Get(ctx context.Context, id string) (*Session, error)
	// Delete removes a session.
	Delete(ctx context.Context, id string) error
	// RefreshTTL extends the session's lifetime in the store.
	RefreshTTL(ctx context.Context, id string) error
}

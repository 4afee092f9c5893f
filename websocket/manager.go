package websocket

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/danieljoseph18/flui-backend/broker"
	"github.com/danieljoseph18/flui-backend/metrics"
	"github.com/danieljoseph18/flui-backend/session"
)

const (
	publishTimeout = 10 * time.Second
	refreshTimeout = 2 * time.Second
)

// ClientManager tracks the downstream connections of this relay instance.
// It coordinates between the in-memory connection map, the session registry
// and lifecycle notifications. It never touches relayed events.
type ClientManager struct {
	clients      sync.Map // session ID -> *ClientSession
	wg           sync.WaitGroup
	sessionStore session.Store
	publisher    broker.Publisher
	serverID     string
	log          *zap.SugaredLogger
}

// NewClientManager creates a new client manager.
func NewClientManager(store session.Store, publisher broker.Publisher, serverID string, log *zap.SugaredLogger) *ClientManager {
	return &ClientManager{
		sessionStore: store,
		publisher:    publisher,
		serverID:     serverID,
		log:          log,
	}
}

// ServerID identifies this relay instance.
func (m *ClientManager) ServerID() string { return m.serverID }

// AddClient records the session in the registry first, then tracks the live
// connection.
func (m *ClientManager) AddClient(ctx context.Context, client *ClientSession) error {
	client.ConnectedAt = time.Now()
	record := m.record(client)
	if err := m.sessionStore.Create(ctx, record); err != nil {
		m.log.Errorf("Failed to create session in store for %s: %v", client.ID, err)
		return err
	}

	m.clients.Store(client.ID, client)
	m.publish(broker.Message{SessionID: client.ID, Event: broker.EventSessionOpened})
	m.log.Infof("Session %s accepted from %s", client.ID, client.RemoteAddr)
	return nil
}

// RemoveClient forgets the session. Calling it for an unknown or already
// removed ID does nothing.
func (m *ClientManager) RemoveClient(id, reason string) {
	if _, ok := m.clients.LoadAndDelete(id); !ok {
		return
	}

	// The request context may be gone by now.
	if err := m.sessionStore.Delete(context.Background(), id); err != nil {
		m.log.Errorf("Failed to delete session %s from store: %v", id, err)
	}
	m.publish(broker.Message{SessionID: id, Event: broker.EventSessionClosed, Reason: reason})
	m.log.Infof("Session %s removed", id)
}

// GetClient retrieves a live client connection by ID.
func (m *ClientManager) GetClient(id string) (*ClientSession, bool) {
	if client, ok := m.clients.Load(id); ok {
		return client.(*ClientSession), true
	}
	return nil, false
}

// RefreshSessionTTL extends the session's record in the store, writing it
// again if it expired while the client was still live. Failures are logged
// only; a registry hiccup never ends a relay session.
func (m *ClientManager) RefreshSessionTTL(ctx context.Context, id string) {
	existing, err := m.sessionStore.Get(ctx, id)
	if err != nil {
		m.log.Warnf("Failed to read session %s from store: %v", id, err)
		return
	}
	if existing != nil {
		if err := m.sessionStore.RefreshTTL(ctx, id); err != nil {
			m.log.Warnf("Failed to refresh session TTL for %s: %v", id, err)
		}
		return
	}

	client, ok := m.GetClient(id)
	if !ok {
		return
	}
	if err := m.sessionStore.Create(ctx, m.record(client)); err != nil {
		m.log.Warnf("Failed to restore session %s in store: %v", id, err)
		return
	}
	m.log.Infof("Restored expired session record for %s", id)
}

func (m *ClientManager) record(client *ClientSession) *session.Session {
	return &session.Session{
		ID:          client.ID,
		ServerID:    m.serverID,
		RemoteAddr:  client.RemoteAddr,
		ConnectedAt: client.ConnectedAt,
	}
}

// Count returns the number of live clients.
func (m *ClientManager) Count() int {
	n := 0
	m.clients.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

func (m *ClientManager) publish(msg broker.Message) {
	msg.ServerID = m.serverID
	msg.At = time.Now().UTC()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()
		if err := m.publisher.Publish(ctx, msg); err != nil {
			m.log.Warnf("Failed to publish %s for %s: %v", msg.Event, msg.SessionID, err)
			return
		}
		metrics.BrokerMessagesPublished.WithLabelValues(m.publisher.Type()).Inc()
	}()
}

// WaitForCompletion waits for in-flight lifecycle publishes.
func (m *ClientManager) WaitForCompletion() {
	m.wg.Wait()
}

// CloseAllConnections closes every client with a going-away code. Each
// session then tears down its upstream and removes itself.
func (m *ClientManager) CloseAllConnections(reason string) {
	m.clients.Range(func(key, value any) bool {
		client := value.(*ClientSession)
		m.log.Infof("Closing connection for session %s: %s", key, reason)
		client.Close(websocket.CloseGoingAway, reason)
		return true
	})
}

package upstream

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

// ErrMalformedEvent is returned for frames that are not a JSON object with a
// non-empty string "type".
var ErrMalformedEvent = errors.New("malformed event")

// EventKind is the closed set of things a handler can subscribe to.
type EventKind int

const (
	// KindServerEvent matches every provider-originated event.
	KindServerEvent EventKind = iota
	// KindClose fires once when the upstream connection ends.
	KindClose
)

func (k EventKind) String() string {
	switch k {
	case KindServerEvent:
		return "server.*"
	case KindClose:
		return "close"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Event is delivered to handlers. Raw is the provider frame, untouched.
type Event struct {
	Kind EventKind
	Type string
	Raw  json.RawMessage
	// Err is set on KindClose when the connection was not closed locally.
	Err error
}

// Handler receives events from the adapter's read goroutine.
type Handler func(Event)

// DecodeType extracts the "type" field from a raw event. The rest of the
// payload is left opaque.
func DecodeType(raw []byte) (string, error) {
	var envelope struct {
		Type *string `json:"type"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if envelope.Type == nil || *envelope.Type == "" {
		return "", fmt.Errorf("%w: missing type", ErrMalformedEvent)
	}
	return *envelope.Type, nil
}

// registry maps event kinds to handlers.
type registry struct {
	mu       sync.RWMutex
	server   []Handler
	closeHdl []Handler
}

func (r *registry) add(kind EventKind, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch kind {
	case KindServerEvent:
		r.server = append(r.server, h)
	case KindClose:
		r.closeHdl = append(r.closeHdl, h)
	default:
		panic(fmt.Sprintf("upstream: unknown event kind %d", int(kind)))
	}
}

func (r *registry) dispatch(ev Event) {
	r.mu.RLock()
	var handlers []Handler
	switch ev.Kind {
	case KindServerEvent:
		handlers = r.server
	case KindClose:
		handlers = r.closeHdl
	}
	r.mu.RUnlock()

	for _, h := range handlers {
		h(ev)
	}
}

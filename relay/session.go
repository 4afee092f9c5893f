// Package relay pairs one downstream client connection with one upstream
// adapter and moves events between them.
//
// A Session buffers client events while the upstream connection is being
// established, flushes them in arrival order once it is ready, and then
// relays in both directions until either side goes away. All state lives on
// a single loop goroutine; the downstream reader, the connect attempt and
// the adapter's handlers only post signals to it.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/danieljoseph18/flui-backend/metrics"
	"github.com/danieljoseph18/flui-backend/upstream"
)

// inboxSize bounds how far the reader goroutines may run ahead of the loop.
const inboxSize = 64

// Downstream is the accepted client connection.
type Downstream interface {
	// ReadMessage blocks for the next text frame. Any error ends the session.
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	// Close must be safe to call more than once.
	Close(code int, reason string) error
}

// Options tune a Session. Zero values keep the unbounded behaviour.
type Options struct {
	// ConnectTimeout bounds the upstream connect. 0 waits forever.
	ConnectTimeout time.Duration
	// MaxPending caps the number of buffered client events while
	// connecting. 0 means unbounded.
	MaxPending int
}

type signalKind int

const (
	sigDownMessage signalKind = iota
	sigDownClosed
	sigConnected
	sigConnectFailed
	sigUpEvent
	sigUpClosed
)

type signal struct {
	kind signalKind
	data []byte
	err  error
}

// Session is one relayed client connection.
type Session struct {
	id   string
	down Downstream
	up   upstream.Adapter
	opts Options
	log  *zap.SugaredLogger

	state   atomic.Int32
	pending [][]byte
	queued  atomic.Int32

	inbox     chan signal
	done      chan struct{}
	closeOnce sync.Once
}

// NewSession binds down and up. The session owns both from here on.
func NewSession(id string, down Downstream, up upstream.Adapter, opts Options, log *zap.SugaredLogger) *Session {
	s := &Session{
		id:    id,
		down:  down,
		up:    up,
		opts:  opts,
		log:   log.With("session_id", id),
		inbox: make(chan signal, inboxSize),
		done:  make(chan struct{}),
	}
	s.state.Store(int32(StateConnecting))
	return s
}

// ID returns the session identifier used in logs.
func (s *Session) ID() string { return s.id }

// State returns the current state.
func (s *Session) State() State { return State(s.state.Load()) }

// Pending returns the number of client events buffered while connecting.
func (s *Session) Pending() int { return int(s.queued.Load()) }

// Done is closed once the session reaches Closed.
func (s *Session) Done() <-chan struct{} { return s.done }

// Run drives the session until it is closed. Cancelling ctx closes both
// sides with a going-away code.
func (s *Session) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	metrics.ActiveSessions.Inc()
	metrics.TotalSessions.Inc()
	defer metrics.ActiveSessions.Dec()

	s.up.On(upstream.KindServerEvent, func(ev upstream.Event) {
		s.post(signal{kind: sigUpEvent, data: ev.Raw})
	})
	s.up.On(upstream.KindClose, func(ev upstream.Event) {
		s.post(signal{kind: sigUpClosed, err: ev.Err})
	})

	go s.readDownstream()
	go s.connect(ctx)

	for {
		select {
		case sig := <-s.inbox:
			s.handle(sig)
		case <-ctx.Done():
			s.teardown(websocket.CloseGoingAway, "relay shutting down")
		}
		if s.State() == StateClosed {
			return
		}
	}
}

// post hands a signal to the loop, or drops it once the session is closed.
func (s *Session) post(sig signal) {
	select {
	case s.inbox <- sig:
	case <-s.done:
	}
}

func (s *Session) readDownstream() {
	for {
		data, err := s.down.ReadMessage()
		if err != nil {
			s.post(signal{kind: sigDownClosed, err: err})
			return
		}
		s.post(signal{kind: sigDownMessage, data: data})
	}
}

func (s *Session) connect(ctx context.Context) {
	if s.opts.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.ConnectTimeout)
		defer cancel()
	}

	s.log.Infof("Connecting to upstream...")
	start := time.Now()
	if err := s.up.Connect(ctx); err != nil {
		s.post(signal{kind: sigConnectFailed, err: err})
		return
	}
	metrics.UpstreamConnectDuration.Observe(time.Since(start).Seconds())
	s.post(signal{kind: sigConnected})
}

func (s *Session) handle(sig signal) {
	if s.State() == StateClosed {
		return
	}

	switch sig.kind {
	case sigDownMessage:
		s.onDownstreamMessage(sig.data)
	case sigDownClosed:
		s.log.Infof("Client disconnected: %v", sig.err)
		s.teardown(websocket.CloseNormalClosure, "")
	case sigConnected:
		s.onConnected()
	case sigConnectFailed:
		metrics.UpstreamConnectFailures.Inc()
		if errors.Is(sig.err, context.DeadlineExceeded) {
			s.log.Warnf("Error connecting to upstream: timed out after %s", s.opts.ConnectTimeout)
		} else {
			s.log.Warnf("Error connecting to upstream: %v", sig.err)
		}
		s.teardown(websocket.CloseInternalServerErr, "upstream connection failed")
	case sigUpEvent:
		s.relayToClient(sig.data)
	case sigUpClosed:
		if sig.err != nil {
			s.log.Infof("Upstream closed: %v", sig.err)
		} else {
			s.log.Infof("Upstream closed")
		}
		s.teardown(websocket.CloseNormalClosure, "upstream closed")
	}
}

func (s *Session) onDownstreamMessage(data []byte) {
	eventType, err := upstream.DecodeType(data)
	if err != nil {
		metrics.MalformedEvents.WithLabelValues(metrics.DirectionToUpstream).Inc()
		s.log.Warnf("Error parsing event from client: %v", err)
		return
	}

	switch s.State() {
	case StateConnecting:
		if s.opts.MaxPending > 0 && len(s.pending) >= s.opts.MaxPending {
			s.log.Warnf("Pending queue limit %d reached while connecting", s.opts.MaxPending)
			s.teardown(websocket.CloseTryAgainLater, "too many events before upstream ready")
			return
		}
		s.log.Debugf("Queueing %q until upstream is ready", eventType)
		s.pending = append(s.pending, data)
		s.queued.Store(int32(len(s.pending)))
	case StateRelaying:
		s.forward(eventType, data)
	}
}

// onConnected flushes the queue and switches to passthrough. Signals that
// arrive meanwhile wait in the inbox, so nothing overtakes a queued event.
func (s *Session) onConnected() {
	if !s.transition(StateDraining) {
		return
	}
	s.log.Infof("Connected to upstream successfully!")

	flushed := len(s.pending)
	for len(s.pending) > 0 {
		data := s.pending[0]
		s.pending[0] = nil
		s.pending = s.pending[1:]
		s.queued.Store(int32(len(s.pending)))

		eventType, err := upstream.DecodeType(data)
		if err != nil {
			continue
		}
		if !s.forward(eventType, data) {
			return
		}
	}
	s.pending = nil
	metrics.PendingFlushed.Observe(float64(flushed))

	s.transition(StateRelaying)
}

// forward sends one client event upstream. It reports false if the session
// was torn down.
func (s *Session) forward(eventType string, data []byte) bool {
	s.log.Debugf("Relaying %q to upstream", eventType)
	if err := s.up.Send(eventType, json.RawMessage(data)); err != nil {
		s.log.Errorf("Error relaying %q to upstream: %v", eventType, err)
		s.teardown(websocket.CloseInternalServerErr, "upstream send failed")
		return false
	}
	metrics.MessagesRelayed.WithLabelValues(metrics.DirectionToUpstream).Inc()
	return true
}

func (s *Session) relayToClient(data []byte) {
	if err := s.down.WriteMessage(data); err != nil {
		s.log.Warnf("Error relaying event to client: %v", err)
		s.teardown(websocket.CloseInternalServerErr, "")
		return
	}
	metrics.MessagesRelayed.WithLabelValues(metrics.DirectionToDownstream).Inc()
}

func (s *Session) transition(to State) bool {
	for {
		from := s.State()
		if !from.canTransition(to) {
			return false
		}
		if s.state.CompareAndSwap(int32(from), int32(to)) {
			s.log.Debugf("Session %s -> %s", from, to)
			return true
		}
	}
}

// teardown closes both sides exactly once.
func (s *Session) teardown(code int, reason string) {
	s.closeOnce.Do(func() {
		from := s.State()
		s.transition(StateClosed)
		close(s.done)
		s.pending = nil
		s.queued.Store(0)
		metrics.SessionsClosed.WithLabelValues(from.String()).Inc()

		if err := s.up.Disconnect(); err != nil {
			s.log.Debugf("Error disconnecting upstream: %v", err)
		}
		if err := s.down.Close(code, reason); err != nil {
			s.log.Debugf("Error closing client connection: %v", err)
		}
		s.log.Infof("Session closed (was %s)", from)
	})
}

package relay

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/danieljoseph18/flui-backend/upstream"
)

const waitFor = 2 * time.Second

// fakeDownstream feeds frames from a channel and records writes and closes.
type fakeDownstream struct {
	frames chan []byte
	closed chan struct{}

	mu         sync.Mutex
	written    []string
	closeCalls int
	closeCode  int
	closeOnce  sync.Once
}

func newFakeDownstream() *fakeDownstream {
	return &fakeDownstream{
		frames: make(chan []byte, 16),
		closed: make(chan struct{}),
	}
}

func (d *fakeDownstream) send(frame string) { d.frames <- []byte(frame) }

// hangUp simulates the client closing its end.
func (d *fakeDownstream) hangUp() { close(d.frames) }

func (d *fakeDownstream) ReadMessage() ([]byte, error) {
	select {
	case f, ok := <-d.frames:
		if !ok {
			return nil, io.EOF
		}
		return f, nil
	case <-d.closed:
		return nil, errors.New("use of closed connection")
	}
}

func (d *fakeDownstream) WriteMessage(data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.written = append(d.written, string(data))
	return nil
}

func (d *fakeDownstream) Close(code int, reason string) error {
	d.mu.Lock()
	d.closeCalls++
	if d.closeCalls == 1 {
		d.closeCode = code
	}
	d.mu.Unlock()
	d.closeOnce.Do(func() { close(d.closed) })
	return nil
}

func (d *fakeDownstream) writes() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.written...)
}

func (d *fakeDownstream) code() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closeCode
}

// fakeAdapter blocks Connect until release is called.
type fakeAdapter struct {
	gate chan error

	mu              sync.Mutex
	sent            []string
	server          []upstream.Handler
	closeHandlers   []upstream.Handler
	connected       bool
	disconnectCalls int
	connectCalls    int
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{gate: make(chan error, 1)}
}

func (a *fakeAdapter) release(err error) { a.gate <- err }

func (a *fakeAdapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	a.connectCalls++
	a.mu.Unlock()

	select {
	case err := <-a.gate:
		if err != nil {
			return err
		}
	case <-ctx.Done():
		return ctx.Err()
	}
	a.mu.Lock()
	a.connected = true
	a.mu.Unlock()
	return nil
}

func (a *fakeAdapter) Send(eventType string, payload json.RawMessage) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.connected {
		return upstream.ErrNotConnected
	}
	a.sent = append(a.sent, eventType)
	return nil
}

func (a *fakeAdapter) On(kind upstream.EventKind, h upstream.Handler) {
	a.mu.Lock()
	defer a.mu.Unlock()
	switch kind {
	case upstream.KindServerEvent:
		a.server = append(a.server, h)
	case upstream.KindClose:
		a.closeHandlers = append(a.closeHandlers, h)
	}
}

func (a *fakeAdapter) Disconnect() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.disconnectCalls++
	a.connected = false
	return nil
}

func (a *fakeAdapter) IsConnected() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connected
}

func (a *fakeAdapter) State() upstream.ConnectionState {
	if a.IsConnected() {
		return upstream.StateConnected
	}
	return upstream.StateIdle
}

func (a *fakeAdapter) emit(raw string) {
	a.mu.Lock()
	handlers := append([]upstream.Handler(nil), a.server...)
	a.mu.Unlock()
	eventType, _ := upstream.DecodeType([]byte(raw))
	for _, h := range handlers {
		h(upstream.Event{Kind: upstream.KindServerEvent, Type: eventType, Raw: []byte(raw)})
	}
}

func (a *fakeAdapter) emitClose() {
	a.mu.Lock()
	handlers := append([]upstream.Handler(nil), a.closeHandlers...)
	a.mu.Unlock()
	for _, h := range handlers {
		h(upstream.Event{Kind: upstream.KindClose})
	}
}

func (a *fakeAdapter) sentTypes() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.sent...)
}

func (a *fakeAdapter) disconnects() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.disconnectCalls
}

func (a *fakeAdapter) connectStarted() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connectCalls > 0
}

type harness struct {
	t    *testing.T
	down *fakeDownstream
	up   *fakeAdapter
	sess *Session
	ran  chan struct{}
}

func startSession(t *testing.T, opts Options) *harness {
	t.Helper()
	h := &harness{
		t:    t,
		down: newFakeDownstream(),
		up:   newFakeAdapter(),
		ran:  make(chan struct{}),
	}
	h.sess = NewSession("test-session", h.down, h.up, opts, zap.NewNop().Sugar())
	go func() {
		defer close(h.ran)
		h.sess.Run(context.Background())
	}()
	require.Eventually(t, h.up.connectStarted, waitFor, time.Millisecond)
	return h
}

func (h *harness) waitState(want State) {
	h.t.Helper()
	require.Eventually(h.t, func() bool { return h.sess.State() == want }, waitFor, time.Millisecond,
		"session never reached %s (now %s)", want, h.sess.State())
}

func (h *harness) waitClosed() {
	h.t.Helper()
	select {
	case <-h.ran:
	case <-time.After(waitFor):
		h.t.Fatal("session did not finish")
	}
	assert.Equal(h.t, StateClosed, h.sess.State())
}

// waitQueued waits until n client events are buffered.
func (h *harness) waitQueued(n int) {
	h.t.Helper()
	require.Eventually(h.t, func() bool {
		return h.sess.Pending() == n
	}, waitFor, time.Millisecond)
}

func TestSession_BufferedEventsFlushInOrderBeforeLiveEvents(t *testing.T) {
	h := startSession(t, Options{})

	h.down.send(`{"type":"a"}`)
	h.down.send(`{"type":"b"}`)
	h.waitQueued(2)
	assert.Equal(t, StateConnecting, h.sess.State())
	assert.Empty(t, h.up.sentTypes(), "nothing may reach upstream before connect")

	h.up.release(nil)
	h.waitState(StateRelaying)

	h.down.send(`{"type":"c"}`)
	require.Eventually(t, func() bool { return len(h.up.sentTypes()) == 3 }, waitFor, time.Millisecond)
	assert.Equal(t, []string{"a", "b", "c"}, h.up.sentTypes())

	h.down.hangUp()
	h.waitClosed()
}

func TestSession_ManyBufferedEventsKeepArrivalOrder(t *testing.T) {
	h := startSession(t, Options{})

	want := make([]string, 0, 40)
	for i := 0; i < 40; i++ {
		eventType := string(rune('A' + i%26))
		if i >= 26 {
			eventType += "2"
		}
		want = append(want, eventType)
		h.down.send(`{"type":"` + eventType + `"}`)
	}

	// Release while frames may still be in flight; late frames must queue
	// behind the flush rather than overtake it.
	h.up.release(nil)
	for i := 0; i < 5; i++ {
		eventType := "live" + string(rune('0'+i))
		want = append(want, eventType)
		h.down.send(`{"type":"` + eventType + `"}`)
	}

	require.Eventually(t, func() bool { return len(h.up.sentTypes()) == len(want) }, waitFor, time.Millisecond)
	assert.Equal(t, want, h.up.sentTypes())

	h.down.hangUp()
	h.waitClosed()
}

func TestSession_MalformedEventIsDroppedAndSessionContinues(t *testing.T) {
	h := startSession(t, Options{})

	h.down.send(`not-json`)
	h.down.send(`{"type":"a"}`)
	h.waitQueued(1)

	h.up.release(nil)
	h.waitState(StateRelaying)

	h.down.send(`{"missing":"type"}`)
	h.down.send(`{"type":"b"}`)
	require.Eventually(t, func() bool { return len(h.up.sentTypes()) == 2 }, waitFor, time.Millisecond)
	assert.Equal(t, []string{"a", "b"}, h.up.sentTypes())
	assert.Equal(t, StateRelaying, h.sess.State())

	h.down.hangUp()
	h.waitClosed()
}

func TestSession_UpstreamEventsRelayedToClient(t *testing.T) {
	h := startSession(t, Options{})
	h.up.release(nil)
	h.waitState(StateRelaying)

	h.up.emit(`{"type":"session.created","session":{"id":"s1"}}`)
	h.up.emit(`{"type":"response.done"}`)

	require.Eventually(t, func() bool { return len(h.down.writes()) == 2 }, waitFor, time.Millisecond)
	assert.Equal(t, []string{
		`{"type":"session.created","session":{"id":"s1"}}`,
		`{"type":"response.done"}`,
	}, h.down.writes())

	h.down.hangUp()
	h.waitClosed()
}

func TestSession_DownstreamCloseDisconnectsUpstreamOnce(t *testing.T) {
	testCases := []struct {
		name  string
		setup func(h *harness)
	}{
		{name: "while connecting", setup: func(h *harness) {}},
		{name: "while relaying", setup: func(h *harness) {
			h.up.release(nil)
			h.waitState(StateRelaying)
		}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			h := startSession(t, Options{})
			tc.setup(h)

			h.down.hangUp()
			h.waitClosed()

			// Late signals from either side must not repeat teardown.
			h.up.emitClose()
			assert.NoError(t, h.down.Close(websocket.CloseNormalClosure, ""))

			assert.Equal(t, 1, h.up.disconnects())
			assert.Equal(t, websocket.CloseNormalClosure, h.down.code())
		})
	}
}

func TestSession_ConnectFailureClosesClientWithError(t *testing.T) {
	h := startSession(t, Options{})

	h.down.send(`{"type":"a"}`)
	h.waitQueued(1)

	h.up.release(errors.New("401 unauthorized"))
	h.waitClosed()

	assert.Equal(t, websocket.CloseInternalServerErr, h.down.code())
	assert.Empty(t, h.up.sentTypes())
	assert.Equal(t, 1, h.up.disconnects())
	assert.Zero(t, h.sess.Pending())
}

func TestSession_ConnectTimeout(t *testing.T) {
	h := startSession(t, Options{ConnectTimeout: 20 * time.Millisecond})
	h.waitClosed()

	assert.Equal(t, websocket.CloseInternalServerErr, h.down.code())
	assert.Equal(t, 1, h.up.disconnects())
}

func TestSession_UpstreamCloseClosesClient(t *testing.T) {
	h := startSession(t, Options{})
	h.up.release(nil)
	h.waitState(StateRelaying)

	h.up.emitClose()
	h.waitClosed()

	assert.Equal(t, websocket.CloseNormalClosure, h.down.code())
	assert.Equal(t, 1, h.up.disconnects())
}

func TestSession_PendingLimit(t *testing.T) {
	h := startSession(t, Options{MaxPending: 2})

	h.down.send(`{"type":"a"}`)
	h.down.send(`{"type":"b"}`)
	h.down.send(`{"type":"c"}`)
	h.waitClosed()

	assert.Equal(t, websocket.CloseTryAgainLater, h.down.code())
	assert.Empty(t, h.up.sentTypes())
}

func TestSession_ContextCancelClosesBothSides(t *testing.T) {
	down := newFakeDownstream()
	up := newFakeAdapter()
	sess := NewSession("ctx", down, up, Options{}, zap.NewNop().Sugar())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		sess.Run(ctx)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(waitFor):
		t.Fatal("session ignored cancellation")
	}
	assert.Equal(t, StateClosed, sess.State())
	assert.Equal(t, websocket.CloseGoingAway, down.code())
	assert.Equal(t, 1, up.disconnects())
}

func TestState_Transitions(t *testing.T) {
	testCases := []struct {
		from, to State
		allowed  bool
	}{
		{StateConnecting, StateDraining, true},
		{StateDraining, StateRelaying, true},
		{StateConnecting, StateRelaying, false},
		{StateRelaying, StateDraining, false},
		{StateConnecting, StateClosed, true},
		{StateDraining, StateClosed, true},
		{StateRelaying, StateClosed, true},
		{StateClosed, StateClosed, false},
		{StateClosed, StateConnecting, false},
	}

	for _, tc := range testCases {
		t.Run(tc.from.String()+"->"+tc.to.String(), func(t *testing.T) {
			assert.Equal(t, tc.allowed, tc.from.canTransition(tc.to))
		})
	}
}

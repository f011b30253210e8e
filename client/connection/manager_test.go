package connection

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"talkx/client/eventloop"
	"talkx/client/transport"
	"talkx/protocol"
)

type dialResult struct {
	conn *fakeConn
	err  error
}

type fakeTransport struct {
	results   chan dialResult
	dials     atomic.Int32
	ignoreCtx bool
}

func (f *fakeTransport) Dial(ctx context.Context, endpoint string) (transport.Conn, error) {
	f.dials.Add(1)
	if f.ignoreCtx {
		ctx = context.Background()
	}
	select {
	case r := <-f.results:
		if r.err != nil {
			return nil, r.err
		}
		return r.conn, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type fakeConn struct {
	incoming  chan protocol.Frame
	closed    chan struct{}
	closeOnce sync.Once

	mu   sync.Mutex
	sent []protocol.Frame
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		incoming: make(chan protocol.Frame),
		closed:   make(chan struct{}),
	}
}

func (c *fakeConn) Read() (protocol.Frame, error) {
	select {
	case f := <-c.incoming:
		return f, nil
	case <-c.closed:
		return protocol.Frame{}, transport.ErrClosed
	}
}

func (c *fakeConn) Write(f protocol.Frame) error {
	select {
	case <-c.closed:
		return transport.ErrClosed
	default:
	}
	c.mu.Lock()
	c.sent = append(c.sent, f)
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) push(t *testing.T, event string, payload any) {
	t.Helper()
	frame, err := protocol.NewFrame(event, payload)
	require.NoError(t, err)
	select {
	case c.incoming <- frame:
	case <-time.After(2 * time.Second):
		t.Fatal("frame not read")
	}
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

type harness struct {
	t        *testing.T
	loop     *eventloop.Loop
	clock    *eventloop.FakeClock
	tr       *fakeTransport
	m        *Manager
	statuses chan Status
	notes    chan string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	clock := eventloop.NewFakeClock(time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC))
	loop := eventloop.New(clock, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	go loop.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-loop.Done()
	})

	h := &harness{
		t:        t,
		loop:     loop,
		clock:    clock,
		tr:       &fakeTransport{results: make(chan dialResult)},
		statuses: make(chan Status, 64),
		notes:    make(chan string, 8),
	}
	notifier := NotifierFunc(func(title, message string) {
		h.notes <- title + ": " + message
	})
	h.m = New(loop, h.tr, notifier, zerolog.Nop())
	h.do(func() {
		h.m.OnStateChange(func(s Status) { h.statuses <- s })
	})
	return h
}

func (h *harness) do(fn func()) {
	h.t.Helper()
	require.NoError(h.t, h.loop.Do(fn))
}

func (h *harness) next() Status {
	h.t.Helper()
	select {
	case s := <-h.statuses:
		return s
	case <-time.After(2 * time.Second):
		h.t.Fatal("no status change")
	}
	return Status{}
}

func (h *harness) expect(state State, attempts int) {
	h.t.Helper()
	s := h.next()
	require.Equal(h.t, state, s.State, "attempts=%d", s.Attempts)
	require.Equal(h.t, attempts, s.Attempts)
}

func (h *harness) connect() {
	h.t.Helper()
	h.do(func() {
		assert.NoError(h.t, h.m.Connect("ws://chat.test/ws", Config{MaxAttempts: 5, RetryDelay: 2 * time.Second}))
	})
	h.expect(Connecting, 0)
}

func (h *harness) fail() {
	h.t.Helper()
	h.tr.results <- dialResult{err: errors.New("connection refused")}
}

func (h *harness) succeed() *fakeConn {
	h.t.Helper()
	conn := newFakeConn()
	h.tr.results <- dialResult{conn: conn}
	return conn
}

// retry lets the pending retry timer fire.
func (h *harness) retry() {
	h.t.Helper()
	h.do(func() {})
	h.clock.Advance(2 * time.Second)
}

func (h *harness) connected() *fakeConn {
	h.t.Helper()
	h.connect()
	conn := h.succeed()
	h.expect(Connected, 0)
	return conn
}

// TestFailedAfterMaxAttempts tests that five failed dials end in Failed and
// that nothing retries afterwards.
func TestFailedAfterMaxAttempts(t *testing.T) {
	h := newHarness(t)
	h.connect()

	for i := 1; i <= 4; i++ {
		h.fail()
		h.expect(Reconnecting, i)
		h.retry()
	}
	h.fail()
	h.expect(Failed, 5)

	select {
	case note := <-h.notes:
		assert.Contains(t, note, "Connection failed")
	case <-time.After(2 * time.Second):
		t.Fatal("no notification")
	}

	h.do(func() {})
	h.clock.Advance(time.Minute)
	h.do(func() {
		assert.Equal(t, Failed, h.m.State())
		assert.Equal(t, 5, h.m.Attempts())
	})
	assert.Equal(t, int32(5), h.tr.dials.Load())
	assert.Equal(t, 0, h.clock.Pending())

	h.connect()
	h.succeed()
	h.expect(Connected, 0)
}

// TestSuccessResetsAttempts tests that the retry counter restarts at zero
// after every successful connection.
func TestSuccessResetsAttempts(t *testing.T) {
	h := newHarness(t)
	h.connect()

	h.fail()
	h.expect(Reconnecting, 1)
	h.retry()
	h.fail()
	h.expect(Reconnecting, 2)
	h.retry()
	conn := h.succeed()
	h.expect(Connected, 0)

	conn.Close()
	h.expect(Reconnecting, 0)
	h.retry()
	for i := 1; i <= 4; i++ {
		h.fail()
		h.expect(Reconnecting, i)
		h.retry()
	}
	h.succeed()
	h.expect(Connected, 0)
}

func TestSendRequiresConnected(t *testing.T) {
	h := newHarness(t)
	h.do(func() {
		err := h.m.Send(protocol.EventChatMessage, "hi")
		assert.ErrorIs(t, err, ErrNotConnected)
	})

	h.connect()
	h.do(func() {
		assert.ErrorIs(t, h.m.Send(protocol.EventChatMessage, "hi"), ErrNotConnected)
	})
	conn := h.succeed()
	h.expect(Connected, 0)

	h.do(func() {
		assert.NoError(t, h.m.Send(protocol.EventChatMessage, "hi"))
	})
	conn.mu.Lock()
	require.Len(t, conn.sent, 1)
	assert.Equal(t, protocol.EventChatMessage, conn.sent[0].Event)
	assert.JSONEq(t, `"hi"`, string(conn.sent[0].Data))
	conn.mu.Unlock()
}

func TestConnectWhileActive(t *testing.T) {
	h := newHarness(t)
	h.connect()
	h.do(func() {
		assert.ErrorIs(t, h.m.Connect("ws://other.test/ws", Config{}), ErrAlreadyActive)
	})
	h.succeed()
	h.expect(Connected, 0)
	h.do(func() {
		assert.ErrorIs(t, h.m.Connect("ws://other.test/ws", Config{}), ErrAlreadyActive)
		assert.Equal(t, "ws://chat.test/ws", h.m.Endpoint())
	})
}

func TestDispatchAndUnsubscribe(t *testing.T) {
	h := newHarness(t)
	conn := h.connected()

	got := make(chan string, 4)
	sentinel := make(chan struct{}, 4)
	var sub *Subscription
	h.do(func() {
		sub = h.m.Subscribe(protocol.EventMessage, func(data json.RawMessage) {
			got <- string(data)
		})
		h.m.Subscribe(protocol.EventRoomUsers, func(json.RawMessage) {
			sentinel <- struct{}{}
		})
	})

	conn.push(t, protocol.EventMessage, "one")
	select {
	case data := <-got:
		assert.JSONEq(t, `"one"`, data)
	case <-time.After(2 * time.Second):
		t.Fatal("handler not called")
	}

	h.do(func() {
		sub.Unsubscribe()
		sub.Unsubscribe()
	})
	conn.push(t, protocol.EventMessage, "two")
	conn.push(t, protocol.EventRoomUsers, []string{})
	<-sentinel
	assert.Empty(t, got)
}

// TestStaleDialIgnored tests that a dial finishing after Disconnect is
// closed and does not change state.
func TestStaleDialIgnored(t *testing.T) {
	h := newHarness(t)
	h.tr.ignoreCtx = true
	h.connect()

	h.do(func() { h.m.Disconnect() })
	h.expect(Disconnected, 0)

	conn := h.succeed()
	require.Eventually(t, conn.isClosed, 2*time.Second, 10*time.Millisecond)
	h.do(func() {
		assert.Equal(t, Disconnected, h.m.State())
	})
	assert.Empty(t, h.statuses)
}

// TestStaleReadErrorIgnored tests that the read error caused by a local
// Disconnect does not start reconnecting.
func TestStaleReadErrorIgnored(t *testing.T) {
	h := newHarness(t)
	conn := h.connected()

	h.do(func() { h.m.Disconnect() })
	h.expect(Disconnected, 0)
	assert.True(t, conn.isClosed())

	h.do(func() {})
	h.clock.Advance(time.Minute)
	h.do(func() {
		assert.Equal(t, Disconnected, h.m.State())
	})
	assert.Equal(t, int32(1), h.tr.dials.Load())
	assert.Empty(t, h.statuses)
}

func TestDisconnectDetachesHandlers(t *testing.T) {
	h := newHarness(t)
	h.connected()

	called := make(chan struct{}, 1)
	h.do(func() {
		h.m.Subscribe(protocol.EventMessage, func(json.RawMessage) { called <- struct{}{} })
		h.m.Disconnect()
	})
	h.expect(Disconnected, 0)

	conn := h.connected()
	sentinel := make(chan struct{}, 1)
	h.do(func() {
		h.m.Subscribe(protocol.EventRoomUsers, func(json.RawMessage) { sentinel <- struct{}{} })
	})
	conn.push(t, protocol.EventMessage, "late")
	conn.push(t, protocol.EventRoomUsers, []string{})
	<-sentinel
	assert.Empty(t, called)
}

func TestServerErrorNotifies(t *testing.T) {
	h := newHarness(t)
	conn := h.connected()

	conn.push(t, protocol.EventError, "Room is full")
	select {
	case note := <-h.notes:
		assert.Equal(t, "Server error: Room is full", note)
	case <-time.After(2 * time.Second):
		t.Fatal("no notification")
	}

	conn.push(t, protocol.EventError, map[string]string{"message": "Slow down"})
	select {
	case note := <-h.notes:
		assert.Equal(t, "Server error: Slow down", note)
	case <-time.After(2 * time.Second):
		t.Fatal("no notification")
	}
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "Reconnecting", Reconnecting.String())
	assert.Equal(t, "State(42)", State(42).String())
}

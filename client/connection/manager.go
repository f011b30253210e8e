// Package connection owns the client's persistent connection to a chat
// server: dialing, bounded reconnection and dispatch of server events.
//
// A Manager is not safe for concurrent use. Every method must be called on
// the event loop it was created with, and every callback it makes runs there.
package connection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"talkx/client/eventloop"
	"talkx/client/transport"
	"talkx/protocol"
)

var (
	ErrNotConnected  = errors.New("not connected")
	ErrAlreadyActive = errors.New("connection already active")
)

// State of a Manager.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Reconnecting
	Failed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "Disconnected"
	case Connecting:
		return "Connecting"
	case Connected:
		return "Connected"
	case Reconnecting:
		return "Reconnecting"
	case Failed:
		return "Failed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Config controls dialing and reconnection.
type Config struct {
	MaxAttempts int
	RetryDelay  time.Duration
	DialTimeout time.Duration
}

// DefaultConfig returns five attempts two seconds apart.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 5,
		RetryDelay:  2 * time.Second,
		DialTimeout: 10 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = d.RetryDelay
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = d.DialTimeout
	}
	return c
}

// Status is reported to state observers on every transition and on every
// failed attempt.
type Status struct {
	State       State
	Attempts    int
	MaxAttempts int
	Err         error
}

// Notifier shows a message to the user.
type Notifier interface {
	Notify(title, message string)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(title, message string)

func (f NotifierFunc) Notify(title, message string) {
	f(title, message)
}

// Handler receives the data of one server event.
type Handler func(data json.RawMessage)

// Subscription is a handle on a registered handler or observer.
type Subscription struct {
	release func()
}

// NewSubscription wraps release so that it runs at most once.
func NewSubscription(release func()) *Subscription {
	return &Subscription{release: release}
}

// Unsubscribe detaches the handler. Calling it more than once is harmless.
func (s *Subscription) Unsubscribe() {
	if s == nil || s.release == nil {
		return
	}
	release := s.release
	s.release = nil
	release()
}

type handlerEntry struct {
	fn     Handler
	active bool
}

type observerEntry struct {
	fn     func(Status)
	active bool
}

// Manager holds at most one live connection.
type Manager struct {
	loop      *eventloop.Loop
	transport transport.Transport
	notifier  Notifier
	log       zerolog.Logger

	cfg      Config
	endpoint string
	state    State
	attempts int
	lastErr  error

	// gen identifies the current dial or connection. Results carrying an
	// older generation are dropped.
	gen        uint64
	conn       transport.Conn
	cancelDial context.CancelFunc
	retry      *eventloop.Timer

	handlers  map[string][]*handlerEntry
	observers []*observerEntry
}

// New creates a disconnected manager.
func New(loop *eventloop.Loop, tr transport.Transport, notifier Notifier, logger zerolog.Logger) *Manager {
	if notifier == nil {
		notifier = NotifierFunc(func(string, string) {})
	}
	return &Manager{
		loop:      loop,
		transport: tr,
		notifier:  notifier,
		log:       logger.With().Str("component", "connection").Logger(),
		cfg:       DefaultConfig(),
		handlers:  make(map[string][]*handlerEntry),
	}
}

// State returns the current state.
func (m *Manager) State() State {
	return m.state
}

// Attempts returns the number of consecutive failed attempts.
func (m *Manager) Attempts() int {
	return m.attempts
}

// Status returns the current state together with retry progress.
func (m *Manager) Status() Status {
	return Status{State: m.state, Attempts: m.attempts, MaxAttempts: m.cfg.MaxAttempts, Err: m.lastErr}
}

// Endpoint returns the address passed to the last Connect.
func (m *Manager) Endpoint() string {
	return m.endpoint
}

// Connect starts dialing endpoint. It is only allowed from Disconnected or
// Failed.
func (m *Manager) Connect(endpoint string, cfg Config) error {
	switch m.state {
	case Connecting, Connected, Reconnecting:
		return ErrAlreadyActive
	}
	m.cfg = cfg.withDefaults()
	m.endpoint = endpoint
	m.attempts = 0
	m.lastErr = nil
	m.setState(Connecting)
	m.dial()
	return nil
}

// Send writes one event. Outside Connected the payload is dropped.
func (m *Manager) Send(event string, payload any) error {
	if m.state != Connected || m.conn == nil {
		return ErrNotConnected
	}
	frame, err := protocol.NewFrame(event, payload)
	if err != nil {
		return err
	}
	if err := m.conn.Write(frame); err != nil {
		return fmt.Errorf("send %s: %w", event, err)
	}
	return nil
}

// Disconnect closes the connection, stops reconnecting and detaches every
// event handler. State observers stay registered.
func (m *Manager) Disconnect() {
	m.gen++
	m.teardown()
	for event, entries := range m.handlers {
		for _, e := range entries {
			e.active = false
		}
		delete(m.handlers, event)
	}
	if m.state != Disconnected {
		m.attempts = 0
		m.lastErr = nil
		m.setState(Disconnected)
	}
}

// Subscribe registers handler for a server event.
func (m *Manager) Subscribe(event string, handler Handler) *Subscription {
	entry := &handlerEntry{fn: handler, active: true}
	m.handlers[event] = append(m.handlers[event], entry)
	return &Subscription{release: func() {
		if !entry.active {
			return
		}
		entry.active = false
		entries := m.handlers[event]
		for i, e := range entries {
			if e == entry {
				m.handlers[event] = append(entries[:i:i], entries[i+1:]...)
				break
			}
		}
		if len(m.handlers[event]) == 0 {
			delete(m.handlers, event)
		}
	}}
}

// OnStateChange registers fn for status updates.
func (m *Manager) OnStateChange(fn func(Status)) *Subscription {
	entry := &observerEntry{fn: fn, active: true}
	m.observers = append(m.observers, entry)
	return &Subscription{release: func() {
		if !entry.active {
			return
		}
		entry.active = false
		for i, e := range m.observers {
			if e == entry {
				m.observers = append(m.observers[:i:i], m.observers[i+1:]...)
				break
			}
		}
	}}
}

func (m *Manager) setState(s State) {
	if m.state != s {
		m.log.Info().Stringer("from", m.state).Stringer("to", s).Int("attempts", m.attempts).Msg("state change")
	}
	m.state = s
	status := m.Status()
	for _, o := range append([]*observerEntry(nil), m.observers...) {
		if o.active {
			o.fn(status)
		}
	}
}

func (m *Manager) teardown() {
	if m.cancelDial != nil {
		m.cancelDial()
		m.cancelDial = nil
	}
	m.retry.Stop()
	m.retry = nil
	if m.conn != nil {
		if err := m.conn.Close(); err != nil {
			m.log.Debug().Err(err).Msg("close")
		}
		m.conn = nil
	}
}

func (m *Manager) dial() {
	m.gen++
	gen := m.gen
	endpoint := m.endpoint
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.DialTimeout)
	m.cancelDial = cancel

	m.log.Debug().Str("endpoint", endpoint).Int("attempt", m.attempts+1).Msg("dialing")
	go func() {
		defer cancel()
		conn, err := m.transport.Dial(ctx, endpoint)
		posted := m.loop.Post(func() { m.onDialResult(gen, conn, err) })
		if !posted && conn != nil {
			conn.Close()
		}
	}()
}

func (m *Manager) onDialResult(gen uint64, conn transport.Conn, err error) {
	if gen != m.gen {
		if conn != nil {
			conn.Close()
		}
		return
	}
	m.cancelDial = nil
	if err != nil {
		m.onAttemptFailed(err)
		return
	}

	m.conn = conn
	m.attempts = 0
	m.lastErr = nil
	m.setState(Connected)
	go m.readLoop(gen, conn)
}

func (m *Manager) readLoop(gen uint64, conn transport.Conn) {
	for {
		frame, err := conn.Read()
		if err != nil {
			m.loop.Post(func() { m.onDrop(gen, err) })
			return
		}
		if !m.loop.Post(func() { m.dispatch(gen, frame) }) {
			conn.Close()
			return
		}
	}
}

func (m *Manager) onDrop(gen uint64, err error) {
	if gen != m.gen || m.state != Connected {
		return
	}
	m.log.Warn().Err(err).Msg("connection lost")
	m.teardown()
	m.lastErr = err
	m.setState(Reconnecting)
	m.scheduleRetry()
}

func (m *Manager) onAttemptFailed(err error) {
	m.attempts++
	m.lastErr = err
	m.log.Warn().Err(err).Int("attempt", m.attempts).Int("max", m.cfg.MaxAttempts).Msg("connect failed")

	if m.attempts >= m.cfg.MaxAttempts {
		m.teardown()
		m.setState(Failed)
		m.notifier.Notify("Connection failed",
			fmt.Sprintf("Could not reach the server after %d attempts.", m.attempts))
		return
	}
	m.setState(Reconnecting)
	m.scheduleRetry()
}

func (m *Manager) scheduleRetry() {
	m.retry.Stop()
	m.retry = m.loop.AfterFunc(m.cfg.RetryDelay, func() {
		m.retry = nil
		if m.state != Reconnecting {
			return
		}
		m.dial()
	})
}

func (m *Manager) dispatch(gen uint64, frame protocol.Frame) {
	if gen != m.gen {
		return
	}
	if frame.Event == protocol.EventError {
		m.onServerError(frame)
	}

	entries := m.handlers[frame.Event]
	if len(entries) == 0 {
		m.log.Debug().Str("event", frame.Event).Msg("unhandled event")
		return
	}
	for _, e := range append([]*handlerEntry(nil), entries...) {
		if e.active {
			e.fn(frame.Data)
		}
	}
}

func (m *Manager) onServerError(frame protocol.Frame) {
	var text string
	if err := frame.Decode(&text); err != nil {
		// Some servers wrap the text in an object.
		var obj struct {
			Message string `json:"message"`
		}
		if err2 := frame.Decode(&obj); err2 != nil || obj.Message == "" {
			m.log.Warn().Err(err).Msg("bad error push")
			return
		}
		text = obj.Message
	}
	m.log.Warn().Str("message", text).Msg("server error")
	m.notifier.Notify("Server error", text)
}

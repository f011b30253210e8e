// Package room keeps the live state of one joined chat room.
//
// A Session reduces server pushes (history, messages, presence, typing) into
// a View and routes the local user's input back to the server. Like the
// connection manager it lives on the event loop: every method must be called
// there and observers are invoked there.
package room

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"talkx/client/connection"
	"talkx/client/eventloop"
	"talkx/client/typing"
	"talkx/models"
	"talkx/protocol"
)

var (
	ErrEmptyMessage = errors.New("message is empty")
	ErrClosed       = errors.New("room session closed")
)

// DefaultName is shown until the server tells us the room's name.
const DefaultName = "Loading..."

var welcomePattern = regexp.MustCompile(`Welcome to (.*?)!,`)

// Entry is a message together with its provenance.
type Entry struct {
	protocol.Message
	Provenance Provenance
}

// View is a read-only snapshot of a room.
type View struct {
	RoomID      string
	DisplayName string
	Messages    []Entry
	Presence    []protocol.PresenceEntry
	Typing      []typing.Entry
	// Joined is false while the join request is waiting for a connection.
	Joined bool
}

// TypingPeers returns the peers in the typing set in start order.
func (v View) TypingPeers() []string {
	peers := make([]string, len(v.Typing))
	for i, e := range v.Typing {
		peers[i] = e.Peer
	}
	return peers
}

// Options tune a session.
type Options struct {
	// Name is shown until the server sends the room's display name.
	Name         string
	TypingIdle   time.Duration
	TypingExpiry time.Duration
}

// Session is the client side of one joined room.
type Session struct {
	conn *connection.Manager
	log  zerolog.Logger

	roomID      string
	self        models.Identity
	displayName string
	messages    MessageLog
	presence    []protocol.PresenceEntry
	local       *typing.Local
	remote      *typing.Remote

	subs      []*connection.Subscription
	observers []*observer
	pending   bool
	closed    bool
}

type observer struct {
	fn     func(View)
	active bool
}

// Join creates a session for roomID and asks the server to join it. When the
// manager is not connected the request is sent as soon as it is. Every later
// reconnection repeats the join so the server pushes fresh history.
func Join(loop *eventloop.Loop, conn *connection.Manager, roomID string, self models.Identity, opts Options, logger zerolog.Logger) *Session {
	s := &Session{
		conn:        conn,
		log:         logger.With().Str("component", "room").Str("room", roomID).Logger(),
		roomID:      roomID,
		self:        self,
		displayName: opts.Name,
		pending:     true,
	}
	if s.displayName == "" {
		s.displayName = DefaultName
	}
	s.local = typing.NewLocal(loop, opts.TypingIdle, s.emitTyping)
	s.remote = typing.NewRemote(loop, opts.TypingExpiry, []string{self.Email, self.UserID}, s.notify)

	s.subs = []*connection.Subscription{
		conn.Subscribe(protocol.EventChatHistory, s.onHistory),
		conn.Subscribe(protocol.EventMessage, s.onMessage),
		conn.Subscribe(protocol.EventRoomUsers, s.onRoomUsers),
		conn.Subscribe(protocol.EventTypingStatus, s.onTypingStatus),
		conn.OnStateChange(s.onStatus),
	}
	if conn.State() == connection.Connected {
		s.sendJoin()
	}
	return s
}

// RoomID returns the joined room's id.
func (s *Session) RoomID() string {
	return s.roomID
}

// Closed reports whether Leave has run.
func (s *Session) Closed() bool {
	return s.closed
}

// Leave stops typing, cancels every timer and detaches from the connection
// and from all observers. It is safe to call more than once.
func (s *Session) Leave() {
	if s.closed {
		return
	}
	s.local.Stop()
	s.remote.Reset()
	s.closed = true
	for _, sub := range s.subs {
		sub.Unsubscribe()
	}
	s.subs = nil
	for _, o := range s.observers {
		o.active = false
	}
	s.observers = nil
	s.messages.Replace(nil)
	s.presence = nil
	s.log.Debug().Msg("left")
}

// InputChanged records a keystroke in the message input.
func (s *Session) InputChanged() error {
	if s.closed {
		return ErrClosed
	}
	s.local.InputChanged()
	return nil
}

// SendMessage sends text to the room. The local typing state ends whether
// or not the send succeeds.
func (s *Session) SendMessage(text string) error {
	if s.closed {
		return ErrClosed
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyMessage
	}
	err := s.conn.Send(protocol.EventChatMessage, text)
	s.local.Submitted()
	return err
}

// Subscribe registers fn for view updates and immediately calls it with the
// current view.
func (s *Session) Subscribe(fn func(View)) *connection.Subscription {
	if s.closed {
		return connection.NewSubscription(nil)
	}
	o := &observer{fn: fn, active: true}
	s.observers = append(s.observers, o)
	fn(s.View())
	return connection.NewSubscription(func() {
		o.active = false
		for i, other := range s.observers {
			if other == o {
				s.observers = append(s.observers[:i:i], s.observers[i+1:]...)
				break
			}
		}
	})
}

// View returns a snapshot of the room.
func (s *Session) View() View {
	msgs := s.messages.Messages()
	entries := make([]Entry, len(msgs))
	for i, m := range msgs {
		entries[i] = Entry{Message: m, Provenance: ProvenanceOf(m, s.self)}
	}
	return View{
		RoomID:      s.roomID,
		DisplayName: s.displayName,
		Messages:    entries,
		Presence:    append([]protocol.PresenceEntry(nil), s.presence...),
		Typing:      s.remote.Entries(),
		Joined:      !s.pending,
	}
}

func (s *Session) notify() {
	if s.closed || len(s.observers) == 0 {
		return
	}
	view := s.View()
	for _, o := range append([]*observer(nil), s.observers...) {
		if o.active {
			o.fn(view)
		}
	}
}

func (s *Session) sendJoin() {
	join := protocol.JoinRoom{Email: s.self.Email, RoomID: s.roomID, UserID: s.self.UserID}
	if err := s.conn.Send(protocol.EventJoinRoom, join); err != nil {
		s.log.Warn().Err(err).Msg("join deferred")
		s.pending = true
		return
	}
	s.log.Info().Msg("join sent")
	s.pending = false
	s.notify()
}

func (s *Session) onStatus(st connection.Status) {
	if s.closed {
		return
	}
	switch st.State {
	case connection.Connected:
		s.sendJoin()
	case connection.Disconnected:
		// Handlers are gone once the manager is disconnected.
		s.Leave()
	default:
		if !s.pending {
			s.pending = true
			s.notify()
		}
	}
}

func (s *Session) emitTyping(isTyping bool) {
	if err := s.conn.Send(protocol.EventTyping, isTyping); err != nil {
		s.log.Debug().Err(err).Bool("typing", isTyping).Msg("typing not sent")
	}
}

func (s *Session) decode(event string, data json.RawMessage, v any) bool {
	if err := (protocol.Frame{Event: event, Data: data}).Decode(v); err != nil {
		s.log.Warn().Err(err).Msg("ignoring payload")
		return false
	}
	return true
}

// onHistory replaces the log. Entries that do not decode are dropped on
// their own; only a payload that is not a list is ignored as a whole.
func (s *Session) onHistory(data json.RawMessage) {
	var items []json.RawMessage
	if !s.decode(protocol.EventChatHistory, data, &items) {
		return
	}
	history := make([]protocol.Message, 0, len(items))
	for i, item := range items {
		var m protocol.Message
		if err := json.Unmarshal(item, &m); err != nil {
			s.log.Warn().Err(err).Int("index", i).Msg("dropping history entry")
			continue
		}
		history = append(history, m)
	}
	s.messages.Replace(history)
	s.notify()
}

func (s *Session) onMessage(data json.RawMessage) {
	var m protocol.Message
	if !s.decode(protocol.EventMessage, data, &m) {
		return
	}
	if m.IsSystem() {
		if name := roomName(m); name != "" {
			s.displayName = name
		}
	}
	s.messages.Append(m)
	s.notify()
}

func (s *Session) onRoomUsers(data json.RawMessage) {
	var users []protocol.PresenceEntry
	if !s.decode(protocol.EventRoomUsers, data, &users) {
		return
	}
	s.presence = users
	s.notify()
}

func (s *Session) onTypingStatus(data json.RawMessage) {
	var status protocol.TypingStatus
	if !s.decode(protocol.EventTypingStatus, data, &status) {
		return
	}
	s.remote.Update(status)
}

// roomName extracts the display name from a welcome message.
func roomName(m protocol.Message) string {
	if m.RoomName != "" {
		return m.RoomName
	}
	if match := welcomePattern.FindStringSubmatch(m.Text); len(match) == 2 {
		return match[1]
	}
	return ""
}

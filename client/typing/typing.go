// Package typing debounces typing indicators in both directions.
//
// Local turns raw input events into typing(true)/typing(false) intent for
// the server. Remote keeps the set of peers currently typing, expiring
// entries that are not renewed. Both must be used on the event loop they
// were created with.
package typing

import (
	"strings"
	"time"

	"talkx/client/eventloop"
	"talkx/protocol"
)

const (
	DefaultIdle   = 1500 * time.Millisecond
	DefaultExpiry = 2000 * time.Millisecond
)

// Local tracks whether the local user is typing.
type Local struct {
	loop   *eventloop.Loop
	idle   time.Duration
	emit   func(isTyping bool)
	typing bool
	timer  *eventloop.Timer
}

// NewLocal creates a debouncer that calls emit on every change of intent.
func NewLocal(loop *eventloop.Loop, idle time.Duration, emit func(isTyping bool)) *Local {
	if idle <= 0 {
		idle = DefaultIdle
	}
	return &Local{loop: loop, idle: idle, emit: emit}
}

// InputChanged records a keystroke.
func (l *Local) InputChanged() {
	if !l.typing {
		l.typing = true
		l.emit(true)
	}
	l.timer.Stop()
	l.timer = l.loop.AfterFunc(l.idle, l.expire)
}

// Submitted ends typing because the message was sent.
func (l *Local) Submitted() {
	l.Stop()
}

// Stop cancels the idle timer and emits typing(false) if needed.
func (l *Local) Stop() {
	l.timer.Stop()
	l.timer = nil
	if l.typing {
		l.typing = false
		l.emit(false)
	}
}

// Typing reports the current intent.
func (l *Local) Typing() bool {
	return l.typing
}

func (l *Local) expire() {
	l.timer = nil
	if l.typing {
		l.typing = false
		l.emit(false)
	}
}

// Entry is one peer in the remote typing set.
type Entry struct {
	Peer      string
	ExpiresAt time.Time
}

// Remote is the self-expiring set of peers currently typing.
type Remote struct {
	loop     *eventloop.Loop
	expiry   time.Duration
	self     map[string]bool
	onChange func()

	order  []string
	timers map[string]*eventloop.Timer
}

// NewRemote creates an empty set. Statuses whose email or user id is in self
// are ignored. onChange runs after every membership change.
func NewRemote(loop *eventloop.Loop, expiry time.Duration, self []string, onChange func()) *Remote {
	if expiry <= 0 {
		expiry = DefaultExpiry
	}
	if onChange == nil {
		onChange = func() {}
	}
	r := &Remote{
		loop:     loop,
		expiry:   expiry,
		self:     make(map[string]bool),
		onChange: onChange,
		timers:   make(map[string]*eventloop.Timer),
	}
	for _, id := range self {
		if id != "" {
			r.self[id] = true
		}
	}
	return r
}

// Update applies one typingStatus push.
func (r *Remote) Update(s protocol.TypingStatus) {
	peer := s.Peer()
	if peer == "" || r.self[s.Email] || r.self[s.UserID] {
		return
	}

	if !s.IsTyping {
		if r.remove(peer) {
			r.onChange()
		}
		return
	}

	timer, present := r.timers[peer]
	timer.Stop()
	r.timers[peer] = r.loop.AfterFunc(r.expiry, func() {
		if r.remove(peer) {
			r.onChange()
		}
	})
	if !present {
		r.order = append(r.order, peer)
		r.onChange()
	}
}

// Peers returns the typing peers in the order they started typing.
func (r *Remote) Peers() []string {
	return append([]string(nil), r.order...)
}

// Entries returns the typing peers with their expiry times.
func (r *Remote) Entries() []Entry {
	entries := make([]Entry, 0, len(r.order))
	for _, peer := range r.order {
		entries = append(entries, Entry{Peer: peer, ExpiresAt: r.timers[peer].Deadline()})
	}
	return entries
}

// Len returns the number of typing peers.
func (r *Remote) Len() int {
	return len(r.order)
}

// Reset cancels every timer and empties the set.
func (r *Remote) Reset() {
	for peer, timer := range r.timers {
		timer.Stop()
		delete(r.timers, peer)
	}
	r.order = nil
}

func (r *Remote) remove(peer string) bool {
	timer, ok := r.timers[peer]
	if !ok {
		return false
	}
	timer.Stop()
	delete(r.timers, peer)
	for i, p := range r.order {
		if p == peer {
			r.order = append(r.order[:i:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

// Describe renders peers as an indicator line.
func Describe(peers []string) string {
	switch len(peers) {
	case 0:
		return ""
	case 1:
		return peers[0] + " is typing..."
	}
	return strings.Join(peers, ", ") + " are typing..."
}

package room

import (
	"talkx/models"
	"talkx/protocol"
)

// Provenance says who a message came from relative to the local user.
type Provenance int

const (
	System Provenance = iota
	Own
	Other
)

func (p Provenance) String() string {
	switch p {
	case System:
		return "system"
	case Own:
		return "own"
	default:
		return "other"
	}
}

// ProvenanceOf classifies m for the user self. Sender ids are compared when
// both sides have one; otherwise the sender name is matched against the
// user's email and username.
func ProvenanceOf(m protocol.Message, self models.Identity) Provenance {
	if m.IsSystem() {
		return System
	}
	if m.SenderID != "" && self.UserID != "" {
		if m.SenderID == self.UserID {
			return Own
		}
		return Other
	}
	if m.SenderUsername != "" && (m.SenderUsername == self.Email || m.SenderUsername == self.Username) {
		return Own
	}
	return Other
}

// MessageLog is an append-only sequence of messages kept in arrival order.
type MessageLog struct {
	msgs []protocol.Message
}

// Replace swaps the whole log for msgs.
func (l *MessageLog) Replace(msgs []protocol.Message) {
	l.msgs = append([]protocol.Message(nil), msgs...)
}

// Append adds m at the tail regardless of its timestamp.
func (l *MessageLog) Append(m protocol.Message) {
	l.msgs = append(l.msgs, m)
}

func (l *MessageLog) Len() int {
	return len(l.msgs)
}

// Messages returns a copy of the log.
func (l *MessageLog) Messages() []protocol.Message {
	return append([]protocol.Message(nil), l.msgs...)
}

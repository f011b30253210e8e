// Package protocol defines the event frames exchanged between the chat
// client and server over the persistent connection.
//
// Every frame is a single JSON text message:
//
//	{"event": "<name>", "data": <payload>}
//
// The payload shape depends on the event name.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Client to server events
const (
	EventJoinRoom    = "joinRoom"
	EventChatMessage = "chatMessage"
	EventTyping      = "typing"
)

// Server to client events
const (
	EventChatHistory  = "chatHistory"
	EventMessage      = "message"
	EventRoomUsers    = "roomUsers"
	EventTypingStatus = "typingStatus"
	EventError        = "error"
)

// Message kinds
const (
	KindSystem = "system"
	KindUser   = "user"
)

// SystemSender is the sender name the server uses for its own messages.
const SystemSender = "system"

var (
	ErrMalformed = errors.New("malformed frame")
)

// Frame is one event on the wire.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewFrame builds a frame with payload encoded as its data.
func NewFrame(event string, payload any) (Frame, error) {
	frame := Frame{Event: event}
	if payload == nil {
		return frame, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, fmt.Errorf("encode %s payload: %w", event, err)
	}
	frame.Data = data
	return frame, nil
}

// ParseFrame decodes a raw text message into a frame.
func ParseFrame(raw []byte) (Frame, error) {
	var frame Frame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	frame.Event = strings.TrimSpace(frame.Event)
	if frame.Event == "" {
		return Frame{}, fmt.Errorf("%w: missing event name", ErrMalformed)
	}
	return frame, nil
}

// FormatFrame encodes a frame for sending.
func FormatFrame(frame Frame) ([]byte, error) {
	if frame.Event == "" {
		return nil, fmt.Errorf("%w: missing event name", ErrMalformed)
	}
	return json.Marshal(frame)
}

// Decode unmarshals the frame data into v. Missing or mistyped data is
// reported as ErrMalformed.
func (f Frame) Decode(v any) error {
	if len(f.Data) == 0 {
		return fmt.Errorf("%w: %s has no data", ErrMalformed, f.Event)
	}
	if err := json.Unmarshal(f.Data, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformed, f.Event, err)
	}
	return nil
}

// JoinRoom is the payload of joinRoom.
type JoinRoom struct {
	Email  string `json:"email"`
	RoomID string `json:"roomId"`
	UserID string `json:"userId"`
}

// Message is a chat message as pushed by the server.
type Message struct {
	SenderID       string    `json:"senderId,omitempty"`
	SenderUsername string    `json:"senderUsername"`
	Text           string    `json:"text"`
	Timestamp      time.Time `json:"timestamp"`
	Kind           string    `json:"kind,omitempty"`
	// RoomName is set on the welcome system message.
	RoomName string `json:"roomName,omitempty"`
}

// UnmarshalJSON accepts the timestamp as an RFC3339 string, epoch
// milliseconds (number or numeric string), or empty. A timestamp it cannot
// read is left zero instead of failing the message.
func (m *Message) UnmarshalJSON(data []byte) error {
	type plain Message
	var aux struct {
		plain
		Timestamp json.RawMessage `json:"timestamp"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*m = Message(aux.plain)
	m.Timestamp = parseTimestamp(aux.Timestamp)
	return nil
}

func parseTimestamp(raw json.RawMessage) time.Time {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		var ms json.Number
		if json.Unmarshal(raw, &ms) != nil {
			return time.Time{}
		}
		s = ms.String()
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return ts
	}
	if ms, err := strconv.ParseFloat(s, 64); err == nil {
		return time.UnixMilli(int64(ms)).UTC()
	}
	return time.Time{}
}

// IsSystem reports whether the message was produced by the server. Older
// servers omit the kind and only mark the sender name.
func (m Message) IsSystem() bool {
	if m.Kind != "" {
		return m.Kind == KindSystem
	}
	return m.SenderUsername == SystemSender
}

// PresenceEntry is one user in a roomUsers snapshot.
type PresenceEntry struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
}

// TypingStatus is the payload of typingStatus.
type TypingStatus struct {
	Email    string `json:"email"`
	UserID   string `json:"userId,omitempty"`
	IsTyping bool   `json:"isTyping"`
}

// Peer returns the identifier a typing status is keyed by.
func (s TypingStatus) Peer() string {
	if s.Email != "" {
		return s.Email
	}
	return s.UserID
}

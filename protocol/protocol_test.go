package protocol

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFrame(t *testing.T) {
	frame, err := ParseFrame([]byte(`{"event":"message","data":{"senderUsername":"bob","text":"hi","timestamp":"2025-01-02T10:00:00Z"}}`))
	require.NoError(t, err)
	assert.Equal(t, EventMessage, frame.Event)

	var msg Message
	require.NoError(t, frame.Decode(&msg))
	assert.Equal(t, "bob", msg.SenderUsername)
	assert.Equal(t, "hi", msg.Text)
	assert.True(t, msg.Timestamp.Equal(time.Date(2025, 1, 2, 10, 0, 0, 0, time.UTC)))
}

func TestMessageTimestampFormats(t *testing.T) {
	want := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		ts   string
		zero bool
	}{
		{"rfc3339", `"2025-01-01T00:00:00.000Z"`, false},
		{"epoch ms", `1735689600000`, false},
		{"epoch ms string", `"1735689600000"`, false},
		{"empty", `""`, true},
		{"null", `null`, true},
		{"garbage", `"yesterday"`, true},
		{"wrong type", `true`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var msg Message
			require.NoError(t, json.Unmarshal([]byte(`{"senderUsername":"bob","text":"hi","timestamp":`+tt.ts+`}`), &msg))
			assert.Equal(t, "bob", msg.SenderUsername)
			assert.Equal(t, "hi", msg.Text)
			if tt.zero {
				assert.True(t, msg.Timestamp.IsZero())
			} else {
				assert.True(t, msg.Timestamp.Equal(want), "got %v", msg.Timestamp)
			}
		})
	}

	var msg Message
	require.NoError(t, json.Unmarshal([]byte(`{"text":"no time"}`), &msg))
	assert.True(t, msg.Timestamp.IsZero())
	assert.Error(t, json.Unmarshal([]byte(`"just text"`), &msg))
}

func TestParseFrameRejectsGarbage(t *testing.T) {
	cases := []string{
		`not json`,
		`{"data":1}`,
		`{"event":"   "}`,
	}
	for _, raw := range cases {
		_, err := ParseFrame([]byte(raw))
		assert.True(t, errors.Is(err, ErrMalformed), "input %q", raw)
	}
}

func TestDecodeMalformedPayload(t *testing.T) {
	frame := Frame{Event: EventRoomUsers, Data: []byte(`{"userId":"u1"}`)}
	var users []PresenceEntry
	err := frame.Decode(&users)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMalformed)

	empty := Frame{Event: EventChatHistory}
	assert.ErrorIs(t, empty.Decode(&users), ErrMalformed)
}

func TestNewFrameRoundTrip(t *testing.T) {
	frame, err := NewFrame(EventTyping, true)
	require.NoError(t, err)

	raw, err := FormatFrame(frame)
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"typing","data":true}`, string(raw))

	_, err = FormatFrame(Frame{})
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestMessageIsSystem(t *testing.T) {
	assert.True(t, Message{Kind: KindSystem}.IsSystem())
	assert.True(t, Message{SenderUsername: SystemSender}.IsSystem())
	assert.False(t, Message{SenderUsername: SystemSender, Kind: KindUser}.IsSystem())
	assert.False(t, Message{SenderUsername: "alice"}.IsSystem())
}

func TestTypingStatusPeer(t *testing.T) {
	assert.Equal(t, "a@x.io", TypingStatus{Email: "a@x.io", UserID: "u1"}.Peer())
	assert.Equal(t, "u1", TypingStatus{UserID: "u1"}.Peer())
}

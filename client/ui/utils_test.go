package ui

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"talkx/client/api"
	"talkx/client/connection"
	"talkx/client/room"
	"talkx/protocol"
)

func TestFormatTime(t *testing.T) {
	assert.Equal(t, "3:04 PM", formatTime(time.Date(2025, 3, 1, 15, 4, 0, 0, time.Local)))
	assert.Equal(t, "9:30 AM", formatTime(time.Date(2025, 3, 1, 9, 30, 59, 0, time.Local)))
	assert.Equal(t, "", formatTime(time.Time{}))
}

func TestFormatDateSeparator(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.Local)

	assert.Equal(t, "Today", formatDateSeparator(now.Add(-time.Hour), now))
	assert.Equal(t, "Yesterday", formatDateSeparator(now.AddDate(0, 0, -1), now))
	assert.Equal(t, "March 2", formatDateSeparator(time.Date(2025, 3, 2, 8, 0, 0, 0, time.Local), now))
	assert.Equal(t, "December 31, 2024", formatDateSeparator(time.Date(2024, 12, 31, 8, 0, 0, 0, time.Local), now))
}

func TestRenderMessages(t *testing.T) {
	now := time.Date(2025, 6, 15, 18, 0, 0, 0, time.Local)
	at := time.Date(2025, 6, 15, 15, 4, 0, 0, time.Local)

	entries := []room.Entry{
		{Message: protocol.Message{SenderUsername: "system", Kind: protocol.KindSystem, Text: "Welcome to General!, me"}, Provenance: room.System},
		{Message: protocol.Message{SenderUsername: "me", Text: "hi", Timestamp: at}, Provenance: room.Own},
		{Message: protocol.Message{SenderUsername: "bob", Text: "[red]hey", Timestamp: at}, Provenance: room.Other},
	}
	out := renderMessages(entries, now, 40)
	lines := strings.Split(strings.TrimSuffix(out, "\n"), "\n")
	require.Len(t, lines, 4)

	assert.Contains(t, lines[0], "Welcome to General!, me")
	assert.Contains(t, lines[1], "Today")
	assert.Contains(t, lines[2], "3:04 PM")
	assert.Contains(t, lines[2], "You")
	assert.NotContains(t, lines[2], "me:")
	assert.Contains(t, lines[3], "bob")
	assert.Contains(t, lines[3], "[red[]hey", "message text is escaped")
}

func TestRenderMessagesDaySeparators(t *testing.T) {
	now := time.Date(2025, 6, 15, 18, 0, 0, 0, time.Local)
	msg := func(ts time.Time) room.Entry {
		return room.Entry{Message: protocol.Message{SenderUsername: "bob", Text: "x", Timestamp: ts}, Provenance: room.Other}
	}

	out := renderMessages([]room.Entry{
		msg(now.AddDate(0, 0, -1)),
		msg(now.AddDate(0, 0, -1).Add(time.Minute)),
		msg(now.Add(-time.Minute)),
	}, now, 0)

	assert.Equal(t, 1, strings.Count(out, "Yesterday"))
	assert.Equal(t, 1, strings.Count(out, "Today"))
	assert.Equal(t, 5, strings.Count(out, "\n"))
}

func TestRenderPresence(t *testing.T) {
	out := renderPresence([]protocol.PresenceEntry{
		{UserID: "u1", Email: "alice@example.com"},
		{UserID: "u2", Email: "me@example.com"},
	}, "ME@example.com")

	assert.Contains(t, out, "alice@example.com\n")
	assert.Contains(t, out, "me@example.com (you)")
	assert.Empty(t, renderPresence(nil, "me@example.com"))
}

func TestStatusText(t *testing.T) {
	tests := []struct {
		status connection.Status
		want   string
	}{
		{connection.Status{State: connection.Connecting}, "Connecting"},
		{connection.Status{State: connection.Connected}, "Connected"},
		{connection.Status{State: connection.Reconnecting, Attempts: 0, MaxAttempts: 5}, "Reconnecting (1/5)"},
		{connection.Status{State: connection.Reconnecting, Attempts: 3, MaxAttempts: 5}, "Reconnecting (4/5)"},
		{connection.Status{State: connection.Failed, Attempts: 5, MaxAttempts: 5}, "Failed"},
		{connection.Status{State: connection.Disconnected}, "Disconnected"},
	}
	for _, tt := range tests {
		t.Run(tt.status.State.String(), func(t *testing.T) {
			assert.Contains(t, statusText(tt.status), tt.want)
		})
	}
}

func TestSocketEndpoint(t *testing.T) {
	got, err := socketEndpoint("ws://localhost:3215/ws", "a.b+c")
	require.NoError(t, err)
	assert.Equal(t, "ws://localhost:3215/ws?token=a.b%2Bc", got)

	got, err = socketEndpoint("wss://chat.example.com/ws?v=2", "t")
	require.NoError(t, err)
	assert.Equal(t, "wss://chat.example.com/ws?token=t&v=2", got)

	_, err = socketEndpoint("http://localhost:3215/ws", "t")
	assert.Error(t, err)
}

func TestErrorText(t *testing.T) {
	err := fmt.Errorf("login: %w", &api.Error{Status: 400, Message: "Invalid credentials"})
	assert.Equal(t, "Invalid credentials", errorText(err))
	assert.Equal(t, "boom", errorText(errors.New("boom")))
}

package ui

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rivo/tview"

	"talkx/client/api"
	"talkx/client/room"
	"talkx/protocol"
)

// formatTime renders a message time in local time, e.g. "3:04 PM".
func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Local().Format("3:04 PM")
}

// formatDateSeparator names the day of t relative to now.
func formatDateSeparator(t, now time.Time) string {
	t, now = t.Local(), now.Local()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	yesterday := today.AddDate(0, 0, -1)
	msgDate := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, now.Location())

	switch {
	case msgDate.Equal(today):
		return "Today"
	case msgDate.Equal(yesterday):
		return "Yesterday"
	case msgDate.Year() == now.Year():
		return t.Format("January 2")
	default:
		return t.Format("January 2, 2006")
	}
}

func formatMessage(e room.Entry) string {
	text := tview.Escape(e.Text)
	switch e.Provenance {
	case room.System:
		return tagSystem + "* " + text + tagReset
	case room.Own:
		return fmt.Sprintf("%s%s%s %sYou%s: %s", tagTime, formatTime(e.Timestamp), tagReset, tagOwn, tagReset, text)
	default:
		return fmt.Sprintf("%s%s%s %s%s%s: %s", tagTime, formatTime(e.Timestamp), tagReset,
			tagOther, tview.Escape(e.SenderUsername), tagReset, text)
	}
}

// renderMessages lays out the log with a centered date line whenever the
// day changes. System messages without a timestamp never start a new day.
func renderMessages(entries []room.Entry, now time.Time, width int) string {
	if width < 10 {
		width = 80
	}
	var sb strings.Builder
	var lastDay string
	for _, e := range entries {
		if !e.Timestamp.IsZero() {
			day := e.Timestamp.Local().Format("2006-01-02")
			if day != lastDay {
				label := formatDateSeparator(e.Timestamp, now)
				padding := (width - len(label)) / 2
				if padding < 0 {
					padding = 0
				}
				sb.WriteString(fmt.Sprintf("%s%s%s%s\n", tagTime, strings.Repeat(" ", padding), label, tagReset))
				lastDay = day
			}
		}
		sb.WriteString(formatMessage(e))
		sb.WriteString("\n")
	}
	return sb.String()
}

// renderPresence lists the online users, marking the local one.
func renderPresence(users []protocol.PresenceEntry, selfEmail string) string {
	var sb strings.Builder
	for _, u := range users {
		name := tview.Escape(u.Email)
		if strings.EqualFold(u.Email, selfEmail) {
			sb.WriteString("[green]●[-] " + name + " (you)\n")
			continue
		}
		sb.WriteString("[green]●[-] " + name + "\n")
	}
	return sb.String()
}

// errorText extracts the server's message from API errors.
func errorText(err error) string {
	var apiErr *api.Error
	if errors.As(err, &apiErr) {
		return apiErr.Message
	}
	return err.Error()
}

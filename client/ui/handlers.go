package ui

import (
	"errors"

	"talkx/client/connection"
	"talkx/client/room"
	"talkx/models"
)

// The functions in this file run on the event loop.

// joinRoom replaces the open session with one for r and mirrors its views
// into the chat page.
func (a *App) joinRoom(r models.Room, self models.Identity) {
	a.leaveRoom()

	a.session = room.Join(a.loop, a.conn, r.ID, self, room.Options{
		Name:         r.Name,
		TypingIdle:   a.cfg.TypingIdle,
		TypingExpiry: a.cfg.TypingExpiry,
	}, a.log)
	a.viewSub = a.session.Subscribe(func(v room.View) {
		a.app.QueueUpdateDraw(func() {
			a.renderRoom(v)
		})
	})
	a.connect()
}

func (a *App) leaveRoom() {
	if a.viewSub != nil {
		a.viewSub.Unsubscribe()
		a.viewSub = nil
	}
	if a.session != nil {
		a.session.Leave()
		a.session = nil
	}
}

// inputChanged forwards a keystroke to the typing debouncer.
func (a *App) inputChanged() {
	if a.session == nil {
		return
	}
	if err := a.session.InputChanged(); err != nil {
		a.log.Debug().Err(err).Msg("input changed")
	}
}

// sendMessage clears the input once the message is on the wire and reports
// why otherwise.
func (a *App) sendMessage(text string) {
	if a.session == nil {
		return
	}
	err := a.session.SendMessage(text)
	switch {
	case err == nil:
		a.app.QueueUpdateDraw(a.clearInput)
	case errors.Is(err, room.ErrEmptyMessage):
	case errors.Is(err, connection.ErrNotConnected):
		a.app.QueueUpdateDraw(func() {
			a.showChatError("Not connected, message not sent. F6 reconnects.")
		})
	case errors.Is(err, room.ErrClosed):
		a.app.QueueUpdateDraw(func() {
			a.showChatError("Room closed. Press Esc and join again.")
		})
	default:
		a.log.Warn().Err(err).Msg("send message")
		a.app.QueueUpdateDraw(func() {
			a.showChatError("Send failed: " + err.Error())
		})
	}
}

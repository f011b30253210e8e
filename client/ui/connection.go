package ui

import (
	"fmt"

	"talkx/client/connection"
)

// statusText renders the connection line. While reconnecting it shows the
// number of the attempt in progress.
func statusText(st connection.Status) string {
	switch st.State {
	case connection.Connecting:
		return "[yellow]Connecting...[-]"
	case connection.Connected:
		return "[green]● Connected[-]"
	case connection.Reconnecting:
		return fmt.Sprintf("[yellow]Reconnecting (%d/%d)[-]", st.Attempts+1, st.MaxAttempts)
	case connection.Failed:
		return "[red]✗ Failed[-] [gray]│ F6 to reconnect[-]"
	default:
		return "[red]○ Disconnected[-] [gray]│ F6 to connect[-]"
	}
}

// watchConnection mirrors every status change into the UI. It runs on the
// loop.
func (a *App) watchConnection() {
	a.statusSub = a.conn.OnStateChange(func(st connection.Status) {
		a.app.QueueUpdateDraw(func() {
			a.status = st
			a.updateConnectionStatus()
		})
	})
	st := a.conn.Status()
	a.app.QueueUpdateDraw(func() {
		a.status = st
		a.updateConnectionStatus()
	})
}

func (a *App) updateConnectionStatus() {
	text := statusText(a.status)
	if a.connectionView != nil {
		a.connectionView.SetText(text)
	}
	if a.chatStatus != nil {
		a.chatStatus.SetText(text)
	}
}

func (a *App) connectionConfig() connection.Config {
	return connection.Config{
		MaxAttempts: a.cfg.MaxAttempts,
		RetryDelay:  a.cfg.RetryDelay,
		DialTimeout: a.cfg.DialTimeout,
	}
}

// connect starts the connection unless one is already live. It runs on the
// loop.
func (a *App) connect() {
	switch a.conn.State() {
	case connection.Disconnected, connection.Failed:
	default:
		return
	}
	if !a.self.Valid() {
		return
	}
	endpoint, err := socketEndpoint(a.cfg.SocketURL, a.self.Token)
	if err != nil {
		a.log.Error().Err(err).Msg("bad socket url")
		a.Notify("Connection failed", err.Error())
		return
	}
	if err := a.conn.Connect(endpoint, a.connectionConfig()); err != nil {
		a.log.Warn().Err(err).Msg("connect")
	}
}

// reconnect is bound to F6.
func (a *App) reconnect() {
	a.post(a.connect)
}

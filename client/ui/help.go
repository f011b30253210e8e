package ui

import (
	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

const helpText = `
 [yellow]Rooms Screen[-]
 ───────────────────────────────────────────────────────────────
   [white]Enter[-]    Join the selected room
   [white]F1[-]       Show this help
   [white]F2[-]       Create a room
   [white]F5[-]       Refresh the room list
   [white]F6[-]       Reconnect after the connection failed
   [white]F9[-]       Log out
   [white]F10/Esc[-]  Quit application

 [yellow]Chat Screen[-]
 ───────────────────────────────────────────────────────────────
   [white]Enter[-]    Send message
   [white]Tab[-]      Switch between input and scroll mode
   [white]F6[-]       Reconnect
   [white]Esc[-]      Leave the room (from input mode)

 [yellow]Scroll Mode (after pressing Tab)[-]
 ───────────────────────────────────────────────────────────────
   [white]↑ ↓[-]      Scroll one line
   [white]PgUp/Dn[-]  Scroll page (10 lines)
   [white]Home[-]     Scroll to beginning
   [white]End[-]      Scroll to end
   [white]Tab/Esc[-]  Return to input mode

 [yellow]Connection[-]
 ───────────────────────────────────────────────────────────────
   A dropped connection is retried a few times with a short pause.
   After the last attempt the status line shows Failed; press F6.
   Rejoining a room after a reconnect reloads its recent history.
`

// showHelp opens the help page; focus returns to back when it closes.
func (a *App) showHelp(back tview.Primitive) {
	helpView := tview.NewTextView()
	helpView.SetText(helpText)
	helpView.SetBackgroundColor(ColorBg)
	helpView.SetTextColor(ColorFg)
	helpView.SetDynamicColors(true)
	helpView.SetBorder(true)
	helpView.SetBorderColor(ColorBorder)
	helpView.SetTitle(" Help ")
	helpView.SetTitleColor(ColorTitle)
	helpView.SetScrollable(true)

	statusBar := tview.NewTextView()
	statusBar.SetBackgroundColor(ColorBar)
	statusBar.SetTextColor(ColorTitle)
	statusBar.SetTextAlign(tview.AlignCenter)
	statusBar.SetText(" ↑↓/PgUp/PgDn: Scroll | Esc/Enter/F1: Close ")

	flex := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(helpView, 0, 1, true).
		AddItem(statusBar, 1, 0, false)
	flex.SetBackgroundColor(ColorBg)

	flex.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch event.Key() {
		case tcell.KeyEsc, tcell.KeyEnter, tcell.KeyF1:
			a.pages.RemovePage("help")
			if back != nil {
				a.app.SetFocus(back)
			}
			return nil
		case tcell.KeyPgUp:
			row, col := helpView.GetScrollOffset()
			helpView.ScrollTo(row-10, col)
			return nil
		case tcell.KeyPgDn:
			row, col := helpView.GetScrollOffset()
			helpView.ScrollTo(row+10, col)
			return nil
		}
		return event
	})

	a.pages.AddPage("help", flex, true, true)
	a.app.SetFocus(flex)
}

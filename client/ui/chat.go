package ui

import (
	"strconv"
	"strings"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"talkx/client/room"
	"talkx/client/typing"
	"talkx/models"
)

const (
	chatKeysText   = " Enter:Send | Tab:Scroll | F6:Reconnect | Esc:Back "
	scrollKeysText = " ↑↓/PgUp/PgDn:Scroll | Home:Top | End:Bottom | Tab/Esc:Input "
)

func (a *App) openRoom(r models.Room) {
	a.currentRoom = r.ID
	a.pages.AddPage("chat", a.createChatPage(r), true, true)
	a.pages.SwitchToPage("chat")
	a.app.SetFocus(a.messageInput)
	a.updateConnectionStatus()

	self := a.identity
	a.post(func() { a.joinRoom(r, self) })
}

func (a *App) createChatPage(r models.Room) tview.Primitive {
	a.chatView = tview.NewTextView()
	a.chatView.SetBorder(true)
	a.chatView.SetBorderColor(ColorBorder)
	a.chatView.SetBackgroundColor(ColorBg)
	a.chatView.SetTitle(" " + tview.Escape(r.Name) + " ")
	a.chatView.SetTitleColor(ColorTitle)
	a.chatView.SetTextColor(ColorFg)
	a.chatView.SetDynamicColors(true)
	a.chatView.SetScrollable(true)
	a.chatView.SetWordWrap(true)

	a.presenceView = tview.NewTextView()
	a.presenceView.SetBorder(true)
	a.presenceView.SetBorderColor(ColorBorder)
	a.presenceView.SetBackgroundColor(ColorBg)
	a.presenceView.SetTitle(" Online ")
	a.presenceView.SetTitleColor(ColorTitle)
	a.presenceView.SetTextColor(ColorFg)
	a.presenceView.SetDynamicColors(true)

	a.typingView = tview.NewTextView()
	a.typingView.SetBackgroundColor(ColorBg)
	a.typingView.SetTextColor(ColorFg)
	a.typingView.SetDynamicColors(true)

	a.messageInput = tview.NewInputField()
	a.messageInput.SetLabel("> ")
	a.messageInput.SetFieldWidth(0)
	a.messageInput.SetBackgroundColor(ColorBg)
	a.messageInput.SetFieldBackgroundColor(ColorFieldBg)
	a.messageInput.SetFieldTextColor(ColorFg)
	a.messageInput.SetLabelColor(ColorHighlight)
	a.messageInput.SetBorder(true)
	a.messageInput.SetBorderColor(ColorBorder)
	a.messageInput.SetTitle(" Message ")
	a.messageInput.SetTitleColor(ColorTitle)

	a.messageInput.SetChangedFunc(func(text string) {
		if a.clearingInput || text == "" {
			return
		}
		a.post(a.inputChanged)
	})
	a.messageInput.SetDoneFunc(func(key tcell.Key) {
		if key != tcell.KeyEnter {
			return
		}
		text := a.messageInput.GetText()
		if strings.TrimSpace(text) == "" {
			return
		}
		a.post(func() { a.sendMessage(text) })
	})

	a.chatStatus = tview.NewTextView()
	a.chatStatus.SetBackgroundColor(ColorBg)
	a.chatStatus.SetDynamicColors(true)
	a.chatStatus.SetTextAlign(tview.AlignRight)

	keys := tview.NewTextView()
	keys.SetBackgroundColor(ColorBar)
	keys.SetTextColor(ColorTitle)
	keys.SetTextAlign(tview.AlignCenter)
	keys.SetText(chatKeysText)

	infoLine := tview.NewFlex().
		AddItem(a.typingView, 0, 1, false).
		AddItem(a.chatStatus, 30, 0, false)

	body := tview.NewFlex().
		AddItem(a.chatView, 0, 1, false).
		AddItem(a.presenceView, 28, 0, false)

	mainFlex := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(body, 0, 1, false).
		AddItem(infoLine, 1, 0, false).
		AddItem(a.messageInput, 3, 0, true).
		AddItem(keys, 1, 0, false)
	mainFlex.SetBackgroundColor(ColorBg)

	chatViewFocused := false

	mainFlex.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch event.Key() {
		case tcell.KeyEsc:
			if chatViewFocused {
				chatViewFocused = false
				a.app.SetFocus(a.messageInput)
				keys.SetText(chatKeysText)
				return nil
			}
			a.closeChat()
			return nil
		case tcell.KeyTab:
			chatViewFocused = !chatViewFocused
			if chatViewFocused {
				a.app.SetFocus(a.chatView)
				keys.SetText(scrollKeysText)
			} else {
				a.app.SetFocus(a.messageInput)
				keys.SetText(chatKeysText)
			}
			return nil
		case tcell.KeyF1:
			a.showHelp(a.messageInput)
			return nil
		case tcell.KeyF6:
			a.reconnect()
			return nil
		case tcell.KeyPgUp:
			row, col := a.chatView.GetScrollOffset()
			a.chatView.ScrollTo(row-10, col)
			return nil
		case tcell.KeyPgDn:
			row, col := a.chatView.GetScrollOffset()
			a.chatView.ScrollTo(row+10, col)
			return nil
		case tcell.KeyUp:
			if chatViewFocused {
				row, col := a.chatView.GetScrollOffset()
				a.chatView.ScrollTo(row-1, col)
				return nil
			}
		case tcell.KeyDown:
			if chatViewFocused {
				row, col := a.chatView.GetScrollOffset()
				a.chatView.ScrollTo(row+1, col)
				return nil
			}
		case tcell.KeyHome:
			if chatViewFocused {
				a.chatView.ScrollToBeginning()
				return nil
			}
		case tcell.KeyEnd:
			if chatViewFocused {
				a.chatView.ScrollToEnd()
				return nil
			}
		}
		return event
	})

	return mainFlex
}

// renderRoom draws a room snapshot. Snapshots of a room that is no longer
// open are dropped.
func (a *App) renderRoom(v room.View) {
	if a.chatView == nil || v.RoomID != a.currentRoom {
		return
	}

	a.chatView.SetTitle(" " + tview.Escape(v.DisplayName) + " ")
	_, _, width, _ := a.chatView.GetInnerRect()
	a.chatView.SetText(renderMessages(v.Messages, time.Now(), width))
	a.chatView.ScrollToEnd()

	a.presenceView.SetTitle(" Online (" + strconv.Itoa(len(v.Presence)) + ") ")
	a.presenceView.SetText(renderPresence(v.Presence, a.identity.Email))

	switch peers := v.TypingPeers(); {
	case len(peers) > 0:
		a.typingView.SetText("[gray::i]" + tview.Escape(typing.Describe(peers)) + "[-:-:-]")
	case !v.Joined:
		a.typingView.SetText("[gray]Joining...[-]")
	default:
		a.typingView.SetText("")
	}
}

// clearInput empties the message field without reporting a keystroke.
func (a *App) clearInput() {
	if a.messageInput == nil {
		return
	}
	a.clearingInput = true
	a.messageInput.SetText("")
	a.clearingInput = false
}

func (a *App) showChatError(text string) {
	if a.typingView != nil {
		a.typingView.SetText("[red]" + tview.Escape(text) + "[-]")
	}
}

func (a *App) closeChat() {
	a.post(a.leaveRoom)
	a.closeChatPage()
	if a.roomsList != nil {
		a.pages.SwitchToPage("rooms")
		a.app.SetFocus(a.roomsList)
	}
}

func (a *App) closeChatPage() {
	a.currentRoom = ""
	a.chatView = nil
	a.presenceView = nil
	a.typingView = nil
	a.chatStatus = nil
	a.messageInput = nil
	a.pages.RemovePage("chat")
}

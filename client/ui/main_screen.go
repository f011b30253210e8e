package ui

import (
	"context"
	"fmt"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"talkx/models"
)

const roomsStatusText = " Enter:Join | F1:Help | F2:Create | F5:Refresh | F6:Reconnect | F9:Logout | F10:Quit "

func (a *App) showRoomsScreen() {
	a.pages.RemovePage("auth")
	a.pages.RemovePage("background")

	a.pages.AddPage("rooms", a.createRoomsPage(), true, true)
	a.roomsList.SetTitle(fmt.Sprintf(" Rooms [%s] ", tview.Escape(a.identity.Username)))
	a.updateConnectionStatus()
	a.app.SetFocus(a.roomsList)

	a.loadRooms()
}

func (a *App) createRoomsPage() tview.Primitive {
	a.roomsList = tview.NewList()
	a.roomsList.SetBorder(true)
	a.roomsList.SetBorderColor(ColorBorder)
	a.roomsList.SetBackgroundColor(ColorBg)
	a.roomsList.SetTitle(" Rooms ")
	a.roomsList.SetTitleColor(ColorTitle)
	a.roomsList.SetMainTextColor(ColorFg)
	a.roomsList.SetMainTextStyle(tcell.StyleDefault.Foreground(ColorFg).Background(ColorBg))
	a.roomsList.SetSelectedTextColor(ColorTitle)
	a.roomsList.SetSelectedBackgroundColor(ColorBar)
	a.roomsList.SetHighlightFullLine(true)
	a.roomsList.ShowSecondaryText(false)

	a.roomsList.SetSelectedFunc(func(index int, mainText, secondaryText string, shortcut rune) {
		if index < len(a.rooms) {
			a.openRoom(a.rooms[index])
		}
	})

	a.connectionView = tview.NewTextView()
	a.connectionView.SetBorder(true)
	a.connectionView.SetBorderColor(ColorBorder)
	a.connectionView.SetBackgroundColor(ColorBg)
	a.connectionView.SetTitle(" Connection ")
	a.connectionView.SetTitleColor(ColorTitle)
	a.connectionView.SetTextColor(ColorFg)
	a.connectionView.SetDynamicColors(true)
	a.connectionView.SetTextAlign(tview.AlignCenter)

	a.statusBar = tview.NewTextView()
	a.statusBar.SetBackgroundColor(ColorBar)
	a.statusBar.SetTextColor(ColorTitle)
	a.statusBar.SetTextAlign(tview.AlignCenter)
	a.statusBar.SetText(roomsStatusText)

	mainFlex := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(a.roomsList, 0, 1, true).
		AddItem(a.connectionView, 3, 0, false).
		AddItem(a.statusBar, 1, 0, false)
	mainFlex.SetBackgroundColor(ColorBg)

	mainFlex.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch event.Key() {
		case tcell.KeyF1:
			a.showHelp(a.roomsList)
			return nil
		case tcell.KeyF2:
			a.showCreateRoomDialog()
			return nil
		case tcell.KeyF5:
			a.loadRooms()
			return nil
		case tcell.KeyF6:
			a.reconnect()
			return nil
		case tcell.KeyF9:
			a.showLogoutDialog()
			return nil
		case tcell.KeyF10, tcell.KeyEsc:
			a.quit()
			return nil
		}
		return event
	})

	return mainFlex
}

// loadRooms fetches the room list off the UI goroutine.
func (a *App) loadRooms() {
	if a.statusBar != nil {
		a.statusBar.SetText(" Loading rooms... ")
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), authTimeout)
		defer cancel()
		rooms, err := a.api.Rooms(ctx)
		a.app.QueueUpdateDraw(func() {
			if a.statusBar != nil {
				a.statusBar.SetText(roomsStatusText)
			}
			if err != nil {
				a.log.Warn().Err(err).Msg("load rooms")
				a.showNotice("Error", errorText(err))
				return
			}
			a.rooms = rooms
			a.updateRoomsList()
		})
	}()
}

func (a *App) updateRoomsList() {
	if a.roomsList == nil {
		return
	}
	current := a.roomsList.GetCurrentItem()
	a.roomsList.Clear()
	for _, r := range a.rooms {
		a.roomsList.AddItem("# "+tview.Escape(r.Name), "", 0, nil)
	}
	if len(a.rooms) == 0 {
		a.roomsList.AddItem("[gray]No rooms yet. Press F2 to create one.[-]", "", 0, nil)
	}
	if current >= 0 && current < a.roomsList.GetItemCount() {
		a.roomsList.SetCurrentItem(current)
	}
}

// roomCreated adds r to the list and selects it.
func (a *App) roomCreated(r models.Room) {
	a.rooms = append(a.rooms, r)
	a.updateRoomsList()
	if a.roomsList != nil {
		a.roomsList.SetCurrentItem(len(a.rooms) - 1)
	}
}

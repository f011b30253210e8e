package ui

import (
	"context"
	"strings"

	"github.com/rivo/tview"
)

func (a *App) showCreateRoomDialog() {
	form := tview.NewForm()
	form.SetBackgroundColor(ColorBg)
	form.SetFieldBackgroundColor(ColorFieldBg)
	form.SetFieldTextColor(ColorFg)
	form.SetLabelColor(ColorHighlight)
	form.SetButtonBackgroundColor(ColorBar)
	form.SetButtonTextColor(ColorTitle)
	form.SetBorder(true)
	form.SetBorderColor(ColorBorder)
	form.SetTitle(" Create Room ")
	form.SetTitleColor(ColorTitle)

	statusLabel := tview.NewTextView()
	statusLabel.SetBackgroundColor(ColorBg)
	statusLabel.SetTextColor(ColorError)

	nameField := tview.NewInputField()
	nameField.SetLabel("Name: ")
	nameField.SetFieldWidth(30)
	form.AddFormItem(nameField)

	closeDialog := func() {
		a.pages.RemovePage("dialog")
		if a.roomsList != nil {
			a.app.SetFocus(a.roomsList)
		}
	}

	form.AddButton("Create", func() {
		name := strings.TrimSpace(nameField.GetText())
		if name == "" {
			statusLabel.SetText("Room name is required")
			return
		}
		statusLabel.SetText("Creating...")
		token := a.identity.Token

		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), authTimeout)
			defer cancel()
			r, err := a.api.CreateRoom(ctx, name, token)
			a.app.QueueUpdateDraw(func() {
				if err != nil {
					statusLabel.SetText(errorText(err))
					return
				}
				closeDialog()
				a.roomCreated(r)
			})
		}()
	})

	form.AddButton("Cancel", closeDialog)

	flex := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(nil, 0, 1, false).
		AddItem(tview.NewFlex().
			AddItem(nil, 0, 1, false).
			AddItem(form, 50, 0, true).
			AddItem(nil, 0, 1, false), 7, 0, true).
		AddItem(tview.NewFlex().
			AddItem(nil, 0, 1, false).
			AddItem(statusLabel, 50, 0, false).
			AddItem(nil, 0, 1, false), 1, 0, false).
		AddItem(nil, 0, 1, false)
	flex.SetBackgroundColor(ColorBg)

	a.pages.AddPage("dialog", flex, true, true)
	a.app.SetFocus(form)
}

func (a *App) showLogoutDialog() {
	modal := tview.NewModal()
	modal.SetText("Log out " + a.identity.Email + "?")
	modal.SetBackgroundColor(ColorBg)
	modal.SetTextColor(ColorFg)
	modal.SetButtonBackgroundColor(ColorBar)
	modal.SetButtonTextColor(ColorTitle)
	modal.AddButtons([]string{"Log out", "Cancel"})
	modal.SetDoneFunc(func(buttonIndex int, buttonLabel string) {
		a.pages.RemovePage("dialog")
		if buttonLabel == "Log out" {
			a.logout()
			return
		}
		if a.roomsList != nil {
			a.app.SetFocus(a.roomsList)
		}
	})

	a.pages.AddPage("dialog", modal, true, true)
}

// showNotice shows a dismissable message on top of the current page and
// gives focus back afterwards.
func (a *App) showNotice(title, message string) {
	prev := a.app.GetFocus()

	modal := tview.NewModal()
	modal.SetText(title + "\n\n" + message)
	modal.SetBackgroundColor(ColorBg)
	modal.SetTextColor(ColorFg)
	modal.SetButtonBackgroundColor(ColorBar)
	modal.SetButtonTextColor(ColorTitle)
	modal.AddButtons([]string{"OK"})
	modal.SetDoneFunc(func(buttonIndex int, buttonLabel string) {
		a.pages.RemovePage("notice")
		if prev != nil {
			a.app.SetFocus(prev)
		}
	})

	a.pages.AddPage("notice", modal, true, true)
	a.app.SetFocus(modal)
}

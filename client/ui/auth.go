package ui

import (
	"context"
	"strings"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"talkx/models"
)

const authTimeout = 15 * time.Second

func (a *App) showAuthDialog() {
	form := tview.NewForm()
	form.SetBackgroundColor(ColorBg)
	form.SetFieldBackgroundColor(ColorFieldBg)
	form.SetFieldTextColor(ColorFg)
	form.SetLabelColor(ColorHighlight)
	form.SetButtonBackgroundColor(ColorBar)
	form.SetButtonTextColor(ColorTitle)
	form.SetBorder(true)
	form.SetBorderColor(ColorBorder)
	form.SetTitle(" talkx ")
	form.SetTitleColor(ColorTitle)

	statusText := tview.NewTextView()
	statusText.SetBackgroundColor(ColorBg)
	statusText.SetTextColor(ColorError)
	statusText.SetTextAlign(tview.AlignCenter)
	statusText.SetDynamicColors(true)

	emailField := tview.NewInputField()
	emailField.SetLabel("Email: ")
	emailField.SetFieldWidth(30)
	emailField.SetBackgroundColor(ColorBg)

	usernameField := tview.NewInputField()
	usernameField.SetLabel("Username: ")
	usernameField.SetFieldWidth(30)
	usernameField.SetPlaceholder("sign up only")
	usernameField.SetBackgroundColor(ColorBg)

	passwordField := tview.NewInputField()
	passwordField.SetLabel("Password: ")
	passwordField.SetFieldWidth(30)
	passwordField.SetMaskCharacter('*')
	passwordField.SetBackgroundColor(ColorBg)

	form.AddFormItem(emailField)
	form.AddFormItem(usernameField)
	form.AddFormItem(passwordField)

	form.AddButton("Login", func() {
		email := strings.TrimSpace(emailField.GetText())
		password := passwordField.GetText()
		if email == "" || password == "" {
			statusText.SetText("[red]Please enter email and password[-]")
			return
		}
		a.doAuth(email, "", password, statusText)
	})

	form.AddButton("Sign up", func() {
		email := strings.TrimSpace(emailField.GetText())
		username := strings.TrimSpace(usernameField.GetText())
		password := passwordField.GetText()
		if email == "" || username == "" || password == "" {
			statusText.SetText("[red]Email, username and password are required[-]")
			return
		}
		a.doAuth(email, username, password, statusText)
	})

	form.AddButton("Quit", a.quit)

	formFlex := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(form, 0, 1, true).
		AddItem(statusText, 1, 0, false)

	modal := centered(formFlex, 54, 14)
	modal.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		if event.Key() == tcell.KeyF10 {
			a.quit()
			return nil
		}
		return event
	})

	a.pages.AddPage("auth", modal, true, true)
	a.app.SetFocus(form)
}

// doAuth signs up first when username is set, then logs in and stores the
// identity for the next start.
func (a *App) doAuth(email, username, password string, statusText *tview.TextView) {
	if username != "" {
		statusText.SetText("Signing up...")
	} else {
		statusText.SetText("Logging in...")
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), authTimeout)
		defer cancel()

		if username != "" {
			if err := a.api.Signup(ctx, username, email, password); err != nil {
				a.app.QueueUpdateDraw(func() {
					statusText.SetText("[red]" + tview.Escape(errorText(err)) + "[-]")
				})
				return
			}
			a.app.QueueUpdateDraw(func() {
				statusText.SetText("Signed up! Logging in...")
			})
		}

		id, err := a.api.Login(ctx, email, password)
		if err != nil {
			a.app.QueueUpdateDraw(func() {
				statusText.SetText("[red]" + tview.Escape(errorText(err)) + "[-]")
			})
			return
		}
		if err := a.store.SaveIdentity(id); err != nil {
			a.log.Warn().Err(err).Msg("identity not saved")
		}
		a.log.Info().Str("user", id.Email).Msg("logged in")

		a.app.QueueUpdateDraw(func() {
			a.pages.RemovePage("auth")
			a.startSession(id)
		})
	}()
}

// logout leaves the room, drops the connection, revokes the token and
// forgets the stored identity.
func (a *App) logout() {
	token := a.identity.Token
	a.identity = models.Identity{}
	a.post(func() {
		a.leaveRoom()
		a.conn.Disconnect()
		a.self = models.Identity{}
	})
	if err := a.store.Clear(); err != nil {
		a.log.Warn().Err(err).Msg("clear store")
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), authTimeout)
		defer cancel()
		if err := a.api.Logout(ctx, token); err != nil {
			a.log.Warn().Err(err).Msg("logout")
		}
	}()

	a.closeChatPage()
	a.pages.RemovePage("rooms")
	a.roomsList = nil
	a.connectionView = nil
	a.statusBar = nil
	a.showAuthDialog()
}

// centered places p in the middle of the screen with a fixed size.
func centered(p tview.Primitive, width, height int) *tview.Flex {
	return tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(nil, 0, 1, false).
		AddItem(tview.NewFlex().
			AddItem(nil, 0, 1, false).
			AddItem(p, width, 0, true).
			AddItem(nil, 0, 1, false), height, 0, true).
		AddItem(nil, 0, 1, false)
}

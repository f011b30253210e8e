package ui

import (
	"fmt"
	"net/url"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
	"github.com/rs/zerolog"

	"talkx/client/api"
	"talkx/client/connection"
	"talkx/client/eventloop"
	"talkx/client/room"
	"talkx/client/store"
	"talkx/config"
	"talkx/models"
)

// Deps are the engine pieces the UI drives.
type Deps struct {
	Loop   *eventloop.Loop
	Conn   *connection.Manager
	API    *api.Client
	Store  *store.Store
	Config *config.ClientConfig
	Logger zerolog.Logger
}

// App is the main application.
//
// tview widgets and the fields next to them belong to the tview goroutine.
// The engine fields below belong to the event loop; the UI only reaches
// them through post.
type App struct {
	app   *tview.Application
	pages *tview.Pages
	loop  *eventloop.Loop
	conn  *connection.Manager
	api   *api.Client
	store *store.Store
	cfg   *config.ClientConfig
	log   zerolog.Logger

	identity       models.Identity
	status         connection.Status
	rooms          []models.Room
	currentRoom    string
	roomsList      *tview.List
	connectionView *tview.TextView
	statusBar      *tview.TextView
	chatView       *tview.TextView
	presenceView   *tview.TextView
	typingView     *tview.TextView
	chatStatus     *tview.TextView
	messageInput   *tview.InputField
	clearingInput  bool

	// event loop
	self      models.Identity
	session   *room.Session
	viewSub   *connection.Subscription
	statusSub *connection.Subscription
}

// New creates the application.
func New(deps Deps) *App {
	return &App{
		app:   tview.NewApplication(),
		loop:  deps.Loop,
		conn:  deps.Conn,
		api:   deps.API,
		store: deps.Store,
		cfg:   deps.Config,
		log:   deps.Logger.With().Str("component", "ui").Logger(),
	}
}

// Run starts the application. A stored identity skips the auth screen.
func (a *App) Run() error {
	a.pages = tview.NewPages()

	background := tview.NewBox()
	background.SetBackgroundColor(tcell.NewRGBColor(64, 64, 64))
	a.pages.AddPage("background", background, true, true)

	a.post(a.watchConnection)

	if id, err := a.store.LoadIdentity(); err == nil && id.Valid() {
		a.log.Info().Str("user", id.Email).Msg("session restored")
		a.startSession(id)
	} else {
		a.showAuthDialog()
	}

	return a.app.SetRoot(a.pages, true).EnableMouse(false).Run()
}

// Close leaves the open room and disconnects. It must be called after Run
// has returned and before the loop stops.
func (a *App) Close() {
	err := a.loop.Do(func() {
		if a.statusSub != nil {
			a.statusSub.Unsubscribe()
		}
		a.leaveRoom()
		a.conn.Disconnect()
	})
	if err != nil {
		a.log.Warn().Err(err).Msg("close: event loop stopped")
	}
}

// Notify shows a modal with a server or connection notice. It may be called
// from any goroutine.
func (a *App) Notify(title, message string) {
	a.app.QueueUpdateDraw(func() {
		a.showNotice(title, message)
	})
}

// post runs fn on the event loop.
func (a *App) post(fn func()) {
	if !a.loop.Post(fn) {
		a.log.Warn().Msg("event loop stopped, action dropped")
	}
}

// startSession switches to the rooms screen for id and connects.
func (a *App) startSession(id models.Identity) {
	a.identity = id
	a.post(func() {
		a.self = id
		a.connect()
	})
	a.showRoomsScreen()
}

func (a *App) quit() {
	a.app.Stop()
}

// socketEndpoint adds the auth token to the socket URL.
func socketEndpoint(raw, token string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse socket url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return "", fmt.Errorf("socket url %q: scheme must be ws or wss", raw)
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"talkx/db"
	"talkx/protocol"
)

const (
	maxFrameSize = 64 << 10
	sendBuffer   = 64
	// maxBadFrames consecutive undecodable frames close the connection.
	maxBadFrames = 5
)

type Server struct {
	db       *db.DB
	config   *ServerConfig
	log      zerolog.Logger
	sessions map[string]*Session
	rooms    map[string]map[string]*Session
	// roomLocks order history reads and joins against saved messages.
	roomLocks map[string]*sync.Mutex
	mu        sync.RWMutex
	http      *http.Server
	wg        sync.WaitGroup
}

type ServerConfig struct {
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	JWTSecret       string
	TokenTTL        time.Duration
	HistoryLimit    int
	FramesPerSecond float64
}

// Session is one websocket connection.
type Session struct {
	ID   string
	conn *websocket.Conn
	send chan protocol.Frame
	// authUserID is set when the connection presented a valid token.
	authUserID string
	limiter    *rate.Limiter
	ctx        context.Context
	cancel     context.CancelFunc
	closeOnce  sync.Once
	log        zerolog.Logger

	mu       sync.Mutex
	UserID   string
	Email    string
	Username string
	RoomID   string
}

func New(database *db.DB, config *ServerConfig, logger zerolog.Logger) *Server {
	if config.ReadTimeout <= 0 {
		config.ReadTimeout = 120 * time.Second
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = 30 * time.Second
	}
	if config.TokenTTL <= 0 {
		config.TokenTTL = 24 * time.Hour
	}
	if config.HistoryLimit <= 0 {
		config.HistoryLimit = 50
	}
	if config.FramesPerSecond <= 0 {
		config.FramesPerSecond = 20
	}

	return &Server{
		db:        database,
		config:    config,
		log:       logger.With().Str("component", "server").Logger(),
		sessions:  make(map[string]*Session),
		rooms:     make(map[string]map[string]*Session),
		roomLocks: make(map[string]*sync.Mutex),
	}
}

// Handler returns the HTTP routes: the REST API under /api and the event
// socket at /ws.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Route("/api", func(r chi.Router) {
		r.Post("/users/signup", s.handleSignup)
		r.Post("/users/login", s.handleLogin)
		r.Post("/users/logout", s.handleLogout)
		r.Get("/rooms/all", s.handleRooms)
		r.Post("/rooms/create", s.handleCreateRoom)
	})
	r.Get("/ws", s.handleSocket)
	return r
}

func (s *Server) Start() error {
	s.http = &http.Server{
		Addr:              ":" + strconv.Itoa(s.config.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.log.Info().Int("port", s.config.Port).Msg("talkx server started")

	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("remote", r.RemoteAddr).
			Int("status", ww.Status()).
			Dur("took", time.Since(start)).
			Msg("request")
	})
}

func (s *Server) handleSocket(w http.ResponseWriter, r *http.Request) {
	var authUserID string
	if token := tokenFromRequest(r); token != "" {
		claims, err := s.parseToken(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "Invalid token")
			return
		}
		authUserID = claims.Subject
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		s.log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("websocket accept failed")
		return
	}
	conn.SetReadLimit(maxFrameSize)

	ctx, cancel := context.WithCancel(context.Background())
	burst := int(s.config.FramesPerSecond*2) + 1
	sess := &Session{
		ID:         uuid.NewString(),
		conn:       conn,
		send:       make(chan protocol.Frame, sendBuffer),
		authUserID: authUserID,
		limiter:    rate.NewLimiter(rate.Limit(s.config.FramesPerSecond), burst),
		ctx:        ctx,
		cancel:     cancel,
	}
	sess.log = s.log.With().Str("conn", sess.ID).Str("remote", r.RemoteAddr).Logger()

	s.addSession(sess)
	s.wg.Add(1)
	defer s.wg.Done()
	sess.log.Info().Msg("client connected")

	go s.writePump(sess)
	status, reason := s.readLoop(sess)

	s.leaveRoom(sess)
	s.removeSession(sess.ID)
	sess.close(status, reason)
	if userID, _, _, _ := sess.identity(); userID != "" {
		if err := s.db.UpdateLastSeen(userID, time.Now()); err != nil {
			sess.log.Warn().Err(err).Msg("update last seen")
		}
	}
	sess.log.Info().Str("reason", reason).Msg("client disconnected")
}

func (s *Server) readLoop(sess *Session) (websocket.StatusCode, string) {
	badFrames := 0
	for {
		typ, data, err := sess.conn.Read(sess.ctx)
		if err != nil {
			if websocket.CloseStatus(err) == -1 && sess.ctx.Err() == nil {
				sess.log.Debug().Err(err).Msg("read failed")
			}
			return websocket.StatusNormalClosure, "closed"
		}
		if typ != websocket.MessageText {
			continue
		}
		if !sess.limiter.Allow() {
			sess.log.Warn().Msg("frame rate exceeded")
			return websocket.StatusPolicyViolation, "rate limit exceeded"
		}

		frame, err := protocol.ParseFrame(data)
		if err != nil {
			badFrames++
			sess.log.Warn().Err(err).Int("count", badFrames).Msg("bad frame")
			s.sendError(sess, "Invalid frame")
			if badFrames >= maxBadFrames {
				return websocket.StatusUnsupportedData, "too many invalid frames"
			}
			continue
		}
		badFrames = 0
		s.handleFrame(sess, frame)
	}
}

// writePump owns all queued writes to one connection and pings it so dead
// peers are noticed within ReadTimeout.
func (s *Server) writePump(sess *Session) {
	ticker := time.NewTicker(s.config.ReadTimeout / 2)
	defer ticker.Stop()

	for {
		select {
		case <-sess.ctx.Done():
			return
		case frame := <-sess.send:
			ctx, cancel := context.WithTimeout(sess.ctx, s.config.WriteTimeout)
			err := wsjson.Write(ctx, sess.conn, frame)
			cancel()
			if err != nil {
				sess.log.Debug().Err(err).Str("event", frame.Event).Msg("write failed")
				sess.close(websocket.StatusInternalError, "write failed")
				return
			}
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(sess.ctx, s.config.ReadTimeout/2)
			err := sess.conn.Ping(ctx)
			cancel()
			if err != nil {
				sess.log.Info().Err(err).Msg("ping timeout")
				sess.close(websocket.StatusGoingAway, "timeout")
				return
			}
		}
	}
}

// push queues a frame. A client that cannot keep up is disconnected.
func (sess *Session) push(frame protocol.Frame) {
	select {
	case <-sess.ctx.Done():
		return
	default:
	}
	select {
	case sess.send <- frame:
	default:
		sess.log.Warn().Msg("send buffer full, dropping client")
		go sess.close(websocket.StatusPolicyViolation, "slow consumer")
	}
}

func (sess *Session) close(status websocket.StatusCode, reason string) {
	sess.closeOnce.Do(func() {
		sess.conn.Close(status, reason)
		sess.cancel()
	})
}

func (sess *Session) identity() (userID, email, username, roomID string) {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.UserID, sess.Email, sess.Username, sess.RoomID
}

func (s *Server) send(sess *Session, event string, payload any) {
	frame, err := protocol.NewFrame(event, payload)
	if err != nil {
		sess.log.Error().Err(err).Str("event", event).Msg("encode frame")
		return
	}
	sess.push(frame)
}

func (s *Server) sendError(sess *Session, message string) {
	s.send(sess, protocol.EventError, message)
}

// broadcast sends to every session in a room except skip.
func (s *Server) broadcast(roomID string, skip *Session, event string, payload any) {
	frame, err := protocol.NewFrame(event, payload)
	if err != nil {
		s.log.Error().Err(err).Str("event", event).Msg("encode frame")
		return
	}
	for _, member := range s.roomMembers(roomID) {
		if member != skip {
			member.push(frame)
		}
	}
}

func (s *Server) addSession(sess *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ID] = sess
}

func (s *Server) removeSession(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
}

func (s *Server) joinRoomMembers(roomID string, sess *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	members, ok := s.rooms[roomID]
	if !ok {
		members = make(map[string]*Session)
		s.rooms[roomID] = members
	}
	members[sess.ID] = sess
}

// lockRoom serializes joins and new messages for one room.
func (s *Server) lockRoom(roomID string) func() {
	s.mu.Lock()
	l, ok := s.roomLocks[roomID]
	if !ok {
		l = &sync.Mutex{}
		s.roomLocks[roomID] = l
	}
	s.mu.Unlock()
	l.Lock()
	return l.Unlock
}

func (s *Server) leaveRoomMembers(roomID string, sess *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	members := s.rooms[roomID]
	delete(members, sess.ID)
	if len(members) == 0 {
		delete(s.rooms, roomID)
	}
}

func (s *Server) roomMembers(roomID string) []*Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	members := make([]*Session, 0, len(s.rooms[roomID]))
	for _, sess := range s.rooms[roomID] {
		members = append(members, sess)
	}
	return members
}

// presence lists the distinct users in a room sorted by email.
func (s *Server) presence(roomID string) []protocol.PresenceEntry {
	seen := make(map[string]bool)
	users := []protocol.PresenceEntry{}
	for _, member := range s.roomMembers(roomID) {
		userID, email, _, _ := member.identity()
		if userID == "" || seen[userID] {
			continue
		}
		seen[userID] = true
		users = append(users, protocol.PresenceEntry{UserID: userID, Email: email})
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Email < users[j].Email })
	return users
}

// GetStats returns server statistics as a formatted string
func (s *Server) GetStats() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var users []string
	for _, sess := range s.sessions {
		if _, email, _, _ := sess.identity(); email != "" {
			users = append(users, email)
		}
	}
	sort.Strings(users)

	return "connections=" + strconv.Itoa(len(s.sessions)) +
		",rooms=" + strconv.Itoa(len(s.rooms)) +
		",users=" + strings.Join(users, ";")
}

// Shutdown tells every client why it is being disconnected, closes all
// connections and stops the HTTP listener.
func (s *Server) Shutdown(reason string, completionTime time.Time) {
	notice := "Server shutting down: " + reason
	if !completionTime.IsZero() {
		notice += fmt.Sprintf(" (back at %s)", completionTime.UTC().Format("2006-01-02 15:04 MST"))
	}
	frame, _ := protocol.NewFrame(protocol.EventError, notice)

	s.mu.RLock()
	sessions := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.RUnlock()

	for _, sess := range sessions {
		ctx, cancel := context.WithTimeout(context.Background(), s.config.WriteTimeout)
		if err := wsjson.Write(ctx, sess.conn, frame); err != nil {
			sess.log.Debug().Err(err).Msg("shutdown notice not delivered")
		}
		cancel()
		sess.close(websocket.StatusGoingAway, reason)
	}

	if s.http != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.http.Shutdown(ctx); err != nil {
			s.log.Error().Err(err).Msg("http shutdown")
		}
	}
	s.wg.Wait()
	s.log.Info().Str("reason", reason).Int("connections", len(sessions)).Msg("server shut down")
}

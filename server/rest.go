package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"talkx/db"
	"talkx/models"
)

const (
	tokenHeader = "x-auth-token"
	tokenIssuer = "talkx"
)

var errTokenRevoked = errors.New("token revoked")

type tokenClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

func (s *Server) issueToken(u models.User) (string, error) {
	now := time.Now()
	claims := tokenClaims{
		Email: u.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    tokenIssuer,
			Subject:   u.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.config.TokenTTL)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.config.JWTSecret))
}

// parseToken verifies signature, expiry and revocation.
func (s *Server) parseToken(raw string) (*tokenClaims, error) {
	claims := &tokenClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		return []byte(s.config.JWTSecret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer(tokenIssuer), jwt.WithExpirationRequired())
	if err != nil {
		return nil, err
	}
	revoked, err := s.db.IsTokenRevoked(claims.ID)
	if err != nil {
		return nil, fmt.Errorf("check revocation: %w", err)
	}
	if revoked {
		return nil, errTokenRevoked
	}
	return claims, nil
}

func tokenFromRequest(r *http.Request) string {
	if token := r.Header.Get(tokenHeader); token != "" {
		return token
	}
	return r.URL.Query().Get("token")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"message": message})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	return dec.Decode(v)
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || strings.TrimSpace(req.Email) == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "Username, email and password are required")
		return
	}
	if !strings.Contains(req.Email, "@") {
		writeError(w, http.StatusBadRequest, "Invalid email")
		return
	}

	u, err := s.db.CreateUser(req.Username, req.Email, req.Password)
	if errors.Is(err, db.ErrUserExists) {
		writeError(w, http.StatusBadRequest, "User already exists")
		return
	}
	if err != nil {
		s.log.Error().Err(err).Msg("signup")
		writeError(w, http.StatusInternalServerError, "Internal error")
		return
	}

	s.log.Info().Str("user", u.Email).Msg("user registered")
	writeJSON(w, http.StatusCreated, map[string]string{"message": "User created", "userId": u.ID})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "Email and password are required")
		return
	}

	u, ok, err := s.db.AuthenticateUser(req.Email, req.Password)
	if err != nil {
		s.log.Error().Err(err).Msg("login")
		writeError(w, http.StatusInternalServerError, "Internal error")
		return
	}
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid credentials")
		return
	}

	token, err := s.issueToken(u)
	if err != nil {
		s.log.Error().Err(err).Msg("issue token")
		writeError(w, http.StatusInternalServerError, "Internal error")
		return
	}
	writeJSON(w, http.StatusOK, models.Identity{
		UserID:   u.ID,
		Email:    u.Email,
		Username: u.Username,
		Token:    token,
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	raw := r.Header.Get(tokenHeader)
	if raw == "" {
		writeError(w, http.StatusUnauthorized, "No token, authorization denied")
		return
	}
	claims, err := s.parseToken(raw)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Invalid token")
		return
	}
	if err := s.db.RevokeToken(claims.ID, claims.ExpiresAt.Time); err != nil {
		s.log.Error().Err(err).Msg("revoke token")
		writeError(w, http.StatusInternalServerError, "Internal error")
		return
	}
	if n, err := s.db.PruneRevokedTokens(time.Now()); err == nil && n > 0 {
		s.log.Debug().Int64("pruned", n).Msg("expired revocations removed")
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Logged out successfully"})
}

func (s *Server) handleRooms(w http.ResponseWriter, r *http.Request) {
	rooms, err := s.db.GetRooms()
	if err != nil {
		s.log.Error().Err(err).Msg("list rooms")
		writeError(w, http.StatusInternalServerError, "Internal error")
		return
	}
	writeJSON(w, http.StatusOK, rooms)
}

func (s *Server) handleCreateRoom(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	room, err := s.db.CreateRoom(req.Name)
	switch {
	case errors.Is(err, db.ErrInvalidName):
		writeError(w, http.StatusBadRequest, "Room name is required")
		return
	case errors.Is(err, db.ErrRoomExists):
		writeError(w, http.StatusBadRequest, "Room already exists")
		return
	case err != nil:
		s.log.Error().Err(err).Msg("create room")
		writeError(w, http.StatusInternalServerError, "Internal error")
		return
	}

	s.log.Info().Str("room", room.Name).Msg("room created")
	writeJSON(w, http.StatusCreated, room)
}

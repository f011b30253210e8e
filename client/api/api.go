// Package api is the client for the chat server's REST endpoints.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"talkx/models"
)

// TokenHeader carries the auth token on authenticated requests.
const TokenHeader = "x-auth-token"

// Error is a non-2xx answer from the server.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s (%d)", e.Message, e.Status)
}

// Client calls the REST API under a base URL that ends in /api.
type Client struct {
	base string
	http *http.Client
	log  zerolog.Logger
}

// New creates a client for base, e.g. http://localhost:3215/api.
func New(base string, timeout time.Duration, logger zerolog.Logger) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Timeout: timeout},
		log:  logger.With().Str("component", "api").Logger(),
	}
}

// Signup registers a new account.
func (c *Client) Signup(ctx context.Context, username, email, password string) error {
	body := map[string]string{"username": username, "email": email, "password": password}
	return c.do(ctx, http.MethodPost, "/users/signup", "", body, nil, "Signup failed")
}

// Login exchanges credentials for an identity with a token.
func (c *Client) Login(ctx context.Context, email, password string) (models.Identity, error) {
	var id models.Identity
	body := map[string]string{"email": email, "password": password}
	if err := c.do(ctx, http.MethodPost, "/users/login", "", body, &id, "Login failed"); err != nil {
		return models.Identity{}, err
	}
	if id.Token == "" {
		return models.Identity{}, &Error{Status: http.StatusOK, Message: "Login failed: no token"}
	}
	return id, nil
}

// Logout revokes token on the server.
func (c *Client) Logout(ctx context.Context, token string) error {
	return c.do(ctx, http.MethodPost, "/users/logout", token, nil, nil, "Logout failed")
}

// Rooms lists every room.
func (c *Client) Rooms(ctx context.Context) ([]models.Room, error) {
	var rooms []models.Room
	if err := c.do(ctx, http.MethodGet, "/rooms/all", "", nil, &rooms, "Failed to fetch rooms"); err != nil {
		return nil, err
	}
	return rooms, nil
}

// CreateRoom creates a room named name.
func (c *Client) CreateRoom(ctx context.Context, name, token string) (models.Room, error) {
	var room models.Room
	body := map[string]string{"name": name}
	if err := c.do(ctx, http.MethodPost, "/rooms/create", token, body, &room, "Failed to create room"); err != nil {
		return models.Room{}, err
	}
	return room, nil
}

func (c *Client) do(ctx context.Context, method, path, token string, in, out any, fallback string) error {
	var reqBody io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reqBody)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set(TokenHeader, token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("%s %s: read body: %w", method, path, err)
	}
	c.log.Debug().Str("method", method).Str("path", path).Int("status", resp.StatusCode).
		Dur("took", time.Since(start)).Msg("request")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := fallback
		if m := gjson.GetBytes(data, "message"); m.Type == gjson.String && m.Str != "" {
			msg = m.Str
		}
		return &Error{Status: resp.StatusCode, Message: msg}
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%s %s: decode: %w", method, path, err)
	}
	return nil
}

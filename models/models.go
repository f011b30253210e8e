package models

import "time"

type User struct {
	ID        string
	Username  string
	Email     string
	Password  string // hashed
	CreatedAt time.Time
}

// Room is a chat room as listed by the REST API.
type Room struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

// Message is a stored chat message.
type Message struct {
	ID             int64
	RoomID         string
	SenderID       string
	SenderUsername string
	Text           string
	Timestamp      time.Time
}

// Identity is the logged-in user as returned by login and kept by the
// client between runs.
type Identity struct {
	UserID   string `json:"userId"`
	Email    string `json:"email"`
	Username string `json:"username"`
	Token    string `json:"token,omitempty"`
}

// Valid reports whether the identity is complete enough to join rooms.
func (i Identity) Valid() bool {
	return i.UserID != "" && i.Email != "" && i.Token != ""
}

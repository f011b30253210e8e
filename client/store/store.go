// Package store persists the logged-in identity between client runs in a
// small SQLite key-value table.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"talkx/models"
)

const (
	KeyUser  = "user"
	KeyToken = "token"
)

var ErrNotFound = errors.New("key not found")

type Store struct {
	conn *sql.DB
}

// Open opens (creating if needed) the store at path.
func Open(path string) (*Store, error) {
	conn, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}
	_, err = conn.Exec(`CREATE TABLE IF NOT EXISTS kv (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("init store: %w", err)
	}
	return &Store{conn: conn}, nil
}

func (s *Store) Close() error {
	return s.conn.Close()
}

func (s *Store) Get(key string) (string, error) {
	var value string
	err := s.conn.QueryRow("SELECT value FROM kv WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	return value, err
}

func (s *Store) Set(key, value string) error {
	_, err := s.conn.Exec(
		"INSERT INTO kv (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		key, value,
	)
	return err
}

// SaveIdentity stores the user record and the token under separate keys.
func (s *Store) SaveIdentity(id models.Identity) error {
	token := id.Token
	id.Token = ""
	user, err := json.Marshal(id)
	if err != nil {
		return err
	}

	tx, err := s.conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	upsert := "INSERT INTO kv (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value"
	if _, err := tx.Exec(upsert, KeyUser, string(user)); err != nil {
		return fmt.Errorf("save user: %w", err)
	}
	if _, err := tx.Exec(upsert, KeyToken, token); err != nil {
		return fmt.Errorf("save token: %w", err)
	}
	return tx.Commit()
}

// LoadIdentity returns the saved identity, or ErrNotFound when either half
// is missing.
func (s *Store) LoadIdentity() (models.Identity, error) {
	var id models.Identity
	user, err := s.Get(KeyUser)
	if err != nil {
		return id, err
	}
	token, err := s.Get(KeyToken)
	if err != nil {
		return id, err
	}
	if err := json.Unmarshal([]byte(user), &id); err != nil {
		return models.Identity{}, fmt.Errorf("decode user: %w", err)
	}
	id.Token = token
	return id, nil
}

// Clear forgets the saved identity.
func (s *Store) Clear() error {
	_, err := s.conn.Exec("DELETE FROM kv WHERE key IN (?, ?)", KeyUser, KeyToken)
	return err
}

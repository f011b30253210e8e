package db

import (
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"golang.org/x/crypto/bcrypt"

	"talkx/models"
)

var (
	ErrNoRows      = errors.New("no rows found")
	ErrUserExists  = errors.New("user already exists")
	ErrRoomExists  = errors.New("room already exists")
	ErrInvalidName = errors.New("name is empty")
)

type DB struct {
	conn *sql.DB
}

func New(path string) (*DB, error) {
	conn, err := sql.Open("sqlite3", path+"?_foreign_keys=1&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	db := &DB{conn: conn}
	if err := db.init(); err != nil {
		conn.Close()
		return nil, err
	}

	return db, nil
}

func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) init() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			username TEXT NOT NULL,
			email TEXT UNIQUE NOT NULL,
			password TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS rooms (
			id TEXT PRIMARY KEY,
			name TEXT UNIQUE NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			room_id TEXT NOT NULL REFERENCES rooms(id) ON DELETE CASCADE,
			sender_id TEXT NOT NULL,
			sender_username TEXT NOT NULL,
			text TEXT NOT NULL,
			timestamp TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS revoked_tokens (
			id TEXT PRIMARY KEY,
			expires_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_room ON messages(room_id, id)`,
	}

	for _, query := range queries {
		if _, err := db.conn.Exec(query); err != nil {
			return err
		}
	}

	return db.migrate()
}

// migrate adds columns introduced after the first schema.
func (db *DB) migrate() error {
	if !db.columnExists("users", "last_seen") {
		// ALTER TABLE takes no parameters
		if _, err := db.conn.Exec("ALTER TABLE users ADD COLUMN last_seen TEXT NOT NULL DEFAULT ''"); err != nil {
			return err
		}
	}
	return nil
}

func (db *DB) columnExists(table, column string) bool {
	var count int
	err := db.conn.QueryRow("SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?", table, column).Scan(&count)
	if err != nil {
		return false
	}
	return count > 0
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// User methods
func (db *DB) CreateUser(username, email, password string) (models.User, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return models.User{}, err
	}

	u := models.User{
		ID:        uuid.NewString(),
		Username:  username,
		Email:     strings.ToLower(strings.TrimSpace(email)),
		Password:  string(hashed),
		CreatedAt: time.Now().UTC().Truncate(time.Second),
	}
	_, err = db.conn.Exec(
		"INSERT INTO users (id, username, email, password, created_at) VALUES (?, ?, ?, ?, ?)",
		u.ID, u.Username, u.Email, u.Password, u.CreatedAt.Format(time.RFC3339),
	)
	if isUniqueViolation(err) {
		return models.User{}, ErrUserExists
	}
	if err != nil {
		return models.User{}, err
	}
	return u, nil
}

// AuthenticateUser checks the password for email. A wrong password or an
// unknown email both report ok=false with no error.
func (db *DB) AuthenticateUser(email, password string) (models.User, bool, error) {
	u, err := db.userBy("email", strings.ToLower(strings.TrimSpace(email)))
	if errors.Is(err, ErrNoRows) {
		return models.User{}, false, nil
	}
	if err != nil {
		return models.User{}, false, err
	}

	if bcrypt.CompareHashAndPassword([]byte(u.Password), []byte(password)) != nil {
		return models.User{}, false, nil
	}
	return u, true, nil
}

func (db *DB) GetUser(id string) (models.User, error) {
	return db.userBy("id", id)
}

func (db *DB) userBy(column, value string) (models.User, error) {
	var u models.User
	var created string
	err := db.conn.QueryRow(
		"SELECT id, username, email, password, created_at FROM users WHERE "+column+" = ?", value,
	).Scan(&u.ID, &u.Username, &u.Email, &u.Password, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, ErrNoRows
	}
	if err != nil {
		return models.User{}, err
	}
	u.CreatedAt, _ = time.Parse(time.RFC3339, created)
	return u, nil
}

// UpdateLastSeen records when the user's last connection closed.
func (db *DB) UpdateLastSeen(id string, t time.Time) error {
	_, err := db.conn.Exec("UPDATE users SET last_seen = ? WHERE id = ?", t.UTC().Format(time.RFC3339), id)
	return err
}

// Room methods
func (db *DB) CreateRoom(name string) (models.Room, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return models.Room{}, ErrInvalidName
	}
	r := models.Room{
		ID:        uuid.NewString(),
		Name:      name,
		CreatedAt: time.Now().UTC().Truncate(time.Second),
	}
	_, err := db.conn.Exec(
		"INSERT INTO rooms (id, name, created_at) VALUES (?, ?, ?)",
		r.ID, r.Name, r.CreatedAt.Format(time.RFC3339),
	)
	if isUniqueViolation(err) {
		return models.Room{}, ErrRoomExists
	}
	if err != nil {
		return models.Room{}, err
	}
	return r, nil
}

func (db *DB) GetRoom(id string) (models.Room, error) {
	var r models.Room
	var created string
	err := db.conn.QueryRow("SELECT id, name, created_at FROM rooms WHERE id = ?", id).Scan(&r.ID, &r.Name, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Room{}, ErrNoRows
	}
	if err != nil {
		return models.Room{}, err
	}
	r.CreatedAt, _ = time.Parse(time.RFC3339, created)
	return r, nil
}

func (db *DB) GetRooms() ([]models.Room, error) {
	rows, err := db.conn.Query("SELECT id, name, created_at FROM rooms ORDER BY created_at ASC, name ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	rooms := []models.Room{}
	for rows.Next() {
		var r models.Room
		var created string
		if err := rows.Scan(&r.ID, &r.Name, &created); err != nil {
			return nil, err
		}
		r.CreatedAt, _ = time.Parse(time.RFC3339, created)
		rooms = append(rooms, r)
	}

	return rooms, rows.Err()
}

// Message methods
func (db *DB) SaveMessage(m models.Message) (models.Message, error) {
	res, err := db.conn.Exec(
		"INSERT INTO messages (room_id, sender_id, sender_username, text, timestamp) VALUES (?, ?, ?, ?, ?)",
		m.RoomID, m.SenderID, m.SenderUsername, m.Text, m.Timestamp.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return models.Message{}, err
	}
	m.ID, err = res.LastInsertId()
	return m, err
}

// GetRecentMessages returns the last limit messages of a room, oldest first.
func (db *DB) GetRecentMessages(roomID string, limit int) ([]models.Message, error) {
	query := `
		SELECT id, room_id, sender_id, sender_username, text, timestamp FROM (
			SELECT * FROM messages WHERE room_id = ? ORDER BY id DESC LIMIT ?
		) ORDER BY id ASC
	`
	rows, err := db.conn.Query(query, roomID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := []models.Message{}
	for rows.Next() {
		var m models.Message
		var ts string
		if err := rows.Scan(&m.ID, &m.RoomID, &m.SenderID, &m.SenderUsername, &m.Text, &ts); err != nil {
			return nil, err
		}
		m.Timestamp, err = time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}

	return messages, rows.Err()
}

// Token methods
func (db *DB) RevokeToken(id string, expiresAt time.Time) error {
	_, err := db.conn.Exec(
		"INSERT OR IGNORE INTO revoked_tokens (id, expires_at) VALUES (?, ?)",
		id, expiresAt.UTC().Format(time.RFC3339),
	)
	return err
}

func (db *DB) IsTokenRevoked(id string) (bool, error) {
	var count int
	err := db.conn.QueryRow("SELECT COUNT(*) FROM revoked_tokens WHERE id = ?", id).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// PruneRevokedTokens drops revocations of tokens that have expired anyway.
func (db *DB) PruneRevokedTokens(now time.Time) (int64, error) {
	res, err := db.conn.Exec("DELETE FROM revoked_tokens WHERE expires_at < ?", now.UTC().Format(time.RFC3339))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

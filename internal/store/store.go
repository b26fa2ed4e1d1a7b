// Package store persists settings, conversation history and panel logins in
// a local SQLite database.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"golang.org/x/crypto/bcrypt"

	"github.com/christian-lee/tutorvoice/internal/transcript"
)

// Setting keys.
const (
	SettingAPIKey        = "api_key"
	SettingPanelPassword = "panel_password_hash"
)

type Conversation struct {
	ID        string     `json:"id"`
	Model     string     `json:"model"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	Messages  int        `json:"messages"`
}

type Store struct {
	db *sql.DB
}

func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// one writer at a time
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			model TEXT NOT NULL,
			started_at DATETIME NOT NULL,
			ended_at DATETIME
		);
		CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			role TEXT NOT NULL,
			text TEXT NOT NULL,
			ts DATETIME NOT NULL,
			FOREIGN KEY (conversation_id) REFERENCES conversations(id) ON DELETE CASCADE
		);
		CREATE INDEX IF NOT EXISTS idx_messages_conv ON messages(conversation_id, ts);
		CREATE TABLE IF NOT EXISTS web_sessions (
			token TEXT PRIMARY KEY,
			expiry DATETIME NOT NULL
		);
	`)
	return err
}

// Setting returns the stored value for key, or "" when unset.
func (s *Store) Setting(key string) (string, error) {
	var v string
	err := s.db.QueryRow("SELECT value FROM settings WHERE key = ?", key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return v, err
}

func (s *Store) SetSetting(key, value string) error {
	_, err := s.db.Exec("INSERT OR REPLACE INTO settings (key, value) VALUES (?, ?)", key, value)
	return err
}

func (s *Store) DeleteSetting(key string) error {
	_, err := s.db.Exec("DELETE FROM settings WHERE key = ?", key)
	return err
}

// StartConversation records a new tutoring session.
func (s *Store) StartConversation(id, model string, at time.Time) error {
	_, err := s.db.Exec("INSERT INTO conversations (id, model, started_at) VALUES (?, ?, ?)",
		id, model, at.UTC().Format(time.RFC3339Nano))
	return err
}

func (s *Store) EndConversation(id string, at time.Time) error {
	_, err := s.db.Exec("UPDATE conversations SET ended_at = ? WHERE id = ?",
		at.UTC().Format(time.RFC3339Nano), id)
	return err
}

// AddMessage stores a finished transcript message.
func (s *Store) AddMessage(conversationID string, m transcript.Message) error {
	_, err := s.db.Exec("INSERT OR REPLACE INTO messages (id, conversation_id, role, text, ts) VALUES (?, ?, ?, ?, ?)",
		m.ID, conversationID, string(m.Role), m.Text, m.Timestamp.UTC().Format(time.RFC3339Nano))
	return err
}

// Conversations lists the newest conversations first.
func (s *Store) Conversations(limit int) ([]Conversation, error) {
	rows, err := s.db.Query(`
		SELECT c.id, c.model, c.started_at, c.ended_at, COUNT(m.id)
		FROM conversations c LEFT JOIN messages m ON m.conversation_id = c.id
		GROUP BY c.id
		ORDER BY c.started_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Conversation
	for rows.Next() {
		var c Conversation
		var started string
		var ended sql.NullString
		if err := rows.Scan(&c.ID, &c.Model, &started, &ended, &c.Messages); err != nil {
			return nil, err
		}
		c.StartedAt, _ = time.Parse(time.RFC3339Nano, started)
		if ended.Valid {
			t, _ := time.Parse(time.RFC3339Nano, ended.String)
			c.EndedAt = &t
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Messages returns a conversation in order.
func (s *Store) Messages(conversationID string) ([]transcript.Message, error) {
	rows, err := s.db.Query("SELECT id, role, text, ts FROM messages WHERE conversation_id = ? ORDER BY ts, rowid", conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []transcript.Message
	for rows.Next() {
		var m transcript.Message
		var role, ts string
		if err := rows.Scan(&m.ID, &role, &m.Text, &ts); err != nil {
			return nil, err
		}
		m.Role = transcript.Role(role)
		m.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		m.Final = true
		out = append(out, m)
	}
	return out, rows.Err()
}

// SetPanelPassword stores a bcrypt hash of password. An empty password
// disables panel login.
func (s *Store) SetPanelPassword(password string) error {
	if password == "" {
		return s.DeleteSetting(SettingPanelPassword)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	return s.SetSetting(SettingPanelPassword, string(hash))
}

// SetPanelPasswordHash stores an already hashed password.
func (s *Store) SetPanelPasswordHash(hash string) error {
	if _, err := bcrypt.Cost([]byte(hash)); err != nil {
		return fmt.Errorf("invalid bcrypt hash: %w", err)
	}
	return s.SetSetting(SettingPanelPassword, hash)
}

// PanelPasswordEnabled reports whether a panel password is configured.
func (s *Store) PanelPasswordEnabled() bool {
	h, err := s.Setting(SettingPanelPassword)
	return err == nil && h != ""
}

// CheckPanelPassword compares password against the stored hash.
func (s *Store) CheckPanelPassword(password string) bool {
	h, err := s.Setting(SettingPanelPassword)
	if err != nil || h == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(h), []byte(password)) == nil
}

// SaveWebSession persists a panel login token.
func (s *Store) SaveWebSession(token string, expiry time.Time) error {
	_, err := s.db.Exec("INSERT OR REPLACE INTO web_sessions (token, expiry) VALUES (?, ?)",
		token, expiry.UTC().Format(time.RFC3339))
	return err
}

// ValidWebSession reports whether token exists and has not expired.
func (s *Store) ValidWebSession(token string) bool {
	var expiry string
	err := s.db.QueryRow("SELECT expiry FROM web_sessions WHERE token = ?", token).Scan(&expiry)
	if err != nil {
		return false
	}
	t, err := time.Parse(time.RFC3339, expiry)
	return err == nil && time.Now().Before(t)
}

func (s *Store) DeleteWebSession(token string) error {
	_, err := s.db.Exec("DELETE FROM web_sessions WHERE token = ?", token)
	return err
}

// CleanExpiredWebSessions removes expired logins.
func (s *Store) CleanExpiredWebSessions() {
	s.db.Exec("DELETE FROM web_sessions WHERE expiry <= ?", time.Now().UTC().Format(time.RFC3339))
}

func (s *Store) Close() error {
	return s.db.Close()
}

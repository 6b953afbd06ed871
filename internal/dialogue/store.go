// Package dialogue implements the durable conversation store: sessions and
// their ordered message history, scoped to an owner.
//
// A session id that exists under a different owner is reported as not
// found, never as a permission error, so session existence cannot be
// probed across owners.
package dialogue

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DefaultHistoryLimit bounds the context window handed to the intent
// resolver when the caller does not specify one.
const DefaultHistoryLimit = 50

// ErrNotFound is returned when a session does not exist for the
// requesting owner.
var ErrNotFound = errors.New("session not found")

// Role identifies who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Session is one owner-scoped conversation thread.
type Session struct {
	ID             string `json:"id"`
	Owner          string `json:"-"`
	CreatedAt      string `json:"created_at"`
	LastActivityAt string `json:"last_activity_at"`
}

// Message is one immutable dialogue turn. Operations lists the operation
// names attempted during an assistant turn; it is observability metadata,
// empty on user turns.
type Message struct {
	ID         int64    `json:"id"`
	SessionID  string   `json:"session_id"`
	Owner      string   `json:"-"`
	Role       Role     `json:"role"`
	Content    string   `json:"content"`
	Operations []string `json:"operations,omitempty"`
	CreatedAt  string   `json:"created_at"`
}

// Store is the persistent dialogue store.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// NewStore creates the dialogue store on an opened database, running
// schema migration.
func NewStore(db *sql.DB) (*Store, error) {
	s := &Store{db: db, now: time.Now}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("dialogue: migration: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS sessions (
			id               TEXT PRIMARY KEY,
			owner            TEXT NOT NULL,
			created_at       TEXT NOT NULL,
			last_activity_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_sessions_owner
			ON sessions(owner);

		CREATE TABLE IF NOT EXISTS messages (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			owner      TEXT NOT NULL,
			role       TEXT NOT NULL,
			content    TEXT NOT NULL,
			ops_json   TEXT NOT NULL DEFAULT '[]',
			created_at TEXT NOT NULL,
			FOREIGN KEY (session_id) REFERENCES sessions(id)
		);

		CREATE INDEX IF NOT EXISTS idx_messages_session
			ON messages(session_id, id);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *Store) timestamp() string {
	return s.now().UTC().Format(time.RFC3339)
}

// GetOrCreateSession resolves the session for an exchange. With an empty
// id it always creates a fresh session — two bare calls never reuse one.
// With an id it must already exist and belong to the owner; otherwise
// ErrNotFound, never an implicit re-create, so stale client ids surface
// instead of silently forking a new conversation.
func (s *Store) GetOrCreateSession(owner, sessionID string) (*Session, error) {
	if sessionID != "" {
		return s.getSession(owner, sessionID)
	}

	now := s.timestamp()
	sess := &Session{
		ID:             uuid.NewString(),
		Owner:          owner,
		CreatedAt:      now,
		LastActivityAt: now,
	}
	_, err := s.db.Exec(
		`INSERT INTO sessions (id, owner, created_at, last_activity_at) VALUES (?, ?, ?, ?)`,
		sess.ID, sess.Owner, sess.CreatedAt, sess.LastActivityAt,
	)
	if err != nil {
		return nil, fmt.Errorf("dialogue: create session: %w", err)
	}
	return sess, nil
}

func (s *Store) getSession(owner, sessionID string) (*Session, error) {
	sess := &Session{}
	err := s.db.QueryRow(
		`SELECT id, owner, created_at, last_activity_at FROM sessions WHERE id = ? AND owner = ?`,
		sessionID, owner,
	).Scan(&sess.ID, &sess.Owner, &sess.CreatedAt, &sess.LastActivityAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("dialogue: get session: %w", err)
	}
	return sess, nil
}

// AppendMessage records one turn and bumps the session's last-activity
// timestamp in the same transaction. Session/owner mismatch is
// ErrNotFound.
func (s *Store) AppendMessage(sessionID, owner string, role Role, content string, operations []string) (*Message, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("dialogue: begin append: %w", err)
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRow(
		`SELECT 1 FROM sessions WHERE id = ? AND owner = ?`, sessionID, owner,
	).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("dialogue: check session: %w", err)
	}

	if operations == nil {
		operations = []string{}
	}
	opsJSON, err := json.Marshal(operations)
	if err != nil {
		return nil, fmt.Errorf("dialogue: encode operations: %w", err)
	}

	msg := &Message{
		SessionID: sessionID,
		Owner:     owner,
		Role:      role,
		Content:   content,
		CreatedAt: s.timestamp(),
	}
	if len(operations) > 0 {
		msg.Operations = operations
	}

	res, err := tx.Exec(
		`INSERT INTO messages (session_id, owner, role, content, ops_json, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		msg.SessionID, msg.Owner, string(msg.Role), msg.Content, string(opsJSON), msg.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("dialogue: insert message: %w", err)
	}
	msg.ID, err = res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("dialogue: message id: %w", err)
	}

	if _, err := tx.Exec(
		`UPDATE sessions SET last_activity_at = ? WHERE id = ?`, msg.CreatedAt, sessionID,
	); err != nil {
		return nil, fmt.Errorf("dialogue: touch session: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("dialogue: commit append: %w", err)
	}
	return msg, nil
}

// History returns the most recent limit messages of the session in
// chronological order. limit <= 0 falls back to DefaultHistoryLimit.
func (s *Store) History(sessionID, owner string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}

	// Verify ownership first so a foreign session reads as not found
	// rather than as empty history.
	if _, err := s.getSession(owner, sessionID); err != nil {
		return nil, err
	}

	rows, err := s.db.Query(`
		SELECT id, session_id, owner, role, content, ops_json, created_at
		FROM (
			SELECT * FROM messages
			WHERE session_id = ? AND owner = ?
			ORDER BY id DESC
			LIMIT ?
		)
		ORDER BY id ASC`,
		sessionID, owner, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("dialogue: history: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var (
			m       Message
			role    string
			opsJSON string
		)
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Owner, &role, &m.Content, &opsJSON, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("dialogue: scan message: %w", err)
		}
		m.Role = Role(role)
		var ops []string
		if err := json.Unmarshal([]byte(opsJSON), &ops); err != nil {
			return nil, fmt.Errorf("dialogue: decode operations: %w", err)
		}
		if len(ops) > 0 {
			m.Operations = ops
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("dialogue: history rows: %w", err)
	}
	return out, nil
}

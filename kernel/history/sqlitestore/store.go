// Package sqlitestore is a SQLite-backed history store.
package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/OnslaughtSnail/caravel/kernel/history"
	"github.com/OnslaughtSnail/caravel/kernel/message"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);
CREATE TABLE IF NOT EXISTS messages (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	payload TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, seq);
`

// Store persists sessions in a SQLite database file. Messages are stored as
// JSON payloads in insertion order.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens or creates the database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("history: open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: ping database: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: enable foreign keys: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: initialize schema: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) GetOrCreate(ctx context.Context, id string) (*history.Session, error) {
	if id == "" {
		return nil, fmt.Errorf("history: session id is empty")
	}
	out := &history.Session{ID: id}
	err := s.db.QueryRowContext(ctx,
		`SELECT title, created_at, updated_at FROM sessions WHERE id = ?`, id,
	).Scan(&out.Title, &out.Created, &out.Updated)
	if err == nil {
		return out, nil
	}
	if err != sql.ErrNoRows {
		return nil, fmt.Errorf("history: load session: %w", err)
	}
	now := s.now().UTC()
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, title, created_at, updated_at) VALUES (?, '', ?, ?)`,
		id, now, now,
	); err != nil {
		return nil, fmt.Errorf("history: create session: %w", err)
	}
	out.Created = now
	out.Updated = now
	return out, nil
}

func (s *Store) AppendMessages(ctx context.Context, id string, msgs ...*message.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("history: begin: %w", err)
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM sessions WHERE id = ?`, id,
	).Scan(&exists); err != nil {
		return fmt.Errorf("history: check session: %w", err)
	}
	if exists == 0 {
		return history.ErrSessionNotFound
	}

	for _, m := range msgs {
		if m == nil {
			return fmt.Errorf("history: message is nil")
		}
		payload, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("history: encode message: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO messages (session_id, payload) VALUES (?, ?)`,
			id, string(payload),
		); err != nil {
			return fmt.Errorf("history: insert message: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE sessions SET updated_at = ? WHERE id = ?`, s.now().UTC(), id,
	); err != nil {
		return fmt.Errorf("history: touch session: %w", err)
	}
	return tx.Commit()
}

func (s *Store) LoadConversation(ctx context.Context, id string) (*message.Conversation, error) {
	var exists int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM sessions WHERE id = ?`, id,
	).Scan(&exists); err != nil {
		return nil, fmt.Errorf("history: check session: %w", err)
	}
	if exists == 0 {
		return nil, history.ErrSessionNotFound
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT payload FROM messages WHERE session_id = ? ORDER BY seq`, id,
	)
	if err != nil {
		return nil, fmt.Errorf("history: list messages: %w", err)
	}
	defer rows.Close()

	convo := message.NewConversation()
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("history: scan message: %w", err)
		}
		var m message.Message
		if err := json.Unmarshal([]byte(payload), &m); err != nil {
			return nil, fmt.Errorf("history: decode message: %w", err)
		}
		convo.Append(&m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: iterate messages: %w", err)
	}
	return convo, nil
}

func (s *Store) SetTitle(ctx context.Context, id, title string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET title = ?, updated_at = ? WHERE id = ?`,
		title, s.now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("history: set title: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("history: affected rows: %w", err)
	}
	if affected == 0 {
		return history.ErrSessionNotFound
	}
	return nil
}

func (s *Store) Sessions(ctx context.Context) ([]*history.Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, created_at, updated_at FROM sessions ORDER BY updated_at DESC, id`,
	)
	if err != nil {
		return nil, fmt.Errorf("history: list sessions: %w", err)
	}
	defer rows.Close()

	var out []*history.Session
	for rows.Next() {
		var s history.Session
		if err := rows.Scan(&s.ID, &s.Title, &s.Created, &s.Updated); err != nil {
			return nil, fmt.Errorf("history: scan session: %w", err)
		}
		out = append(out, &s)
	}
	return out, rows.Err()
}

func (s *Store) Delete(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("history: delete session: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("history: affected rows: %w", err)
	}
	if affected == 0 {
		return history.ErrSessionNotFound
	}
	return nil
}

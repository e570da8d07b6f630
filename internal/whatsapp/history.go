package whatsapp

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// HistoryStore keeps chat messages seen by the client so recent history can
// be served on demand. The network does not offer a "fetch last N messages"
// call for linked devices, so live and history-sync messages land here.
type HistoryStore struct {
	db *sql.DB
}

// OpenHistory opens (or creates) the SQLite history database at path.
func OpenHistory(path string) (*HistoryStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create history dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	s := &HistoryStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	slog.Info("history store opened", "path", path)
	return s, nil
}

func (s *HistoryStore) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS messages (
			chat TEXT NOT NULL,
			id TEXT NOT NULL,
			sender TEXT NOT NULL,
			body TEXT NOT NULL DEFAULT '',
			ts INTEGER NOT NULL,
			from_me INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (chat, id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_chat_ts ON messages(chat, ts)`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt[:min(len(stmt), 60)], err)
		}
	}
	return nil
}

// Record stores a message. Re-recording the same chat/id pair is a no-op.
func (s *HistoryStore) Record(ctx context.Context, m Message) error {
	fromMe := 0
	if m.FromMe {
		fromMe = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO messages (chat, id, sender, body, ts, from_me) VALUES (?, ?, ?, ?, ?, ?)`,
		m.Chat, m.ID, m.From, m.Body, m.Timestamp, fromMe)
	if err != nil {
		return fmt.Errorf("record message: %w", err)
	}
	return nil
}

// Recent returns up to limit of the newest messages in chat, oldest first.
func (s *HistoryStore) Recent(ctx context.Context, chat string, limit int) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, chat, sender, body, ts, from_me FROM messages
		 WHERE chat = ? ORDER BY ts DESC, rowid DESC LIMIT ?`, chat, limit)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		var fromMe int
		if err := rows.Scan(&m.ID, &m.Chat, &m.From, &m.Body, &m.Timestamp, &fromMe); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.FromMe = fromMe != 0
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// HasChat reports whether any message is stored for chat.
func (s *HistoryStore) HasChat(ctx context.Context, chat string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM (SELECT 1 FROM messages WHERE chat = ? LIMIT 1)`, chat).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("lookup chat: %w", err)
	}
	return n > 0, nil
}

// Close closes the database.
func (s *HistoryStore) Close() error {
	return s.db.Close()
}

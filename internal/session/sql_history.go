package session

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"spellcast/internal/db"
	"spellcast/internal/domain"
)

const clearedRole = "__cleared__"

var historySchema = []string{
	`CREATE TABLE IF NOT EXISTS messages (
		seq        INTEGER PRIMARY KEY AUTOINCREMENT,
		channel    TEXT NOT NULL,
		id         TEXT NOT NULL,
		role       TEXT NOT NULL,
		content    TEXT NOT NULL,
		created_at INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_channel ON messages(channel, seq)`,
}

// SQLHistoryStore persists one channel's messages in a SQL table shared by all channels.
type SQLHistoryStore struct {
	db      *sql.DB
	channel string
	timeout time.Duration
}

// NewSQLHistoryStore creates the schema if needed and returns a store for channel.
func NewSQLHistoryStore(ctx context.Context, conn *sql.DB, channel string) (*SQLHistoryStore, error) {
	if conn == nil {
		panic("session: db must not be nil")
	}
	if err := db.Migrate(ctx, conn, historySchema...); err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}
	return &SQLHistoryStore{db: conn, channel: channel, timeout: 5 * time.Second}, nil
}

func (s *SQLHistoryStore) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.timeout)
}

// Append inserts msg.
func (s *SQLHistoryStore) Append(msg domain.Message) error {
	return s.insert(msg.ID, string(msg.Role), msg.Content, msg.Timestamp)
}

// MarkCleared inserts a clear marker row.
func (s *SQLHistoryStore) MarkCleared() error {
	return s.insert("", clearedRole, "", time.Now())
}

func (s *SQLHistoryStore) insert(id, role, content string, at time.Time) error {
	ctx, cancel := s.ctx()
	defer cancel()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (channel, id, role, content, created_at) VALUES (?, ?, ?, ?, ?)`,
		s.channel, id, role, content, at.UnixNano())
	if err != nil {
		return fmt.Errorf("history: insert: %w", err)
	}
	return nil
}

// LoadHistory returns the last n messages after the most recent clear marker, oldest first.
func (s *SQLHistoryStore) LoadHistory(n int) ([]domain.Message, error) {
	if n <= 0 {
		return nil, nil
	}
	ctx, cancel := s.ctx()
	defer cancel()
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, role, content, created_at FROM messages
		WHERE channel = ? AND role != ? AND seq > COALESCE(
			(SELECT MAX(seq) FROM messages WHERE channel = ? AND role = ?), 0)
		ORDER BY seq DESC LIMIT ?`,
		s.channel, clearedRole, s.channel, clearedRole, n)
	if err != nil {
		return nil, fmt.Errorf("history: query: %w", err)
	}
	defer rows.Close()

	var msgs []domain.Message
	for rows.Next() {
		var (
			m    domain.Message
			role string
			at   int64
		)
		if err := rows.Scan(&m.ID, &role, &m.Content, &at); err != nil {
			return nil, fmt.Errorf("history: scan: %w", err)
		}
		m.Role = domain.MessageRole(role)
		m.Timestamp = time.Unix(0, at)
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: rows: %w", err)
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

var _ domain.SessionHistoryStore = (*SQLHistoryStore)(nil)

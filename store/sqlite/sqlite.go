// Package sqlite implements the runtime's ConversationStore using pure-Go
// SQLite. Zero CGO required.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	ziya "github.com/ziya-ai/ziya"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithLogger sets a structured logger.
func WithLogger(l *slog.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// Store implements ziya.ConversationStore backed by a local SQLite file.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ ziya.ConversationStore = (*Store)(nil)

// New creates a Store using a local SQLite file at dbPath. A single shared
// connection serializes all goroutines through one writer, eliminating
// SQLITE_BUSY errors from concurrent writes.
func New(dbPath string, opts ...StoreOption) *Store {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		// sql.Open only fails when the driver is not registered; with the
		// blank import above that never happens.
		panic(fmt.Sprintf("sqlite: open driver: %v", err))
	}
	db.SetMaxOpenConns(1)
	s := &Store{db: db, logger: ziya.NopLogger()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Init creates the schema.
func (s *Store) Init(ctx context.Context) error {
	tables := []string{
		`CREATE TABLE IF NOT EXISTS threads (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			thread_id TEXT NOT NULL REFERENCES threads(id),
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_thread ON messages(thread_id, created_at)`,
	}
	for _, stmt := range tables {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlite: init: %w", err)
		}
	}
	s.logger.Debug("sqlite: store initialized")
	return nil
}

// EnsureThread returns the thread with id, creating it when absent.
func (s *Store) EnsureThread(ctx context.Context, id, title string) (ziya.Thread, error) {
	now := time.Now().Unix()
	var t ziya.Thread
	err := s.db.QueryRowContext(ctx,
		`SELECT id, title, created_at, updated_at FROM threads WHERE id = ?`, id).
		Scan(&t.ID, &t.Title, &t.CreatedAt, &t.UpdatedAt)
	if err == nil {
		return t, nil
	}
	if err != sql.ErrNoRows {
		return ziya.Thread{}, fmt.Errorf("sqlite: ensure thread: %w", err)
	}
	t = ziya.Thread{ID: id, Title: title, CreatedAt: now, UpdatedAt: now}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO threads (id, title, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		t.ID, t.Title, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return ziya.Thread{}, fmt.Errorf("sqlite: create thread: %w", err)
	}
	return t, nil
}

// SaveExchange appends one human/assistant exchange.
func (s *Store) SaveExchange(ctx context.Context, threadID, human, assistant string) error {
	now := time.Now().Unix()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: save exchange: %w", err)
	}
	defer tx.Rollback()

	for i, row := range []struct {
		role, content string
	}{{"user", human}, {"assistant", assistant}} {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO messages (id, thread_id, role, content, created_at) VALUES (?, ?, ?, ?, ?)`,
			ziya.NewID(), threadID, row.role, row.content, now+int64(i)); err != nil {
			return fmt.Errorf("sqlite: save exchange: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE threads SET updated_at = ? WHERE id = ?`, now, threadID); err != nil {
		return fmt.Errorf("sqlite: save exchange: %w", err)
	}
	return tx.Commit()
}

// History returns a thread's exchanges, oldest first.
func (s *Store) History(ctx context.Context, threadID string) (ziya.ChatHistory, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT role, content FROM messages WHERE thread_id = ? ORDER BY rowid`, threadID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: history: %w", err)
	}
	defer rows.Close()

	var history ziya.ChatHistory
	var pending *ziya.HistoryPair
	for rows.Next() {
		var role, content string
		if err := rows.Scan(&role, &content); err != nil {
			return nil, fmt.Errorf("sqlite: history scan: %w", err)
		}
		switch role {
		case "user":
			if pending != nil {
				history = append(history, *pending)
			}
			pending = &ziya.HistoryPair{Human: content}
		case "assistant":
			if pending == nil {
				pending = &ziya.HistoryPair{}
			}
			pending.Assistant = content
			history = append(history, *pending)
			pending = nil
		}
	}
	if pending != nil {
		history = append(history, *pending)
	}
	return history, rows.Err()
}

// Threads lists all threads, most recently updated first.
func (s *Store) Threads(ctx context.Context) ([]ziya.Thread, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, created_at, updated_at FROM threads ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: threads: %w", err)
	}
	defer rows.Close()

	var threads []ziya.Thread
	for rows.Next() {
		var t ziya.Thread
		if err := rows.Scan(&t.ID, &t.Title, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("sqlite: threads scan: %w", err)
		}
		threads = append(threads, t)
	}
	return threads, rows.Err()
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

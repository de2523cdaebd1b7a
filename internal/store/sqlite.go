// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides conversation/history persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS conversations (
			chat_id       TEXT PRIMARY KEY,
			model         TEXT NOT NULL,
			system_prompt TEXT NOT NULL DEFAULT '',
			input_mode    TEXT NOT NULL DEFAULT 'normal',
			created_at    DATETIME NOT NULL,
			updated_at    DATETIME NOT NULL
		);

		CREATE TABLE IF NOT EXISTS history (
			id         TEXT PRIMARY KEY,
			chat_id    TEXT NOT NULL,
			role       TEXT NOT NULL,
			content    TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			FOREIGN KEY (chat_id) REFERENCES conversations(chat_id)
		);

		CREATE INDEX IF NOT EXISTS idx_history_chat_created
			ON history(chat_id, created_at);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	return nil
}

// GetConversation retrieves a conversation by chat ID.
// Returns ErrNotFound if the chat has never been registered.
func (s *SQLiteStore) GetConversation(ctx context.Context, chatID string) (*Conversation, error) {
	var conv Conversation
	var mode string
	err := s.db.QueryRowContext(ctx, `
		SELECT chat_id, model, system_prompt, input_mode, created_at, updated_at
		FROM conversations WHERE chat_id = ?`, chatID,
	).Scan(&conv.ChatID, &conv.Model, &conv.SystemPrompt, &mode, &conv.CreatedAt, &conv.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying conversation: %w", err)
	}
	conv.InputMode = ParseInputMode(mode)
	return &conv, nil
}

// UpsertConversation inserts or replaces a conversation record.
func (s *SQLiteStore) UpsertConversation(ctx context.Context, conv *Conversation) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations (chat_id, model, system_prompt, input_mode, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(chat_id) DO UPDATE SET
			model = excluded.model,
			system_prompt = excluded.system_prompt,
			input_mode = excluded.input_mode,
			updated_at = excluded.updated_at`,
		conv.ChatID, conv.Model, conv.SystemPrompt, conv.InputMode.String(),
		conv.CreatedAt, conv.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upserting conversation: %w", err)
	}
	return nil
}

// SetModel updates the model identifier for a registered conversation.
func (s *SQLiteStore) SetModel(ctx context.Context, chatID, model string) error {
	return s.updateField(ctx, chatID, "model", model)
}

// SetSystemPrompt overwrites the system prompt for a registered conversation.
func (s *SQLiteStore) SetSystemPrompt(ctx context.Context, chatID, prompt string) error {
	return s.updateField(ctx, chatID, "system_prompt", prompt)
}

// SetInputMode updates the input mode for a registered conversation.
func (s *SQLiteStore) SetInputMode(ctx context.Context, chatID string, mode InputMode) error {
	return s.updateField(ctx, chatID, "input_mode", mode.String())
}

func (s *SQLiteStore) updateField(ctx context.Context, chatID, column, value string) error {
	res, err := s.db.ExecContext(ctx,
		fmt.Sprintf("UPDATE conversations SET %s = ?, updated_at = ? WHERE chat_id = ?", column),
		value, time.Now().UTC(), chatID)
	if err != nil {
		return fmt.Errorf("updating %s: %w", column, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// AppendHistory writes all entries in a single transaction. Either every
// entry is persisted or none is.
func (s *SQLiteStore) AppendHistory(ctx context.Context, chatID string, entries []*HistoryEntry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	for _, entry := range entries {
		content, err := json.Marshal(entry.Content)
		if err != nil {
			return fmt.Errorf("encoding content: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO history (id, chat_id, role, content, created_at)
			VALUES (?, ?, ?, ?, ?)`,
			entry.ID, chatID, entry.Role, string(content), entry.CreatedAt); err != nil {
			return fmt.Errorf("inserting history entry: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing history append: %w", err)
	}
	return nil
}

// ListRecentHistory returns at most limit of the newest entries for a chat,
// ordered oldest-first. Older entries beyond the window are excluded.
func (s *SQLiteStore) ListRecentHistory(ctx context.Context, chatID string, limit int) ([]*HistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, chat_id, role, content, created_at
		FROM history WHERE chat_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?`, chatID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying history: %w", err)
	}
	defer rows.Close()

	var entries []*HistoryEntry
	for rows.Next() {
		var entry HistoryEntry
		var content string
		if err := rows.Scan(&entry.ID, &entry.ChatID, &entry.Role, &content, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning history entry: %w", err)
		}
		if err := json.Unmarshal([]byte(content), &entry.Content); err != nil {
			return nil, fmt.Errorf("decoding content for entry %s: %w", entry.ID, err)
		}
		entries = append(entries, &entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating history: %w", err)
	}

	// Query returns newest-first; callers need oldest-first.
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}

// ClearHistory deletes all history entries for a chat. The conversation
// record itself (model, system prompt) is untouched.
func (s *SQLiteStore) ClearHistory(ctx context.Context, chatID string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM history WHERE chat_id = ?", chatID); err != nil {
		return fmt.Errorf("clearing history: %w", err)
	}
	return nil
}

// Close closes the underlying database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

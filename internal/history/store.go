package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"shopassist/internal/domain"

	_ "modernc.org/sqlite"
)

// Fixed storage key for the single voice-settings record per profile.
const voiceSettingsKey = "voice_settings"

// ErrNotFound reports a lookup for a conversation id with no stored record.
var ErrNotFound = errors.New("conversation not found")

// SQLiteStore implements domain.HistoryStore using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Single connection for SQLite
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db, logger: logger}

	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS conversations (
		id          TEXT PRIMARY KEY,
		title       TEXT,
		created_at  DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS messages (
		id              TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
		role            TEXT NOT NULL,
		content         TEXT,
		tool_calls      TEXT,
		created_at      DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_conv ON messages(conversation_id, created_at);

	CREATE TABLE IF NOT EXISTS settings (
		key    TEXT PRIMARY KEY,
		value  TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS preferences (
		key         TEXT PRIMARY KEY,
		value       TEXT NOT NULL,
		updated_at  DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) SaveConversation(ctx context.Context, item domain.ConversationHistoryItem) error {
	if item.Timestamp.IsZero() {
		item.Timestamp = time.Now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO conversations (id, title, created_at) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET title = excluded.title`,
		item.ID, item.Title, item.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("save conversation: %w", err)
	}

	// Messages are append-only, so replacing the set wholesale keeps the
	// stored sequence identical to the in-memory log.
	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE conversation_id = ?`, item.ID); err != nil {
		return fmt.Errorf("clear messages: %w", err)
	}
	for _, m := range item.Messages {
		var toolCalls sql.NullString
		if len(m.ToolCalls) > 0 {
			data, err := json.Marshal(m.ToolCalls)
			if err == nil {
				toolCalls = sql.NullString{String: string(data), Valid: true}
			}
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO messages (id, conversation_id, role, content, tool_calls, created_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			m.ID, item.ID, string(m.Role), m.Content, toolCalls, m.Timestamp,
		)
		if err != nil {
			return fmt.Errorf("save message: %w", err)
		}
	}

	return tx.Commit()
}

func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*domain.ConversationHistoryItem, error) {
	var item domain.ConversationHistoryItem
	err := s.db.QueryRowContext(ctx,
		`SELECT id, title, created_at FROM conversations WHERE id = ?`, id,
	).Scan(&item.ID, &item.Title, &item.Timestamp)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("conversation %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	msgs, err := s.loadMessages(ctx, id)
	if err != nil {
		return nil, err
	}
	item.Messages = msgs
	return &item, nil
}

func (s *SQLiteStore) loadMessages(ctx context.Context, convID string) ([]domain.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, role, content, tool_calls, created_at
		 FROM messages WHERE conversation_id = ?
		 ORDER BY created_at ASC`, convID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []domain.Message
	for rows.Next() {
		var m domain.Message
		var role string
		var toolCalls sql.NullString
		if err := rows.Scan(&m.ID, &role, &m.Content, &toolCalls, &m.Timestamp); err != nil {
			return nil, err
		}
		m.Role = domain.Role(role)
		if toolCalls.Valid && toolCalls.String != "" {
			var calls []domain.ToolCall
			if err := json.Unmarshal([]byte(toolCalls.String), &calls); err == nil {
				m.ToolCalls = calls
			}
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func (s *SQLiteStore) ListConversations(ctx context.Context, limit int) ([]domain.ConversationHistoryItem, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, created_at FROM conversations
		 ORDER BY created_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []domain.ConversationHistoryItem
	for rows.Next() {
		var item domain.ConversationHistoryItem
		if err := rows.Scan(&item.ID, &item.Title, &item.Timestamp); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *SQLiteStore) DeleteConversation(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, id)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `DELETE FROM messages WHERE conversation_id = ?`, id)
	return err
}

func (s *SQLiteStore) DeleteAllConversations(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM messages`); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM conversations`)
	return err
}

func (s *SQLiteStore) LoadVoiceSettings(ctx context.Context) (domain.VoiceSettings, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM settings WHERE key = ?`, voiceSettingsKey,
	).Scan(&raw)
	if err == sql.ErrNoRows {
		return domain.DefaultVoiceSettings(), nil
	}
	if err != nil {
		return domain.DefaultVoiceSettings(), err
	}

	var vs domain.VoiceSettings
	if err := json.Unmarshal([]byte(raw), &vs); err != nil {
		s.logger.Warn("corrupt voice settings record, using defaults", "error", err)
		return domain.DefaultVoiceSettings(), nil
	}
	return vs, nil
}

func (s *SQLiteStore) SaveVoiceSettings(ctx context.Context, vs domain.VoiceSettings) error {
	data, err := json.Marshal(vs)
	if err != nil {
		return fmt.Errorf("marshal voice settings: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO settings (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		voiceSettingsKey, string(data),
	)
	return err
}

func (s *SQLiteStore) SavePreference(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO preferences (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now(),
	)
	return err
}

func (s *SQLiteStore) GetPreferences(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM preferences`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	prefs := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		prefs[k] = v
	}
	return prefs, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

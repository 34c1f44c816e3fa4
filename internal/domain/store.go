package domain

import (
	"context"
	"time"
)

// HistoryStore persists finished conversations, voice settings, and learned
// user preferences. Settings and preferences are read once at startup and
// written on every mutation.
type HistoryStore interface {
	SaveConversation(ctx context.Context, item ConversationHistoryItem) error
	GetConversation(ctx context.Context, id string) (*ConversationHistoryItem, error)
	ListConversations(ctx context.Context, limit int) ([]ConversationHistoryItem, error)
	DeleteConversation(ctx context.Context, id string) error
	DeleteAllConversations(ctx context.Context) error

	LoadVoiceSettings(ctx context.Context) (VoiceSettings, error)
	SaveVoiceSettings(ctx context.Context, vs VoiceSettings) error

	SavePreference(ctx context.Context, key, value string) error
	GetPreferences(ctx context.Context) (map[string]string, error)

	Close() error
}

// ConversationHistoryItem is a saved conversation, independent of the live
// session that produced it.
type ConversationHistoryItem struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Timestamp time.Time `json:"timestamp"`
	Messages  []Message `json:"messages"`
}

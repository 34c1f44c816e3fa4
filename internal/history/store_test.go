package history

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"shopassist/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "history.db"), testLogger())
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func sampleConversation(id string) domain.ConversationHistoryItem {
	base := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)
	return domain.ConversationHistoryItem{
		ID:        id,
		Title:     "laptop shopping",
		Timestamp: base,
		Messages: []domain.Message{
			{ID: id + "-m1", Role: domain.RoleUser, Content: "show me some laptops", Timestamp: base},
			{
				ID: id + "-m2", Role: domain.RoleAssistant, Content: "Here are a few.",
				Timestamp: base.Add(2 * time.Second),
				ToolCalls: []domain.ToolCall{
					{ID: "t1", Name: domain.ToolSearchProducts, Arguments: map[string]any{"query": "laptops"}},
				},
			},
		},
	}
}

func TestConversationRoundtrip(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	if err := store.SaveConversation(ctx, sampleConversation("c1")); err != nil {
		t.Fatalf("SaveConversation: %v", err)
	}

	got, err := store.GetConversation(ctx, "c1")
	if err != nil {
		t.Fatalf("GetConversation: %v", err)
	}
	if got == nil || got.Title != "laptop shopping" {
		t.Fatalf("conversation = %+v", got)
	}
	if len(got.Messages) != 2 {
		t.Fatalf("got %d messages", len(got.Messages))
	}
	if got.Messages[0].Role != domain.RoleUser || got.Messages[1].Role != domain.RoleAssistant {
		t.Fatalf("message order wrong: %+v", got.Messages)
	}
	calls := got.Messages[1].ToolCalls
	if len(calls) != 1 || calls[0].Name != domain.ToolSearchProducts {
		t.Fatalf("tool calls = %+v", calls)
	}
	if calls[0].Arguments["query"] != "laptops" {
		t.Fatalf("tool args = %+v", calls[0].Arguments)
	}
}

func TestSaveConversation_ResaveReplacesMessages(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	item := sampleConversation("c1")
	if err := store.SaveConversation(ctx, item); err != nil {
		t.Fatal(err)
	}

	item.Messages = append(item.Messages, domain.Message{
		ID: "c1-m3", Role: domain.RoleUser, Content: "and the cheapest one?",
		Timestamp: item.Timestamp.Add(10 * time.Second),
	})
	if err := store.SaveConversation(ctx, item); err != nil {
		t.Fatal(err)
	}

	got, err := store.GetConversation(ctx, "c1")
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Messages) != 3 {
		t.Fatalf("got %d messages, want 3 (no duplicates)", len(got.Messages))
	}
}

func TestGetConversation_Missing(t *testing.T) {
	store := testStore(t)
	got, err := store.GetConversation(context.Background(), "nope")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if got != nil {
		t.Fatalf("expected nil item for missing conversation, got %+v", got)
	}
}

func TestListAndDelete(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	for _, id := range []string{"c1", "c2", "c3"} {
		item := sampleConversation(id)
		if err := store.SaveConversation(ctx, item); err != nil {
			t.Fatal(err)
		}
	}

	items, err := store.ListConversations(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 3 {
		t.Fatalf("got %d conversations", len(items))
	}

	if err := store.DeleteConversation(ctx, "c2"); err != nil {
		t.Fatal(err)
	}
	items, _ = store.ListConversations(ctx, 10)
	if len(items) != 2 {
		t.Fatalf("after delete: %d conversations", len(items))
	}

	if err := store.DeleteAllConversations(ctx); err != nil {
		t.Fatal(err)
	}
	items, _ = store.ListConversations(ctx, 10)
	if len(items) != 0 {
		t.Fatalf("after clear: %d conversations", len(items))
	}
}

func TestVoiceSettings(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	// Missing record yields defaults, not an error.
	vs, err := store.LoadVoiceSettings(ctx)
	if err != nil {
		t.Fatalf("LoadVoiceSettings: %v", err)
	}
	if vs != domain.DefaultVoiceSettings() {
		t.Fatalf("defaults = %+v", vs)
	}

	want := domain.VoiceSettings{Rate: 1.2, Pitch: 0.9, Volume: 0.7, ContinuousMode: true, SelectedVoiceID: "nova"}
	if err := store.SaveVoiceSettings(ctx, want); err != nil {
		t.Fatal(err)
	}
	got, err := store.LoadVoiceSettings(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got != want {
		t.Fatalf("settings = %+v, want %+v", got, want)
	}
}

func TestPreferences(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	if err := store.SavePreference(ctx, "budget", "under 1000"); err != nil {
		t.Fatal(err)
	}
	if err := store.SavePreference(ctx, "budget", "under 800"); err != nil {
		t.Fatal(err)
	}
	if err := store.SavePreference(ctx, "style", "minimalist"); err != nil {
		t.Fatal(err)
	}

	prefs, err := store.GetPreferences(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if prefs["budget"] != "under 800" || prefs["style"] != "minimalist" {
		t.Fatalf("preferences = %+v", prefs)
	}
}

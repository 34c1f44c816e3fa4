package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("SHOPASSIST_TEST_KEY", "sk-12345")
	t.Setenv("SHOPASSIST_TEST_EMPTY", "")

	tests := []struct {
		in   string
		want string
	}{
		{"${SHOPASSIST_TEST_KEY}", "sk-12345"},
		{"${SHOPASSIST_TEST_KEY:-fallback}", "sk-12345"},
		{"${SHOPASSIST_TEST_EMPTY:-fallback}", "fallback"},
		{"${SHOPASSIST_TEST_UNSET:-fallback}", "fallback"},
		{"${SHOPASSIST_TEST_UNSET}", "${SHOPASSIST_TEST_UNSET}"},
		{"no variables here", "no variables here"},
		{"prefix-${SHOPASSIST_TEST_KEY}-suffix", "prefix-sk-12345-suffix"},
	}
	for _, tt := range tests {
		if got := ExpandEnvVars(tt.in); got != tt.want {
			t.Fatalf("ExpandEnvVars(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestLoadSaveRoundtrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	cfg := Defaults()
	cfg.General.StoreName = "Roundtrip Store"
	cfg.Channel.Port = 9001
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.General.StoreName != "Roundtrip Store" {
		t.Fatalf("store name = %q", loaded.General.StoreName)
	}
	if loaded.Channel.Port != 9001 {
		t.Fatalf("port = %d", loaded.Channel.Port)
	}
	// Unspecified fields keep their defaults.
	if loaded.Assistant.SuggestionDelayMs != 4000 {
		t.Fatalf("suggestion delay = %d", loaded.Assistant.SuggestionDelayMs)
	}
}

func TestLoad_EnvExpansion(t *testing.T) {
	t.Setenv("SHOPASSIST_TEST_MODEL", "gpt-4o")

	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	raw := `{"completion": {"enabled": true, "apiBase": "https://api.openai.com/v1", "model": "${SHOPASSIST_TEST_MODEL}", "maxTokens": 800}}`
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Completion.Model != "gpt-4o" {
		t.Fatalf("model = %q", cfg.Completion.Model)
	}
}

func TestValidate(t *testing.T) {
	cfg := Defaults()
	if err := Validate(cfg); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}

	cfg.Assistant.SuggestionChance = 1.5
	cfg.Channel.Port = 99999
	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected validation errors")
	}
	for _, want := range []string{"suggestionChance", "channel.port"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("error %q missing %q", err, want)
		}
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.json")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

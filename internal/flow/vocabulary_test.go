package flow

import (
	"os"
	"path/filepath"
	"testing"
)

func TestVocabulary_Match(t *testing.T) {
	v := DefaultVocabulary()

	tests := []struct {
		text string
		cat  string
		ok   bool
	}{
		{"show me some laptops", "laptops", true},
		{"I want a MacBook for work", "laptops", true},
		{"got any running sneakers?", "shoes", true},
		{"nice art on the wall", "", false}, // "smartphones" must not trip on "art"
		{"tell me a joke", "", false},
	}
	for _, tt := range tests {
		cat, ok := v.Match(tt.text)
		if ok != tt.ok || cat != tt.cat {
			t.Fatalf("Match(%q) = %q, %v; want %q, %v", tt.text, cat, ok, tt.cat, tt.ok)
		}
	}
}

func TestVocabulary_MatchTerm(t *testing.T) {
	v := DefaultVocabulary()
	if cat, ok := v.MatchTerm("  Laptops "); !ok || cat != "laptops" {
		t.Fatalf("MatchTerm = %q, %v", cat, ok)
	}
	if _, ok := v.MatchTerm("show me some laptops"); ok {
		t.Fatal("MatchTerm should not match multi-word phrases")
	}
}

func TestLoadVocabulary(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vocab.yaml")
	content := `categories:
  - name: books
    synonyms: [book, novel, novels]
  - name: games
    synonyms: [game, boardgame]
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	v, err := LoadVocabulary(path)
	if err != nil {
		t.Fatalf("LoadVocabulary: %v", err)
	}
	if cat, ok := v.Match("looking for a good novel"); !ok || cat != "books" {
		t.Fatalf("Match = %q, %v", cat, ok)
	}
	names := v.CategoryNames()
	if len(names) != 2 || names[0] != "books" || names[1] != "games" {
		t.Fatalf("names = %v", names)
	}
}

func TestLoadVocabulary_Errors(t *testing.T) {
	if _, err := LoadVocabulary(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}

	empty := filepath.Join(t.TempDir(), "empty.yaml")
	if err := os.WriteFile(empty, []byte("categories: []\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadVocabulary(empty); err == nil {
		t.Fatal("expected error for empty category list")
	}
}

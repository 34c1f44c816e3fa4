package orchestrator

import (
	"strings"
	"testing"

	"shopassist/internal/flow"
)

func TestDomainCheck(t *testing.T) {
	check := NewDomainCheck(flow.DefaultVocabulary())

	tests := []struct {
		name     string
		text     string
		mismatch bool
	}{
		{"off-catalog inquiry", "do you sell dog food", true},
		{"groceries inquiry", "can I buy groceries here", true},
		{"looking for pets", "i'm looking for cat toys", true},
		{"catalog inquiry passes", "do you sell laptops", false},
		{"synonym passes", "do you have any sneakers", false},
		{"comparison exempt", "is this laptop better than a dog at keeping you company", false},
		{"versus exempt", "i want a phone vs a tablet comparison", false},
		{"passing mention", "my dog chewed my charger, do you sell cables", false},
		{"no inquiry pattern", "dogs are great", false},
		{"small talk", "thanks, that's all", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, mismatch := check.Check(tt.text)
			if mismatch != tt.mismatch {
				t.Fatalf("Check(%q) mismatch = %v, want %v", tt.text, mismatch, tt.mismatch)
			}
			if mismatch && !strings.Contains(msg, "phones") {
				t.Fatalf("redirect %q does not list categories", msg)
			}
		})
	}
}

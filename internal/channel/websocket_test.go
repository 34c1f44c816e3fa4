package channel

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"testing"

	"shopassist/internal/bus"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fakeSession struct {
	messages []string
	resets   int
}

func (f *fakeSession) HandleUserMessage(ctx context.Context, text string) {
	f.messages = append(f.messages, text)
}
func (f *fakeSession) NewConversation(ctx context.Context) { f.resets++ }

type fakeVoice struct {
	starts, stops int
	checkout      bool
}

func (f *fakeVoice) StartListening()         { f.starts++ }
func (f *fakeVoice) StopListening()          { f.stops++ }
func (f *fakeVoice) SetCheckoutMode(on bool) { f.checkout = on }

func testServer(session *fakeSession, voice VoiceControls) *Server {
	return NewServer(Config{
		Host:    "127.0.0.1",
		Port:    0,
		Session: session,
		Voice:   voice,
		Bus:     bus.New(4, testLogger()),
		Logger:  testLogger(),
	})
}

func TestHandleFrame(t *testing.T) {
	session := &fakeSession{}
	voice := &fakeVoice{}
	s := testServer(session, voice)
	ctx := context.Background()

	frames := []string{
		`{"type": "message", "text": "show me some laptops"}`,
		`{"type": "listen_start"}`,
		`{"type": "listen_stop"}`,
		`{"type": "checkout_mode", "on": true}`,
		`{"type": "new_conversation"}`,
		`{"type": "telemetry", "text": "ignored"}`,
	}
	for _, raw := range frames {
		var frame inboundFrame
		if err := json.Unmarshal([]byte(raw), &frame); err != nil {
			t.Fatalf("unmarshal %q: %v", raw, err)
		}
		s.handleFrame(ctx, frame)
	}

	if len(session.messages) != 1 || session.messages[0] != "show me some laptops" {
		t.Fatalf("messages = %v", session.messages)
	}
	if voice.starts != 1 || voice.stops != 1 || !voice.checkout {
		t.Fatalf("voice = %+v", voice)
	}
	if session.resets != 1 {
		t.Fatalf("resets = %d", session.resets)
	}
}

func TestHandleFrame_NilVoice(t *testing.T) {
	session := &fakeSession{}
	s := testServer(session, nil)

	// Voice frames on a text-only deployment must not panic.
	s.handleFrame(context.Background(), inboundFrame{Type: "listen_start"})
	s.handleFrame(context.Background(), inboundFrame{Type: "checkout_mode", On: true})
}

package bus

import (
	"log/slog"
	"os"
	"testing"

	"shopassist/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestPublish_FanOut(t *testing.T) {
	b := New(4, testLogger())
	defer b.Close()

	a := b.Subscribe()
	c := b.Subscribe()

	b.Publish(domain.UIEvent{Type: domain.UIEventPanel, Panel: domain.PanelCart})

	for _, sub := range []<-chan domain.UIEvent{a, c} {
		ev := <-sub
		if ev.Type != domain.UIEventPanel || ev.Panel != domain.PanelCart {
			t.Fatalf("event = %+v", ev)
		}
	}
}

func TestPublish_SheddingDoesNotBlock(t *testing.T) {
	b := New(1, testLogger())
	defer b.Close()

	slow := b.Subscribe()
	b.Publish(domain.UIEvent{Type: domain.UIEventAmplitude, Amplitude: 0.1})

	// The buffer is full; further publishes must return without blocking.
	for i := 0; i < 10; i++ {
		b.Publish(domain.UIEvent{Type: domain.UIEventAmplitude, Amplitude: 0.2})
	}

	ev := <-slow
	if ev.Amplitude != 0.1 {
		t.Fatalf("first buffered event = %+v", ev)
	}
}

func TestClose(t *testing.T) {
	b := New(4, testLogger())
	sub := b.Subscribe()
	b.Close()

	if _, ok := <-sub; ok {
		t.Fatal("subscription channel not closed")
	}

	// Publish after close is a logged no-op, Subscribe yields a closed chan.
	b.Publish(domain.UIEvent{Type: domain.UIEventPanel})
	if _, ok := <-b.Subscribe(); ok {
		t.Fatal("post-close subscription should be closed")
	}
}

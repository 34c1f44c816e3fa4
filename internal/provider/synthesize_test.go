package provider

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"shopassist/internal/domain"
)

func utterance(text string) domain.Utterance {
	return domain.Utterance{Text: text, VoiceID: "alloy", Rate: 1}
}

func testSynthesizer(t *testing.T, base string) *Synthesizer {
	t.Helper()
	return NewSynthesizer(SynthesizerConfig{
		APIBase: base,
		APIKey:  "test-key",
		Sink: func(ctx context.Context, audio io.Reader) error {
			_, err := io.Copy(io.Discard, audio)
			return err
		},
		Logger: testLogger(),
	})
}

func TestSpeak_UnsupportedCompletesImmediately(t *testing.T) {
	s := NewSynthesizer(SynthesizerConfig{Logger: testLogger()})
	if s.Supported() {
		t.Fatal("no key and no sink must read as unsupported")
	}

	done := make(chan error, 1)
	s.Speak(context.Background(), utterance("hello"), func(err error) { done <- err })
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("onDone err = %v", err)
		}
	default:
		t.Fatal("onDone must fire synchronously when unsupported")
	}
}

// A new utterance interrupts the one in flight, and the interrupted
// utterance's cleanup must not disturb its replacement.
func TestSpeak_ReplacementSurvivesPredecessor(t *testing.T) {
	firstStarted := make(chan struct{})
	firstDone := make(chan struct{})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req speechRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		switch req.Input {
		case "first":
			close(firstStarted)
			<-r.Context().Done() // hold until the replacement cancels us
		case "second":
			<-firstDone // let the predecessor finish its teardown first
			w.Write([]byte("audio-bytes"))
		}
	}))
	defer srv.Close()

	s := testSynthesizer(t, srv.URL)

	firstErr := make(chan error, 1)
	secondErr := make(chan error, 1)

	s.Speak(context.Background(), utterance("first"), func(err error) { firstErr <- err })
	<-firstStarted

	s.Speak(context.Background(), utterance("second"), func(err error) { secondErr <- err })

	select {
	case err := <-firstErr:
		if err == nil {
			t.Fatal("interrupted utterance should report an error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("interrupted utterance never completed")
	}
	close(firstDone)

	select {
	case err := <-secondErr:
		if err != nil {
			t.Fatalf("replacement utterance failed: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("replacement utterance never completed")
	}
}

func TestCancel_AbortsInFlightUtterance(t *testing.T) {
	started := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Drain the body so the server watches the connection and cancels
		// r.Context() when the canceled client tears it down.
		io.Copy(io.Discard, r.Body)
		close(started)
		<-r.Context().Done()
	}))
	defer srv.Close()

	s := testSynthesizer(t, srv.URL)

	done := make(chan error, 1)
	s.Speak(context.Background(), utterance("long announcement"), func(err error) { done <- err })
	<-started

	s.Cancel()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("canceled utterance should report an error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("utterance never completed after cancel")
	}
}

package provider

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func buildGet(url string) func() (*http.Request, error) {
	return func() (*http.Request, error) {
		return http.NewRequest(http.MethodGet, url, nil)
	}
}

func TestSendWithBackoff_RecoversFromTransientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			http.Error(w, "upstream hiccup", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	resp, err := sendWithBackoff(context.Background(), srv.Client(), buildGet(srv.URL), testLogger())
	if err != nil {
		t.Fatalf("sendWithBackoff: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if got := calls.Load(); got != 3 {
		t.Fatalf("upstream calls = %d, want 3", got)
	}
}

func TestSendWithBackoff_ClientErrorsPassThrough(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad request", http.StatusBadRequest)
	}))
	defer srv.Close()

	resp, err := sendWithBackoff(context.Background(), srv.Client(), buildGet(srv.URL), testLogger())
	if err != nil {
		t.Fatalf("sendWithBackoff: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	// 4xx (other than 429) is the caller's problem, not a transient fault.
	if got := calls.Load(); got != 1 {
		t.Fatalf("upstream calls = %d, want 1", got)
	}
}

func TestSendWithBackoff_GivesUpAfterFinalAttempt(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "down for maintenance", http.StatusInternalServerError)
	}))
	defer srv.Close()

	resp, err := sendWithBackoff(context.Background(), srv.Client(), buildGet(srv.URL), testLogger())
	if err == nil {
		resp.Body.Close()
		t.Fatal("expected an error")
	}
	if got := calls.Load(); got != sendAttempts {
		t.Fatalf("upstream calls = %d, want %d", got, sendAttempts)
	}
	var ue *upstreamError
	if !errors.As(err, &ue) || ue.status != http.StatusInternalServerError {
		t.Fatalf("err = %v", err)
	}
	if !strings.Contains(err.Error(), "down for maintenance") {
		t.Fatalf("error should carry the upstream body: %v", err)
	}
}

func TestSendWithBackoff_ContextCancelStopsWaiting(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "busy", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := sendWithBackoff(ctx, srv.Client(), buildGet(srv.URL), testLogger())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

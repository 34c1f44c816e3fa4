package provider

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"time"
)

const (
	sendAttempts   = 3
	backoffFloor   = 250 * time.Millisecond
	maxErrBodySize = 4 << 10
)

// upstreamError is a retryable status reply, kept with its body so the final
// failure log names what the service actually said.
type upstreamError struct {
	status int
	body   string
}

func (e *upstreamError) Error() string {
	return fmt.Sprintf("upstream status %d: %s", e.status, e.body)
}

// sendWithBackoff issues one logical upstream request, absorbing transient
// failures (network errors, 5xx, 429) with jittered exponential backoff.
// Other statuses pass through as responses for the caller to interpret. An
// upstream that stays down after the final attempt surfaces as an error;
// degrading that into a usable turn is the gateway's job, not the transport's.
func sendWithBackoff(ctx context.Context, client *http.Client, build func() (*http.Request, error), logger *slog.Logger) (*http.Response, error) {
	var lastErr error
	for attempt := 1; ; attempt++ {
		req, err := build()
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}

		resp, err := client.Do(req)
		switch {
		case err != nil:
			lastErr = err
		case resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests:
			body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrBodySize))
			resp.Body.Close()
			lastErr = &upstreamError{status: resp.StatusCode, body: string(body)}
		default:
			return resp, nil
		}

		if attempt == sendAttempts {
			return nil, fmt.Errorf("upstream unavailable after %d attempts: %w", sendAttempts, lastErr)
		}

		wait := backoffFloor << (attempt - 1)
		wait += time.Duration(rand.Int63n(int64(wait))) // jitter, at most doubling
		logger.Warn("upstream attempt failed, backing off", "attempt", attempt, "wait", wait, "error", lastErr)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}
}

package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"shopassist/internal/domain"
)

// SynthesizerConfig configures the text-to-speech client.
type SynthesizerConfig struct {
	APIBase string
	APIKey  string
	Model   string // e.g. "tts-1"
	// Sink receives the synthesized audio stream (a player, a file, a
	// network connection to the storefront client). Nil means synthesis is
	// unsupported and Speak degrades to a no-op per the voice contract.
	Sink   func(ctx context.Context, audio io.Reader) error
	Logger *slog.Logger
}

// Synthesizer implements domain.SpeechSynthesizer over an OpenAI-compatible
// speech endpoint. At most one utterance is in flight; a new Speak cancels
// the previous one.
type Synthesizer struct {
	apiBase string
	apiKey  string
	model   string
	sink    func(ctx context.Context, audio io.Reader) error
	client  *http.Client
	logger  *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	gen    uint64 // identifies the utterance that owns s.cancel
}

func NewSynthesizer(cfg SynthesizerConfig) *Synthesizer {
	if cfg.APIBase == "" {
		cfg.APIBase = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "tts-1"
	}
	return &Synthesizer{
		apiBase: cfg.APIBase,
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		sink:    cfg.Sink,
		client:  newHTTPClient(defaultHTTPTimeout),
		logger:  cfg.Logger,
	}
}

func (s *Synthesizer) Supported() bool {
	return s.apiKey != "" && s.sink != nil
}

// Speak synthesizes the utterance and feeds the audio to the sink. onDone is
// invoked exactly once, with nil on success or the synthesis/playback error.
func (s *Synthesizer) Speak(ctx context.Context, u domain.Utterance, onDone func(err error)) {
	if !s.Supported() {
		if onDone != nil {
			onDone(nil)
		}
		return
	}

	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	uttCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.gen++
	gen := s.gen
	s.mu.Unlock()

	go func() {
		err := s.synthesize(uttCtx, u)
		if err != nil && uttCtx.Err() == nil {
			s.logger.Warn("synthesis failed", "error", err)
		}
		// Only the utterance that still owns s.cancel may clear it;
		// a finished predecessor must not touch its replacement.
		s.mu.Lock()
		if s.gen == gen {
			s.cancel = nil
		}
		s.mu.Unlock()
		cancel()
		if onDone != nil {
			onDone(err)
		}
	}()
}

// Cancel aborts any in-flight utterance.
func (s *Synthesizer) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

type speechRequest struct {
	Model string  `json:"model"`
	Input string  `json:"input"`
	Voice string  `json:"voice"`
	Speed float64 `json:"speed,omitempty"`
}

func (s *Synthesizer) synthesize(ctx context.Context, u domain.Utterance) error {
	voice := u.VoiceID
	if voice == "" {
		voice = "alloy"
	}

	body, err := json.Marshal(speechRequest{
		Model: s.model,
		Input: u.Text,
		Voice: voice,
		Speed: u.Rate,
	})
	if err != nil {
		return fmt.Errorf("marshal speech request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.apiBase+"/audio/speech", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("speech request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("speech error (status %d): %s", resp.StatusCode, string(respBody))
	}

	return s.sink(ctx, resp.Body)
}

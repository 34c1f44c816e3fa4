package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"time"
)

// TranscriberConfig configures the speech-to-text client.
type TranscriberConfig struct {
	APIBase  string // e.g. "https://api.openai.com/v1"
	APIKey   string
	Model    string // e.g. "whisper-1"
	Language string // optional: ISO-639-1 language code
	Logger   *slog.Logger
}

// Transcriber converts captured audio to text using an OpenAI-compatible
// transcription API. It backs the platform speech-capture contract when the
// storefront runs without native recognition support.
type Transcriber struct {
	apiBase  string
	apiKey   string
	model    string
	language string
	client   *http.Client
	logger   *slog.Logger
}

func NewTranscriber(cfg TranscriberConfig) *Transcriber {
	if cfg.APIBase == "" {
		cfg.APIBase = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "whisper-1"
	}
	return &Transcriber{
		apiBase:  cfg.APIBase,
		apiKey:   cfg.APIKey,
		model:    cfg.Model,
		language: cfg.Language,
		client:   newHTTPClient(120 * time.Second),
		logger:   cfg.Logger,
	}
}

// Transcription is the result of one capture session.
type Transcription struct {
	Text     string  `json:"text"`
	Language string  `json:"language,omitempty"`
	Duration float64 `json:"duration,omitempty"`
}

// Transcribe converts audio data to text. filename should include the
// extension (e.g. "capture.ogg") so the API can sniff the container format.
func (t *Transcriber) Transcribe(ctx context.Context, audio io.Reader, filename string) (*Transcription, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, audio); err != nil {
		return nil, fmt.Errorf("copy audio data: %w", err)
	}

	writer.WriteField("model", t.model)
	writer.WriteField("response_format", "json")
	if t.language != "" {
		writer.WriteField("language", t.language)
	}
	writer.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.apiBase+"/audio/transcriptions", &body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+t.apiKey)

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("transcription request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("transcription error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var result Transcription
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode transcription response: %w", err)
	}

	t.logger.Info("transcription complete",
		"text_len", len(result.Text),
		"language", result.Language,
		"duration", result.Duration,
	)

	return &result, nil
}

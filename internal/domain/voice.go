package domain

import "context"

// VoiceSettings is the per-profile voice configuration, loaded once at
// startup and written back whenever any field changes.
type VoiceSettings struct {
	Rate            float64 `json:"rate"`
	Pitch           float64 `json:"pitch"`
	Volume          float64 `json:"volume"`
	ContinuousMode  bool    `json:"continuous_mode"`
	SelectedVoiceID string  `json:"selected_voice_id"`
}

func DefaultVoiceSettings() VoiceSettings {
	return VoiceSettings{Rate: 1.0, Pitch: 1.0, Volume: 1.0}
}

// CaptureEvents are the callbacks a capture session drives. OnEnd fires when
// the platform ends the session on its own, not when Stop is called.
type CaptureEvents struct {
	OnTranscript func(text string)
	OnEnd        func()
	OnError      func(err error)
}

// SpeechCapture is the platform speech-recognition primitive.
type SpeechCapture interface {
	Supported() bool
	Start(ctx context.Context, ev CaptureEvents) error
	Stop()
	// Amplitude returns the current input level in [0, 1] for UI feedback.
	Amplitude() float64
}

// Utterance is one synthesis request with the session's voice settings applied.
type Utterance struct {
	Text    string
	VoiceID string
	Rate    float64
	Pitch   float64
	Volume  float64
}

// SpeechSynthesizer is the platform speech-synthesis primitive. At most one
// utterance is active at a time; Speak replaces any in-flight utterance.
type SpeechSynthesizer interface {
	Supported() bool
	Speak(ctx context.Context, u Utterance, onDone func(err error))
	Cancel()
}

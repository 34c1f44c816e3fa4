package voice

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"shopassist/internal/domain"
	"shopassist/internal/metrics"
)

const (
	captureRestartDelay = time.Second
	listenResumeDelay   = 500 * time.Millisecond
	amplitudeInterval   = 100 * time.Millisecond
)

const unsupportedNotice = "Voice input isn't available on this device, but you can keep typing."

// Controller arbitrates the microphone and the speaker. Listening and
// speaking are mutually exclusive: starting one interrupts the other, and
// nothing here ever blocks waiting for the platform.
type Controller struct {
	capture domain.SpeechCapture
	synth   domain.SpeechSynthesizer
	store   domain.HistoryStore
	bus     domain.UIBus
	logger  *slog.Logger
	ctx     context.Context

	// OnTranscript delivers each final transcript to the orchestrator.
	OnTranscript func(text string)

	mu           sync.Mutex
	settings     domain.VoiceSettings
	listening    bool
	speaking     bool
	checkoutMode bool
	restartTimer *time.Timer
	resumeTimer  *time.Timer
	ampStop      chan struct{}
	speakGen     uint64 // identifies the utterance that owns the speaking flag
	noticeShown  bool
	closed       bool
}

type Config struct {
	Capture domain.SpeechCapture
	Synth   domain.SpeechSynthesizer
	Store   domain.HistoryStore
	Bus     domain.UIBus
	Logger  *slog.Logger
}

func NewController(ctx context.Context, cfg Config) *Controller {
	c := &Controller{
		capture:  cfg.Capture,
		synth:    cfg.Synth,
		store:    cfg.Store,
		bus:      cfg.Bus,
		logger:   cfg.Logger,
		ctx:      ctx,
		settings: domain.DefaultVoiceSettings(),
	}
	if cfg.Store != nil {
		if s, err := cfg.Store.LoadVoiceSettings(ctx); err == nil {
			c.settings = s
		} else {
			cfg.Logger.Warn("voice settings load failed, using defaults", "error", err)
		}
	}
	return c
}

// StartListening begins a capture session. It is a no-op while already
// listening, while speech is playing, while checkout mode is active, or
// after Close; playback keeps the attention resource until it finishes.
func (c *Controller) StartListening() {
	c.mu.Lock()
	if c.closed || c.listening || c.speaking || c.checkoutMode {
		c.mu.Unlock()
		return
	}
	if c.capture == nil || !c.capture.Supported() {
		notify := !c.noticeShown
		c.noticeShown = true
		c.mu.Unlock()
		if notify {
			c.bus.Publish(domain.UIEvent{Type: domain.UIEventNotice, Text: unsupportedNotice})
		}
		return
	}
	c.stopTimersLocked()
	c.listening = true
	c.mu.Unlock()

	err := c.capture.Start(c.ctx, domain.CaptureEvents{
		OnTranscript: c.handleTranscript,
		OnEnd:        c.handleCaptureEnd,
		OnError:      c.handleCaptureError,
	})
	if err != nil {
		c.logger.Error("speech capture start failed", "error", err)
		c.mu.Lock()
		c.listening = false
		c.mu.Unlock()
		return
	}

	c.startAmplitudeLoop()
	c.bus.Publish(domain.UIEvent{Type: domain.UIEventListening, Active: true})
}

// StopListening ends the capture session. Safe to call at any time,
// including when no session is active.
func (c *Controller) StopListening() {
	c.mu.Lock()
	c.stopTimersLocked()
	wasListening := c.listening
	c.listening = false
	c.stopAmplitudeLocked()
	c.mu.Unlock()

	if !wasListening {
		return
	}
	c.capture.Stop()
	c.bus.Publish(domain.UIEvent{Type: domain.UIEventListening, Active: false})
}

// Speak voices an assistant reply. Listening stops first so the microphone
// never records our own output. In continuous mode listening resumes a
// beat after playback finishes.
func (c *Controller) Speak(text string) {
	if text == "" {
		return
	}
	// Claiming the attention resource happens in one critical section:
	// listening clears and speaking raises atomically, so a concurrent
	// StartListening can never interleave between them and raise both.
	c.mu.Lock()
	if c.closed || c.checkoutMode || c.synth == nil || !c.synth.Supported() {
		c.mu.Unlock()
		return
	}
	settings := c.settings
	c.stopTimersLocked()
	wasListening := c.listening
	c.listening = false
	c.stopAmplitudeLocked()
	wasSpeaking := c.speaking
	c.speaking = true
	c.speakGen++
	gen := c.speakGen
	c.mu.Unlock()

	if wasListening {
		c.capture.Stop()
		c.bus.Publish(domain.UIEvent{Type: domain.UIEventListening, Active: false})
	}
	if !wasSpeaking {
		c.bus.Publish(domain.UIEvent{Type: domain.UIEventSpeaking, Active: true})
	}

	u := domain.Utterance{
		Text:    text,
		VoiceID: settings.SelectedVoiceID,
		Rate:    settings.Rate,
		Pitch:   settings.Pitch,
		Volume:  settings.Volume,
	}
	c.synth.Speak(c.ctx, u, func(err error) {
		c.mu.Lock()
		if gen != c.speakGen {
			// A newer utterance replaced this one and owns the flag now.
			c.mu.Unlock()
			return
		}
		c.speaking = false
		resume := err == nil && settings.ContinuousMode && !c.checkoutMode && !c.closed
		if resume {
			c.resumeTimer = time.AfterFunc(listenResumeDelay, c.StartListening)
		}
		c.mu.Unlock()

		c.bus.Publish(domain.UIEvent{Type: domain.UIEventSpeaking, Active: false})
		if err != nil {
			c.logger.Warn("speech synthesis failed", "error", err)
		}
	})
}

// SetCheckoutMode suppresses voice capture while payment details are on
// screen. Turning it on is a hard interrupt: the session and any pending
// restart are cancelled immediately.
func (c *Controller) SetCheckoutMode(on bool) {
	c.mu.Lock()
	c.checkoutMode = on
	c.mu.Unlock()
	if on {
		c.StopListening()
	}
}

// UpdateSettings applies and persists new voice settings.
func (c *Controller) UpdateSettings(s domain.VoiceSettings) {
	c.mu.Lock()
	c.settings = s
	c.mu.Unlock()
	if c.store == nil {
		return
	}
	if err := c.store.SaveVoiceSettings(c.ctx, s); err != nil {
		c.logger.Warn("voice settings save failed", "error", err)
	}
}

func (c *Controller) Settings() domain.VoiceSettings {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.settings
}

func (c *Controller) Listening() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.listening
}

func (c *Controller) Speaking() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.speaking
}

// Close stops everything and cancels pending timers. The controller cannot
// be reused afterwards.
func (c *Controller) Close() {
	c.mu.Lock()
	c.closed = true
	c.speakGen++ // orphan any in-flight utterance callback
	wasSpeaking := c.speaking
	c.speaking = false
	c.mu.Unlock()

	c.StopListening()
	if c.synth != nil {
		c.synth.Cancel()
	}
	if wasSpeaking {
		c.bus.Publish(domain.UIEvent{Type: domain.UIEventSpeaking, Active: false})
	}
}

func (c *Controller) handleTranscript(text string) {
	if text == "" {
		return
	}
	if c.OnTranscript != nil {
		c.OnTranscript(text)
	}
}

// handleCaptureEnd fires when the platform closes the session on its own,
// typically after a silence timeout. Continuous mode restarts it after a
// short delay so back-to-back questions feel natural.
func (c *Controller) handleCaptureEnd() {
	c.mu.Lock()
	c.listening = false
	c.stopAmplitudeLocked()
	restart := c.settings.ContinuousMode && !c.speaking && !c.checkoutMode && !c.closed
	if restart {
		c.restartTimer = time.AfterFunc(captureRestartDelay, func() {
			metrics.VoiceRestarts.Inc()
			c.StartListening()
		})
	}
	c.mu.Unlock()

	c.bus.Publish(domain.UIEvent{Type: domain.UIEventListening, Active: false})
}

func (c *Controller) handleCaptureError(err error) {
	c.logger.Warn("speech capture error", "error", err)
	c.StopListening()
}

// startAmplitudeLoop samples the input level for the waveform widget while
// a capture session is active.
func (c *Controller) startAmplitudeLoop() {
	c.mu.Lock()
	if c.ampStop != nil {
		c.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	c.ampStop = stop
	c.mu.Unlock()

	go func() {
		ticker := time.NewTicker(amplitudeInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				c.bus.Publish(domain.UIEvent{
					Type:      domain.UIEventAmplitude,
					Amplitude: c.capture.Amplitude(),
				})
			}
		}
	}()
}

func (c *Controller) stopAmplitudeLocked() {
	if c.ampStop != nil {
		close(c.ampStop)
		c.ampStop = nil
	}
}

func (c *Controller) stopTimersLocked() {
	if c.restartTimer != nil {
		c.restartTimer.Stop()
		c.restartTimer = nil
	}
	if c.resumeTimer != nil {
		c.resumeTimer.Stop()
		c.resumeTimer = nil
	}
}

package domain

// UIEventType classifies an event sent to the storefront UI.
type UIEventType string

const (
	UIEventPanel      UIEventType = "panel"      // panel switch (Panel field set)
	UIEventSearch     UIEventType = "search"     // active search text changed
	UIEventProduct    UIEventType = "product"    // selected product changed
	UIEventMessage    UIEventType = "message"    // chat message appended
	UIEventSuggestion UIEventType = "suggestion" // delayed suggestion message
	UIEventAmplitude  UIEventType = "amplitude"  // voice capture level sample
	UIEventListening  UIEventType = "listening"  // capture active flag changed
	UIEventSpeaking   UIEventType = "speaking"   // playback active flag changed
	UIEventNotice     UIEventType = "notice"     // one-time compatibility notice
)

// UIEvent is one update pushed to the storefront UI.
type UIEvent struct {
	Type      UIEventType `json:"type"`
	Panel     Panel       `json:"panel,omitempty"`
	Text      string      `json:"text,omitempty"`
	ProductID string      `json:"product_id,omitempty"`
	Message   *Message    `json:"message,omitempty"`
	Amplitude float64     `json:"amplitude,omitempty"`
	Active    bool        `json:"active,omitempty"`
}

// UIBus routes events from the assistant core to whatever UI surface is
// attached. Publishing to a bus with no subscribers is a no-op.
type UIBus interface {
	Publish(ev UIEvent)
	Subscribe() <-chan UIEvent
	Close()
}

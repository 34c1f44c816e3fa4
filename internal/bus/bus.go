package bus

import (
	"log/slog"
	"sync"

	"shopassist/internal/domain"
)

// InMemoryBus is a Go-channel based UI event bus for in-process fan-out.
// Amplitude samples arrive at a high rate, so a slow subscriber sheds events
// instead of blocking the assistant core.
type InMemoryBus struct {
	mu     sync.RWMutex
	subs   []chan domain.UIEvent
	closed bool
	buffer int
	logger *slog.Logger
}

// New creates a new InMemoryBus with the given per-subscriber buffer size.
func New(bufferSize int, logger *slog.Logger) *InMemoryBus {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	return &InMemoryBus{buffer: bufferSize, logger: logger}
}

func (b *InMemoryBus) Publish(ev domain.UIEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		b.logger.Warn("attempted to publish to closed bus", "type", ev.Type)
		return
	}

	for _, sub := range b.subs {
		select {
		case sub <- ev:
		default:
			// Subscriber is not keeping up. Amplitude samples are safe to
			// drop; anything else is worth a log line.
			if ev.Type != domain.UIEventAmplitude {
				b.logger.Warn("ui event dropped: subscriber buffer full", "type", ev.Type)
			}
		}
	}
}

func (b *InMemoryBus) Subscribe() <-chan domain.UIEvent {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan domain.UIEvent, b.buffer)
	if b.closed {
		close(ch)
		return ch
	}
	b.subs = append(b.subs, ch)
	return ch
}

func (b *InMemoryBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for _, sub := range b.subs {
		close(sub)
	}
	b.subs = nil
}

package bus

import (
	"context"
	"sync"
	"time"

	"github.com/frc-grafana/nt-bridge/internal/pkg/errors"
)

// Handler receives messages delivered by a MemoryBus.
type Handler func(ctx context.Context, topic string, msg Message)

// MemoryBus is an in-process transport. It keeps retained messages and
// replays them to late subscribers.
type MemoryBus struct {
	mu         sync.RWMutex
	handlers   map[string][]Handler
	retained   map[string]Message
	closed     bool
	inflightWg sync.WaitGroup // Tracks in-flight handlers for graceful shutdown
}

// NewMemoryBus creates a new in-memory bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{
		handlers: make(map[string][]Handler),
		retained: make(map[string]Message),
	}
}

// Publish delivers msg to all subscribers of topic.
func (b *MemoryBus) Publish(ctx context.Context, topic string, msg Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return errors.New(errors.CodeUnavailable, "bus is closed")
	}

	if msg.Retain {
		b.retained[topic] = msg
	}

	// Fan out to all handlers with in-flight tracking
	for _, handler := range b.handlers[topic] {
		b.inflightWg.Add(1)
		go func(h Handler) {
			defer b.inflightWg.Done()
			h(ctx, topic, msg)
		}(handler)
	}

	return nil
}

// Subscribe registers a handler for topic. A retained message for the topic
// is delivered before Subscribe returns.
func (b *MemoryBus) Subscribe(ctx context.Context, topic string, handler Handler) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return errors.New(errors.CodeUnavailable, "bus is closed")
	}
	b.handlers[topic] = append(b.handlers[topic], handler)
	msg, ok := b.retained[topic]
	b.mu.Unlock()

	if ok {
		handler(ctx, topic, msg)
	}
	return nil
}

// Retained returns the retained message for topic.
func (b *MemoryBus) Retained(topic string) (Message, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	msg, ok := b.retained[topic]
	return msg, ok
}

// Run blocks until ctx is cancelled. The in-process bus has no connection to service.
func (b *MemoryBus) Run(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

// Close closes the bus, waiting for in-flight handlers to complete.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()

	b.DrainTimeout(10 * time.Second)

	b.mu.Lock()
	b.handlers = nil
	b.mu.Unlock()

	return nil
}

// DrainTimeout waits for in-flight handlers to complete with custom timeout.
func (b *MemoryBus) DrainTimeout(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		b.inflightWg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

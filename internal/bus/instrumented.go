package bus

import (
	"context"
	"time"
)

// MetricsRecorder is an interface for recording bus metrics.
// This avoids import cycles with the metrics package.
type MetricsRecorder interface {
	RecordPublish(topic string, latency time.Duration, err error)
}

// InstrumentedBus wraps a Bus implementation with metrics instrumentation.
type InstrumentedBus struct {
	inner   Bus
	metrics MetricsRecorder
}

// NewInstrumentedBus creates a new instrumented bus that records metrics.
func NewInstrumentedBus(inner Bus, metrics MetricsRecorder) *InstrumentedBus {
	return &InstrumentedBus{
		inner:   inner,
		metrics: metrics,
	}
}

// Publish publishes a message and records its latency and outcome.
func (b *InstrumentedBus) Publish(ctx context.Context, topic string, msg Message) error {
	start := time.Now()
	err := b.inner.Publish(ctx, topic, msg)

	if b.metrics != nil {
		b.metrics.RecordPublish(topic, time.Since(start), err)
	}

	return err
}

// Run runs the underlying bus.
func (b *InstrumentedBus) Run(ctx context.Context) error {
	return b.inner.Run(ctx)
}

// Close closes the underlying bus.
func (b *InstrumentedBus) Close() error {
	return b.inner.Close()
}

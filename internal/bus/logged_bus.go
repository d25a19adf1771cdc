package bus

import (
	"context"

	"github.com/frc-grafana/nt-bridge/internal/pkg/logger"
)

// LoggedBus wraps another Bus implementation and traces every publish at
// debug level.
type LoggedBus struct {
	inner Bus
	log   *logger.Logger
}

// NewLoggedBus creates a new logged bus that wraps an inner bus.
func NewLoggedBus(inner Bus, log *logger.Logger) *LoggedBus {
	if log == nil {
		log = logger.Default()
	}
	return &LoggedBus{
		inner: inner,
		log:   log.WithComponent("bus"),
	}
}

// Publish delegates to the inner bus and logs the outcome.
func (b *LoggedBus) Publish(ctx context.Context, topic string, msg Message) error {
	err := b.inner.Publish(ctx, topic, msg)
	if err != nil {
		b.log.Debug("publish failed",
			"topic", topic,
			"payload", msg.Payload,
			"error", err.Error(),
		)
		return err
	}

	b.log.Debug("published",
		"topic", topic,
		"payload", msg.Payload,
		"qos", msg.QoS.String(),
		"retain", msg.Retain,
	)
	return nil
}

// Run delegates to the inner bus.
func (b *LoggedBus) Run(ctx context.Context) error {
	b.log.Debug("transport event loop started")
	defer b.log.Debug("transport event loop stopped")
	return b.inner.Run(ctx)
}

// Close closes the inner bus.
func (b *LoggedBus) Close() error {
	return b.inner.Close()
}

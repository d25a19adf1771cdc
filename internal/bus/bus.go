// Package bus provides the messaging transports telemetry is published to.
package bus

import (
	"context"
)

// QoS is the delivery guarantee requested for a message.
type QoS byte

const (
	AtMostOnce  QoS = 0
	AtLeastOnce QoS = 1
	ExactlyOnce QoS = 2
)

func (q QoS) String() string {
	switch q {
	case AtMostOnce:
		return "at-most-once"
	case AtLeastOnce:
		return "at-least-once"
	case ExactlyOnce:
		return "exactly-once"
	default:
		return "unknown"
	}
}

// Message is a single telemetry value ready for the transport.
type Message struct {
	// Payload is the encoded value.
	Payload string

	// QoS is the requested delivery guarantee.
	QoS QoS

	// Retain asks the transport to keep the latest message per topic and hand
	// it to subscribers that arrive later.
	Retain bool
}

// Bus defines the interface for transport implementations.
// Implementations are safe for concurrent use.
type Bus interface {
	// Publish sends msg to topic.
	Publish(ctx context.Context, topic string, msg Message) error

	// Run services the transport's connection until ctx is cancelled.
	// It must be running for the lifetime of the process.
	Run(ctx context.Context) error

	// Close closes the bus and releases resources.
	Close() error
}

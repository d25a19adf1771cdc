package bus

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/frc-grafana/nt-bridge/internal/pkg/errors"
	"github.com/frc-grafana/nt-bridge/internal/pkg/logger"
)

// MQTTConfig holds MQTT broker settings.
type MQTTConfig struct {
	Host           string        // Broker host
	Port           int           // Broker port
	ClientID       string        // Client identifier
	KeepAlive      time.Duration // Keep-alive interval (default: 5s)
	PublishTimeout time.Duration // Wait for broker acknowledgement (default: 1s)
	BufferSize     int           // Connection event buffer (default: 10)
}

func (c *MQTTConfig) setDefaults() {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 1883
	}
	if c.ClientID == "" {
		c.ClientID = "nt-bridge"
	}
	if c.KeepAlive == 0 {
		c.KeepAlive = 5 * time.Second
	}
	if c.PublishTimeout == 0 {
		c.PublishTimeout = time.Second
	}
	if c.BufferSize <= 0 {
		c.BufferSize = 10
	}
}

// brokerURL returns the tcp:// URL of the broker.
func (c MQTTConfig) brokerURL() string {
	return fmt.Sprintf("tcp://%s:%d", c.Host, c.Port)
}

type connEvent struct {
	connected bool
	err       error
}

// MQTTBus publishes to an MQTT broker. The client connects and reconnects
// in the background; Run reports connection changes.
type MQTTBus struct {
	config MQTTConfig
	client mqtt.Client
	log    *logger.Logger
	events chan connEvent
	closed atomic.Bool
}

// NewMQTTBus creates an MQTT bus and starts connecting. It does not wait for
// the broker: an unreachable broker surfaces as publish errors.
func NewMQTTBus(cfg MQTTConfig, log *logger.Logger) (*MQTTBus, error) {
	cfg.setDefaults()
	if log == nil {
		log = logger.Discard()
	}

	b := &MQTTBus{
		config: cfg,
		log:    log.WithComponent("mqtt"),
		events: make(chan connEvent, cfg.BufferSize),
	}
	b.client = mqtt.NewClient(b.clientOptions())
	b.client.Connect()

	return b, nil
}

// newMQTTBusWithClient wraps an existing client. Used by tests.
func newMQTTBusWithClient(cfg MQTTConfig, client mqtt.Client, log *logger.Logger) *MQTTBus {
	cfg.setDefaults()
	if log == nil {
		log = logger.Discard()
	}
	return &MQTTBus{
		config: cfg,
		client: client,
		log:    log.WithComponent("mqtt"),
		events: make(chan connEvent, cfg.BufferSize),
	}
}

func (b *MQTTBus) clientOptions() *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions().
		AddBroker(b.config.brokerURL()).
		SetClientID(b.config.ClientID).
		SetKeepAlive(b.config.KeepAlive).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(time.Second).
		SetMaxReconnectInterval(10 * time.Second).
		SetOrderMatters(false)

	opts.SetOnConnectHandler(func(mqtt.Client) {
		b.notify(connEvent{connected: true})
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		b.notify(connEvent{err: err})
	})
	return opts
}

// notify posts a connection event without blocking paho's goroutines.
func (b *MQTTBus) notify(ev connEvent) {
	select {
	case b.events <- ev:
	default:
	}
}

// Publish sends msg and waits up to PublishTimeout for the broker to accept it.
func (b *MQTTBus) Publish(ctx context.Context, topic string, msg Message) error {
	if b.closed.Load() {
		return errors.New(errors.CodeUnavailable, "bus is closed")
	}
	if !b.client.IsConnectionOpen() {
		return errors.PublishError(topic, errors.ServiceUnavailableError("mqtt broker"))
	}

	token := b.client.Publish(topic, byte(msg.QoS), msg.Retain, msg.Payload)

	timer := time.NewTimer(b.config.PublishTimeout)
	defer timer.Stop()

	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return errors.PublishError(topic, err)
		}
		return nil
	case <-timer.C:
		return errors.PublishError(topic, errors.TimeoutError("mqtt publish"))
	case <-ctx.Done():
		return errors.PublishError(topic, ctx.Err())
	}
}

// Run logs connection changes until ctx is cancelled.
func (b *MQTTBus) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-b.events:
			if ev.connected {
				b.log.Info("connected to broker", "broker", b.config.brokerURL())
			} else {
				b.log.Warn("broker connection lost", "broker", b.config.brokerURL(), "error", ev.err)
			}
		}
	}
}

// Close disconnects from the broker. It is safe to call more than once.
func (b *MQTTBus) Close() error {
	if b.closed.Swap(true) {
		return nil
	}
	b.client.Disconnect(250)
	return nil
}

package bus

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/frc-grafana/nt-bridge/internal/pkg/errors"
	"github.com/frc-grafana/nt-bridge/internal/pkg/logger"
)

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	URL       string        // redis:// URL
	Prefix    string        // Key prefix for retained values
	KeepAlive time.Duration // Ping interval used by Run (default: 5s)
}

// RedisBus publishes telemetry with Redis pub/sub. Retained messages are
// also written to a key so late readers can fetch the latest value.
type RedisBus struct {
	config  RedisConfig
	client  *redis.Client
	log     *logger.Logger
	healthy atomic.Bool
	closed  atomic.Bool
}

// NewRedisBus creates a Redis bus from a redis:// URL.
func NewRedisBus(cfg RedisConfig, log *logger.Logger) (*RedisBus, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, errors.Wrap(errors.CodeValidation, "invalid redis URL", err)
	}
	return newRedisBusWithClient(cfg, redis.NewClient(opts), log), nil
}

func newRedisBusWithClient(cfg RedisConfig, client *redis.Client, log *logger.Logger) *RedisBus {
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = 5 * time.Second
	}
	if log == nil {
		log = logger.Discard()
	}
	b := &RedisBus{
		config: cfg,
		client: client,
		log:    log.WithComponent("redis"),
	}
	b.healthy.Store(true)
	return b
}

// Key returns the key a retained message for topic is stored under.
func (b *RedisBus) Key(topic string) string {
	return b.config.Prefix + topic
}

// Publish writes the retained value and publishes to the topic channel in
// one round trip.
func (b *RedisBus) Publish(ctx context.Context, topic string, msg Message) error {
	if b.closed.Load() {
		return errors.New(errors.CodeUnavailable, "bus is closed")
	}

	pipe := b.client.Pipeline()
	if msg.Retain {
		pipe.Set(ctx, b.Key(topic), msg.Payload, 0)
	}
	pipe.Publish(ctx, topic, msg.Payload)

	if _, err := pipe.Exec(ctx); err != nil {
		return errors.PublishError(topic, err)
	}
	return nil
}

// Run pings the server every KeepAlive and logs health transitions.
func (b *RedisBus) Run(ctx context.Context) error {
	ticker := time.NewTicker(b.config.KeepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			b.ping(ctx)
		}
	}
}

func (b *RedisBus) ping(ctx context.Context) {
	err := b.client.Ping(ctx).Err()
	if err != nil {
		if b.healthy.Swap(false) {
			b.log.Warn("redis unreachable", "error", err)
		}
		return
	}
	if !b.healthy.Swap(true) {
		b.log.Info("redis reachable again")
	}
}

// Healthy reports whether the last ping succeeded.
func (b *RedisBus) Healthy() bool {
	return b.healthy.Load()
}

// Close closes the client. It is safe to call more than once.
func (b *RedisBus) Close() error {
	if b.closed.Swap(true) {
		return nil
	}
	return b.client.Close()
}

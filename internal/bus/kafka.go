package bus

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"

	"github.com/frc-grafana/nt-bridge/internal/pkg/errors"
	"github.com/frc-grafana/nt-bridge/internal/pkg/logger"
)

// KafkaBus publishes telemetry to a single Kafka topic. The entry topic is
// the record key, so a compacted Kafka topic keeps the latest value per entry.
type KafkaBus struct {
	config   KafkaConfig
	producer sarama.AsyncProducer
	log      *logger.Logger

	mu     sync.RWMutex
	closed bool

	delivered atomic.Int64
	failed    atomic.Int64
}

// KafkaConfig holds Kafka connection settings.
type KafkaConfig struct {
	Brokers        []string      // Kafka broker addresses
	Topic          string        // Kafka topic all telemetry is written to
	ClientID       string        // Client identifier
	Version        string        // Kafka version (e.g., "2.8.0")
	PublishTimeout time.Duration // How long Publish waits for the producer (default: 1s)
	BufferSize     int           // Producer channel buffer (default: 256)
}

func (c *KafkaConfig) setDefaults() {
	if c.ClientID == "" {
		c.ClientID = "nt-bridge"
	}
	if c.Version == "" {
		c.Version = "2.8.0"
	}
	if c.PublishTimeout == 0 {
		c.PublishTimeout = time.Second
	}
	if c.BufferSize <= 0 {
		c.BufferSize = 256
	}
}

func (c KafkaConfig) validate() error {
	if len(c.Brokers) == 0 {
		return errors.New(errors.CodeValidation, "kafka brokers cannot be empty")
	}
	if c.Topic == "" {
		return errors.New(errors.CodeValidation, "kafka topic cannot be empty")
	}
	return nil
}

// saramaConfig builds the producer configuration for at-least-once delivery.
func (c KafkaConfig) saramaConfig() (*sarama.Config, error) {
	version, err := sarama.ParseKafkaVersion(c.Version)
	if err != nil {
		return nil, errors.Wrap(errors.CodeValidation, "invalid kafka version", err)
	}

	kafkaConfig := sarama.NewConfig()
	kafkaConfig.Version = version
	kafkaConfig.ClientID = c.ClientID
	kafkaConfig.ChannelBufferSize = c.BufferSize
	kafkaConfig.Producer.Return.Successes = true
	kafkaConfig.Producer.Return.Errors = true
	kafkaConfig.Producer.Retry.Max = 3
	kafkaConfig.Producer.RequiredAcks = sarama.WaitForAll
	kafkaConfig.Producer.Partitioner = sarama.NewHashPartitioner
	kafkaConfig.Producer.Flush.Frequency = 10 * time.Millisecond
	kafkaConfig.Net.DialTimeout = 10 * time.Second
	kafkaConfig.Net.ReadTimeout = 10 * time.Second
	kafkaConfig.Net.WriteTimeout = 10 * time.Second
	return kafkaConfig, nil
}

// NewKafkaBus creates a Kafka bus connected to the configured brokers.
func NewKafkaBus(cfg KafkaConfig, log *logger.Logger) (*KafkaBus, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg.setDefaults()

	kafkaConfig, err := cfg.saramaConfig()
	if err != nil {
		return nil, err
	}

	producer, err := sarama.NewAsyncProducer(cfg.Brokers, kafkaConfig)
	if err != nil {
		return nil, errors.Wrap(errors.CodeUnavailable, "failed to create kafka producer", err)
	}

	return newKafkaBusWithProducer(cfg, producer, log), nil
}

func newKafkaBusWithProducer(cfg KafkaConfig, producer sarama.AsyncProducer, log *logger.Logger) *KafkaBus {
	cfg.setDefaults()
	if log == nil {
		log = logger.Discard()
	}
	return &KafkaBus{
		config:   cfg,
		producer: producer,
		log:      log.WithComponent("kafka"),
	}
}

// Publish hands msg to the producer. Delivery results arrive on Run.
func (b *KafkaBus) Publish(ctx context.Context, topic string, msg Message) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return errors.New(errors.CodeUnavailable, "bus is closed")
	}

	record := &sarama.ProducerMessage{
		Topic: b.config.Topic,
		Key:   sarama.StringEncoder(topic),
		Value: sarama.StringEncoder(msg.Payload),
		Headers: []sarama.RecordHeader{
			{Key: []byte("qos"), Value: []byte(strconv.Itoa(int(msg.QoS)))},
			{Key: []byte("retain"), Value: []byte(strconv.FormatBool(msg.Retain))},
		},
		Metadata: topic,
	}

	timer := time.NewTimer(b.config.PublishTimeout)
	defer timer.Stop()

	select {
	case b.producer.Input() <- record:
		return nil
	case <-timer.C:
		return errors.PublishError(topic, errors.TimeoutError("kafka producer input"))
	case <-ctx.Done():
		return errors.PublishError(topic, ctx.Err())
	}
}

// Run drains producer acknowledgements and errors until ctx is cancelled.
// The producer blocks if they are not consumed.
func (b *KafkaBus) Run(ctx context.Context) error {
	successes := b.producer.Successes()
	errs := b.producer.Errors()

	for {
		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-successes:
			if !ok {
				successes = nil
				continue
			}
			b.delivered.Add(1)
		case perr, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			b.failed.Add(1)
			topic, _ := perr.Msg.Metadata.(string)
			b.log.Warn("kafka delivery failed", "topic", topic, "error", perr.Err)
		}
		if successes == nil && errs == nil {
			return nil
		}
	}
}

// Delivered returns the number of acknowledged records.
func (b *KafkaBus) Delivered() int64 {
	return b.delivered.Load()
}

// Failed returns the number of records the producer gave up on.
func (b *KafkaBus) Failed() int64 {
	return b.failed.Load()
}

// Close flushes and closes the producer. It is safe to call more than once.
func (b *KafkaBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	b.producer.AsyncClose()
	return nil
}

// ParseKafkaBrokers parses a comma-separated list of Kafka brokers.
func ParseKafkaBrokers(brokersStr string) []string {
	if brokersStr == "" {
		return nil
	}
	brokers := strings.Split(brokersStr, ",")
	for i := range brokers {
		brokers[i] = strings.TrimSpace(brokers[i])
	}
	return brokers
}

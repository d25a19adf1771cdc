package bus

import (
	"fmt"
	"strings"

	"github.com/frc-grafana/nt-bridge/internal/config"
	"github.com/frc-grafana/nt-bridge/internal/pkg/errors"
	"github.com/frc-grafana/nt-bridge/internal/pkg/logger"
)

// NewBus creates a new Bus instance based on the configuration.
func NewBus(cfg config.TransportConfig, log *logger.Logger) (Bus, error) {
	switch strings.ToLower(cfg.Type) {
	case "mqtt", "":
		return NewMQTTBus(MQTTConfig{
			Host:           cfg.Host,
			Port:           cfg.Port,
			ClientID:       cfg.ClientID,
			KeepAlive:      cfg.KeepAlive,
			PublishTimeout: cfg.PublishTimeout,
			BufferSize:     cfg.BufferSize,
		}, log)

	case "kafka":
		brokers := ParseKafkaBrokers(cfg.KafkaBrokers)
		if len(brokers) == 0 {
			return nil, errors.New(errors.CodeValidation, "kafka brokers not configured")
		}

		return NewKafkaBus(KafkaConfig{
			Brokers:        brokers,
			Topic:          cfg.KafkaTopic,
			ClientID:       cfg.ClientID,
			Version:        cfg.KafkaVersion,
			PublishTimeout: cfg.PublishTimeout,
		}, log)

	case "redis":
		return NewRedisBus(RedisConfig{
			URL:       cfg.RedisURL,
			Prefix:    cfg.RedisPrefix,
			KeepAlive: cfg.KeepAlive,
		}, log)

	case "memory":
		return NewMemoryBus(), nil

	default:
		return nil, errors.New(errors.CodeValidation, fmt.Sprintf("unknown transport type: %s", cfg.Type))
	}
}

// MessageOptions returns the QoS and retain flag configured for the transport.
func MessageOptions(cfg config.TransportConfig) (QoS, bool) {
	return QoS(cfg.QoS), cfg.Retain
}

package notification

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"

	"github.com/modelguard/drift-engine/internal/config"
)

// KafkaChannel publishes alert events to a Kafka topic keyed by model so
// downstream consumers see per-model ordering.
type KafkaChannel struct {
	writer *kafka.Writer
}

// NewKafkaChannel builds a channel over the configured brokers.
func NewKafkaChannel(cfg *config.KafkaConfig) *KafkaChannel {
	return &KafkaChannel{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        cfg.AlertTopic,
			Balancer:     &kafka.Hash{},
			WriteTimeout: cfg.WriteTimeout,
			RequiredAcks: kafka.RequireOne,
		},
	}
}

func (c *KafkaChannel) Send(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal alert event: %w", err)
	}
	return c.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.ModelID),
		Value: payload,
	})
}

func (c *KafkaChannel) Name() string { return "kafka" }

// Close releases the underlying writer.
func (c *KafkaChannel) Close() error { return c.writer.Close() }

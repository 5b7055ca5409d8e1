package emitter

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	kafka "github.com/segmentio/kafka-go"

	"github.com/TencentBlueKing/bk-monitor-sub015/internal/logger"
	"github.com/TencentBlueKing/bk-monitor-sub015/pkg/models"
)

// KafkaConfig configures the Kafka event publisher.
type KafkaConfig struct {
	Brokers      []string
	Topic        string
	BatchTimeout time.Duration
	WriteTimeout time.Duration
}

// KafkaEmitter publishes events to a Kafka topic. The message key is the
// event's dedup key so consumers can drop re-deliveries.
type KafkaEmitter struct {
	writer *kafka.Writer
}

// NewKafkaEmitter creates a Kafka emitter.
func NewKafkaEmitter(cfg KafkaConfig) (*KafkaEmitter, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers are required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka topic is required")
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = 100 * time.Millisecond
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		BatchTimeout:           cfg.BatchTimeout,
		WriteTimeout:           cfg.WriteTimeout,
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}

	logger.Infof("Kafka emitter initialized: topic=%s brokers=%v", cfg.Topic, cfg.Brokers)
	return &KafkaEmitter{writer: writer}, nil
}

// Emit publishes one event.
func (e *KafkaEmitter) Emit(ctx context.Context, event *models.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", event.DedupKey(), err)
	}
	msg := kafka.Message{
		Key:   []byte(event.DedupKey()),
		Value: payload,
	}
	if err := e.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish event %s: %w", event.DedupKey(), err)
	}
	return nil
}

// Close closes the Kafka writer.
func (e *KafkaEmitter) Close() error {
	return e.writer.Close()
}

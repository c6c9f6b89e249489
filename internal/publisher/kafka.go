// internal/publisher/kafka.go
package publisher

import (
	"context"
	"fmt"
	"sync"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"dnc-service/internal/config"
	"dnc-service/internal/model"
)

// KafkaSink writes command results to a topic, keyed by command id
type KafkaSink struct {
	config *config.KafkaConfig
	writer *kafka.Writer
	mu     sync.Mutex
	logger *zap.Logger
}

// NewKafkaSink creates a Kafka sink
func NewKafkaSink(cfg *config.KafkaConfig, logger *zap.Logger) *KafkaSink {
	return &KafkaSink{
		config: cfg,
		logger: logger.With(zap.String("component", "kafka-sink")),
	}
}

// Name returns the sink name
func (s *KafkaSink) Name() string {
	return "kafka"
}

// Start creates the writer. Brokers are dialed on the first write.
func (s *KafkaSink) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writer != nil {
		return nil
	}

	s.writer = &kafka.Writer{
		Addr:                   kafka.TCP(s.config.Brokers...),
		Topic:                  s.config.Topic,
		Balancer:               &kafka.LeastBytes{},
		RequiredAcks:           kafka.RequiredAcks(s.config.RequiredAcks),
		BatchTimeout:           s.config.BatchTimeout,
		AllowAutoTopicCreation: true,
	}

	s.logger.Info("Kafka writer created",
		zap.Strings("brokers", s.config.Brokers),
		zap.String("topic", s.config.Topic),
	)
	return nil
}

// Publish writes command results; other events are ignored
func (s *KafkaSink) Publish(ctx context.Context, event model.Event) error {
	msg, ok, err := resultMessage(event)
	if err != nil || !ok {
		return err
	}

	s.mu.Lock()
	writer := s.writer
	s.mu.Unlock()
	if writer == nil {
		return fmt.Errorf("kafka writer not started")
	}

	if err := writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka produce failed: %w", err)
	}
	return nil
}

// Close flushes and closes the writer
func (s *KafkaSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writer == nil {
		return nil
	}
	err := s.writer.Close()
	s.writer = nil
	return err
}

// resultMessage builds the Kafka message for a command result event
func resultMessage(event model.Event) (kafka.Message, bool, error) {
	if event.Type != model.EventCommandResult {
		return kafka.Message{}, false, nil
	}
	result, ok := event.Data.(model.CommandResult)
	if !ok {
		return kafka.Message{}, false, fmt.Errorf("unexpected %s payload %T", event.Type, event.Data)
	}

	value, err := encodeEvent(event)
	if err != nil {
		return kafka.Message{}, false, err
	}

	return kafka.Message{
		Key:   []byte(result.ID),
		Value: value,
		Time:  event.Timestamp,
		Headers: []kafka.Header{
			{Key: "kind", Value: []byte(result.Kind)},
			{Key: "source", Value: []byte(event.Source)},
		},
	}, true, nil
}

package audit

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

const defaultKafkaWriteTimeout = 5 * time.Second

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes events as JSON to a Kafka topic, keyed by user id so
// one user's events stay ordered within a partition. Write failures are
// logged and dropped.
type KafkaSink struct {
	writer  messageWriter
	logger  *slog.Logger
	timeout time.Duration
}

// NewKafkaSink creates a sink writing to topic on brokers. It returns nil
// when brokers or topic is empty; a nil *KafkaSink drops everything.
// Call Close when shutting down.
func NewKafkaSink(brokers []string, topic string, logger *slog.Logger) *KafkaSink {
	if len(brokers) == 0 || topic == "" {
		return nil
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 50 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}
	return newKafkaSink(writer, logger)
}

func newKafkaSink(w messageWriter, logger *slog.Logger) *KafkaSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &KafkaSink{writer: w, logger: logger, timeout: defaultKafkaWriteTimeout}
}

// Emit implements [Sink].
func (s *KafkaSink) Emit(ctx context.Context, event Event) {
	if s == nil || s.writer == nil {
		return
	}
	payload, err := json.Marshal(event)
	if err != nil {
		s.logger.Error("audit: encode event", "event_type", event.EventType, "error", err)
		return
	}

	writeCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	err = s.writer.WriteMessages(writeCtx, kafka.Message{
		Key:   []byte(event.PartitionKey()),
		Value: payload,
		Time:  event.Timestamp,
	})
	if err != nil {
		s.logger.Warn("audit: kafka write failed", "event_type", event.EventType, "error", err)
	}
}

// Close flushes and closes the underlying writer. Safe on a nil sink.
func (s *KafkaSink) Close() error {
	if s == nil || s.writer == nil {
		return nil
	}
	return s.writer.Close()
}

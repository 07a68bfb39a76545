package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// MessageWriter is the subset of kafka.Writer the relay uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaRelay forwards lifecycle events to a Kafka topic keyed by transaction id,
// so every event of one issue lands on the same partition in order.
type KafkaRelay struct {
	writer MessageWriter
	topic  string
	logger *zap.Logger
}

// NewKafkaRelay builds a relay writing to the given brokers.
func NewKafkaRelay(brokers []string, topic string, logger *zap.Logger) (*KafkaRelay, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka relay requires at least one broker")
	}
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		RequiredAcks:           kafka.RequireAll,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
	}
	return NewKafkaRelayWithWriter(writer, topic, logger), nil
}

// NewKafkaRelayWithWriter builds a relay around an existing writer.
func NewKafkaRelayWithWriter(writer MessageWriter, topic string, logger *zap.Logger) *KafkaRelay {
	return &KafkaRelay{writer: writer, topic: topic, logger: logger}
}

// Register subscribes the relay to every lifecycle event.
func (r *KafkaRelay) Register(d Dispatcher) {
	if r == nil || d == nil {
		return
	}
	SubscribeAll(d, r.Handle)
}

// Handle publishes one event. Failures are logged and returned; they never block the issue flow.
func (r *KafkaRelay) Handle(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	err = r.writer.WriteMessages(ctx, kafka.Message{
		Topic: r.topic,
		Key:   []byte(event.TransactionID),
		Value: payload,
		Time:  time.Now().UTC(),
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.Type)},
		},
	})
	if err != nil {
		r.logger.Warn("kafka relay failed",
			zap.String("event_type", string(event.Type)),
			zap.String("transaction_id", event.TransactionID),
			zap.Error(err))
		return err
	}
	return nil
}

// Close flushes and closes the writer.
func (r *KafkaRelay) Close() error {
	if r == nil || r.writer == nil {
		return nil
	}
	return r.writer.Close()
}

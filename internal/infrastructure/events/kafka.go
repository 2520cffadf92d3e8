// Package events delivers ledger movements from the outbox to Kafka.
package events

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"lotledger/internal/infrastructure/storage/postgres"
	"lotledger/pkg/logger"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaHandler publishes outbox messages to a topic, keyed by lot entry so all
// movements of one lot land on the same partition in order.
type KafkaHandler struct {
	writer  messageWriter
	timeout time.Duration
}

var _ postgres.OutboxHandler = (*KafkaHandler)(nil)

// NewKafkaHandler creates a synchronous writer; the relay needs to know
// whether a message was accepted before marking it published.
func NewKafkaHandler(brokers []string, topic string) *KafkaHandler {
	return &KafkaHandler{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireAll,
			AllowAutoTopicCreation: true,
			BatchTimeout:           10 * time.Millisecond,
		},
		timeout: 10 * time.Second,
	}
}

// Handle implements postgres.OutboxHandler.
func (h *KafkaHandler) Handle(ctx context.Context, msg *postgres.OutboxMessage) error {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	err := h.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(msg.EntryID.String()),
		Value: msg.Payload,
		Time:  msg.CreatedAt,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(msg.EventType)},
			{Key: "message_id", Value: []byte(msg.ID.String())},
		},
	})
	if err != nil {
		return fmt.Errorf("kafka write %s: %w", msg.EventType, err)
	}
	return nil
}

// Close flushes and closes the writer.
func (h *KafkaHandler) Close() error {
	return h.writer.Close()
}

// LogHandler acknowledges messages by logging them. Used when no broker is configured.
type LogHandler struct{}

// Handle implements postgres.OutboxHandler.
func (LogHandler) Handle(ctx context.Context, msg *postgres.OutboxMessage) error {
	logger.Debug(ctx, "lot event",
		"event_type", msg.EventType,
		"entry_id", msg.EntryID,
		"message_id", msg.ID,
	)
	return nil
}

package notification

import (
	"context"
	"log/slog"

	"github.com/segmentio/kafka-go"

	"account-transfers/internal/domain"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaNotifier publishes notifications to a Kafka topic keyed by account id,
// so messages for one account stay on one partition.
type KafkaNotifier struct {
	writer messageWriter
	logger *slog.Logger
}

// NewKafkaNotifier creates an asynchronous writer; delivery errors surface in
// the log through the writer's completion callback.
func NewKafkaNotifier(brokers []string, topic string, logger *slog.Logger) *KafkaNotifier {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		Async:        true,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				logger.Warn("Failed to deliver notifications", "topic", topic, "count", len(messages), "error", err)
			}
		},
	}
	return newKafkaNotifier(writer, logger)
}

func newKafkaNotifier(writer messageWriter, logger *slog.Logger) *KafkaNotifier {
	return &KafkaNotifier{
		writer: writer,
		logger: logger,
	}
}

func (n *KafkaNotifier) Notify(accountID string, message string) {
	payload, err := encodeEvent(accountID, message)
	if err != nil {
		n.logger.Error("Failed to encode notification", "account_id", accountID, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	err = n.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(accountID),
		Value: payload,
	})
	if err != nil {
		n.logger.Warn("Failed to publish notification", "account_id", accountID, "error", err)
	}
}

// Close flushes pending messages.
func (n *KafkaNotifier) Close() error {
	return n.writer.Close()
}

var _ domain.Notifier = (*KafkaNotifier)(nil)

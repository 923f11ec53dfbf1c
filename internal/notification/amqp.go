package notification

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"account-transfers/internal/domain"
)

type amqpPublisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// AMQPNotifier publishes notifications as persistent JSON messages on a topic
// exchange.
type AMQPNotifier struct {
	mu         sync.Mutex
	publisher  amqpPublisher
	closers    []io.Closer
	exchange   string
	routingKey string
	logger     *slog.Logger
}

// NewAMQPNotifier connects to the broker and declares the exchange.
func NewAMQPNotifier(url, exchange, routingKey string, logger *slog.Logger) (*AMQPNotifier, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	err = channel.ExchangeDeclare(
		exchange, // name
		"topic",  // type
		true,     // durable
		false,    // auto-deleted
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	)
	if err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	logger.Info("RabbitMQ notifier initialized", "exchange", exchange, "routing_key", routingKey)

	n := newAMQPNotifier(channel, exchange, routingKey, logger)
	n.closers = []io.Closer{channel, conn}
	return n, nil
}

func newAMQPNotifier(publisher amqpPublisher, exchange, routingKey string, logger *slog.Logger) *AMQPNotifier {
	return &AMQPNotifier{
		publisher:  publisher,
		exchange:   exchange,
		routingKey: routingKey,
		logger:     logger,
	}
}

func (n *AMQPNotifier) Notify(accountID string, message string) {
	payload, err := encodeEvent(accountID, message)
	if err != nil {
		n.logger.Error("Failed to encode notification", "account_id", accountID, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	// A channel must not be used for concurrent publishes.
	n.mu.Lock()
	err = n.publisher.PublishWithContext(ctx, n.exchange, n.routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Headers:      amqp.Table{"account_id": accountID},
		Body:         payload,
	})
	n.mu.Unlock()

	if err != nil {
		n.logger.Warn("Failed to publish notification", "account_id", accountID, "error", err)
	}
}

// Close closes the channel and then the connection.
func (n *AMQPNotifier) Close() error {
	var firstErr error
	for _, closer := range n.closers {
		if err := closer.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

var _ domain.Notifier = (*AMQPNotifier)(nil)

package notification

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"account-transfers/internal/config"
	"account-transfers/internal/domain"
)

// Sink is a Notifier that owns a connection to release on shutdown.
type Sink interface {
	domain.Notifier
	io.Closer
}

// New builds the sink selected by cfg.Notifier.
func New(cfg *config.Config, logger *slog.Logger) (Sink, error) {
	switch cfg.Notifier {
	case config.NotifierLog, "":
		return NewLogNotifier(logger), nil
	case config.NotifierNone:
		return NopNotifier{}, nil
	case config.NotifierKafka:
		if len(cfg.Kafka.Brokers) == 0 {
			return nil, fmt.Errorf("kafka notifier requires at least one broker")
		}
		return NewKafkaNotifier(cfg.Kafka.Brokers, cfg.Kafka.Topic, logger), nil
	case config.NotifierAMQP:
		n, err := NewAMQPNotifier(cfg.AMQP.URL, cfg.AMQP.Exchange, cfg.AMQP.RoutingKey, logger)
		if err != nil {
			return nil, err
		}
		return n, nil
	case config.NotifierRedis:
		client := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
		return NewRedisNotifier(client, cfg.Redis.Channel, logger), nil
	default:
		return nil, fmt.Errorf("unknown notifier %q", cfg.Notifier)
	}
}

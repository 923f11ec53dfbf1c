package notification

import (
	"context"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"account-transfers/internal/domain"
)

// RedisNotifier publishes notifications on a Redis pub/sub channel.
type RedisNotifier struct {
	client  redis.UniversalClient
	channel string
	logger  *slog.Logger
}

func NewRedisNotifier(client redis.UniversalClient, channel string, logger *slog.Logger) *RedisNotifier {
	return &RedisNotifier{
		client:  client,
		channel: channel,
		logger:  logger,
	}
}

func (n *RedisNotifier) Notify(accountID string, message string) {
	payload, err := encodeEvent(accountID, message)
	if err != nil {
		n.logger.Error("Failed to encode notification", "account_id", accountID, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	if err := n.client.Publish(ctx, n.channel, payload).Err(); err != nil {
		n.logger.Warn("Failed to publish notification", "account_id", accountID, "channel", n.channel, "error", err)
	}
}

func (n *RedisNotifier) Close() error {
	return n.client.Close()
}

var _ domain.Notifier = (*RedisNotifier)(nil)

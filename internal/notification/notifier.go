// Package notification delivers post-transfer messages to account holders.
//
// Every sink is fire-and-forget: delivery failures are logged and never
// reported back to the transfer that triggered them.
package notification

import (
	"encoding/json"
	"log/slog"
	"time"

	"account-transfers/internal/domain"
)

// publishTimeout bounds a single delivery attempt.
const publishTimeout = 5 * time.Second

// Event is the payload published by the broker-backed sinks.
type Event struct {
	AccountID string    `json:"account_id"`
	Message   string    `json:"message"`
	SentAt    time.Time `json:"sent_at"`
}

func encodeEvent(accountID, message string) ([]byte, error) {
	return json.Marshal(Event{
		AccountID: accountID,
		Message:   message,
		SentAt:    time.Now().UTC(),
	})
}

// LogNotifier writes notifications to the structured log.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(accountID string, message string) {
	n.logger.Info("Notification sent", "account_id", accountID, "message", message)
}

func (n *LogNotifier) Close() error { return nil }

// NopNotifier drops every notification.
type NopNotifier struct{}

func (NopNotifier) Notify(string, string) {}

func (NopNotifier) Close() error { return nil }

var (
	_ domain.Notifier = (*LogNotifier)(nil)
	_ domain.Notifier = NopNotifier{}
)

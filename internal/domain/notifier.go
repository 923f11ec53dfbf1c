package domain

// Notifier receives post-transfer messages. Delivery is best effort: the
// engine does not wait on or inspect the outcome.
type Notifier interface {
	Notify(accountID string, message string)
}

package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const TransactionStatusCompleted = "completed"

// TransferResult is what the engine reports for a completed transfer. The
// balances are the values written while both locks were held.
type TransferResult struct {
	SourceAccountID      string
	DestinationAccountID string
	Amount               decimal.Decimal
	SourceBalance        decimal.Decimal
	DestinationBalance   decimal.Decimal
}

type Transaction struct {
	ID                   uuid.UUID       `json:"id"`
	SourceAccountID      string          `json:"source_account_id"`
	DestinationAccountID string          `json:"destination_account_id"`
	Amount               decimal.Decimal `json:"amount"`
	IdempotencyKey       *uuid.UUID      `json:"idempotency_key,omitempty"`
	Status               string          `json:"status"`
	CreatedAt            time.Time       `json:"created_at"`
	UpdatedAt            time.Time       `json:"updated_at"`
}

type TransactionRepository interface {
	CreateTransaction(tx *Transaction) error
	GetTransactionByID(id uuid.UUID) (*Transaction, error)
	GetTransactionByIdempotencyKey(key uuid.UUID) (*Transaction, error)
}

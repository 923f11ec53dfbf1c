package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

type Account struct {
	ID        string          `json:"account_id"`
	Balance   decimal.Decimal `json:"balance"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// LockHandle guards a single account's balance. Lock blocks until the handle
// is held or ctx is done; on failure nothing is held.
type LockHandle interface {
	Lock(ctx context.Context) error
	Unlock()
}

// AccountStore holds accounts and exactly one LockHandle per account id.
// GetAccount never takes the account lock; SetBalance must only be called
// while holding it.
type AccountStore interface {
	CreateAccount(account *Account) error
	GetAccount(id string) (*Account, error)
	ListAccounts() []*Account
	SetBalance(id string, balance decimal.Decimal) error
	GetOrCreateLock(id string) LockHandle
}

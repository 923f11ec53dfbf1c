// Package transfer moves funds between two accounts of an AccountStore.
//
// Each transfer locks both accounts in a fixed order (ascending account id),
// validates, mutates both balances, releases the locks and only then notifies.
// Transfers over disjoint account pairs run in parallel; transfers sharing an
// account are serialized by that account's lock. The engine never logs: every
// outcome is returned to the caller.
package transfer

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"account-transfers/internal/domain"
	"account-transfers/internal/errors"
)

// DestinationCheck inspects the destination account while both locks are
// held. A non-nil error rejects the transfer before any balance changes.
type DestinationCheck func(destination *domain.Account) error

type Option func(*Engine)

// WithLockTimeout bounds the time spent waiting for both account locks.
// Zero or negative means wait indefinitely.
func WithLockTimeout(timeout time.Duration) Option {
	return func(e *Engine) {
		e.lockTimeout = timeout
	}
}

func WithDestinationCheck(check DestinationCheck) Option {
	return func(e *Engine) {
		e.destinationCheck = check
	}
}

type Engine struct {
	store            domain.AccountStore
	notifier         domain.Notifier
	lockTimeout      time.Duration
	destinationCheck DestinationCheck
}

// NewEngine builds an engine over store. A nil notifier disables notifications.
func NewEngine(store domain.AccountStore, notifier domain.Notifier, opts ...Option) *Engine {
	e := &Engine{
		store:    store,
		notifier: notifier,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Transfer moves amount from sourceID to destID. On any error no balance has
// changed. ctx only governs lock acquisition: once both locks are held the
// transfer runs to completion.
func (e *Engine) Transfer(ctx context.Context, sourceID, destID string, amount decimal.Decimal) (*domain.TransferResult, error) {
	if !amount.IsPositive() {
		return nil, errors.ErrInvalidAmount
	}
	if sourceID == destID {
		return nil, errors.ErrSameAccountTransfer
	}

	unlock, err := e.lockPair(ctx, sourceID, destID)
	if err != nil {
		return nil, err
	}

	result, err := e.apply(sourceID, destID, amount)
	unlock()
	if err != nil {
		return nil, err
	}

	e.notify(result)
	return result, nil
}

// lockPair acquires the locks of both accounts, lesser id first, and returns
// a function releasing them in reverse order.
func (e *Engine) lockPair(ctx context.Context, sourceID, destID string) (func(), error) {
	firstID, secondID := sourceID, destID
	if destID < sourceID {
		firstID, secondID = destID, sourceID
	}

	first := e.store.GetOrCreateLock(firstID)
	second := e.store.GetOrCreateLock(secondID)

	if e.lockTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.lockTimeout)
		defer cancel()
	}

	if err := first.Lock(ctx); err != nil {
		return nil, errors.LockWaitError(err, fmt.Sprintf("account %s: %v", firstID, err))
	}

	// A store running in single-lock mode hands out one handle for every id.
	if first == second {
		return first.Unlock, nil
	}

	if err := second.Lock(ctx); err != nil {
		first.Unlock()
		return nil, errors.LockWaitError(err, fmt.Sprintf("account %s: %v", secondID, err))
	}

	return func() {
		second.Unlock()
		first.Unlock()
	}, nil
}

// apply validates and mutates both balances. Callers must hold both locks.
func (e *Engine) apply(sourceID, destID string, amount decimal.Decimal) (*domain.TransferResult, error) {
	source, err := e.store.GetAccount(sourceID)
	if err != nil {
		return nil, errors.ErrAccountNotFound.WithDetails("source account " + sourceID)
	}
	destination, err := e.store.GetAccount(destID)
	if err != nil {
		return nil, errors.ErrAccountNotFound.WithDetails("destination account " + destID)
	}

	if e.destinationCheck != nil {
		if err := e.destinationCheck(destination); err != nil {
			return nil, err
		}
	}

	sourceBalance := source.Balance.Sub(amount)
	if sourceBalance.IsNegative() {
		return nil, errors.NewAppErrorf(errors.InsufficientFunds, "insufficient funds in account %s", sourceID)
	}
	destinationBalance := destination.Balance.Add(amount)

	if err := e.store.SetBalance(sourceID, sourceBalance); err != nil {
		return nil, fmt.Errorf("debit account %s: %w", sourceID, err)
	}
	if err := e.store.SetBalance(destID, destinationBalance); err != nil {
		// Put the source back so the failed transfer leaves no trace.
		if restoreErr := e.store.SetBalance(sourceID, source.Balance); restoreErr != nil {
			return nil, fmt.Errorf("credit account %s: %w (restoring %s: %v)", destID, err, sourceID, restoreErr)
		}
		return nil, fmt.Errorf("credit account %s: %w", destID, err)
	}

	return &domain.TransferResult{
		SourceAccountID:      sourceID,
		DestinationAccountID: destID,
		Amount:               amount,
		SourceBalance:        sourceBalance,
		DestinationBalance:   destinationBalance,
	}, nil
}

func (e *Engine) notify(result *domain.TransferResult) {
	if e.notifier == nil {
		return
	}

	e.notifier.Notify(result.SourceAccountID, DebitMessage(result))
	e.notifier.Notify(result.DestinationAccountID, CreditMessage(result))
}

// DebitMessage is the notification text sent to the source account holder.
func DebitMessage(result *domain.TransferResult) string {
	return fmt.Sprintf("Dear account holder! %s has been debited from account %s and credited to account %s. Available balance: %s",
		result.Amount, result.SourceAccountID, result.DestinationAccountID, result.SourceBalance)
}

// CreditMessage is the notification text sent to the destination account holder.
func CreditMessage(result *domain.TransferResult) string {
	return fmt.Sprintf("Dear account holder! %s has been credited to account %s from account %s. Available balance: %s",
		result.Amount, result.DestinationAccountID, result.SourceAccountID, result.DestinationBalance)
}

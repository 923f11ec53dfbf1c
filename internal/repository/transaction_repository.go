package repository

import (
	"database/sql"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"account-transfers/internal/domain"
	"account-transfers/internal/errors"
)

type transactionRepository struct {
	db     SQLExecutor
	logger *slog.Logger
}

// NewTransactionRepository returns a Postgres-backed TransactionRepository.
func NewTransactionRepository(db SQLExecutor, logger *slog.Logger) domain.TransactionRepository {
	return &transactionRepository{
		db:     db,
		logger: logger,
	}
}

func (r *transactionRepository) CreateTransaction(tx *domain.Transaction) error {
	query := `
		INSERT INTO transactions
		(id, source_account_id, destination_account_id, amount, idempotency_key, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	now := time.Now().UTC()

	var idempotencyKey interface{}
	if tx.IdempotencyKey != nil {
		idempotencyKey = tx.IdempotencyKey.String()
	}

	_, err := r.db.Exec(
		query,
		tx.ID,
		tx.SourceAccountID,
		tx.DestinationAccountID,
		tx.Amount.String(),
		idempotencyKey,
		tx.Status,
		now,
		now,
	)

	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok {
			if pqErr.Code == "23505" && pqErr.Constraint == "idx_transactions_idempotency_key" {
				r.logger.Warn("Duplicate idempotency key", "idempotency_key", tx.IdempotencyKey)
				return errors.ErrDuplicateTransaction
			}
		}
		r.logger.Error("Failed to create transaction",
			"source_account_id", tx.SourceAccountID,
			"destination_account_id", tx.DestinationAccountID,
			"amount", tx.Amount,
			"error", err)
		return errors.NewAppError(errors.InternalError, "failed to create transaction").WithDetails(err.Error())
	}

	tx.CreatedAt = now
	tx.UpdatedAt = now
	r.logger.Info("Transaction created successfully", "transaction_id", tx.ID)
	return nil
}

func (r *transactionRepository) GetTransactionByID(id uuid.UUID) (*domain.Transaction, error) {
	query := `
		SELECT id, source_account_id, destination_account_id, amount, idempotency_key, status, created_at, updated_at
		FROM transactions WHERE id = $1
	`

	return r.scanTransaction(query, id)
}

func (r *transactionRepository) GetTransactionByIdempotencyKey(key uuid.UUID) (*domain.Transaction, error) {
	query := `
		SELECT id, source_account_id, destination_account_id, amount, idempotency_key, status, created_at, updated_at
		FROM transactions WHERE idempotency_key = $1
	`

	return r.scanTransaction(query, key)
}

// scanTransaction returns nil, nil when no row matches.
func (r *transactionRepository) scanTransaction(query string, arg interface{}) (*domain.Transaction, error) {
	var transaction domain.Transaction
	var amountStr string
	var idempotencyKey sql.NullString

	err := r.db.QueryRow(query, arg).Scan(
		&transaction.ID,
		&transaction.SourceAccountID,
		&transaction.DestinationAccountID,
		&amountStr,
		&idempotencyKey,
		&transaction.Status,
		&transaction.CreatedAt,
		&transaction.UpdatedAt,
	)

	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		r.logger.Error("Failed to get transaction", "arg", arg, "error", err)
		return nil, errors.NewAppError(errors.InternalError, "failed to get transaction").WithDetails(err.Error())
	}

	amount, err := decimal.NewFromString(amountStr)
	if err != nil {
		return nil, errors.NewAppError(errors.InternalError, "failed to parse amount").WithDetails(err.Error())
	}
	transaction.Amount = amount

	if idempotencyKey.Valid {
		key, err := uuid.Parse(idempotencyKey.String)
		if err != nil {
			return nil, errors.NewAppError(errors.InternalError, "failed to parse idempotency key").WithDetails(err.Error())
		}
		transaction.IdempotencyKey = &key
	}

	return &transaction, nil
}

// memoryTransactionRepository keeps transaction records in process memory.
type memoryTransactionRepository struct {
	mu    sync.RWMutex
	byID  map[uuid.UUID]domain.Transaction
	byKey map[uuid.UUID]uuid.UUID
}

// NewMemoryTransactionRepository returns an in-process TransactionRepository.
func NewMemoryTransactionRepository() domain.TransactionRepository {
	return &memoryTransactionRepository{
		byID:  make(map[uuid.UUID]domain.Transaction),
		byKey: make(map[uuid.UUID]uuid.UUID),
	}
}

func (r *memoryTransactionRepository) CreateTransaction(tx *domain.Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if tx.IdempotencyKey != nil {
		if _, exists := r.byKey[*tx.IdempotencyKey]; exists {
			return errors.ErrDuplicateTransaction
		}
	}

	now := time.Now().UTC()
	tx.CreatedAt = now
	tx.UpdatedAt = now

	stored := *tx
	if tx.IdempotencyKey != nil {
		key := *tx.IdempotencyKey
		stored.IdempotencyKey = &key
		r.byKey[key] = tx.ID
	}
	r.byID[tx.ID] = stored
	return nil
}

func (r *memoryTransactionRepository) GetTransactionByID(id uuid.UUID) (*domain.Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stored, exists := r.byID[id]
	if !exists {
		return nil, nil
	}
	return copyTransaction(stored), nil
}

func (r *memoryTransactionRepository) GetTransactionByIdempotencyKey(key uuid.UUID) (*domain.Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, exists := r.byKey[key]
	if !exists {
		return nil, nil
	}
	return copyTransaction(r.byID[id]), nil
}

func copyTransaction(stored domain.Transaction) *domain.Transaction {
	if stored.IdempotencyKey != nil {
		key := *stored.IdempotencyKey
		stored.IdempotencyKey = &key
	}
	return &stored
}

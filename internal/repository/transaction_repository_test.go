package repository

import (
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"account-transfers/internal/domain"
	"account-transfers/internal/errors"
)

func newTransaction(key *uuid.UUID) *domain.Transaction {
	return &domain.Transaction{
		ID:                   uuid.New(),
		SourceAccountID:      "alice",
		DestinationAccountID: "bob",
		Amount:               decimal.RequireFromString("12.34"),
		IdempotencyKey:       key,
		Status:               domain.TransactionStatusCompleted,
	}
}

func TestMemoryTransactionRepository_CreateAndLookup(t *testing.T) {
	repo := NewMemoryTransactionRepository()
	key := uuid.New()
	tx := newTransaction(&key)

	require.NoError(t, repo.CreateTransaction(tx))
	assert.False(t, tx.CreatedAt.IsZero())

	byID, err := repo.GetTransactionByID(tx.ID)
	require.NoError(t, err)
	require.NotNil(t, byID)
	assert.Equal(t, tx.ID, byID.ID)
	assert.True(t, byID.Amount.Equal(tx.Amount))
	assert.Equal(t, key, *byID.IdempotencyKey)

	byKey, err := repo.GetTransactionByIdempotencyKey(key)
	require.NoError(t, err)
	require.NotNil(t, byKey)
	assert.Equal(t, tx.ID, byKey.ID)
}

func TestMemoryTransactionRepository_Missing(t *testing.T) {
	repo := NewMemoryTransactionRepository()

	byID, err := repo.GetTransactionByID(uuid.New())
	assert.NoError(t, err)
	assert.Nil(t, byID)

	byKey, err := repo.GetTransactionByIdempotencyKey(uuid.New())
	assert.NoError(t, err)
	assert.Nil(t, byKey)
}

func TestMemoryTransactionRepository_DuplicateIdempotencyKey(t *testing.T) {
	repo := NewMemoryTransactionRepository()
	key := uuid.New()

	require.NoError(t, repo.CreateTransaction(newTransaction(&key)))
	err := repo.CreateTransaction(newTransaction(&key))
	assert.ErrorIs(t, err, errors.ErrDuplicateTransaction)
}

func TestMemoryTransactionRepository_WithoutKey(t *testing.T) {
	repo := NewMemoryTransactionRepository()

	require.NoError(t, repo.CreateTransaction(newTransaction(nil)))
	require.NoError(t, repo.CreateTransaction(newTransaction(nil)))
}

func TestMemoryTransactionRepository_ReturnsCopies(t *testing.T) {
	repo := NewMemoryTransactionRepository()
	key := uuid.New()
	tx := newTransaction(&key)
	require.NoError(t, repo.CreateTransaction(tx))

	got, err := repo.GetTransactionByID(tx.ID)
	require.NoError(t, err)
	got.Status = "tampered"
	*got.IdempotencyKey = uuid.New()

	again, err := repo.GetTransactionByID(tx.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionStatusCompleted, again.Status)
	assert.Equal(t, key, *again.IdempotencyKey)
}

package service

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"account-transfers/internal/domain"
	"account-transfers/internal/errors"
	"account-transfers/internal/repository"
	"account-transfers/internal/transfer"
)

type TransactionService struct {
	engine          *transfer.Engine
	transactionRepo domain.TransactionRepository
	keyLocks        *repository.LockRegistry
	logger          *slog.Logger
}

func NewTransactionService(
	engine *transfer.Engine,
	transactionRepo domain.TransactionRepository,
	logger *slog.Logger,
) *TransactionService {
	return &TransactionService{
		engine:          engine,
		transactionRepo: transactionRepo,
		keyLocks:        repository.NewLockRegistry(),
		logger:          logger,
	}
}

type TransferRequest struct {
	SourceAccountID      string
	DestinationAccountID string
	Amount               decimal.Decimal
	IdempotencyKey       *uuid.UUID
}

// Transfer moves funds and records the completed transaction. A request whose
// idempotency key was already used returns the recorded transaction without
// moving funds again.
func (s *TransactionService) Transfer(ctx context.Context, req *TransferRequest) (*domain.Transaction, error) {
	s.logger.Info("Processing transfer",
		"source_account_id", req.SourceAccountID,
		"destination_account_id", req.DestinationAccountID,
		"amount", req.Amount,
		"idempotency_key", req.IdempotencyKey)

	sourceID, err := normalizeAccountID(req.SourceAccountID)
	if err != nil {
		return nil, err
	}
	destID, err := normalizeAccountID(req.DestinationAccountID)
	if err != nil {
		return nil, err
	}
	if err := checkAmountSize(req.Amount); err != nil {
		return nil, err
	}

	if req.IdempotencyKey != nil {
		// Requests sharing a key run one at a time, so only the first moves money.
		keyLock := s.keyLocks.Get(req.IdempotencyKey.String())
		if err := keyLock.Lock(ctx); err != nil {
			return nil, errors.LockWaitError(err, fmt.Sprintf("idempotency key %s: %v", req.IdempotencyKey, err))
		}
		defer keyLock.Unlock()

		existingTx, err := s.transactionRepo.GetTransactionByIdempotencyKey(*req.IdempotencyKey)
		if err != nil {
			return nil, err
		}
		if existingTx != nil {
			s.logger.Info("Returning existing transaction for idempotency key",
				"idempotency_key", req.IdempotencyKey,
				"transaction_id", existingTx.ID)
			return existingTx, nil
		}
	}

	result, err := s.engine.Transfer(ctx, sourceID, destID, req.Amount)
	if err != nil {
		s.logFailure(err, sourceID, destID, req.Amount)
		return nil, err
	}

	transaction := &domain.Transaction{
		ID:                   uuid.New(),
		SourceAccountID:      result.SourceAccountID,
		DestinationAccountID: result.DestinationAccountID,
		Amount:               result.Amount,
		IdempotencyKey:       req.IdempotencyKey,
		Status:               domain.TransactionStatusCompleted,
	}

	if err := s.transactionRepo.CreateTransaction(transaction); err != nil {
		// Funds have already moved; the transfer stands without its record.
		s.logger.Error("Failed to record completed transfer",
			"transaction_id", transaction.ID,
			"source_account_id", sourceID,
			"destination_account_id", destID,
			"amount", req.Amount,
			"error", err)
		now := time.Now().UTC()
		transaction.CreatedAt = now
		transaction.UpdatedAt = now
	}

	s.logger.Info("Transfer completed successfully",
		"transaction_id", transaction.ID,
		"source_balance", result.SourceBalance,
		"destination_balance", result.DestinationBalance)
	return transaction, nil
}

func (s *TransactionService) GetTransaction(transactionID string) (*domain.Transaction, error) {
	id, err := uuid.Parse(transactionID)
	if err != nil {
		return nil, errors.NewAppError(errors.InvalidInput, "invalid transaction id").WithDetails(err.Error())
	}

	transaction, err := s.transactionRepo.GetTransactionByID(id)
	if err != nil {
		return nil, err
	}
	if transaction == nil {
		return nil, errors.ErrTransactionNotFound
	}
	return transaction, nil
}

// logFailure logs rejected transfers at warn and unexpected failures at error.
func (s *TransactionService) logFailure(err error, sourceID, destID string, amount decimal.Decimal) {
	var appErr *errors.AppError
	if stderrors.As(err, &appErr) && appErr.HTTPStatus() < 500 {
		s.logger.Warn("Transfer rejected",
			"source_account_id", sourceID,
			"destination_account_id", destID,
			"amount", amount,
			"error", err)
		return
	}
	s.logger.Error("Transfer failed",
		"source_account_id", sourceID,
		"destination_account_id", destID,
		"amount", amount,
		"error", err)
}

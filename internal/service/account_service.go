package service

import (
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"

	"account-transfers/internal/domain"
	"account-transfers/internal/errors"
)

const (
	maxAccountIDLength = 64

	// Amounts must fit the NUMERIC(24, 8) transaction column.
	maxAmountScale         = 8
	maxAmountIntegerDigits = 16
)

var (
	maxInitialBalance = decimal.NewFromInt(10_000_000_000) // 10 billion
	maxAmount         = decimal.New(1, maxAmountIntegerDigits)
)

type AccountService struct {
	store  domain.AccountStore
	logger *slog.Logger
}

func NewAccountService(store domain.AccountStore, logger *slog.Logger) *AccountService {
	return &AccountService{
		store:  store,
		logger: logger,
	}
}

func (s *AccountService) CreateAccount(accountID string, initialBalance decimal.Decimal) (*domain.Account, error) {
	s.logger.Info("Creating account", "account_id", accountID, "initial_balance", initialBalance)

	id, err := normalizeAccountID(accountID)
	if err != nil {
		return nil, err
	}

	if initialBalance.IsNegative() {
		return nil, errors.NewAppError(errors.InvalidAmount, "initial balance must not be negative")
	}

	if err := checkAmountSize(initialBalance); err != nil {
		return nil, err
	}

	if initialBalance.GreaterThan(maxInitialBalance) {
		return nil, errors.NewAppError(errors.InvalidAmount, "initial balance exceeds maximum limit")
	}

	account := &domain.Account{
		ID:      id,
		Balance: initialBalance,
	}

	if err := s.store.CreateAccount(account); err != nil {
		return nil, err
	}

	return account, nil
}

func (s *AccountService) GetAccount(accountID string) (*domain.Account, error) {
	s.logger.Debug("Getting account", "account_id", accountID)

	id, err := normalizeAccountID(accountID)
	if err != nil {
		return nil, err
	}

	return s.store.GetAccount(id)
}

func (s *AccountService) ListAccounts() []*domain.Account {
	return s.store.ListAccounts()
}

// normalizeAccountID trims surrounding whitespace and enforces the id limits.
func normalizeAccountID(accountID string) (string, error) {
	id := strings.TrimSpace(accountID)
	if id == "" {
		return "", errors.NewAppError(errors.InvalidAccountID, "account id must not be empty")
	}
	if len(id) > maxAccountIDLength {
		return "", errors.NewAppErrorf(errors.InvalidAccountID, "account id must be at most %d characters", maxAccountIDLength)
	}
	return id, nil
}

// checkAmountSize rejects amounts with more than eight decimal places or
// sixteen integer digits. It only inspects the exponent before comparing, so
// values such as 1e-2000000 are refused without big-number arithmetic.
func checkAmountSize(amount decimal.Decimal) error {
	if amount.IsZero() {
		return nil
	}
	if amount.Exponent() < -maxAmountScale {
		return errors.NewAppErrorf(errors.InvalidAmount, "amount must have at most %d decimal places", maxAmountScale)
	}
	if amount.Exponent() >= maxAmountIntegerDigits || amount.Abs().GreaterThanOrEqual(maxAmount) {
		return errors.NewAppErrorf(errors.InvalidAmount, "amount must have at most %d integer digits", maxAmountIntegerDigits)
	}
	return nil
}

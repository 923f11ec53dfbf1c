package repository

import (
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"account-transfers/internal/domain"
	"account-transfers/internal/errors"
)

// accountSlot holds the current immutable value of one account. Writers swap
// in a new value; readers load it without locking.
type accountSlot struct {
	current atomic.Pointer[domain.Account]
}

// MemoryAccountStore is the in-process account registry.
type MemoryAccountStore struct {
	mu       sync.RWMutex
	accounts map[string]*accountSlot
	locks    *LockRegistry
	logger   *slog.Logger
}

// NewMemoryAccountStore creates a store with one lock per account.
func NewMemoryAccountStore(logger *slog.Logger) *MemoryAccountStore {
	return newMemoryAccountStore(NewLockRegistry(), logger)
}

// NewSingleLockAccountStore creates a store where all accounts share one lock,
// serializing every transfer.
func NewSingleLockAccountStore(logger *slog.Logger) *MemoryAccountStore {
	return newMemoryAccountStore(NewSingleLockRegistry(), logger)
}

func newMemoryAccountStore(locks *LockRegistry, logger *slog.Logger) *MemoryAccountStore {
	return &MemoryAccountStore{
		accounts: make(map[string]*accountSlot),
		locks:    locks,
		logger:   logger,
	}
}

func (s *MemoryAccountStore) CreateAccount(account *domain.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.accounts[account.ID]; exists {
		s.logger.Warn("Duplicate account creation attempt", "account_id", account.ID)
		return errors.ErrDuplicateAccount
	}

	now := time.Now().UTC()
	stored := *account
	stored.CreatedAt = now
	stored.UpdatedAt = now

	slot := &accountSlot{}
	slot.current.Store(&stored)
	s.accounts[account.ID] = slot

	account.CreatedAt = now
	account.UpdatedAt = now

	s.logger.Info("Account created successfully", "account_id", account.ID)
	return nil
}

// GetAccount returns a snapshot of the account. The caller may keep or modify
// it freely.
func (s *MemoryAccountStore) GetAccount(id string) (*domain.Account, error) {
	slot := s.slot(id)
	if slot == nil {
		return nil, errors.ErrAccountNotFound
	}

	snapshot := *slot.current.Load()
	return &snapshot, nil
}

func (s *MemoryAccountStore) ListAccounts() []*domain.Account {
	s.mu.RLock()
	accounts := make([]*domain.Account, 0, len(s.accounts))
	for _, slot := range s.accounts {
		snapshot := *slot.current.Load()
		accounts = append(accounts, &snapshot)
	}
	s.mu.RUnlock()

	sort.Slice(accounts, func(i, j int) bool {
		return accounts[i].ID < accounts[j].ID
	})
	return accounts
}

// SetBalance publishes a new balance for the account. The account's lock must
// be held by the caller.
func (s *MemoryAccountStore) SetBalance(id string, balance decimal.Decimal) error {
	slot := s.slot(id)
	if slot == nil {
		return errors.ErrAccountNotFound
	}

	next := *slot.current.Load()
	next.Balance = balance
	next.UpdatedAt = time.Now().UTC()
	slot.current.Store(&next)
	return nil
}

func (s *MemoryAccountStore) GetOrCreateLock(id string) domain.LockHandle {
	return s.locks.Get(id)
}

// TotalBalance sums every account balance. It is only exact when no transfer
// is in flight.
func (s *MemoryAccountStore) TotalBalance() decimal.Decimal {
	total := decimal.Zero
	for _, account := range s.ListAccounts() {
		total = total.Add(account.Balance)
	}
	return total
}

func (s *MemoryAccountStore) slot(id string) *accountSlot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.accounts[id]
}

var _ domain.AccountStore = (*MemoryAccountStore)(nil)

package transfer_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"account-transfers/internal/domain"
	apperrors "account-transfers/internal/errors"
	"account-transfers/internal/repository"
	"account-transfers/internal/transfer"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type notification struct {
	accountID string
	message   string
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []notification
}

func (n *recordingNotifier) Notify(accountID string, message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, notification{accountID: accountID, message: message})
}

func (n *recordingNotifier) all() []notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notification(nil), n.sent...)
}

func newStore(t *testing.T, balances map[string]int64) *repository.MemoryAccountStore {
	t.Helper()
	store := repository.NewMemoryAccountStore(discardLogger())
	seed(t, store, balances)
	return store
}

func seed(t *testing.T, store *repository.MemoryAccountStore, balances map[string]int64) {
	t.Helper()
	for id, balance := range balances {
		require.NoError(t, store.CreateAccount(&domain.Account{ID: id, Balance: decimal.NewFromInt(balance)}))
	}
}

func balanceOf(t *testing.T, store domain.AccountStore, id string) decimal.Decimal {
	t.Helper()
	account, err := store.GetAccount(id)
	require.NoError(t, err)
	return account.Balance
}

func assertBalance(t *testing.T, store domain.AccountStore, id string, expected string) {
	t.Helper()
	actual := balanceOf(t, store, id)
	assert.True(t, decimal.RequireFromString(expected).Equal(actual),
		"account %s: expected %s, got %s", id, expected, actual)
}

// within fails the test if fn does not return before the deadline.
func within(t *testing.T, d time.Duration, fn func()) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		defer close(done)
		fn()
	}()
	select {
	case <-done:
	case <-time.After(d):
		t.Fatalf("did not finish within %v, transfers are likely deadlocked", d)
	}
}

func TestTransfer_SequentialTransfers(t *testing.T) {
	store := newStore(t, map[string]int64{"source": 9000, "dest": 3000})
	engine := transfer.NewEngine(store, nil)

	_, err := engine.Transfer(context.Background(), "source", "dest", decimal.NewFromInt(2000))
	require.NoError(t, err)
	assertBalance(t, store, "source", "7000")
	assertBalance(t, store, "dest", "5000")

	_, err = engine.Transfer(context.Background(), "source", "dest", decimal.NewFromInt(500))
	require.NoError(t, err)
	assertBalance(t, store, "source", "6500")
	assertBalance(t, store, "dest", "5500")
}

func TestTransfer_ReturnsSnapshotBalances(t *testing.T) {
	store := newStore(t, map[string]int64{"source": 9000, "dest": 3000})
	engine := transfer.NewEngine(store, nil)

	result, err := engine.Transfer(context.Background(), "source", "dest", decimal.RequireFromString("0.10"))
	require.NoError(t, err)

	assert.Equal(t, "source", result.SourceAccountID)
	assert.Equal(t, "dest", result.DestinationAccountID)
	assert.True(t, result.SourceBalance.Equal(decimal.RequireFromString("8999.90")))
	assert.True(t, result.DestinationBalance.Equal(decimal.RequireFromString("3000.10")))
}

func TestTransfer_ExactDecimalArithmetic(t *testing.T) {
	store := newStore(t, map[string]int64{"a": 1, "b": 0})
	engine := transfer.NewEngine(store, nil)

	tenth := decimal.RequireFromString("0.1")
	for i := 0; i < 10; i++ {
		_, err := engine.Transfer(context.Background(), "a", "b", tenth)
		require.NoError(t, err)
	}

	assertBalance(t, store, "a", "0")
	assertBalance(t, store, "b", "1")

	_, err := engine.Transfer(context.Background(), "a", "b", decimal.RequireFromString("0.0000001"))
	assert.ErrorIs(t, err, apperrors.ErrInsufficientFunds)
}

func TestTransfer_DrainsAccountToZero(t *testing.T) {
	store := newStore(t, map[string]int64{"a": 500, "b": 0})
	engine := transfer.NewEngine(store, nil)

	_, err := engine.Transfer(context.Background(), "a", "b", decimal.NewFromInt(500))
	require.NoError(t, err)
	assertBalance(t, store, "a", "0")
	assertBalance(t, store, "b", "500")
}

func TestTransfer_Rejections(t *testing.T) {
	tests := []struct {
		name        string
		source      string
		dest        string
		amount      decimal.Decimal
		expectedErr error
	}{
		{name: "zero amount", source: "source", dest: "dest", amount: decimal.Zero, expectedErr: apperrors.ErrInvalidAmount},
		{name: "negative amount", source: "source", dest: "dest", amount: decimal.NewFromInt(-100), expectedErr: apperrors.ErrInvalidAmount},
		{name: "same account", source: "source", dest: "source", amount: decimal.NewFromInt(100), expectedErr: apperrors.ErrSameAccountTransfer},
		{name: "missing source", source: "ghost", dest: "dest", amount: decimal.NewFromInt(100), expectedErr: apperrors.ErrAccountNotFound},
		{name: "missing destination", source: "source", dest: "ghost", amount: decimal.NewFromInt(100), expectedErr: apperrors.ErrAccountNotFound},
		{name: "insufficient funds", source: "source", dest: "dest", amount: decimal.NewFromInt(4000), expectedErr: apperrors.ErrInsufficientFunds},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newStore(t, map[string]int64{"source": 3000, "dest": 1000})
			notifier := &recordingNotifier{}
			engine := transfer.NewEngine(store, notifier)

			result, err := engine.Transfer(context.Background(), tt.source, tt.dest, tt.amount)

			assert.Nil(t, result)
			assert.ErrorIs(t, err, tt.expectedErr)
			assertBalance(t, store, "source", "3000")
			assertBalance(t, store, "dest", "1000")
			assert.Empty(t, notifier.all())
		})
	}
}

func TestTransfer_InvalidRequestsTakeNoLocks(t *testing.T) {
	store := newStore(t, map[string]int64{"source": 3000})
	engine := transfer.NewEngine(store, nil)

	// Hold the only lock that could be involved; rejected requests must not wait on it.
	lock := store.GetOrCreateLock("source")
	require.NoError(t, lock.Lock(context.Background()))
	defer lock.Unlock()

	within(t, time.Second, func() {
		_, err := engine.Transfer(context.Background(), "source", "source", decimal.NewFromInt(1))
		assert.ErrorIs(t, err, apperrors.ErrSameAccountTransfer)

		_, err = engine.Transfer(context.Background(), "source", "other", decimal.Zero)
		assert.ErrorIs(t, err, apperrors.ErrInvalidAmount)
	})
}

func TestTransfer_ConcurrentSameDirection(t *testing.T) {
	store := newStore(t, map[string]int64{"source": 90000, "dest": 20000})
	engine := transfer.NewEngine(store, nil)

	within(t, 10*time.Second, func() {
		var wg sync.WaitGroup
		for w := 0; w < 2; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := 0; i < 100; i++ {
					_, err := engine.Transfer(context.Background(), "source", "dest", decimal.NewFromInt(100))
					assert.NoError(t, err)
				}
			}()
		}
		wg.Wait()
	})

	assertBalance(t, store, "source", "70000")
	assertBalance(t, store, "dest", "40000")
}

func TestTransfer_ConcurrentOppositeDirections(t *testing.T) {
	store := newStore(t, map[string]int64{"source": 90000, "dest": 20000})
	engine := transfer.NewEngine(store, nil)

	within(t, 10*time.Second, func() {
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				_, err := engine.Transfer(context.Background(), "source", "dest", decimal.NewFromInt(100))
				assert.NoError(t, err)
			}
		}()
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				_, err := engine.Transfer(context.Background(), "dest", "source", decimal.NewFromInt(100))
				assert.NoError(t, err)
			}
		}()
		wg.Wait()
	})

	assertBalance(t, store, "source", "85000")
	assertBalance(t, store, "dest", "25000")
}

func TestTransfer_ConservesFundsUnderContention(t *testing.T) {
	ids := []string{"acc-a", "acc-b", "acc-c", "acc-d", "acc-e"}
	balances := make(map[string]int64, len(ids))
	for _, id := range ids {
		balances[id] = 1000
	}
	store := newStore(t, balances)
	engine := transfer.NewEngine(store, nil)
	initial := store.TotalBalance()

	stop := make(chan struct{})
	var observer sync.WaitGroup
	observer.Add(1)
	go func() {
		defer observer.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			for _, id := range ids {
				account, err := store.GetAccount(id)
				if assert.NoError(t, err) {
					assert.False(t, account.Balance.IsNegative(), "observed negative balance on %s", id)
				}
			}
		}
	}()

	within(t, 20*time.Second, func() {
		var wg sync.WaitGroup
		for w := 0; w < 8; w++ {
			wg.Add(1)
			go func(worker int) {
				defer wg.Done()
				for i := 0; i < 300; i++ {
					source := ids[(worker+i)%len(ids)]
					dest := ids[(worker+2*i+1)%len(ids)]
					amount := decimal.NewFromInt(int64(1 + (i*7+worker)%250))
					_, err := engine.Transfer(context.Background(), source, dest, amount)
					if err != nil {
						assert.True(t,
							errorIsAny(err, apperrors.ErrInsufficientFunds, apperrors.ErrSameAccountTransfer),
							"unexpected error: %v", err)
					}
				}
			}(w)
		}
		wg.Wait()
	})

	close(stop)
	observer.Wait()

	assert.True(t, initial.Equal(store.TotalBalance()), "expected total %s, got %s", initial, store.TotalBalance())
	for _, id := range ids {
		assert.False(t, balanceOf(t, store, id).IsNegative())
	}
}

func TestTransfer_SingleLockStore(t *testing.T) {
	store := repository.NewSingleLockAccountStore(discardLogger())
	seed(t, store, map[string]int64{"source": 90000, "dest": 20000, "other": 0})
	engine := transfer.NewEngine(store, nil)

	within(t, 10*time.Second, func() {
		var wg sync.WaitGroup
		wg.Add(3)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				_, err := engine.Transfer(context.Background(), "source", "dest", decimal.NewFromInt(100))
				assert.NoError(t, err)
			}
		}()
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				_, err := engine.Transfer(context.Background(), "dest", "source", decimal.NewFromInt(100))
				assert.NoError(t, err)
			}
		}()
		go func() {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				_, err := engine.Transfer(context.Background(), "source", "other", decimal.NewFromInt(10))
				assert.NoError(t, err)
			}
		}()
		wg.Wait()
	})

	assertBalance(t, store, "source", "84900")
	assertBalance(t, store, "dest", "25000")
	assertBalance(t, store, "other", "100")
}

func TestTransfer_LockTimeout(t *testing.T) {
	store := newStore(t, map[string]int64{"source": 3000, "dest": 1000})
	engine := transfer.NewEngine(store, nil, transfer.WithLockTimeout(50*time.Millisecond))

	// "dest" sorts first, so the engine takes it and then waits on "source".
	lock := store.GetOrCreateLock("source")
	require.NoError(t, lock.Lock(context.Background()))

	_, err := engine.Transfer(context.Background(), "source", "dest", decimal.NewFromInt(100))
	assert.ErrorIs(t, err, apperrors.ErrLockTimeout)
	assertBalance(t, store, "source", "3000")
	assertBalance(t, store, "dest", "1000")

	// The lock acquired before the timeout must have been released.
	destLock := store.GetOrCreateLock("dest")
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, destLock.Lock(ctx))
	destLock.Unlock()

	lock.Unlock()
	_, err = engine.Transfer(context.Background(), "source", "dest", decimal.NewFromInt(100))
	require.NoError(t, err)
	assertBalance(t, store, "source", "2900")
	assertBalance(t, store, "dest", "1100")
}

func TestTransfer_CancelledBeforeLockAcquisition(t *testing.T) {
	store := newStore(t, map[string]int64{"source": 3000, "dest": 1000})
	engine := transfer.NewEngine(store, nil)

	lock := store.GetOrCreateLock("source")
	require.NoError(t, lock.Lock(context.Background()))
	defer lock.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := engine.Transfer(ctx, "source", "dest", decimal.NewFromInt(100))
	assert.ErrorIs(t, err, apperrors.ErrRequestCancelled)
	assert.NotErrorIs(t, err, apperrors.ErrLockTimeout)
	assertBalance(t, store, "source", "3000")

	// "dest" sorts first and was already held; it must have been released.
	destLock := store.GetOrCreateLock("dest")
	lockCtx, lockCancel := context.WithTimeout(context.Background(), time.Second)
	defer lockCancel()
	require.NoError(t, destLock.Lock(lockCtx))
	destLock.Unlock()
}

func TestTransfer_DestinationCheck(t *testing.T) {
	frozen := apperrors.NewAppError(apperrors.InvalidAccountID, "destination account is frozen")
	store := newStore(t, map[string]int64{"source": 3000, "frozen": 0, "open": 0})
	engine := transfer.NewEngine(store, nil, transfer.WithDestinationCheck(func(dest *domain.Account) error {
		if dest.ID == "frozen" {
			return frozen
		}
		return nil
	}))

	_, err := engine.Transfer(context.Background(), "source", "frozen", decimal.NewFromInt(100))
	assert.ErrorIs(t, err, frozen)
	assertBalance(t, store, "source", "3000")
	assertBalance(t, store, "frozen", "0")

	_, err = engine.Transfer(context.Background(), "source", "open", decimal.NewFromInt(100))
	require.NoError(t, err)
	assertBalance(t, store, "open", "100")
}

func TestTransfer_NotifiesDebitThenCredit(t *testing.T) {
	store := newStore(t, map[string]int64{"source": 9000, "dest": 3000})
	notifier := &recordingNotifier{}
	engine := transfer.NewEngine(store, notifier)

	_, err := engine.Transfer(context.Background(), "source", "dest", decimal.NewFromInt(2000))
	require.NoError(t, err)

	sent := notifier.all()
	require.Len(t, sent, 2)
	assert.Equal(t, "source", sent[0].accountID)
	assert.Contains(t, sent[0].message, "2000 has been debited")
	assert.Contains(t, sent[0].message, "Available balance: 7000")
	assert.Equal(t, "dest", sent[1].accountID)
	assert.Contains(t, sent[1].message, "2000 has been credited")
	assert.Contains(t, sent[1].message, "Available balance: 5000")
}

// lockProbeNotifier checks, from inside Notify, that the account lock is free.
type lockProbeNotifier struct {
	store    domain.AccountStore
	released []bool
}

func (n *lockProbeNotifier) Notify(accountID string, _ string) {
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	lock := n.store.GetOrCreateLock(accountID)
	if err := lock.Lock(ctx); err != nil {
		n.released = append(n.released, false)
		return
	}
	lock.Unlock()
	n.released = append(n.released, true)
}

func TestTransfer_NotifiesAfterReleasingLocks(t *testing.T) {
	store := newStore(t, map[string]int64{"source": 9000, "dest": 3000})
	notifier := &lockProbeNotifier{store: store}
	engine := transfer.NewEngine(store, notifier)

	_, err := engine.Transfer(context.Background(), "source", "dest", decimal.NewFromInt(1))
	require.NoError(t, err)
	assert.Equal(t, []bool{true, true}, notifier.released)
}

// orderRecordingStore records the order in which account locks are taken and released.
type orderRecordingStore struct {
	*repository.MemoryAccountStore
	mu     sync.Mutex
	events []string
}

type recordingLock struct {
	id    string
	inner domain.LockHandle
	store *orderRecordingStore
}

func (l *recordingLock) Lock(ctx context.Context) error {
	if err := l.inner.Lock(ctx); err != nil {
		return err
	}
	l.store.record("lock " + l.id)
	return nil
}

func (l *recordingLock) Unlock() {
	l.store.record("unlock " + l.id)
	l.inner.Unlock()
}

func (s *orderRecordingStore) record(event string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

func (s *orderRecordingStore) GetOrCreateLock(id string) domain.LockHandle {
	return &recordingLock{id: id, inner: s.MemoryAccountStore.GetOrCreateLock(id), store: s}
}

func TestTransfer_LocksInCanonicalOrder(t *testing.T) {
	tests := []struct {
		name   string
		source string
		dest   string
	}{
		{name: "source sorts first", source: "alice", dest: "bob"},
		{name: "destination sorts first", source: "bob", dest: "alice"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &orderRecordingStore{MemoryAccountStore: newStore(t, map[string]int64{"alice": 100, "bob": 100})}
			engine := transfer.NewEngine(store, nil)

			_, err := engine.Transfer(context.Background(), tt.source, tt.dest, decimal.NewFromInt(10))
			require.NoError(t, err)
			assert.Equal(t, []string{"lock alice", "lock bob", "unlock bob", "unlock alice"}, store.events)
		})
	}
}

func TestDebitAndCreditMessages(t *testing.T) {
	result := &domain.TransferResult{
		SourceAccountID:      "source",
		DestinationAccountID: "dest",
		Amount:               decimal.NewFromInt(500),
		SourceBalance:        decimal.NewFromInt(6500),
		DestinationBalance:   decimal.NewFromInt(5500),
	}

	assert.Equal(t,
		"Dear account holder! 500 has been debited from account source and credited to account dest. Available balance: 6500",
		transfer.DebitMessage(result))
	assert.Equal(t,
		"Dear account holder! 500 has been credited to account dest from account source. Available balance: 5500",
		transfer.CreditMessage(result))
}

func errorIsAny(err error, targets ...error) bool {
	for _, target := range targets {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

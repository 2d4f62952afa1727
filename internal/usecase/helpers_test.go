package usecase_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/iho/cryptoledger/internal/adapter/repository/memory"
	"github.com/iho/cryptoledger/internal/domain"
	"github.com/iho/cryptoledger/internal/infrastructure/metrics"
	"github.com/iho/cryptoledger/internal/usecase"
	"github.com/iho/cryptoledger/internal/usecase/mocks"
)

var btcFee = decimal.RequireFromString("0.0005")

func testCurrencies() domain.Currencies {
	return domain.NewCurrencies(
		domain.CurrencyConfig{Code: "BTC", WithdrawalFee: btcFee},
		domain.CurrencyConfig{Code: "ETH", MinDeposit: decimal.RequireFromString("0.001")},
		domain.CurrencyConfig{Code: "USDT"},
	)
}

type harness struct {
	store      *memory.Store
	entries    *failingEntryRepository
	cache      *mocks.MockCache
	retrier    *mocks.MockRetrier
	metrics    *metrics.Metrics
	ledger     *usecase.LedgerService
	query      *usecase.BalanceQuery
	reconciler *usecase.ConfirmationReconciler
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	store := memory.NewStore()
	entries := &failingEntryRepository{EntryRepository: store.Entries()}
	cache := mocks.NewMockCache()
	retrier := mocks.NewMockRetrier()
	m := metrics.NewWithRegisterer(prometheus.NewRegistry())
	currencies := testCurrencies()
	logger := zerolog.Nop()

	ledger := usecase.NewLedgerService(
		store.TxManager(),
		store.Balances(),
		entries,
		store.Outbox(),
		mocks.NewMockIDGenerator(),
		retrier,
		currencies,
		cache,
		m,
		logger,
	)

	return &harness{
		store:      store,
		entries:    entries,
		cache:      cache,
		retrier:    retrier,
		metrics:    m,
		ledger:     ledger,
		query:      usecase.NewBalanceQuery(store.Balances(), entries, currencies, cache, m, logger),
		reconciler: usecase.NewConfirmationReconciler(ledger, entries, m, logger),
	}
}

func (h *harness) deposit(t *testing.T, userID int64, amount, currency, key string) *usecase.OperationResult {
	t.Helper()

	result, err := h.ledger.Deposit(context.Background(), usecase.BalanceOperationInput{
		UserID:         userID,
		Amount:         decimal.RequireFromString(amount),
		Currency:       currency,
		IdempotencyKey: key,
	})
	if err != nil {
		t.Fatalf("deposit failed: %v", err)
	}

	return result
}

func (h *harness) balance(t *testing.T, userID int64, currency string) *domain.Balance {
	t.Helper()

	b, err := h.store.Balances().GetByUserCurrency(context.Background(), userID, currency)
	if errors.Is(err, domain.ErrBalanceNotFound) {
		return domain.NewBalance(userID, currency, time.Time{})
	}
	if err != nil {
		t.Fatalf("get balance failed: %v", err)
	}

	return b
}

func (h *harness) history(t *testing.T, userID int64) []*domain.LedgerEntry {
	t.Helper()

	entries, err := h.store.Entries().ListByUser(context.Background(), userID, domain.EntryFilter{})
	if err != nil {
		t.Fatalf("list entries failed: %v", err)
	}

	// Oldest first reads better in assertions.
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}

	return entries
}

func (h *harness) outbox(t *testing.T) []*domain.OutboxEvent {
	t.Helper()

	events, err := h.store.Outbox().GetUnpublished(context.Background(), 0)
	if err != nil {
		t.Fatalf("list outbox failed: %v", err)
	}

	return events
}

func assertAmounts(t *testing.T, b *domain.Balance, balance, reserved string) {
	t.Helper()

	if !b.Balance.Equal(decimal.RequireFromString(balance)) || !b.Reserved.Equal(decimal.RequireFromString(reserved)) {
		t.Fatalf("expected balance %s reserved %s, got %s/%s", balance, reserved, b.Balance, b.Reserved)
	}
}

func assertSnapshot(t *testing.T, e *domain.LedgerEntry, kind domain.EntryKind, balanceBefore, balanceAfter, reservedBefore, reservedAfter string) {
	t.Helper()

	if e.Kind != kind {
		t.Fatalf("expected %s entry, got %s", kind, e.Kind)
	}

	got := []decimal.Decimal{e.BalanceBefore, e.BalanceAfter, e.ReservedBefore, e.ReservedAfter}
	want := []string{balanceBefore, balanceAfter, reservedBefore, reservedAfter}
	for i := range got {
		if !got[i].Equal(decimal.RequireFromString(want[i])) {
			t.Fatalf("%s entry snapshot: expected %v, got %v", kind, want, got)
		}
	}
}

// failingEntryRepository injects errors into Create for chosen entry kinds
// and into UpdateStatus.
type failingEntryRepository struct {
	*memory.EntryRepository

	mu     sync.Mutex
	rules  map[domain.EntryKind]*failRule
	status *failRule
}

type failRule struct {
	err      error
	failures int // remaining failures, <0 means always
}

func (r *failingEntryRepository) failOn(kind domain.EntryKind, err error, times int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.rules == nil {
		r.rules = make(map[domain.EntryKind]*failRule)
	}
	r.rules[kind] = &failRule{err: err, failures: times}
}

func (r *failingEntryRepository) failStatusUpdate(err error, times int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status = &failRule{err: err, failures: times}
}

func (r *failingEntryRepository) UpdateStatus(ctx context.Context, tx usecase.Transaction, id string, status domain.EntryStatus, updatedAt time.Time) error {
	r.mu.Lock()
	if rule := r.status; rule != nil && rule.failures != 0 {
		if rule.failures > 0 {
			rule.failures--
		}
		err := rule.err
		r.mu.Unlock()
		return err
	}
	r.mu.Unlock()

	return r.EntryRepository.UpdateStatus(ctx, tx, id, status, updatedAt)
}

func (r *failingEntryRepository) Create(ctx context.Context, tx usecase.Transaction, entry *domain.LedgerEntry) error {
	r.mu.Lock()
	if rule, ok := r.rules[entry.Kind]; ok && rule.failures != 0 {
		if rule.failures > 0 {
			rule.failures--
		}
		err := rule.err
		r.mu.Unlock()
		return err
	}
	r.mu.Unlock()

	return r.EntryRepository.Create(ctx, tx, entry)
}

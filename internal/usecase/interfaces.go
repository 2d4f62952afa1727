package usecase

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/iho/cryptoledger/internal/domain"
)

// BalanceRepository defines data access for balances.
type BalanceRepository interface {
	// EnsureExists creates the (user, currency) row if absent and returns its id.
	EnsureExists(ctx context.Context, tx Transaction, userID int64, currency string) (int64, error)
	// GetByIDsForUpdate locks balances in ascending id order.
	GetByIDsForUpdate(ctx context.Context, tx Transaction, ids []int64) ([]*domain.Balance, error)
	UpdateAmounts(ctx context.Context, tx Transaction, id int64, balance, reserved decimal.Decimal, updatedAt time.Time) error
	GetByUserCurrency(ctx context.Context, userID int64, currency string) (*domain.Balance, error)
	ListByUser(ctx context.Context, userID int64) ([]*domain.Balance, error)
}

// EntryRepository is the append-only transaction ledger.
type EntryRepository interface {
	// Create fails with domain.ErrDuplicateIdempotencyKey when the key is taken.
	Create(ctx context.Context, tx Transaction, entry *domain.LedgerEntry) error
	GetByID(ctx context.Context, id string) (*domain.LedgerEntry, error)
	GetByIDForUpdate(ctx context.Context, tx Transaction, id string) (*domain.LedgerEntry, error)
	GetByIdempotencyKey(ctx context.Context, key string) (*domain.LedgerEntry, error)
	GetByExternalTxID(ctx context.Context, externalTxID string) (*domain.LedgerEntry, error)
	UpdateSettlement(ctx context.Context, tx Transaction, id string, settlement domain.Settlement, updatedAt time.Time) error
	UpdateStatus(ctx context.Context, tx Transaction, id string, status domain.EntryStatus, updatedAt time.Time) error
	ListByUser(ctx context.Context, userID int64, filter domain.EntryFilter) ([]*domain.LedgerEntry, error)
}

// LedgerRepository defines data access for ledger-wide checks.
type LedgerRepository interface {
	// ListBalanceChecks returns balances with id > afterID in id order.
	ListBalanceChecks(ctx context.Context, afterID int64, limit int) ([]domain.BalanceCheck, error)
}

// OutboxRepository defines data access for outbox events.
type OutboxRepository interface {
	Create(ctx context.Context, tx Transaction, event *domain.OutboxEvent) error
	GetUnpublished(ctx context.Context, limit int) ([]*domain.OutboxEvent, error)
	MarkPublished(ctx context.Context, id string, publishedAt time.Time) error
	DeletePublished(ctx context.Context, before time.Time) error
}

// Transaction represents a database transaction.
type Transaction interface {
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// TransactionManager handles transaction lifecycle.
type TransactionManager interface {
	Begin(ctx context.Context) (Transaction, error)
	// BeginNested opens a savepoint inside tx. Rolling it back keeps tx usable.
	BeginNested(ctx context.Context, tx Transaction) (Transaction, error)
}

// Retrier re-runs an operation on transient conflicts.
type Retrier interface {
	Retry(ctx context.Context, operation func() error) error
}

// IDGenerator generates unique IDs.
type IDGenerator interface {
	Generate() string
}

// Cache defines caching operations. Get fails on a miss.
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

// IdempotencyStore handles idempotency key storage.
type IdempotencyStore interface {
	// CheckAndSet atomically checks if key exists, sets if not.
	// Returns (exists, existingValue, error).
	CheckAndSet(ctx context.Context, key string, response []byte, ttl time.Duration) (bool, []byte, error)
	// Update updates an existing key with the final response.
	Update(ctx context.Context, key string, response []byte, ttl time.Duration) error
	// Release drops a claim so the request may be retried.
	Release(ctx context.Context, key string) error
}

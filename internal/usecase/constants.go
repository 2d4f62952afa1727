package usecase

import (
	"time"

	"github.com/iho/cryptoledger/internal/domain"
)

const (
	// DefaultTransactionTimeout is the maximum duration for a database transaction
	// This prevents long-running transactions from blocking tables
	DefaultTransactionTimeout = 10 * time.Second

	// MaxAttempts is how many times a ledger operation runs before a
	// transient conflict is surfaced to the caller.
	MaxAttempts = 5

	// IdempotencyKeyTTL is how long idempotency keys are cached
	IdempotencyKeyTTL = 24 * time.Hour

	// BalanceCacheTTL bounds how stale a cached balance read may be.
	BalanceCacheTTL = 30 * time.Second

	// Suffixes of the keys derived from a caller's idempotency key.
	feeKeySuffix      = domain.DerivedKeySeparator + "fee"
	creditKeySuffix   = domain.DerivedKeySeparator + "credit"
	reversalKeySuffix = domain.DerivedKeySeparator + "reversal"
)

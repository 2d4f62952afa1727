package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/iho/cryptoledger/internal/domain"
	"github.com/iho/cryptoledger/internal/infrastructure/metrics"
)

const (
	opDeposit   = "deposit"
	opWithdraw  = "withdraw"
	opTransfer  = "transfer"
	opChargeFee = "charge_fee"
	opRefund    = "refund"
	opConfirm   = "confirm_entry"
	opFail      = "fail_entry"
)

// LedgerService executes balance-changing operations. Every operation is a
// single unit of work that is retried on transient conflicts.
type LedgerService struct {
	txManager  TransactionManager
	balances   *BalanceStore
	entryRepo  EntryRepository
	outboxRepo OutboxRepository
	idGen      IDGenerator
	retrier    Retrier
	currencies domain.Currencies
	cache      Cache
	metrics    *metrics.Metrics
	logger     zerolog.Logger
}

// NewLedgerService creates a new LedgerService. cache and metrics may be nil.
func NewLedgerService(
	txManager TransactionManager,
	balanceRepo BalanceRepository,
	entryRepo EntryRepository,
	outboxRepo OutboxRepository,
	idGen IDGenerator,
	retrier Retrier,
	currencies domain.Currencies,
	cache Cache,
	metrics *metrics.Metrics,
	logger zerolog.Logger,
) *LedgerService {
	return &LedgerService{
		txManager:  txManager,
		balances:   NewBalanceStore(balanceRepo, currencies),
		entryRepo:  entryRepo,
		outboxRepo: outboxRepo,
		idGen:      idGen,
		retrier:    retrier,
		currencies: currencies,
		cache:      cache,
		metrics:    metrics,
		logger:     logger.With().Str("component", "ledger").Logger(),
	}
}

// BalanceOperationInput describes an operation on one user's balance.
type BalanceOperationInput struct {
	Metadata       map[string]any
	UserID         int64
	Amount         decimal.Decimal
	Currency       string
	IdempotencyKey string
	Description    string
}

// TransferInput describes a transfer between two users.
type TransferInput struct {
	Metadata       map[string]any
	FromUserID     int64
	ToUserID       int64
	Amount         decimal.Decimal
	Currency       string
	IdempotencyKey string
	Description    string
}

// ConfirmEntryInput attaches external settlement data to an entry.
type ConfirmEntryInput struct {
	Metadata      map[string]any
	EntryID       string
	ExternalTxID  string
	Confirmations int
}

// FailEntryInput marks an entry as failed.
type FailEntryInput struct {
	Metadata map[string]any
	EntryID  string
	Reason   string
}

// OperationResult reports the state left behind by a successful operation.
type OperationResult struct {
	ReceiverBalance *decimal.Decimal
	EntryID         string
	Currency        string
	Message         string
	UserID          int64
	Balance         decimal.Decimal
	Reserved        decimal.Decimal
	Available       decimal.Decimal
	Fee             decimal.Decimal
}

func newOperationResult(entry *domain.LedgerEntry, b *domain.Balance, message string) *OperationResult {
	return &OperationResult{
		EntryID:   entry.ID,
		Currency:  b.Currency,
		Message:   message,
		UserID:    b.UserID,
		Balance:   b.Balance,
		Reserved:  b.Reserved,
		Available: b.Available(),
		Fee:       decimal.Zero,
	}
}

// Deposit credits a user's balance.
func (s *LedgerService) Deposit(ctx context.Context, input BalanceOperationInput) (*OperationResult, error) {
	return s.credit(ctx, opDeposit, input, input.IdempotencyKey, domain.EntryKindDeposit, domain.EventTypeDepositCompleted, "Deposit", "Deposit completed successfully")
}

// Refund credits a user's balance as a refund.
func (s *LedgerService) Refund(ctx context.Context, input BalanceOperationInput) (*OperationResult, error) {
	return s.credit(ctx, opRefund, input, input.IdempotencyKey, domain.EntryKindRefund, domain.EventTypeRefundCompleted, "Refund", "Refund completed successfully")
}

// refund books a refund under a key the ledger derived itself, which callers
// cannot choose. Any key in input is ignored.
func (s *LedgerService) refund(ctx context.Context, input BalanceOperationInput, derived string) (*OperationResult, error) {
	input.IdempotencyKey = ""
	return s.credit(ctx, opRefund, input, derived, domain.EntryKindRefund, domain.EventTypeRefundCompleted, "Refund", "Refund completed successfully")
}

// credit validates input and books the entry under key.
func (s *LedgerService) credit(
	ctx context.Context,
	op string,
	input BalanceOperationInput,
	key string,
	kind domain.EntryKind,
	eventType string,
	defaultDescription string,
	message string,
) (*OperationResult, error) {
	var result *OperationResult

	err := s.execute(ctx, op, func(ctx context.Context) error {
		cfg, err := s.prepare(input, minDeposit)
		if err != nil {
			return err
		}

		if err := s.ensureKeysUnused(ctx, key); err != nil {
			return err
		}

		return s.withinTx(ctx, func(ctx context.Context, tx Transaction) error {
			now := time.Now().UTC()

			b, err := s.balances.GetOrCreate(ctx, tx, input.UserID, cfg.Code)
			if err != nil {
				return err
			}

			before, after := b.Credit(input.Amount)
			entry := s.newEntry(b, kind, input.Amount, before, after, describe(input.Description, defaultDescription), now).
				WithKey(key).
				WithMetadata(input.Metadata)

			if err := s.entryRepo.Create(ctx, tx, entry); err != nil {
				return err
			}

			if err := s.balances.Save(ctx, tx, b, now); err != nil {
				return err
			}

			if err := s.publish(ctx, tx, eventType, entry, domain.EntryEventPayload(entry), now); err != nil {
				return err
			}

			result = newOperationResult(entry, b, message)

			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	s.afterCommit(ctx, op, result.Currency, input.Amount, input.UserID)

	return result, nil
}

// ChargeFee debits a fee from the available balance in one step.
func (s *LedgerService) ChargeFee(ctx context.Context, input BalanceOperationInput) (*OperationResult, error) {
	var result *OperationResult

	err := s.execute(ctx, opChargeFee, func(ctx context.Context) error {
		cfg, err := s.prepare(input, nil)
		if err != nil {
			return err
		}

		if err := s.ensureKeysUnused(ctx, input.IdempotencyKey); err != nil {
			return err
		}

		return s.withinTx(ctx, func(ctx context.Context, tx Transaction) error {
			now := time.Now().UTC()

			b, err := s.balances.GetOrCreate(ctx, tx, input.UserID, cfg.Code)
			if err != nil {
				return err
			}

			// Reserve and settle at once: reserved ends where it started.
			before := b.Snapshot()
			if _, _, err := b.Reserve(input.Amount); err != nil {
				return err
			}
			if _, _, err := b.SettleReserved(input.Amount); err != nil {
				return err
			}

			entry := s.newEntry(b, domain.EntryKindFee, input.Amount, before, b.Snapshot(), describe(input.Description, "Fee"), now).
				WithKey(input.IdempotencyKey).
				WithMetadata(input.Metadata)

			if err := s.entryRepo.Create(ctx, tx, entry); err != nil {
				return err
			}

			if err := s.balances.Save(ctx, tx, b, now); err != nil {
				return err
			}

			if err := s.publish(ctx, tx, domain.EventTypeFeeCharged, entry, domain.EntryEventPayload(entry), now); err != nil {
				return err
			}

			result = newOperationResult(entry, b, "Fee charged successfully")
			result.Fee = input.Amount

			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	s.afterCommit(ctx, opChargeFee, result.Currency, input.Amount, input.UserID)

	return result, nil
}

// ConfirmEntry attaches settlement data to an entry. Repeating a
// confirmation leaves the entry unchanged apart from merged metadata.
func (s *LedgerService) ConfirmEntry(ctx context.Context, input ConfirmEntryInput) (*domain.LedgerEntry, error) {
	var result *domain.LedgerEntry

	err := s.execute(ctx, opConfirm, func(ctx context.Context) error {
		if input.EntryID == "" {
			return domain.ErrEntryNotFound
		}

		if err := domain.ValidateMetadata(input.Metadata); err != nil {
			return err
		}

		return s.withinTx(ctx, func(ctx context.Context, tx Transaction) error {
			now := time.Now().UTC()

			entry, err := s.entryRepo.GetByIDForUpdate(ctx, tx, input.EntryID)
			if err != nil {
				return err
			}

			update := domain.Settlement{
				Confirmations: input.Confirmations,
				ProcessedAt:   &now,
				Metadata:      input.Metadata,
			}
			if input.ExternalTxID != "" {
				externalTxID := input.ExternalTxID
				update.ExternalTxID = &externalTxID
			}

			firstConfirmation := entry.Settlement.ProcessedAt == nil

			if err := s.entryRepo.UpdateSettlement(ctx, tx, entry.ID, update, now); err != nil {
				return err
			}

			entry.Settlement = entry.Settlement.Merge(update)
			entry.UpdatedAt = now

			if firstConfirmation {
				payload := domain.EntryEventPayload(entry)
				payload["external_tx_id"] = input.ExternalTxID
				payload["confirmations"] = entry.Settlement.Confirmations

				if err := s.publish(ctx, tx, domain.EventTypeEntryConfirmed, entry, payload, now); err != nil {
					return err
				}
			}

			result = entry

			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// FailEntry marks an entry as failed. Balances are not touched. An entry
// that already failed is returned as is.
func (s *LedgerService) FailEntry(ctx context.Context, input FailEntryInput) (*domain.LedgerEntry, error) {
	var result *domain.LedgerEntry

	err := s.execute(ctx, opFail, func(ctx context.Context) error {
		if input.EntryID == "" {
			return domain.ErrEntryNotFound
		}

		if err := domain.ValidateMetadata(input.Metadata); err != nil {
			return err
		}

		return s.withinTx(ctx, func(ctx context.Context, tx Transaction) error {
			now := time.Now().UTC()

			entry, err := s.entryRepo.GetByIDForUpdate(ctx, tx, input.EntryID)
			if err != nil {
				return err
			}

			if entry.Status == domain.EntryStatusFailed {
				result = entry
				return nil
			}

			metadata := make(map[string]any, len(input.Metadata)+2)
			for k, v := range input.Metadata {
				metadata[k] = v
			}
			metadata["failure_reason"] = input.Reason
			metadata["failed_at"] = now.Format(time.RFC3339)

			update := domain.Settlement{Metadata: metadata}

			if err := s.entryRepo.UpdateSettlement(ctx, tx, entry.ID, update, now); err != nil {
				return err
			}

			if err := s.entryRepo.UpdateStatus(ctx, tx, entry.ID, domain.EntryStatusFailed, now); err != nil {
				return err
			}

			entry.Settlement = entry.Settlement.Merge(update)
			entry.Status = domain.EntryStatusFailed
			entry.UpdatedAt = now

			payload := domain.EntryEventPayload(entry)
			payload["failure_reason"] = input.Reason

			if err := s.publish(ctx, tx, domain.EventTypeEntryFailed, entry, payload, now); err != nil {
				return err
			}

			result = entry

			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

type minimumFunc func(cfg domain.CurrencyConfig) decimal.Decimal

func minDeposit(cfg domain.CurrencyConfig) decimal.Decimal    { return cfg.MinDeposit }
func minWithdrawal(cfg domain.CurrencyConfig) decimal.Decimal { return cfg.MinWithdrawal }

// prepare validates the parts of an input shared by all operations. A nil
// minimum only requires a positive amount.
func (s *LedgerService) prepare(input BalanceOperationInput, minimum minimumFunc) (domain.CurrencyConfig, error) {
	if err := domain.ValidateUserID(input.UserID); err != nil {
		return domain.CurrencyConfig{}, err
	}

	return s.validateCommon(input.Currency, input.Amount, input.IdempotencyKey, input.Metadata, minimum)
}

func (s *LedgerService) validateCommon(
	currency string,
	amount decimal.Decimal,
	key string,
	metadata map[string]any,
	minimum minimumFunc,
) (domain.CurrencyConfig, error) {
	cfg, err := s.currencies.Lookup(currency)
	if err != nil {
		return domain.CurrencyConfig{}, err
	}

	if minimum != nil {
		err = domain.ValidateMinimum(amount, minimum(cfg))
	} else {
		err = domain.ValidateAmount(amount)
	}
	if err != nil {
		return domain.CurrencyConfig{}, err
	}

	if err := domain.ValidateIdempotencyKey(key); err != nil {
		return domain.CurrencyConfig{}, err
	}

	if err := domain.ValidateMetadata(metadata); err != nil {
		return domain.CurrencyConfig{}, err
	}

	return cfg, nil
}

// ensureKeysUnused rejects a replayed key before any lock is taken. The
// unique constraint on the ledger still decides races.
func (s *LedgerService) ensureKeysUnused(ctx context.Context, keys ...string) error {
	for _, key := range keys {
		if key == "" {
			continue
		}

		_, err := s.entryRepo.GetByIdempotencyKey(ctx, key)
		if err == nil {
			return domain.ErrDuplicateIdempotencyKey
		}

		if !errors.Is(err, domain.ErrEntryNotFound) {
			return err
		}
	}

	return nil
}

// execute runs fn under the retrier and maps the final error to the
// caller-facing taxonomy.
func (s *LedgerService) execute(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	start := time.Now()
	attempts := 0

	err := s.retrier.Retry(ctx, func() error {
		attempts++
		return fn(ctx)
	})
	if err != nil {
		err = s.surface(op, attempts, err)
	}

	if s.metrics != nil {
		s.metrics.OperationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
		s.metrics.Operations.WithLabelValues(op, outcome(err)).Inc()

		if attempts > 1 {
			s.metrics.ConflictRetries.WithLabelValues(op).Add(float64(attempts - 1))
		}
	}

	return err
}

func (s *LedgerService) surface(op string, attempts int, err error) error {
	switch {
	case errors.Is(err, domain.ErrTransientConflict):
		s.logger.Warn().
			Err(err).
			Str("operation", op).
			Int("attempts", attempts).
			Msg("ledger operation gave up after conflicts")

		return fmt.Errorf("%w: %w", domain.ErrInternalFailure, domain.ErrTransientConflict)
	case domain.IsBusinessError(err):
		return err
	default:
		s.logger.Error().
			Err(err).
			Str("operation", op).
			Int("attempts", attempts).
			Msg("ledger operation failed")

		return domain.ErrInternalFailure
	}
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	return domain.Code(err)
}

// withinTx runs fn in a transaction and commits when fn succeeds. fn may
// commit on its own; the deferred rollback is then a no-op.
func (s *LedgerService) withinTx(ctx context.Context, fn func(ctx context.Context, tx Transaction) error) error {
	txCtx, cancel := context.WithTimeout(ctx, DefaultTransactionTimeout)
	defer cancel()

	tx, err := s.txManager.Begin(txCtx)
	if err != nil {
		return err
	}

	defer func() {
		_ = tx.Rollback(txCtx)
	}()

	if err := fn(txCtx, tx); err != nil {
		return err
	}

	return tx.Commit(txCtx)
}

func (s *LedgerService) newEntry(
	b *domain.Balance,
	kind domain.EntryKind,
	amount decimal.Decimal,
	before, after domain.Snapshot,
	description string,
	now time.Time,
) *domain.LedgerEntry {
	return domain.NewEntry(s.idGen.Generate(), b, kind, amount, before, after, domain.TruncateDescription(description), now)
}

func (s *LedgerService) publish(
	ctx context.Context,
	tx Transaction,
	eventType string,
	entry *domain.LedgerEntry,
	payload map[string]any,
	now time.Time,
) error {
	event := &domain.OutboxEvent{
		ID:            s.idGen.Generate(),
		AggregateID:   entry.ID,
		AggregateType: domain.AggregateTypeEntry,
		EventType:     eventType,
		Payload:       payload,
		CreatedAt:     now,
	}

	return s.outboxRepo.Create(ctx, tx, event)
}

// afterCommit records the amount and evicts cached balances of the users
// involved. Eviction failures only shorten the cache's usefulness.
func (s *LedgerService) afterCommit(ctx context.Context, op, currency string, amount decimal.Decimal, userIDs ...int64) {
	if s.metrics != nil {
		s.metrics.OperationAmount.WithLabelValues(op, currency).Observe(amount.InexactFloat64())
	}

	if s.cache == nil {
		return
	}

	keys := make([]string, 0, len(userIDs)*2)
	for _, id := range userIDs {
		keys = append(keys, balanceCacheKey(id, currency), balanceListCacheKey(id))
	}

	if err := s.cache.Delete(ctx, keys...); err != nil {
		s.logger.Warn().Err(err).Strs("keys", keys).Msg("failed to evict cached balances")
	}
}

func describe(description, fallback string) string {
	if d := domain.TruncateDescription(description); d != "" {
		return d
	}
	return fallback
}

func derivedKey(key, suffix string) string {
	if key == "" {
		return ""
	}
	return key + suffix
}

func balanceCacheKey(userID int64, currency string) string {
	return fmt.Sprintf("balance:%d:%s", userID, currency)
}

func balanceListCacheKey(userID int64) string {
	return fmt.Sprintf("balances:%d", userID)
}

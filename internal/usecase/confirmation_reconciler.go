package usecase

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/iho/cryptoledger/internal/domain"
	"github.com/iho/cryptoledger/internal/infrastructure/metrics"
)

// ConfirmationResult describes how a confirmation event was applied.
type ConfirmationResult struct {
	Kind      domain.EventKind
	EntryID   string
	Message   string
	Duplicate bool
}

// ConfirmationReconciler applies external settlement events to the ledger.
// Every event may be delivered more than once; applying it again has no
// further effect.
type ConfirmationReconciler struct {
	ledger    *LedgerService
	entryRepo EntryRepository
	metrics   *metrics.Metrics
	logger    zerolog.Logger
}

// NewConfirmationReconciler creates a new ConfirmationReconciler.
func NewConfirmationReconciler(
	ledger *LedgerService,
	entryRepo EntryRepository,
	metrics *metrics.Metrics,
	logger zerolog.Logger,
) *ConfirmationReconciler {
	return &ConfirmationReconciler{
		ledger:    ledger,
		entryRepo: entryRepo,
		metrics:   metrics,
		logger:    logger.With().Str("component", "reconciler").Logger(),
	}
}

// Handle applies one event. Unknown kinds fail with
// domain.ErrUnknownEventKind without touching the ledger.
func (r *ConfirmationReconciler) Handle(ctx context.Context, event domain.ConfirmationEvent) (*ConfirmationResult, error) {
	kind := event.Kind()

	var (
		result *ConfirmationResult
		err    error
	)

	switch kind {
	case domain.EventKindDepositConfirmed:
		result, err = r.depositConfirmed(ctx, event)
	case domain.EventKindWithdrawalConfirmed:
		result, err = r.withdrawalConfirmed(ctx, event)
	case domain.EventKindDepositFailed:
		result, err = r.depositFailed(ctx, event)
	case domain.EventKindWithdrawalFailed:
		result, err = r.withdrawalFailed(ctx, event)
	default:
		err = fmt.Errorf("%w: %q", domain.ErrUnknownEventKind, kind)
	}

	r.observe(kind, result, err)

	if err != nil {
		return nil, err
	}

	return result, nil
}

func (r *ConfirmationReconciler) depositConfirmed(ctx context.Context, event domain.ConfirmationEvent) (*ConfirmationResult, error) {
	if err := validateDepositEvent(event); err != nil {
		return nil, err
	}

	duplicate := true

	entry, err := r.resolve(ctx, event)
	if errors.Is(err, domain.ErrEntryNotFound) {
		duplicate = false
		entry, err = r.credit(ctx, event)
	}
	if err != nil {
		return nil, err
	}

	if entry.Kind != domain.EntryKindDeposit || entry.UserID != event.UserID {
		return nil, fmt.Errorf("%w: transaction %s does not reference a deposit of user %d", domain.ErrInvalidEvent, event.TransactionID, event.UserID)
	}

	confirmed, err := r.ledger.ConfirmEntry(ctx, ConfirmEntryInput{
		EntryID:       entry.ID,
		ExternalTxID:  event.BlockchainTxID,
		Confirmations: event.Confirmations,
		Metadata:      settlementMetadata(event),
	})
	if err != nil {
		return nil, err
	}

	message := "Deposit confirmed"
	if duplicate {
		message = "Deposit already recorded, confirmation merged"
	}

	return &ConfirmationResult{
		Kind:      domain.EventKindDepositConfirmed,
		EntryID:   confirmed.ID,
		Message:   message,
		Duplicate: duplicate,
	}, nil
}

// credit books the deposit under the event's transaction id. A concurrent
// delivery that wins the key race is resolved instead.
func (r *ConfirmationReconciler) credit(ctx context.Context, event domain.ConfirmationEvent) (*domain.LedgerEntry, error) {
	description := event.Description
	if description == "" {
		description = "Confirmed deposit"
	}

	metadata := settlementMetadata(event)
	for k, v := range event.Metadata {
		metadata[k] = v
	}

	result, err := r.ledger.Deposit(ctx, BalanceOperationInput{
		UserID:         event.UserID,
		Amount:         event.Amount,
		Currency:       event.Currency,
		IdempotencyKey: event.TransactionID,
		Description:    description,
		Metadata:       metadata,
	})
	if errors.Is(err, domain.ErrDuplicateIdempotencyKey) {
		return r.resolve(ctx, event)
	}
	if err != nil {
		return nil, err
	}

	return r.entryRepo.GetByID(ctx, result.EntryID)
}

func (r *ConfirmationReconciler) withdrawalConfirmed(ctx context.Context, event domain.ConfirmationEvent) (*ConfirmationResult, error) {
	if err := validateWithdrawalConfirmation(event); err != nil {
		return nil, err
	}

	entry, err := r.resolve(ctx, event)
	if err != nil {
		return nil, err
	}

	if entry.Kind != domain.EntryKindWithdrawal {
		return nil, fmt.Errorf("%w: entry %s is not a withdrawal", domain.ErrInvalidEvent, entry.ID)
	}

	duplicate := entry.Settlement.ProcessedAt != nil

	confirmed, err := r.ledger.ConfirmEntry(ctx, ConfirmEntryInput{
		EntryID:       entry.ID,
		ExternalTxID:  event.BlockchainTxID,
		Confirmations: event.Confirmations,
		Metadata:      settlementMetadata(event),
	})
	if err != nil {
		return nil, err
	}

	return &ConfirmationResult{
		Kind:      domain.EventKindWithdrawalConfirmed,
		EntryID:   confirmed.ID,
		Message:   "Withdrawal confirmed",
		Duplicate: duplicate,
	}, nil
}

func (r *ConfirmationReconciler) depositFailed(ctx context.Context, event domain.ConfirmationEvent) (*ConfirmationResult, error) {
	if event.TransactionID == "" && event.BlockchainTxID == "" {
		return nil, fmt.Errorf("%w: transaction_id or blockchain_tx_id is required", domain.ErrInvalidEvent)
	}

	entry, err := r.resolve(ctx, event)
	if errors.Is(err, domain.ErrEntryNotFound) {
		// Nothing was credited, so there is nothing to mark.
		return &ConfirmationResult{
			Kind:    domain.EventKindDepositFailed,
			Message: "Deposit failure acknowledged",
		}, nil
	}
	if err != nil {
		return nil, err
	}

	duplicate := entry.Status == domain.EntryStatusFailed

	failed, err := r.ledger.FailEntry(ctx, FailEntryInput{
		EntryID:  entry.ID,
		Reason:   failureReason(event),
		Metadata: settlementMetadata(event),
	})
	if err != nil {
		return nil, err
	}

	r.logger.Warn().
		Str("entry_id", failed.ID).
		Int64("user_id", failed.UserID).
		Str("reason", failureReason(event)).
		Msg("credited deposit reported as failed, review required")

	return &ConfirmationResult{
		Kind:      domain.EventKindDepositFailed,
		EntryID:   failed.ID,
		Message:   "Deposit marked as failed",
		Duplicate: duplicate,
	}, nil
}

// withdrawalFailed returns the withdrawn amount and its fee. The refund is
// keyed on the withdrawal, so it is booked before the status flips and a
// redelivery after a crash between the two steps still completes both.
func (r *ConfirmationReconciler) withdrawalFailed(ctx context.Context, event domain.ConfirmationEvent) (*ConfirmationResult, error) {
	if event.TransactionID == "" && event.BlockchainTxID == "" {
		return nil, fmt.Errorf("%w: transaction_id or blockchain_tx_id is required", domain.ErrInvalidEvent)
	}

	entry, err := r.resolve(ctx, event)
	if err != nil {
		return nil, err
	}

	if entry.Kind != domain.EntryKindWithdrawal {
		return nil, fmt.Errorf("%w: entry %s is not a withdrawal", domain.ErrInvalidEvent, entry.ID)
	}

	if entry.Status == domain.EntryStatusFailed {
		return &ConfirmationResult{
			Kind:      domain.EventKindWithdrawalFailed,
			EntryID:   entry.ID,
			Message:   "Withdrawal already reversed",
			Duplicate: true,
		}, nil
	}

	refund, err := r.withdrawalTotal(ctx, entry)
	if err != nil {
		return nil, err
	}

	_, err = r.ledger.refund(ctx, BalanceOperationInput{
		UserID:      entry.UserID,
		Amount:      refund,
		Currency:    entry.Currency,
		Description: "Withdrawal reversal",
		Metadata: map[string]any{
			"withdrawal_entry_id": entry.ID,
			"failure_reason":      failureReason(event),
		},
	}, reversalKey(entry))
	if err != nil && !errors.Is(err, domain.ErrDuplicateIdempotencyKey) {
		return nil, err
	}

	if _, err := r.ledger.FailEntry(ctx, FailEntryInput{
		EntryID:  entry.ID,
		Reason:   failureReason(event),
		Metadata: settlementMetadata(event),
	}); err != nil {
		return nil, err
	}

	return &ConfirmationResult{
		Kind:    domain.EventKindWithdrawalFailed,
		EntryID: entry.ID,
		Message: "Withdrawal failed, funds returned",
	}, nil
}

// withdrawalTotal is the withdrawn amount plus the fee charged with it.
func (r *ConfirmationReconciler) withdrawalTotal(ctx context.Context, withdrawal *domain.LedgerEntry) (decimal.Decimal, error) {
	total := withdrawal.Amount

	key := derivedKey(withdrawal.Key(), feeKeySuffix)
	if key == "" {
		return total, nil
	}

	fee, err := r.entryRepo.GetByIdempotencyKey(ctx, key)
	if errors.Is(err, domain.ErrEntryNotFound) {
		return total, nil
	}
	if err != nil {
		return decimal.Zero, err
	}

	return total.Add(fee.Amount), nil
}

// resolve finds the entry an event refers to, first by transaction id and
// then by on-chain transaction id.
func (r *ConfirmationReconciler) resolve(ctx context.Context, event domain.ConfirmationEvent) (*domain.LedgerEntry, error) {
	if event.TransactionID != "" {
		entry, err := r.entryRepo.GetByIdempotencyKey(ctx, event.TransactionID)
		if err == nil {
			return entry, nil
		}
		if !errors.Is(err, domain.ErrEntryNotFound) {
			return nil, err
		}
	}

	if event.BlockchainTxID != "" {
		return r.entryRepo.GetByExternalTxID(ctx, event.BlockchainTxID)
	}

	return nil, domain.ErrEntryNotFound
}

func (r *ConfirmationReconciler) observe(kind domain.EventKind, result *ConfirmationResult, err error) {
	if r.metrics != nil {
		label := string(kind)
		if err != nil && errors.Is(err, domain.ErrUnknownEventKind) {
			label = "unknown"
		}
		r.metrics.ConfirmationEvents.WithLabelValues(label, outcome(err)).Inc()
	}

	if err != nil {
		r.logger.Warn().Err(err).Str("kind", string(kind)).Msg("confirmation event rejected")
		return
	}

	r.logger.Info().
		Str("kind", string(kind)).
		Str("entry_id", result.EntryID).
		Bool("duplicate", result.Duplicate).
		Msg(result.Message)
}

func validateDepositEvent(event domain.ConfirmationEvent) error {
	if event.UserID <= 0 {
		return fmt.Errorf("%w: user_id is required", domain.ErrInvalidEvent)
	}

	if !event.Amount.IsPositive() {
		return fmt.Errorf("%w: amount must be positive", domain.ErrInvalidEvent)
	}

	if event.Currency == "" {
		return fmt.Errorf("%w: currency is required", domain.ErrInvalidEvent)
	}

	if event.TransactionID == "" {
		return fmt.Errorf("%w: transaction_id is required", domain.ErrInvalidEvent)
	}

	if event.BlockchainTxID == "" {
		return fmt.Errorf("%w: blockchain_tx_id is required", domain.ErrInvalidEvent)
	}

	if event.Confirmations < 1 {
		return fmt.Errorf("%w: confirmations must be at least 1", domain.ErrInvalidEvent)
	}

	return nil
}

func validateWithdrawalConfirmation(event domain.ConfirmationEvent) error {
	if event.TransactionID == "" {
		return fmt.Errorf("%w: transaction_id is required", domain.ErrInvalidEvent)
	}

	if event.BlockchainTxID == "" {
		return fmt.Errorf("%w: blockchain_tx_id is required", domain.ErrInvalidEvent)
	}

	if event.Confirmations < 1 {
		return fmt.Errorf("%w: confirmations must be at least 1", domain.ErrInvalidEvent)
	}

	return nil
}

func settlementMetadata(event domain.ConfirmationEvent) map[string]any {
	metadata := map[string]any{}
	if event.BlockchainTxID != "" {
		metadata["blockchain_tx_id"] = event.BlockchainTxID
	}
	if event.Confirmations > 0 {
		metadata["confirmations"] = event.Confirmations
	}
	return metadata
}

func failureReason(event domain.ConfirmationEvent) string {
	if event.Reason != "" {
		return event.Reason
	}
	return "unspecified"
}

func reversalKey(withdrawal *domain.LedgerEntry) string {
	if key := withdrawal.Key(); key != "" {
		return key + reversalKeySuffix
	}
	return withdrawal.ID + reversalKeySuffix
}

package usecase_test

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"

	"github.com/iho/cryptoledger/internal/domain"
	"github.com/iho/cryptoledger/internal/usecase"
)

func depositConfirmedEvent(txID string) domain.ConfirmationEvent {
	return domain.ConfirmationEvent{
		Event:          domain.EventKindDepositConfirmed,
		UserID:         1,
		Amount:         decimal.RequireFromString("0.5"),
		Currency:       "BTC",
		TransactionID:  txID,
		BlockchainTxID: "0xaa",
		Confirmations:  3,
	}
}

func TestConfirmationReconciler_DepositConfirmedCreditsOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	event := depositConfirmedEvent("chain-1")

	first, err := h.reconciler.Handle(ctx, event)
	if err != nil {
		t.Fatalf("handle failed: %v", err)
	}
	if first.Duplicate || first.EntryID == "" {
		t.Fatalf("unexpected result: %+v", first)
	}

	second, err := h.reconciler.Handle(ctx, event)
	if err != nil {
		t.Fatalf("redelivery failed: %v", err)
	}
	if !second.Duplicate || second.EntryID != first.EntryID {
		t.Fatalf("expected duplicate of %s, got %+v", first.EntryID, second)
	}

	assertAmounts(t, h.balance(t, 1, "BTC"), "0.5", "0")

	entry, err := h.store.Entries().GetByID(ctx, first.EntryID)
	if err != nil {
		t.Fatalf("get entry failed: %v", err)
	}
	if entry.Key() != "chain-1" || entry.Settlement.Confirmations != 3 || *entry.Settlement.ExternalTxID != "0xaa" {
		t.Fatalf("unexpected entry: %+v", entry)
	}
}

func TestConfirmationReconciler_DepositConfirmedMergesKnownDeposit(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	deposit := h.deposit(t, 1, "0.5", "BTC", "dep-2")

	result, err := h.reconciler.Handle(ctx, depositConfirmedEvent("dep-2"))
	if err != nil {
		t.Fatalf("handle failed: %v", err)
	}
	if !result.Duplicate || result.EntryID != deposit.EntryID {
		t.Fatalf("expected confirmation of %s, got %+v", deposit.EntryID, result)
	}

	assertAmounts(t, h.balance(t, 1, "BTC"), "0.5", "0")

	// Resolvable by on-chain id alone once confirmed.
	byChain := depositConfirmedEvent("other-id")
	byChain.Confirmations = 12
	result, err = h.reconciler.Handle(ctx, byChain)
	if err != nil {
		t.Fatalf("handle by chain id failed: %v", err)
	}
	if result.EntryID != deposit.EntryID {
		t.Fatalf("expected %s, got %s", deposit.EntryID, result.EntryID)
	}

	assertAmounts(t, h.balance(t, 1, "BTC"), "0.5", "0")
}

func TestConfirmationReconciler_DepositConfirmedRejectsMismatch(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.deposit(t, 2, "0.5", "BTC", "dep-3")

	if _, err := h.reconciler.Handle(ctx, depositConfirmedEvent("dep-3")); !errors.Is(err, domain.ErrInvalidEvent) {
		t.Fatalf("expected ErrInvalidEvent for another user's deposit, got %v", err)
	}

	invalid := depositConfirmedEvent("dep-4")
	invalid.Currency = ""
	if _, err := h.reconciler.Handle(ctx, invalid); !errors.Is(err, domain.ErrInvalidEvent) {
		t.Fatalf("expected ErrInvalidEvent, got %v", err)
	}

	invalid = depositConfirmedEvent("dep-5")
	invalid.Confirmations = 0
	if _, err := h.reconciler.Handle(ctx, invalid); !errors.Is(err, domain.ErrInvalidEvent) {
		t.Fatalf("expected ErrInvalidEvent, got %v", err)
	}
}

func TestConfirmationReconciler_WithdrawalConfirmed(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.deposit(t, 1, "1", "BTC", "")

	if _, err := h.ledger.Withdraw(ctx, usecase.BalanceOperationInput{
		UserID: 1, Amount: decimal.RequireFromString("0.5"), Currency: "BTC", IdempotencyKey: "wd-1",
	}); err != nil {
		t.Fatalf("withdraw failed: %v", err)
	}

	event := domain.ConfirmationEvent{
		Event:          domain.EventKindWithdrawalConfirmed,
		TransactionID:  "wd-1",
		BlockchainTxID: "0xbb",
		Confirmations:  6,
	}

	first, err := h.reconciler.Handle(ctx, event)
	if err != nil {
		t.Fatalf("handle failed: %v", err)
	}
	if first.Duplicate {
		t.Fatalf("first confirmation reported as duplicate")
	}

	second, err := h.reconciler.Handle(ctx, event)
	if err != nil {
		t.Fatalf("redelivery failed: %v", err)
	}
	if !second.Duplicate || second.EntryID != first.EntryID {
		t.Fatalf("expected duplicate, got %+v", second)
	}

	assertAmounts(t, h.balance(t, 1, "BTC"), "0.4995", "0")

	unknown := event
	unknown.TransactionID = "nope"
	unknown.BlockchainTxID = "0xcc"
	if _, err := h.reconciler.Handle(ctx, unknown); !errors.Is(err, domain.ErrEntryNotFound) {
		t.Fatalf("expected ErrEntryNotFound, got %v", err)
	}
}

func TestConfirmationReconciler_WithdrawalConfirmedRequiresFields(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.deposit(t, 1, "1", "BTC", "")

	if _, err := h.ledger.Withdraw(ctx, usecase.BalanceOperationInput{
		UserID: 1, Amount: decimal.RequireFromString("0.5"), Currency: "BTC", IdempotencyKey: "w1",
	}); err != nil {
		t.Fatalf("withdraw failed: %v", err)
	}

	valid := domain.ConfirmationEvent{
		Event:          domain.EventKindWithdrawalConfirmed,
		TransactionID:  "w1",
		BlockchainTxID: "0xdd",
		Confirmations:  3,
	}

	tests := []struct {
		name   string
		mutate func(*domain.ConfirmationEvent)
	}{
		{"zero confirmations", func(e *domain.ConfirmationEvent) { e.Confirmations = 0 }},
		{"missing blockchain tx", func(e *domain.ConfirmationEvent) { e.BlockchainTxID = "" }},
		{"missing transaction id", func(e *domain.ConfirmationEvent) { e.TransactionID = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event := valid
			tt.mutate(&event)
			if _, err := h.reconciler.Handle(ctx, event); !errors.Is(err, domain.ErrInvalidEvent) {
				t.Fatalf("expected ErrInvalidEvent, got %v", err)
			}
		})
	}

	entries := h.history(t, 1)
	withdrawal := entries[len(entries)-1]
	if withdrawal.Kind != domain.EntryKindWithdrawal {
		t.Fatalf("expected withdrawal last, got %s", withdrawal.Kind)
	}
	if withdrawal.Settlement.ProcessedAt != nil {
		t.Fatalf("rejected confirmation marked the withdrawal processed")
	}
}

func TestConfirmationReconciler_WithdrawalFailedRefundsOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.deposit(t, 1, "1", "BTC", "")

	if _, err := h.ledger.Withdraw(ctx, usecase.BalanceOperationInput{
		UserID: 1, Amount: decimal.RequireFromString("0.5"), Currency: "BTC", IdempotencyKey: "wd-1",
	}); err != nil {
		t.Fatalf("withdraw failed: %v", err)
	}

	event := domain.ConfirmationEvent{Event: domain.EventKindWithdrawalFailed, TransactionID: "wd-1", Reason: "rejected by node"}

	result, err := h.reconciler.Handle(ctx, event)
	if err != nil {
		t.Fatalf("handle failed: %v", err)
	}
	if result.Duplicate {
		t.Fatalf("first failure reported as duplicate")
	}

	// Amount and fee come back.
	assertAmounts(t, h.balance(t, 1, "BTC"), "1", "0")

	withdrawal, _ := h.store.Entries().GetByIdempotencyKey(ctx, "wd-1")
	if withdrawal.Status != domain.EntryStatusFailed || withdrawal.Settlement.Metadata["failure_reason"] != "rejected by node" {
		t.Fatalf("unexpected withdrawal: %+v", withdrawal)
	}

	refund, err := h.store.Entries().GetByIdempotencyKey(ctx, "wd-1:reversal")
	if err != nil {
		t.Fatalf("refund entry missing: %v", err)
	}
	if refund.Kind != domain.EntryKindRefund || !refund.Amount.Equal(decimal.RequireFromString("0.5005")) {
		t.Fatalf("unexpected refund: %+v", refund)
	}

	again, err := h.reconciler.Handle(ctx, event)
	if err != nil {
		t.Fatalf("redelivery failed: %v", err)
	}
	if !again.Duplicate {
		t.Fatalf("expected duplicate on redelivery")
	}
	assertAmounts(t, h.balance(t, 1, "BTC"), "1", "0")
}

func TestConfirmationReconciler_WithdrawalFailedAfterPartialDelivery(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.deposit(t, 1, "1", "ETH", "")

	if _, err := h.ledger.Withdraw(ctx, usecase.BalanceOperationInput{
		UserID: 1, Amount: decimal.RequireFromString("0.4"), Currency: "ETH", IdempotencyKey: "wd-eth",
	}); err != nil {
		t.Fatalf("withdraw failed: %v", err)
	}

	// The first delivery books the refund and stops before marking the withdrawal.
	h.entries.failStatusUpdate(errors.New("connection reset"), 1)
	event := domain.ConfirmationEvent{Event: domain.EventKindWithdrawalFailed, TransactionID: "wd-eth"}
	if _, err := h.reconciler.Handle(ctx, event); err == nil {
		t.Fatalf("expected the first delivery to fail")
	}

	if _, err := h.store.Entries().GetByIdempotencyKey(ctx, "wd-eth:reversal"); err != nil {
		t.Fatalf("refund from the first delivery missing: %v", err)
	}

	if _, err := h.reconciler.Handle(ctx, event); err != nil {
		t.Fatalf("handle failed: %v", err)
	}

	assertAmounts(t, h.balance(t, 1, "ETH"), "1", "0")

	withdrawal, _ := h.store.Entries().GetByIdempotencyKey(ctx, "wd-eth")
	if withdrawal.Status != domain.EntryStatusFailed || withdrawal.Settlement.Metadata["failure_reason"] != "unspecified" {
		t.Fatalf("unexpected withdrawal: %+v", withdrawal)
	}
}

func TestConfirmationReconciler_DepositFailed(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	result, err := h.reconciler.Handle(ctx, domain.ConfirmationEvent{Event: domain.EventKindDepositFailed, TransactionID: "never-seen"})
	if err != nil {
		t.Fatalf("handle failed: %v", err)
	}
	if result.EntryID != "" {
		t.Fatalf("expected acknowledgement only, got %+v", result)
	}

	deposit := h.deposit(t, 1, "0.5", "BTC", "dep-9")

	result, err = h.reconciler.Handle(ctx, domain.ConfirmationEvent{Event: domain.EventKindDepositFailed, TransactionID: "dep-9", Reason: "reorg"})
	if err != nil {
		t.Fatalf("handle failed: %v", err)
	}
	if result.EntryID != deposit.EntryID || result.Duplicate {
		t.Fatalf("unexpected result: %+v", result)
	}

	entry, _ := h.store.Entries().GetByID(ctx, deposit.EntryID)
	if entry.Status != domain.EntryStatusFailed {
		t.Fatalf("expected failed deposit, got %s", entry.Status)
	}

	// Credited funds stay until reviewed.
	assertAmounts(t, h.balance(t, 1, "BTC"), "0.5", "0")
}

func TestConfirmationReconciler_UnknownKind(t *testing.T) {
	h := newHarness(t)

	event, err := domain.ParseConfirmationEvent([]byte(`{"type":"deposit_reversed","transaction_id":"x"}`))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	if _, err := h.reconciler.Handle(context.Background(), event); !errors.Is(err, domain.ErrUnknownEventKind) {
		t.Fatalf("expected ErrUnknownEventKind, got %v", err)
	}

	if got := testutil.ToFloat64(h.metrics.ConfirmationEvents.WithLabelValues("unknown", domain.CodeUnknownEventKind)); got != 1 {
		t.Fatalf("expected unknown event to be counted, got %v", got)
	}
	if n := len(h.outbox(t)); n != 0 {
		t.Fatalf("unknown event must not touch the ledger, got %d events", n)
	}
}

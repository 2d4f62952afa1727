package domain

import (
	"errors"
	"reflect"
	"testing"
	"time"
)

func TestNewEntryCopiesSnapshots(t *testing.T) {
	b := &Balance{ID: 3, UserID: 9, Currency: "ETH", Balance: dec("1")}
	before, after := b.Credit(dec("0.5"))

	e := NewEntry("e-1", b, EntryKindDeposit, dec("0.5"), before, after, "Deposit", time.Now()).WithKey("k-1")

	if e.BalanceID != 3 || e.UserID != 9 || e.Currency != "ETH" {
		t.Fatalf("entry not tied to balance: %+v", e)
	}
	if !e.BalanceBefore.Equal(dec("1")) || !e.BalanceAfter.Equal(dec("1.5")) {
		t.Fatalf("unexpected snapshots %s -> %s", e.BalanceBefore, e.BalanceAfter)
	}
	if e.Status != EntryStatusCompleted || e.Key() != "k-1" {
		t.Fatalf("unexpected status/key %s %q", e.Status, e.Key())
	}
	if e.WithKey("").Key() != "k-1" {
		t.Fatalf("empty key must not clear an existing key")
	}
}

func TestSettlementMergeIsIdempotent(t *testing.T) {
	txID := "0xabc"
	first := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	later := first.Add(time.Hour)

	update := Settlement{
		ExternalTxID:  &txID,
		Confirmations: 3,
		ProcessedAt:   &first,
		Metadata:      map[string]any{"network": "mainnet"},
	}

	once := Settlement{Metadata: map[string]any{"source": "api"}}.Merge(update)

	repeat := update
	repeat.ProcessedAt = &later
	twice := once.Merge(repeat)

	if !reflect.DeepEqual(once, twice) {
		t.Fatalf("merge did not converge:\n%+v\n%+v", once, twice)
	}
	if !twice.ProcessedAt.Equal(first) {
		t.Fatalf("processed_at must keep the first confirmation time")
	}
	if twice.Metadata["source"] != "api" || twice.Metadata["network"] != "mainnet" {
		t.Fatalf("metadata not merged: %v", twice.Metadata)
	}
}

func TestEntryKindValid(t *testing.T) {
	if !EntryKindRelease.Valid() || EntryKind("bonus").Valid() {
		t.Fatalf("unexpected kind validity")
	}
}

func TestCurrenciesLookup(t *testing.T) {
	c := NewCurrencies(CurrencyConfig{Code: " btc ", WithdrawalFee: dec("0.0005")})

	cfg, err := c.Lookup("BTC")
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if !cfg.MinDeposit.Equal(DefaultMinDeposit) || !cfg.MinWithdrawal.Equal(DefaultMinWithdrawal) {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
	if !cfg.WithdrawalFee.Equal(dec("0.0005")) {
		t.Fatalf("fee lost: %s", cfg.WithdrawalFee)
	}

	if _, err := c.Lookup("DOGE"); !errors.Is(err, ErrUnsupportedCurrency) {
		t.Fatalf("expected ErrUnsupportedCurrency, got %v", err)
	}

	if got := DefaultCurrencies().Codes(); !reflect.DeepEqual(got, []string{"BTC", "ETH", "USDT"}) {
		t.Fatalf("unexpected default codes %v", got)
	}
}

func TestParseConfirmationEvent(t *testing.T) {
	event, err := ParseConfirmationEvent([]byte(`{"type":"deposit_confirmed","user_id":4,"amount":"1.5","currency":"BTC","transaction_id":"t-1","blockchain_tx_id":"0x1","confirmations":2}`))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if event.Kind() != EventKindDepositConfirmed || !event.Amount.Equal(dec("1.5")) {
		t.Fatalf("unexpected event %+v", event)
	}

	if _, err := ParseConfirmationEvent([]byte(`{`)); !errors.Is(err, ErrInvalidEvent) {
		t.Fatalf("expected ErrInvalidEvent, got %v", err)
	}
}

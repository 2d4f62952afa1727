package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Outbox event types
const (
	EventTypeDepositCompleted    = "ledger.deposit.completed"
	EventTypeWithdrawalCompleted = "ledger.withdrawal.completed"
	EventTypeTransferCompleted   = "ledger.transfer.completed"
	EventTypeFeeCharged          = "ledger.fee.charged"
	EventTypeRefundCompleted     = "ledger.refund.completed"
	EventTypeEntryConfirmed      = "ledger.entry.confirmed"
	EventTypeEntryFailed         = "ledger.entry.failed"
	EventTypeReservationReleased = "ledger.reservation.released"
)

// Aggregate types
const (
	AggregateTypeEntry   = "ledger_entry"
	AggregateTypeBalance = "balance"
)

// OutboxEvent represents an event to be published
type OutboxEvent struct {
	ID            string
	AggregateID   string
	AggregateType string
	EventType     string
	Payload       map[string]any
	CreatedAt     time.Time
	PublishedAt   *time.Time
	Published     bool
}

// EntryEventPayload is the payload shared by entry events.
func EntryEventPayload(e *LedgerEntry) map[string]any {
	return map[string]any{
		"entry_id":      e.ID,
		"user_id":       e.UserID,
		"kind":          string(e.Kind),
		"amount":        e.Amount.String(),
		"currency":      e.Currency,
		"balance_after": e.BalanceAfter.String(),
		"status":        string(e.Status),
	}
}

// EventKind names an inbound confirmation event.
type EventKind string

const (
	EventKindDepositConfirmed    EventKind = "deposit_confirmed"
	EventKindWithdrawalConfirmed EventKind = "withdrawal_confirmed"
	EventKindDepositFailed       EventKind = "deposit_failed"
	EventKindWithdrawalFailed    EventKind = "withdrawal_failed"
)

// ConfirmationEvent is an asynchronous settlement notification from an
// external observer (for example a blockchain watcher).
type ConfirmationEvent struct {
	Event          EventKind       `json:"event,omitempty"`
	Type           EventKind       `json:"type,omitempty"`
	UserID         int64           `json:"user_id,omitempty"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency,omitempty"`
	TransactionID  string          `json:"transaction_id,omitempty"`
	BlockchainTxID string          `json:"blockchain_tx_id,omitempty"`
	Confirmations  int             `json:"confirmations,omitempty"`
	Reason         string          `json:"reason,omitempty"`
	Description    string          `json:"description,omitempty"`
	Metadata       map[string]any  `json:"metadata,omitempty"`
}

// Kind returns the event kind, preferring "event" over "type".
func (e ConfirmationEvent) Kind() EventKind {
	if e.Event != "" {
		return e.Event
	}
	return e.Type
}

// ParseConfirmationEvent decodes a JSON confirmation event.
func ParseConfirmationEvent(data []byte) (ConfirmationEvent, error) {
	var event ConfirmationEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return ConfirmationEvent{}, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	return event, nil
}

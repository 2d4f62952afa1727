package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// EntryKind classifies a ledger entry.
type EntryKind string

const (
	EntryKindDeposit    EntryKind = "deposit"
	EntryKindWithdrawal EntryKind = "withdrawal"
	EntryKindTransfer   EntryKind = "transfer"
	EntryKindReserve    EntryKind = "reserve"
	EntryKindRelease    EntryKind = "release"
	EntryKindFee        EntryKind = "fee"
	EntryKindRefund     EntryKind = "refund"
)

// Valid reports whether k is a known kind.
func (k EntryKind) Valid() bool {
	switch k {
	case EntryKindDeposit, EntryKindWithdrawal, EntryKindTransfer,
		EntryKindReserve, EntryKindRelease, EntryKindFee, EntryKindRefund:
		return true
	}
	return false
}

// EntryStatus is the lifecycle status of an entry.
type EntryStatus string

const (
	EntryStatusPending   EntryStatus = "pending"
	EntryStatusCompleted EntryStatus = "completed"
	EntryStatusFailed    EntryStatus = "failed"
	EntryStatusCancelled EntryStatus = "cancelled"
)

// LedgerEntry is one immutable record of a balance-affecting event.
// Only Settlement and Status change after creation.
type LedgerEntry struct {
	ID             string
	BalanceID      int64
	UserID         int64
	Kind           EntryKind
	Amount         decimal.Decimal
	Currency       string
	BalanceBefore  decimal.Decimal
	BalanceAfter   decimal.Decimal
	ReservedBefore decimal.Decimal
	ReservedAfter  decimal.Decimal
	IdempotencyKey *string
	ExternalID     *string
	Settlement     Settlement
	Status         EntryStatus
	Description    string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Settlement is external confirmation data attached after the fact.
type Settlement struct {
	ExternalTxID  *string
	Confirmations int
	ProcessedAt   *time.Time
	Metadata      map[string]any
}

// NewEntry builds a completed entry from a balance transition.
func NewEntry(id string, b *Balance, kind EntryKind, amount decimal.Decimal, before, after Snapshot, description string, now time.Time) *LedgerEntry {
	return &LedgerEntry{
		ID:             id,
		BalanceID:      b.ID,
		UserID:         b.UserID,
		Kind:           kind,
		Amount:         amount,
		Currency:       b.Currency,
		BalanceBefore:  before.Balance,
		BalanceAfter:   after.Balance,
		ReservedBefore: before.Reserved,
		ReservedAfter:  after.Reserved,
		Status:         EntryStatusCompleted,
		Description:    description,
		Settlement:     Settlement{Metadata: map[string]any{}},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// WithKey sets the idempotency key. An empty key leaves the entry unkeyed.
func (e *LedgerEntry) WithKey(key string) *LedgerEntry {
	if key != "" {
		k := key
		e.IdempotencyKey = &k
	}
	return e
}

// WithMetadata merges data into the settlement metadata.
func (e *LedgerEntry) WithMetadata(data map[string]any) *LedgerEntry {
	if e.Settlement.Metadata == nil {
		e.Settlement.Metadata = map[string]any{}
	}
	for k, v := range data {
		e.Settlement.Metadata[k] = v
	}
	return e
}

// Key returns the idempotency key or "".
func (e *LedgerEntry) Key() string {
	if e.IdempotencyKey == nil {
		return ""
	}
	return *e.IdempotencyKey
}

// After returns the after-snapshot.
func (e *LedgerEntry) After() Snapshot {
	return Snapshot{Balance: e.BalanceAfter, Reserved: e.ReservedAfter}
}

// Merge applies an update to the settlement. The processed timestamp is
// kept from the first confirmation so repeated merges converge.
func (s Settlement) Merge(update Settlement) Settlement {
	merged := Settlement{
		ExternalTxID:  s.ExternalTxID,
		Confirmations: s.Confirmations,
		ProcessedAt:   s.ProcessedAt,
		Metadata:      make(map[string]any, len(s.Metadata)+len(update.Metadata)),
	}

	if update.ExternalTxID != nil {
		merged.ExternalTxID = update.ExternalTxID
	}
	if update.Confirmations > 0 {
		merged.Confirmations = update.Confirmations
	}
	if merged.ProcessedAt == nil {
		merged.ProcessedAt = update.ProcessedAt
	}

	for k, v := range s.Metadata {
		merged.Metadata[k] = v
	}
	for k, v := range update.Metadata {
		merged.Metadata[k] = v
	}

	return merged
}

// EntryFilter narrows an entry listing.
type EntryFilter struct {
	Currency string
	Kind     EntryKind
	Limit    int
	Offset   int
}

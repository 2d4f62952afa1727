package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Consistency issue reasons
const (
	IssueNegativeAmount   = "negative_amount"
	IssueOverReserved     = "reserved_exceeds_balance"
	IssueMissingHistory   = "missing_history"
	IssueSnapshotMismatch = "snapshot_mismatch"
)

// BalanceCheck pairs a balance with the after-snapshot of its latest entry.
type BalanceCheck struct {
	LatestEntryID *string
	EntryAfter    Snapshot
	Currency      string
	Balance       decimal.Decimal
	Reserved      decimal.Decimal
	BalanceID     int64
	UserID        int64
}

// Issue returns the first rule the check violates, or "".
func (c BalanceCheck) Issue() string {
	switch {
	case c.Balance.IsNegative() || c.Reserved.IsNegative():
		return IssueNegativeAmount
	case c.Reserved.GreaterThan(c.Balance):
		return IssueOverReserved
	case c.LatestEntryID == nil:
		if !c.Balance.IsZero() || !c.Reserved.IsZero() {
			return IssueMissingHistory
		}
		return ""
	case !c.EntryAfter.Balance.Equal(c.Balance) || !c.EntryAfter.Reserved.Equal(c.Reserved):
		return IssueSnapshotMismatch
	}
	return ""
}

// ConsistencyIssue is one balance that failed the check.
type ConsistencyIssue struct {
	BalanceCheck
	Reason string
}

// ConsistencyReport is the outcome of a ledger-wide check.
type ConsistencyReport struct {
	CheckedAt  time.Time
	Issues     []ConsistencyIssue
	Checked    int
	Consistent bool
}

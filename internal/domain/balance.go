package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Balance is one user's holdings in one currency.
type Balance struct {
	ID        int64
	UserID    int64
	Currency  string
	Balance   decimal.Decimal
	Reserved  decimal.Decimal
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewBalance returns a zeroed balance for the pair.
func NewBalance(userID int64, currency string, now time.Time) *Balance {
	return &Balance{
		UserID:    userID,
		Currency:  currency,
		Balance:   decimal.Zero,
		Reserved:  decimal.Zero,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Available returns balance minus reserved.
func (b *Balance) Available() decimal.Decimal {
	return b.Balance.Sub(b.Reserved)
}

// CanSpend reports whether amount fits into the available balance.
func (b *Balance) CanSpend(amount decimal.Decimal) bool {
	return b.Available().GreaterThanOrEqual(amount)
}

// Validate checks the committed-state invariants.
func (b *Balance) Validate() error {
	if b.Balance.IsNegative() || b.Reserved.IsNegative() {
		return ErrInsufficientFunds
	}

	if b.Reserved.GreaterThan(b.Balance) {
		return ErrInsufficientFunds
	}

	return nil
}

// Snapshot captures the amounts of a balance at a point in time.
type Snapshot struct {
	Balance  decimal.Decimal
	Reserved decimal.Decimal
}

// Snapshot returns the current amounts.
func (b *Balance) Snapshot() Snapshot {
	return Snapshot{Balance: b.Balance, Reserved: b.Reserved}
}

// Reserve earmarks amount and returns the before/after snapshots.
func (b *Balance) Reserve(amount decimal.Decimal) (Snapshot, Snapshot, error) {
	if !b.CanSpend(amount) {
		return Snapshot{}, Snapshot{}, ErrInsufficientFunds
	}

	before := b.Snapshot()
	b.Reserved = b.Reserved.Add(amount)

	return before, b.Snapshot(), nil
}

// Release returns amount from reserved to available.
func (b *Balance) Release(amount decimal.Decimal) (Snapshot, Snapshot, error) {
	if b.Reserved.LessThan(amount) {
		return Snapshot{}, Snapshot{}, ErrInsufficientFunds
	}

	before := b.Snapshot()
	b.Reserved = b.Reserved.Sub(amount)

	return before, b.Snapshot(), nil
}

// SettleReserved deducts amount from both balance and reserved.
func (b *Balance) SettleReserved(amount decimal.Decimal) (Snapshot, Snapshot, error) {
	if b.Reserved.LessThan(amount) || b.Balance.LessThan(amount) {
		return Snapshot{}, Snapshot{}, ErrInsufficientFunds
	}

	before := b.Snapshot()
	b.Balance = b.Balance.Sub(amount)
	b.Reserved = b.Reserved.Sub(amount)

	return before, b.Snapshot(), nil
}

// Credit adds amount to the balance.
func (b *Balance) Credit(amount decimal.Decimal) (Snapshot, Snapshot) {
	before := b.Snapshot()
	b.Balance = b.Balance.Add(amount)

	return before, b.Snapshot()
}

// Debit removes amount from the available balance in one step.
func (b *Balance) Debit(amount decimal.Decimal) (Snapshot, Snapshot, error) {
	if !b.CanSpend(amount) {
		return Snapshot{}, Snapshot{}, ErrInsufficientFunds
	}

	before := b.Snapshot()
	b.Balance = b.Balance.Sub(amount)

	return before, b.Snapshot(), nil
}

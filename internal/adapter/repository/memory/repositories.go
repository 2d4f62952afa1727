package memory

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/iho/cryptoledger/internal/domain"
	"github.com/iho/cryptoledger/internal/usecase"
)

// BalanceRepository implements usecase.BalanceRepository.
type BalanceRepository struct {
	store *Store
}

// Balances returns the balance repository of the store.
func (s *Store) Balances() *BalanceRepository {
	return &BalanceRepository{store: s}
}

// EnsureExists creates the balance row on first use.
func (r *BalanceRepository) EnsureExists(ctx context.Context, tx usecase.Transaction, userID int64, currency string) (int64, error) {
	var id int64

	err := r.store.write(tx, func(d *state) error {
		key := pairKey{userID: userID, currency: currency}
		if existing, ok := d.pairs[key]; ok {
			id = existing
			return nil
		}

		d.nextBalanceID++
		id = d.nextBalanceID

		b := domain.NewBalance(userID, currency, time.Now().UTC())
		b.ID = id
		d.balances[id] = *b
		d.pairs[key] = id

		return nil
	})

	return id, err
}

// GetByIDsForUpdate returns copies of the balances in ascending id order.
func (r *BalanceRepository) GetByIDsForUpdate(ctx context.Context, tx usecase.Transaction, ids []int64) ([]*domain.Balance, error) {
	var balances []*domain.Balance

	err := r.store.write(tx, func(d *state) error {
		sorted := append([]int64(nil), ids...)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

		for _, id := range sorted {
			if b, ok := d.balances[id]; ok {
				copied := b
				balances = append(balances, &copied)
			}
		}

		return nil
	})

	return balances, err
}

// UpdateAmounts stores new amounts. It enforces the same rules as the
// database CHECK constraints.
func (r *BalanceRepository) UpdateAmounts(ctx context.Context, tx usecase.Transaction, id int64, balance, reserved decimal.Decimal, updatedAt time.Time) error {
	return r.store.write(tx, func(d *state) error {
		b, ok := d.balances[id]
		if !ok {
			return domain.ErrBalanceNotFound
		}

		b.Balance = balance
		b.Reserved = reserved

		if err := b.Validate(); err != nil {
			return err
		}

		b.Version++
		b.UpdatedAt = updatedAt
		d.balances[id] = b

		return nil
	})
}

// GetByUserCurrency returns a committed balance.
func (r *BalanceRepository) GetByUserCurrency(ctx context.Context, userID int64, currency string) (*domain.Balance, error) {
	var balance *domain.Balance

	err := r.store.committed(ctx, func(d *state) error {
		id, ok := d.pairs[pairKey{userID: userID, currency: currency}]
		if !ok {
			return domain.ErrBalanceNotFound
		}

		b := d.balances[id]
		balance = &b

		return nil
	})

	return balance, err
}

// ListByUser returns a user's balances ordered by currency.
func (r *BalanceRepository) ListByUser(ctx context.Context, userID int64) ([]*domain.Balance, error) {
	balances := []*domain.Balance{}

	err := r.store.committed(ctx, func(d *state) error {
		for _, b := range d.balances {
			if b.UserID == userID {
				copied := b
				balances = append(balances, &copied)
			}
		}
		return nil
	})

	sort.Slice(balances, func(i, j int) bool { return balances[i].Currency < balances[j].Currency })

	return balances, err
}

// EntryRepository implements usecase.EntryRepository.
type EntryRepository struct {
	store *Store
}

// Entries returns the entry repository of the store.
func (s *Store) Entries() *EntryRepository {
	return &EntryRepository{store: s}
}

// Create appends an entry. Idempotency keys are unique.
func (r *EntryRepository) Create(ctx context.Context, tx usecase.Transaction, entry *domain.LedgerEntry) error {
	return r.store.write(tx, func(d *state) error {
		if key := entry.Key(); key != "" {
			if _, taken := d.keys[key]; taken {
				return domain.ErrDuplicateIdempotencyKey
			}
			d.keys[key] = entry.ID
		}

		if txID := entry.Settlement.ExternalTxID; txID != nil {
			d.externalTxIDs[*txID] = entry.ID
		}

		d.entryIndex[entry.ID] = len(d.entries)
		d.entries = append(d.entries, copyEntry(entry))

		return nil
	})
}

// GetByID returns a committed entry.
func (r *EntryRepository) GetByID(ctx context.Context, id string) (*domain.LedgerEntry, error) {
	var entry *domain.LedgerEntry

	err := r.store.committed(ctx, func(d *state) error {
		var err error
		entry, err = d.entryByID(id)
		return err
	})

	return entry, err
}

// GetByIDForUpdate returns an entry inside tx.
func (r *EntryRepository) GetByIDForUpdate(ctx context.Context, tx usecase.Transaction, id string) (*domain.LedgerEntry, error) {
	var entry *domain.LedgerEntry

	err := r.store.write(tx, func(d *state) error {
		var err error
		entry, err = d.entryByID(id)
		return err
	})

	return entry, err
}

// GetByIdempotencyKey returns the committed entry holding key.
func (r *EntryRepository) GetByIdempotencyKey(ctx context.Context, key string) (*domain.LedgerEntry, error) {
	var entry *domain.LedgerEntry

	err := r.store.committed(ctx, func(d *state) error {
		id, ok := d.keys[key]
		if !ok {
			return domain.ErrEntryNotFound
		}

		var err error
		entry, err = d.entryByID(id)
		return err
	})

	return entry, err
}

// GetByExternalTxID returns the oldest committed entry settled by txID.
func (r *EntryRepository) GetByExternalTxID(ctx context.Context, externalTxID string) (*domain.LedgerEntry, error) {
	var entry *domain.LedgerEntry

	err := r.store.committed(ctx, func(d *state) error {
		id, ok := d.externalTxIDs[externalTxID]
		if !ok {
			return domain.ErrEntryNotFound
		}

		var err error
		entry, err = d.entryByID(id)
		return err
	})

	return entry, err
}

// UpdateSettlement merges settlement data into an entry.
func (r *EntryRepository) UpdateSettlement(ctx context.Context, tx usecase.Transaction, id string, settlement domain.Settlement, updatedAt time.Time) error {
	return r.store.write(tx, func(d *state) error {
		i, ok := d.entryIndex[id]
		if !ok {
			return domain.ErrEntryNotFound
		}

		e := d.entries[i]
		e.Settlement = e.Settlement.Merge(settlement)
		e.UpdatedAt = updatedAt

		if txID := e.Settlement.ExternalTxID; txID != nil {
			if _, taken := d.externalTxIDs[*txID]; !taken {
				d.externalTxIDs[*txID] = e.ID
			}
		}

		return nil
	})
}

// UpdateStatus sets the status of an entry.
func (r *EntryRepository) UpdateStatus(ctx context.Context, tx usecase.Transaction, id string, status domain.EntryStatus, updatedAt time.Time) error {
	return r.store.write(tx, func(d *state) error {
		i, ok := d.entryIndex[id]
		if !ok {
			return domain.ErrEntryNotFound
		}

		d.entries[i].Status = status
		d.entries[i].UpdatedAt = updatedAt

		return nil
	})
}

// ListByUser returns a user's entries, newest first.
func (r *EntryRepository) ListByUser(ctx context.Context, userID int64, filter domain.EntryFilter) ([]*domain.LedgerEntry, error) {
	entries := []*domain.LedgerEntry{}

	err := r.store.committed(ctx, func(d *state) error {
		skipped := 0
		for i := len(d.entries) - 1; i >= 0; i-- {
			e := d.entries[i]

			if e.UserID != userID ||
				(filter.Currency != "" && e.Currency != filter.Currency) ||
				(filter.Kind != "" && e.Kind != filter.Kind) {
				continue
			}

			if skipped < filter.Offset {
				skipped++
				continue
			}

			if filter.Limit > 0 && len(entries) >= filter.Limit {
				break
			}

			entries = append(entries, copyEntry(e))
		}
		return nil
	})

	return entries, err
}

func (d *state) entryByID(id string) (*domain.LedgerEntry, error) {
	i, ok := d.entryIndex[id]
	if !ok {
		return nil, domain.ErrEntryNotFound
	}
	return copyEntry(d.entries[i]), nil
}

// LedgerRepository implements usecase.LedgerRepository.
type LedgerRepository struct {
	store *Store
}

// Ledger returns the ledger-wide repository of the store.
func (s *Store) Ledger() *LedgerRepository {
	return &LedgerRepository{store: s}
}

// ListBalanceChecks pairs balances with the after-snapshot of their latest entry.
func (r *LedgerRepository) ListBalanceChecks(ctx context.Context, afterID int64, limit int) ([]domain.BalanceCheck, error) {
	var checks []domain.BalanceCheck

	err := r.store.committed(ctx, func(d *state) error {
		latest := make(map[int64]*domain.LedgerEntry)
		for _, e := range d.entries {
			latest[e.BalanceID] = e
		}

		ids := make([]int64, 0, len(d.balances))
		for id := range d.balances {
			if id > afterID {
				ids = append(ids, id)
			}
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

		if limit > 0 && len(ids) > limit {
			ids = ids[:limit]
		}

		for _, id := range ids {
			b := d.balances[id]
			check := domain.BalanceCheck{
				BalanceID: b.ID,
				UserID:    b.UserID,
				Currency:  b.Currency,
				Balance:   b.Balance,
				Reserved:  b.Reserved,
			}

			if e, ok := latest[id]; ok {
				entryID := e.ID
				check.LatestEntryID = &entryID
				check.EntryAfter = e.After()
			}

			checks = append(checks, check)
		}

		return nil
	})

	return checks, err
}

// OutboxRepository implements usecase.OutboxRepository.
type OutboxRepository struct {
	store *Store
}

// Outbox returns the outbox repository of the store.
func (s *Store) Outbox() *OutboxRepository {
	return &OutboxRepository{store: s}
}

// Create stores an outbox event inside tx.
func (r *OutboxRepository) Create(ctx context.Context, tx usecase.Transaction, event *domain.OutboxEvent) error {
	return r.store.write(tx, func(d *state) error {
		copied := *event
		d.outbox = append(d.outbox, &copied)
		return nil
	})
}

// GetUnpublished returns the oldest unpublished events.
func (r *OutboxRepository) GetUnpublished(ctx context.Context, limit int) ([]*domain.OutboxEvent, error) {
	var events []*domain.OutboxEvent

	err := r.store.committed(ctx, func(d *state) error {
		for _, e := range d.outbox {
			if e.Published {
				continue
			}
			if limit > 0 && len(events) >= limit {
				break
			}
			copied := *e
			events = append(events, &copied)
		}
		return nil
	})

	return events, err
}

// MarkPublished flags an event as published.
func (r *OutboxRepository) MarkPublished(ctx context.Context, id string, publishedAt time.Time) error {
	return r.store.committed(ctx, func(d *state) error {
		for _, e := range d.outbox {
			if e.ID == id {
				at := publishedAt
				e.Published = true
				e.PublishedAt = &at
				return nil
			}
		}
		return nil
	})
}

// DeletePublished drops events published before the cutoff.
func (r *OutboxRepository) DeletePublished(ctx context.Context, before time.Time) error {
	return r.store.committed(ctx, func(d *state) error {
		kept := d.outbox[:0]
		for _, e := range d.outbox {
			if e.Published && e.PublishedAt != nil && e.PublishedAt.Before(before) {
				continue
			}
			kept = append(kept, e)
		}
		d.outbox = kept
		return nil
	})
}

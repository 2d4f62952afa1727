package usecase

import (
	"context"
	"sort"
	"time"

	"github.com/iho/cryptoledger/internal/domain"
)

// BalanceStore resolves and locks balances inside a unit of work.
type BalanceStore struct {
	repo       BalanceRepository
	currencies domain.Currencies
}

// NewBalanceStore creates a new BalanceStore.
func NewBalanceStore(repo BalanceRepository, currencies domain.Currencies) *BalanceStore {
	return &BalanceStore{
		repo:       repo,
		currencies: currencies,
	}
}

// GetOrCreate returns the locked balance of (userID, currency), creating a
// zero balance on first use.
func (s *BalanceStore) GetOrCreate(ctx context.Context, tx Transaction, userID int64, currency string) (*domain.Balance, error) {
	cfg, err := s.currencies.Lookup(currency)
	if err != nil {
		return nil, err
	}

	id, err := s.repo.EnsureExists(ctx, tx, userID, cfg.Code)
	if err != nil {
		return nil, err
	}

	balances, err := s.repo.GetByIDsForUpdate(ctx, tx, []int64{id})
	if err != nil {
		return nil, err
	}

	if len(balances) != 1 {
		return nil, domain.ErrBalanceNotFound
	}

	return balances[0], nil
}

// GetOrCreatePair locks the balances of two users in ascending id order so
// that concurrent transfers in opposite directions cannot deadlock.
func (s *BalanceStore) GetOrCreatePair(ctx context.Context, tx Transaction, fromUserID, toUserID int64, currency string) (*domain.Balance, *domain.Balance, error) {
	cfg, err := s.currencies.Lookup(currency)
	if err != nil {
		return nil, nil, err
	}

	fromID, err := s.repo.EnsureExists(ctx, tx, fromUserID, cfg.Code)
	if err != nil {
		return nil, nil, err
	}

	toID, err := s.repo.EnsureExists(ctx, tx, toUserID, cfg.Code)
	if err != nil {
		return nil, nil, err
	}

	if fromID == toID {
		return nil, nil, domain.ErrSelfTransfer
	}

	ids := []int64{fromID, toID}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	balances, err := s.repo.GetByIDsForUpdate(ctx, tx, ids)
	if err != nil {
		return nil, nil, err
	}

	var from, to *domain.Balance
	for _, b := range balances {
		switch b.ID {
		case fromID:
			from = b
		case toID:
			to = b
		}
	}

	if from == nil || to == nil {
		return nil, nil, domain.ErrBalanceNotFound
	}

	return from, to, nil
}

// Save persists the amounts of a locked balance after checking invariants.
func (s *BalanceStore) Save(ctx context.Context, tx Transaction, b *domain.Balance, now time.Time) error {
	if err := b.Validate(); err != nil {
		return err
	}

	if err := s.repo.UpdateAmounts(ctx, tx, b.ID, b.Balance, b.Reserved, now); err != nil {
		return err
	}

	b.Version++
	b.UpdatedAt = now

	return nil
}

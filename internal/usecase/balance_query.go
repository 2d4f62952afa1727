package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/iho/cryptoledger/internal/domain"
	"github.com/iho/cryptoledger/internal/infrastructure/metrics"
)

// BalanceQuery serves read-only views of balances and history.
type BalanceQuery struct {
	balanceRepo BalanceRepository
	entryRepo   EntryRepository
	currencies  domain.Currencies
	cache       Cache
	metrics     *metrics.Metrics
	logger      zerolog.Logger
}

// NewBalanceQuery creates a new BalanceQuery. cache and metrics may be nil.
func NewBalanceQuery(
	balanceRepo BalanceRepository,
	entryRepo EntryRepository,
	currencies domain.Currencies,
	cache Cache,
	metrics *metrics.Metrics,
	logger zerolog.Logger,
) *BalanceQuery {
	return &BalanceQuery{
		balanceRepo: balanceRepo,
		entryRepo:   entryRepo,
		currencies:  currencies,
		cache:       cache,
		metrics:     metrics,
		logger:      logger.With().Str("component", "balance_query").Logger(),
	}
}

type cachedBalance struct {
	UpdatedAt time.Time       `json:"updated_at"`
	Currency  string          `json:"currency"`
	Balance   decimal.Decimal `json:"balance"`
	Reserved  decimal.Decimal `json:"reserved"`
	ID        int64           `json:"id"`
	UserID    int64           `json:"user_id"`
	Version   int64           `json:"version"`
}

func toCached(b *domain.Balance) cachedBalance {
	return cachedBalance{
		UpdatedAt: b.UpdatedAt,
		Currency:  b.Currency,
		Balance:   b.Balance,
		Reserved:  b.Reserved,
		ID:        b.ID,
		UserID:    b.UserID,
		Version:   b.Version,
	}
}

func (c cachedBalance) toDomain() *domain.Balance {
	return &domain.Balance{
		ID:        c.ID,
		UserID:    c.UserID,
		Currency:  c.Currency,
		Balance:   c.Balance,
		Reserved:  c.Reserved,
		Version:   c.Version,
		UpdatedAt: c.UpdatedAt,
	}
}

// GetBalance returns the balance of a user in one currency. A currency the
// user never touched reads as zero.
func (q *BalanceQuery) GetBalance(ctx context.Context, userID int64, currency string) (*domain.Balance, error) {
	if err := domain.ValidateUserID(userID); err != nil {
		return nil, err
	}

	cfg, err := q.currencies.Lookup(currency)
	if err != nil {
		return nil, err
	}

	key := balanceCacheKey(userID, cfg.Code)

	var cached cachedBalance
	if q.fromCache(ctx, key, &cached) {
		return cached.toDomain(), nil
	}

	b, err := q.balanceRepo.GetByUserCurrency(ctx, userID, cfg.Code)
	if errors.Is(err, domain.ErrBalanceNotFound) {
		return domain.NewBalance(userID, cfg.Code, time.Now().UTC()), nil
	}
	if err != nil {
		return nil, err
	}

	q.toCache(ctx, key, toCached(b))

	return b, nil
}

// ListBalances returns every balance of a user.
func (q *BalanceQuery) ListBalances(ctx context.Context, userID int64) ([]*domain.Balance, error) {
	if err := domain.ValidateUserID(userID); err != nil {
		return nil, err
	}

	key := balanceListCacheKey(userID)

	var cached []cachedBalance
	if q.fromCache(ctx, key, &cached) {
		balances := make([]*domain.Balance, 0, len(cached))
		for _, c := range cached {
			balances = append(balances, c.toDomain())
		}
		return balances, nil
	}

	balances, err := q.balanceRepo.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	toStore := make([]cachedBalance, 0, len(balances))
	for _, b := range balances {
		toStore = append(toStore, toCached(b))
	}
	q.toCache(ctx, key, toStore)

	return balances, nil
}

// ListEntries returns a page of a user's history, newest first.
func (q *BalanceQuery) ListEntries(ctx context.Context, userID int64, filter domain.EntryFilter) ([]*domain.LedgerEntry, error) {
	if err := domain.ValidateUserID(userID); err != nil {
		return nil, err
	}

	if filter.Currency != "" {
		cfg, err := q.currencies.Lookup(filter.Currency)
		if err != nil {
			return nil, err
		}
		filter.Currency = cfg.Code
	}

	if filter.Kind != "" && !filter.Kind.Valid() {
		return nil, domain.ErrInvalidFilter
	}

	filter.Limit, filter.Offset = domain.ValidatePagination(filter.Limit, filter.Offset)

	return q.entryRepo.ListByUser(ctx, userID, filter)
}

// GetEntry returns one of the user's entries. Entries of other users are
// reported as missing.
func (q *BalanceQuery) GetEntry(ctx context.Context, userID int64, id string) (*domain.LedgerEntry, error) {
	entry, err := q.entryRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if entry.UserID != userID {
		return nil, domain.ErrEntryNotFound
	}

	return entry, nil
}

func (q *BalanceQuery) fromCache(ctx context.Context, key string, dst any) bool {
	if q.cache == nil {
		return false
	}

	raw, err := q.cache.Get(ctx, key)
	if err == nil {
		err = json.Unmarshal([]byte(raw), dst)
	}

	hit := err == nil
	if q.metrics != nil {
		result := "miss"
		if hit {
			result = "hit"
		}
		q.metrics.CacheLookups.WithLabelValues(result).Inc()
	}

	return hit
}

func (q *BalanceQuery) toCache(ctx context.Context, key string, value any) {
	if q.cache == nil {
		return
	}

	raw, err := json.Marshal(value)
	if err != nil {
		return
	}

	if err := q.cache.Set(ctx, key, string(raw), BalanceCacheTTL); err != nil {
		q.logger.Debug().Err(err).Str("key", key).Msg("failed to cache balance")
	}
}

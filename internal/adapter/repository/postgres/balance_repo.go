package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/iho/cryptoledger/internal/domain"
	"github.com/iho/cryptoledger/internal/infrastructure/postgres/generated"
	"github.com/iho/cryptoledger/internal/usecase"
)

// BalanceRepository implements usecase.BalanceRepository.
type BalanceRepository struct {
	queries *generated.Queries
}

// NewBalanceRepository creates a new BalanceRepository.
func NewBalanceRepository(pool *pgxpool.Pool) *BalanceRepository {
	return newBalanceRepositoryWithDB(pool)
}

func newBalanceRepositoryWithDB(db generated.DBTX) *BalanceRepository {
	return &BalanceRepository{queries: generated.New(db)}
}

// EnsureExists inserts the (user, currency) row unless it exists and
// returns its id.
func (r *BalanceRepository) EnsureExists(ctx context.Context, tx usecase.Transaction, userID int64, currency string) (int64, error) {
	pgxTx, err := pgxTxFrom(tx)
	if err != nil {
		return 0, err
	}

	id, err := generated.New(pgxTx).EnsureBalance(ctx, generated.EnsureBalanceParams{
		UserID:    userID,
		Currency:  currency,
		CreatedAt: timeToPgTimestamptz(time.Now().UTC()),
	})
	if errors.Is(err, pgx.ErrNoRows) {
		// Inserted concurrently and not visible to this snapshot yet.
		return 0, domain.ErrTransientConflict
	}
	if err != nil {
		return 0, translateError(err)
	}

	return id, nil
}

// GetByIDsForUpdate locks balances in ascending id order.
func (r *BalanceRepository) GetByIDsForUpdate(ctx context.Context, tx usecase.Transaction, ids []int64) ([]*domain.Balance, error) {
	pgxTx, err := pgxTxFrom(tx)
	if err != nil {
		return nil, err
	}

	rows, err := generated.New(pgxTx).GetBalancesByIDsForUpdate(ctx, ids)
	if err != nil {
		return nil, translateError(err)
	}

	balances := make([]*domain.Balance, 0, len(rows))
	for _, row := range rows {
		balances = append(balances, rowToBalance(row))
	}

	return balances, nil
}

// UpdateAmounts writes balance and reserved and bumps the version.
func (r *BalanceRepository) UpdateAmounts(ctx context.Context, tx usecase.Transaction, id int64, balance, reserved decimal.Decimal, updatedAt time.Time) error {
	pgxTx, err := pgxTxFrom(tx)
	if err != nil {
		return err
	}

	affected, err := generated.New(pgxTx).UpdateBalanceAmounts(ctx, generated.UpdateBalanceAmountsParams{
		ID:        id,
		Balance:   decimalToNumeric(balance),
		Reserved:  decimalToNumeric(reserved),
		UpdatedAt: timeToPgTimestamptz(updatedAt),
	})
	if err != nil {
		return translateError(err)
	}

	if affected == 0 {
		return domain.ErrBalanceNotFound
	}

	return nil
}

// GetByUserCurrency retrieves a balance without locking it.
func (r *BalanceRepository) GetByUserCurrency(ctx context.Context, userID int64, currency string) (*domain.Balance, error) {
	row, err := r.queries.GetBalanceByUserCurrency(ctx, generated.GetBalanceByUserCurrencyParams{
		UserID:   userID,
		Currency: currency,
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrBalanceNotFound
	}
	if err != nil {
		return nil, translateError(err)
	}

	return rowToBalance(row), nil
}

// ListByUser retrieves all balances of a user.
func (r *BalanceRepository) ListByUser(ctx context.Context, userID int64) ([]*domain.Balance, error) {
	rows, err := r.queries.ListBalancesByUser(ctx, userID)
	if err != nil {
		return nil, translateError(err)
	}

	balances := make([]*domain.Balance, 0, len(rows))
	for _, row := range rows {
		balances = append(balances, rowToBalance(row))
	}

	return balances, nil
}

func rowToBalance(row generated.Balance) *domain.Balance {
	return &domain.Balance{
		ID:        row.ID,
		UserID:    row.UserID,
		Currency:  row.Currency,
		Balance:   numericToDecimal(row.Balance),
		Reserved:  numericToDecimal(row.Reserved),
		Version:   row.Version,
		CreatedAt: row.CreatedAt.Time,
		UpdatedAt: row.UpdatedAt.Time,
	}
}

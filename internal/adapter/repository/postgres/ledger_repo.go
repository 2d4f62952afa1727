package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/iho/cryptoledger/internal/domain"
	"github.com/iho/cryptoledger/internal/infrastructure/postgres/generated"
)

// LedgerRepository implements usecase.LedgerRepository.
type LedgerRepository struct {
	queries *generated.Queries
}

// NewLedgerRepository creates a new LedgerRepository.
func NewLedgerRepository(pool *pgxpool.Pool) *LedgerRepository {
	return newLedgerRepositoryWithDB(pool)
}

func newLedgerRepositoryWithDB(db generated.DBTX) *LedgerRepository {
	return &LedgerRepository{queries: generated.New(db)}
}

// ListBalanceChecks pairs each balance after afterID with the
// after-snapshot of its most recent entry.
func (r *LedgerRepository) ListBalanceChecks(ctx context.Context, afterID int64, limit int) ([]domain.BalanceCheck, error) {
	rows, err := r.queries.ListBalanceChecks(ctx, generated.ListBalanceChecksParams{
		AfterID: afterID,
		Limit:   int32(limit),
	})
	if err != nil {
		return nil, translateError(err)
	}

	checks := make([]domain.BalanceCheck, 0, len(rows))
	for _, row := range rows {
		checks = append(checks, domain.BalanceCheck{
			LatestEntryID: textToPtr(row.LatestEntryID),
			EntryAfter: domain.Snapshot{
				Balance:  numericToDecimal(row.BalanceAfter),
				Reserved: numericToDecimal(row.ReservedAfter),
			},
			Currency:  row.Currency,
			Balance:   numericToDecimal(row.Balance),
			Reserved:  numericToDecimal(row.Reserved),
			BalanceID: row.ID,
			UserID:    row.UserID,
		})
	}

	return checks, nil
}

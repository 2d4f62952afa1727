package generated

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

const listBalanceChecks = `-- name: ListBalanceChecks :many
SELECT b.id, b.user_id, b.currency, b.balance, b.reserved,
       latest.id AS latest_entry_id, latest.balance_after, latest.reserved_after
FROM balances b
LEFT JOIN LATERAL (
    SELECT le.id, le.balance_after, le.reserved_after
    FROM ledger_entries le
    WHERE le.balance_id = b.id
    ORDER BY le.seq DESC
    LIMIT 1
) latest ON TRUE
WHERE b.id > $1
ORDER BY b.id
LIMIT $2
`

type ListBalanceChecksParams struct {
	AfterID int64 `json:"after_id"`
	Limit   int32 `json:"limit"`
}

type ListBalanceChecksRow struct {
	ID            int64          `json:"id"`
	UserID        int64          `json:"user_id"`
	Currency      string         `json:"currency"`
	Balance       pgtype.Numeric `json:"balance"`
	Reserved      pgtype.Numeric `json:"reserved"`
	LatestEntryID pgtype.Text    `json:"latest_entry_id"`
	BalanceAfter  pgtype.Numeric `json:"balance_after"`
	ReservedAfter pgtype.Numeric `json:"reserved_after"`
}

func (q *Queries) ListBalanceChecks(ctx context.Context, arg ListBalanceChecksParams) ([]ListBalanceChecksRow, error) {
	rows, err := q.db.Query(ctx, listBalanceChecks, arg.AfterID, arg.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []ListBalanceChecksRow
	for rows.Next() {
		var i ListBalanceChecksRow
		if err := rows.Scan(
			&i.ID,
			&i.UserID,
			&i.Currency,
			&i.Balance,
			&i.Reserved,
			&i.LatestEntryID,
			&i.BalanceAfter,
			&i.ReservedAfter,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

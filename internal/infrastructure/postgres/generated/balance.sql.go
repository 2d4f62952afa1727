package generated

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

const ensureBalance = `-- name: EnsureBalance :one
WITH inserted AS (
    INSERT INTO balances (user_id, currency, created_at, updated_at)
    VALUES ($1, $2, $3, $3)
    ON CONFLICT (user_id, currency) DO NOTHING
    RETURNING id
)
SELECT id FROM inserted
UNION ALL
SELECT id FROM balances WHERE user_id = $1 AND currency = $2
LIMIT 1
`

type EnsureBalanceParams struct {
	UserID    int64              `json:"user_id"`
	Currency  string             `json:"currency"`
	CreatedAt pgtype.Timestamptz `json:"created_at"`
}

func (q *Queries) EnsureBalance(ctx context.Context, arg EnsureBalanceParams) (int64, error) {
	row := q.db.QueryRow(ctx, ensureBalance, arg.UserID, arg.Currency, arg.CreatedAt)
	var id int64
	err := row.Scan(&id)
	return id, err
}

const getBalanceByUserCurrency = `-- name: GetBalanceByUserCurrency :one
SELECT id, user_id, currency, balance, reserved, version, created_at, updated_at FROM balances
WHERE user_id = $1 AND currency = $2
`

type GetBalanceByUserCurrencyParams struct {
	UserID   int64  `json:"user_id"`
	Currency string `json:"currency"`
}

func (q *Queries) GetBalanceByUserCurrency(ctx context.Context, arg GetBalanceByUserCurrencyParams) (Balance, error) {
	row := q.db.QueryRow(ctx, getBalanceByUserCurrency, arg.UserID, arg.Currency)
	var i Balance
	err := row.Scan(
		&i.ID,
		&i.UserID,
		&i.Currency,
		&i.Balance,
		&i.Reserved,
		&i.Version,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

const getBalancesByIDsForUpdate = `-- name: GetBalancesByIDsForUpdate :many
SELECT id, user_id, currency, balance, reserved, version, created_at, updated_at FROM balances
WHERE id = ANY($1::bigint[])
ORDER BY id
FOR UPDATE
`

func (q *Queries) GetBalancesByIDsForUpdate(ctx context.Context, ids []int64) ([]Balance, error) {
	rows, err := q.db.Query(ctx, getBalancesByIDsForUpdate, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Balance
	for rows.Next() {
		var i Balance
		if err := rows.Scan(
			&i.ID,
			&i.UserID,
			&i.Currency,
			&i.Balance,
			&i.Reserved,
			&i.Version,
			&i.CreatedAt,
			&i.UpdatedAt,
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

const listBalancesByUser = `-- name: ListBalancesByUser :many
SELECT id, user_id, currency, balance, reserved, version, created_at, updated_at FROM balances
WHERE user_id = $1
ORDER BY currency
`

func (q *Queries) ListBalancesByUser(ctx context.Context, userID int64) ([]Balance, error) {
	rows, err := q.db.Query(ctx, listBalancesByUser, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Balance
	for rows.Next() {
		var i Balance
		if err := rows.Scan(
			&i.ID,
			&i.UserID,
			&i.Currency,
			&i.Balance,
			&i.Reserved,
			&i.Version,
			&i.CreatedAt,
			&i.UpdatedAt,
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

const updateBalanceAmounts = `-- name: UpdateBalanceAmounts :execrows
UPDATE balances
SET balance = $2, reserved = $3, version = version + 1, updated_at = $4
WHERE id = $1
`

type UpdateBalanceAmountsParams struct {
	ID        int64              `json:"id"`
	Balance   pgtype.Numeric     `json:"balance"`
	Reserved  pgtype.Numeric     `json:"reserved"`
	UpdatedAt pgtype.Timestamptz `json:"updated_at"`
}

func (q *Queries) UpdateBalanceAmounts(ctx context.Context, arg UpdateBalanceAmountsParams) (int64, error) {
	result, err := q.db.Exec(ctx, updateBalanceAmounts,
		arg.ID,
		arg.Balance,
		arg.Reserved,
		arg.UpdatedAt,
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

package generated

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

const ledgerEntryColumns = `seq, id, balance_id, user_id, kind, amount, currency, balance_before, balance_after, reserved_before, reserved_after, idempotency_key, external_id, external_tx_id, confirmations, processed_at, metadata, status, description, created_at, updated_at`

const createLedgerEntry = `-- name: CreateLedgerEntry :exec
INSERT INTO ledger_entries (
    id, balance_id, user_id, kind, amount, currency,
    balance_before, balance_after, reserved_before, reserved_after,
    idempotency_key, external_id, external_tx_id, confirmations, processed_at,
    metadata, status, description, created_at, updated_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
`

type CreateLedgerEntryParams struct {
	ID             string             `json:"id"`
	BalanceID      int64              `json:"balance_id"`
	UserID         int64              `json:"user_id"`
	Kind           string             `json:"kind"`
	Amount         pgtype.Numeric     `json:"amount"`
	Currency       string             `json:"currency"`
	BalanceBefore  pgtype.Numeric     `json:"balance_before"`
	BalanceAfter   pgtype.Numeric     `json:"balance_after"`
	ReservedBefore pgtype.Numeric     `json:"reserved_before"`
	ReservedAfter  pgtype.Numeric     `json:"reserved_after"`
	IdempotencyKey pgtype.Text        `json:"idempotency_key"`
	ExternalID     pgtype.Text        `json:"external_id"`
	ExternalTxID   pgtype.Text        `json:"external_tx_id"`
	Confirmations  int32              `json:"confirmations"`
	ProcessedAt    pgtype.Timestamptz `json:"processed_at"`
	Metadata       []byte             `json:"metadata"`
	Status         string             `json:"status"`
	Description    string             `json:"description"`
	CreatedAt      pgtype.Timestamptz `json:"created_at"`
	UpdatedAt      pgtype.Timestamptz `json:"updated_at"`
}

func (q *Queries) CreateLedgerEntry(ctx context.Context, arg CreateLedgerEntryParams) error {
	_, err := q.db.Exec(ctx, createLedgerEntry,
		arg.ID,
		arg.BalanceID,
		arg.UserID,
		arg.Kind,
		arg.Amount,
		arg.Currency,
		arg.BalanceBefore,
		arg.BalanceAfter,
		arg.ReservedBefore,
		arg.ReservedAfter,
		arg.IdempotencyKey,
		arg.ExternalID,
		arg.ExternalTxID,
		arg.Confirmations,
		arg.ProcessedAt,
		arg.Metadata,
		arg.Status,
		arg.Description,
		arg.CreatedAt,
		arg.UpdatedAt,
	)
	return err
}

const getLedgerEntry = `-- name: GetLedgerEntry :one
SELECT ` + ledgerEntryColumns + ` FROM ledger_entries
WHERE id = $1
`

func (q *Queries) GetLedgerEntry(ctx context.Context, id string) (LedgerEntry, error) {
	row := q.db.QueryRow(ctx, getLedgerEntry, id)
	return scanLedgerEntry(row)
}

const getLedgerEntryForUpdate = `-- name: GetLedgerEntryForUpdate :one
SELECT ` + ledgerEntryColumns + ` FROM ledger_entries
WHERE id = $1
FOR UPDATE
`

func (q *Queries) GetLedgerEntryForUpdate(ctx context.Context, id string) (LedgerEntry, error) {
	row := q.db.QueryRow(ctx, getLedgerEntryForUpdate, id)
	return scanLedgerEntry(row)
}

const getLedgerEntryByIdempotencyKey = `-- name: GetLedgerEntryByIdempotencyKey :one
SELECT ` + ledgerEntryColumns + ` FROM ledger_entries
WHERE idempotency_key = $1
`

func (q *Queries) GetLedgerEntryByIdempotencyKey(ctx context.Context, idempotencyKey pgtype.Text) (LedgerEntry, error) {
	row := q.db.QueryRow(ctx, getLedgerEntryByIdempotencyKey, idempotencyKey)
	return scanLedgerEntry(row)
}

const getLedgerEntryByExternalTxID = `-- name: GetLedgerEntryByExternalTxID :one
SELECT ` + ledgerEntryColumns + ` FROM ledger_entries
WHERE external_tx_id = $1
ORDER BY seq
LIMIT 1
`

func (q *Queries) GetLedgerEntryByExternalTxID(ctx context.Context, externalTxID pgtype.Text) (LedgerEntry, error) {
	row := q.db.QueryRow(ctx, getLedgerEntryByExternalTxID, externalTxID)
	return scanLedgerEntry(row)
}

const updateLedgerEntrySettlement = `-- name: UpdateLedgerEntrySettlement :execrows
UPDATE ledger_entries
SET external_tx_id = COALESCE($2, external_tx_id),
    confirmations = CASE WHEN $3::integer > 0 THEN $3::integer ELSE confirmations END,
    processed_at = COALESCE(processed_at, $4),
    metadata = metadata || $5::jsonb,
    updated_at = $6
WHERE id = $1
`

type UpdateLedgerEntrySettlementParams struct {
	ID            string             `json:"id"`
	ExternalTxID  pgtype.Text        `json:"external_tx_id"`
	Confirmations int32              `json:"confirmations"`
	ProcessedAt   pgtype.Timestamptz `json:"processed_at"`
	Metadata      []byte             `json:"metadata"`
	UpdatedAt     pgtype.Timestamptz `json:"updated_at"`
}

func (q *Queries) UpdateLedgerEntrySettlement(ctx context.Context, arg UpdateLedgerEntrySettlementParams) (int64, error) {
	result, err := q.db.Exec(ctx, updateLedgerEntrySettlement,
		arg.ID,
		arg.ExternalTxID,
		arg.Confirmations,
		arg.ProcessedAt,
		arg.Metadata,
		arg.UpdatedAt,
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

const updateLedgerEntryStatus = `-- name: UpdateLedgerEntryStatus :execrows
UPDATE ledger_entries
SET status = $2, updated_at = $3
WHERE id = $1
`

type UpdateLedgerEntryStatusParams struct {
	ID        string             `json:"id"`
	Status    string             `json:"status"`
	UpdatedAt pgtype.Timestamptz `json:"updated_at"`
}

func (q *Queries) UpdateLedgerEntryStatus(ctx context.Context, arg UpdateLedgerEntryStatusParams) (int64, error) {
	result, err := q.db.Exec(ctx, updateLedgerEntryStatus, arg.ID, arg.Status, arg.UpdatedAt)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

const listLedgerEntriesByUser = `-- name: ListLedgerEntriesByUser :many
SELECT ` + ledgerEntryColumns + ` FROM ledger_entries
WHERE user_id = $1
  AND ($2::text = '' OR currency = $2::text)
  AND ($3::text = '' OR kind = $3::text)
ORDER BY seq DESC
LIMIT $4 OFFSET $5
`

type ListLedgerEntriesByUserParams struct {
	UserID   int64  `json:"user_id"`
	Currency string `json:"currency"`
	Kind     string `json:"kind"`
	Limit    int32  `json:"limit"`
	Offset   int32  `json:"offset"`
}

func (q *Queries) ListLedgerEntriesByUser(ctx context.Context, arg ListLedgerEntriesByUserParams) ([]LedgerEntry, error) {
	rows, err := q.db.Query(ctx, listLedgerEntriesByUser,
		arg.UserID,
		arg.Currency,
		arg.Kind,
		arg.Limit,
		arg.Offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []LedgerEntry
	for rows.Next() {
		i, err := scanLedgerEntry(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLedgerEntry(row rowScanner) (LedgerEntry, error) {
	var i LedgerEntry
	err := row.Scan(
		&i.Seq,
		&i.ID,
		&i.BalanceID,
		&i.UserID,
		&i.Kind,
		&i.Amount,
		&i.Currency,
		&i.BalanceBefore,
		&i.BalanceAfter,
		&i.ReservedBefore,
		&i.ReservedAfter,
		&i.IdempotencyKey,
		&i.ExternalID,
		&i.ExternalTxID,
		&i.Confirmations,
		&i.ProcessedAt,
		&i.Metadata,
		&i.Status,
		&i.Description,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/iho/cryptoledger/internal/domain"
	"github.com/iho/cryptoledger/internal/infrastructure/postgres/generated"
	"github.com/iho/cryptoledger/internal/usecase"
)

// EntryRepository implements usecase.EntryRepository.
type EntryRepository struct {
	queries *generated.Queries
}

// NewEntryRepository creates a new EntryRepository.
func NewEntryRepository(pool *pgxpool.Pool) *EntryRepository {
	return newEntryRepositoryWithDB(pool)
}

func newEntryRepositoryWithDB(db generated.DBTX) *EntryRepository {
	return &EntryRepository{queries: generated.New(db)}
}

// Create appends an entry. A taken idempotency key fails with
// domain.ErrDuplicateIdempotencyKey.
func (r *EntryRepository) Create(ctx context.Context, tx usecase.Transaction, entry *domain.LedgerEntry) error {
	pgxTx, err := pgxTxFrom(tx)
	if err != nil {
		return err
	}

	metadata, err := marshalMetadata(entry.Settlement.Metadata)
	if err != nil {
		return err
	}

	err = generated.New(pgxTx).CreateLedgerEntry(ctx, generated.CreateLedgerEntryParams{
		ID:             entry.ID,
		BalanceID:      entry.BalanceID,
		UserID:         entry.UserID,
		Kind:           string(entry.Kind),
		Amount:         decimalToNumeric(entry.Amount),
		Currency:       entry.Currency,
		BalanceBefore:  decimalToNumeric(entry.BalanceBefore),
		BalanceAfter:   decimalToNumeric(entry.BalanceAfter),
		ReservedBefore: decimalToNumeric(entry.ReservedBefore),
		ReservedAfter:  decimalToNumeric(entry.ReservedAfter),
		IdempotencyKey: optionalText(entry.IdempotencyKey),
		ExternalID:     optionalText(entry.ExternalID),
		ExternalTxID:   optionalText(entry.Settlement.ExternalTxID),
		Confirmations:  int32(entry.Settlement.Confirmations),
		ProcessedAt:    optionalTimestamptz(entry.Settlement.ProcessedAt),
		Metadata:       metadata,
		Status:         string(entry.Status),
		Description:    entry.Description,
		CreatedAt:      timeToPgTimestamptz(entry.CreatedAt),
		UpdatedAt:      timeToPgTimestamptz(entry.UpdatedAt),
	})

	return translateError(err)
}

// GetByID retrieves an entry by id.
func (r *EntryRepository) GetByID(ctx context.Context, id string) (*domain.LedgerEntry, error) {
	return entryOrNotFound(r.queries.GetLedgerEntry(ctx, id))
}

// GetByIDForUpdate retrieves and locks an entry inside tx.
func (r *EntryRepository) GetByIDForUpdate(ctx context.Context, tx usecase.Transaction, id string) (*domain.LedgerEntry, error) {
	pgxTx, err := pgxTxFrom(tx)
	if err != nil {
		return nil, err
	}

	return entryOrNotFound(generated.New(pgxTx).GetLedgerEntryForUpdate(ctx, id))
}

// GetByIdempotencyKey retrieves the entry holding key.
func (r *EntryRepository) GetByIdempotencyKey(ctx context.Context, key string) (*domain.LedgerEntry, error) {
	return entryOrNotFound(r.queries.GetLedgerEntryByIdempotencyKey(ctx, pgtype.Text{String: key, Valid: true}))
}

// GetByExternalTxID retrieves the oldest entry settled by an on-chain transaction.
func (r *EntryRepository) GetByExternalTxID(ctx context.Context, externalTxID string) (*domain.LedgerEntry, error) {
	return entryOrNotFound(r.queries.GetLedgerEntryByExternalTxID(ctx, pgtype.Text{String: externalTxID, Valid: true}))
}

// UpdateSettlement merges settlement data into an entry. The first
// processed_at wins and metadata keys are merged.
func (r *EntryRepository) UpdateSettlement(ctx context.Context, tx usecase.Transaction, id string, settlement domain.Settlement, updatedAt time.Time) error {
	pgxTx, err := pgxTxFrom(tx)
	if err != nil {
		return err
	}

	metadata, err := marshalMetadata(settlement.Metadata)
	if err != nil {
		return err
	}

	affected, err := generated.New(pgxTx).UpdateLedgerEntrySettlement(ctx, generated.UpdateLedgerEntrySettlementParams{
		ID:            id,
		ExternalTxID:  optionalText(settlement.ExternalTxID),
		Confirmations: int32(settlement.Confirmations),
		ProcessedAt:   optionalTimestamptz(settlement.ProcessedAt),
		Metadata:      metadata,
		UpdatedAt:     timeToPgTimestamptz(updatedAt),
	})
	if err != nil {
		return translateError(err)
	}

	if affected == 0 {
		return domain.ErrEntryNotFound
	}

	return nil
}

// UpdateStatus sets the status of an entry.
func (r *EntryRepository) UpdateStatus(ctx context.Context, tx usecase.Transaction, id string, status domain.EntryStatus, updatedAt time.Time) error {
	pgxTx, err := pgxTxFrom(tx)
	if err != nil {
		return err
	}

	affected, err := generated.New(pgxTx).UpdateLedgerEntryStatus(ctx, generated.UpdateLedgerEntryStatusParams{
		ID:        id,
		Status:    string(status),
		UpdatedAt: timeToPgTimestamptz(updatedAt),
	})
	if err != nil {
		return translateError(err)
	}

	if affected == 0 {
		return domain.ErrEntryNotFound
	}

	return nil
}

// ListByUser retrieves a page of a user's entries, newest first.
func (r *EntryRepository) ListByUser(ctx context.Context, userID int64, filter domain.EntryFilter) ([]*domain.LedgerEntry, error) {
	rows, err := r.queries.ListLedgerEntriesByUser(ctx, generated.ListLedgerEntriesByUserParams{
		UserID:   userID,
		Currency: filter.Currency,
		Kind:     string(filter.Kind),
		Limit:    int32(filter.Limit),
		Offset:   int32(filter.Offset),
	})
	if err != nil {
		return nil, translateError(err)
	}

	entries := make([]*domain.LedgerEntry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, rowToEntry(row))
	}

	return entries, nil
}

func entryOrNotFound(row generated.LedgerEntry, err error) (*domain.LedgerEntry, error) {
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrEntryNotFound
	}
	if err != nil {
		return nil, translateError(err)
	}

	return rowToEntry(row), nil
}

func marshalMetadata(metadata map[string]any) ([]byte, error) {
	if metadata == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(metadata)
}

func rowToEntry(row generated.LedgerEntry) *domain.LedgerEntry {
	metadata := map[string]any{}
	if len(row.Metadata) > 0 {
		_ = json.Unmarshal(row.Metadata, &metadata)
	}

	return &domain.LedgerEntry{
		ID:             row.ID,
		BalanceID:      row.BalanceID,
		UserID:         row.UserID,
		Kind:           domain.EntryKind(row.Kind),
		Amount:         numericToDecimal(row.Amount),
		Currency:       row.Currency,
		BalanceBefore:  numericToDecimal(row.BalanceBefore),
		BalanceAfter:   numericToDecimal(row.BalanceAfter),
		ReservedBefore: numericToDecimal(row.ReservedBefore),
		ReservedAfter:  numericToDecimal(row.ReservedAfter),
		IdempotencyKey: textToPtr(row.IdempotencyKey),
		ExternalID:     textToPtr(row.ExternalID),
		Settlement: domain.Settlement{
			ExternalTxID:  textToPtr(row.ExternalTxID),
			Confirmations: int(row.Confirmations),
			ProcessedAt:   timestamptzToPtr(row.ProcessedAt),
			Metadata:      metadata,
		},
		Status:      domain.EntryStatus(row.Status),
		Description: row.Description,
		CreatedAt:   row.CreatedAt.Time,
		UpdatedAt:   row.UpdatedAt.Time,
	}
}

package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/iho/cryptoledger/internal/usecase"
)

// ErrForeignTransaction is returned when a transaction that was not opened
// by this package is passed in.
var ErrForeignTransaction = errors.New("postgres: unsupported transaction type")

type pgxPool interface {
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

// TxManager implements usecase.TransactionManager. Transactions run at
// SERIALIZABLE isolation; conflicts surface as retryable errors.
type TxManager struct {
	pool    pgxPool
	options pgx.TxOptions
}

// NewTxManager creates a new TxManager.
func NewTxManager(pool *pgxpool.Pool) *TxManager {
	return newTxManagerWithPool(pool)
}

func newTxManagerWithPool(pool pgxPool) *TxManager {
	return &TxManager{
		pool:    pool,
		options: pgx.TxOptions{IsoLevel: pgx.Serializable},
	}
}

// Begin starts a new transaction.
func (m *TxManager) Begin(ctx context.Context) (usecase.Transaction, error) {
	tx, err := m.pool.BeginTx(ctx, m.options)
	if err != nil {
		return nil, translateError(err)
	}

	return &Tx{tx: tx}, nil
}

// BeginNested opens a savepoint inside tx.
func (m *TxManager) BeginNested(ctx context.Context, tx usecase.Transaction) (usecase.Transaction, error) {
	outer, ok := tx.(*Tx)
	if !ok {
		return nil, ErrForeignTransaction
	}

	nested, err := outer.tx.Begin(ctx)
	if err != nil {
		return nil, translateError(err)
	}

	return &Tx{tx: nested}, nil
}

// Tx wraps a pgx transaction or savepoint.
type Tx struct {
	tx pgx.Tx
}

// Commit commits the transaction or releases the savepoint.
func (t *Tx) Commit(ctx context.Context) error {
	return translateError(t.tx.Commit(ctx))
}

// Rollback rolls back the transaction. Rolling back a finished transaction is a no-op.
func (t *Tx) Rollback(ctx context.Context) error {
	err := t.tx.Rollback(ctx)
	if errors.Is(err, pgx.ErrTxClosed) {
		return nil
	}
	return err
}

// PgxTx returns the underlying pgx.Tx.
func (t *Tx) PgxTx() pgx.Tx {
	return t.tx
}

func pgxTxFrom(tx usecase.Transaction) (pgx.Tx, error) {
	t, ok := tx.(*Tx)
	if !ok {
		return nil, ErrForeignTransaction
	}
	return t.PgxTx(), nil
}

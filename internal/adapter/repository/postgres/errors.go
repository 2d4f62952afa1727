package postgres

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/iho/cryptoledger/internal/domain"
)

// PostgreSQL error codes the repositories translate.
const (
	pgErrDeadlock             = "40P01"
	pgErrSerializationFailure = "40001"
	pgErrUniqueViolation      = "23505"
	pgErrCheckViolation       = "23514"

	idempotencyKeyConstraint = "ledger_entries_idempotency_key_key"
)

// translateError maps driver errors onto the domain taxonomy. The driver
// error stays in the chain so the retrier can still inspect its code.
func translateError(err error) error {
	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}

	switch pgErr.Code {
	case pgErrDeadlock, pgErrSerializationFailure:
		return fmt.Errorf("%w: %w", domain.ErrTransientConflict, err)
	case pgErrUniqueViolation:
		if pgErr.ConstraintName == idempotencyKeyConstraint {
			return fmt.Errorf("%w: %w", domain.ErrDuplicateIdempotencyKey, err)
		}
		// A concurrent first insert of the same balance row.
		return fmt.Errorf("%w: %w", domain.ErrTransientConflict, err)
	case pgErrCheckViolation:
		return fmt.Errorf("%w: %w", domain.ErrInsufficientFunds, err)
	}

	return err
}

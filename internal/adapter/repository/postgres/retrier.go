package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"

	"github.com/iho/cryptoledger/internal/domain"
)

// Retrier implements usecase.Retrier with exponential backoff.
type Retrier struct {
	maxAttempts     int
	initialInterval time.Duration
	maxInterval     time.Duration
	maxElapsedTime  time.Duration
	logger          zerolog.Logger
}

// NewRetrier creates a retrier that runs an operation at most maxAttempts times.
func NewRetrier(maxAttempts int, logger zerolog.Logger) *Retrier {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	return &Retrier{
		maxAttempts:     maxAttempts,
		initialInterval: 20 * time.Millisecond,
		maxInterval:     500 * time.Millisecond,
		maxElapsedTime:  10 * time.Second,
		logger:          logger,
	}
}

// Retry executes an operation with exponential backoff on retryable errors.
// When attempts run out the last error is wrapped in
// domain.ErrTransientConflict.
func (r *Retrier) Retry(ctx context.Context, operation func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.initialInterval
	b.MaxInterval = r.maxInterval
	b.MaxElapsedTime = r.maxElapsedTime

	attempt := 0

	err := backoff.Retry(func() error {
		attempt++

		err := operation()
		if err == nil {
			return nil
		}

		if !isRetryableError(err) {
			return backoff.Permanent(err)
		}

		if attempt >= r.maxAttempts {
			return backoff.Permanent(exhausted(attempt, err))
		}

		r.logger.Warn().
			Err(err).
			Int("attempt", attempt).
			Msg("retryable database error, retrying")

		return err
	}, backoff.WithContext(b, ctx))

	if err != nil && isRetryableError(err) && !errors.Is(err, domain.ErrTransientConflict) {
		return exhausted(attempt, err)
	}

	return err
}

func exhausted(attempts int, err error) error {
	if errors.Is(err, domain.ErrTransientConflict) {
		return fmt.Errorf("after %d attempts: %w", attempts, err)
	}
	return fmt.Errorf("%w: after %d attempts: %w", domain.ErrTransientConflict, attempts, err)
}

// isRetryableError checks if an error should trigger a retry.
func isRetryableError(err error) bool {
	if errors.Is(err, domain.ErrTransientConflict) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgErrDeadlock, pgErrSerializationFailure:
			return true
		}
	}
	return false
}

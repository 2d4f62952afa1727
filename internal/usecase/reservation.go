package usecase

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/iho/cryptoledger/internal/domain"
)

// reservation is a committed-in-unit hold on funds that a failed
// settlement must give back.
type reservation struct {
	balance *domain.Balance
	entry   *domain.LedgerEntry
	amount  decimal.Decimal
	state   domain.Snapshot
	version int64
}

// reserve moves amount from available to reserved and records it.
func (s *LedgerService) reserve(
	ctx context.Context,
	tx Transaction,
	b *domain.Balance,
	amount decimal.Decimal,
	description string,
	now time.Time,
) (*reservation, error) {
	before, after, err := b.Reserve(amount)
	if err != nil {
		return nil, err
	}

	entry := s.newEntry(b, domain.EntryKindReserve, amount, before, after, domain.ComposeDescription("Reserve: ", description, ""), now)

	if err := s.entryRepo.Create(ctx, tx, entry); err != nil {
		return nil, err
	}

	if err := s.balances.Save(ctx, tx, b, now); err != nil {
		return nil, err
	}

	return &reservation{
		balance: b,
		entry:   entry,
		amount:  amount,
		state:   after,
		version: b.Version,
	}, nil
}

// settle runs steps inside a savepoint. When a step fails for a reason a
// retry cannot fix, the savepoint is discarded and the reservation is
// released and committed before the original error is returned.
func (s *LedgerService) settle(
	ctx context.Context,
	tx Transaction,
	op string,
	r *reservation,
	steps func(ctx context.Context, tx Transaction) error,
) error {
	sp, err := s.txManager.BeginNested(ctx, tx)
	if err != nil {
		return err
	}

	stepErr := steps(ctx, sp)
	if stepErr == nil {
		return sp.Commit(ctx)
	}

	if err := sp.Rollback(ctx); err != nil {
		s.logger.Error().
			Err(err).
			AnErr("cause", stepErr).
			Str("operation", op).
			Msg("failed to roll back settlement savepoint")

		return stepErr
	}

	if errors.Is(stepErr, domain.ErrTransientConflict) || ctx.Err() != nil {
		return stepErr
	}

	return s.compensate(ctx, tx, op, r, stepErr)
}

func (s *LedgerService) compensate(ctx context.Context, tx Transaction, op string, r *reservation, cause error) error {
	now := time.Now().UTC()

	// The savepoint rollback undid the settlement in storage; undo it in memory.
	r.balance.Balance = r.state.Balance
	r.balance.Reserved = r.state.Reserved
	r.balance.Version = r.version

	err := s.release(ctx, tx, r, cause, now)
	if err == nil {
		err = tx.Commit(ctx)
	}

	if err != nil {
		s.logger.Error().
			Err(err).
			AnErr("cause", cause).
			Str("operation", op).
			Str("reserve_entry_id", r.entry.ID).
			Int64("balance_id", r.balance.ID).
			Msg("compensation failed, reservation requires manual reconciliation")

		if s.metrics != nil {
			s.metrics.DoubleFaults.WithLabelValues(op).Inc()
		}

		return cause
	}

	s.logger.Warn().
		AnErr("cause", cause).
		Str("operation", op).
		Str("reserve_entry_id", r.entry.ID).
		Msg("settlement failed, reservation released")

	if s.metrics != nil {
		s.metrics.Compensations.WithLabelValues(op).Inc()
	}

	return cause
}

func (s *LedgerService) release(ctx context.Context, tx Transaction, r *reservation, cause error, now time.Time) error {
	b := r.balance

	before, after, err := b.Release(r.amount)
	if err != nil {
		return err
	}

	entry := s.newEntry(b, domain.EntryKindRelease, r.amount, before, after, domain.ComposeDescription("Release: ", strings.TrimPrefix(r.entry.Description, "Reserve: "), ""), now).
		WithMetadata(map[string]any{
			"reserve_entry_id": r.entry.ID,
			"reason":           domain.Code(cause),
		})

	if err := s.entryRepo.Create(ctx, tx, entry); err != nil {
		return err
	}

	if err := s.balances.Save(ctx, tx, b, now); err != nil {
		return err
	}

	if err := s.entryRepo.UpdateStatus(ctx, tx, r.entry.ID, domain.EntryStatusCancelled, now); err != nil {
		return err
	}

	r.entry.Status = domain.EntryStatusCancelled

	return s.publish(ctx, tx, domain.EventTypeReservationReleased, entry, domain.EntryEventPayload(entry), now)
}

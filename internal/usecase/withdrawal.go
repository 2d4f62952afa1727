package usecase

import (
	"context"
	"time"

	"github.com/iho/cryptoledger/internal/domain"
)

// Withdraw reserves amount plus the currency's fee, then settles the
// withdrawal and the fee as separate entries.
func (s *LedgerService) Withdraw(ctx context.Context, input BalanceOperationInput) (*OperationResult, error) {
	var result *OperationResult

	err := s.execute(ctx, opWithdraw, func(ctx context.Context) error {
		cfg, err := s.prepare(input, minWithdrawal)
		if err != nil {
			return err
		}

		fee := cfg.WithdrawalFee
		total := input.Amount.Add(fee)
		feeKey := derivedKey(input.IdempotencyKey, feeKeySuffix)

		if err := s.ensureKeysUnused(ctx, input.IdempotencyKey); err != nil {
			return err
		}

		return s.withinTx(ctx, func(ctx context.Context, tx Transaction) error {
			now := time.Now().UTC()
			description := describe(input.Description, "Withdrawal")

			b, err := s.balances.GetOrCreate(ctx, tx, input.UserID, cfg.Code)
			if err != nil {
				return err
			}

			r, err := s.reserve(ctx, tx, b, total, description, now)
			if err != nil {
				return err
			}

			var withdrawal *domain.LedgerEntry

			err = s.settle(ctx, tx, opWithdraw, r, func(ctx context.Context, tx Transaction) error {
				before, after, err := b.SettleReserved(input.Amount)
				if err != nil {
					return err
				}

				withdrawal = s.newEntry(b, domain.EntryKindWithdrawal, input.Amount, before, after, description, now).
					WithKey(input.IdempotencyKey).
					WithMetadata(input.Metadata).
					WithMetadata(map[string]any{
						"fee":              fee.String(),
						"reserve_entry_id": r.entry.ID,
					})

				if err := s.entryRepo.Create(ctx, tx, withdrawal); err != nil {
					return err
				}

				if fee.IsPositive() {
					before, after, err := b.SettleReserved(fee)
					if err != nil {
						return err
					}

					feeEntry := s.newEntry(b, domain.EntryKindFee, fee, before, after, "Withdrawal fee", now).
						WithKey(feeKey).
						WithMetadata(map[string]any{"withdrawal_entry_id": withdrawal.ID})

					if err := s.entryRepo.Create(ctx, tx, feeEntry); err != nil {
						return err
					}
				}

				if err := s.balances.Save(ctx, tx, b, now); err != nil {
					return err
				}

				payload := domain.EntryEventPayload(withdrawal)
				payload["fee"] = fee.String()

				return s.publish(ctx, tx, domain.EventTypeWithdrawalCompleted, withdrawal, payload, now)
			})
			if err != nil {
				return err
			}

			result = newOperationResult(withdrawal, b, "Withdrawal completed successfully")
			result.Fee = fee

			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	s.afterCommit(ctx, opWithdraw, result.Currency, input.Amount, input.UserID)

	return result, nil
}

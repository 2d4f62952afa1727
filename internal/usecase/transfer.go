package usecase

import (
	"context"
	"time"

	"github.com/iho/cryptoledger/internal/domain"
)

// Transfer moves amount from one user to another in the same currency.
// The sender's funds are reserved first and settled together with the
// receiver's credit.
func (s *LedgerService) Transfer(ctx context.Context, input TransferInput) (*OperationResult, error) {
	var result *OperationResult

	err := s.execute(ctx, opTransfer, func(ctx context.Context) error {
		if input.FromUserID == input.ToUserID {
			return domain.ErrSelfTransfer
		}

		if err := domain.ValidateUserID(input.FromUserID); err != nil {
			return err
		}

		if err := domain.ValidateUserID(input.ToUserID); err != nil {
			return err
		}

		cfg, err := s.validateCommon(input.Currency, input.Amount, input.IdempotencyKey, input.Metadata, minDeposit)
		if err != nil {
			return err
		}

		creditKey := derivedKey(input.IdempotencyKey, creditKeySuffix)

		if err := s.ensureKeysUnused(ctx, input.IdempotencyKey); err != nil {
			return err
		}

		return s.withinTx(ctx, func(ctx context.Context, tx Transaction) error {
			now := time.Now().UTC()
			description := describe(input.Description, "Transfer")

			from, to, err := s.balances.GetOrCreatePair(ctx, tx, input.FromUserID, input.ToUserID, cfg.Code)
			if err != nil {
				return err
			}

			r, err := s.reserve(ctx, tx, from, input.Amount, description, now)
			if err != nil {
				return err
			}

			var sent *domain.LedgerEntry

			err = s.settle(ctx, tx, opTransfer, r, func(ctx context.Context, tx Transaction) error {
				before, after, err := from.SettleReserved(input.Amount)
				if err != nil {
					return err
				}

				sent = s.newEntry(from, domain.EntryKindTransfer, input.Amount, before, after, domain.ComposeDescription("", description, " (sender)"), now).
					WithKey(input.IdempotencyKey).
					WithMetadata(input.Metadata).
					WithMetadata(map[string]any{
						"direction":            "out",
						"counterparty_user_id": input.ToUserID,
						"reserve_entry_id":     r.entry.ID,
					})

				if err := s.entryRepo.Create(ctx, tx, sent); err != nil {
					return err
				}

				before, after = to.Credit(input.Amount)
				received := s.newEntry(to, domain.EntryKindTransfer, input.Amount, before, after, domain.ComposeDescription("", description, " (receiver)"), now).
					WithKey(creditKey).
					WithMetadata(input.Metadata).
					WithMetadata(map[string]any{
						"direction":            "in",
						"counterparty_user_id": input.FromUserID,
						"sender_entry_id":      sent.ID,
					})

				if err := s.entryRepo.Create(ctx, tx, received); err != nil {
					return err
				}

				if err := s.balances.Save(ctx, tx, from, now); err != nil {
					return err
				}

				if err := s.balances.Save(ctx, tx, to, now); err != nil {
					return err
				}

				payload := domain.EntryEventPayload(sent)
				payload["to_user_id"] = input.ToUserID
				payload["receiver_entry_id"] = received.ID

				return s.publish(ctx, tx, domain.EventTypeTransferCompleted, sent, payload, now)
			})
			if err != nil {
				return err
			}

			result = newOperationResult(sent, from, "Transfer completed successfully")
			receiverBalance := to.Balance
			result.ReceiverBalance = &receiverBalance

			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	s.afterCommit(ctx, opTransfer, result.Currency, input.Amount, input.FromUserID, input.ToUserID)

	return result, nil
}

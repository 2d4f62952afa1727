package dto

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/iho/cryptoledger/internal/domain"
	"github.com/iho/cryptoledger/internal/usecase"
)

// BalanceOperationRequest is the body of deposit and withdraw requests.
// Amounts travel as strings so no float rounding happens on the way in.
type BalanceOperationRequest struct {
	Amount      string         `json:"amount"`
	Currency    string         `json:"currency"`
	Description string         `json:"description,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// ToUseCaseInput converts to use case input.
func (r *BalanceOperationRequest) ToUseCaseInput(userID int64, idempotencyKey string) (usecase.BalanceOperationInput, error) {
	amount, err := ParseAmount(r.Amount)
	if err != nil {
		return usecase.BalanceOperationInput{}, err
	}

	return usecase.BalanceOperationInput{
		Metadata:       r.Metadata,
		UserID:         userID,
		Amount:         amount,
		Currency:       r.Currency,
		IdempotencyKey: idempotencyKey,
		Description:    r.Description,
	}, nil
}

// TransferRequest is the body of a transfer request.
type TransferRequest struct {
	ToUserID    int64          `json:"to_user_id"`
	Amount      string         `json:"amount"`
	Currency    string         `json:"currency"`
	Description string         `json:"description,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// ToUseCaseInput converts to use case input.
func (r *TransferRequest) ToUseCaseInput(fromUserID int64, idempotencyKey string) (usecase.TransferInput, error) {
	amount, err := ParseAmount(r.Amount)
	if err != nil {
		return usecase.TransferInput{}, err
	}

	return usecase.TransferInput{
		Metadata:       r.Metadata,
		FromUserID:     fromUserID,
		ToUserID:       r.ToUserID,
		Amount:         amount,
		Currency:       r.Currency,
		IdempotencyKey: idempotencyKey,
		Description:    r.Description,
	}, nil
}

// ParseAmount parses a decimal string amount.
func ParseAmount(raw string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero, fmt.Errorf("%w: amount is required", domain.ErrInvalidAmount)
	}

	amount, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q is not a decimal", domain.ErrInvalidAmount, raw)
	}

	return amount, nil
}

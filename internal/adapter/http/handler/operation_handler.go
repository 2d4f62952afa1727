package handler

import (
	"context"
	"net/http"

	"github.com/iho/cryptoledger/internal/adapter/http/dto"
	"github.com/iho/cryptoledger/internal/usecase"
)

// IdempotencyKeyHeader carries the caller's ledger idempotency key.
const IdempotencyKeyHeader = "Idempotency-Key"

// LedgerOperator is the write side used by OperationHandler.
type LedgerOperator interface {
	Deposit(ctx context.Context, input usecase.BalanceOperationInput) (*usecase.OperationResult, error)
	Withdraw(ctx context.Context, input usecase.BalanceOperationInput) (*usecase.OperationResult, error)
	Transfer(ctx context.Context, input usecase.TransferInput) (*usecase.OperationResult, error)
}

// OperationHandler serves balance-changing requests of the caller.
type OperationHandler struct {
	ledger LedgerOperator
}

// NewOperationHandler creates a new OperationHandler.
func NewOperationHandler(ledger LedgerOperator) *OperationHandler {
	return &OperationHandler{ledger: ledger}
}

type balanceOperation func(ctx context.Context, input usecase.BalanceOperationInput) (*usecase.OperationResult, error)

// Deposit credits the caller.
func (h *OperationHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	h.balanceOperation(w, r, h.ledger.Deposit)
}

// Withdraw debits the caller, including the currency's withdrawal fee.
func (h *OperationHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	h.balanceOperation(w, r, h.ledger.Withdraw)
}

func (h *OperationHandler) balanceOperation(w http.ResponseWriter, r *http.Request, op balanceOperation) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req dto.BalanceOperationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, err.Error())
		return
	}

	input, err := req.ToUseCaseInput(userID, r.Header.Get(IdempotencyKeyHeader))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	result, err := op(r.Context(), input)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, dto.OperationFromResult(result))
}

// Transfer moves funds from the caller to another user.
func (h *OperationHandler) Transfer(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req dto.TransferRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, err.Error())
		return
	}

	input, err := req.ToUseCaseInput(userID, r.Header.Get(IdempotencyKeyHeader))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	result, err := h.ledger.Transfer(r.Context(), input)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, dto.OperationFromResult(result))
}

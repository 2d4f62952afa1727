package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/iho/cryptoledger/internal/adapter/http/dto"
	"github.com/iho/cryptoledger/internal/domain"
)

// BalanceReader is the read side used by BalanceHandler.
type BalanceReader interface {
	GetBalance(ctx context.Context, userID int64, currency string) (*domain.Balance, error)
	ListBalances(ctx context.Context, userID int64) ([]*domain.Balance, error)
}

// BalanceHandler serves the caller's balances.
type BalanceHandler struct {
	query BalanceReader
}

// NewBalanceHandler creates a new BalanceHandler.
func NewBalanceHandler(query BalanceReader) *BalanceHandler {
	return &BalanceHandler{query: query}
}

// List returns every balance of the caller.
func (h *BalanceHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	balances, err := h.query.ListBalances(r.Context(), userID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, dto.BalancesFromDomain(balances))
}

// Get returns the caller's balance in one currency.
func (h *BalanceHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	balance, err := h.query.GetBalance(r.Context(), userID, chi.URLParam(r, "currency"))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, dto.BalanceFromDomain(balance))
}

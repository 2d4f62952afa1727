package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/iho/cryptoledger/internal/adapter/http/dto"
	"github.com/iho/cryptoledger/internal/domain"
)

// EntryReader is the history side used by TransactionHandler.
type EntryReader interface {
	ListEntries(ctx context.Context, userID int64, filter domain.EntryFilter) ([]*domain.LedgerEntry, error)
	GetEntry(ctx context.Context, userID int64, id string) (*domain.LedgerEntry, error)
}

// TransactionHandler serves the caller's ledger history.
type TransactionHandler struct {
	query EntryReader
}

// NewTransactionHandler creates a new TransactionHandler.
func NewTransactionHandler(query EntryReader) *TransactionHandler {
	return &TransactionHandler{query: query}
}

// List returns a page of history filtered by currency and type.
func (h *TransactionHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	limit, offset := domain.ValidatePagination(
		parseIntQuery(r, "limit", domain.DefaultPageSize),
		parseIntQuery(r, "offset", 0),
	)

	filter := domain.EntryFilter{
		Currency: r.URL.Query().Get("currency"),
		Kind:     domain.EntryKind(r.URL.Query().Get("type")),
		Limit:    limit,
		Offset:   offset,
	}

	entries, err := h.query.ListEntries(r.Context(), userID, filter)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, dto.EntriesFromDomain(entries, limit, offset))
}

// Get returns one entry of the caller.
func (h *TransactionHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	entry, err := h.query.GetEntry(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, dto.EntryFromDomain(entry))
}

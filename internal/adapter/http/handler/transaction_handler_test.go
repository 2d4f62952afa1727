package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/iho/cryptoledger/internal/adapter/http/dto"
	"github.com/iho/cryptoledger/internal/domain"
)

func TestTransactionHandler_ListPassesFilter(t *testing.T) {
	var got domain.EntryFilter
	h := NewTransactionHandler(&stubQuery{
		listEntriesFn: func(ctx context.Context, userID int64, filter domain.EntryFilter) ([]*domain.LedgerEntry, error) {
			got = filter
			return nil, nil
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/transactions?currency=BTC&type=deposit&limit=500&offset=-3", nil)
	rr := httptest.NewRecorder()
	h.List(rr, asUser(req, 1))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if got.Currency != "BTC" || got.Kind != domain.EntryKindDeposit || got.Limit != domain.MaxPageSize || got.Offset != 0 {
		t.Fatalf("unexpected filter %+v", got)
	}

	var resp dto.EntriesResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Transactions == nil || resp.Limit != domain.MaxPageSize {
		t.Fatalf("expected an empty page, got %+v", resp)
	}
}

func TestTransactionHandler_ListInvalidType(t *testing.T) {
	h := NewTransactionHandler(&stubQuery{
		listEntriesFn: func(ctx context.Context, userID int64, filter domain.EntryFilter) ([]*domain.LedgerEntry, error) {
			return nil, domain.ErrInvalidFilter
		},
	})

	rr := httptest.NewRecorder()
	h.List(rr, asUser(httptest.NewRequest(http.MethodGet, "/api/v1/transactions?type=bogus", nil), 1))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestTransactionHandler_Get(t *testing.T) {
	entry := &domain.LedgerEntry{
		ID:        "01HX",
		UserID:    1,
		Kind:      domain.EntryKindWithdrawal,
		Amount:    decimal.RequireFromString("0.5"),
		Currency:  "ETH",
		Status:    domain.EntryStatusCompleted,
		CreatedAt: time.Now(),
	}

	h := NewTransactionHandler(&stubQuery{
		getEntryFn: func(ctx context.Context, userID int64, id string) (*domain.LedgerEntry, error) {
			if id == entry.ID && userID == entry.UserID {
				return entry, nil
			}
			return nil, domain.ErrEntryNotFound
		},
	})

	tests := []struct {
		name   string
		userID int64
		status int
	}{
		{"owner", 1, http.StatusOK},
		{"other user", 2, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := withURLParams(httptest.NewRequest(http.MethodGet, "/api/v1/transactions/01HX", nil), map[string]string{"id": "01HX"})
			rr := httptest.NewRecorder()
			h.Get(rr, asUser(req, tt.userID))

			if rr.Code != tt.status {
				t.Fatalf("expected %d, got %d", tt.status, rr.Code)
			}
		})
	}
}

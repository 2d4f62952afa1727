package dto

import (
	"time"

	"github.com/iho/cryptoledger/internal/domain"
	"github.com/iho/cryptoledger/internal/usecase"
)

// ErrorResponse represents an error in API responses.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// BalanceResponse represents a balance in API responses.
type BalanceResponse struct {
	UserID    int64     `json:"user_id"`
	Currency  string    `json:"currency"`
	Balance   string    `json:"total_balance"`
	Reserved  string    `json:"reserved_balance"`
	Available string    `json:"available_balance"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BalanceFromDomain converts domain balance to response.
func BalanceFromDomain(b *domain.Balance) *BalanceResponse {
	return &BalanceResponse{
		UserID:    b.UserID,
		Currency:  b.Currency,
		Balance:   b.Balance.String(),
		Reserved:  b.Reserved.String(),
		Available: b.Available().String(),
		UpdatedAt: b.UpdatedAt,
	}
}

// BalancesResponse lists a user's balances.
type BalancesResponse struct {
	Balances []*BalanceResponse `json:"balances"`
}

// BalancesFromDomain converts domain balances to responses.
func BalancesFromDomain(balances []*domain.Balance) *BalancesResponse {
	result := make([]*BalanceResponse, len(balances))
	for i, b := range balances {
		result[i] = BalanceFromDomain(b)
	}
	return &BalancesResponse{Balances: result}
}

// EntryResponse represents a ledger entry in API responses.
type EntryResponse struct {
	ID             string         `json:"id"`
	UserID         int64          `json:"user_id"`
	Type           string         `json:"type"`
	Amount         string         `json:"amount"`
	Currency       string         `json:"currency"`
	BalanceBefore  string         `json:"balance_before"`
	BalanceAfter   string         `json:"balance_after"`
	ReservedBefore string         `json:"reserved_before"`
	ReservedAfter  string         `json:"reserved_after"`
	Status         string         `json:"status"`
	Description    string         `json:"description"`
	ReferenceID    *string        `json:"reference_id,omitempty"`
	ExternalTxID   *string        `json:"blockchain_tx_id,omitempty"`
	Confirmations  int            `json:"confirmations"`
	ProcessedAt    *time.Time     `json:"processed_at,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// EntryFromDomain converts domain entry to response.
func EntryFromDomain(e *domain.LedgerEntry) *EntryResponse {
	return &EntryResponse{
		ID:             e.ID,
		UserID:         e.UserID,
		Type:           string(e.Kind),
		Amount:         e.Amount.String(),
		Currency:       e.Currency,
		BalanceBefore:  e.BalanceBefore.String(),
		BalanceAfter:   e.BalanceAfter.String(),
		ReservedBefore: e.ReservedBefore.String(),
		ReservedAfter:  e.ReservedAfter.String(),
		Status:         string(e.Status),
		Description:    e.Description,
		ReferenceID:    e.IdempotencyKey,
		ExternalTxID:   e.Settlement.ExternalTxID,
		Confirmations:  e.Settlement.Confirmations,
		ProcessedAt:    e.Settlement.ProcessedAt,
		Metadata:       e.Settlement.Metadata,
		CreatedAt:      e.CreatedAt,
	}
}

// EntriesResponse is one page of history.
type EntriesResponse struct {
	Transactions []*EntryResponse `json:"transactions"`
	Limit        int              `json:"limit"`
	Offset       int              `json:"offset"`
}

// EntriesFromDomain converts a page of entries.
func EntriesFromDomain(entries []*domain.LedgerEntry, limit, offset int) *EntriesResponse {
	result := make([]*EntryResponse, len(entries))
	for i, e := range entries {
		result[i] = EntryFromDomain(e)
	}
	return &EntriesResponse{Transactions: result, Limit: limit, Offset: offset}
}

// OperationResponse reports the outcome of a balance operation.
type OperationResponse struct {
	Message         string  `json:"message"`
	TransactionID   string  `json:"transaction_id"`
	Currency        string  `json:"currency"`
	Balance         string  `json:"balance"`
	Reserved        string  `json:"reserved_balance"`
	Available       string  `json:"available_balance"`
	Fee             string  `json:"fee,omitempty"`
	ReceiverBalance *string `json:"receiver_balance,omitempty"`
}

// OperationFromResult converts a use case result to response.
func OperationFromResult(r *usecase.OperationResult) *OperationResponse {
	resp := &OperationResponse{
		Message:       r.Message,
		TransactionID: r.EntryID,
		Currency:      r.Currency,
		Balance:       r.Balance.String(),
		Reserved:      r.Reserved.String(),
		Available:     r.Available.String(),
	}

	if !r.Fee.IsZero() {
		resp.Fee = r.Fee.String()
	}

	if r.ReceiverBalance != nil {
		s := r.ReceiverBalance.String()
		resp.ReceiverBalance = &s
	}

	return resp
}

// ConsistencyIssueResponse is one inconsistent balance.
type ConsistencyIssueResponse struct {
	BalanceID     int64   `json:"balance_id"`
	UserID        int64   `json:"user_id"`
	Currency      string  `json:"currency"`
	Balance       string  `json:"balance"`
	Reserved      string  `json:"reserved"`
	LatestEntryID *string `json:"latest_entry_id,omitempty"`
	Reason        string  `json:"reason"`
}

// ConsistencyResponse is the outcome of a ledger-wide check.
type ConsistencyResponse struct {
	Consistent bool                        `json:"consistent"`
	Checked    int                         `json:"checked"`
	Issues     []*ConsistencyIssueResponse `json:"issues"`
	CheckedAt  time.Time                   `json:"checked_at"`
}

// ConsistencyFromDomain converts a consistency report.
func ConsistencyFromDomain(r *domain.ConsistencyReport) *ConsistencyResponse {
	issues := make([]*ConsistencyIssueResponse, len(r.Issues))
	for i, issue := range r.Issues {
		issues[i] = &ConsistencyIssueResponse{
			BalanceID:     issue.BalanceID,
			UserID:        issue.UserID,
			Currency:      issue.Currency,
			Balance:       issue.Balance.String(),
			Reserved:      issue.Reserved.String(),
			LatestEntryID: issue.LatestEntryID,
			Reason:        issue.Reason,
		}
	}

	return &ConsistencyResponse{
		Consistent: r.Consistent,
		Checked:    r.Checked,
		Issues:     issues,
		CheckedAt:  r.CheckedAt,
	}
}

// WebhookResponse acknowledges a confirmation event.
type WebhookResponse struct {
	Message       string `json:"message"`
	Event         string `json:"event"`
	TransactionID string `json:"transaction_id,omitempty"`
	Duplicate     bool   `json:"duplicate"`
}

// WebhookFromResult converts a reconciler result.
func WebhookFromResult(r *usecase.ConfirmationResult) *WebhookResponse {
	return &WebhookResponse{
		Message:       r.Message,
		Event:         string(r.Kind),
		TransactionID: r.EntryID,
		Duplicate:     r.Duplicate,
	}
}

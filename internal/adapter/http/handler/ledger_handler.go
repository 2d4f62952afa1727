package handler

import (
	"context"
	"net/http"

	"github.com/iho/cryptoledger/internal/adapter/http/dto"
	"github.com/iho/cryptoledger/internal/domain"
)

// ConsistencyRunner checks every balance against its history.
type ConsistencyRunner interface {
	Check(ctx context.Context) (*domain.ConsistencyReport, error)
}

// LedgerHandler handles ledger-wide operations.
type LedgerHandler struct {
	checker ConsistencyRunner
}

// NewLedgerHandler creates a new LedgerHandler.
func NewLedgerHandler(checker ConsistencyRunner) *LedgerHandler {
	return &LedgerHandler{checker: checker}
}

// CheckConsistency reports balances that disagree with their history.
// An inconsistent ledger answers 409 with the offending balances.
func (h *LedgerHandler) CheckConsistency(w http.ResponseWriter, r *http.Request) {
	report, err := h.checker.Check(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}

	status := http.StatusOK
	if !report.Consistent {
		status = http.StatusConflict
	}

	writeJSON(w, status, dto.ConsistencyFromDomain(report))
}

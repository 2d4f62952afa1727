package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/iho/cryptoledger/internal/domain"
	"github.com/iho/cryptoledger/internal/usecase"
)

type stubQuery struct {
	getBalanceFn   func(ctx context.Context, userID int64, currency string) (*domain.Balance, error)
	listBalancesFn func(ctx context.Context, userID int64) ([]*domain.Balance, error)
	listEntriesFn  func(ctx context.Context, userID int64, filter domain.EntryFilter) ([]*domain.LedgerEntry, error)
	getEntryFn     func(ctx context.Context, userID int64, id string) (*domain.LedgerEntry, error)
}

func (s *stubQuery) GetBalance(ctx context.Context, userID int64, currency string) (*domain.Balance, error) {
	return s.getBalanceFn(ctx, userID, currency)
}

func (s *stubQuery) ListBalances(ctx context.Context, userID int64) ([]*domain.Balance, error) {
	return s.listBalancesFn(ctx, userID)
}

func (s *stubQuery) ListEntries(ctx context.Context, userID int64, filter domain.EntryFilter) ([]*domain.LedgerEntry, error) {
	return s.listEntriesFn(ctx, userID, filter)
}

func (s *stubQuery) GetEntry(ctx context.Context, userID int64, id string) (*domain.LedgerEntry, error) {
	return s.getEntryFn(ctx, userID, id)
}

type stubLedger struct {
	depositFn  func(ctx context.Context, input usecase.BalanceOperationInput) (*usecase.OperationResult, error)
	withdrawFn func(ctx context.Context, input usecase.BalanceOperationInput) (*usecase.OperationResult, error)
	transferFn func(ctx context.Context, input usecase.TransferInput) (*usecase.OperationResult, error)
}

func (s *stubLedger) Deposit(ctx context.Context, input usecase.BalanceOperationInput) (*usecase.OperationResult, error) {
	return s.depositFn(ctx, input)
}

func (s *stubLedger) Withdraw(ctx context.Context, input usecase.BalanceOperationInput) (*usecase.OperationResult, error) {
	return s.withdrawFn(ctx, input)
}

func (s *stubLedger) Transfer(ctx context.Context, input usecase.TransferInput) (*usecase.OperationResult, error) {
	return s.transferFn(ctx, input)
}

type stubChecker struct {
	checkFn func(ctx context.Context) (*domain.ConsistencyReport, error)
}

func (s *stubChecker) Check(ctx context.Context) (*domain.ConsistencyReport, error) {
	return s.checkFn(ctx)
}

type stubReconciler struct {
	handleFn func(ctx context.Context, event domain.ConfirmationEvent) (*usecase.ConfirmationResult, error)
}

func (s *stubReconciler) Handle(ctx context.Context, event domain.ConfirmationEvent) (*usecase.ConfirmationResult, error) {
	return s.handleFn(ctx, event)
}

// asUser attaches an authenticated user to req.
func asUser(req *http.Request, userID int64) *http.Request {
	return req.WithContext(domain.WithUserID(req.Context(), userID))
}

// withURLParams attaches chi route params to req.
func withURLParams(req *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for k, v := range params {
		rctx.URLParams.Add(k, v)
	}
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

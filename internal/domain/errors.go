package domain

import "errors"

var (
	// Balance errors
	ErrUnsupportedCurrency = errors.New("unsupported currency")
	ErrInsufficientFunds   = errors.New("insufficient funds")
	ErrBalanceNotFound     = errors.New("balance not found")

	// Amount errors
	ErrInvalidAmount  = errors.New("invalid amount")
	ErrAmountTooSmall = errors.New("amount below minimum allowed")
	ErrAmountTooLarge = errors.New("amount exceeds maximum allowed")

	// Operation errors
	ErrSelfTransfer            = errors.New("cannot transfer to yourself")
	ErrDuplicateIdempotencyKey = errors.New("idempotency key already used")

	// Entry errors
	ErrEntryNotFound = errors.New("ledger entry not found")
	ErrInvalidFilter = errors.New("invalid entry filter")

	// Confirmation errors
	ErrUnknownEventKind = errors.New("unknown event kind")
	ErrInvalidEvent     = errors.New("invalid confirmation event")

	// Infrastructure errors
	ErrTransientConflict = errors.New("concurrent modification, retry later")
	ErrInternalFailure   = errors.New("internal failure")
)

// Stable error codes exposed to callers.
const (
	CodeUnsupportedCurrency     = "unsupported_currency"
	CodeInsufficientFunds       = "insufficient_funds"
	CodeBalanceNotFound         = "balance_not_found"
	CodeInvalidAmount           = "invalid_amount"
	CodeAmountTooSmall          = "amount_too_small"
	CodeAmountTooLarge          = "amount_too_large"
	CodeSelfTransfer            = "self_transfer"
	CodeDuplicateIdempotencyKey = "duplicate_idempotency_key"
	CodeEntryNotFound           = "entry_not_found"
	CodeInvalidFilter           = "invalid_filter"
	CodeUnknownEventKind        = "unknown_event_kind"
	CodeInvalidEvent            = "invalid_event"
	CodeInvalidUserID           = "invalid_user_id"
	CodeInvalidIdempotencyKey   = "invalid_idempotency_key"
	CodeMetadataTooLarge        = "metadata_too_large"
	CodeTransientConflict       = "transient_conflict"
	CodeInternalFailure         = "internal_failure"
)

var errorCodes = []struct {
	err  error
	code string
}{
	// Order matters: an exhausted retry wraps both ErrInternalFailure and
	// ErrTransientConflict and must report the latter.
	{ErrTransientConflict, CodeTransientConflict},
	{ErrUnsupportedCurrency, CodeUnsupportedCurrency},
	{ErrInsufficientFunds, CodeInsufficientFunds},
	{ErrBalanceNotFound, CodeBalanceNotFound},
	{ErrInvalidAmount, CodeInvalidAmount},
	{ErrAmountTooSmall, CodeAmountTooSmall},
	{ErrAmountTooLarge, CodeAmountTooLarge},
	{ErrSelfTransfer, CodeSelfTransfer},
	{ErrDuplicateIdempotencyKey, CodeDuplicateIdempotencyKey},
	{ErrEntryNotFound, CodeEntryNotFound},
	{ErrInvalidFilter, CodeInvalidFilter},
	{ErrUnknownEventKind, CodeUnknownEventKind},
	{ErrInvalidEvent, CodeInvalidEvent},
	{ErrInvalidUserID, CodeInvalidUserID},
	{ErrInvalidIdempotencyKey, CodeInvalidIdempotencyKey},
	{ErrMetadataTooLarge, CodeMetadataTooLarge},
}

// Code returns the stable code for err. Errors outside the taxonomy report
// CodeInternalFailure.
func Code(err error) string {
	if err == nil {
		return ""
	}

	for _, c := range errorCodes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}

	return CodeInternalFailure
}

// IsBusinessError reports whether err is an expected rule violation rather
// than an infrastructure failure.
func IsBusinessError(err error) bool {
	switch Code(err) {
	case "", CodeTransientConflict, CodeInternalFailure:
		return false
	default:
		return true
	}
}

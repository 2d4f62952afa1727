package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/iho/cryptoledger/internal/adapter/http/dto"
	"github.com/iho/cryptoledger/internal/domain"
)

const maxBodyBytes = 1 << 20

// Error codes produced by the HTTP layer itself.
const (
	CodeInvalidRequest = "invalid_request"
	CodeUnauthorized   = "unauthorized"
	CodeInvalidSig     = "invalid_signature"
)

var errUnauthenticated = errors.New("no authenticated user")

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(dto.ErrorResponse{
		Error:   code,
		Message: message,
	})
}

// writeDomainError maps err onto the error body. Internal failures never
// leak their cause.
func writeDomainError(w http.ResponseWriter, err error) {
	status := mapDomainError(err)
	code := domain.Code(err)

	message := err.Error()
	switch code {
	case domain.CodeInternalFailure:
		message = "internal error"
	case domain.CodeTransientConflict:
		message = "the ledger is busy, retry later"
	}

	writeError(w, status, code, message)
}

// mapDomainError maps domain errors to HTTP status codes.
func mapDomainError(err error) int {
	switch domain.Code(err) {
	case domain.CodeBalanceNotFound, domain.CodeEntryNotFound:
		return http.StatusNotFound
	case domain.CodeDuplicateIdempotencyKey:
		return http.StatusConflict
	case domain.CodeTransientConflict:
		return http.StatusServiceUnavailable
	case domain.CodeInternalFailure:
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}

// parseIntQuery parses an integer query parameter with a default value.
func parseIntQuery(r *http.Request, key string, defaultValue int) int {
	val := r.URL.Query().Get(key)
	if val == "" {
		return defaultValue
	}
	i, err := strconv.Atoi(val)
	if err != nil {
		return defaultValue
	}
	return i
}

// decodeJSON decodes a bounded request body into dst.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// requireUser returns the user set by the auth middleware, writing 401 when
// there is none.
func requireUser(w http.ResponseWriter, r *http.Request) (int64, bool) {
	userID, ok := domain.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, CodeUnauthorized, errUnauthenticated.Error())
		return 0, false
	}
	return userID, true
}

package middleware

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/iho/cryptoledger/internal/domain"
	"github.com/iho/cryptoledger/internal/infrastructure/auth"
	"github.com/iho/cryptoledger/internal/infrastructure/metrics"
)

// UserIDHeader identifies the caller when token authentication is off.
const UserIDHeader = "X-User-ID"

// TokenVerifier verifies bearer tokens.
type TokenVerifier interface {
	Verify(token string) (*auth.Claims, error)
}

// Authenticator resolves the calling user and stores it in the request
// context. With a verifier it requires a bearer token, otherwise it trusts
// the X-User-ID header.
type Authenticator struct {
	verifier TokenVerifier
	metrics  *metrics.Metrics
}

// NewAuthenticator creates an Authenticator. verifier and m may be nil.
func NewAuthenticator(verifier TokenVerifier, m *metrics.Metrics) *Authenticator {
	return &Authenticator{verifier: verifier, metrics: m}
}

// Wrap wraps an http.Handler with user resolution.
func (a *Authenticator) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, reason := a.resolve(r)
		if reason != "" {
			if a.metrics != nil {
				a.metrics.AuthFailures.WithLabelValues(reason).Inc()
			}
			unauthorized(w, reason)
			return
		}

		next.ServeHTTP(w, r.WithContext(domain.WithUserID(r.Context(), userID)))
	})
}

// resolve returns the user id, or a failure reason.
func (a *Authenticator) resolve(r *http.Request) (int64, string) {
	if a.verifier == nil {
		raw := r.Header.Get(UserIDHeader)
		if raw == "" {
			return 0, "missing_user"
		}
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || domain.ValidateUserID(id) != nil {
			return 0, "invalid_user"
		}
		return id, ""
	}

	header := r.Header.Get("Authorization")
	if header == "" {
		return 0, "missing_token"
	}

	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return 0, "malformed_header"
	}

	claims, err := a.verifier.Verify(parts[1])
	if err != nil {
		return 0, "invalid_token"
	}

	id, err := claims.UserID()
	if err != nil {
		return 0, "invalid_token"
	}

	return id, ""
}

func unauthorized(w http.ResponseWriter, reason string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{
		"error":   "unauthorized",
		"message": reason,
	})
}

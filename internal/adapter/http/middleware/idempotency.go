package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/iho/cryptoledger/internal/domain"
	"github.com/iho/cryptoledger/internal/usecase"
)

const (
	// IdempotencyKeyHeader is the header name for idempotency keys.
	IdempotencyKeyHeader = "Idempotency-Key"
	// ReplayHeader marks a response served from the idempotency store.
	ReplayHeader = "X-Idempotency-Replay"

	defaultIdempotencyTTL = 24 * time.Hour
)

// storedResponse is the replayable part of a response.
type storedResponse struct {
	Status int             `json:"status"`
	Body   json.RawMessage `json:"body"`
}

// IdempotencyMiddleware replays responses of repeated mutating requests.
// Keys are scoped to the caller and the path, so two users may use the same
// key, and the ledger's own key check still applies behind it.
type IdempotencyMiddleware struct {
	store     usecase.IdempotencyStore
	isPending func(value []byte) bool
	ttl       time.Duration
	logger    zerolog.Logger
}

// NewIdempotencyMiddleware creates a new IdempotencyMiddleware. isPending
// recognizes the store's in-flight marker.
func NewIdempotencyMiddleware(store usecase.IdempotencyStore, isPending func([]byte) bool, ttl time.Duration, logger zerolog.Logger) *IdempotencyMiddleware {
	if ttl <= 0 {
		ttl = defaultIdempotencyTTL
	}
	return &IdempotencyMiddleware{
		store:     store,
		isPending: isPending,
		ttl:       ttl,
		logger:    logger,
	}
}

// Wrap wraps an http.Handler with idempotency checking.
func (m *IdempotencyMiddleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Only apply to mutating requests
		if r.Method != http.MethodPost && r.Method != http.MethodPut {
			next.ServeHTTP(w, r)
			return
		}

		key := r.Header.Get(IdempotencyKeyHeader)
		if key == "" {
			next.ServeHTTP(w, r)
			return
		}
		key = scopedKey(r, key)

		exists, cached, err := m.store.CheckAndSet(r.Context(), key, nil, m.ttl)
		if err != nil {
			m.logger.Error().Err(err).Msg("idempotency check failed")
			writeJSONError(w, http.StatusInternalServerError, "internal_failure", "idempotency check failed")
			return
		}

		if exists {
			m.replay(w, cached)
			return
		}

		recorder := &responseRecorder{
			ResponseWriter: w,
			body:           &bytes.Buffer{},
			statusCode:     http.StatusOK,
		}
		next.ServeHTTP(recorder, r)

		// Requests are finished even if the client went away.
		ctx := context.WithoutCancel(r.Context())

		if recorder.statusCode < 200 || recorder.statusCode >= 300 {
			if err := m.store.Release(ctx, key); err != nil {
				m.logger.Warn().Err(err).Msg("failed to release idempotency key")
			}
			return
		}

		var body json.RawMessage
		if recorder.body.Len() > 0 {
			body = recorder.body.Bytes()
		}

		stored, err := json.Marshal(storedResponse{Status: recorder.statusCode, Body: body})
		if err == nil {
			err = m.store.Update(ctx, key, stored, m.ttl)
		}
		if err != nil {
			m.logger.Warn().Err(err).Msg("failed to store idempotent response")
			if err := m.store.Release(ctx, key); err != nil {
				m.logger.Warn().Err(err).Msg("failed to release idempotency key")
			}
		}
	})
}

func (m *IdempotencyMiddleware) replay(w http.ResponseWriter, cached []byte) {
	if cached == nil || (m.isPending != nil && m.isPending(cached)) {
		writeJSONError(w, http.StatusConflict, domain.CodeDuplicateIdempotencyKey, "a request with this idempotency key is in progress")
		return
	}

	var stored storedResponse
	if err := json.Unmarshal(cached, &stored); err != nil || stored.Status == 0 {
		writeJSONError(w, http.StatusConflict, domain.CodeDuplicateIdempotencyKey, "idempotency key already used")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set(ReplayHeader, "true")
	w.WriteHeader(stored.Status)
	if len(stored.Body) > 0 && string(stored.Body) != "null" {
		w.Write(stored.Body)
	}
}

func scopedKey(r *http.Request, key string) string {
	userID, _ := domain.UserIDFromContext(r.Context())
	return fmt.Sprintf("%d:%s:%s", userID, r.URL.Path, key)
}

type responseRecorder struct {
	http.ResponseWriter
	statusCode int
	body       *bytes.Buffer
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}

func (r *responseRecorder) WriteHeader(statusCode int) {
	r.statusCode = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}

func writeJSONError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": code, "message": message})
}

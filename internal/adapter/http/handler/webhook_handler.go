package handler

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/iho/cryptoledger/internal/adapter/http/dto"
	"github.com/iho/cryptoledger/internal/domain"
	"github.com/iho/cryptoledger/internal/usecase"
)

// SignatureHeader carries the hex HMAC-SHA256 of the webhook body.
const SignatureHeader = "X-Signature"

// ConfirmationHandler applies a confirmation event.
type ConfirmationHandler interface {
	Handle(ctx context.Context, event domain.ConfirmationEvent) (*usecase.ConfirmationResult, error)
}

// WebhookHandler receives confirmation events over HTTP.
type WebhookHandler struct {
	reconciler ConfirmationHandler
	secret     []byte
	logger     zerolog.Logger
}

// NewWebhookHandler creates a new WebhookHandler. An empty secret accepts
// unsigned deliveries.
func NewWebhookHandler(reconciler ConfirmationHandler, secret string, logger zerolog.Logger) *WebhookHandler {
	logger = logger.With().Str("component", "webhook").Logger()
	if secret == "" {
		logger.Warn().Msg("webhook signature verification disabled")
	}

	return &WebhookHandler{
		reconciler: reconciler,
		secret:     []byte(secret),
		logger:     logger,
	}
}

// Crypto handles POST /webhook/crypto.
func (h *WebhookHandler) Crypto(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "failed to read body")
		return
	}

	if !h.verify(body, r.Header.Get(SignatureHeader)) {
		h.logger.Warn().Str("remote_addr", r.RemoteAddr).Msg("webhook signature mismatch")
		writeError(w, http.StatusUnauthorized, CodeInvalidSig, "signature mismatch")
		return
	}

	event, err := domain.ParseConfirmationEvent(body)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	result, err := h.reconciler.Handle(r.Context(), event)
	if err != nil {
		if !domain.IsBusinessError(err) {
			h.logger.Error().Err(err).Str("event", string(event.Kind())).Msg("confirmation failed")
		}
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, dto.WebhookFromResult(result))
}

func (h *WebhookHandler) verify(body []byte, signature string) bool {
	if len(h.secret) == 0 {
		return true
	}

	got, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}

	return hmac.Equal(got, Sign(h.secret, body))
}

// Sign returns the HMAC-SHA256 of body under secret.
func Sign(secret, body []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return mac.Sum(nil)
}

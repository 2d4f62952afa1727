package handler

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/iho/cryptoledger/internal/adapter/http/dto"
	"github.com/iho/cryptoledger/internal/domain"
	"github.com/iho/cryptoledger/internal/usecase"
)

const depositEvent = `{"event":"deposit_confirmed","user_id":1,"amount":"0.5","currency":"BTC","blockchain_tx_id":"0xabc","confirmations":6}`

func confirmingReconciler(t *testing.T) *stubReconciler {
	return &stubReconciler{
		handleFn: func(ctx context.Context, event domain.ConfirmationEvent) (*usecase.ConfirmationResult, error) {
			if event.Kind() != domain.EventKindDepositConfirmed || event.BlockchainTxID != "0xabc" {
				t.Fatalf("unexpected event %+v", event)
			}
			return &usecase.ConfirmationResult{Kind: event.Kind(), EntryID: "e-1", Message: "Deposit confirmed"}, nil
		},
	}
}

func TestWebhookHandler_Signature(t *testing.T) {
	secret := []byte("s3cret")
	valid := hex.EncodeToString(Sign(secret, []byte(depositEvent)))

	tests := []struct {
		name      string
		signature string
		status    int
	}{
		{"valid signature", valid, http.StatusOK},
		{"missing signature", "", http.StatusUnauthorized},
		{"wrong signature", hex.EncodeToString(Sign([]byte("other"), []byte(depositEvent))), http.StatusUnauthorized},
		{"not hex", "zz", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewWebhookHandler(confirmingReconciler(t), string(secret), zerolog.Nop())

			req := httptest.NewRequest(http.MethodPost, "/webhook/crypto", strings.NewReader(depositEvent))
			if tt.signature != "" {
				req.Header.Set(SignatureHeader, tt.signature)
			}
			rr := httptest.NewRecorder()
			h.Crypto(rr, req)

			if rr.Code != tt.status {
				t.Fatalf("expected %d, got %d: %s", tt.status, rr.Code, rr.Body.String())
			}
		})
	}
}

func TestWebhookHandler_UnsignedWhenNoSecret(t *testing.T) {
	h := NewWebhookHandler(confirmingReconciler(t), "", zerolog.Nop())

	rr := httptest.NewRecorder()
	h.Crypto(rr, httptest.NewRequest(http.MethodPost, "/webhook/crypto", strings.NewReader(depositEvent)))

	var resp dto.WebhookResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if rr.Code != http.StatusOK || resp.TransactionID != "e-1" || resp.Event != "deposit_confirmed" {
		t.Fatalf("unexpected response %d %+v", rr.Code, resp)
	}
}

func TestWebhookHandler_Rejections(t *testing.T) {
	tests := []struct {
		name string
		body string
		code string
	}{
		{"invalid json", `{"event":`, domain.CodeInvalidEvent},
		{"unknown kind", `{"event":"chargeback"}`, domain.CodeUnknownEventKind},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewWebhookHandler(&stubReconciler{
				handleFn: func(ctx context.Context, event domain.ConfirmationEvent) (*usecase.ConfirmationResult, error) {
					return nil, domain.ErrUnknownEventKind
				},
			}, "", zerolog.Nop())

			rr := httptest.NewRecorder()
			h.Crypto(rr, httptest.NewRequest(http.MethodPost, "/webhook/crypto", strings.NewReader(tt.body)))

			var resp dto.ErrorResponse
			_ = json.Unmarshal(rr.Body.Bytes(), &resp)
			if rr.Code != http.StatusBadRequest || resp.Error != tt.code {
				t.Fatalf("expected 400 %s, got %d %+v", tt.code, rr.Code, resp)
			}
		})
	}
}

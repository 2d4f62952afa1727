package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/iho/cryptoledger/internal/adapter/http/dto"
	"github.com/iho/cryptoledger/internal/infrastructure/config"
)

func memoryConfig() *config.Config {
	return &config.Config{
		StorageDriver:     config.StorageDriverMemory,
		HTTPPort:          "0",
		LedgerMaxAttempts: 5,
		WorkerPoolSize:    2,
		OutboxInterval:    time.Second,
		OutboxBatchSize:   10,
		RateLimitDeposit:  10,
		RateLimitWithdraw: 5,
		RateLimitTransfer: 20,
		RateLimitDefault:  60,
		IdempotencyTTL:    time.Hour,
	}
}

func newTestServer(t *testing.T, cfg *config.Config) *httptest.Server {
	t.Helper()

	app, err := buildApp(context.Background(), cfg, zerolog.Nop(), prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("buildApp failed: %v", err)
	}
	t.Cleanup(app.Close)

	srv := httptest.NewServer(app.server.Handler)
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, srv *httptest.Server, method, path, userID, key, body string) (*http.Response, []byte) {
	t.Helper()

	req, err := http.NewRequest(method, srv.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	if key != "" {
		req.Header.Set("Idempotency-Key", key)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	var raw json.RawMessage
	_ = json.NewDecoder(resp.Body).Decode(&raw)
	return resp, raw
}

func TestBuildApp_MemoryEndToEnd(t *testing.T) {
	srv := newTestServer(t, memoryConfig())

	resp, _ := do(t, srv, http.MethodGet, "/ready", "", "", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected ready without external dependencies, got %d", resp.StatusCode)
	}

	resp, body := do(t, srv, http.MethodPost, "/api/v1/deposit", "1", "dep-1", `{"amount":"1.5","currency":"BTC"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("deposit failed: %d %s", resp.StatusCode, body)
	}

	resp, body = do(t, srv, http.MethodPost, "/api/v1/deposit", "1", "dep-1", `{"amount":"1.5","currency":"BTC"}`)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected replayed key to conflict, got %d %s", resp.StatusCode, body)
	}

	resp, body = do(t, srv, http.MethodPost, "/api/v1/transfer", "1", "tr-1", `{"to_user_id":2,"amount":"0.5","currency":"BTC"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("transfer failed: %d %s", resp.StatusCode, body)
	}

	resp, body = do(t, srv, http.MethodGet, "/api/v1/balances/btc", "2", "", "")
	var balance dto.BalanceResponse
	if err := json.Unmarshal(body, &balance); err != nil {
		t.Fatalf("failed to decode balance: %v", err)
	}
	if resp.StatusCode != http.StatusOK || balance.Balance != "0.5" {
		t.Fatalf("unexpected receiver balance %d %+v", resp.StatusCode, balance)
	}

	resp, body = do(t, srv, http.MethodGet, "/api/v1/transactions?currency=BTC", "1", "", "")
	var page dto.EntriesResponse
	if err := json.Unmarshal(body, &page); err != nil {
		t.Fatalf("failed to decode history: %v", err)
	}
	if resp.StatusCode != http.StatusOK || len(page.Transactions) < 2 {
		t.Fatalf("expected deposit and transfer in history, got %d %s", resp.StatusCode, body)
	}

	resp, body = do(t, srv, http.MethodGet, "/api/v1/ledger/consistency", "1", "", "")
	var report dto.ConsistencyResponse
	if err := json.Unmarshal(body, &report); err != nil {
		t.Fatalf("failed to decode report: %v", err)
	}
	if resp.StatusCode != http.StatusOK || !report.Consistent || report.Checked != 2 {
		t.Fatalf("expected a consistent ledger with two balances, got %d %s", resp.StatusCode, body)
	}
}

func TestBuildApp_WebhookRejectsUnknownEvent(t *testing.T) {
	srv := newTestServer(t, memoryConfig())

	resp, body := do(t, srv, http.MethodPost, "/webhook/crypto", "", "", `{"event":"chargeback"}`)

	var errResp dto.ErrorResponse
	_ = json.Unmarshal(body, &errResp)
	if resp.StatusCode != http.StatusBadRequest || errResp.Error != "unknown_event_kind" {
		t.Fatalf("expected 400 unknown_event_kind, got %d %s", resp.StatusCode, body)
	}
}

func TestBuildApp_InvalidCurrencyFile(t *testing.T) {
	cfg := memoryConfig()
	cfg.CurrencyConfigPath = t.TempDir() + "/missing.yaml"

	if _, err := buildApp(context.Background(), cfg, zerolog.Nop(), prometheus.NewRegistry()); err == nil {
		t.Fatal("expected a missing currency file to fail startup")
	}
}

package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	xerrors "LendFlow-Chain/internal/errors"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client, err := NewClient(Config{
		BaseURL:    server.URL,
		APIKey:     "test-key",
		Timeout:    time.Second,
		BaseDelay:  time.Millisecond,
		MaxRetries: 2,
	})
	if err != nil {
		t.Fatalf("构造后端客户端失败: %v", err)
	}
	return client, server
}

func TestValidateTransactionPassesVerdictThrough(t *testing.T) {
	var gotAuth string
	var gotBody ValidationRequest
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != validateEndpoint {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(Verdict{IsValid: false, Reason: "exceeds LTV"})
	}))

	verdict, err := client.ValidateTransaction(context.Background(), ValidationRequest{
		Type:          "borrow",
		Data:          map[string]any{"symbol": "USDC"},
		WalletAddress: "0x11",
	})
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if verdict.IsValid || verdict.Reason != "exceeds LTV" {
		t.Fatalf("业务拒绝应作为结论返回而非 error: %+v", verdict)
	}
	if gotAuth != "Bearer test-key" {
		t.Fatalf("unexpected auth header: %q", gotAuth)
	}
	if gotBody.Type != "borrow" || gotBody.WalletAddress != "0x11" {
		t.Fatalf("unexpected request body: %+v", gotBody)
	}
}

func TestValidateTransactionRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(Verdict{IsValid: true})
	}))

	verdict, err := client.ValidateTransaction(context.Background(), ValidationRequest{Type: "deposit"})
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !verdict.IsValid {
		t.Fatalf("expected valid verdict after retries")
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls.Load())
	}
}

func TestValidateTransactionDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad request", http.StatusBadRequest)
	}))

	_, err := client.ValidateTransaction(context.Background(), ValidationRequest{Type: "deposit"})
	if err == nil {
		t.Fatalf("expected error")
	}
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) || httpErr.Status != http.StatusBadRequest {
		t.Fatalf("expected HTTPError 400, got %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("4xx 不应重试, attempts=%d", calls.Load())
	}
}

func TestRecordTransactionRetriesAndSucceeds(t *testing.T) {
	var calls atomic.Int32
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != graphqlEndpoint {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if calls.Add(1) == 1 {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{
				"recordStakeTransaction": map[string]any{"success": true, "message": "ok"},
			},
		})
	}))

	ack, err := client.RecordTransaction(context.Background(), LedgerRecord{
		PoolID: "pool-1", ChainID: 5, Wallet: "0x11", TxHash: "0xabc", Amount: "1.5", Action: "deposit",
	})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if !ack.Success {
		t.Fatalf("unexpected ack: %+v", ack)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected retry on 503, attempts=%d", calls.Load())
	}
}

func TestRecordTransactionMapsGraphQLErrors(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"errors": []map[string]any{{"message": "pool not found"}},
		})
	}))

	_, err := client.RecordTransaction(context.Background(), LedgerRecord{PoolID: "missing"})
	if xerrors.CodeOf(err) != xerrors.CodeBusinessRejected {
		t.Fatalf("GraphQL 错误应映射为业务拒绝: %v", err)
	}
}

func TestNewClientRequiresBaseURL(t *testing.T) {
	if _, err := NewClient(Config{}); err == nil {
		t.Fatalf("expected error for empty base URL")
	}
}

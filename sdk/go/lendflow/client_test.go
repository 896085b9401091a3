package lendflow

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSubmitIntentSendsToken(t *testing.T) {
	submitted := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/intents" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if r.Method != http.MethodPost {
			t.Fatalf("unexpected method: %s", r.Method)
		}
		if r.Header.Get("Authorization") != "Bearer demo-token" {
			t.Fatalf("expected bearer token, got %q", r.Header.Get("Authorization"))
		}
		var submission IntentSubmission
		if err := json.NewDecoder(r.Body).Decode(&submission); err != nil {
			t.Fatalf("unexpected body: %v", err)
		}
		if submission.Intent.Kind != "deposit" {
			t.Fatalf("unexpected kind: %s", submission.Intent.Kind)
		}
		submitted = true
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(IntentRecord{ID: "intent-1", Kind: "deposit", Status: "pending"})
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, "demo-token", srv.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	record, err := client.SubmitIntent(context.Background(), IntentSubmission{
		Intent: Intent{Kind: "deposit", Symbol: "USDC", Amount: "100", PoolID: "aave-v2"},
	})
	if err != nil {
		t.Fatalf("submit intent: %v", err)
	}
	if record.ID != "intent-1" || record.Status != "pending" {
		t.Fatalf("unexpected record: %+v", record)
	}
	if !submitted {
		t.Fatal("intent was not submitted")
	}
}

func TestListIntentsBuildsQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/intents" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		query := r.URL.Query()
		if query.Get("status") != "failed" || query.Get("kind") != "borrow" || query.Get("limit") != "5" {
			t.Fatalf("unexpected query: %s", r.URL.RawQuery)
		}
		_ = json.NewEncoder(w).Encode([]IntentRecord{{ID: "intent-2", Kind: "borrow", Status: "failed"}})
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, "", srv.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	records, err := client.ListIntents(context.Background(), ListQuery{Status: "failed", Kind: "borrow", Limit: 5})
	if err != nil {
		t.Fatalf("list intents: %v", err)
	}
	if len(records) != 1 || records[0].ID != "intent-2" {
		t.Fatalf("unexpected records: %+v", records)
	}
}

func TestGetIntentError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v1/intents/intent-404" {
			w.WriteHeader(http.StatusNotFound)
			_ = json.NewEncoder(w).Encode(struct {
				Error APIError `json:"error"`
			}{Error: APIError{Code: "INTENT_NOT_FOUND", Message: "missing"}})
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, "", srv.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	_, err = client.GetIntent(context.Background(), "intent-404")
	if err == nil {
		t.Fatal("expected error")
	}
	apiErr, ok := err.(*APIError)
	if !ok {
		t.Fatalf("expected APIError, got %T", err)
	}
	if apiErr.Code != "INTENT_NOT_FOUND" {
		t.Fatalf("unexpected error code: %s", apiErr.Code)
	}
	if apiErr.StatusCode != http.StatusNotFound {
		t.Fatalf("unexpected status: %d", apiErr.StatusCode)
	}
}

func TestWaitForIntentPollsUntilTerminal(t *testing.T) {
	polls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		polls++
		status := "running"
		if polls >= 3 {
			status = "succeeded"
		}
		_ = json.NewEncoder(w).Encode(IntentRecord{ID: "intent-3", Status: status})
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, "", srv.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	record, err := client.WaitForIntent(context.Background(), "intent-3", 1)
	if err != nil {
		t.Fatalf("wait for intent: %v", err)
	}
	if record.Status != "succeeded" {
		t.Fatalf("unexpected status: %s", record.Status)
	}
	if polls < 3 {
		t.Fatalf("expected at least 3 polls, got %d", polls)
	}
}

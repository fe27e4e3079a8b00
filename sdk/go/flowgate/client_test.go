package flowgate

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestSubmitAndGetOperation(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/operations", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Fatalf("unexpected method %s", r.Method)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Fatalf("unexpected authorization header %q", got)
		}
		var submission OperationSubmission
		if err := json.NewDecoder(r.Body).Decode(&submission); err != nil {
			t.Fatalf("decode submission: %v", err)
		}
		if submission.Kind != "transfer" {
			t.Fatalf("unexpected kind %s", submission.Kind)
		}
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(Operation{ID: "op-1", Kind: submission.Kind, Status: "pending"})
	})
	mux.HandleFunc("/api/v1/operations/op-1", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Fatalf("unexpected method %s", r.Method)
		}
		_ = json.NewEncoder(w).Encode(Operation{ID: "op-1", Kind: "transfer", Status: "succeeded", Result: &OperationResult{TxID: "abc123"}})
	})

	server := httptest.NewServer(mux)
	defer server.Close()

	client, err := NewClient(server.URL, server.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	client.SetAccessToken("secret")

	ctx := context.Background()
	submitted, err := client.SubmitOperation(ctx, OperationSubmission{
		Kind:    "transfer",
		Payload: json.RawMessage(`{"recipient":"0x1654653399040a61","amount":"1.0"}`),
	})
	if err != nil {
		t.Fatalf("submit operation: %v", err)
	}
	if submitted.ID != "op-1" || submitted.Status != "pending" {
		t.Fatalf("unexpected submission result %+v", submitted)
	}

	detail, err := client.GetOperation(ctx, "op-1")
	if err != nil {
		t.Fatalf("get operation: %v", err)
	}
	if detail.Status != "succeeded" || detail.Result == nil || detail.Result.TxID != "abc123" {
		t.Fatalf("unexpected detail %+v", detail)
	}
}

func TestAPIErrorDecoding(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":"OPERATION_VALIDATION","error":"payload 校验失败"}`))
	}))
	defer server.Close()

	client, err := NewClient(server.URL, server.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	_, err = client.GetOperation(context.Background(), "missing")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusBadRequest || apiErr.Code != "OPERATION_VALIDATION" {
		t.Fatalf("unexpected api error %+v", apiErr)
	}
}

func TestWaitForOperation(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		status := "running"
		if calls >= 3 {
			status = "succeeded"
		}
		_ = json.NewEncoder(w).Encode(Operation{ID: "op-2", Status: status})
	}))
	defer server.Close()

	client, err := NewClient(server.URL, server.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	operation, err := client.WaitForOperation(ctx, "op-2", 10*time.Millisecond)
	if err != nil {
		t.Fatalf("wait for operation: %v", err)
	}
	if operation.Status != "succeeded" {
		t.Fatalf("unexpected terminal status %s", operation.Status)
	}
	if calls < 3 {
		t.Fatalf("expected polling, got %d calls", calls)
	}
}

func TestGetBalanceRootAndUser(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/accounts", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(BalanceInfo{Address: "0x1654653399040a61", Balance: "100.0", CoaBalance: "0"})
	})
	mux.HandleFunc("/api/v1/accounts/user-7", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(BalanceInfo{UserID: "user-7", Address: "0xf8d6e0586b0a20c7", Balance: "2.5", CoaBalance: "0.75"})
	})

	server := httptest.NewServer(mux)
	defer server.Close()

	client, err := NewClient(server.URL, server.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	ctx := context.Background()
	root, err := client.GetBalance(ctx, "")
	if err != nil {
		t.Fatalf("root balance: %v", err)
	}
	if root.Balance != "100.0" {
		t.Fatalf("unexpected root balance %+v", root)
	}

	user, err := client.GetBalance(ctx, "user-7")
	if err != nil {
		t.Fatalf("user balance: %v", err)
	}
	if user.UserID != "user-7" || user.CoaBalance != "0.75" {
		t.Fatalf("unexpected user balance %+v", user)
	}
}

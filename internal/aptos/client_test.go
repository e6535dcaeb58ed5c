package aptos

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func fastOpts() []ClientOption {
	return []ClientOption{
		WithMaxRetries(2),
		WithRetryDelay(time.Millisecond),
		WithMaxDelay(5 * time.Millisecond),
	}
}

func TestNodeClient_LedgerInfo(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/" {
			t.Errorf("expected path /v1/, got %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"chain_id":         2,
			"ledger_version":   "123456",
			"ledger_timestamp": "1700000000000000",
		})
	}))
	defer server.Close()

	client := NewNodeClient(server.URL+"/v1/", fastOpts()...)
	info, err := client.LedgerInfo(context.Background())
	if err != nil {
		t.Fatalf("LedgerInfo: %v", err)
	}
	if info.ChainID != 2 {
		t.Errorf("expected chain id 2, got %d", info.ChainID)
	}
	if info.LedgerVersion != 123456 {
		t.Errorf("expected ledger version 123456, got %d", info.LedgerVersion)
	}
	if info.LedgerTimestamp != 1700000000000000 {
		t.Errorf("expected timestamp 1700000000000000, got %d", info.LedgerTimestamp)
	}
}

func TestNodeClient_Account(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/accounts/0x1":
			json.NewEncoder(w).Encode(map[string]string{
				"sequence_number":    "42",
				"authentication_key": "0xabc",
			})
		default:
			w.WriteHeader(http.StatusNotFound)
			json.NewEncoder(w).Encode(map[string]string{
				"message":    "Account not found",
				"error_code": "account_not_found",
			})
		}
	}))
	defer server.Close()

	client := NewNodeClient(server.URL, fastOpts()...)

	acc, err := client.Account(context.Background(), "0x1")
	if err != nil {
		t.Fatalf("Account: %v", err)
	}
	if acc.SequenceNumber != 42 {
		t.Errorf("expected sequence 42, got %d", acc.SequenceNumber)
	}
	if acc.AuthenticationKey != "0xabc" {
		t.Errorf("expected auth key 0xabc, got %s", acc.AuthenticationKey)
	}

	_, err = client.Account(context.Background(), "0x2")
	if !errors.Is(err, ErrAccountNotFound) {
		t.Errorf("expected ErrAccountNotFound, got %v", err)
	}
}

func TestNodeClient_EncodeAndSubmit(t *testing.T) {
	var submitted SignedTransaction

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		switch r.URL.Path {
		case "/transactions/encode_submission":
			var req TransactionRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				t.Fatalf("decode request: %v", err)
			}
			if req.Payload.Function != "0x1::launchpad::burn_fa" {
				t.Errorf("unexpected function %s", req.Payload.Function)
			}
			json.NewEncoder(w).Encode("0xdeadbeef")
		case "/transactions":
			if err := json.NewDecoder(r.Body).Decode(&submitted); err != nil {
				t.Fatalf("decode signed transaction: %v", err)
			}
			w.WriteHeader(http.StatusAccepted)
			json.NewEncoder(w).Encode(map[string]string{"hash": "0xfeed"})
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer server.Close()

	client := NewNodeClient(server.URL, fastOpts()...)
	req := &TransactionRequest{
		Sender:                  "0x1",
		SequenceNumber:          "0",
		MaxGasAmount:            "90000",
		GasUnitPrice:            "100",
		ExpirationTimestampSecs: "1700000600",
		Payload:                 NewEntryFunctionPayload("0x1::launchpad::burn_fa", "0x2", "1000000"),
	}

	msg, err := client.EncodeSubmission(context.Background(), req)
	if err != nil {
		t.Fatalf("EncodeSubmission: %v", err)
	}
	if len(msg) != 4 || msg[0] != 0xde || msg[3] != 0xef {
		t.Errorf("unexpected signing message %x", msg)
	}

	pending, err := client.SubmitTransaction(context.Background(), &SignedTransaction{
		TransactionRequest: *req,
		Signature: Signature{
			Type:      "ed25519_signature",
			PublicKey: "0xaa",
			Signature: "0xbb",
		},
	})
	if err != nil {
		t.Fatalf("SubmitTransaction: %v", err)
	}
	if pending.Hash != "0xfeed" {
		t.Errorf("expected hash 0xfeed, got %s", pending.Hash)
	}
	if submitted.Signature.Type != "ed25519_signature" {
		t.Errorf("expected ed25519_signature, got %s", submitted.Signature.Type)
	}
	if submitted.Sender != "0x1" || submitted.Payload.Arguments[1] != "1000000" {
		t.Errorf("signed transaction lost request fields: %+v", submitted)
	}
}

func TestNodeClient_SubmitNotRetried(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := NewNodeClient(server.URL, fastOpts()...)
	_, err := client.SubmitTransaction(context.Background(), &SignedTransaction{})
	if err == nil {
		t.Fatal("expected error")
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("expected 1 call, got %d", got)
	}
}

func TestNodeClient_TransactionByHash(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/transactions/by_hash/0xpending":
			json.NewEncoder(w).Encode(map[string]interface{}{
				"type": TxTypePending,
				"hash": "0xpending",
			})
		case "/transactions/by_hash/0xdone":
			json.NewEncoder(w).Encode(map[string]interface{}{
				"type":      TxTypeUser,
				"hash":      "0xdone",
				"version":   "99",
				"success":   true,
				"vm_status": "Executed successfully",
				"events": []map[string]interface{}{
					{
						"type": "0x1::launchpad::CreateFAEvent",
						"data": map[string]interface{}{"fa_obj": map[string]string{"inner": "0xtoken"}},
					},
				},
			})
		default:
			w.WriteHeader(http.StatusNotFound)
			json.NewEncoder(w).Encode(map[string]string{"message": "not found", "error_code": "transaction_not_found"})
		}
	}))
	defer server.Close()

	client := NewNodeClient(server.URL, fastOpts()...)
	ctx := context.Background()

	tx, err := client.TransactionByHash(ctx, "0xpending")
	if err != nil {
		t.Fatalf("TransactionByHash pending: %v", err)
	}
	if tx.Committed() {
		t.Error("pending transaction reported as committed")
	}

	tx, err = client.TransactionByHash(ctx, "0xdone")
	if err != nil {
		t.Fatalf("TransactionByHash done: %v", err)
	}
	if !tx.Committed() || !tx.Success {
		t.Errorf("expected committed success, got %+v", tx)
	}
	if tx.Version != 99 {
		t.Errorf("expected version 99, got %d", tx.Version)
	}
	if len(tx.Events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(tx.Events))
	}

	tx, err = client.TransactionByHash(ctx, "0xunknown")
	if err != nil {
		t.Fatalf("TransactionByHash unknown: %v", err)
	}
	if tx != nil {
		t.Errorf("expected nil for unknown hash, got %+v", tx)
	}
}

func TestNodeClient_Retry(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"chain_id":       1,
			"ledger_version": "1",
		})
	}))
	defer server.Close()

	client := NewNodeClient(server.URL, fastOpts()...)
	info, err := client.LedgerInfo(context.Background())
	if err != nil {
		t.Fatalf("LedgerInfo: %v", err)
	}
	if info.ChainID != 1 {
		t.Errorf("expected chain id 1, got %d", info.ChainID)
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Errorf("expected 3 calls, got %d", got)
	}
}

func TestNodeClient_ClientErrorNotRetried(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{
			"message":    "invalid payload",
			"error_code": "invalid_input",
		})
	}))
	defer server.Close()

	client := NewNodeClient(server.URL, fastOpts()...)
	_, err := client.EncodeSubmission(context.Background(), &TransactionRequest{})

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusBadRequest || apiErr.Code != "invalid_input" {
		t.Errorf("unexpected api error %+v", apiErr)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("expected 1 call, got %d", got)
	}
}

func TestNodeClient_RetriesExhausted(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := NewNodeClient(server.URL, fastOpts()...)
	_, err := client.LedgerInfo(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Errorf("expected 3 calls (1 + 2 retries), got %d", got)
	}
}

func TestNodeClient_ContextCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := NewNodeClient(server.URL, WithMaxRetries(5), WithRetryDelay(time.Second))
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := client.LedgerInfo(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "network", err: errors.New("connection reset"), want: true},
		{name: "rate limited", err: &APIError{StatusCode: http.StatusTooManyRequests}, want: true},
		{name: "server error", err: fmt.Errorf("query: %w", &APIError{StatusCode: http.StatusBadGateway}), want: true},
		{name: "bad request", err: &APIError{StatusCode: http.StatusBadRequest}, want: false},
		{name: "graphql", err: &APIError{StatusCode: http.StatusOK, Code: "graphql"}, want: false},
		{name: "cancelled", err: context.Canceled, want: false},
		{name: "deadline", err: fmt.Errorf("wait: %w", context.DeadlineExceeded), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

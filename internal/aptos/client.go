package aptos

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Default configuration values.
const (
	DefaultTimeout     = 30 * time.Second
	DefaultMaxRetries  = 3
	DefaultRetryDelay  = 500 * time.Millisecond
	DefaultMaxDelay    = 8 * time.Second
	DefaultBackoffMult = 2.0
)

// ErrAccountNotFound is returned when the node has no account at the address.
var ErrAccountNotFound = errors.New("account not found")

// APIError is a non-2xx response from the node or the indexer.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("aptos api error %d (%s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("aptos api error %d: %s", e.StatusCode, e.Message)
}

// retryable reports whether the status is worth another attempt.
func (e *APIError) retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// IsRetryable reports whether err may clear on another attempt. Context
// errors and API errors other than 429 and 5xx are final.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.retryable()
	}
	return true
}

// transport performs JSON requests with retries and capped exponential backoff.
type transport struct {
	client      *http.Client
	maxRetries  int
	retryDelay  time.Duration
	maxDelay    time.Duration
	backoffMult float64
}

// ClientOption configures NodeClient and IndexerClient.
type ClientOption func(*transport)

// WithTimeout sets HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(t *transport) {
		t.client.Timeout = d
	}
}

// WithMaxRetries sets maximum retry attempts for idempotent calls.
func WithMaxRetries(n int) ClientOption {
	return func(t *transport) {
		t.maxRetries = n
	}
}

// WithRetryDelay sets initial retry delay.
func WithRetryDelay(d time.Duration) ClientOption {
	return func(t *transport) {
		t.retryDelay = d
	}
}

// WithMaxDelay sets maximum retry delay.
func WithMaxDelay(d time.Duration) ClientOption {
	return func(t *transport) {
		t.maxDelay = d
	}
}

// WithHTTPClient sets custom http.Client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(t *transport) {
		t.client = client
	}
}

func newTransport(opts ...ClientOption) *transport {
	t := &transport{
		client:      &http.Client{Timeout: DefaultTimeout},
		maxRetries:  DefaultMaxRetries,
		retryDelay:  DefaultRetryDelay,
		maxDelay:    DefaultMaxDelay,
		backoffMult: DefaultBackoffMult,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// do sends a request and decodes a 2xx body into result.
// When retry is false the request is attempted once. 404 is returned as an
// *APIError and never retried.
func (t *transport) do(ctx context.Context, method, endpoint string, payload, result interface{}, retry bool) error {
	var body []byte
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
	}

	attempts := 1
	if retry {
		attempts += t.maxRetries
	}

	delay := t.retryDelay
	var lastErr error

	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			// Exponential backoff
			delay = time.Duration(float64(delay) * t.backoffMult)
			if delay > t.maxDelay {
				delay = t.maxDelay
			}
		}

		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Accept", "application/json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := t.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			lastErr = fmt.Errorf("http request: %w", err)
			continue
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("read response: %w", err)
			continue
		}

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			apiErr := parseAPIError(resp.StatusCode, respBody)
			if !apiErr.retryable() {
				return apiErr
			}
			lastErr = apiErr
			continue
		}

		if result != nil && len(respBody) > 0 {
			if err := json.Unmarshal(respBody, result); err != nil {
				return fmt.Errorf("unmarshal response: %w", err)
			}
		}
		return nil
	}

	if attempts == 1 {
		return lastErr
	}
	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

// parseAPIError decodes the node's {"message","error_code"} error body.
func parseAPIError(status int, body []byte) *APIError {
	var raw struct {
		Message   string `json:"message"`
		ErrorCode string `json:"error_code"`
	}
	if err := json.Unmarshal(body, &raw); err != nil || raw.Message == "" {
		return &APIError{StatusCode: status, Message: strings.TrimSpace(string(body))}
	}
	return &APIError{StatusCode: status, Code: raw.ErrorCode, Message: raw.Message}
}

// NodeClient implements Node over the fullnode REST API.
type NodeClient struct {
	baseURL string
	t       *transport
}

// NewNodeClient creates a client for a fullnode REST endpoint such as
// https://api.mainnet.aptoslabs.com/v1.
func NewNodeClient(baseURL string, opts ...ClientOption) *NodeClient {
	return &NodeClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		t:       newTransport(opts...),
	}
}

// Compile-time interface check.
var _ Node = (*NodeClient)(nil)

// LedgerInfo returns chain id and ledger version.
func (c *NodeClient) LedgerInfo(ctx context.Context) (*LedgerInfo, error) {
	var raw struct {
		ChainID         uint8  `json:"chain_id"`
		LedgerVersion   string `json:"ledger_version"`
		LedgerTimestamp string `json:"ledger_timestamp"`
	}
	if err := c.t.do(ctx, http.MethodGet, c.baseURL+"/", nil, &raw, true); err != nil {
		return nil, err
	}

	info := &LedgerInfo{ChainID: raw.ChainID}
	info.LedgerVersion, _ = strconv.ParseUint(raw.LedgerVersion, 10, 64)
	info.LedgerTimestamp, _ = strconv.ParseUint(raw.LedgerTimestamp, 10, 64)
	return info, nil
}

// Account returns the account resource. Returns ErrAccountNotFound if absent.
func (c *NodeClient) Account(ctx context.Context, address string) (*AccountInfo, error) {
	var raw struct {
		SequenceNumber    string `json:"sequence_number"`
		AuthenticationKey string `json:"authentication_key"`
	}
	err := c.t.do(ctx, http.MethodGet, c.baseURL+"/accounts/"+url.PathEscape(address), nil, &raw, true)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}

	seq, err := strconv.ParseUint(raw.SequenceNumber, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse sequence number %q: %w", raw.SequenceNumber, err)
	}
	return &AccountInfo{SequenceNumber: seq, AuthenticationKey: raw.AuthenticationKey}, nil
}

// EncodeSubmission returns the signing message for an unsigned transaction.
// Encoding has no side effects, so it is retried like a read.
func (c *NodeClient) EncodeSubmission(ctx context.Context, req *TransactionRequest) ([]byte, error) {
	var encoded string
	if err := c.t.do(ctx, http.MethodPost, c.baseURL+"/transactions/encode_submission", req, &encoded, true); err != nil {
		return nil, err
	}

	msg, err := hex.DecodeString(strings.TrimPrefix(encoded, "0x"))
	if err != nil {
		return nil, fmt.Errorf("decode signing message: %w", err)
	}
	return msg, nil
}

// SubmitTransaction broadcasts a signed transaction. Not retried.
func (c *NodeClient) SubmitTransaction(ctx context.Context, tx *SignedTransaction) (*PendingTransaction, error) {
	var pending PendingTransaction
	if err := c.t.do(ctx, http.MethodPost, c.baseURL+"/transactions", tx, &pending, false); err != nil {
		return nil, err
	}
	if pending.Hash == "" {
		return nil, fmt.Errorf("submit transaction: node returned no hash")
	}
	return &pending, nil
}

// TransactionByHash looks up a transaction. Returns nil if the node does not know it yet.
func (c *NodeClient) TransactionByHash(ctx context.Context, hash string) (*Transaction, error) {
	var raw getTransactionResult
	err := c.t.do(ctx, http.MethodGet, c.baseURL+"/transactions/by_hash/"+url.PathEscape(hash), nil, &raw, true)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return nil, nil
		}
		return nil, err
	}

	tx := &Transaction{
		Type:     raw.Type,
		Hash:     raw.Hash,
		Success:  raw.Success,
		VMStatus: raw.VMStatus,
	}
	if raw.Version != "" {
		tx.Version, _ = strconv.ParseUint(raw.Version, 10, 64)
	}
	for _, e := range raw.Events {
		tx.Events = append(tx.Events, Event{Type: e.Type, Data: e.Data})
	}
	return tx, nil
}

// getTransactionResult is the raw REST response for /transactions/by_hash.
type getTransactionResult struct {
	Type     string              `json:"type"`
	Hash     string              `json:"hash"`
	Version  string              `json:"version"`
	Success  bool                `json:"success"`
	VMStatus string              `json:"vm_status"`
	Events   []getTransactionEvt `json:"events"`
}

type getTransactionEvt struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

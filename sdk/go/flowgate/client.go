package flowgate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"sync"
	"time"
)

// DefaultHTTPTimeout defines the timeout used by clients created without a
// custom http.Client. It is intentionally short to avoid hanging network calls.
const DefaultHTTPTimeout = 15 * time.Second

// Client wraps the HTTP interactions with the FlowGate REST API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client

	mu          sync.RWMutex
	accessToken string
}

// OperationSubmission represents the payload required to create an operation.
type OperationSubmission struct {
	ID      string          `json:"id,omitempty"`
	Kind    string          `json:"kind"`
	UserID  string          `json:"user_id,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

// OperationResult carries the outcome of a completed operation.
type OperationResult struct {
	TxID    string          `json:"tx_id,omitempty"`
	Summary string          `json:"summary,omitempty"`
	Detail  json.RawMessage `json:"detail,omitempty"`
}

// Operation mirrors the server side view of a queued operation.
type Operation struct {
	ID         string           `json:"id"`
	Kind       string           `json:"kind"`
	UserID     string           `json:"user_id,omitempty"`
	Status     string           `json:"status"`
	Attempts   int              `json:"attempts"`
	MaxRetries int              `json:"max_retries"`
	LastError  string           `json:"last_error,omitempty"`
	ErrorCode  string           `json:"error_code,omitempty"`
	Terminal   bool             `json:"terminal,omitempty"`
	Result     *OperationResult `json:"result,omitempty"`
	CreatedAt  int64            `json:"created_at"`
	UpdatedAt  int64            `json:"updated_at"`
}

// OperationStats aggregates operation counters.
type OperationStats struct {
	Total           int64 `json:"total"`
	Pending         int64 `json:"pending"`
	Running         int64 `json:"running"`
	Succeeded       int64 `json:"succeeded"`
	Failed          int64 `json:"failed"`
	OldestUpdatedAt int64 `json:"oldest_updated_at"`
	NewestUpdatedAt int64 `json:"newest_updated_at"`
}

// Account mirrors the server side view of a derived account.
type Account struct {
	UserID    string `json:"user_id"`
	Address   string `json:"address"`
	CreatedAt int64  `json:"created_at"`
	UpdatedAt int64  `json:"updated_at"`
}

// BalanceInfo mirrors the server side balance aggregation.
type BalanceInfo struct {
	UserID     string `json:"user_id,omitempty"`
	Address    string `json:"address"`
	Balance    string `json:"balance"`
	CoaAddress string `json:"coa_address,omitempty"`
	CoaBalance string `json:"coa_balance"`
}

// APIError represents server side validation or internal errors.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"error"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("flowgate api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("flowgate api error (%d): %s", e.StatusCode, e.Message)
}

// NewClient instantiates a client for the FlowGate API. When httpClient is
// nil, a default client with a sensible timeout is used.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// SetAccessToken stores the bearer token attached to subsequent calls.
func (c *Client) SetAccessToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accessToken = token
}

// AccessToken returns the currently stored token string.
func (c *Client) AccessToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.accessToken
}

// SubmitOperation enqueues a new operation.
func (c *Client) SubmitOperation(ctx context.Context, submission OperationSubmission) (Operation, error) {
	var operation Operation
	if err := c.post(ctx, "/api/v1/operations", submission, &operation); err != nil {
		return Operation{}, err
	}
	return operation, nil
}

// GetOperation fetches operation details by identifier.
func (c *Client) GetOperation(ctx context.Context, id string) (Operation, error) {
	var operation Operation
	if err := c.get(ctx, "/api/v1/operations/"+url.PathEscape(id), &operation); err != nil {
		return Operation{}, err
	}
	return operation, nil
}

// ListOperations returns recent operations, optionally filtered by the query
// values understood by the server (status, kind, user_id, limit, offset).
func (c *Client) ListOperations(ctx context.Context, query url.Values) ([]Operation, error) {
	endpoint := "/api/v1/operations"
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	var operations []Operation
	if err := c.get(ctx, endpoint, &operations); err != nil {
		return nil, err
	}
	return operations, nil
}

// Stats returns aggregated operation counters.
func (c *Client) Stats(ctx context.Context) (OperationStats, error) {
	var stats OperationStats
	if err := c.get(ctx, "/api/v1/operations/stats", &stats); err != nil {
		return OperationStats{}, err
	}
	return stats, nil
}

// EnsureAccount creates the derived account for the given user if missing.
func (c *Client) EnsureAccount(ctx context.Context, userID string) (Account, error) {
	var account Account
	payload := map[string]string{"user_id": userID}
	if err := c.post(ctx, "/api/v1/accounts", payload, &account); err != nil {
		return Account{}, err
	}
	return account, nil
}

// GetBalance fetches the aggregated balance for the given user. An empty
// userID queries the root account.
func (c *Client) GetBalance(ctx context.Context, userID string) (BalanceInfo, error) {
	endpoint := "/api/v1/accounts"
	if userID != "" {
		endpoint += "/" + url.PathEscape(userID)
	}
	var info BalanceInfo
	if err := c.get(ctx, endpoint, &info); err != nil {
		return BalanceInfo{}, err
	}
	return info, nil
}

// WaitForOperation polls until the operation reaches a terminal status.
func (c *Client) WaitForOperation(ctx context.Context, id string, interval time.Duration) (Operation, error) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		operation, err := c.GetOperation(ctx, id)
		if err != nil {
			return Operation{}, err
		}
		if operation.Status == "succeeded" || operation.Status == "failed" {
			return operation, nil
		}
		select {
		case <-ctx.Done():
			return Operation{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) post(ctx context.Context, endpoint string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, endpoint string, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body io.Reader) (*http.Request, error) {
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}
	rel := &url.URL{Path: path.Join(c.baseURL.Path, parsed.Path), RawQuery: parsed.RawQuery}
	u := c.baseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if token := c.AccessToken(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		if len(data) > 0 {
			_ = json.Unmarshal(data, apiErr)
		}
		if apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	decoder := json.NewDecoder(resp.Body)
	if err := decoder.Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

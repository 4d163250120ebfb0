package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Config holds the configuration for connecting to the SwipeFi API.
type Config struct {
	APIURL        string // Base URL, e.g. "http://localhost:8080"
	WalletAddress string // Default wallet for score lookups and credit operations
}

// SwipeFiClient is a pure HTTP client for the SwipeFi credit API.
type SwipeFiClient struct {
	cfg        Config
	httpClient *http.Client
}

// NewSwipeFiClient creates a new client for the SwipeFi API.
func NewSwipeFiClient(cfg Config) *SwipeFiClient {
	return &SwipeFiClient{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// apiError represents an error response from the API.
type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// envelope is the API's success wrapper.
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
}

// doRequest makes an HTTP request and returns the unwrapped data payload.
func (c *SwipeFiClient) doRequest(ctx context.Context, method, path string, query url.Values, body any) (json.RawMessage, error) {
	u, err := url.Parse(c.cfg.APIURL + path)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var apiErr apiError
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Message != "" {
			return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, apiErr.Message)
		}
		return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, string(respBody))
	}

	var env envelope
	if json.Unmarshal(respBody, &env) == nil && env.Data != nil {
		return env.Data, nil
	}
	return json.RawMessage(respBody), nil
}

func (c *SwipeFiClient) wallet(addr string) string {
	if addr == "" {
		return c.cfg.WalletAddress
	}
	return addr
}

// GetCreditScore returns the evaluation for a wallet.
func (c *SwipeFiClient) GetCreditScore(ctx context.Context, address string) (json.RawMessage, error) {
	path := "/v1/wallets/" + url.PathEscape(c.wallet(address)) + "/credit-score"
	return c.doRequest(ctx, http.MethodGet, path, nil, nil)
}

// EvaluateSnapshot scores a caller-supplied activity snapshot.
func (c *SwipeFiClient) EvaluateSnapshot(ctx context.Context, snapshot map[string]any, outstanding *float64) (json.RawMessage, error) {
	body := map[string]any{"snapshot": snapshot}
	if outstanding != nil {
		body["outstandingBalance"] = *outstanding
	}
	return c.doRequest(ctx, http.MethodPost, "/v1/credit-score/evaluate", nil, body)
}

// ListTransactions returns a wallet's ledger records, newest first.
func (c *SwipeFiClient) ListTransactions(ctx context.Context, address string, limit int) (json.RawMessage, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/v1/wallets/" + url.PathEscape(c.wallet(address)) + "/transactions"
	return c.doRequest(ctx, http.MethodGet, path, q, nil)
}

// Spend draws amount on the configured wallet's credit line.
func (c *SwipeFiClient) Spend(ctx context.Context, amount string) (json.RawMessage, error) {
	return c.transact(ctx, "spend", amount)
}

// Repay repays amount against the configured wallet's balance.
func (c *SwipeFiClient) Repay(ctx context.Context, amount string) (json.RawMessage, error) {
	return c.transact(ctx, "repay", amount)
}

func (c *SwipeFiClient) transact(ctx context.Context, kind, amount string) (json.RawMessage, error) {
	body := map[string]any{
		"amount": json.Number(amount),
		"type":   kind,
	}
	path := "/v1/wallets/" + url.PathEscape(c.cfg.WalletAddress) + "/transactions"
	return c.doRequest(ctx, http.MethodPost, path, nil, body)
}

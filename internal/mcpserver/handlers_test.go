package mcpserver

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testWallet = "0xaaaa000000000000000000000000000000000001"

// --- Test helpers ---

func newTestSetup(handler http.Handler) (*Handlers, func()) {
	ts := httptest.NewServer(handler)
	client := NewSwipeFiClient(Config{APIURL: ts.URL, WalletAddress: testWallet})
	return NewHandlers(client), ts.Close
}

func makeRequest(args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	if args == nil {
		args = map[string]any{}
	}
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content, "expected at least one content block")
	tc, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected TextContent, got %T", result.Content[0])
	return tc.Text
}

func writeData(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"success": true, "data": data})
}

var sampleEvaluation = map[string]any{
	"walletAddress": testWallet,
	"creditScore": map[string]any{
		"score":           712,
		"riskLevel":       "good",
		"availableCredit": 41000.0,
		"maxCreditLimit":  42000.0,
		"factors": map[string]any{
			"positive": []string{"Long transaction history"},
			"negative": []string{},
		},
		"recommendations": []string{"Explore more DeFi protocols to diversify activity"},
	},
	"outstandingBalance": 1000.0,
	"fallback":           false,
}

// ============================================================
// Client tests
// ============================================================

func TestClient_UnwrapsEnvelope(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeData(w, map[string]any{"id": "tx-1"})
	}))
	defer ts.Close()

	client := NewSwipeFiClient(Config{APIURL: ts.URL, WalletAddress: testWallet})
	raw, err := client.Spend(context.Background(), "10")
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"tx-1"}`, string(raw))
}

func TestClient_HTTPError_WithAPIMessage(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error":   "insufficient_credit",
			"message": "Insufficient credit. Available: $1,000",
		})
	}))
	defer ts.Close()

	client := NewSwipeFiClient(Config{APIURL: ts.URL, WalletAddress: testWallet})
	_, err := client.Spend(context.Background(), "5000")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
	assert.Contains(t, err.Error(), "Insufficient credit. Available: $1,000")
}

func TestClient_HTTPError_NonJSON(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream timeout"))
	}))
	defer ts.Close()

	client := NewSwipeFiClient(Config{APIURL: ts.URL, WalletAddress: testWallet})
	_, err := client.GetCreditScore(context.Background(), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
	assert.Contains(t, err.Error(), "upstream timeout")
}

func TestClient_ConnectionRefused(t *testing.T) {
	client := NewSwipeFiClient(Config{APIURL: "http://127.0.0.1:1", WalletAddress: testWallet})
	_, err := client.GetCreditScore(context.Background(), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "request failed")
}

func TestClient_TransactBody(t *testing.T) {
	var body map[string]any
	var path string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &body)
		writeData(w, map[string]any{})
	}))
	defer ts.Close()

	client := NewSwipeFiClient(Config{APIURL: ts.URL, WalletAddress: testWallet})
	_, err := client.Repay(context.Background(), "12.50")
	require.NoError(t, err)
	assert.Equal(t, "/v1/wallets/"+testWallet+"/transactions", path)
	assert.Equal(t, "repay", body["type"])
	assert.Equal(t, 12.5, body["amount"])
}

// ============================================================
// get_credit_score
// ============================================================

func TestHandleGetCreditScore_DefaultWallet(t *testing.T) {
	var gotPath string
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		writeData(w, sampleEvaluation)
	}))
	defer cleanup()

	result, err := h.HandleGetCreditScore(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	require.False(t, result.IsError)

	text := resultText(t, result)
	assert.Equal(t, "/v1/wallets/"+testWallet+"/credit-score", gotPath)
	assert.Contains(t, text, "Credit Score: 712")
	assert.Contains(t, text, "Risk Level: good")
	assert.Contains(t, text, "Available Credit: $41000.00")
	assert.Contains(t, text, "Outstanding: $1000.00")
	assert.Contains(t, text, "Long transaction history")
	assert.Contains(t, text, "Explore more DeFi protocols")
}

func TestHandleGetCreditScore_ExplicitWallet(t *testing.T) {
	other := "0xbbbb000000000000000000000000000000000002"
	var gotPath string
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		writeData(w, sampleEvaluation)
	}))
	defer cleanup()

	_, err := h.HandleGetCreditScore(context.Background(), makeRequest(map[string]any{"wallet_address": other}))
	require.NoError(t, err)
	assert.Equal(t, "/v1/wallets/"+other+"/credit-score", gotPath)
}

func TestHandleGetCreditScore_Fallback(t *testing.T) {
	eval := map[string]any{}
	for k, v := range sampleEvaluation {
		eval[k] = v
	}
	eval["fallback"] = true

	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeData(w, eval)
	}))
	defer cleanup()

	result, err := h.HandleGetCreditScore(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	assert.Contains(t, resultText(t, result), "neutral estimate")
}

func TestHandleGetCreditScore_APIError(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":"source_unavailable","message":"Wallet activity is temporarily unavailable"}`))
	}))
	defer cleanup()

	result, err := h.HandleGetCreditScore(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "temporarily unavailable")
}

// ============================================================
// evaluate_snapshot
// ============================================================

func TestHandleEvaluateSnapshot(t *testing.T) {
	var body map[string]any
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &body)
		writeData(w, sampleEvaluation)
	}))
	defer cleanup()

	result, err := h.HandleEvaluateSnapshot(context.Background(), makeRequest(map[string]any{
		"snapshot":            map[string]any{"totalVolume": 5000.0},
		"outstanding_balance": 250.0,
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)
	assert.Equal(t, 250.0, body["outstandingBalance"])
	assert.Equal(t, map[string]any{"totalVolume": 5000.0}, body["snapshot"])
}

func TestHandleEvaluateSnapshot_Validation(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("API should not be called")
	}))
	defer cleanup()

	result, _ := h.HandleEvaluateSnapshot(context.Background(), makeRequest(nil))
	assert.True(t, result.IsError)

	result, _ = h.HandleEvaluateSnapshot(context.Background(), makeRequest(map[string]any{
		"snapshot":            map[string]any{},
		"outstanding_balance": -1.0,
	}))
	assert.True(t, result.IsError)
}

// ============================================================
// list_transactions
// ============================================================

func TestHandleListTransactions(t *testing.T) {
	var gotLimit string
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotLimit = r.URL.Query().Get("limit")
		writeData(w, []map[string]any{
			{"id": "b", "type": "repay", "amount": "50", "status": "repaid"},
			{"id": "a", "type": "spend", "amount": "200", "status": "pending", "dueDate": "2026-11-17T00:00:00Z"},
		})
	}))
	defer cleanup()

	result, err := h.HandleListTransactions(context.Background(), makeRequest(map[string]any{"limit": 5.0}))
	require.NoError(t, err)

	text := resultText(t, result)
	assert.Equal(t, "5", gotLimit)
	assert.Contains(t, text, "Found 2 transaction(s)")
	assert.Contains(t, text, "1. repay $50 [repaid]")
	assert.Contains(t, text, "2. spend $200 [pending] due 2026-11-17")
}

func TestHandleListTransactions_Empty(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeData(w, []any{})
	}))
	defer cleanup()

	result, err := h.HandleListTransactions(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	assert.Equal(t, "No transactions found.", resultText(t, result))
}

// ============================================================
// spend_on_credit / repay_credit
// ============================================================

func TestHandleSpendOnCredit(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		writeData(w, map[string]any{"id": "tx-9", "type": "spend", "amount": "250", "status": "pending", "dueDate": "2026-11-17T00:00:00Z"})
	}))
	defer cleanup()

	result, err := h.HandleSpendOnCredit(context.Background(), makeRequest(map[string]any{"amount": "250.00"}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	text := resultText(t, result)
	assert.True(t, strings.HasPrefix(text, "Spend recorded."))
	assert.Contains(t, text, "ID: tx-9")
	assert.Contains(t, text, "Due: 2026-11-17")
}

func TestHandleSpendOnCredit_Refused(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"insufficient_credit","message":"Insufficient credit. Available: $100"}`))
	}))
	defer cleanup()

	result, err := h.HandleSpendOnCredit(context.Background(), makeRequest(map[string]any{"amount": "500"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "Available: $100")
}

func TestHandleRepayCredit_InvalidAmount(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("API should not be called")
	}))
	defer cleanup()

	for _, amount := range []string{"", "abc", "0", "-5"} {
		result, err := h.HandleRepayCredit(context.Background(), makeRequest(map[string]any{"amount": amount}))
		require.NoError(t, err)
		assert.True(t, result.IsError, "amount %q", amount)
	}
}

func TestHandleRepayCredit(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeData(w, map[string]any{"id": "tx-10", "type": "repay", "amount": "100", "status": "repaid"})
	}))
	defer cleanup()

	result, err := h.HandleRepayCredit(context.Background(), makeRequest(map[string]any{"amount": "100"}))
	require.NoError(t, err)
	assert.Contains(t, resultText(t, result), "Repayment recorded.")
}

// ============================================================
// Server wiring
// ============================================================

func TestNewMCPServer(t *testing.T) {
	s := NewMCPServer(Config{APIURL: "http://localhost:8080", WalletAddress: testWallet})
	require.NotNil(t, s)
}

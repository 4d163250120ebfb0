package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/shopspring/decimal"
)

// Handlers holds the handler functions for each MCP tool.
type Handlers struct {
	client *SwipeFiClient
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(client *SwipeFiClient) *Handlers {
	return &Handlers{client: client}
}

// HandleGetCreditScore returns a wallet's credit score.
func (h *Handlers) HandleGetCreditScore(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	address := req.GetString("wallet_address", "")

	raw, err := h.client.GetCreditScore(ctx, address)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get credit score: %v", err)), nil
	}

	text, err := formatEvaluation(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse credit score: %v", err)), nil
	}

	return mcp.NewToolResultText(text), nil
}

// HandleEvaluateSnapshot scores a hypothetical snapshot.
func (h *Handlers) HandleEvaluateSnapshot(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	snapshot, ok := args["snapshot"].(map[string]any)
	if !ok {
		return mcp.NewToolResultError("snapshot is required and must be an object"), nil
	}

	var outstanding *float64
	if _, ok := args["outstanding_balance"]; ok {
		v := req.GetFloat("outstanding_balance", 0)
		if v < 0 {
			return mcp.NewToolResultError("outstanding_balance must not be negative"), nil
		}
		outstanding = &v
	}

	raw, err := h.client.EvaluateSnapshot(ctx, snapshot, outstanding)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to evaluate snapshot: %v", err)), nil
	}

	text, err := formatEvaluation(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse evaluation: %v", err)), nil
	}

	return mcp.NewToolResultText(text), nil
}

// HandleListTransactions lists a wallet's ledger records.
func (h *Handlers) HandleListTransactions(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	address := req.GetString("wallet_address", "")
	limit := req.GetInt("limit", 20)

	raw, err := h.client.ListTransactions(ctx, address, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list transactions: %v", err)), nil
	}

	text, err := formatTransactionList(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse transactions: %v", err)), nil
	}

	return mcp.NewToolResultText(text), nil
}

// HandleSpendOnCredit records a spend.
func (h *Handlers) HandleSpendOnCredit(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	amount, errResult := requireAmount(req)
	if errResult != nil {
		return errResult, nil
	}

	raw, err := h.client.Spend(ctx, amount)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Spend refused: %v", err)), nil
	}

	return mcp.NewToolResultText("Spend recorded.\n\n" + formatTransaction(raw)), nil
}

// HandleRepayCredit records a repayment.
func (h *Handlers) HandleRepayCredit(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	amount, errResult := requireAmount(req)
	if errResult != nil {
		return errResult, nil
	}

	raw, err := h.client.Repay(ctx, amount)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Repayment refused: %v", err)), nil
	}

	return mcp.NewToolResultText("Repayment recorded.\n\n" + formatTransaction(raw)), nil
}

func requireAmount(req mcp.CallToolRequest) (string, *mcp.CallToolResult) {
	amount := strings.TrimSpace(req.GetString("amount", ""))
	if amount == "" {
		return "", mcp.NewToolResultError("amount is required")
	}
	d, err := decimal.NewFromString(amount)
	if err != nil || !d.IsPositive() {
		return "", mcp.NewToolResultError("amount must be a positive number")
	}
	return d.String(), nil
}

// --- Formatting ---

func formatEvaluation(raw json.RawMessage) (string, error) {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return "", err
	}
	score, ok := m["creditScore"].(map[string]any)
	if !ok {
		return "", fmt.Errorf("no creditScore in response")
	}

	var sb strings.Builder
	if v := getString(m, "walletAddress"); v != "" {
		fmt.Fprintf(&sb, "Wallet: %s\n", v)
	}
	if v, ok := getFloat(score, "score"); ok {
		fmt.Fprintf(&sb, "Credit Score: %.0f\n", v)
	}
	if v := getString(score, "riskLevel"); v != "" {
		fmt.Fprintf(&sb, "Risk Level: %s\n", v)
	}
	if v, ok := getFloat(score, "maxCreditLimit"); ok {
		fmt.Fprintf(&sb, "Max Credit Limit: $%.2f\n", v)
	}
	if v, ok := getFloat(score, "availableCredit"); ok {
		fmt.Fprintf(&sb, "Available Credit: $%.2f\n", v)
	}
	if v, ok := getFloat(m, "outstandingBalance"); ok && v > 0 {
		fmt.Fprintf(&sb, "Outstanding: $%.2f\n", v)
	}
	if fb, _ := m["fallback"].(bool); fb {
		sb.WriteString("Note: wallet activity was unavailable; this is a neutral estimate.\n")
	}

	if factors, ok := score["factors"].(map[string]any); ok {
		writeList(&sb, "Positive factors", factors["positive"])
		writeList(&sb, "Negative factors", factors["negative"])
	}
	writeList(&sb, "Recommendations", score["recommendations"])

	return sb.String(), nil
}

func writeList(sb *strings.Builder, title string, v any) {
	items, ok := v.([]any)
	if !ok || len(items) == 0 {
		return
	}
	fmt.Fprintf(sb, "\n%s:\n", title)
	for _, it := range items {
		if s, ok := it.(string); ok {
			fmt.Fprintf(sb, "  - %s\n", s)
		}
	}
}

func formatTransactionList(raw json.RawMessage) (string, error) {
	var txs []map[string]any
	if err := json.Unmarshal(raw, &txs); err != nil {
		return "", fmt.Errorf("unexpected transactions response format")
	}

	if len(txs) == 0 {
		return "No transactions found.", nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Found %d transaction(s):\n\n", len(txs))
	for i, tx := range txs {
		fmt.Fprintf(&sb, "%d. %s $%s [%s]", i+1, getString(tx, "type"), getString(tx, "amount"), getString(tx, "status"))
		if due := getString(tx, "dueDate"); due != "" {
			fmt.Fprintf(&sb, " due %s", due)
		}
		sb.WriteString("\n")
	}
	return sb.String(), nil
}

func formatTransaction(raw json.RawMessage) string {
	var tx map[string]any
	if err := json.Unmarshal(raw, &tx); err != nil {
		return formatJSON(raw)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "ID: %s\n", getString(tx, "id"))
	fmt.Fprintf(&sb, "Type: %s\n", getString(tx, "type"))
	fmt.Fprintf(&sb, "Amount: $%s\n", getString(tx, "amount"))
	fmt.Fprintf(&sb, "Status: %s\n", getString(tx, "status"))
	if due := getString(tx, "dueDate"); due != "" {
		fmt.Fprintf(&sb, "Due: %s\n", due)
	}
	return sb.String()
}

func formatJSON(raw json.RawMessage) string {
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, raw, "", "  "); err != nil {
		return string(raw)
	}
	return pretty.String()
}

// getString extracts a string value from a map, trying multiple key names.
func getString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			if s, ok := v.(string); ok {
				return s
			}
			if f, ok := v.(float64); ok {
				return fmt.Sprintf("%g", f)
			}
		}
	}
	return ""
}

// getFloat extracts a float64 value from a map, trying multiple key names.
func getFloat(m map[string]any, keys ...string) (float64, bool) {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			if f, ok := v.(float64); ok {
				return f, true
			}
		}
	}
	return 0, false
}

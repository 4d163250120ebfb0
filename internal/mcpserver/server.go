package mcpserver

import (
	"github.com/mark3labs/mcp-go/server"
)

// NewMCPServer creates a configured MCP server with all SwipeFi tools registered.
func NewMCPServer(cfg Config) *server.MCPServer {
	s := server.NewMCPServer("swipefi", "1.0.0")
	client := NewSwipeFiClient(cfg)
	h := NewHandlers(client)

	s.AddTool(ToolGetCreditScore, h.HandleGetCreditScore)
	s.AddTool(ToolEvaluateSnapshot, h.HandleEvaluateSnapshot)
	s.AddTool(ToolListTransactions, h.HandleListTransactions)
	s.AddTool(ToolSpendOnCredit, h.HandleSpendOnCredit)
	s.AddTool(ToolRepayCredit, h.HandleRepayCredit)

	return s
}

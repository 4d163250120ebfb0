package mcpserver

import "github.com/mark3labs/mcp-go/mcp"

// Tool definitions for the SwipeFi MCP server.
// Descriptions are what the LLM reads to decide which tool to use.

var ToolGetCreditScore = mcp.NewTool("get_credit_score",
	mcp.WithDescription(
		"Get the credit score for a wallet. "+
			"Returns the score (300-850), risk level, maximum credit limit, available credit, "+
			"the factors behind the score, and suggestions for improving it."),
	mcp.WithString("wallet_address",
		mcp.Description("Wallet address (e.g. '0x1234...'). Defaults to the configured wallet.")),
)

var ToolEvaluateSnapshot = mcp.NewTool("evaluate_snapshot",
	mcp.WithDescription(
		"Score a hypothetical wallet activity snapshot without touching any ledger. "+
			"Use this to see how a change in activity (more volume, fewer failed transactions) would affect a score."),
	mcp.WithObject("snapshot",
		mcp.Required(),
		mcp.Description("Wallet activity, e.g. {\"totalTransactions\": 40, \"totalVolume\": 5000, \"defiProtocols\": [\"Aave\"]}")),
	mcp.WithNumber("outstanding_balance",
		mcp.Description("Outstanding balance to subtract from the credit limit. Defaults to 10% of volume.")),
)

var ToolListTransactions = mcp.NewTool("list_transactions",
	mcp.WithDescription(
		"List a wallet's credit spends and repayments, newest first, with their status "+
			"(pending, repaid, overdue) and due dates."),
	mcp.WithString("wallet_address",
		mcp.Description("Wallet address. Defaults to the configured wallet.")),
	mcp.WithNumber("limit",
		mcp.Description("Maximum number of transactions to return (default 20)")),
)

var ToolSpendOnCredit = mcp.NewTool("spend_on_credit",
	mcp.WithDescription(
		"Spend on the configured wallet's credit line. "+
			"The spend is refused if it exceeds available credit. Spends are due in 30 days."),
	mcp.WithString("amount",
		mcp.Required(),
		mcp.Description("Amount in dollars (e.g. '250.00')")),
)

var ToolRepayCredit = mcp.NewTool("repay_credit",
	mcp.WithDescription(
		"Repay part or all of the configured wallet's outstanding balance. "+
			"Repayments settle the oldest spends first."),
	mcp.WithString("amount",
		mcp.Required(),
		mcp.Description("Amount in dollars (e.g. '100.00'). Cannot exceed the outstanding balance.")),
)

// SwipeFi MCP Server - Exposes wallet credit scoring as MCP tools for LLMs
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/mark3labs/mcp-go/server"

	"github.com/swipefi/swipefi/internal/mcpserver"
)

func main() {
	_ = godotenv.Load()

	cfg := mcpserver.Config{
		APIURL:        envOrDefault("SWIPEFI_API_URL", "http://localhost:8080"),
		WalletAddress: os.Getenv("SWIPEFI_WALLET_ADDRESS"),
	}

	if cfg.WalletAddress == "" {
		fmt.Fprintln(os.Stderr, "SWIPEFI_WALLET_ADDRESS is required")
		os.Exit(1)
	}

	s := mcpserver.NewMCPServer(cfg)
	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "MCP server error: %v\n", err)
		os.Exit(1)
	}
}

func envOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

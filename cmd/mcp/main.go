// Benchmark engine MCP server.
// Exposes benchmark tools over MCP stdio transport.
package main

import (
	"fmt"
	"os"

	mcptools "github.com/gateway-fm/chainbench/internal/mcp"
	"github.com/mark3labs/mcp-go/server"
)

func main() {
	benchURL := os.Getenv("CHAINBENCH_URL")
	if benchURL == "" {
		benchURL = "http://localhost:3001"
	}

	s := server.NewMCPServer(
		"chainbench",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithRecovery(),
	)

	client := mcptools.NewClient(benchURL)
	mcptools.RegisterTools(s, client)

	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "MCP server error: %v\n", err)
		os.Exit(1)
	}
}

package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	gomcp "github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// RegisterTools registers all benchmark engine tools on the MCP server.
func RegisterTools(s *server.MCPServer, client *Client) {
	registerStatus(s, client)
	registerHealth(s, client)
	registerRuns(s, client)
	registerRunDetail(s, client)
	registerCompare(s, client)
	registerDeleteRun(s, client)
}

func registerStatus(s *server.MCPServer, client *Client) {
	tool := gomcp.NewTool("chainbench_status",
		gomcp.WithDescription("Get current benchmark engine status: run state, active run ID, connected stream clients."),
	)
	s.AddTool(tool, func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		raw, err := client.Get("/v1/status")
		if err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Benchmark engine unreachable: %v", err)), nil
		}
		return gomcp.NewToolResultText(formatStatus(raw)), nil
	})
}

func registerHealth(s *server.MCPServer, client *Client) {
	tool := gomcp.NewTool("chainbench_health",
		gomcp.WithDescription("Quick health check for the benchmark engine. Checks RPC endpoint connectivity."),
	)
	s.AddTool(tool, func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		raw, err := client.Get("/ready")
		if err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Benchmark engine unhealthy: %v", err)), nil
		}
		return gomcp.NewToolResultText(formatHealth(raw)), nil
	})
}

func registerRuns(s *server.MCPServer, client *Client) {
	tool := gomcp.NewTool("chainbench_runs",
		gomcp.WithDescription("List completed benchmark runs, newest first."),
		gomcp.WithNumber("limit",
			gomcp.Description("Maximum runs to return (default 20, max 100)"),
		),
		gomcp.WithNumber("offset",
			gomcp.Description("Number of runs to skip"),
		),
	)
	s.AddTool(tool, func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		path := "/v1/runs"
		q := url.Values{}
		if v := req.GetInt("limit", 0); v > 0 {
			q.Set("limit", fmt.Sprintf("%d", v))
		}
		if v := req.GetInt("offset", 0); v > 0 {
			q.Set("offset", fmt.Sprintf("%d", v))
		}
		if len(q) > 0 {
			path += "?" + q.Encode()
		}

		raw, err := client.Get(path)
		if err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Failed to list runs: %v", err)), nil
		}
		return gomcp.NewToolResultText(formatRuns(raw)), nil
	})
}

func registerRunDetail(s *server.MCPServer, client *Client) {
	tool := gomcp.NewTool("chainbench_run_detail",
		gomcp.WithDescription("Get the full summary of one benchmark run: counts, failure classes, latency percentiles, throughput."),
		gomcp.WithString("id",
			gomcp.Required(),
			gomcp.Description("Run ID, e.g. run-1714056000000"),
		),
	)
	s.AddTool(tool, func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		id, err := req.RequireString("id")
		if err != nil {
			return gomcp.NewToolResultError("id is required"), nil
		}
		raw, err := client.Get("/v1/runs/" + url.PathEscape(id))
		if err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Failed to get run: %v", err)), nil
		}
		return gomcp.NewToolResultText(formatRunDetail(raw)), nil
	})
}

func registerCompare(s *server.MCPServer, client *Client) {
	tool := gomcp.NewTool("chainbench_compare",
		gomcp.WithDescription("Compare the latest runs of two networks under the same operation and mode. Reports per-metric deltas."),
		gomcp.WithString("network_a",
			gomcp.Required(),
			gomcp.Description("First network label"),
		),
		gomcp.WithString("network_b",
			gomcp.Required(),
			gomcp.Description("Second network label"),
		),
		gomcp.WithString("operation",
			gomcp.Description("Operation to compare (default: transfer)"),
		),
		gomcp.WithString("mode",
			gomcp.Description("Run mode to compare: sequential, concurrent, burst, discovery (default: concurrent)"),
		),
	)
	s.AddTool(tool, func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		networkA, err := req.RequireString("network_a")
		if err != nil {
			return gomcp.NewToolResultError("network_a is required"), nil
		}
		networkB, err := req.RequireString("network_b")
		if err != nil {
			return gomcp.NewToolResultError("network_b is required"), nil
		}

		q := url.Values{}
		q.Set("networkA", networkA)
		q.Set("networkB", networkB)
		if v := req.GetString("operation", ""); v != "" {
			q.Set("operation", v)
		}
		if v := req.GetString("mode", ""); v != "" {
			q.Set("mode", v)
		}

		raw, err := client.Get("/v1/compare?" + q.Encode())
		if err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Comparison failed: %v", err)), nil
		}
		return gomcp.NewToolResultText(formatComparison(raw)), nil
	})
}

func registerDeleteRun(s *server.MCPServer, client *Client) {
	tool := gomcp.NewTool("chainbench_delete_run",
		gomcp.WithDescription("Delete one benchmark run from history. This is a MUTATING operation."),
		gomcp.WithString("id",
			gomcp.Required(),
			gomcp.Description("Run ID to delete"),
		),
	)
	s.AddTool(tool, func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		id, err := req.RequireString("id")
		if err != nil {
			return gomcp.NewToolResultError("id is required"), nil
		}
		if _, err := client.Delete("/v1/runs/" + url.PathEscape(id)); err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Delete failed: %v", err)), nil
		}
		return gomcp.NewToolResultText(joinLines(
			section("Run Deleted"),
			kv("ID", id),
		)), nil
	})
}

// Response formatting functions

func formatStatus(raw json.RawMessage) string {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return fmt.Sprintf("Error parsing status: %v", err)
	}

	lines := joinLines(
		section("Benchmark Engine Status"),
		kv("Status", getStr(m, "status")),
		kv("Uptime", fmt.Sprintf("%.0fs", getNum(m, "uptime_seconds"))),
		kv("Stream Clients", formatNumber(getNum(m, "streamClients"))),
	)
	if runID := getStr(m, "runId"); runID != "" {
		lines += "\n" + kv("Run ID", runID)
	}
	return lines
}

func formatHealth(raw json.RawMessage) string {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return fmt.Sprintf("Error parsing health: %v", err)
	}

	ready, _ := m["ready"].(bool)
	state := "READY"
	if !ready {
		state = "NOT READY"
	}

	lines := section("Benchmark Engine Health: " + state)

	if checks, ok := m["checks"].([]any); ok {
		for _, c := range checks {
			if check, ok := c.(map[string]any); ok {
				name := getStr(check, "name")
				status := getStr(check, "status")
				latencyMs := getNum(check, "latency_ms")
				errMsg := getStr(check, "error")
				line := fmt.Sprintf("  %-15s %s (%dms)", name, status, int64(latencyMs))
				if errMsg != "" {
					line += " - " + errMsg
				}
				lines += "\n" + line
			}
		}
	}

	return lines
}

func formatRuns(raw json.RawMessage) string {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return fmt.Sprintf("Error parsing runs: %v", err)
	}

	total := getNum(m, "total")
	lines := joinLines(
		section("Run History"),
		kv("Total Runs", formatNumber(total)),
		"",
	)

	runs, ok := m["runs"].([]any)
	if !ok || len(runs) == 0 {
		lines += "No runs found."
		return lines
	}

	for _, r := range runs {
		run, ok := r.(map[string]any)
		if !ok {
			continue
		}

		startedAt := getStr(run, "startedAt")
		started := startedAt
		if t, err := time.Parse(time.RFC3339Nano, startedAt); err == nil {
			started = t.Format("2006-01-02 15:04:05")
		}

		lines += fmt.Sprintf("### %s\n", getStr(run, "runId"))
		lines += joinLines(
			kv("Network", getStr(run, "network")),
			kv("Mode", getStr(run, "mode")),
			kv("Operation", getStr(run, "operation")),
			kv("Attempts", formatNumber(getNum(run, "totalAttempts"))),
			kv("Accepted", formatNumber(getNum(run, "accepted"))),
			kv("Throughput", fmt.Sprintf("%.1f TPS", getNum(run, "throughputTps"))),
			kv("Started", started),
		)
		lines += "\n\n"
	}

	return lines
}

func formatRunDetail(raw json.RawMessage) string {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return fmt.Sprintf("Error parsing run detail: %v", err)
	}

	lines := joinLines(
		section("Run: "+getStr(m, "runId")),
		kv("Network", getStr(m, "network")),
		kv("Mode", getStr(m, "mode")),
		kv("Operation", getStr(m, "operation")),
		kv("Attempts", formatNumber(getNum(m, "totalAttempts"))),
		kv("Accepted", formatNumber(getNum(m, "accepted"))),
		kv("Failed", formatNumber(getNum(m, "failed"))),
		kv("Success Rate", formatPct(getNum(m, "successRate"))),
		kv("Throughput", fmt.Sprintf("%.1f TPS", getNum(m, "throughputTps"))),
		kv("Total Gas", formatNumber(getNum(m, "totalGasUsed"))),
		kv("Avg Gas/TX", formatNumber(getNum(m, "avgGasPerTx"))),
	)

	if mst := getNum(m, "maxSustainableTps"); mst > 0 {
		lines += "\n" + kv("Max Sustainable", fmt.Sprintf("%.0f TPS", mst))
	}

	if classes, ok := m["failureByClass"].(map[string]any); ok && len(classes) > 0 {
		lines += "\n\n" + section("Failures by Class")
		for class, count := range classes {
			if n, ok := count.(float64); ok {
				lines += "\n" + kv(class, formatNumber(n))
			}
		}
	}

	if lat, ok := m["latency"].(map[string]any); ok {
		lines += "\n\n" + joinLines(
			section("Attempt Latency"),
			kv("Min", formatMs(getNum(lat, "min"))),
			kv("P50", formatMs(getNum(lat, "p50"))),
			kv("P95", formatMs(getNum(lat, "p95"))),
			kv("P99", formatMs(getNum(lat, "p99"))),
			kv("Max", formatMs(getNum(lat, "max"))),
		)
	}

	return lines
}

func formatComparison(raw json.RawMessage) string {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return fmt.Sprintf("Error parsing comparison: %v", err)
	}

	networkA := getStr(m, "networkA")
	networkB := getStr(m, "networkB")

	lines := joinLines(
		section(fmt.Sprintf("Comparison: %s vs %s", networkA, networkB)),
		"",
		fmt.Sprintf("%-20s %12s %12s %12s", "Metric", networkA, networkB, "Delta"),
	)

	deltas, ok := m["deltas"].([]any)
	if !ok || len(deltas) == 0 {
		lines += "\nNo comparable metrics."
		return lines
	}

	for _, d := range deltas {
		delta, ok := d.(map[string]any)
		if !ok {
			continue
		}
		lines += fmt.Sprintf("\n%-20s %12.2f %12.2f %+12.2f",
			getStr(delta, "metric"),
			getNum(delta, "a"),
			getNum(delta, "b"),
			getNum(delta, "delta"),
		)
	}

	return lines
}

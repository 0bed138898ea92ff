package mcp

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestFormatNumber(t *testing.T) {
	tests := []struct {
		in   any
		want string
	}{
		{float64(0), "0"},
		{float64(999), "999"},
		{float64(1000), "1,000"},
		{float64(1234567), "1,234,567"},
		{float64(12.5), "12.5"},
		{int64(21000), "21,000"},
		{uint64(100), "100"},
	}

	for _, tt := range tests {
		if got := formatNumber(tt.in); got != tt.want {
			t.Errorf("formatNumber(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFormatPct(t *testing.T) {
	if got := formatPct(0.953); got != "95.3%" {
		t.Errorf("formatPct(0.953) = %q, want 95.3%%", got)
	}
}

func TestFormatStatus(t *testing.T) {
	raw := json.RawMessage(`{"status":"running","runId":"run-1","streamClients":2,"uptime_seconds":120}`)
	out := formatStatus(raw)

	for _, want := range []string{"running", "run-1", "120s"} {
		if !strings.Contains(out, want) {
			t.Errorf("status output missing %q:\n%s", want, out)
		}
	}
}

func TestFormatRunDetail(t *testing.T) {
	raw := json.RawMessage(`{
		"runId": "run-9",
		"network": "devnet",
		"mode": "discovery",
		"operation": "transfer",
		"totalAttempts": 1000,
		"accepted": 950,
		"failed": 50,
		"successRate": 0.95,
		"throughputTps": 120.5,
		"maxSustainableTps": 110,
		"failureByClass": {"FEE_TOO_LOW": 50},
		"latency": {"min": 10, "p50": 25, "p95": 80, "p99": 120, "max": 200}
	}`)
	out := formatRunDetail(raw)

	for _, want := range []string{"run-9", "1,000", "95.0%", "110 TPS", "FEE_TOO_LOW", "25.0ms"} {
		if !strings.Contains(out, want) {
			t.Errorf("detail output missing %q:\n%s", want, out)
		}
	}
}

func TestFormatComparison(t *testing.T) {
	raw := json.RawMessage(`{
		"networkA": "devnet-a",
		"networkB": "devnet-b",
		"deltas": [
			{"metric": "throughputTps", "a": 50, "b": 80, "delta": 30},
			{"metric": "successRate", "a": 0.99, "b": 0.95, "delta": -0.04}
		]
	}`)
	out := formatComparison(raw)

	for _, want := range []string{"devnet-a vs devnet-b", "throughputTps", "successRate"} {
		if !strings.Contains(out, want) {
			t.Errorf("comparison output missing %q:\n%s", want, out)
		}
	}
}

func TestFormatRunsEmpty(t *testing.T) {
	raw := json.RawMessage(`{"runs":[],"total":0}`)
	out := formatRuns(raw)
	if !strings.Contains(out, "No runs found") {
		t.Errorf("empty history should say so:\n%s", out)
	}
}

package metrics

import (
	"fmt"

	"github.com/gateway-fm/chainbench/pkg/types"
)

// fingerprint identifies the test configuration a summary was recorded
// under. Summaries with different fingerprints measure different things
// and must not be averaged or compared.
func fingerprint(s types.RunSummary) string {
	return s.Operation + "/" + string(s.Mode)
}

// Compare produces a cross-network delta report for two runs recorded
// under an equivalent configuration. Mismatched configurations are an
// error, not a silent average.
func Compare(a, b types.RunSummary) (*types.Comparison, error) {
	if fa, fb := fingerprint(a), fingerprint(b); fa != fb {
		return nil, fmt.Errorf("incomparable runs: %s vs %s", fa, fb)
	}

	cmp := &types.Comparison{
		NetworkA: a.Network,
		NetworkB: b.Network,
	}

	add := func(metric string, va, vb float64) {
		cmp.Deltas = append(cmp.Deltas, types.MetricDelta{
			Metric: metric,
			A:      va,
			B:      vb,
			Delta:  vb - va,
		})
	}

	add("throughputTps", a.ThroughputTPS, b.ThroughputTPS)
	add("successRate", a.SuccessRate, b.SuccessRate)
	add("avgGasPerTx", a.AvgGasPerTx, b.AvgGasPerTx)

	if a.Latency != nil && b.Latency != nil {
		add("latencyP50Ms", a.Latency.P50, b.Latency.P50)
		add("latencyP95Ms", a.Latency.P95, b.Latency.P95)
		add("latencyP99Ms", a.Latency.P99, b.Latency.P99)
	}
	if a.Mode == types.ModeDiscovery {
		add("maxSustainableTps", float64(a.MaxSustainableTPS), float64(b.MaxSustainableTPS))
	}

	return cmp, nil
}

package metrics

import (
	"math"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/gateway-fm/chainbench/pkg/types"
)

func acceptedResult(latencyMs float64, gas uint64) types.AttemptResult {
	return types.AttemptResult{
		Outcome:   types.OutcomeAccepted,
		LatencyMs: latencyMs,
		GasUsed:   gas,
	}
}

func failedResult(class types.ErrorClass) types.AttemptResult {
	return types.AttemptResult{
		Outcome: types.OutcomeRejected,
		Class:   class,
	}
}

func TestAggregatorCounts(t *testing.T) {
	a := NewAggregator()

	for i := 0; i < 8; i++ {
		a.Record(acceptedResult(100, 21000))
	}
	a.Record(failedResult(types.ErrClassFeeTooLow))
	a.Record(failedResult(types.ErrClassFeeTooLow))
	a.Record(failedResult(types.ErrClassRejected))

	if a.Total() != 11 {
		t.Errorf("expected 11 total, got %d", a.Total())
	}
	if a.Accepted() != 8 {
		t.Errorf("expected 8 accepted, got %d", a.Accepted())
	}

	start := time.Now().Add(-2 * time.Second)
	end := time.Now()
	sum := a.Summarize("run-1", types.RunConfig{Network: "devnet", Mode: types.ModeConcurrent, Operation: "transfer"}, start, end)

	if sum.TotalAttempts != 11 || sum.Accepted != 8 || sum.Failed != 3 {
		t.Errorf("unexpected counts: %+v", sum)
	}
	if sum.FailureByClass[types.ErrClassFeeTooLow] != 2 {
		t.Errorf("expected 2 fee failures, got %d", sum.FailureByClass[types.ErrClassFeeTooLow])
	}
	if sum.FailureByClass[types.ErrClassRejected] != 1 {
		t.Errorf("expected 1 rejection, got %d", sum.FailureByClass[types.ErrClassRejected])
	}
	if math.Abs(sum.SuccessRate-8.0/11.0) > 1e-9 {
		t.Errorf("unexpected success rate %f", sum.SuccessRate)
	}
	if sum.TotalGasUsed != 8*21000 {
		t.Errorf("expected exact gas sum %d, got %d", 8*21000, sum.TotalGasUsed)
	}
	if sum.ThroughputTPS <= 0 {
		t.Errorf("expected positive throughput, got %f", sum.ThroughputTPS)
	}
	if sum.Latency == nil || sum.Latency.Count != 8 {
		t.Errorf("expected latency over 8 accepted samples, got %+v", sum.Latency)
	}
}

// Summarize must be pure over the current state: repeated calls without
// intervening Records yield identical summaries.
func TestSummarizeIdempotent(t *testing.T) {
	a := NewAggregator()
	for i := 0; i < 50; i++ {
		a.Record(acceptedResult(float64(i), 21000))
	}
	a.Record(failedResult(types.ErrClassTimeout))

	cfg := types.RunConfig{Network: "devnet", Mode: types.ModeSequential, Operation: "transfer"}
	start := time.Unix(1000, 0)
	end := time.Unix(1010, 0)

	first := a.Summarize("run-1", cfg, start, end)
	second := a.Summarize("run-1", cfg, start, end)

	if !reflect.DeepEqual(first, second) {
		t.Errorf("summaries differ:\n%+v\n%+v", first, second)
	}
}

func TestAggregatorConcurrentRecord(t *testing.T) {
	a := NewAggregator()

	var wg sync.WaitGroup
	workers := 10
	perWorker := 500
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				if j%5 == 0 {
					a.Record(failedResult(types.ErrClassTimeout))
				} else {
					a.Record(acceptedResult(float64(j), 21000))
				}
			}
		}()
	}
	wg.Wait()

	total := uint64(workers * perWorker)
	if a.Total() != total {
		t.Errorf("expected %d total, got %d", total, a.Total())
	}
	sum := a.Summarize("run-1", types.RunConfig{}, time.Now().Add(-time.Second), time.Now())
	if sum.Accepted+sum.Failed != total {
		t.Errorf("accepted+failed != total: %d + %d != %d", sum.Accepted, sum.Failed, total)
	}
}

func TestAggregatorFailureRate(t *testing.T) {
	a := NewAggregator()
	if a.FailureRate() != 0 {
		t.Errorf("expected 0 failure rate when empty, got %f", a.FailureRate())
	}

	a.Record(acceptedResult(10, 21000))
	a.Record(failedResult(types.ErrClassRejected))

	if math.Abs(a.FailureRate()-0.5) > 1e-9 {
		t.Errorf("expected 0.5 failure rate, got %f", a.FailureRate())
	}
}

func TestCompare(t *testing.T) {
	a := types.RunSummary{
		Network: "net-a", Mode: types.ModeConcurrent, Operation: "transfer",
		ThroughputTPS: 100, SuccessRate: 0.99,
		Latency: &types.LatencyStats{P50: 120, P95: 300, P99: 500},
	}
	b := types.RunSummary{
		Network: "net-b", Mode: types.ModeConcurrent, Operation: "transfer",
		ThroughputTPS: 80, SuccessRate: 0.95,
		Latency: &types.LatencyStats{P50: 150, P95: 400, P99: 700},
	}

	cmp, err := Compare(a, b)
	if err != nil {
		t.Fatalf("Compare: %v", err)
	}
	if cmp.NetworkA != "net-a" || cmp.NetworkB != "net-b" {
		t.Errorf("unexpected networks: %+v", cmp)
	}

	var tps *types.MetricDelta
	for i := range cmp.Deltas {
		if cmp.Deltas[i].Metric == "throughputTps" {
			tps = &cmp.Deltas[i]
		}
	}
	if tps == nil {
		t.Fatal("missing throughputTps delta")
	}
	if tps.Delta != -20 {
		t.Errorf("expected delta -20, got %f", tps.Delta)
	}
}

func TestCompareRejectsMismatchedConfigs(t *testing.T) {
	a := types.RunSummary{Network: "net-a", Mode: types.ModeConcurrent, Operation: "transfer"}
	b := types.RunSummary{Network: "net-b", Mode: types.ModeBurst, Operation: "transfer"}

	if _, err := Compare(a, b); err == nil {
		t.Error("expected error for mismatched run configurations")
	}
}

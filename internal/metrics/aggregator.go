package metrics

import (
	"sync"
	"time"

	"github.com/gateway-fm/chainbench/pkg/types"
)

// Aggregator accumulates attempt results for one run. Record is O(1) and
// safe for concurrent use; results may arrive in any order relative to
// their dispatch times.
type Aggregator struct {
	total    UCounter
	accepted UCounter
	failed   UCounter
	gasUsed  UCounter

	mu             sync.Mutex
	failureByClass map[types.ErrorClass]uint64

	latency *StreamingLatencyStats
}

// NewAggregator creates an empty Aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{
		failureByClass: make(map[types.ErrorClass]uint64),
		latency:        NewStreamingLatencyStats(),
	}
}

// Record folds one terminal attempt result into the run's statistics.
func (a *Aggregator) Record(res types.AttemptResult) {
	a.total.Inc()

	if res.Accepted() {
		a.accepted.Inc()
		a.gasUsed.Add(res.GasUsed)
		a.latency.Add(res.LatencyMs)
		return
	}

	a.failed.Inc()
	class := res.Class
	if class == types.ErrClassNone {
		class = types.ErrClassUnknown
	}
	a.mu.Lock()
	a.failureByClass[class]++
	a.mu.Unlock()
}

// Total returns the number of results recorded so far.
func (a *Aggregator) Total() uint64 {
	return a.total.Load()
}

// Accepted returns the number of accepted results recorded so far.
func (a *Aggregator) Accepted() uint64 {
	return a.accepted.Load()
}

// FailureRate returns failed/total over the results so far, 0 when empty.
func (a *Aggregator) FailureRate() float64 {
	total := a.total.Load()
	if total == 0 {
		return 0
	}
	return float64(a.failed.Load()) / float64(total)
}

// Summarize derives the run summary from the accumulated results. It is
// pure over the current state: calling it twice without intervening
// Records yields identical summaries.
func (a *Aggregator) Summarize(runID string, cfg types.RunConfig, startedAt, completedAt time.Time) types.RunSummary {
	total := a.total.Load()
	accepted := a.accepted.Load()
	failed := a.failed.Load()
	gasUsed := a.gasUsed.Load()

	a.mu.Lock()
	byClass := make(map[types.ErrorClass]uint64, len(a.failureByClass))
	for k, v := range a.failureByClass {
		byClass[k] = v
	}
	a.mu.Unlock()

	summary := types.RunSummary{
		RunID:          runID,
		Network:        cfg.Network,
		Mode:           cfg.Mode,
		Operation:      cfg.Operation,
		StartedAt:      startedAt,
		CompletedAt:    completedAt,
		TotalAttempts:  total,
		Accepted:       accepted,
		Failed:         failed,
		FailureByClass: byClass,
		TotalGasUsed:   gasUsed,
		Latency:        a.latency.Snapshot(),
	}

	if total > 0 {
		summary.SuccessRate = float64(accepted) / float64(total)
	}
	if accepted > 0 {
		summary.AvgGasPerTx = float64(gasUsed) / float64(accepted)
	}
	if elapsed := completedAt.Sub(startedAt).Seconds(); elapsed > 0 {
		summary.ThroughputTPS = float64(accepted) / elapsed
	}

	return summary
}

// Reset clears the aggregator for reuse by a new run.
func (a *Aggregator) Reset() {
	a.total.Reset()
	a.accepted.Reset()
	a.failed.Reset()
	a.gasUsed.Reset()
	a.latency.Reset()
	a.mu.Lock()
	a.failureByClass = make(map[types.ErrorClass]uint64)
	a.mu.Unlock()
}

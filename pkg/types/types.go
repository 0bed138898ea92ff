// Package types contains public API types for chainbench.
// These types form the external interface and must remain backwards-compatible.
package types

import "time"

// RunMode selects how the scheduler drives load.
type RunMode string

const (
	ModeSequential RunMode = "sequential" // fixed count, one at a time
	ModeConcurrent RunMode = "concurrent" // fixed count, bounded worker pool
	ModeBurst      RunMode = "burst"      // quiet intervals with max-concurrency bursts
	ModeDiscovery  RunMode = "discovery"  // rate ladder, find max sustainable TPS
)

// RunStatus represents the scheduler state machine.
type RunStatus string

const (
	StatusIdle     RunStatus = "idle"
	StatusWarmup   RunStatus = "warmup"
	StatusRunning  RunStatus = "running"
	StatusDraining RunStatus = "draining"
	StatusComplete RunStatus = "complete"
	StatusError    RunStatus = "error"
)

// OutcomeKind is the terminal outcome of a submission task.
type OutcomeKind string

const (
	OutcomeAccepted OutcomeKind = "accepted"
	OutcomeRejected OutcomeKind = "rejected"
	OutcomeTimedOut OutcomeKind = "timed-out"
)

// ErrorClass classifies a submission failure. Classification drives both
// retry eligibility and diagnostic reporting.
type ErrorClass string

const (
	ErrClassNone              ErrorClass = ""
	ErrClassSequenceConflict  ErrorClass = "SEQUENCE_CONFLICT"
	ErrClassFeeTooLow         ErrorClass = "FEE_TOO_LOW"
	ErrClassInsufficientFunds ErrorClass = "INSUFFICIENT_FUNDS"
	ErrClassTimeout           ErrorClass = "TIMEOUT"
	ErrClassRejected          ErrorClass = "REJECTED_BY_ENDPOINT"
	ErrClassUnknown           ErrorClass = "UNKNOWN"
)

// Retryable reports whether a failure of this class may be retried
// inside the submitter.
func (c ErrorClass) Retryable() bool {
	switch c {
	case ErrClassSequenceConflict, ErrClassFeeTooLow, ErrClassTimeout:
		return true
	}
	return false
}

// GasPolicy is the fee configuration for one run. The submitter bumps the
// fee by BumpFactor on every retryable failure, so attempt N pays strictly
// more than attempt 1.
type GasPolicy struct {
	TipWei     int64   `json:"tipWei"`     // priority fee per gas
	FeeCapWei  int64   `json:"feeCapWei"`  // max fee per gas (0 = tip only / legacy price)
	GasLimit   uint64  `json:"gasLimit"`   // per-transaction gas limit
	BumpFactor float64 `json:"bumpFactor"` // multiplicative step per retry (default 1.25)
	UseLegacy  bool    `json:"useLegacy"`  // legacy (type 0) transactions instead of EIP-1559
}

// AttemptResult is the immutable terminal record of one submission task.
// Results are append-only within a run and may arrive out of dispatch order.
type AttemptResult struct {
	TaskID       uint64      `json:"taskId"`
	Account      string      `json:"account"`
	Sequence     uint64      `json:"sequence"`
	Outcome      OutcomeKind `json:"outcome"`
	Class        ErrorClass  `json:"class,omitempty"`
	Detail       string      `json:"detail,omitempty"` // human-readable classification detail
	Attempts     int         `json:"attempts"`         // total attempts including the terminal one
	LatencyMs    float64     `json:"latencyMs"`        // dispatch to terminal outcome
	GasUsed      uint64      `json:"gasUsed"`          // zero unless accepted
	FeeWei       int64       `json:"feeWei"`           // fee per gas paid on the terminal attempt
	Endpoint     string      `json:"endpoint"`         // endpoint URL used for the terminal attempt
	TxHash       string      `json:"txHash,omitempty"`
	DispatchedAt time.Time   `json:"dispatchedAt"`
	CompletedAt  time.Time   `json:"completedAt"`
}

// Accepted reports whether the task reached a confirmed accepted outcome.
func (r AttemptResult) Accepted() bool {
	return r.Outcome == OutcomeAccepted
}

// LatencyBucket represents a latency histogram bucket.
type LatencyBucket struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}

// LatencyStats holds latency statistics in milliseconds.
type LatencyStats struct {
	Count   int             `json:"count"`
	Min     float64         `json:"min"`
	Max     float64         `json:"max"`
	Avg     float64         `json:"avg"`
	P50     float64         `json:"p50"`
	P90     float64         `json:"p90"`
	P95     float64         `json:"p95"`
	P99     float64         `json:"p99"`
	Buckets []LatencyBucket `json:"buckets,omitempty"`
}

// RunConfig describes one test invocation. Networks with equal
// ConfigFingerprint values are comparable in cross-network reports.
type RunConfig struct {
	Network     string        `json:"network"`
	Mode        RunMode       `json:"mode"`
	Count       int           `json:"count,omitempty"`       // sequential/concurrent modes
	Concurrency int           `json:"concurrency,omitempty"` // worker pool size
	Duration    time.Duration `json:"duration,omitempty"`    // burst/discovery modes
	Operation   string        `json:"operation"`             // operation type , e.g. "transfer"

	// Burst mode
	BurstSize     int           `json:"burstSize,omitempty"`
	BurstInterval time.Duration `json:"burstInterval,omitempty"`

	// Discovery mode ladder. Stop policy is tunable: the ladder stops when a
	// round fails to improve on the best observed throughput or the failure
	// rate crosses FailureThreshold (default 0.20).
	LadderStart      int           `json:"ladderStart,omitempty"` // TPS
	LadderStep       int           `json:"ladderStep,omitempty"`  // TPS per round
	RoundDuration    time.Duration `json:"roundDuration,omitempty"`
	FailureThreshold float64       `json:"failureThreshold,omitempty"`

	// Submitter policy
	MaxAttempts    int           `json:"maxAttempts"`
	BaseBackoff    time.Duration `json:"baseBackoff"`
	MaxBackoff     time.Duration `json:"maxBackoff"`
	ConfirmTimeout time.Duration `json:"confirmTimeout"`
	DrainTimeout   time.Duration `json:"drainTimeout"`

	Gas GasPolicy `json:"gas"`
}

// ConfigFingerprint identifies the test shape for comparison purposes.
// Runs with different fingerprints must not be compared silently.
func (c RunConfig) ConfigFingerprint() string {
	return c.Operation + "/" + string(c.Mode)
}

// RunSummary is derived on demand from the attempt result stream.
// One per test invocation.
type RunSummary struct {
	RunID          string                `json:"runId"`
	Network        string                `json:"network"`
	Mode           RunMode               `json:"mode"`
	Operation      string                `json:"operation"`
	StartedAt      time.Time             `json:"startedAt"`
	CompletedAt    time.Time             `json:"completedAt"`
	TotalAttempts  uint64                `json:"totalAttempts"`
	Accepted       uint64                `json:"accepted"`
	Failed         uint64                `json:"failed"`
	FailureByClass map[ErrorClass]uint64 `json:"failureByClass,omitempty"`
	SuccessRate    float64               `json:"successRate"`   // accepted / totalAttempts, 0..1
	ThroughputTPS  float64               `json:"throughputTps"` // accepted / elapsed wall seconds
	TotalGasUsed   uint64                `json:"totalGasUsed"`  // exact sum over accepted attempts
	AvgGasPerTx    float64               `json:"avgGasPerTx"`
	Latency        *LatencyStats         `json:"latency,omitempty"`
	// Discovery mode only
	MaxSustainableTPS int `json:"maxSustainableTps,omitempty"`
}

// MetricDelta is one compared metric in a cross-network report.
type MetricDelta struct {
	Metric string  `json:"metric"`
	A      float64 `json:"a"`
	B      float64 `json:"b"`
	Delta  float64 `json:"delta"` // B - A
}

// Comparison is a cross-network report over two runs recorded under an
// equivalent test configuration.
type Comparison struct {
	NetworkA string        `json:"networkA"`
	NetworkB string        `json:"networkB"`
	Deltas   []MetricDelta `json:"deltas"`
}

// Recommendation is the advisory output of the diagnostic probe.
// It does not feed back into a running test automatically.
type Recommendation struct {
	FeeBumpFactor     float64       `json:"feeBumpFactor"`
	Concurrency       int           `json:"concurrency"`
	InterAttemptDelay time.Duration `json:"interAttemptDelay"`
	Notes             []string      `json:"notes,omitempty"`
}

// DiagnosticReport is the structured output of a diagnostic probe run.
type DiagnosticReport struct {
	Network        string             `json:"network"`
	Attempts       int                `json:"attempts"`
	Accepted       int                `json:"accepted"`
	FailureTally   map[ErrorClass]int `json:"failureTally"`
	Recommendation Recommendation     `json:"recommendation"`
}

// RunMeta is broadcast when a run starts.
type RunMeta struct {
	RunID     string    `json:"runId"`
	Network   string    `json:"network"`
	Mode      RunMode   `json:"mode"`
	StartedAt time.Time `json:"startedAt"`
}

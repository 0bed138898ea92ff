// Package diagnose implements the pre-run diagnostic probe. It sends a
// small number of serial transactions, tallies failures by class, and
// derives advisory run settings from the dominant failure pattern.
package diagnose

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gateway-fm/chainbench/internal/submitter"
	"github.com/gateway-fm/chainbench/pkg/types"
)

// TaskSubmitter drives one task to a terminal outcome.
type TaskSubmitter interface {
	Submit(ctx context.Context, task *submitter.Task) types.AttemptResult
}

// Defaults
const (
	DefaultAttempts  = 10
	DefaultDelay     = 200 * time.Millisecond
	DefaultOperation = "transfer"
)

// Config for creating a Probe.
type Config struct {
	Submitter TaskSubmitter
	Accounts  []string
	Network   string
	Operation string        // default "transfer"
	Attempts  int           // serial probe attempts (default 10)
	Delay     time.Duration // pause between attempts (default 200ms)
	Logger    *slog.Logger
}

// Probe sends serial transactions and reports what a full run would hit.
type Probe struct {
	submitter TaskSubmitter
	accounts  []string
	network   string
	operation string
	attempts  int
	delay     time.Duration
	logger    *slog.Logger
}

// New creates a Probe.
func New(cfg Config) (*Probe, error) {
	if cfg.Submitter == nil {
		return nil, fmt.Errorf("submitter is required")
	}
	if len(cfg.Accounts) == 0 {
		return nil, fmt.Errorf("at least one account is required")
	}

	attempts := cfg.Attempts
	if attempts <= 0 {
		attempts = DefaultAttempts
	}
	delay := cfg.Delay
	if delay <= 0 {
		delay = DefaultDelay
	}
	operation := cfg.Operation
	if operation == "" {
		operation = DefaultOperation
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Probe{
		submitter: cfg.Submitter,
		accounts:  cfg.Accounts,
		network:   cfg.Network,
		operation: operation,
		attempts:  attempts,
		delay:     delay,
		logger:    logger,
	}, nil
}

// Run executes the probe: serial attempts with a pause between each, so
// observed failures reflect the network rather than self-induced load.
func (p *Probe) Run(ctx context.Context) (*types.DiagnosticReport, error) {
	report := &types.DiagnosticReport{
		Network:      p.network,
		FailureTally: make(map[types.ErrorClass]int),
	}

	p.logger.Info("Starting diagnostic probe",
		slog.String("network", p.network),
		slog.Int("attempts", p.attempts),
	)

	for i := 0; i < p.attempts; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		task := &submitter.Task{
			ID:        uint64(i + 1),
			Account:   p.accounts[i%len(p.accounts)],
			Operation: p.operation,
			CreatedAt: time.Now(),
		}

		result := p.submitter.Submit(ctx, task)
		report.Attempts++

		if result.Accepted() {
			report.Accepted++
		} else {
			class := result.Class
			if class == types.ErrClassNone {
				class = types.ErrClassUnknown
			}
			report.FailureTally[class]++
			p.logger.Debug("Probe attempt failed",
				slog.Uint64("task", task.ID),
				slog.String("class", string(class)),
				slog.String("detail", result.Detail),
			)
		}

		if i < p.attempts-1 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(p.delay):
			}
		}
	}

	report.Recommendation = recommend(report)

	p.logger.Info("Diagnostic probe complete",
		slog.Int("attempts", report.Attempts),
		slog.Int("accepted", report.Accepted),
	)

	return report, nil
}

// recommend derives advisory run settings from the failure tally.
func recommend(report *types.DiagnosticReport) types.Recommendation {
	rec := types.Recommendation{
		FeeBumpFactor: 1.25,
		Concurrency:   10,
	}

	if report.Accepted == report.Attempts {
		rec.Notes = append(rec.Notes, "all probe attempts accepted, defaults look safe")
		return rec
	}

	if n := report.FailureTally[types.ErrClassFeeTooLow]; n > 0 {
		rec.FeeBumpFactor = 1.5
		rec.Notes = append(rec.Notes,
			fmt.Sprintf("%d fee-too-low failures: raise the fee bump factor or the base tip", n))
	}

	if n := report.FailureTally[types.ErrClassSequenceConflict]; n > 0 {
		rec.Concurrency = 1
		rec.Notes = append(rec.Notes,
			fmt.Sprintf("%d sequence conflicts under serial load: another sender is using these accounts, keep concurrency at 1", n))
	}

	if n := report.FailureTally[types.ErrClassTimeout]; n > 0 {
		rec.InterAttemptDelay = 500 * time.Millisecond
		rec.Notes = append(rec.Notes,
			fmt.Sprintf("%d timeouts: the endpoint is saturated or slow, pace attempts", n))
	}

	if n := report.FailureTally[types.ErrClassInsufficientFunds]; n > 0 {
		rec.Notes = append(rec.Notes,
			fmt.Sprintf("%d insufficient-funds failures: fund the sender accounts before a full run", n))
	}

	if n := report.FailureTally[types.ErrClassRejected]; n > 0 {
		rec.Notes = append(rec.Notes,
			fmt.Sprintf("%d endpoint rejections: check payload shape and chain ID", n))
	}

	if n := report.FailureTally[types.ErrClassUnknown]; n > 0 {
		rec.Notes = append(rec.Notes,
			fmt.Sprintf("%d unclassified failures: inspect the endpoint logs", n))
	}

	return rec
}

// Package submitter drives one submission task to a terminal outcome:
// endpoint acquisition, sequence allocation, retry with backoff and fee
// bumping, and confirmation waiting.
package submitter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/gateway-fm/chainbench/internal/endpoint"
	"github.com/gateway-fm/chainbench/internal/metrics"
	"github.com/gateway-fm/chainbench/internal/nonce"
	"github.com/gateway-fm/chainbench/internal/rpc"
	"github.com/gateway-fm/chainbench/pkg/types"
)

// Task is one unit of load: a prepared call to drive to a terminal outcome.
type Task struct {
	ID        uint64
	Account   string
	Operation string
	CreatedAt time.Time
}

// Confirmation is the observed inclusion state of a submitted transaction.
type Confirmation struct {
	Included          bool
	Reverted          bool
	GasUsed           uint64
	EffectiveGasPrice uint64
}

// Adapter maps the engine's submission steps onto one network family's
// RPC call shapes. The engine is agnostic to the exact call names.
type Adapter interface {
	// Submit builds, signs, and submits the task's payload at the given
	// sequence number and fee per gas. Returns the transaction hash.
	Submit(ctx context.Context, client rpc.Client, task *Task, seq uint64, feeWei int64) (string, error)

	// Confirm reports the current inclusion state of a submitted hash.
	// A nil Confirmation with nil error means not yet included.
	Confirm(ctx context.Context, client rpc.Client, txHash string) (*Confirmation, error)
}

// Config for creating a Submitter.
type Config struct {
	Pool    *endpoint.Pool
	Alloc   *nonce.Allocator
	Adapter Adapter

	MaxAttempts         int           // attempt ceiling (default 4)
	BaseBackoff         time.Duration // default 200ms
	MaxBackoff          time.Duration // default 5s
	ConfirmTimeout      time.Duration // default 30s
	ConfirmPollInterval time.Duration // default 500ms

	Gas    types.GasPolicy
	Prom   *metrics.PrometheusMetrics // optional, exports per-endpoint RPC latency
	Logger *slog.Logger
}

// Submitter submits tasks with a single retry policy shared by every
// scheduler mode and the diagnostic probe.
type Submitter struct {
	pool    *endpoint.Pool
	alloc   *nonce.Allocator
	adapter Adapter

	maxAttempts         int
	baseBackoff         time.Duration
	maxBackoff          time.Duration
	confirmTimeout      time.Duration
	confirmPollInterval time.Duration

	gas    types.GasPolicy
	prom   *metrics.PrometheusMetrics
	logger *slog.Logger
}

// New creates a Submitter.
func New(cfg Config) *Submitter {
	s := &Submitter{
		pool:                cfg.Pool,
		alloc:               cfg.Alloc,
		adapter:             cfg.Adapter,
		maxAttempts:         cfg.MaxAttempts,
		baseBackoff:         cfg.BaseBackoff,
		maxBackoff:          cfg.MaxBackoff,
		confirmTimeout:      cfg.ConfirmTimeout,
		confirmPollInterval: cfg.ConfirmPollInterval,
		gas:                 cfg.Gas,
		prom:                cfg.Prom,
		logger:              cfg.Logger,
	}
	if s.maxAttempts <= 0 {
		s.maxAttempts = 4
	}
	if s.baseBackoff <= 0 {
		s.baseBackoff = 200 * time.Millisecond
	}
	if s.maxBackoff <= 0 {
		s.maxBackoff = 5 * time.Second
	}
	if s.confirmTimeout <= 0 {
		s.confirmTimeout = 30 * time.Second
	}
	if s.confirmPollInterval <= 0 {
		s.confirmPollInterval = 500 * time.Millisecond
	}
	if s.gas.BumpFactor <= 1 {
		s.gas.BumpFactor = 1.25
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// feeForAttempt returns the fee per gas for the Nth attempt: the base fee
// bumped by a fixed multiplicative step per retry, so attempt N pays
// strictly more than attempt 1.
func (s *Submitter) feeForAttempt(attempt int) int64 {
	base := s.gas.TipWei
	if base <= 0 {
		base = 1_000_000_000 // 1 gwei floor
	}
	return int64(float64(base) * math.Pow(s.gas.BumpFactor, float64(attempt-1)))
}

// observeEndpoint exports one RPC round trip to the per-endpoint series.
func (s *Submitter) observeEndpoint(url string, latency time.Duration) {
	if s.prom != nil {
		s.prom.RecordEndpointLatency(url, latency.Seconds())
	}
}

// backoffForAttempt returns the delay before the given attempt:
// base × 2^(attempt−2), capped. Attempt 1 has no delay.
func (s *Submitter) backoffForAttempt(attempt int) time.Duration {
	if attempt <= 1 {
		return 0
	}
	d := s.baseBackoff * time.Duration(1<<(attempt-2))
	return min(d, s.maxBackoff)
}

// Submit drives one task to a terminal outcome. Retryable failures are
// recovered locally up to the attempt ceiling; exceeding the ceiling
// surfaces a terminal TIMEOUT/REJECTED result, never a dropped task.
func (s *Submitter) Submit(ctx context.Context, task *Task) types.AttemptResult {
	dispatched := time.Now()

	var (
		reservation *nonce.Reservation
		haveSeq     bool
		seq         uint64
		replacing   bool // resubmitting the same sequence with a higher fee
		pendingHash string
		lastClass   types.ErrorClass
		lastDetail  string
		lastURL     string
	)

	release := func() {
		if reservation != nil {
			reservation.Rollback()
			reservation = nil
		}
	}

	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		if delay := s.backoffForAttempt(attempt); delay > 0 {
			select {
			case <-ctx.Done():
				release()
				return s.terminal(task, dispatched, attempt-1, seq, lastURL,
					types.OutcomeTimedOut, types.ErrClassTimeout, "cancelled during backoff", 0)
			case <-time.After(delay):
			}
		}

		ep, err := s.pool.Acquire(ctx)
		if err != nil {
			release()
			if errors.Is(err, endpoint.ErrNoEndpointAvailable) {
				return s.terminal(task, dispatched, attempt, seq, lastURL,
					types.OutcomeRejected, types.ErrClassRejected, "no endpoint available", 0)
			}
			return s.terminal(task, dispatched, attempt, seq, lastURL,
				types.OutcomeTimedOut, types.ErrClassTimeout, err.Error(), 0)
		}
		lastURL = ep.URL()

		if !haveSeq {
			reservation, err = s.alloc.Reserve(task.Account)
			if err != nil {
				return s.terminal(task, dispatched, attempt, 0, lastURL,
					types.OutcomeRejected, types.ErrClassUnknown, err.Error(), 0)
			}
			seq = reservation.Value()
			haveSeq = true
		}

		fee := s.feeForAttempt(attempt)
		start := time.Now()
		hash, err := s.adapter.Submit(ctx, ep.Client(), task, seq, fee)
		sendLatency := time.Since(start)

		s.observeEndpoint(ep.URL(), sendLatency)

		if err != nil {
			class := Classify(err)
			s.pool.ReportOutcome(ep, !endpointFault(class), sendLatency)

			lastClass = class
			lastDetail = err.Error()

			if class == types.ErrClassSequenceConflict && !replacing {
				// Our number was consumed elsewhere: roll back and take a
				// fresh one after reconciling against the network.
				release()
				haveSeq = false
				if _, seedErr := s.alloc.Seed(ctx, task.Account); seedErr != nil {
					s.logger.Debug("reseed after sequence conflict failed",
						slog.String("account", task.Account),
						slog.String("error", seedErr.Error()),
					)
				}
			}

			if class.Retryable() && attempt < s.maxAttempts {
				s.logger.Debug("retryable submit failure",
					slog.Uint64("task", task.ID),
					slog.Int("attempt", attempt),
					slog.String("class", string(class)),
				)
				continue
			}

			release()
			return s.terminal(task, dispatched, attempt, seq, lastURL,
				outcomeForClass(class), class, lastDetail, fee)
		}

		// Accepted into the pending set: the sequence number is spent.
		if reservation != nil {
			reservation.Commit()
			reservation = nil
		}
		pendingHash = hash
		s.pool.ReportOutcome(ep, true, sendLatency)

		conf, confErr := s.waitConfirm(ctx, ep, pendingHash)
		if confErr != nil {
			lastClass = types.ErrClassTimeout
			lastDetail = confErr.Error()
			if attempt < s.maxAttempts && ctx.Err() == nil {
				// Replace the stuck transaction: same sequence number,
				// strictly higher fee.
				replacing = true
				continue
			}
			return s.terminal(task, dispatched, attempt, seq, lastURL,
				types.OutcomeTimedOut, types.ErrClassTimeout, lastDetail, fee)
		}

		if conf.Reverted {
			return s.terminal(task, dispatched, attempt, seq, lastURL,
				types.OutcomeRejected, types.ErrClassRejected, "execution reverted", fee)
		}

		if acct, acctErr := s.alloc.Account(task.Account); acctErr == nil {
			acct.MarkConfirmed(seq)
		}

		res := s.terminal(task, dispatched, attempt, seq, lastURL,
			types.OutcomeAccepted, types.ErrClassNone, "", fee)
		res.GasUsed = conf.GasUsed
		res.TxHash = pendingHash
		return res
	}

	// Attempt ceiling exceeded on a retryable class.
	release()
	return s.terminal(task, dispatched, s.maxAttempts, seq, lastURL,
		outcomeForClass(lastClass), lastClass, lastDetail, s.feeForAttempt(s.maxAttempts))
}

// waitConfirm polls for inclusion up to the confirmation timeout.
func (s *Submitter) waitConfirm(ctx context.Context, ep *endpoint.Endpoint, txHash string) (*Confirmation, error) {
	deadline := time.Now().Add(s.confirmTimeout)

	for {
		conf, err := s.adapter.Confirm(ctx, ep.Client(), txHash)
		if err == nil && conf != nil && conf.Included {
			return conf, nil
		}
		if err != nil {
			s.logger.Debug("confirmation poll error",
				slog.String("tx", txHash),
				slog.String("error", err.Error()),
			)
		}

		if time.Now().After(deadline) {
			return nil, fmt.Errorf("confirmation timeout after %s", s.confirmTimeout)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.confirmPollInterval):
		}
	}
}

func outcomeForClass(class types.ErrorClass) types.OutcomeKind {
	if class == types.ErrClassTimeout {
		return types.OutcomeTimedOut
	}
	return types.OutcomeRejected
}

func (s *Submitter) terminal(task *Task, dispatched time.Time, attempts int, seq uint64, url string,
	outcome types.OutcomeKind, class types.ErrorClass, detail string, feeWei int64) types.AttemptResult {

	completed := time.Now()
	return types.AttemptResult{
		TaskID:       task.ID,
		Account:      task.Account,
		Sequence:     seq,
		Outcome:      outcome,
		Class:        class,
		Detail:       detail,
		Attempts:     attempts,
		LatencyMs:    float64(completed.Sub(dispatched).Milliseconds()),
		FeeWei:       feeWei,
		Endpoint:     url,
		DispatchedAt: dispatched,
		CompletedAt:  completed,
	}
}

// Package scheduler drives load runs: it owns the run lifecycle, fans
// tasks out to the submitter per the selected mode, and folds results
// into the run's aggregator.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/gateway-fm/chainbench/internal/metrics"
	"github.com/gateway-fm/chainbench/internal/submitter"
	"github.com/gateway-fm/chainbench/pkg/types"
)

// TaskSubmitter drives one task to a terminal result.
type TaskSubmitter interface {
	Submit(ctx context.Context, task *submitter.Task) types.AttemptResult
}

// Seeder initializes sequence state for the run's accounts.
type Seeder interface {
	SeedAll(ctx context.Context, addresses []string) error
}

// Listener observes run progress. Implementations must not block;
// slow consumers should buffer internally.
type Listener interface {
	OnRunStarted(meta types.RunMeta)
	OnAttempt(res types.AttemptResult)
	OnRunCompleted(summary types.RunSummary)
}

// Config for creating a Scheduler.
type Config struct {
	Submitter TaskSubmitter
	Seeder    Seeder
	Accounts  []string
	Prom      *metrics.PrometheusMetrics
	Logger    *slog.Logger
}

// Defaults for run parameters left unset.
const (
	DefaultConcurrency      = 10
	DefaultBurstSize        = 50
	DefaultBurstInterval    = 5 * time.Second
	DefaultLadderStart      = 10
	DefaultLadderStep       = 10
	DefaultRoundDuration    = 10 * time.Second
	DefaultFailureThreshold = 0.20
	DefaultDrainTimeout     = 30 * time.Second
)

// Scheduler runs one load test at a time.
type Scheduler struct {
	submitter TaskSubmitter
	seeder    Seeder
	accounts  []string
	prom      *metrics.PrometheusMetrics
	logger    *slog.Logger

	mu        sync.Mutex
	status    types.RunStatus
	runID     string
	listeners []Listener

	taskSeq      metrics.UCounter
	inFlight     metrics.Counter
	peakInFlight int64
}

// New creates a Scheduler.
func New(cfg Config) (*Scheduler, error) {
	if cfg.Submitter == nil {
		return nil, fmt.Errorf("submitter is required")
	}
	if len(cfg.Accounts) == 0 {
		return nil, fmt.Errorf("at least one account is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		submitter: cfg.Submitter,
		seeder:    cfg.Seeder,
		accounts:  cfg.Accounts,
		prom:      cfg.Prom,
		logger:    logger,
		status:    types.StatusIdle,
	}, nil
}

// AddListener registers a progress listener. Not safe to call during a run.
func (s *Scheduler) AddListener(l Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}

// Status returns the current run status.
func (s *Scheduler) Status() types.RunStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// CurrentRunID returns the active or most recent run ID.
func (s *Scheduler) CurrentRunID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runID
}

// PeakInFlight returns the highest concurrent task count observed during
// the current or most recent run.
func (s *Scheduler) PeakInFlight() int64 {
	return atomic.LoadInt64(&s.peakInFlight)
}

func (s *Scheduler) setStatus(status types.RunStatus) {
	s.mu.Lock()
	s.status = status
	s.mu.Unlock()
	if s.prom != nil {
		s.prom.SetRunStatus(status)
	}
}

// Run executes one load test to completion and returns its summary.
// Only one run may be active at a time.
func (s *Scheduler) Run(ctx context.Context, cfg types.RunConfig) (types.RunSummary, error) {
	s.mu.Lock()
	if s.status != types.StatusIdle && s.status != types.StatusComplete && s.status != types.StatusError {
		s.mu.Unlock()
		return types.RunSummary{}, fmt.Errorf("run already active")
	}
	runID := fmt.Sprintf("run-%d", time.Now().UnixMilli())
	s.runID = runID
	s.mu.Unlock()

	atomic.StoreInt64(&s.peakInFlight, 0)

	applyRunDefaults(&cfg)

	startedAt := time.Now()
	agg := metrics.NewAggregator()

	s.setStatus(types.StatusWarmup)
	if s.seeder != nil {
		if err := s.seeder.SeedAll(ctx, s.accounts); err != nil {
			s.setStatus(types.StatusError)
			return types.RunSummary{}, fmt.Errorf("failed to seed accounts: %w", err)
		}
	}

	meta := types.RunMeta{RunID: runID, Network: cfg.Network, Mode: cfg.Mode, StartedAt: startedAt}
	for _, l := range s.listeners {
		l.OnRunStarted(meta)
	}

	s.logger.Info("run started",
		slog.String("runId", runID),
		slog.String("network", cfg.Network),
		slog.String("mode", string(cfg.Mode)),
	)

	s.setStatus(types.StatusRunning)

	var maxSustainable int
	var runErr error
	switch cfg.Mode {
	case types.ModeSequential:
		runErr = s.runSequential(ctx, cfg, agg)
	case types.ModeConcurrent:
		runErr = s.runConcurrent(ctx, cfg, agg)
	case types.ModeBurst:
		runErr = s.runBurst(ctx, cfg, agg)
	case types.ModeDiscovery:
		maxSustainable, runErr = s.runDiscovery(ctx, cfg, agg)
	default:
		runErr = fmt.Errorf("unknown run mode: %s", cfg.Mode)
	}

	if runErr != nil && ctx.Err() == nil {
		s.setStatus(types.StatusError)
		return agg.Summarize(runID, cfg, startedAt, time.Now()), runErr
	}

	summary := agg.Summarize(runID, cfg, startedAt, time.Now())
	summary.MaxSustainableTPS = maxSustainable

	s.setStatus(types.StatusComplete)
	if s.prom != nil {
		s.prom.SetCurrentTPS(summary.ThroughputTPS)
	}

	for _, l := range s.listeners {
		l.OnRunCompleted(summary)
	}

	s.logger.Info("run completed",
		slog.String("runId", runID),
		slog.Uint64("attempts", summary.TotalAttempts),
		slog.Uint64("accepted", summary.Accepted),
		slog.Float64("tps", summary.ThroughputTPS),
		slog.Int64("peakInFlight", s.PeakInFlight()),
	)

	return summary, nil
}

func applyRunDefaults(cfg *types.RunConfig) {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.BurstSize <= 0 {
		cfg.BurstSize = DefaultBurstSize
	}
	if cfg.BurstInterval <= 0 {
		cfg.BurstInterval = DefaultBurstInterval
	}
	if cfg.LadderStart <= 0 {
		cfg.LadderStart = DefaultLadderStart
	}
	if cfg.LadderStep <= 0 {
		cfg.LadderStep = DefaultLadderStep
	}
	if cfg.RoundDuration <= 0 {
		cfg.RoundDuration = DefaultRoundDuration
	}
	if cfg.FailureThreshold <= 0 || cfg.FailureThreshold >= 1 {
		cfg.FailureThreshold = DefaultFailureThreshold
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = DefaultDrainTimeout
	}
}

// nextTask builds the next task, assigning accounts round-robin.
func (s *Scheduler) nextTask(operation string) *submitter.Task {
	id := s.taskSeq.Inc()
	return &submitter.Task{
		ID:        id,
		Account:   s.accounts[int(id)%len(s.accounts)],
		Operation: operation,
		CreatedAt: time.Now(),
	}
}

// dispatch runs one task to its terminal result and records it.
// Every dispatched task produces exactly one result.
func (s *Scheduler) dispatch(ctx context.Context, cfg types.RunConfig, agg *metrics.Aggregator, task *submitter.Task) types.AttemptResult {
	metrics.AtomicMax(&s.peakInFlight, s.inFlight.Inc())
	if s.prom != nil {
		s.prom.SetInFlight(s.inFlight.Load())
	}

	res := s.submitter.Submit(ctx, task)

	s.inFlight.SubSaturating(1)
	if s.prom != nil {
		s.prom.SetInFlight(s.inFlight.Load())
		s.prom.RecordAttempt(cfg.Network, res)
	}

	agg.Record(res)
	s.mu.Lock()
	listeners := s.listeners
	s.mu.Unlock()
	for _, l := range listeners {
		l.OnAttempt(res)
	}
	return res
}

// runSequential submits a fixed count one task at a time.
func (s *Scheduler) runSequential(ctx context.Context, cfg types.RunConfig, agg *metrics.Aggregator) error {
	for i := 0; i < cfg.Count; i++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.dispatch(ctx, cfg, agg, s.nextTask(cfg.Operation))
	}
	return nil
}

// runConcurrent submits a fixed count through a bounded worker pool.
func (s *Scheduler) runConcurrent(ctx context.Context, cfg types.RunConfig, agg *metrics.Aggregator) error {
	g := &errgroup.Group{}
	g.SetLimit(cfg.Concurrency)

	for i := 0; i < cfg.Count; i++ {
		if ctx.Err() != nil {
			break
		}
		task := s.nextTask(cfg.Operation)
		g.Go(func() error {
			s.dispatch(ctx, cfg, agg, task)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// runBurst alternates quiet intervals with bursts of simultaneous
// submissions until the configured duration elapses.
func (s *Scheduler) runBurst(ctx context.Context, cfg types.RunConfig, agg *metrics.Aggregator) error {
	runCtx, cancel := context.WithTimeout(ctx, cfg.Duration)
	defer cancel()

	submitCtx, cancelSubmit := context.WithCancel(ctx)
	defer cancelSubmit()

	var wg sync.WaitGroup
	defer s.drain(cfg, cancelSubmit, &wg)

	for {
		if runCtx.Err() != nil {
			return nil
		}

		for i := 0; i < cfg.BurstSize; i++ {
			task := s.nextTask(cfg.Operation)
			wg.Add(1)
			go func() {
				defer wg.Done()
				s.dispatch(submitCtx, cfg, agg, task)
			}()
		}

		select {
		case <-runCtx.Done():
			return nil
		case <-time.After(cfg.BurstInterval):
		}
	}
}

// drain waits for outstanding tasks, up to the drain timeout. Tasks
// still in flight when the timeout fires are cancelled and resolve as
// timed out, so every dispatched task still yields a terminal result.
func (s *Scheduler) drain(cfg types.RunConfig, cancelSubmit context.CancelFunc, wg *sync.WaitGroup) {
	s.setStatus(types.StatusDraining)

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(cfg.DrainTimeout):
		s.logger.Warn("drain timeout, cancelling outstanding tasks",
			slog.Int64("inFlight", s.inFlight.Load()),
		)
		cancelSubmit()
		<-done
	}
}

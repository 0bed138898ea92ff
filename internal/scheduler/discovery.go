package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gateway-fm/chainbench/internal/metrics"
	"github.com/gateway-fm/chainbench/internal/ratelimit"
	"github.com/gateway-fm/chainbench/pkg/types"
)

// runDiscovery climbs a rate ladder to find the maximum sustainable
// throughput. Each round dispatches at a fixed target rate for the round
// duration. The ladder stops when a round's failure rate crosses the
// threshold or its throughput fails to improve on the best round, and
// reports the last stable rate.
func (s *Scheduler) runDiscovery(ctx context.Context, cfg types.RunConfig, agg *metrics.Aggregator) (int, error) {
	limiter := ratelimit.New(float64(cfg.LadderStart))

	submitCtx, cancelSubmit := context.WithCancel(ctx)
	defer cancelSubmit()

	var wg sync.WaitGroup
	defer s.drain(cfg, cancelSubmit, &wg)

	var (
		rate    = cfg.LadderStart
		best    = 0.0
		bestTPS = 0
	)

	for {
		if ctx.Err() != nil {
			return bestTPS, nil
		}

		limiter.SetRate(float64(rate))
		if s.prom != nil {
			s.prom.SetTargetTPS(float64(rate))
		}

		round := metrics.NewAggregator()
		roundStart := time.Now()
		roundCtx, cancelRound := context.WithTimeout(ctx, cfg.RoundDuration)

		var roundWg sync.WaitGroup
		for {
			if err := limiter.Wait(roundCtx); err != nil {
				break
			}
			task := s.nextTask(cfg.Operation)
			wg.Add(1)
			roundWg.Add(1)
			go func() {
				defer wg.Done()
				defer roundWg.Done()
				res := s.dispatch(submitCtx, cfg, agg, task)
				round.Record(res)
			}()
		}
		cancelRound()

		// Let the round's stragglers land before judging it.
		waitSettle(&roundWg, cfg.DrainTimeout)

		elapsed := time.Since(roundStart).Seconds()
		throughput := 0.0
		if elapsed > 0 {
			throughput = float64(round.Accepted()) / elapsed
		}
		failureRate := round.FailureRate()

		s.logger.Info("discovery round",
			slog.Int("targetTps", rate),
			slog.Float64("observedTps", throughput),
			slog.Float64("failureRate", failureRate),
		)

		if failureRate > cfg.FailureThreshold {
			return bestTPS, nil
		}
		if throughput <= best && best > 0 {
			return bestTPS, nil
		}

		best = throughput
		bestTPS = rate
		rate += cfg.LadderStep
	}
}

// waitSettle blocks on the wait group up to the given timeout.
func waitSettle(wg *sync.WaitGroup, timeout time.Duration) {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
	}
}

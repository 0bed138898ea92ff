package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gateway-fm/chainbench/internal/submitter"
	"github.com/gateway-fm/chainbench/pkg/types"
)

// fakeSubmitter resolves tasks synthetically with a configurable delay
// and per-rate failure behavior.
type fakeSubmitter struct {
	delay time.Duration

	// capacityTPS > 0 simulates a network that saturates: acceptance
	// degrades once the observed arrival rate exceeds capacity.
	capacityTPS float64

	mu        sync.Mutex
	firstSeen time.Time
	submitted int64

	failEvery int64 // every Nth task is rejected
	calls     atomic.Int64
	inFlight  atomic.Int64
	peak      atomic.Int64
}

var _ TaskSubmitter = (*fakeSubmitter)(nil)

func (f *fakeSubmitter) Submit(ctx context.Context, task *submitter.Task) types.AttemptResult {
	n := f.calls.Add(1)

	cur := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		peak := f.peak.Load()
		if cur <= peak || f.peak.CompareAndSwap(peak, cur) {
			break
		}
	}

	if f.delay > 0 {
		select {
		case <-ctx.Done():
			return types.AttemptResult{
				TaskID:  task.ID,
				Account: task.Account,
				Outcome: types.OutcomeTimedOut,
				Class:   types.ErrClassTimeout,
			}
		case <-time.After(f.delay):
		}
	}

	if f.capacityTPS > 0 {
		// Judge the arrival rate over a short sliding window so rate
		// changes between rounds take effect quickly.
		f.mu.Lock()
		now := time.Now()
		if f.firstSeen.IsZero() || now.Sub(f.firstSeen) > 250*time.Millisecond {
			f.firstSeen = now
			f.submitted = 0
		}
		f.submitted++
		elapsed := now.Sub(f.firstSeen).Seconds()
		overloaded := elapsed > 0.05 && float64(f.submitted)/elapsed > f.capacityTPS
		f.mu.Unlock()
		if overloaded {
			return types.AttemptResult{
				TaskID:  task.ID,
				Account: task.Account,
				Outcome: types.OutcomeRejected,
				Class:   types.ErrClassRejected,
			}
		}
	}

	if f.failEvery > 0 && n%f.failEvery == 0 {
		return types.AttemptResult{
			TaskID:  task.ID,
			Account: task.Account,
			Outcome: types.OutcomeRejected,
			Class:   types.ErrClassRejected,
		}
	}

	return types.AttemptResult{
		TaskID:  task.ID,
		Account: task.Account,
		Outcome: types.OutcomeAccepted,
		Class:   types.ErrClassNone,
		GasUsed: 21000,
	}
}

// recordingListener captures events for assertions.
type recordingListener struct {
	mu        sync.Mutex
	started   []types.RunMeta
	attempts  []types.AttemptResult
	completed []types.RunSummary
}

var _ Listener = (*recordingListener)(nil)

func (r *recordingListener) OnRunStarted(meta types.RunMeta) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = append(r.started, meta)
}

func (r *recordingListener) OnAttempt(res types.AttemptResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts = append(r.attempts, res)
}

func (r *recordingListener) OnRunCompleted(summary types.RunSummary) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completed = append(r.completed, summary)
}

type noopSeeder struct{}

func (noopSeeder) SeedAll(ctx context.Context, addresses []string) error { return nil }

var testAccounts = []string{"0xaaa", "0xbbb", "0xccc"}

func newTestScheduler(t *testing.T, sub TaskSubmitter) *Scheduler {
	t.Helper()
	s, err := New(Config{
		Submitter: sub,
		Seeder:    noopSeeder{},
		Accounts:  testAccounts,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestRunSequential(t *testing.T) {
	fake := &fakeSubmitter{}
	s := newTestScheduler(t, fake)

	summary, err := s.Run(context.Background(), types.RunConfig{
		Network: "devnet",
		Mode:    types.ModeSequential,
		Count:   10,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.TotalAttempts != 10 || summary.Accepted != 10 {
		t.Errorf("unexpected summary: %+v", summary)
	}
	if s.Status() != types.StatusComplete {
		t.Errorf("expected complete status, got %s", s.Status())
	}
	// Sequential mode never overlaps submissions.
	if fake.peak.Load() != 1 {
		t.Errorf("expected peak concurrency 1, got %d", fake.peak.Load())
	}
	if s.PeakInFlight() != 1 {
		t.Errorf("expected peak in-flight 1, got %d", s.PeakInFlight())
	}
}

func TestRunConcurrentBoundedPool(t *testing.T) {
	fake := &fakeSubmitter{delay: 10 * time.Millisecond}
	s := newTestScheduler(t, fake)

	summary, err := s.Run(context.Background(), types.RunConfig{
		Network:     "devnet",
		Mode:        types.ModeConcurrent,
		Count:       20,
		Concurrency: 5,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.TotalAttempts != 20 {
		t.Errorf("expected 20 attempts, got %d", summary.TotalAttempts)
	}
	if summary.Accepted != 20 {
		t.Errorf("expected 20 accepted, got %d", summary.Accepted)
	}
	if peak := fake.peak.Load(); peak > 5 {
		t.Errorf("worker pool exceeded its bound: peak concurrency %d", peak)
	}
	if peak := s.PeakInFlight(); peak < 1 || peak > 5 {
		t.Errorf("peak in-flight %d outside worker pool bound", peak)
	}
	if summary.SuccessRate != 1 {
		t.Errorf("expected success rate 1, got %f", summary.SuccessRate)
	}
}

func TestRunRecordsFailuresByClass(t *testing.T) {
	fake := &fakeSubmitter{failEvery: 4}
	s := newTestScheduler(t, fake)

	summary, err := s.Run(context.Background(), types.RunConfig{
		Network: "devnet",
		Mode:    types.ModeSequential,
		Count:   20,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Failed != 5 {
		t.Errorf("expected 5 failures, got %d", summary.Failed)
	}
	if summary.FailureByClass[types.ErrClassRejected] != 5 {
		t.Errorf("expected 5 rejections, got %d", summary.FailureByClass[types.ErrClassRejected])
	}
	if summary.Accepted+summary.Failed != summary.TotalAttempts {
		t.Errorf("accepted+failed must equal total: %+v", summary)
	}
}

// Cancellation must conserve results: every dispatched task reaches a
// terminal outcome and accepted+failed equals the total.
func TestRunCancellationConservesResults(t *testing.T) {
	fake := &fakeSubmitter{delay: 5 * time.Millisecond}
	s := newTestScheduler(t, fake)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(25 * time.Millisecond)
		cancel()
	}()

	summary, _ := s.Run(ctx, types.RunConfig{
		Network:     "devnet",
		Mode:        types.ModeConcurrent,
		Count:       1000,
		Concurrency: 10,
	})

	if summary.TotalAttempts == 0 {
		t.Fatal("expected some attempts before cancellation")
	}
	if summary.TotalAttempts >= 1000 {
		t.Error("expected cancellation to stop dispatch early")
	}
	if summary.Accepted+summary.Failed != summary.TotalAttempts {
		t.Errorf("results not conserved: %d + %d != %d",
			summary.Accepted, summary.Failed, summary.TotalAttempts)
	}
	if got := int64(summary.TotalAttempts); got != fake.calls.Load() {
		t.Errorf("recorded %d results for %d dispatched tasks", got, fake.calls.Load())
	}
}

func TestRunBurstMode(t *testing.T) {
	fake := &fakeSubmitter{}
	s := newTestScheduler(t, fake)

	summary, err := s.Run(context.Background(), types.RunConfig{
		Network:       "devnet",
		Mode:          types.ModeBurst,
		Duration:      80 * time.Millisecond,
		BurstSize:     10,
		BurstInterval: 30 * time.Millisecond,
		DrainTimeout:  time.Second,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	// At least the first burst fires immediately.
	if summary.TotalAttempts < 10 {
		t.Errorf("expected at least one burst of 10, got %d attempts", summary.TotalAttempts)
	}
	if summary.TotalAttempts%10 != 0 {
		t.Errorf("expected attempts in whole bursts of 10, got %d", summary.TotalAttempts)
	}
}

// The discovery ladder must converge within one step of the simulated
// network's capacity.
func TestRunDiscoveryFindsCapacity(t *testing.T) {
	fake := &fakeSubmitter{capacityTPS: 130}
	s := newTestScheduler(t, fake)

	summary, err := s.Run(context.Background(), types.RunConfig{
		Network:          "devnet",
		Mode:             types.ModeDiscovery,
		LadderStart:      40,
		LadderStep:       40,
		RoundDuration:    300 * time.Millisecond,
		FailureThreshold: 0.20,
		DrainTimeout:     time.Second,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.MaxSustainableTPS < 40 || summary.MaxSustainableTPS > 160 {
		t.Errorf("expected max sustainable within one step of 120, got %d", summary.MaxSustainableTPS)
	}
}

func TestRunListenerEvents(t *testing.T) {
	fake := &fakeSubmitter{}
	s := newTestScheduler(t, fake)

	listener := &recordingListener{}
	s.AddListener(listener)

	if _, err := s.Run(context.Background(), types.RunConfig{
		Network: "devnet",
		Mode:    types.ModeSequential,
		Count:   5,
	}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	listener.mu.Lock()
	defer listener.mu.Unlock()
	if len(listener.started) != 1 {
		t.Errorf("expected 1 start event, got %d", len(listener.started))
	}
	if len(listener.attempts) != 5 {
		t.Errorf("expected 5 attempt events, got %d", len(listener.attempts))
	}
	if len(listener.completed) != 1 {
		t.Errorf("expected 1 completion event, got %d", len(listener.completed))
	}
	if listener.started[0].RunID != listener.completed[0].RunID {
		t.Error("start and completion events must share the run ID")
	}
}

func TestRunRejectsConcurrentRuns(t *testing.T) {
	fake := &fakeSubmitter{delay: 50 * time.Millisecond}
	s := newTestScheduler(t, fake)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = s.Run(context.Background(), types.RunConfig{
			Network: "devnet",
			Mode:    types.ModeSequential,
			Count:   4,
		})
	}()

	time.Sleep(20 * time.Millisecond)
	if _, err := s.Run(context.Background(), types.RunConfig{
		Network: "devnet",
		Mode:    types.ModeSequential,
		Count:   1,
	}); err == nil {
		t.Error("expected error for overlapping run")
	}
	wg.Wait()
}

func TestRoundRobinAccountAssignment(t *testing.T) {
	fake := &fakeSubmitter{}
	s := newTestScheduler(t, fake)
	listener := &recordingListener{}
	s.AddListener(listener)

	if _, err := s.Run(context.Background(), types.RunConfig{
		Network: "devnet",
		Mode:    types.ModeSequential,
		Count:   9,
	}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	seen := make(map[string]int)
	listener.mu.Lock()
	for _, res := range listener.attempts {
		seen[res.Account]++
	}
	listener.mu.Unlock()

	for _, acct := range testAccounts {
		if seen[acct] != 3 {
			t.Errorf("expected 3 tasks for %s, got %d", acct, seen[acct])
		}
	}
}
